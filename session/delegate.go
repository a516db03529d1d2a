// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"github.com/ZaparooProject/go-nfcsession"
	"github.com/ZaparooProject/go-nfcsession/pkg/ndef"
)

// delegate forwards driver events for one session instance onto the
// controller scheduler. It never calls listeners itself.
type delegate struct {
	c  *Controller
	id string
}

var _ nfcsession.Delegate = (*delegate)(nil)

func (d *delegate) TagsDetected(tags []nfcsession.RawTag) {
	tags = append([]nfcsession.RawTag(nil), tags...)
	d.c.scheduler.Post(func() {
		d.c.handleTags(d.id, tags)
	})
}

func (d *delegate) NdefDetected(tag nfcsession.RawTag, messages []*ndef.Message) {
	messages = append([]*ndef.Message(nil), messages...)
	d.c.scheduler.Post(func() {
		d.c.handleNdef(d.id, tag, messages)
	})
}

func (d *delegate) SessionInvalidated(err error) {
	d.c.scheduler.Post(func() {
		d.c.handleInvalidated(d.id, err)
	})
}
