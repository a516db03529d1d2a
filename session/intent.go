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

// IntentKind tells the controller what a session is for.
type IntentKind int

const (
	IntentDiscoverTag IntentKind = iota
	IntentDiscoverNdef
	IntentWrite
	IntentErase
)

func (k IntentKind) String() string {
	switch k {
	case IntentDiscoverTag:
		return "discover-tag"
	case IntentDiscoverNdef:
		return "discover-ndef"
	case IntentWrite:
		return "write"
	case IntentErase:
		return "erase"
	default:
		return "unknown"
	}
}

// Intent is fixed when a session starts. Write and Erase carry the message
// that goes to the tag.
type Intent struct {
	message *ndef.Message
	kind    IntentKind
}

// DiscoverTag reports the identity of the first tag.
func DiscoverTag() Intent {
	return Intent{kind: IntentDiscoverTag}
}

// DiscoverNdef reads NDEF messages.
func DiscoverNdef() Intent {
	return Intent{kind: IntentDiscoverNdef}
}

// Write writes msg to the first writable tag.
func Write(msg *ndef.Message) Intent {
	return Intent{kind: IntentWrite, message: msg.Clone()}
}

// Erase replaces the tag content with the empty NDEF message.
func Erase() Intent {
	return Intent{kind: IntentErase, message: ndef.BuildEmptyMessage()}
}

// Kind returns the intent variant.
func (i Intent) Kind() IntentKind {
	return i.kind
}

// SessionKind maps the intent to the driver session it needs. Writes run
// on NDEF sessions.
func (i Intent) SessionKind() nfcsession.SessionKind {
	if i.kind == IntentDiscoverTag {
		return nfcsession.SessionDiscoverTag
	}
	return nfcsession.SessionDiscoverNdef
}

// SuppressesDelivery is true when driver events are consumed by the
// controller instead of reaching a listener.
func (i Intent) SuppressesDelivery() bool {
	return i.kind == IntentWrite || i.kind == IntentErase
}

// Message returns a copy of the outgoing message, nil for discovery.
func (i Intent) Message() *ndef.Message {
	return i.message.Clone()
}

func (i Intent) String() string {
	return i.kind.String()
}
