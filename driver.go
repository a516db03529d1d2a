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

// Package nfcsession defines the contract between the tag-session
// controller and the NFC radio drivers that perform the actual scans.
//
// A Driver begins one session per request and reports what it found
// through a Delegate. The controller in the session package owns at
// most one driver session at a time.
package nfcsession

import (
	"context"
	"strings"

	"github.com/ZaparooProject/go-nfcsession/pkg/ndef"
)

// SessionKind selects the kind of scan a driver performs.
type SessionKind int

const (
	// SessionDiscoverTag reports the identity of the first tag in the field.
	SessionDiscoverTag SessionKind = iota
	// SessionDiscoverNdef reads the NDEF message of tags in the field.
	SessionDiscoverNdef
)

func (k SessionKind) String() string {
	switch k {
	case SessionDiscoverTag:
		return "discover-tag"
	case SessionDiscoverNdef:
		return "discover-ndef"
	default:
		return "unknown"
	}
}

// PollingOption is a bit set of the RF technologies a tag session polls.
type PollingOption uint8

const (
	PollISO14443 PollingOption = 1 << iota
	PollISO15693
	PollISO18092
)

// DefaultTagPolling is used for every tag discovery session.
const DefaultTagPolling = PollISO14443 | PollISO15693

// Has reports whether all bits of opt are set.
func (p PollingOption) Has(opt PollingOption) bool {
	return p&opt == opt
}

func (p PollingOption) String() string {
	var parts []string
	if p.Has(PollISO14443) {
		parts = append(parts, "iso14443")
	}
	if p.Has(PollISO15693) {
		parts = append(parts, "iso15693")
	}
	if p.Has(PollISO18092) {
		parts = append(parts, "iso18092")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// SessionRequest describes a session the controller wants a driver to run.
//
// When Write is non-nil the driver writes it to the first writable tag it
// finds and reports completion with NdefDetected carrying the written
// message. A write of a message whose only record is TNF Empty erases
// the tag.
type SessionRequest struct {
	// Write is the outgoing message for write and erase sessions.
	Write *ndef.Message
	// AlertMessage is advisory text a driver may show while scanning.
	AlertMessage string
	Kind         SessionKind
	// Polling applies to SessionDiscoverTag only.
	Polling PollingOption
	// InvalidateAfterFirstRead asks the driver to end an NDEF session
	// on its own after the first message.
	InvalidateAfterFirstRead bool
}

// IsWrite reports whether the request writes to a tag.
func (r SessionRequest) IsWrite() bool {
	return r.Write != nil
}

// RawTag is a tag as reported by a driver, before the controller turns it
// into application data. Fields other than UID are optional.
type RawTag struct {
	Type            string
	UID             []byte
	TechList        []string
	MaxSize         int
	Writable        bool
	CanMakeReadOnly bool
}

// Delegate receives driver events for one session. Implementations must
// not block, drivers call them from their own goroutines.
type Delegate interface {
	// TagsDetected ends a tag discovery session.
	TagsDetected(tags []RawTag)
	// NdefDetected reports the messages read from tag. Continuous NDEF
	// sessions may report more than once.
	NdefDetected(tag RawTag, messages []*ndef.Message)
	// SessionInvalidated ends the session with err. A nil err means the
	// driver ended the session without a failure.
	SessionInvalidated(err error)
}

// SessionHandle tears down a session that a driver has begun. Invalidate
// must be safe to call more than once and from any goroutine.
type SessionHandle interface {
	Invalidate()
}

// Driver is an NFC radio able to run discovery and write sessions.
type Driver interface {
	// Available reports whether the radio is present.
	Available() bool
	// BeginSession starts a session and returns once the radio is
	// scanning. Events arrive later through d.
	BeginSession(ctx context.Context, req SessionRequest, d Delegate) (SessionHandle, error)
}

// EnabledReporter is implemented by drivers that distinguish between a
// present radio and one the user has switched on.
type EnabledReporter interface {
	Enabled() bool
}

// Enabled reports whether d is switched on, falling back to Available
// for drivers that do not implement EnabledReporter.
func Enabled(d Driver) bool {
	if er, ok := d.(EnabledReporter); ok {
		return er.Enabled()
	}
	return d.Available()
}

// HandleFunc adapts a function to SessionHandle.
type HandleFunc func()

// Invalidate calls f.
func (f HandleFunc) Invalidate() {
	f()
}
