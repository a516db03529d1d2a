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

package nfcsession

import (
	"errors"
	"fmt"
)

// Call-time errors
var (
	// ErrUnavailable is returned when the radio is not present.
	ErrUnavailable = errors.New("NFC is not available on this device")
)

// Session errors reported by drivers through Delegate.SessionInvalidated
var (
	ErrSessionCancelled = errors.New("session cancelled")
	ErrSessionClosed    = errors.New("session controller is closed")

	// Tag errors - not retried by the controller
	ErrTagNotNDEF  = errors.New("Tag is not NDEF compliant") //nolint:revive,staticcheck // user facing text
	ErrTagReadOnly = errors.New("Tag is read only")           //nolint:revive,staticcheck // user facing text
	ErrTagTooSmall = errors.New("tag capacity too small for message")
	ErrWriteFailed = errors.New("write NDEF message failed")
	ErrReadFailed  = errors.New("read NDEF message failed")
	ErrNoTag       = errors.New("no tag in field")
)

// SessionInvalidatedError is delivered to a listener in place of data when
// its session ended with an error.
type SessionInvalidatedError struct {
	Err       error
	SessionID string
}

func (e *SessionInvalidatedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("session %s invalidated", e.SessionID)
	}
	return fmt.Sprintf("session %s invalidated: %v", e.SessionID, e.Err)
}

func (e *SessionInvalidatedError) Unwrap() error {
	return e.Err
}

// IsTagError reports whether err is caused by the tag rather than the radio.
func IsTagError(err error) bool {
	return errors.Is(err, ErrTagNotNDEF) ||
		errors.Is(err, ErrTagReadOnly) ||
		errors.Is(err, ErrTagTooSmall)
}
