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

// Package sim is an in-memory NFC radio with virtual Type 2 tags.
//
// Tests and demos put tags in the field with Present and take them away
// with Remove. Every active session sees a tag when it enters the field
// and when a session begins while the tag is already there.
package sim

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-nfcsession"
	"github.com/ZaparooProject/go-nfcsession/internal/syncutil"
	"github.com/ZaparooProject/go-nfcsession/pkg/ndef"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Alert messages set on a session when it completes.
const (
	AlertRead  = "Tag successfully read."
	AlertWrite = "Wrote data to NFC tag."
)

// Option configures a Driver.
type Option func(*Driver)

// WithClock sets the clock used by PresentAfter.
func WithClock(clock clockwork.Clock) Option {
	return func(d *Driver) {
		d.clock = clock
	}
}

// WithoutRadio makes the driver report that no radio is present.
func WithoutRadio() Option {
	return func(d *Driver) {
		d.available.Store(false)
	}
}

// WithCancelEvents makes sessions report nfcsession.ErrSessionCancelled
// through their delegate when the controller invalidates them, the way
// platform radio stacks do.
func WithCancelEvents() Option {
	return func(d *Driver) {
		d.cancelEvents = true
	}
}

// Driver is a simulated radio.
type Driver struct {
	clock        clockwork.Clock
	beginErr     error
	sessions     []*Session
	field        []*Tag
	requests     []nfcsession.SessionRequest
	wg           sync.WaitGroup
	mu           syncutil.Mutex
	available    atomic.Bool
	enabled      atomic.Bool
	cancelEvents bool
}

var (
	_ nfcsession.Driver          = (*Driver)(nil)
	_ nfcsession.EnabledReporter = (*Driver)(nil)
)

// New creates a simulated radio that is present and switched on.
func New(opts ...Option) *Driver {
	d := &Driver{clock: clockwork.NewRealClock()}
	d.available.Store(true)
	d.enabled.Store(true)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Available implements nfcsession.Driver.
func (d *Driver) Available() bool {
	return d.available.Load()
}

// Enabled implements nfcsession.EnabledReporter.
func (d *Driver) Enabled() bool {
	return d.available.Load() && d.enabled.Load()
}

// SetEnabled switches the simulated radio on or off.
func (d *Driver) SetEnabled(enabled bool) {
	d.enabled.Store(enabled)
}

// FailNextBegin makes the next BeginSession call return err.
func (d *Driver) FailNextBegin(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.beginErr = err
}

// BeginSession implements nfcsession.Driver. Tags already in the field are
// scanned on a separate goroutine after BeginSession returns.
func (d *Driver) BeginSession(
	ctx context.Context,
	req nfcsession.SessionRequest,
	delegate nfcsession.Delegate,
) (nfcsession.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // context error passthrough
	}

	d.mu.Lock()
	if err := d.beginErr; err != nil {
		d.beginErr = nil
		d.mu.Unlock()
		return nil, err
	}
	s := &Session{driver: d, request: req, delegate: delegate}
	s.request.Write = req.Write.Clone()
	d.sessions = append(d.sessions, s)
	d.requests = append(d.requests, req)
	present := slices.Clone(d.field)
	d.mu.Unlock()

	log.Debug().
		Str("kind", req.Kind.String()).
		Bool("write", req.IsWrite()).
		Str("alert", req.AlertMessage).
		Msg("sim: session begun")

	if len(present) > 0 {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for _, tag := range present {
				s.scan(tag)
			}
		}()
	}
	return s, nil
}

// Present puts tag in the field and scans it with every active session on
// the calling goroutine.
func (d *Driver) Present(tag *Tag) {
	d.mu.Lock()
	if !slices.Contains(d.field, tag) {
		d.field = append(d.field, tag)
	}
	sessions := slices.Clone(d.sessions)
	d.mu.Unlock()

	for _, s := range sessions {
		s.scan(tag)
	}
}

// PresentAfter presents tag once delay has passed on the driver clock.
func (d *Driver) PresentAfter(delay time.Duration, tag *Tag) clockwork.Timer {
	return d.clock.AfterFunc(delay, func() {
		d.Present(tag)
	})
}

// Remove takes tag out of the field.
func (d *Driver) Remove(tag *Tag) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.field = slices.DeleteFunc(d.field, func(t *Tag) bool { return t == tag })
}

// Fail ends every active session with err.
func (d *Driver) Fail(err error) {
	d.mu.Lock()
	sessions := slices.Clone(d.sessions)
	d.mu.Unlock()

	for _, s := range sessions {
		if s.end() {
			s.delegate.SessionInvalidated(err)
		}
	}
}

// ActiveSessions returns the number of sessions not yet ended.
func (d *Driver) ActiveSessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// Requests returns every request passed to BeginSession, oldest first.
func (d *Driver) Requests() []nfcsession.SessionRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.requests)
}

// Wait blocks until scans started by BeginSession have finished.
func (d *Driver) Wait() {
	d.wg.Wait()
}

func (d *Driver) remove(s *Session) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.sessions)
	d.sessions = slices.DeleteFunc(d.sessions, func(x *Session) bool { return x == s })
	return len(d.sessions) != n
}

// Session is one simulated radio session.
type Session struct {
	driver      *Driver
	delegate    nfcsession.Delegate
	alert       string
	request     nfcsession.SessionRequest
	invalidated atomic.Int32
	mu          syncutil.Mutex
	scanMu      syncutil.Mutex
}

// Invalidate implements nfcsession.SessionHandle.
func (s *Session) Invalidate() {
	s.invalidated.Add(1)
	if s.end() && s.driver.cancelEvents {
		s.delegate.SessionInvalidated(nfcsession.ErrSessionCancelled)
	}
}

// Invalidations returns how often Invalidate was called.
func (s *Session) Invalidations() int {
	return int(s.invalidated.Load())
}

// Alert returns the alert message the session shows.
func (s *Session) Alert() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alert == "" {
		return s.request.AlertMessage
	}
	return s.alert
}

// Request returns the request the session was begun with.
func (s *Session) Request() nfcsession.SessionRequest {
	return s.request
}

// end removes the session from the driver, reporting whether it was
// still active.
func (s *Session) end() bool {
	return s.driver.remove(s)
}

func (s *Session) active() bool {
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()
	return slices.Contains(s.driver.sessions, s)
}

func (s *Session) setAlert(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alert = msg
}

// scan runs the session against one tag in the field.
func (s *Session) scan(tag *Tag) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	if !s.active() {
		return
	}

	switch {
	case s.request.IsWrite():
		s.write(tag)
	case s.request.Kind == nfcsession.SessionDiscoverTag:
		if s.end() {
			s.setAlert(AlertRead)
			s.delegate.TagsDetected([]nfcsession.RawTag{tag.Raw()})
		}
	default:
		s.read(tag)
	}
}

func (s *Session) write(tag *Tag) {
	err := tag.WriteMessage(s.request.Write)
	if !s.end() {
		return
	}
	if err != nil {
		log.Debug().Err(err).Str("uid", tag.UIDString()).Msg("sim: write failed")
		s.delegate.SessionInvalidated(err)
		return
	}
	s.setAlert(AlertWrite)
	s.delegate.NdefDetected(tag.Raw(), []*ndef.Message{s.request.Write.Clone()})
}

func (s *Session) read(tag *Tag) {
	msg, err := tag.ReadMessage()
	if err != nil {
		if s.end() {
			s.delegate.SessionInvalidated(err)
		}
		return
	}
	if s.request.InvalidateAfterFirstRead && !s.end() {
		return
	}
	s.setAlert(AlertRead)
	s.delegate.NdefDetected(tag.Raw(), []*ndef.Message{msg})
}
