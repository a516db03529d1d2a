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

// Package session implements the tag-session controller.
//
// A Controller runs at most one driver session at a time. Starting a
// listener or a write always invalidates the previous session first, and
// results reach listeners through the controller Scheduler, never from a
// driver goroutine.
package session

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ZaparooProject/go-nfcsession"
	"github.com/ZaparooProject/go-nfcsession/internal/syncutil"
	"github.com/ZaparooProject/go-nfcsession/pkg/ndef"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Scan hints passed to the driver for write sessions.
const (
	WriteScanHint = "Hold near writable NFC tag to update."
	EraseScanHint = "Hold near writable NFC tag to erase."
)

// TagResult is delivered to tag listeners. Err is a
// *nfcsession.SessionInvalidatedError when the session failed.
type TagResult struct {
	Err error
	Tag nfcsession.TagInfo
}

// NdefResult is delivered to NDEF listeners. Err is a
// *nfcsession.SessionInvalidatedError when the session failed.
type NdefResult struct {
	Err  error
	Data nfcsession.NdefData
}

// instance is one session from begin to invalidation.
type instance struct {
	handle   nfcsession.SessionHandle
	onTag    func(TagResult)
	onNdef   func(NdefResult)
	done     chan error
	intent   Intent
	id       string
	opts     ListenerOptions
	state    State
	stopping bool
}

// finish reports the outcome to a waiting caller, first outcome wins.
func (s *instance) finish(err error) {
	if s.done == nil {
		return
	}
	select {
	case s.done <- err:
	default:
	}
}

// Controller owns the session with the radio driver.
type Controller struct {
	driver    nfcsession.Driver
	scheduler Scheduler
	clock     clockwork.Clock
	loop      *MainLoop
	current   *instance
	logger    zerolog.Logger
	mu        syncutil.RWMutex
	closed    atomic.Bool
}

// New creates a controller for driver. Without WithScheduler the
// controller starts its own MainLoop, stop it with Close.
func New(driver nfcsession.Driver, opts ...Option) *Controller {
	c := &Controller{
		driver: driver,
		clock:  clockwork.NewRealClock(),
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "nfc-session").Logger()
	if c.scheduler == nil {
		c.loop = NewMainLoop(c.logger)
		c.scheduler = c.loop
	}
	return c
}

// Available reports whether the driver has a radio.
func (c *Controller) Available() bool {
	return c.driver.Available()
}

// Enabled reports whether the radio is switched on.
func (c *Controller) Enabled() bool {
	return nfcsession.Enabled(c.driver)
}

// State returns the state of the most recent session instance.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return StateIdle
	}
	return c.current.state
}

// ActiveIntent returns the intent of the active session.
func (c *Controller) ActiveIntent() (Intent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil || c.current.state != StateActive {
		return Intent{}, false
	}
	return c.current.intent, true
}

// SessionID returns the id of the most recent session instance, empty
// before the first session.
func (c *Controller) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return ""
	}
	return c.current.id
}

// ListenForTags starts a tag discovery session delivering to cb. A nil cb
// removes the listener by invalidating the active session. The call
// returns once the driver has begun scanning.
func (c *Controller) ListenForTags(ctx context.Context, cb func(TagResult), opts ListenerOptions) error {
	if !c.driver.Available() {
		return nfcsession.ErrUnavailable
	}
	if cb == nil {
		c.InvalidateSession()
		return nil
	}
	_, err := c.begin(ctx, &instance{intent: DiscoverTag(), opts: opts, onTag: cb})
	return err
}

// ListenForNdef starts an NDEF discovery session delivering to cb, with
// the same contract as ListenForTags.
func (c *Controller) ListenForNdef(ctx context.Context, cb func(NdefResult), opts ListenerOptions) error {
	if !c.driver.Available() {
		return nfcsession.ErrUnavailable
	}
	if cb == nil {
		c.InvalidateSession()
		return nil
	}
	_, err := c.begin(ctx, &instance{intent: DiscoverNdef(), opts: opts, onNdef: cb})
	return err
}

// WriteTag starts a session that writes the records of opts to the next
// writable tag. Completion and failures are not reported to the caller,
// use WriteTagAndWait for that. Options without any records are rejected
// with ndef.ErrEmptyMessage before a session starts; use EraseTag to clear
// a tag.
func (c *Controller) WriteTag(ctx context.Context, opts ndef.WriteOptions) error {
	_, err := c.startWrite(ctx, opts, nil)
	return err
}

// EraseTag starts a session that writes the empty NDEF message to the
// next writable tag.
func (c *Controller) EraseTag(ctx context.Context) error {
	_, err := c.startErase(ctx, nil)
	return err
}

// WriteTagAndWait is WriteTag blocking until the driver reports the
// outcome. When ctx ends first the session is invalidated. Empty options
// fail with ndef.ErrEmptyMessage as in WriteTag.
func (c *Controller) WriteTagAndWait(ctx context.Context, opts ndef.WriteOptions) error {
	done := make(chan error, 1)
	id, err := c.startWrite(ctx, opts, done)
	if err != nil {
		return err
	}
	return c.wait(ctx, id, done)
}

// EraseTagAndWait is EraseTag blocking until the driver reports the
// outcome.
func (c *Controller) EraseTagAndWait(ctx context.Context) error {
	done := make(chan error, 1)
	id, err := c.startErase(ctx, done)
	if err != nil {
		return err
	}
	return c.wait(ctx, id, done)
}

// InvalidateSession tears down the active session. It is a no-op when no
// session is active.
func (c *Controller) InvalidateSession() {
	c.mu.Lock()
	id := ""
	if c.current != nil {
		id = c.current.id
	}
	h, ok := c.detachLocked(nfcsession.ErrSessionCancelled)
	c.mu.Unlock()

	if !ok {
		return
	}
	invalidateHandle(h)
	c.logger.Debug().Str("session", id).Msg("session invalidated")
}

// Close invalidates the active session and stops the owned main loop.
// Later calls return nfcsession.ErrSessionClosed.
func (c *Controller) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.InvalidateSession()
	if c.loop != nil {
		if err := c.loop.Stop(ctx); err != nil {
			return fmt.Errorf("close session controller: %w", err)
		}
	}
	return nil
}

func (c *Controller) startWrite(ctx context.Context, opts ndef.WriteOptions, done chan error) (string, error) {
	if !c.driver.Available() {
		return "", nfcsession.ErrUnavailable
	}
	if err := ndef.ValidateWriteOptions(opts); err != nil {
		return "", fmt.Errorf("write tag: %w", err)
	}
	msg := ndef.BuildMessage(opts)
	if msg.Len() == 0 {
		return "", fmt.Errorf("write tag: %w", ndef.ErrEmptyMessage)
	}
	return c.begin(ctx, &instance{
		intent: Write(msg),
		opts:   ListenerOptions{ScanHint: WriteScanHint},
		done:   done,
	})
}

func (c *Controller) startErase(ctx context.Context, done chan error) (string, error) {
	if !c.driver.Available() {
		return "", nfcsession.ErrUnavailable
	}
	return c.begin(ctx, &instance{
		intent: Erase(),
		opts:   ListenerOptions{ScanHint: EraseScanHint},
		done:   done,
	})
}

func (c *Controller) wait(ctx context.Context, id string, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.invalidate(id)
		return fmt.Errorf("waiting for tag: %w", ctx.Err())
	}
}

// begin makes inst the current session and asks the driver to start it.
// The previous session is invalidated before the driver is called.
func (c *Controller) begin(ctx context.Context, inst *instance) (string, error) {
	if c.closed.Load() {
		return "", nfcsession.ErrSessionClosed
	}
	inst.id = uuid.NewString()
	inst.state = StateActive

	c.mu.Lock()
	prev, superseded := c.detachLocked(nfcsession.ErrSessionCancelled)
	c.current = inst
	c.mu.Unlock()
	if superseded {
		invalidateHandle(prev)
	}

	req := nfcsession.SessionRequest{
		Kind:                     inst.intent.SessionKind(),
		AlertMessage:             inst.opts.ScanHint,
		InvalidateAfterFirstRead: inst.opts.StopAfterFirstRead,
		Write:                    inst.intent.Message(),
	}
	if req.Kind == nfcsession.SessionDiscoverTag {
		req.Polling = nfcsession.DefaultTagPolling
	}

	handle, err := c.driver.BeginSession(ctx, req, &delegate{c: c, id: inst.id})

	c.mu.Lock()
	if err != nil {
		inst.state = StateInvalidated
		c.mu.Unlock()
		return "", fmt.Errorf("begin %s session: %w", inst.intent, err)
	}
	inst.handle = handle
	live := inst.state == StateActive
	c.mu.Unlock()

	if !live {
		// invalidated while the driver was starting
		invalidateHandle(handle)
	}

	c.logger.Debug().
		Str("session", inst.id).
		Str("intent", inst.intent.String()).
		Str("hint", inst.opts.ScanHint).
		Msg("session started")
	return inst.id, nil
}

// detachLocked invalidates the current session in place, reporting err to
// a waiter, and returns the driver handle for the caller to release after
// unlocking.
func (c *Controller) detachLocked(err error) (nfcsession.SessionHandle, bool) {
	inst := c.current
	if inst == nil || inst.state != StateActive {
		return nil, false
	}
	inst.state = StateInvalidated
	inst.finish(err)
	return inst.handle, true
}

// liveLocked returns the current instance if id names it and it still
// accepts driver events.
func (c *Controller) liveLocked(id string) (*instance, bool) {
	inst := c.current
	if inst == nil || inst.id != id || inst.state != StateActive || inst.stopping {
		return nil, false
	}
	return inst, true
}

func (c *Controller) invalidate(id string) {
	c.mu.Lock()
	if c.current == nil || c.current.id != id {
		c.mu.Unlock()
		return
	}
	h, ok := c.detachLocked(nfcsession.ErrSessionCancelled)
	c.mu.Unlock()
	if ok {
		invalidateHandle(h)
		c.logger.Debug().Str("session", id).Msg("session invalidated")
	}
}

func (c *Controller) handleTags(id string, tags []nfcsession.RawTag) {
	c.mu.Lock()
	inst, ok := c.liveLocked(id)
	if !ok || inst.intent.Kind() != IntentDiscoverTag || len(tags) == 0 {
		c.mu.Unlock()
		c.logger.Debug().Str("session", id).Int("tags", len(tags)).Msg("ignoring tag event")
		return
	}
	info := nfcsession.NewTagInfo(tags[0], c.clock.Now())
	h, _ := c.detachLocked(nil)
	cb := inst.onTag
	c.mu.Unlock()

	// tag sessions are single shot
	invalidateHandle(h)
	c.logger.Debug().Str("session", id).Str("uid", info.UIDString()).Msg("tag detected")
	cb(TagResult{Tag: info})
}

func (c *Controller) handleNdef(id string, tag nfcsession.RawTag, messages []*ndef.Message) {
	c.mu.Lock()
	inst, ok := c.liveLocked(id)
	if !ok || inst.intent.Kind() == IntentDiscoverTag {
		c.mu.Unlock()
		c.logger.Debug().Str("session", id).Msg("ignoring NDEF event")
		return
	}

	if inst.intent.SuppressesDelivery() {
		h, _ := c.detachLocked(nil)
		c.mu.Unlock()
		invalidateHandle(h)
		c.logger.Info().Str("session", id).Str("intent", inst.intent.String()).Msg("wrote data to NFC tag")
		return
	}

	var first *ndef.Message
	if len(messages) > 0 {
		first = messages[0]
	}
	data := nfcsession.NewNdefData(tag, first, c.clock.Now())
	stop := inst.opts.StopAfterFirstRead
	if stop {
		inst.stopping = true
	}
	cb := inst.onNdef
	c.mu.Unlock()

	c.logger.Debug().Str("session", id).Int("records", len(data.Message)).Msg("NDEF message read")
	cb(NdefResult{Data: data})
	if stop {
		c.scheduler.Post(func() {
			c.invalidate(id)
		})
	}
}

func (c *Controller) handleInvalidated(id string, err error) {
	if err == nil {
		err = nfcsession.ErrSessionCancelled
	}
	sie := &nfcsession.SessionInvalidatedError{Err: err, SessionID: id}

	c.mu.Lock()
	inst, ok := c.liveLocked(id)
	if !ok {
		c.mu.Unlock()
		c.logger.Debug().Err(err).Str("session", id).Msg("ignoring invalidation of inactive session")
		return
	}
	h, _ := c.detachLocked(sie)
	onTag, onNdef := inst.onTag, inst.onNdef
	c.mu.Unlock()
	invalidateHandle(h)

	if inst.intent.SuppressesDelivery() {
		c.logger.Warn().Err(err).Str("session", id).Msgf("%s session failed", inst.intent)
		return
	}
	c.logger.Debug().Err(err).Str("session", id).Msg("session invalidated by driver")
	switch {
	case onTag != nil:
		onTag(TagResult{Err: sie})
	case onNdef != nil:
		onNdef(NdefResult{Err: sie})
	}
}

func invalidateHandle(h nfcsession.SessionHandle) {
	if h != nil {
		h.Invalidate()
	}
}
