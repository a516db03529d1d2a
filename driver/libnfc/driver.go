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

// Package libnfc drives readers supported by libnfc, reading and writing
// NFC Forum Type 2 tags with raw page commands.
//
// The cgo binding lives behind the libnfc build tag. Without it the
// package still builds and Open reports ErrNotCompiled.
package libnfc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-nfcsession"
	"github.com/ZaparooProject/go-nfcsession/internal/syncutil"
	"github.com/ZaparooProject/go-nfcsession/pkg/ndef"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultPollInterval is the time between two target polls.
const DefaultPollInterval = 250 * time.Millisecond

// ErrNotCompiled is returned by Open when the binary was built without
// the libnfc tag.
var ErrNotCompiled = errors.New("libnfc support not compiled in")

// Target is an ISO 14443-A target selected by a poll.
type Target struct {
	UID []byte
	SAK byte
}

// Device is an opened libnfc device.
type Device interface {
	Transceiver
	// Poll selects the target in the field, if any.
	Poll() (*Target, error)
	Close() error
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock sets the clock driving the poll loop.
func WithClock(clock clockwork.Clock) Option {
	return func(d *Driver) {
		d.clock = clock
	}
}

// WithPollInterval sets the time between polls.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Driver) {
		d.interval = interval
	}
}

// Driver polls a libnfc device for tags.
type Driver struct {
	clock    clockwork.Clock
	device   Device
	current  *session
	interval time.Duration
	mu       syncutil.Mutex
	devMu    syncutil.Mutex
	closed   bool
}

var _ nfcsession.Driver = (*Driver)(nil)

// New builds a driver over an opened device.
func New(device Device, opts ...Option) *Driver {
	d := &Driver{
		device:   device,
		clock:    clockwork.NewRealClock(),
		interval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Available implements nfcsession.Driver.
func (d *Driver) Available() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed
}

// BeginSession implements nfcsession.Driver.
func (d *Driver) BeginSession(
	ctx context.Context,
	req nfcsession.SessionRequest,
	delegate nfcsession.Delegate,
) (nfcsession.SessionHandle, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, nfcsession.ErrUnavailable
	}
	prev := d.current
	d.mu.Unlock()

	if prev != nil {
		prev.Invalidate()
		if err := prev.wait(ctx); err != nil {
			return nil, err
		}
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		driver:   d,
		request:  req,
		delegate: delegate,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	d.mu.Lock()
	d.current = s
	d.mu.Unlock()

	go s.run(sessCtx)
	return s, nil
}

// Close stops the active session and closes the device.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	s := d.current
	d.mu.Unlock()

	if s != nil {
		s.Invalidate()
		if err := s.wait(ctx); err != nil {
			return err
		}
	}
	if err := d.device.Close(); err != nil {
		return fmt.Errorf("failed to close libnfc device: %w", err)
	}
	return nil
}

func (d *Driver) poll() (*Target, error) {
	d.devMu.Lock()
	defer d.devMu.Unlock()
	target, err := d.device.Poll()
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	return target, nil
}

func (d *Driver) read() (*ndef.Message, capability, error) {
	d.devMu.Lock()
	defer d.devMu.Unlock()
	return readMessage(d.device)
}

func (d *Driver) write(msg *ndef.Message) (capability, error) {
	d.devMu.Lock()
	defer d.devMu.Unlock()
	return writeMessage(d.device, msg)
}

type session struct {
	driver    *Driver
	delegate  nfcsession.Delegate
	cancel    context.CancelFunc
	done      chan struct{}
	request   nfcsession.SessionRequest
	lastUID   []byte
	cancelled bool
	mu        syncutil.Mutex
}

// Invalidate implements nfcsession.SessionHandle.
func (s *session) Invalidate() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.cancel()
}

func (s *session) wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for libnfc session to stop: %w", ctx.Err())
	}
}

func (s *session) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cancelled
}

func (s *session) run(ctx context.Context) {
	defer close(s.done)

	ticker := s.driver.clock.NewTicker(s.driver.interval)
	defer ticker.Stop()

	for {
		if s.tick() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

// tick polls once and reports whether the session is over.
func (s *session) tick() bool {
	if !s.live() {
		return true
	}

	target, err := s.driver.poll()
	if err != nil {
		log.Error().Err(err).Msg("libnfc poll failed")
		s.report(func() { s.delegate.SessionInvalidated(fmt.Errorf("%w: %w", nfcsession.ErrReadFailed, err)) })
		return true
	}
	if target == nil {
		s.lastUID = nil
		return false
	}
	if bytes.Equal(target.UID, s.lastUID) {
		return false
	}
	s.lastUID = append([]byte{}, target.UID...)

	raw := nfcsession.RawTag{
		Type:     "ISO14443A",
		UID:      append([]byte{}, target.UID...),
		TechList: []string{"NfcA"},
	}
	log.Info().Hex("uid", target.UID).Msg("libnfc tag detected")

	switch {
	case s.request.IsWrite():
		cc, err := s.driver.write(s.request.Write)
		if err != nil {
			log.Warn().Err(err).Msg("libnfc write failed")
			s.report(func() { s.delegate.SessionInvalidated(err) })
			return true
		}
		raw = withCapability(raw, cc)
		s.report(func() { s.delegate.NdefDetected(raw, []*ndef.Message{s.request.Write}) })
		return true
	case s.request.Kind == nfcsession.SessionDiscoverTag:
		if _, cc, err := s.driver.read(); err == nil {
			raw = withCapability(raw, cc)
		}
		s.report(func() { s.delegate.TagsDetected([]nfcsession.RawTag{raw}) })
		return true
	default:
		msg, cc, err := s.driver.read()
		if err != nil {
			s.report(func() { s.delegate.SessionInvalidated(err) })
			return true
		}
		raw = withCapability(raw, cc)
		s.report(func() { s.delegate.NdefDetected(raw, []*ndef.Message{msg}) })
		return s.request.InvalidateAfterFirstRead
	}
}

func (s *session) report(event func()) {
	if s.live() {
		event()
	}
}

func withCapability(raw nfcsession.RawTag, cc capability) nfcsession.RawTag {
	raw.TechList = []string{"NfcA", "MifareUltralight", "Ndef"}
	raw.MaxSize = cc.size
	raw.Writable = cc.writable
	raw.CanMakeReadOnly = cc.writable
	return raw
}
