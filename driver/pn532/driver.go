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

// Package pn532 drives a PN532 reader through github.com/ZaparooProject/go-pn532.
//
// Each controller session runs its own polling session on the device.
// Discovery sessions report tags as the poller finds them, write sessions
// block on the next tag brought into the field.
package pn532

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZaparooProject/go-nfcsession"
	"github.com/ZaparooProject/go-nfcsession/internal/syncutil"
	"github.com/ZaparooProject/go-nfcsession/pkg/ndef"
	"github.com/ZaparooProject/go-pn532"
	"github.com/ZaparooProject/go-pn532/detection"
	_ "github.com/ZaparooProject/go-pn532/detection/uart" // register UART detector
	"github.com/ZaparooProject/go-pn532/polling"
	"github.com/ZaparooProject/go-pn532/tagops"
	"github.com/ZaparooProject/go-pn532/transport/i2c"
	"github.com/ZaparooProject/go-pn532/transport/spi"
	"github.com/ZaparooProject/go-pn532/transport/uart"
	"github.com/rs/zerolog/log"
)

const (
	deviceTimeout   = 100 * time.Millisecond
	detectTimeout   = 2 * time.Second
	ndefReadTimeout = 2 * time.Second
	// sessions have no timeout of their own, WriteToNextTag needs one
	writeWaitLimit = 24 * time.Hour
)

// Config selects the reader. An empty Path triggers auto-detection.
type Config struct {
	Transport string `toml:"transport" validate:"omitempty,oneof=uart i2c spi"`
	Path      string `toml:"path"`
}

// PollingSession is the part of polling.Session the driver uses.
type PollingSession interface {
	Start(ctx context.Context) error
	Close() error
	SetOnCardDetected(callback func(context.Context, *pn532.DetectedTag) error)
	// WriteNext writes msg to the next tag in the field and returns it. A
	// message without records erases the tag.
	WriteNext(ctx context.Context, msg *pn532.NDEFMessage) (nfcsession.RawTag, error)
}

// SessionFactory creates a polling session for one controller session.
type SessionFactory func() PollingSession

// NDEFReader reads the NDEF message of a tag the poller detected.
type NDEFReader func(ctx context.Context, tag *pn532.DetectedTag) (*ndef.Message, error)

// Driver is a PN532 radio.
type Driver struct {
	closeDevice func() error
	newSession  SessionFactory
	readNDEF    NDEFReader
	current     *session
	name        string
	mu          syncutil.Mutex
	closed      bool
}

var _ nfcsession.Driver = (*Driver)(nil)

// Open connects to the reader described by cfg.
func Open(ctx context.Context, cfg Config) (*Driver, error) {
	if cfg.Path == "" {
		found, err := Detect(ctx)
		if err != nil {
			return nil, err
		}
		cfg = found
	}
	if cfg.Transport == "" {
		cfg.Transport = "uart"
	}

	transport, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	device, err := pn532.New(transport)
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("failed to create PN532 device: %w", err)
	}
	if err := device.Init(ctx); err != nil {
		_ = device.Close()
		return nil, fmt.Errorf("failed to initialize PN532 device: %w", err)
	}
	if err := device.SetTimeout(deviceTimeout); err != nil {
		_ = device.Close()
		return nil, fmt.Errorf("failed to set device timeout: %w", err)
	}

	name := cfg.Transport + ":" + cfg.Path
	log.Info().Str("device", name).Msg("PN532 reader opened")
	return New(name, device.Close,
		func() PollingSession {
			return &realSession{session: polling.NewSession(device, polling.DefaultConfig())}
		},
		func(ctx context.Context, _ *pn532.DetectedTag) (*ndef.Message, error) {
			return readDeviceNDEF(ctx, device)
		},
	), nil
}

// New builds a driver from its parts. Open is the usual entry point.
func New(name string, closeDevice func() error, newSession SessionFactory, readNDEF NDEFReader) *Driver {
	return &Driver{
		name:        name,
		closeDevice: closeDevice,
		newSession:  newSession,
		readNDEF:    readNDEF,
	}
}

// Detect finds the first PN532 reader attached to the host.
func Detect(ctx context.Context) (Config, error) {
	opts := detection.DefaultOptions()
	opts.Timeout = detectTimeout
	opts.Mode = detection.Safe

	devices, err := detection.DetectAll(ctx, &opts)
	if err != nil {
		return Config{}, fmt.Errorf("PN532 detection failed: %w", err)
	}
	if len(devices) == 0 {
		return Config{}, fmt.Errorf("PN532 detection: %w", errNoReader)
	}
	return Config{Transport: devices[0].Transport, Path: devices[0].Path}, nil
}

var (
	errNoReader         = errors.New("no PN532 reader found")
	errEraseUnsupported = errors.New("erase is only supported on NTAG tags")
)

func newTransport(cfg Config) (pn532.Transport, error) {
	switch cfg.Transport {
	case "uart":
		transport, err := uart.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create UART transport: %w", err)
		}
		return transport, nil
	case "i2c":
		transport, err := i2c.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create I2C transport: %w", err)
		}
		return transport, nil
	case "spi":
		transport, err := spi.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SPI transport: %w", err)
		}
		return transport, nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Transport)
	}
}

func readDeviceNDEF(ctx context.Context, device *pn532.Device) (*ndef.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, ndefReadTimeout)
	defer cancel()

	ops := tagops.New(device)
	if err := ops.DetectTag(ctx); err != nil {
		return nil, fmt.Errorf("%w: detect tag: %w", nfcsession.ErrReadFailed, err)
	}
	msg, err := ops.ReadNDEF(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", nfcsession.ErrTagNotNDEF, err)
	}
	return fromPN532Message(msg), nil
}

// Name returns the transport and path of the reader.
func (d *Driver) Name() string {
	return d.name
}

// Available implements nfcsession.Driver.
func (d *Driver) Available() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed
}

// BeginSession implements nfcsession.Driver. The previous session is
// stopped first since the device runs one poller at a time.
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

	var writeMsg *pn532.NDEFMessage
	if req.IsWrite() {
		var err error
		if writeMsg, err = toPN532Message(req.Write); err != nil {
			return nil, err
		}
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		driver:   d,
		request:  req,
		delegate: delegate,
		polling:  d.newSession(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	d.mu.Lock()
	d.current = s
	d.mu.Unlock()

	log.Debug().
		Str("device", d.name).
		Str("kind", req.Kind.String()).
		Bool("write", req.IsWrite()).
		Msg("PN532 session starting")

	if req.IsWrite() {
		go s.runWrite(sessCtx, writeMsg)
	} else {
		s.polling.SetOnCardDetected(func(cardCtx context.Context, tag *pn532.DetectedTag) error {
			if sessCtx.Err() != nil {
				return nil
			}
			return s.onCard(cardCtx, tag)
		})
		go s.runPolling(sessCtx)
	}
	return s, nil
}

// Close stops the active session and releases the device.
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
	if d.closeDevice != nil {
		if err := d.closeDevice(); err != nil {
			return fmt.Errorf("failed to close PN532 device: %w", err)
		}
	}
	return nil
}

type session struct {
	driver    *Driver
	delegate  nfcsession.Delegate
	polling   PollingSession
	cancel    context.CancelFunc
	done      chan struct{}
	request   nfcsession.SessionRequest
	endOnce   sync.Once
	endedByUs bool
	mu        syncutil.Mutex
}

// Invalidate implements nfcsession.SessionHandle.
func (s *session) Invalidate() {
	s.mu.Lock()
	s.endedByUs = true
	s.mu.Unlock()
	s.cancel()
}

func (s *session) cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedByUs
}

func (s *session) wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for PN532 session to stop: %w", ctx.Err())
	}
}

// end reports a terminal event once and stops the poller.
func (s *session) end(report func()) {
	s.endOnce.Do(func() {
		if !s.cancelled() && report != nil {
			report()
		}
		s.cancel()
	})
}

func (s *session) runPolling(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if err := s.polling.Close(); err != nil {
			log.Debug().Err(err).Msg("PN532 session close")
		}
	}()

	err := s.polling.Start(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("device", s.driver.name).Msg("PN532 session ended with error")
		s.end(func() { s.delegate.SessionInvalidated(fmt.Errorf("%w: %w", nfcsession.ErrReadFailed, err)) })
		return
	}
	s.end(func() { s.delegate.SessionInvalidated(nfcsession.ErrSessionCancelled) })
}

func (s *session) onCard(ctx context.Context, detected *pn532.DetectedTag) error {
	if ctx.Err() != nil {
		return nil
	}
	raw := rawTag(detected.UID, detected.Type)
	log.Info().Str("uid", detected.UID).Str("type", string(detected.Type)).Msg("PN532 tag detected")

	if s.request.Kind == nfcsession.SessionDiscoverTag {
		s.end(func() { s.delegate.TagsDetected([]nfcsession.RawTag{raw}) })
		return nil
	}

	msg, err := s.driver.readNDEF(ctx, detected)
	if err != nil {
		s.end(func() { s.delegate.SessionInvalidated(err) })
		return nil
	}
	if s.request.InvalidateAfterFirstRead {
		s.end(func() { s.delegate.NdefDetected(raw, []*ndef.Message{msg}) })
		return nil
	}
	if !s.cancelled() {
		s.delegate.NdefDetected(raw, []*ndef.Message{msg})
	}
	return nil
}

func (s *session) runWrite(ctx context.Context, msg *pn532.NDEFMessage) {
	defer close(s.done)
	defer func() {
		if err := s.polling.Close(); err != nil {
			log.Debug().Err(err).Msg("PN532 session close")
		}
	}()

	raw, err := s.polling.WriteNext(ctx, msg)
	if ctx.Err() != nil {
		s.end(nil)
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("device", s.driver.name).Msg("PN532 write failed")
		s.end(func() { s.delegate.SessionInvalidated(fmt.Errorf("%w: %w", nfcsession.ErrWriteFailed, err)) })
		return
	}
	log.Info().Str("device", s.driver.name).Msg("wrote data to NFC tag")
	s.end(func() { s.delegate.NdefDetected(raw, []*ndef.Message{s.request.Write}) })
}

// realSession adapts polling.Session.
type realSession struct {
	session *polling.Session
}

func (s *realSession) Start(ctx context.Context) error {
	if err := s.session.Start(ctx); err != nil {
		return fmt.Errorf("failed to start polling session: %w", err)
	}
	return nil
}

func (s *realSession) Close() error {
	if err := s.session.Close(); err != nil {
		return fmt.Errorf("failed to close polling session: %w", err)
	}
	return nil
}

func (s *realSession) SetOnCardDetected(callback func(context.Context, *pn532.DetectedTag) error) {
	s.session.SetOnCardDetected(callback)
}

func (s *realSession) WriteNext(ctx context.Context, msg *pn532.NDEFMessage) (nfcsession.RawTag, error) {
	var raw nfcsession.RawTag
	err := s.session.WriteToNextTag(ctx, ctx, writeWaitLimit, func(writeCtx context.Context, tag pn532.Tag) error {
		if len(msg.Records) == 0 {
			if err := eraseTag(writeCtx, tag); err != nil {
				return err
			}
		} else if err := tag.WriteNDEF(writeCtx, msg); err != nil {
			return fmt.Errorf("failed to write NDEF to tag: %w", err)
		}
		raw = rawTag(tag.UID(), tag.Type())
		return nil
	})
	if err != nil {
		return nfcsession.RawTag{}, fmt.Errorf("failed to write to tag: %w", err)
	}
	return raw, nil
}

// eraseTag writes the empty record directly to the NTAG user pages.
func eraseTag(ctx context.Context, tag pn532.Tag) error {
	if tag.Type() != pn532.TagTypeNTAG {
		return fmt.Errorf("%w: %s", errEraseUnsupported, tag.Type())
	}
	pages, err := erasePages()
	if err != nil {
		return err
	}
	for i, page := range pages {
		if err := tag.WriteBlock(ctx, uint8(ntagUserPage+i), page); err != nil { //nolint:gosec // a few pages
			return fmt.Errorf("failed to erase page %d: %w", ntagUserPage+i, err)
		}
	}
	return nil
}
