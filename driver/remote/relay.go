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

package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-nfcsession"
	"github.com/ZaparooProject/go-nfcsession/internal/syncutil"
	"github.com/ZaparooProject/go-nfcsession/pkg/ndef"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithHeartbeat sets the heartbeat interval.
func WithHeartbeat(interval time.Duration) RelayOption {
	return func(r *Relay) {
		r.heartbeat = interval
	}
}

// WithRelayClock sets the clock driving heartbeats.
func WithRelayClock(clock clockwork.Clock) RelayOption {
	return func(r *Relay) {
		r.clock = clock
	}
}

// Relay serves a local driver to a remote Server.
type Relay struct {
	driver    nfcsession.Driver
	clock     clockwork.Clock
	conn      *websocket.Conn
	handles   map[string]nfcsession.SessionHandle
	reg       RegisterPayload
	deviceID  string
	heartbeat time.Duration
	mu        syncutil.Mutex
	writeMu   syncutil.Mutex
}

// NewRelay creates a relay registering under name.
func NewRelay(driver nfcsession.Driver, name, platform string, opts ...RelayOption) *Relay {
	r := &Relay{
		driver:    driver,
		clock:     clockwork.NewRealClock(),
		heartbeat: HeartbeatInterval,
		reg:       RegisterPayload{Name: name, Platform: platform},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DeviceID returns the id assigned by the server, empty before
// registration.
func (r *Relay) DeviceID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deviceID
}

// Run connects to url and serves sessions until ctx is done or the server
// goes away. It returns nil when ctx ends the relay.
func (r *Relay) Run(ctx context.Context, url string) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	conn.SetReadLimit(maxMessageSize)

	r.mu.Lock()
	r.conn = conn
	r.handles = make(map[string]nfcsession.SessionHandle)
	r.mu.Unlock()
	defer r.invalidateAll()

	if err := r.register(); err != nil {
		_ = conn.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		r.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout),
		)
		r.writeMu.Unlock()
		_ = conn.Close()
		return nil
	})
	g.Go(func() error {
		return r.heartbeatLoop(gctx)
	})
	g.Go(func() error {
		return r.readLoop(ctx)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (r *Relay) register() error {
	if err := r.send(TypeRegister, r.reg); err != nil {
		return err
	}
	_ = r.conn.SetReadDeadline(time.Now().Add(registerTimeout))
	var env Envelope
	if err := r.conn.ReadJSON(&env); err != nil {
		return fmt.Errorf("failed to read registration reply: %w", err)
	}
	_ = r.conn.SetReadDeadline(time.Time{})
	if env.Type != TypeRegistered {
		return fmt.Errorf("expected %s message, got %q", TypeRegistered, env.Type)
	}
	p, err := decode[RegisteredPayload](env)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.deviceID = p.DeviceID
	r.mu.Unlock()
	log.Info().Str("device", p.DeviceID).Msg("relay registered")
	return nil
}

func (r *Relay) heartbeatLoop(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if err := r.send(TypeHeartbeat, nil); err != nil {
				return err
			}
		}
	}
}

// readLoop returns an error once the connection closes. The errgroup
// cancels the other goroutines.
func (r *Relay) readLoop(ctx context.Context) error {
	for {
		var env Envelope
		if err := r.conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("relay connection closed")
			}
			return fmt.Errorf("relay read failed: %w", err)
		}

		switch env.Type {
		case TypeBeginSession:
			p, err := decode[BeginSessionPayload](env)
			if err != nil {
				log.Warn().Err(err).Msg("relay: bad beginSession")
				continue
			}
			r.begin(ctx, p)
		case TypeInvalidate:
			p, err := decode[InvalidatePayload](env)
			if err != nil {
				log.Warn().Err(err).Msg("relay: bad invalidate")
				continue
			}
			if h := r.take(p.SessionID); h != nil {
				h.Invalidate()
			}
		case TypeHeartbeat:
		default:
			log.Warn().Str("type", env.Type).Msg("relay: unknown message type")
		}
	}
}

func (r *Relay) begin(ctx context.Context, p BeginSessionPayload) {
	req := nfcsession.SessionRequest{
		Kind:                     kindFromName(p.Kind),
		AlertMessage:             p.AlertMessage,
		Polling:                  nfcsession.PollingOption(p.Polling),
		InvalidateAfterFirstRead: p.InvalidateAfterFirstRead,
	}
	if len(p.Write) > 0 {
		msg := &ndef.Message{}
		if _, err := msg.Unmarshal(p.Write); err != nil {
			r.sendError(p.SessionID, fmt.Errorf("%w: %w", nfcsession.ErrWriteFailed, err))
			return
		}
		req.Write = msg
	}

	// hold the lock so delegate events cannot race the handle into the map
	r.mu.Lock()
	defer r.mu.Unlock()
	h, err := r.driver.BeginSession(ctx, req, &relayDelegate{relay: r, id: p.SessionID})
	if err != nil {
		r.sendError(p.SessionID, err)
		return
	}
	r.handles[p.SessionID] = h
}

func (r *Relay) take(id string) nfcsession.SessionHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.handles[id]
	delete(r.handles, id)
	return h
}

func (r *Relay) invalidateAll() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]nfcsession.SessionHandle)
	r.mu.Unlock()
	for _, h := range handles {
		h.Invalidate()
	}
}

func (r *Relay) send(msgType string, payload any) error {
	env, err := encode(msgType, payload)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = r.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := r.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to send %s: %w", msgType, err)
	}
	return nil
}

func (r *Relay) sendError(id string, err error) {
	if err == nil {
		err = nfcsession.ErrSessionCancelled
	}
	p := SessionErrorPayload{SessionID: id, Code: errorCode(err), Message: err.Error()}
	if sendErr := r.send(TypeSessionError, p); sendErr != nil {
		log.Debug().Err(sendErr).Msg("relay: failed to send session error")
	}
}

// relayDelegate forwards driver events of one session to the server.
type relayDelegate struct {
	relay *Relay
	id    string
}

func (d *relayDelegate) TagsDetected(tags []nfcsession.RawTag) {
	d.relay.take(d.id)
	wire := make([]WireTag, 0, len(tags))
	for _, t := range tags {
		wire = append(wire, toWireTag(t))
	}
	if err := d.relay.send(TypeTagsDetected, TagsDetectedPayload{SessionID: d.id, Tags: wire}); err != nil {
		log.Debug().Err(err).Msg("relay: failed to forward tags")
	}
}

func (d *relayDelegate) NdefDetected(tag nfcsession.RawTag, messages []*ndef.Message) {
	encoded, err := encodeMessages(messages)
	if err != nil {
		d.relay.take(d.id)
		d.relay.sendError(d.id, fmt.Errorf("%w: %w", nfcsession.ErrReadFailed, err))
		return
	}
	p := NdefDetectedPayload{SessionID: d.id, Tag: toWireTag(tag), Messages: encoded}
	if err := d.relay.send(TypeNdefDetected, p); err != nil {
		log.Debug().Err(err).Msg("relay: failed to forward NDEF")
	}
}

func (d *relayDelegate) SessionInvalidated(err error) {
	if d.relay.take(d.id) == nil {
		return
	}
	d.relay.sendError(d.id, err)
}
