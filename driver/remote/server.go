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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/ZaparooProject/go-nfcsession"
	"github.com/ZaparooProject/go-nfcsession/internal/syncutil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	maxMessageSize  = 64 * 1024
	registerTimeout = 10 * time.Second
	writeTimeout    = 5 * time.Second
	// HeartbeatInterval is how often a Relay sends a heartbeat. A device
	// silent for three intervals is dropped.
	HeartbeatInterval = 20 * time.Second
	readTimeout       = 3 * HeartbeatInterval
)

// ErrDeviceGone is reported to sessions of a device that disconnected.
var ErrDeviceGone = fmt.Errorf("%w: remote device disconnected", nfcsession.ErrUnavailable)

// DeviceInfo describes a registered device.
type DeviceInfo struct {
	ConnectedAt time.Time `json:"connectedAt"`
	LastSeen    time.Time `json:"lastSeen"`
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Platform    string    `json:"platform,omitempty"`
	Sessions    int       `json:"sessions"`
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerClock sets the clock used for device timestamps.
func WithServerClock(clock clockwork.Clock) ServerOption {
	return func(s *Server) {
		s.clock = clock
	}
}

// Server accepts device connections and exposes each device as a driver.
type Server struct {
	clock    clockwork.Clock
	validate *validator.Validate
	devices  map[string]*Device
	added    chan struct{}
	router   chi.Router
	upgrader websocket.Upgrader
	mu       syncutil.RWMutex
}

// NewServer creates a server. Mount Handler on an http.Server to accept
// devices.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		clock:    clockwork.NewRealClock(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		devices:  make(map[string]*Device),
		added:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Get("/ws", s.handleWebSocket)
	r.Get("/devices", s.handleDevices)
	s.router = r
	return s
}

// Handler returns the HTTP handler serving /ws and /devices.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Devices lists the connected devices ordered by connection time.
func (s *Server) Devices() []DeviceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DeviceInfo, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Device returns the connected device with the given id.
func (s *Server) Device(id string) (*Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	return d, ok
}

// WaitForDevice blocks until at least one device is connected and returns
// the earliest one.
func (s *Server) WaitForDevice(ctx context.Context) (*Device, error) {
	for {
		s.mu.RLock()
		var first *Device
		for _, d := range s.devices {
			if first == nil || d.connectedAt.Before(first.connectedAt) {
				first = d
			}
		}
		added := s.added
		s.mu.RUnlock()
		if first != nil {
			return first, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for remote device: %w", ctx.Err())
		case <-added:
		}
	}
}

// Close disconnects every device.
func (s *Server) Close() {
	s.mu.RLock()
	devices := make([]*Device, 0, len(s.devices))
	for _, d := range s.devices {
		devices = append(devices, d)
	}
	s.mu.RUnlock()
	for _, d := range devices {
		d.disconnect()
	}
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Devices()); err != nil {
		log.Error().Err(err).Msg("failed to encode device list")
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)
	log.Debug().Str("remote", r.RemoteAddr).Msg("device websocket connected")

	d, err := s.register(conn)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("device registration failed")
		_ = conn.Close()
		return
	}
	defer s.remove(d)

	d.readLoop()
}

func (s *Server) register(conn *websocket.Conn) (*Device, error) {
	_ = conn.SetReadDeadline(time.Now().Add(registerTimeout))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return nil, fmt.Errorf("failed to read registration: %w", err)
	}
	if env.Type != TypeRegister {
		return nil, fmt.Errorf("expected %s message, got %q", TypeRegister, env.Type)
	}
	reg, err := decode[RegisterPayload](env)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(reg); err != nil {
		return nil, fmt.Errorf("invalid registration: %w", err)
	}

	now := s.clock.Now()
	d := &Device{
		server:      s,
		conn:        conn,
		id:          uuid.NewString(),
		name:        reg.Name,
		platform:    reg.Platform,
		connectedAt: now,
		lastSeen:    now,
		sessions:    make(map[string]*remoteSession),
	}
	if err := d.send(TypeRegistered, RegisteredPayload{DeviceID: d.id}); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.devices[d.id] = d
	close(s.added)
	s.added = make(chan struct{})
	s.mu.Unlock()

	log.Info().Str("device", d.id).Str("name", d.name).Str("platform", d.platform).Msg("remote device registered")
	return d, nil
}

func (s *Server) remove(d *Device) {
	s.mu.Lock()
	delete(s.devices, d.id)
	s.mu.Unlock()
	d.disconnect()
	log.Info().Str("device", d.id).Msg("remote device disconnected")
}

type remoteSession struct {
	delegate   nfcsession.Delegate
	endsOnNdef bool
}

// Device is a remote reader. It implements nfcsession.Driver.
type Device struct {
	connectedAt time.Time
	lastSeen    time.Time
	server      *Server
	conn        *websocket.Conn
	sessions    map[string]*remoteSession
	id          string
	name        string
	platform    string
	mu          syncutil.Mutex
	writeMu     syncutil.Mutex
	gone        bool
}

var _ nfcsession.Driver = (*Device)(nil)

// ID returns the id the server assigned at registration.
func (d *Device) ID() string {
	return d.id
}

// Info returns a snapshot of the device state.
func (d *Device) Info() DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DeviceInfo{
		ID:          d.id,
		Name:        d.name,
		Platform:    d.platform,
		ConnectedAt: d.connectedAt,
		LastSeen:    d.lastSeen,
		Sessions:    len(d.sessions),
	}
}

// Available implements nfcsession.Driver.
func (d *Device) Available() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.gone
}

// BeginSession implements nfcsession.Driver.
func (d *Device) BeginSession(
	_ context.Context,
	req nfcsession.SessionRequest,
	delegate nfcsession.Delegate,
) (nfcsession.SessionHandle, error) {
	payload := BeginSessionPayload{
		SessionID:                uuid.NewString(),
		Kind:                     kindName(req.Kind),
		AlertMessage:             req.AlertMessage,
		Polling:                  uint8(req.Polling),
		InvalidateAfterFirstRead: req.InvalidateAfterFirstRead,
	}
	if req.IsWrite() {
		data, err := req.Write.Marshal()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", nfcsession.ErrWriteFailed, err)
		}
		payload.Write = data
	}

	d.mu.Lock()
	if d.gone {
		d.mu.Unlock()
		return nil, nfcsession.ErrUnavailable
	}
	d.sessions[payload.SessionID] = &remoteSession{
		delegate:   delegate,
		endsOnNdef: req.IsWrite() || req.InvalidateAfterFirstRead,
	}
	d.mu.Unlock()

	if err := d.send(TypeBeginSession, payload); err != nil {
		d.take(payload.SessionID)
		return nil, err
	}

	id := payload.SessionID
	return nfcsession.HandleFunc(func() {
		if d.take(id) == nil {
			return
		}
		if err := d.send(TypeInvalidate, InvalidatePayload{SessionID: id}); err != nil {
			log.Debug().Err(err).Str("device", d.id).Msg("failed to send invalidate")
		}
	}), nil
}

// take removes a session and returns it, or nil if it already ended.
func (d *Device) take(id string) *remoteSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	rs := d.sessions[id]
	delete(d.sessions, id)
	return rs
}

func (d *Device) lookup(id string, end bool) *remoteSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	rs := d.sessions[id]
	if rs != nil && end {
		delete(d.sessions, id)
	}
	return rs
}

func (d *Device) send(msgType string, payload any) error {
	env, err := encode(msgType, payload)
	if err != nil {
		return err
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_ = d.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := d.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("%w: failed to send %s: %w", nfcsession.ErrUnavailable, msgType, err)
	}
	return nil
}

func (d *Device) readLoop() {
	for {
		_ = d.conn.SetReadDeadline(time.Now().Add(readTimeout))
		var env Envelope
		if err := d.conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				log.Debug().Err(err).Str("device", d.id).Msg("device read ended")
			}
			return
		}
		d.touch()
		if err := d.dispatch(env); err != nil {
			log.Warn().Err(err).Str("device", d.id).Str("type", env.Type).Msg("bad device message")
		}
	}
}

func (d *Device) touch() {
	d.mu.Lock()
	d.lastSeen = d.server.clock.Now()
	d.mu.Unlock()
}

func (d *Device) dispatch(env Envelope) error {
	switch env.Type {
	case TypeHeartbeat:
		return d.send(TypeHeartbeat, nil)
	case TypeTagsDetected:
		p, err := decode[TagsDetectedPayload](env)
		if err != nil {
			return err
		}
		rs := d.lookup(p.SessionID, true)
		if rs == nil {
			return nil
		}
		tags := make([]nfcsession.RawTag, 0, len(p.Tags))
		for _, t := range p.Tags {
			tags = append(tags, t.raw())
		}
		rs.delegate.TagsDetected(tags)
	case TypeNdefDetected:
		p, err := decode[NdefDetectedPayload](env)
		if err != nil {
			return err
		}
		rs := d.lookup(p.SessionID, false)
		if rs == nil {
			return nil
		}
		messages, err := decodeMessages(p.Messages)
		if err != nil {
			d.take(p.SessionID)
			rs.delegate.SessionInvalidated(err)
			return err
		}
		if rs.endsOnNdef {
			d.take(p.SessionID)
		}
		rs.delegate.NdefDetected(p.Tag.raw(), messages)
	case TypeSessionError:
		p, err := decode[SessionErrorPayload](env)
		if err != nil {
			return err
		}
		if rs := d.take(p.SessionID); rs != nil {
			rs.delegate.SessionInvalidated(codeError(p))
		}
	default:
		return fmt.Errorf("unknown message type %q", env.Type)
	}
	return nil
}

// disconnect closes the connection and ends every open session.
func (d *Device) disconnect() {
	d.mu.Lock()
	if d.gone {
		d.mu.Unlock()
		return
	}
	d.gone = true
	sessions := d.sessions
	d.sessions = make(map[string]*remoteSession)
	d.mu.Unlock()

	d.writeMu.Lock()
	_ = d.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout),
	)
	d.writeMu.Unlock()
	_ = d.conn.Close()

	for _, rs := range sessions {
		rs.delegate.SessionInvalidated(ErrDeviceGone)
	}
}
