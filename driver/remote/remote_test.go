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
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ZaparooProject/go-nfcsession"
	"github.com/ZaparooProject/go-nfcsession/driver/sim"
	"github.com/ZaparooProject/go-nfcsession/pkg/ndef"
	"github.com/ZaparooProject/go-nfcsession/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTimeout  = 2 * time.Second
	pollInterval = 5 * time.Millisecond
)

type ndefEvent struct {
	tag      nfcsession.RawTag
	messages []*ndef.Message
}

type recorder struct {
	tags        chan []nfcsession.RawTag
	ndef        chan ndefEvent
	invalidated chan error
}

func newRecorder() *recorder {
	return &recorder{
		tags:        make(chan []nfcsession.RawTag, 8),
		ndef:        make(chan ndefEvent, 8),
		invalidated: make(chan error, 8),
	}
}

func (r *recorder) TagsDetected(tags []nfcsession.RawTag) { r.tags <- tags }

func (r *recorder) NdefDetected(tag nfcsession.RawTag, messages []*ndef.Message) {
	r.ndef <- ndefEvent{tag: tag, messages: messages}
}

func (r *recorder) SessionInvalidated(err error) { r.invalidated <- err }

func receive[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testTimeout):
		var zero T
		t.Fatal("timed out waiting for event")
		return zero
	}
}

type harness struct {
	runErr   error
	server   *Server
	http     *httptest.Server
	radio    *sim.Driver
	device   *Device
	cancel   context.CancelFunc
	finished chan struct{}
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		server: NewServer(),
		radio:    sim.New(),
		finished: make(chan struct{}),
	}
	h.http = httptest.NewServer(h.server.Handler())

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	relay := NewRelay(h.radio, "test phone", "sim")
	go func() {
		defer close(h.finished)
		h.runErr = relay.Run(ctx, wsURL(h.http))
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), testTimeout)
	defer waitCancel()
	device, err := h.server.WaitForDevice(waitCtx)
	require.NoError(t, err)
	h.device = device

	require.Eventually(t, func() bool { return relay.DeviceID() == device.ID() }, testTimeout, pollInterval)

	t.Cleanup(func() {
		h.stop(t)
		h.server.Close()
		h.http.Close()
	})
	return h
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case <-h.finished:
		assert.NoError(t, h.runErr)
	case <-time.After(testTimeout):
		t.Fatal("relay did not stop")
	}
}

func (h *harness) waitSessions(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.radio.ActiveSessions() == n }, testTimeout, pollInterval)
}

func TestRelayRegisters(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	devices := h.server.Devices()
	require.Len(t, devices, 1)
	assert.Equal(t, "test phone", devices[0].Name)
	assert.Equal(t, "sim", devices[0].Platform)
	assert.True(t, h.device.Available())

	got, ok := h.server.Device(h.device.ID())
	require.True(t, ok)
	assert.Same(t, h.device, got)

	resp, err := http.Get(h.http.URL + "/devices") //nolint:noctx // test request
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var listed []DeviceInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	require.Len(t, listed, 1)
	assert.Equal(t, h.device.ID(), listed[0].ID)
}

func TestRemoteTagSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tag := sim.NewTag(sim.NTAG213, []byte{0x04, 0x99, 0x88})
	h.radio.Present(tag)

	rec := newRecorder()
	_, err := h.device.BeginSession(context.Background(), nfcsession.SessionRequest{
		Kind:         nfcsession.SessionDiscoverTag,
		AlertMessage: "Hold your phone near a tag",
	}, rec)
	require.NoError(t, err)

	tags := receive(t, rec.tags)
	require.Len(t, tags, 1)
	assert.Equal(t, tag.UID(), tags[0].UID)
	assert.Equal(t, sim.NTAG213.Name, tags[0].Type)
	assert.Equal(t, "Hold your phone near a tag", h.radio.Requests()[0].AlertMessage)
	assert.Equal(t, 0, h.device.Info().Sessions)
}

func TestRemoteWrite(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := newRecorder()
	msg := ndef.BuildMessage(ndef.WriteOptions{URIRecords: []ndef.URIRecordSpec{{URI: "https://zaparoo.org"}}})

	_, err := h.device.BeginSession(context.Background(), nfcsession.SessionRequest{
		Kind:  nfcsession.SessionDiscoverNdef,
		Write: msg,
	}, rec)
	require.NoError(t, err)
	h.waitSessions(t, 1)

	tag := sim.NewTag(sim.NTAG215, nil)
	h.radio.Present(tag)

	ev := receive(t, rec.ndef)
	require.Len(t, ev.messages, 1)
	uri, ok := ndef.DecodeRecord(ev.messages[0].Records[0]).URI()
	require.True(t, ok)
	assert.Equal(t, "https://zaparoo.org", uri)

	stored, err := tag.ReadMessage()
	require.NoError(t, err)
	uri, ok = ndef.DecodeRecord(stored.Records[0]).URI()
	require.True(t, ok)
	assert.Equal(t, "https://zaparoo.org", uri)
}

func TestRemoteSessionError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tag := sim.NewTag(sim.NTAG213, nil)
	tag.SetReadOnly(true)
	h.radio.Present(tag)

	rec := newRecorder()
	_, err := h.device.BeginSession(context.Background(), nfcsession.SessionRequest{
		Kind:  nfcsession.SessionDiscoverNdef,
		Write: ndef.BuildEmptyMessage(),
	}, rec)
	require.NoError(t, err)

	require.ErrorIs(t, receive(t, rec.invalidated), nfcsession.ErrTagReadOnly)
}

func TestRemoteBeginFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.radio.FailNextBegin(nfcsession.ErrUnavailable)

	rec := newRecorder()
	_, err := h.device.BeginSession(context.Background(), nfcsession.SessionRequest{
		Kind: nfcsession.SessionDiscoverTag,
	}, rec)
	require.NoError(t, err)

	require.ErrorIs(t, receive(t, rec.invalidated), nfcsession.ErrUnavailable)
}

func TestRemoteInvalidate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := newRecorder()

	handle, err := h.device.BeginSession(context.Background(), nfcsession.SessionRequest{
		Kind: nfcsession.SessionDiscoverNdef,
	}, rec)
	require.NoError(t, err)
	h.waitSessions(t, 1)

	handle.Invalidate()
	handle.Invalidate()
	h.waitSessions(t, 0)
	assert.Empty(t, rec.invalidated)
}

func TestDeviceDisconnect(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := newRecorder()

	_, err := h.device.BeginSession(context.Background(), nfcsession.SessionRequest{
		Kind: nfcsession.SessionDiscoverNdef,
	}, rec)
	require.NoError(t, err)
	h.waitSessions(t, 1)

	h.stop(t)

	err = receive(t, rec.invalidated)
	require.ErrorIs(t, err, ErrDeviceGone)
	require.ErrorIs(t, err, nfcsession.ErrUnavailable)
	assert.False(t, h.device.Available())
	require.Eventually(t, func() bool { return len(h.server.Devices()) == 0 }, testTimeout, pollInterval)
	h.waitSessions(t, 0)

	_, err = h.device.BeginSession(context.Background(), nfcsession.SessionRequest{}, rec)
	require.ErrorIs(t, err, nfcsession.ErrUnavailable)
}

func TestRegistrationRejected(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	tests := []struct {
		name string
		env  Envelope
	}{
		{name: "wrong type", env: Envelope{Type: TypeHeartbeat}},
		{name: "missing name", env: Envelope{Type: TypeRegister, Payload: json.RawMessage(`{"name":""}`)}},
		{name: "bad payload", env: Envelope{Type: TypeRegister, Payload: json.RawMessage(`[1]`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
			require.NoError(t, err)
			_ = resp.Body.Close()
			defer func() { _ = conn.Close() }()

			require.NoError(t, conn.WriteJSON(tt.env))
			_ = conn.SetReadDeadline(time.Now().Add(testTimeout))
			var reply Envelope
			require.Error(t, conn.ReadJSON(&reply))
			assert.Empty(t, srv.Devices())
		})
	}
}

func TestServerHeartbeat(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()

	env, err := encode(TypeRegister, RegisterPayload{Name: "raw client"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))

	var reply Envelope
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, TypeRegistered, reply.Type)
	reg, err := decode[RegisteredPayload](reply)
	require.NoError(t, err)
	_, err = uuid.Parse(reg.DeviceID)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(Envelope{Type: TypeHeartbeat}))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, TypeHeartbeat, reply.Type)
}

func TestControllerOverRemoteDevice(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	c := session.New(h.device, session.WithLogger(zerolog.Nop()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		assert.NoError(t, c.Close(ctx))
	})

	tag := sim.NewTag(sim.NTAG213, nil)
	go func() {
		assert.Eventually(t, func() bool { return h.radio.ActiveSessions() == 1 }, testTimeout, pollInterval)
		h.radio.Present(tag)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, c.WriteTagAndWait(ctx, ndef.WriteOptions{
		TextRecords: []ndef.TextRecordSpec{{Text: "**launch.random:psx"}},
	}))

	got, err := tag.ReadMessage()
	require.NoError(t, err)
	text, ok := ndef.DecodeRecord(got.Records[0]).Text()
	require.True(t, ok)
	assert.Equal(t, "**launch.random:psx", text)

	h.radio.Remove(tag)
	h.waitSessions(t, 0)

	results := make(chan session.NdefResult, 4)
	require.NoError(t, c.ListenForNdef(ctx, func(r session.NdefResult) { results <- r },
		session.ListenerOptions{StopAfterFirstRead: true}))
	h.waitSessions(t, 1)
	h.radio.Present(tag)

	res := receive(t, results)
	require.NoError(t, res.Err)
	assert.Equal(t, tag.UID(), res.Data.UID)
	require.Len(t, res.Data.Message, 1)
	assert.Equal(t, "**launch.random:psx", res.Data.Message[0].PayloadAsString)
}

//nolint:funlen // table-driven test
func TestErrorCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		is   error
		name string
		code string
	}{
		{name: "not ndef", err: nfcsession.ErrTagNotNDEF, code: CodeNotNDEF},
		{name: "read only", err: nfcsession.ErrTagReadOnly, code: CodeReadOnly},
		{name: "too small", err: nfcsession.ErrTagTooSmall, code: CodeTooSmall},
		{name: "cancelled", err: nfcsession.ErrSessionCancelled, code: CodeCancelled},
		{name: "unavailable", err: nfcsession.ErrUnavailable, code: CodeUnavailable},
		{name: "device gone", err: ErrDeviceGone, code: CodeDeviceGone},
		{
			name: "wrapped",
			err:  fmt.Errorf("%w: page 4", nfcsession.ErrReadFailed),
			is:   nfcsession.ErrReadFailed,
			code: CodeReadFailed,
		},
		{name: "internal", err: errors.New("boom"), code: CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			code := errorCode(tt.err)
			assert.Equal(t, tt.code, code)
			back := codeError(SessionErrorPayload{Code: code, Message: tt.err.Error()})
			if code == CodeInternal {
				assert.Contains(t, back.Error(), tt.err.Error())
				return
			}
			want := tt.is
			if want == nil {
				want = tt.err
			}
			require.ErrorIs(t, back, want)
			assert.Equal(t, tt.err.Error(), back.Error())
		})
	}
}

func TestEncodeMessages(t *testing.T) {
	t.Parallel()

	in := []*ndef.Message{
		{},
		ndef.BuildEmptyMessage(),
		ndef.BuildMessage(ndef.WriteOptions{TextRecords: []ndef.TextRecordSpec{{Text: "x"}}}),
	}
	encoded, err := encodeMessages(in)
	require.NoError(t, err)
	require.Len(t, encoded, 3)
	assert.Empty(t, encoded[0])

	out, err := decodeMessages(encoded)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, 0, out[0].Len())
	assert.True(t, ndef.IsEmptyMessage(out[1]))
	assert.Equal(t, 1, out[2].Len())

	_, err = decodeMessages([][]byte{{0xD1}})
	require.ErrorIs(t, err, nfcsession.ErrReadFailed)
}
