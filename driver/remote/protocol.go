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

// Package remote lets a reader attached to another machine, a phone app
// for instance, serve sessions over a websocket.
//
// The Server side implements nfcsession.Driver for every registered
// device. Relay is the device side, exposing a local driver to a Server.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ZaparooProject/go-nfcsession"
	"github.com/ZaparooProject/go-nfcsession/pkg/ndef"
)

// Message types.
const (
	TypeRegister     = "register"
	TypeRegistered   = "registered"
	TypeBeginSession = "beginSession"
	TypeInvalidate   = "invalidate"
	TypeTagsDetected = "tagsDetected"
	TypeNdefDetected = "ndefDetected"
	TypeSessionError = "sessionError"
	TypeHeartbeat    = "heartbeat"
)

// Session error codes.
const (
	CodeCancelled   = "cancelled"
	CodeUnavailable = "unavailable"
	CodeDeviceGone  = "device_gone"
	CodeNotNDEF     = "not_ndef"
	CodeReadOnly    = "read_only"
	CodeTooSmall    = "too_small"
	CodeNoTag       = "no_tag"
	CodeReadFailed  = "read_failed"
	CodeWriteFailed = "write_failed"
	CodeInternal    = "internal"
)

var codeErrors = []struct {
	err  error
	code string
}{
	{nfcsession.ErrSessionCancelled, CodeCancelled},
	{ErrDeviceGone, CodeDeviceGone},
	{nfcsession.ErrUnavailable, CodeUnavailable},
	{nfcsession.ErrTagNotNDEF, CodeNotNDEF},
	{nfcsession.ErrTagReadOnly, CodeReadOnly},
	{nfcsession.ErrTagTooSmall, CodeTooSmall},
	{nfcsession.ErrNoTag, CodeNoTag},
	{nfcsession.ErrReadFailed, CodeReadFailed},
	{nfcsession.ErrWriteFailed, CodeWriteFailed},
}

// Envelope frames every websocket message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RegisterPayload is the first message a device sends.
type RegisterPayload struct {
	Name     string `json:"name" validate:"required,max=64"`
	Platform string `json:"platform,omitempty"`
}

// RegisteredPayload acknowledges a registration.
type RegisteredPayload struct {
	DeviceID string `json:"deviceId"`
}

// BeginSessionPayload starts a session on the device. Write holds the
// encoded NDEF message of a write session.
type BeginSessionPayload struct {
	SessionID                string `json:"sessionId"`
	Kind                     string `json:"kind" validate:"oneof=tag ndef"`
	AlertMessage             string `json:"alertMessage,omitempty"`
	Write                    []byte `json:"write,omitempty"`
	Polling                  uint8  `json:"polling,omitempty"`
	InvalidateAfterFirstRead bool   `json:"invalidateAfterFirstRead,omitempty"`
}

// InvalidatePayload ends a session.
type InvalidatePayload struct {
	SessionID string `json:"sessionId"`
}

// WireTag is a RawTag on the wire. UID is base64 encoded by encoding/json.
type WireTag struct {
	Type            string   `json:"type,omitempty"`
	UID             []byte   `json:"uid"`
	TechList        []string `json:"techList"`
	MaxSize         int      `json:"maxSize,omitempty"`
	Writable        bool     `json:"writable,omitempty"`
	CanMakeReadOnly bool     `json:"canMakeReadOnly,omitempty"`
}

// TagsDetectedPayload reports tags to a tag session.
type TagsDetectedPayload struct {
	SessionID string    `json:"sessionId"`
	Tags      []WireTag `json:"tags"`
}

// NdefDetectedPayload reports encoded NDEF messages read from a tag.
type NdefDetectedPayload struct {
	SessionID string   `json:"sessionId"`
	Messages  [][]byte `json:"messages"`
	Tag       WireTag  `json:"tag"`
}

// SessionErrorPayload ends a session with an error.
type SessionErrorPayload struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
}

func encode(msgType string, payload any) (Envelope, error) {
	env := Envelope{Type: msgType}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return env, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	env.Payload = data
	return env, nil
}

func decode[T any](env Envelope) (T, error) {
	var out T
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	return out, nil
}

func kindName(kind nfcsession.SessionKind) string {
	if kind == nfcsession.SessionDiscoverTag {
		return "tag"
	}
	return "ndef"
}

func kindFromName(name string) nfcsession.SessionKind {
	if name == "tag" {
		return nfcsession.SessionDiscoverTag
	}
	return nfcsession.SessionDiscoverNdef
}

func toWireTag(raw nfcsession.RawTag) WireTag {
	return WireTag{
		Type:            raw.Type,
		UID:             raw.UID,
		TechList:        raw.TechList,
		MaxSize:         raw.MaxSize,
		Writable:        raw.Writable,
		CanMakeReadOnly: raw.CanMakeReadOnly,
	}
}

func (w WireTag) raw() nfcsession.RawTag {
	return nfcsession.RawTag{
		Type:            w.Type,
		UID:             w.UID,
		TechList:        w.TechList,
		MaxSize:         w.MaxSize,
		Writable:        w.Writable,
		CanMakeReadOnly: w.CanMakeReadOnly,
	}
}

func encodeMessages(messages []*ndef.Message) ([][]byte, error) {
	out := make([][]byte, 0, len(messages))
	for _, msg := range messages {
		if msg.Len() == 0 {
			out = append(out, []byte{})
			continue
		}
		data, err := msg.Marshal()
		if err != nil {
			return nil, fmt.Errorf("failed to encode NDEF message: %w", err)
		}
		out = append(out, data)
	}
	return out, nil
}

func decodeMessages(encoded [][]byte) ([]*ndef.Message, error) {
	out := make([]*ndef.Message, 0, len(encoded))
	for _, data := range encoded {
		msg := &ndef.Message{}
		if len(data) > 0 {
			if _, err := msg.Unmarshal(data); err != nil {
				return nil, fmt.Errorf("%w: %w", nfcsession.ErrReadFailed, err)
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

// errorCode maps a session error to its wire code.
func errorCode(err error) string {
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return CodeInternal
}

// codeError rebuilds a session error from its wire form. A message that
// already starts with the sentinel text is not prefixed twice.
func codeError(p SessionErrorPayload) error {
	for _, ce := range codeErrors {
		if ce.code == p.Code {
			detail := strings.TrimPrefix(p.Message, ce.err.Error()+": ")
			if detail == "" || detail == ce.err.Error() {
				return ce.err
			}
			return fmt.Errorf("%w: %s", ce.err, detail)
		}
	}
	return fmt.Errorf("remote session error %s: %s", p.Code, p.Message)
}
