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
	"encoding/json"
	"time"

	"github.com/ZaparooProject/go-nfcsession/pkg/bytecodec"
	"github.com/ZaparooProject/go-nfcsession/pkg/ndef"
)

// TagInfo identifies a discovered tag.
type TagInfo struct {
	DetectedAt time.Time
	UID        []byte
	TechList   []string
}

// NewTagInfo copies the identity fields of raw.
func NewTagInfo(raw RawTag, at time.Time) TagInfo {
	return TagInfo{
		DetectedAt: at,
		UID:        append([]byte{}, raw.UID...),
		TechList:   append([]string{}, raw.TechList...),
	}
}

// UIDString returns the UID as lowercase hex.
func (t TagInfo) UIDString() string {
	return bytecodec.BytesToHexString(t.UID)
}

type tagInfoJSON struct {
	ID       []int    `json:"id"`
	TechList []string `json:"techList"`
}

// MarshalJSON renders the UID as an array of byte values.
func (t TagInfo) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(tagInfoJSON{ID: byteValues(t.UID), TechList: nonNil(t.TechList)})
	if err != nil {
		return nil, err //nolint:wrapcheck // encoding passthrough
	}
	return data, nil
}

// NdefData is the result of reading the NDEF message of a tag.
type NdefData struct {
	DetectedAt      time.Time
	Type            string
	UID             []byte
	TechList        []string
	Message         []ndef.DecodedRecord
	MaxSize         int
	Writable        bool
	CanMakeReadOnly bool
}

// NewNdefData decodes msg and attaches the tag fields of raw.
func NewNdefData(raw RawTag, msg *ndef.Message, at time.Time) NdefData {
	return NdefData{
		DetectedAt:      at,
		Type:            raw.Type,
		UID:             append([]byte{}, raw.UID...),
		TechList:        append([]string{}, raw.TechList...),
		Message:         ndef.DecodeMessage(msg),
		MaxSize:         raw.MaxSize,
		Writable:        raw.Writable,
		CanMakeReadOnly: raw.CanMakeReadOnly,
	}
}

// Tag returns the identity part of d.
func (d NdefData) Tag() TagInfo {
	return TagInfo{DetectedAt: d.DetectedAt, UID: d.UID, TechList: d.TechList}
}

type ndefDataJSON struct {
	Type            string               `json:"type,omitempty"`
	ID              []int                `json:"id"`
	TechList        []string             `json:"techList"`
	Message         []ndef.DecodedRecord `json:"message"`
	MaxSize         int                  `json:"maxSize,omitempty"`
	Writable        bool                 `json:"writable,omitempty"`
	CanMakeReadOnly bool                 `json:"canMakeReadOnly,omitempty"`
}

// MarshalJSON renders d in the shape applications consume.
func (d NdefData) MarshalJSON() ([]byte, error) {
	msg := d.Message
	if msg == nil {
		msg = []ndef.DecodedRecord{}
	}
	data, err := json.Marshal(ndefDataJSON{
		Type:            d.Type,
		ID:              byteValues(d.UID),
		TechList:        nonNil(d.TechList),
		Message:         msg,
		MaxSize:         d.MaxSize,
		Writable:        d.Writable,
		CanMakeReadOnly: d.CanMakeReadOnly,
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // encoding passthrough
	}
	return data, nil
}

func byteValues(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
