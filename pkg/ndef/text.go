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

package ndef

import (
	"encoding/binary"
	"errors"
	"unicode/utf16"

	"github.com/ZaparooProject/go-nfcsession/pkg/bytecodec"
)

// DefaultLanguageCode is used when a text record has no language code.
const DefaultLanguageCode = "en"

const (
	textUTF16Flag     = 0x80
	textLangCodeMask  = 0x3F
	maxLanguageLength = 63
)

// Text record errors.
var (
	ErrTextPayloadTooShort  = errors.New("ndef: text payload too short")
	ErrTextPayloadTruncated = errors.New("ndef: text payload truncated")
)

// TextRecordSpec is the input for BuildTextRecord.
type TextRecordSpec struct {
	Text         string `json:"text" toml:"text"`
	LanguageCode string `json:"languageCode,omitempty" toml:"language_code,omitempty" validate:"omitempty,langtag"`
	ID           []byte `json:"id,omitempty" toml:"id,omitempty" validate:"max=255"`
}

// TextContent is the decoded body of a text record.
type TextContent struct {
	Text     string
	Language string
	UTF16    bool
}

// BuildTextRecord encodes spec as a well-known "T" record. The payload is a
// length byte holding the byte length of the language code, followed by the
// encoded language code and text.
func BuildTextRecord(spec TextRecordSpec) *Record {
	lang := spec.LanguageCode
	if lang == "" {
		lang = DefaultLanguageCode
	}

	langLen := len(bytecodec.TextToBytes(lang))
	body := bytecodec.TextToBytes(lang + spec.Text)

	payload := make([]byte, 0, 1+len(body))
	payload = append(payload, byte(langLen))
	payload = append(payload, body...)

	return &Record{
		TNF:     TNFWellKnown,
		Type:    []byte{TypeText},
		ID:      cloneBytes(spec.ID),
		Payload: payload,
	}
}

// ParseText decodes a text record payload, honouring the UTF-16 flag in the
// status byte.
func ParseText(payload []byte) (*TextContent, error) {
	if len(payload) < 1 {
		return nil, ErrTextPayloadTooShort
	}

	status := payload[0]
	langLen := int(status & textLangCodeMask)
	if len(payload) < 1+langLen {
		return nil, ErrTextPayloadTruncated
	}

	content := &TextContent{
		Language: string(payload[1 : 1+langLen]),
		UTF16:    status&textUTF16Flag != 0,
	}
	body := payload[1+langLen:]
	if content.UTF16 {
		content.Text = decodeUTF16(body)
	} else {
		content.Text = bytecodec.BytesToText(body)
	}
	return content, nil
}

// decodeUTF16 decodes big-endian UTF-16, switching to little-endian when a
// byte order mark says so.
func decodeUTF16(b []byte) string {
	var order binary.ByteOrder = binary.BigEndian
	if len(b) >= 2 {
		switch {
		case b[0] == 0xFF && b[1] == 0xFE:
			order = binary.LittleEndian
			b = b[2:]
		case b[0] == 0xFE && b[1] == 0xFF:
			b = b[2:]
		}
	}
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		units = append(units, order.Uint16(b[i:]))
	}
	return string(utf16.Decode(units))
}
