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
	"github.com/ZaparooProject/go-nfcsession/pkg/bytecodec"
)

// Decimal values of the well-known type bytes as they appear in DecodedRecord.Type.
const (
	DecodedTypeText = int(TypeText) // 84
	DecodedTypeURI  = int(TypeURI)  // 85
)

// DecodedRecord is the flattened view of a record delivered to listeners.
// The string fields are projections of Payload and Type and are recomputed
// on every decode.
type DecodedRecord struct {
	PayloadAsHexString        string `json:"payloadAsHexString"`
	PayloadAsStringWithPrefix string `json:"payloadAsStringWithPrefix"`
	PayloadAsString           string `json:"payloadAsString"`
	ID                        []int  `json:"id"`
	Payload                   []int  `json:"payload"`
	// Type is the decimal value of the first type byte, 0 when the record
	// has no type.
	Type int  `json:"type"`
	TNF  byte `json:"tnf"`
}

// DecodeRecord flattens a raw record. Decoding never fails: malformed
// payloads produce best-effort strings.
//
// The text projection drops the length byte and the language code that
// follows it; the URI projection replaces the code byte with its prefix.
// Both work on the Latin-1 rendering of the payload.
func DecodeRecord(rec *Record) DecodedRecord {
	typeHex := bytecodec.BytesToHexArray(rec.Type)
	payloadHex := bytecodec.BytesToHexArray(rec.Payload)

	out := DecodedRecord{
		TNF:                       rec.TNF,
		ID:                        bytecodec.HexByteSequenceToDecimalArray(bytecodec.BytesToHexArray(rec.ID)),
		Payload:                   bytecodec.HexByteSequenceToDecimalArray(payloadHex),
		PayloadAsHexString:        bytecodec.BytesToHexString(rec.Payload),
		PayloadAsStringWithPrefix: bytecodec.ASCIIFromHex(bytecodec.BytesToHexString(rec.Payload)),
	}
	if len(typeHex) > 0 {
		out.Type = bytecodec.HexDigitsToInt(typeHex[0])
	}

	switch out.Type {
	case DecodedTypeText:
		langLen := 0
		if len(payloadHex) > 0 {
			langLen = bytecodec.HexDigitsToInt(payloadHex[0])
		}
		out.PayloadAsString = runeSuffix(out.PayloadAsStringWithPrefix, langLen+1)
	case DecodedTypeURI:
		prefix := ""
		if len(rec.Payload) > 0 {
			prefix = URIPrefix(rec.Payload[0])
		}
		out.PayloadAsString = prefix + runeSuffix(out.PayloadAsStringWithPrefix, 1)
	default:
		out.PayloadAsString = out.PayloadAsStringWithPrefix
	}
	return out
}

// DecodeMessage decodes every record of msg in wire order.
func DecodeMessage(msg *Message) []DecodedRecord {
	out := make([]DecodedRecord, 0, msg.Len())
	if msg == nil {
		return out
	}
	for _, rec := range msg.Records {
		out = append(out, DecodeRecord(rec))
	}
	return out
}

// PayloadBytes converts the decimal payload back to bytes.
func (r DecodedRecord) PayloadBytes() []byte {
	return intsToBytes(r.Payload)
}

// IDBytes converts the decimal id back to bytes.
func (r DecodedRecord) IDBytes() []byte {
	return intsToBytes(r.ID)
}

// Text returns the content of a text record decoded as Unicode, or false when
// the record is not a readable text record.
func (r DecodedRecord) Text() (string, bool) {
	if r.Type != DecodedTypeText {
		return "", false
	}
	content, err := ParseText(r.PayloadBytes())
	if err != nil {
		return "", false
	}
	return content.Text, true
}

// URI returns the expanded URI of a URI record decoded as UTF-8, or false
// when the record is not a URI record.
func (r DecodedRecord) URI() (string, bool) {
	if r.Type != DecodedTypeURI || len(r.Payload) == 0 {
		return "", false
	}
	p := r.PayloadBytes()
	return URIPrefix(p[0]) + string(p[1:]), true
}

// EncodeEquivalent rebuilds raw records from decoded ones. Only the first
// type byte survives decoding, so records with longer types do not round
// trip; Text, URI and Empty records do.
func EncodeEquivalent(records []DecodedRecord) *Message {
	msg := &Message{Records: make([]*Record, 0, len(records))}
	for _, dr := range records {
		rec := &Record{
			TNF:     dr.TNF,
			ID:      cloneBytes(dr.IDBytes()),
			Payload: cloneBytes(dr.PayloadBytes()),
		}
		if dr.TNF != TNFEmpty {
			rec.Type = []byte{byte(dr.Type)}
		}
		msg.Records = append(msg.Records, rec)
	}
	return msg
}

// runeSuffix returns s without its first n characters, or "" when s is
// shorter than that.
func runeSuffix(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if n >= len(runes) {
		return ""
	}
	return string(runes[n:])
}

func intsToBytes(values []int) []byte {
	out := make([]byte, len(values))
	for i, v := range values {
		//nolint:gosec // values come from decoded bytes
		out[i] = byte(v)
	}
	return out
}
