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

// Package ndef encodes application write requests into NDEF messages and
// decodes raw NDEF records into the flattened form handed to listeners.
package ndef

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// TNF (Type Name Format) values as defined by NFC Forum.
const (
	TNFEmpty          byte = 0x00 // Empty record
	TNFWellKnown      byte = 0x01 // NFC Forum well-known type
	TNFMedia          byte = 0x02 // Media-type (RFC 2046)
	TNFAbsoluteURI    byte = 0x03 // Absolute URI (RFC 3986)
	TNFExternal       byte = 0x04 // NFC Forum external type
	TNFUnknown        byte = 0x05 // Unknown
	TNFUnchanged      byte = 0x06 // Unchanged (for chunked records)
	TNFReserved       byte = 0x07 // Reserved
	tnfMask           byte = 0x07
	flagMB            byte = 0x80
	flagME            byte = 0x40
	flagCF            byte = 0x20
	flagSR            byte = 0x10
	flagIL            byte = 0x08
	shortRecordMaxLen      = 255
	maxFieldLen            = 255
)

// Well-known record type bytes.
const (
	TypeText byte = 'T' // 0x54
	TypeURI  byte = 'U' // 0x55
)

// Wire format errors.
var (
	ErrEmptyMessage    = errors.New("ndef: empty message")
	ErrInvalidRecord   = errors.New("ndef: invalid record")
	ErrTruncatedRecord = errors.New("ndef: truncated record data")
	ErrInvalidTNF      = errors.New("ndef: invalid TNF value")
	ErrChunkedRecord   = errors.New("ndef: chunked records not supported")
)

// Record is a single raw NDEF record as it appears on the wire.
type Record struct {
	Type    []byte
	ID      []byte
	Payload []byte
	TNF     byte
	mb      bool
	me      bool
}

// MB reports whether the record carried the Message Begin flag.
func (r *Record) MB() bool { return r.mb }

// ME reports whether the record carried the Message End flag.
func (r *Record) ME() bool { return r.me }

// Message is an ordered list of records. A message built for writing may
// hold zero records; a message read from a tag holds at least one.
type Message struct {
	Records []*Record
}

// Len returns the number of records.
func (m *Message) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Records)
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := &Message{Records: make([]*Record, len(m.Records))}
	for i, rec := range m.Records {
		out.Records[i] = &Record{
			TNF:     rec.TNF,
			Type:    cloneBytes(rec.Type),
			ID:      cloneBytes(rec.ID),
			Payload: cloneBytes(rec.Payload),
			mb:      rec.mb,
			me:      rec.me,
		}
	}
	return out
}

// Marshal serializes the message. MB and ME are set on the first and last
// record; a message with no records cannot be serialized.
func (m *Message) Marshal() ([]byte, error) {
	if m.Len() == 0 {
		return nil, ErrEmptyMessage
	}

	var result []byte
	for i, rec := range m.Records {
		rec.mb = i == 0
		rec.me = i == len(m.Records)-1

		data, err := rec.Marshal()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		result = append(result, data...)
	}
	return result, nil
}

// Unmarshal parses one message from data and returns the number of bytes
// consumed. Parsing stops at the first record flagged ME.
func (m *Message) Unmarshal(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, ErrEmptyMessage
	}

	m.Records = nil
	offset := 0
	seenME := false

	for offset < len(data) && !seenME {
		rec := &Record{}
		n, err := rec.Unmarshal(data[offset:])
		if err != nil {
			return offset, fmt.Errorf("record at offset %d: %w", offset, err)
		}
		if rec.mb && len(m.Records) > 0 {
			// second message begins; only the first one is read
			break
		}
		seenME = rec.me
		m.Records = append(m.Records, rec)
		offset += n
	}

	if len(m.Records) == 0 {
		return 0, ErrEmptyMessage
	}
	return offset, nil
}

// Marshal serializes a single record using its current MB/ME flags.
func (r *Record) Marshal() ([]byte, error) {
	if r.TNF > TNFReserved {
		return nil, ErrInvalidTNF
	}
	if len(r.Type) > maxFieldLen {
		return nil, fmt.Errorf("%w: type length %d", ErrInvalidRecord, len(r.Type))
	}
	if len(r.ID) > maxFieldLen {
		return nil, fmt.Errorf("%w: id length %d", ErrInvalidRecord, len(r.ID))
	}

	payloadLen := len(r.Payload)
	short := payloadLen <= shortRecordMaxLen

	flags := r.TNF & tnfMask
	if r.mb {
		flags |= flagMB
	}
	if r.me {
		flags |= flagME
	}
	if short {
		flags |= flagSR
	}
	if len(r.ID) > 0 {
		flags |= flagIL
	}

	result := make([]byte, 0, 7+len(r.Type)+len(r.ID)+payloadLen)
	result = append(result, flags, byte(len(r.Type)))
	if short {
		result = append(result, byte(payloadLen))
	} else {
		//nolint:gosec // payloadLen comes from len() and is > 255 here
		result = binary.BigEndian.AppendUint32(result, uint32(payloadLen))
	}
	if len(r.ID) > 0 {
		result = append(result, byte(len(r.ID)))
	}
	result = append(result, r.Type...)
	result = append(result, r.ID...)
	result = append(result, r.Payload...)
	return result, nil
}

// Unmarshal parses a single record and returns the number of bytes consumed.
func (r *Record) Unmarshal(data []byte) (int, error) {
	if len(data) < 3 {
		return 0, ErrTruncatedRecord
	}

	flags := data[0]
	r.TNF = flags & tnfMask
	r.mb = flags&flagMB != 0
	r.me = flags&flagME != 0

	if flags&flagCF != 0 {
		return 0, ErrChunkedRecord
	}
	if r.TNF > TNFUnchanged {
		return 0, ErrInvalidTNF
	}

	typeLen := int(data[1])
	offset := 2

	var payloadLen int
	if flags&flagSR != 0 {
		payloadLen = int(data[offset])
		offset++
	} else {
		if offset+4 > len(data) {
			return 0, ErrTruncatedRecord
		}
		payloadLen = int(binary.BigEndian.Uint32(data[offset : offset+4]))
		offset += 4
	}

	var idLen int
	if flags&flagIL != 0 {
		if offset >= len(data) {
			return 0, ErrTruncatedRecord
		}
		idLen = int(data[offset])
		offset++
	}

	if offset+typeLen+idLen+payloadLen > len(data) {
		return 0, ErrTruncatedRecord
	}

	r.Type = cloneBytes(data[offset : offset+typeLen])
	offset += typeLen
	r.ID = cloneBytes(data[offset : offset+idLen])
	offset += idLen
	r.Payload = cloneBytes(data[offset : offset+payloadLen])
	offset += payloadLen

	return offset, nil
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
