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
	"fmt"
)

// TLV block types of the NFC Forum Type 2 Tag data area.
const (
	TLVNull          = 0x00
	TLVLockControl   = 0x01
	TLVMemoryControl = 0x02
	TLVMessage       = 0x03
	TLVTerminator    = 0xFE
)

// MaxTLVLength is the largest message a 3-byte TLV length can describe.
const MaxTLVLength = 0xFFFE

// TLV errors.
var (
	ErrTLVTooShort      = errors.New("ndef: TLV data too short")
	ErrTLVInvalidLength = errors.New("ndef: TLV invalid length")
	ErrTLVNotFound      = errors.New("ndef: NDEF message TLV not found")
	ErrTLVTooLong       = errors.New("ndef: message too long for TLV")
)

// WrapTLV frames an encoded message as a message TLV followed by a
// terminator, ready to be written from the start of a tag's data area.
func WrapTLV(message []byte) ([]byte, error) {
	n := len(message)
	if n > MaxTLVLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrTLVTooLong, n)
	}

	out := make([]byte, 0, n+5)
	out = append(out, TLVMessage)
	if n < 0xFF {
		out = append(out, byte(n))
	} else {
		out = append(out, 0xFF)
		//nolint:gosec // bounded by MaxTLVLength above
		out = binary.BigEndian.AppendUint16(out, uint16(n))
	}
	out = append(out, message...)
	return append(out, TLVTerminator), nil
}

// ExtractTLV finds the first message TLV in a tag data area and returns its
// value. NULL, lock control, memory control and proprietary blocks are
// skipped; a terminator ends the search.
func ExtractTLV(data []byte) ([]byte, error) {
	offset := 0
	for offset < len(data) {
		switch t := data[offset]; t {
		case TLVNull:
			offset++
			continue
		case TLVTerminator:
			return nil, ErrTLVNotFound
		default:
			start, length, err := tlvBounds(data, offset)
			if err != nil {
				return nil, err
			}
			if t == TLVMessage {
				if start+length > len(data) {
					return nil, fmt.Errorf("%w: length %d exceeds %d available",
						ErrTLVInvalidLength, length, len(data)-start)
				}
				return data[start : start+length], nil
			}
			offset = start + length
		}
	}
	return nil, ErrTLVNotFound
}

// tlvBounds returns where the value of the TLV at offset starts and its length.
func tlvBounds(data []byte, offset int) (start, length int, err error) {
	if offset+1 >= len(data) {
		return 0, 0, ErrTLVTooShort
	}
	if data[offset+1] != 0xFF {
		return offset + 2, int(data[offset+1]), nil
	}
	if offset+3 >= len(data) {
		return 0, 0, fmt.Errorf("%w: incomplete long length at offset %d", ErrTLVInvalidLength, offset)
	}
	return offset + 4, int(binary.BigEndian.Uint16(data[offset+2 : offset+4])), nil
}
