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

package sim

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-nfcsession"
	"github.com/ZaparooProject/go-nfcsession/internal/syncutil"
	"github.com/ZaparooProject/go-nfcsession/pkg/bytecodec"
	"github.com/ZaparooProject/go-nfcsession/pkg/ndef"
)

const (
	pageSize     = 4
	userPage     = 4
	ccPage       = 3
	ccMagic      = 0xE1
	ccVersion    = 0x10
	ccWriteOpen  = 0x00
	ccWriteDeny  = 0x0F
	staticLock0  = 10
	staticLock1  = 11
	defaultUIDSz = 7
)

// TagType is a simulated NTAG21x variant. UserBytes is the whole user
// memory; DataBytes is the NDEF area declared in the capability container.
type TagType struct {
	Name      string
	Pages     int
	UserBytes int
	DataBytes int
}

// Simulated tag variants with their memory sizes.
var (
	NTAG213 = TagType{Name: "NTAG213", Pages: 45, UserBytes: 144, DataBytes: 144}
	NTAG215 = TagType{Name: "NTAG215", Pages: 135, UserBytes: 504, DataBytes: 496}
	NTAG216 = TagType{Name: "NTAG216", Pages: 231, UserBytes: 888, DataBytes: 872}
)

// DefaultUID is used when a tag is created without one.
var DefaultUID = []byte{0x04, 0xAB, 0xCD, 0xEF, 0x12, 0x34, 0x56}

// Tag is a virtual NFC Forum Type 2 tag backed by page memory.
type Tag struct {
	tagType TagType
	uid     []byte
	memory  []byte
	mu      syncutil.Mutex
}

// NewTag creates a formatted, empty, writable tag. A nil uid uses
// DefaultUID.
func NewTag(tagType TagType, uid []byte) *Tag {
	if uid == nil {
		uid = DefaultUID
	}
	t := &Tag{
		tagType: tagType,
		uid:     append([]byte{}, uid...),
		memory:  make([]byte, tagType.Pages*pageSize),
	}
	t.initMemory()
	return t
}

// NewTextTag creates an NTAG213 holding one text record.
func NewTextTag(uid []byte, text string) *Tag {
	t := NewTag(NTAG213, uid)
	msg := ndef.BuildMessage(ndef.WriteOptions{TextRecords: []ndef.TextRecordSpec{{Text: text}}})
	if err := t.WriteMessage(msg); err != nil {
		panic(fmt.Sprintf("sim: text does not fit NTAG213: %v", err))
	}
	return t
}

// NewUnformattedTag creates a tag without a capability container, so it is
// not NDEF compliant.
func NewUnformattedTag(uid []byte) *Tag {
	t := NewTag(NTAG213, uid)
	copy(t.memory[ccPage*pageSize:], []byte{0, 0, 0, 0})
	return t
}

// initMemory lays out the UID, check bytes and an empty NDEF TLV.
func (t *Tag) initMemory() {
	uid := make([]byte, defaultUIDSz)
	copy(uid, t.uid)

	// page 0: UID0-2, BCC0; page 1: UID3-6; page 2: BCC1, internal, lock bytes
	copy(t.memory[0:3], uid[0:3])
	t.memory[3] = 0x88 ^ uid[0] ^ uid[1] ^ uid[2]
	copy(t.memory[4:8], uid[3:7])
	t.memory[8] = uid[3] ^ uid[4] ^ uid[5] ^ uid[6]
	t.memory[9] = 0x48

	cc := t.memory[ccPage*pageSize : ccPage*pageSize+pageSize]
	cc[0] = ccMagic
	cc[1] = ccVersion
	cc[2] = byte(t.tagType.DataBytes / 8)
	cc[3] = ccWriteOpen

	copy(t.memory[userPage*pageSize:], []byte{ndef.TLVMessage, 0x00, ndef.TLVTerminator})
}

// UID returns a copy of the tag UID.
func (t *Tag) UID() []byte {
	return append([]byte{}, t.uid...)
}

// UIDString returns the UID as lowercase hex.
func (t *Tag) UIDString() string {
	return bytecodec.BytesToHexString(t.uid)
}

// Type returns the tag variant.
func (t *Tag) Type() TagType {
	return t.tagType
}

// SetReadOnly sets or clears the write access byte of the capability
// container and the static lock bytes.
func (t *Tag) SetReadOnly(readOnly bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	access, lock := byte(ccWriteOpen), byte(0x00)
	if readOnly {
		access, lock = ccWriteDeny, 0xFF
	}
	t.memory[ccPage*pageSize+3] = access
	t.memory[staticLock0] = lock
	t.memory[staticLock1] = lock
}

// ReadPage returns the four bytes of page n.
func (t *Tag) ReadPage(n int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 0 || n >= t.tagType.Pages {
		return nil, fmt.Errorf("page %d out of range", n)
	}
	return append([]byte{}, t.memory[n*pageSize:(n+1)*pageSize]...), nil
}

// WritePage replaces page n. Pages below the user area are write
// protected, except the capability container on an unformatted tag.
func (t *Tag) WritePage(n int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < ccPage || n >= t.tagType.Pages {
		return fmt.Errorf("page %d out of range", n)
	}
	if len(data) != pageSize {
		return fmt.Errorf("page write needs %d bytes, got %d", pageSize, len(data))
	}
	if n == ccPage && t.formattedLocked() {
		return fmt.Errorf("%w: capability container is one-time programmable", nfcsession.ErrTagReadOnly)
	}
	if n > ccPage && t.memory[ccPage*pageSize+3] != ccWriteOpen {
		return nfcsession.ErrTagReadOnly
	}
	copy(t.memory[n*pageSize:], data)
	return nil
}

// Raw describes the tag the way a driver reports it.
func (t *Tag) Raw() nfcsession.RawTag {
	t.mu.Lock()
	defer t.mu.Unlock()
	formatted := t.formattedLocked()
	writable := formatted && t.memory[ccPage*pageSize+3] == ccWriteOpen
	raw := nfcsession.RawTag{
		Type:     t.tagType.Name,
		UID:      append([]byte{}, t.uid...),
		TechList: []string{"NfcA", "MifareUltralight"},
	}
	if formatted {
		raw.TechList = append(raw.TechList, "Ndef")
		raw.MaxSize = int(t.memory[ccPage*pageSize+2]) * 8
		raw.Writable = writable
		raw.CanMakeReadOnly = writable
	}
	return raw
}

// ReadMessage parses the NDEF message TLV in user memory. A formatted tag
// without content yields a message with no records.
func (t *Tag) ReadMessage() (*ndef.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.formattedLocked() {
		return nil, nfcsession.ErrTagNotNDEF
	}

	data, err := ndef.ExtractTLV(t.dataAreaLocked())
	if errors.Is(err, ndef.ErrTLVNotFound) {
		return &ndef.Message{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("%w: %w", nfcsession.ErrReadFailed, err)
	}
	if len(data) == 0 {
		return &ndef.Message{}, nil
	}

	msg := &ndef.Message{}
	if _, err := msg.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("%w: %w", nfcsession.ErrReadFailed, err)
	}
	return msg, nil
}

// WriteMessage replaces the NDEF message TLV in user memory.
func (t *Tag) WriteMessage(msg *ndef.Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("%w: %w", nfcsession.ErrWriteFailed, err)
	}
	tlv, err := ndef.WrapTLV(data)
	if err != nil {
		return fmt.Errorf("%w: %w", nfcsession.ErrTagTooSmall, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.formattedLocked() {
		return nfcsession.ErrTagNotNDEF
	}
	if t.memory[ccPage*pageSize+3] != ccWriteOpen {
		return nfcsession.ErrTagReadOnly
	}

	user := t.dataAreaLocked()
	if len(tlv) > len(user) {
		return fmt.Errorf("%w: message needs %d bytes, tag has %d", nfcsession.ErrTagTooSmall, len(tlv), len(user))
	}
	clear(user)
	copy(user, tlv)
	return nil
}

func (t *Tag) formattedLocked() bool {
	return t.memory[ccPage*pageSize] == ccMagic
}

func (t *Tag) dataAreaLocked() []byte {
	start := userPage * pageSize
	return t.memory[start : start+t.tagType.DataBytes]
}
