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

package libnfc

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-nfcsession"
	"github.com/ZaparooProject/go-nfcsession/pkg/ndef"
)

// NFC Forum Type 2 tag commands.
const (
	cmdRead  = 0x30
	cmdWrite = 0xA2

	pageSize      = 4
	pagesPerRead  = 4
	ccPage        = 3
	userPage      = 4
	ccMagic       = 0xE1
	ccWriteAccess = 0x0F
)

// Transceiver exchanges raw frames with the selected target.
type Transceiver interface {
	Transceive(tx []byte) ([]byte, error)
}

// capability is the parsed capability container of a Type 2 tag.
type capability struct {
	size     int
	writable bool
}

func readPages(tx Transceiver, page byte) ([]byte, error) {
	rx, err := tx.Transceive([]byte{cmdRead, page})
	if err != nil {
		return nil, fmt.Errorf("read page %d: %w", page, err)
	}
	if len(rx) < pageSize*pagesPerRead {
		return nil, fmt.Errorf("read page %d: short response of %d bytes", page, len(rx))
	}
	return rx[:pageSize*pagesPerRead], nil
}

func writePage(tx Transceiver, page byte, data []byte) error {
	frame := make([]byte, 0, 2+pageSize)
	frame = append(frame, cmdWrite, page)
	frame = append(frame, data...)
	if _, err := tx.Transceive(frame); err != nil {
		return fmt.Errorf("write page %d: %w", page, err)
	}
	return nil
}

func readCapability(tx Transceiver) (capability, error) {
	data, err := readPages(tx, ccPage)
	if err != nil {
		return capability{}, fmt.Errorf("%w: %w", nfcsession.ErrReadFailed, err)
	}
	if data[0] != ccMagic {
		return capability{}, nfcsession.ErrTagNotNDEF
	}
	return capability{
		size:     int(data[2]) * 8,
		writable: data[3]&ccWriteAccess == 0,
	}, nil
}

// readMessage reads the NDEF message TLV of a Type 2 tag.
func readMessage(tx Transceiver) (*ndef.Message, capability, error) {
	cc, err := readCapability(tx)
	if err != nil {
		return nil, cc, err
	}

	memory := make([]byte, 0, cc.size+pageSize*pagesPerRead)
	for page := userPage; len(memory) < cc.size; page += pagesPerRead {
		data, err := readPages(tx, byte(page))
		if err != nil {
			return nil, cc, fmt.Errorf("%w: %w", nfcsession.ErrReadFailed, err)
		}
		memory = append(memory, data...)
		// stop early once the terminator shows up
		if _, err := ndef.ExtractTLV(memory); err == nil {
			break
		}
	}
	if len(memory) > cc.size {
		memory = memory[:cc.size]
	}

	payload, err := ndef.ExtractTLV(memory)
	if errors.Is(err, ndef.ErrTLVNotFound) || (err == nil && len(payload) == 0) {
		return &ndef.Message{}, cc, nil
	} else if err != nil {
		return nil, cc, fmt.Errorf("%w: %w", nfcsession.ErrReadFailed, err)
	}

	msg := &ndef.Message{}
	if _, err := msg.Unmarshal(payload); err != nil {
		return nil, cc, fmt.Errorf("%w: %w", nfcsession.ErrReadFailed, err)
	}
	return msg, cc, nil
}

// writeMessage writes msg as the NDEF message TLV of a Type 2 tag.
func writeMessage(tx Transceiver, msg *ndef.Message) (capability, error) {
	data, err := msg.Marshal()
	if err != nil {
		return capability{}, fmt.Errorf("%w: %w", nfcsession.ErrWriteFailed, err)
	}
	tlv, err := ndef.WrapTLV(data)
	if err != nil {
		return capability{}, fmt.Errorf("%w: %w", nfcsession.ErrTagTooSmall, err)
	}

	cc, err := readCapability(tx)
	if err != nil {
		return cc, err
	}
	if !cc.writable {
		return cc, nfcsession.ErrTagReadOnly
	}
	if len(tlv) > cc.size {
		return cc, fmt.Errorf("%w: message needs %d bytes, tag has %d", nfcsession.ErrTagTooSmall, len(tlv), cc.size)
	}

	if rem := len(tlv) % pageSize; rem != 0 {
		tlv = append(tlv, make([]byte, pageSize-rem)...)
	}
	for i := 0; i < len(tlv); i += pageSize {
		if err := writePage(tx, byte(userPage+i/pageSize), tlv[i:i+pageSize]); err != nil {
			return cc, fmt.Errorf("%w: %w", nfcsession.ErrWriteFailed, err)
		}
	}
	return cc, nil
}
