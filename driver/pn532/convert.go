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

package pn532

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ZaparooProject/go-nfcsession"
	"github.com/ZaparooProject/go-nfcsession/pkg/ndef"
	"github.com/ZaparooProject/go-pn532"
)

// ErrUnsupportedRecord is returned for records the PN532 writer cannot
// express.
var ErrUnsupportedRecord = errors.New("pn532: unsupported record for writing")

const (
	mediaPrefix       = "media:"
	absoluteURIPrefix = "uri:"
	externalPrefix    = "ext:"
	ntagUserPage      = 4
	ntagPageSize      = 4
)

// toPN532Message converts an outgoing message to the go-pn532 record model.
// Empty records are dropped, so the erase message becomes a message with
// no records.
func toPN532Message(msg *ndef.Message) (*pn532.NDEFMessage, error) {
	out := &pn532.NDEFMessage{}
	for i, decoded := range ndef.DecodeMessage(msg) {
		if decoded.TNF == ndef.TNFEmpty {
			continue
		}
		if text, ok := decoded.Text(); ok {
			out.Records = append(out.Records, pn532.NDEFRecord{Type: pn532.NDEFTypeText, Text: text})
			continue
		}
		if uri, ok := decoded.URI(); ok {
			out.Records = append(out.Records, pn532.NDEFRecord{Type: pn532.NDEFTypeURI, URI: uri})
			continue
		}
		if rec := msg.Records[i]; rec.TNF == ndef.TNFMedia {
			out.Records = append(out.Records, pn532.NDEFRecord{
				Type:    pn532.NDEFRecordType(mediaPrefix + string(rec.Type)),
				Payload: append([]byte{}, rec.Payload...),
			})
			continue
		}
		return nil, fmt.Errorf("%w: record %d has TNF %d type %d", ErrUnsupportedRecord, i, decoded.TNF, decoded.Type)
	}
	return out, nil
}

// fromPN532Message rebuilds wire records from the go-pn532 record model.
// Payloads are kept as read, so text records keep their language code.
// Records of a kind go-pn532 does not name are dropped.
func fromPN532Message(msg *pn532.NDEFMessage) *ndef.Message {
	out := &ndef.Message{}
	if msg == nil {
		return out
	}
	for i := range msg.Records {
		if rec := fromPN532Record(&msg.Records[i]); rec != nil {
			out.Records = append(out.Records, rec)
		}
	}
	return out
}

func fromPN532Record(rec *pn532.NDEFRecord) *ndef.Record {
	payload := append([]byte{}, rec.Payload...)
	kind := string(rec.Type)
	switch {
	case rec.Type == pn532.NDEFTypeText:
		return &ndef.Record{TNF: ndef.TNFWellKnown, Type: []byte("T"), Payload: payload}
	case rec.Type == pn532.NDEFTypeURI:
		return &ndef.Record{TNF: ndef.TNFWellKnown, Type: []byte("U"), Payload: payload}
	case rec.Type == pn532.NDEFTypeSmartPoster:
		return &ndef.Record{TNF: ndef.TNFWellKnown, Type: []byte("Sp"), Payload: payload}
	case rec.Type == pn532.NDEFTypeWiFi:
		return &ndef.Record{TNF: ndef.TNFMedia, Type: []byte("application/vnd.wfa.wsc"), Payload: payload}
	case rec.Type == pn532.NDEFTypeVCard:
		return &ndef.Record{TNF: ndef.TNFMedia, Type: []byte("text/vcard"), Payload: payload}
	case strings.HasPrefix(kind, mediaPrefix):
		return &ndef.Record{TNF: ndef.TNFMedia, Type: []byte(strings.TrimPrefix(kind, mediaPrefix)), Payload: payload}
	case strings.HasPrefix(kind, absoluteURIPrefix):
		return &ndef.Record{
			TNF: ndef.TNFAbsoluteURI, Type: []byte(strings.TrimPrefix(kind, absoluteURIPrefix)), Payload: payload,
		}
	case strings.HasPrefix(kind, externalPrefix):
		return &ndef.Record{TNF: ndef.TNFExternal, Type: []byte(strings.TrimPrefix(kind, externalPrefix)), Payload: payload}
	default:
		return nil
	}
}

// erasePages returns the NTAG user pages holding a message with the single
// empty record. go-pn532 refuses to write a message without records.
func erasePages() ([][]byte, error) {
	data, err := ndef.BuildEmptyMessage().Marshal()
	if err != nil {
		return nil, err
	}
	tlv, err := ndef.WrapTLV(data)
	if err != nil {
		return nil, err
	}
	if rem := len(tlv) % ntagPageSize; rem != 0 {
		tlv = append(tlv, make([]byte, ntagPageSize-rem)...)
	}
	pages := make([][]byte, 0, len(tlv)/ntagPageSize)
	for off := 0; off < len(tlv); off += ntagPageSize {
		pages = append(pages, tlv[off:off+ntagPageSize])
	}
	return pages, nil
}

// rawTag describes a tag found by the PN532 poller.
func rawTag(uid string, tagType pn532.TagType) nfcsession.RawTag {
	raw := nfcsession.RawTag{Type: string(tagType)}
	if b, err := hex.DecodeString(uid); err == nil {
		raw.UID = b
	}

	switch tagType {
	case pn532.TagTypeNTAG:
		raw.TechList = []string{"NfcA", "MifareUltralight", "Ndef"}
	case pn532.TagTypeMIFARE:
		raw.TechList = []string{"NfcA", "MifareClassic"}
	case pn532.TagTypeFeliCa:
		raw.TechList = []string{"NfcF"}
	case pn532.TagTypeUnknown, pn532.TagTypeAny:
		raw.TechList = []string{}
	default:
		raw.TechList = []string{}
	}
	return raw
}
