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

// WriteOptions describes the message written by a write session.
type WriteOptions struct {
	TextRecords []TextRecordSpec `json:"textRecords,omitempty" toml:"text_records,omitempty" validate:"dive"`
	URIRecords  []URIRecordSpec  `json:"uriRecords,omitempty" toml:"uri_records,omitempty" validate:"dive"`
}

// BuildMessage encodes text records first, then URI records, each group in
// the order given. Empty options give a message with no records.
func BuildMessage(opts WriteOptions) *Message {
	msg := &Message{Records: make([]*Record, 0, len(opts.TextRecords)+len(opts.URIRecords))}
	for _, spec := range opts.TextRecords {
		msg.Records = append(msg.Records, BuildTextRecord(spec))
	}
	for _, spec := range opts.URIRecords {
		msg.Records = append(msg.Records, BuildURIRecord(spec))
	}
	return msg
}

// NewEmptyRecord creates a record with TNF Empty and no type, id or payload.
func NewEmptyRecord() *Record {
	return &Record{TNF: TNFEmpty}
}

// BuildEmptyMessage returns the single-empty-record message used to erase
// a tag.
func BuildEmptyMessage() *Message {
	return &Message{Records: []*Record{NewEmptyRecord()}}
}

// IsEmptyMessage reports whether msg is the erase message.
func IsEmptyMessage(msg *Message) bool {
	if msg.Len() != 1 {
		return false
	}
	rec := msg.Records[0]
	return rec.TNF == TNFEmpty && len(rec.Type) == 0 && len(rec.ID) == 0 && len(rec.Payload) == 0
}
