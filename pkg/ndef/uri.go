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

import "strings"

// URIRecordSpec is the input for BuildURIRecord.
type URIRecordSpec struct {
	URI string `json:"uri" toml:"uri" validate:"required"`
	ID  []byte `json:"id,omitempty" toml:"id,omitempty" validate:"max=255"`
}

// URI abbreviation codes from the NFC Forum URI Record Type Definition.
// The table is read-only; index 0 means the URI is stored verbatim.
var uriPrefixes = [...]string{
	"",                           // 0x00
	"http://www.",                // 0x01
	"https://www.",               // 0x02
	"http://",                    // 0x03
	"https://",                   // 0x04
	"tel:",                       // 0x05
	"mailto:",                    // 0x06
	"ftp://anonymous:anonymous@", // 0x07
	"ftp://ftp.",                 // 0x08
	"ftps://",                    // 0x09
	"sftp://",                    // 0x0A
	"smb://",                     // 0x0B
	"nfs://",                     // 0x0C
	"ftp://",                     // 0x0D
	"dav://",                     // 0x0E
	"news:",                      // 0x0F
	"telnet://",                  // 0x10
	"imap:",                      // 0x11
	"rtsp://",                    // 0x12
	"urn:",                       // 0x13
	"pop:",                       // 0x14
	"sip:",                       // 0x15
	"sips:",                      // 0x16
	"tftp:",                      // 0x17
	"btspp://",                   // 0x18
	"btl2cap://",                 // 0x19
	"btgoep://",                  // 0x1A
	"tcpobex://",                 // 0x1B
	"irdaobex://",                // 0x1C
	"file://",                    // 0x1D
	"urn:epc:id:",                // 0x1E
	"urn:epc:tag:",               // 0x1F
	"urn:epc:pat:",               // 0x20
	"urn:epc:raw:",               // 0x21
	"urn:epc:",                   // 0x22
	"urn:nfc:",                   // 0x23
}

// URIPrefixCount is the number of entries in the abbreviation table.
const URIPrefixCount = len(uriPrefixes)

// URIPrefix returns the prefix for an abbreviation code. Reserved codes
// (0x24 and above) map to the empty prefix.
func URIPrefix(code byte) string {
	if int(code) < len(uriPrefixes) {
		return uriPrefixes[code]
	}
	return ""
}

// URIPrefixCode returns the code whose prefix equals prefix exactly, or 0.
func URIPrefixCode(prefix string) byte {
	for i, p := range uriPrefixes {
		if p == prefix {
			return byte(i)
		}
	}
	return 0
}

// URIPrefixes returns a copy of the abbreviation table.
func URIPrefixes() []string {
	out := make([]string, len(uriPrefixes))
	copy(out, uriPrefixes[:])
	return out
}

// matchURIPrefix returns the code of the longest prefix of uri, or 0.
func matchURIPrefix(uri string) byte {
	best, bestLen := 0, 0
	for i := 1; i < len(uriPrefixes); i++ {
		p := uriPrefixes[i]
		if len(p) > bestLen && strings.HasPrefix(uri, p) {
			best, bestLen = i, len(p)
		}
	}
	return byte(best)
}

// BuildURIRecord encodes spec as a well-known "U" record. The longest
// matching table prefix is replaced by its code; without a match the code is
// 0 and the whole URI follows.
func BuildURIRecord(spec URIRecordSpec) *Record {
	code := matchURIPrefix(spec.URI)
	rest := spec.URI[len(uriPrefixes[code]):]

	payload := make([]byte, 0, 1+len(rest))
	payload = append(payload, code)
	payload = append(payload, rest...)

	return &Record{
		TNF:     TNFWellKnown,
		Type:    []byte{TypeURI},
		ID:      cloneBytes(spec.ID),
		Payload: payload,
	}
}
