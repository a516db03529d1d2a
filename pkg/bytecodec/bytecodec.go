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

// Package bytecodec holds the byte, hex and string conversions used by the
// NDEF codec. The conversions are permissive: malformed input produces
// best-effort values instead of errors.
package bytecodec

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// hexLookup is the digit table used by HexDigitsToInt. It accepts 'g' and 'h'
// (16 and 17) on top of the regular hex digits.
const hexLookup = "0123456789abcdefgh"

const lowerHex = "0123456789abcdef"

// TextToBytes encodes s with a 1, 2 or 3 byte variable length scheme applied
// to each UTF-16 code unit. It matches UTF-8 for code points below 0x10000;
// characters outside the BMP are emitted as two 3-byte surrogate sequences.
// Input is not validated.
func TextToBytes(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, len(units))
	for _, u := range units {
		cp := int(u)
		switch {
		case cp < 0x80:
			out = append(out, byte(cp))
		case cp < 0x800:
			out = append(out,
				byte((cp>>6)|0xC0),
				byte((cp&0x3F)|0x80))
		default:
			out = append(out,
				byte((cp>>12)|0xE0),
				byte(((cp>>6)&0x3F)|0x80),
				byte((cp&0x3F)|0x80))
		}
	}
	return out
}

// BytesToText reverses TextToBytes. It also accepts regular 4-byte UTF-8
// sequences written by other encoders. Invalid lead bytes decode to U+FFFD.
func BytesToText(b []byte) string {
	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0 && i+1 < len(b):
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0 && i+2 < len(b):
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		case c&0xF8 == 0xF0 && i+3 < len(b):
			r := rune(c&0x07)<<18 | rune(b[i+1]&0x3F)<<12 | rune(b[i+2]&0x3F)<<6 | rune(b[i+3]&0x3F)
			r1, r2 := utf16.EncodeRune(r)
			if r1 == utf8.RuneError {
				units = append(units, utf8.RuneError)
			} else {
				units = append(units, uint16(r1), uint16(r2))
			}
			i += 4
		default:
			units = append(units, utf8.RuneError)
			i++
		}
	}
	return string(utf16.Decode(units))
}

// BytesToHexString renders each byte as two lowercase hex digits.
func BytesToHexString(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 2)
	for _, v := range b {
		sb.WriteByte(lowerHex[v>>4])
		sb.WriteByte(lowerHex[v&0x0F])
	}
	return sb.String()
}

// BytesToHexArray returns one two-digit lowercase hex string per byte.
func BytesToHexArray(b []byte) []string {
	out := make([]string, len(b))
	for i, v := range b {
		out[i] = string([]byte{lowerHex[v>>4], lowerHex[v&0x0F]})
	}
	return out
}

// HexDigitsToInt parses s as base 16 using the lax digit table. Characters
// missing from the table count as -1, so garbage input yields garbage output
// rather than an error.
func HexDigitsToInt(s string) int {
	result := 0
	for _, c := range strings.ToLower(s) {
		result = result*16 + strings.IndexRune(hexLookup, c)
	}
	return result
}

// HexByteSequenceToDecimalArray converts each hex token to its decimal value.
func HexByteSequenceToDecimalArray(hex []string) []int {
	out := make([]int, len(hex))
	for i, h := range hex {
		out[i] = HexDigitsToInt(h)
	}
	return out
}

// ASCIIFromHex reads s two characters at a time and maps each pair directly
// to the character with that code (Latin-1, not UTF-8). Pairs are parsed
// leniently: leading hex digits are used and a pair without any yields NUL.
// A trailing odd character is parsed on its own.
func ASCIIFromHex(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) / 2)
	for i := 0; i < len(s); i += 2 {
		end := min(i+2, len(s))
		sb.WriteRune(rune(parseLeadingHex(s[i:end])))
	}
	return sb.String()
}

// Latin1 maps every byte of b to the rune with the same value. It is the
// direct form of ASCIIFromHex(BytesToHexString(b)).
func Latin1(b []byte) string {
	runes := make([]rune, len(b))
	for i, v := range b {
		runes[i] = rune(v)
	}
	return string(runes)
}

func parseLeadingHex(s string) int {
	v := 0
	for _, c := range strings.ToLower(s) {
		d := strings.IndexRune(lowerHex, c)
		if d < 0 {
			break
		}
		v = v*16 + d
	}
	return v
}
