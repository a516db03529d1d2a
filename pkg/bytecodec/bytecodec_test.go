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

package bytecodec

import (
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestTextToBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []byte
	}{
		{name: "empty", input: "", want: []byte{}},
		{name: "ascii", input: "enhi", want: []byte{'e', 'n', 'h', 'i'}},
		{name: "two byte", input: "\u00e9", want: []byte{0xC3, 0xA9}},
		{name: "three byte", input: "\u20ac", want: []byte{0xE2, 0x82, 0xAC}},
		{name: "boundary 0x7f", input: "\u007f", want: []byte{0x7F}},
		{name: "boundary 0x80", input: "\u0080", want: []byte{0xC2, 0x80}},
		{name: "boundary 0x7ff", input: "\u07ff", want: []byte{0xDF, 0xBF}},
		{name: "boundary 0x800", input: "\u0800", want: []byte{0xE0, 0xA0, 0x80}},
		{
			// U+1F600 is the surrogate pair D83D DE00, each half encoded on its own
			name:  "outside BMP",
			input: "\U0001F600",
			want:  []byte{0xED, 0xA0, 0xBD, 0xED, 0xB8, 0x80},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, TextToBytes(tt.input))
		})
	}
}

func TestBytesToHex(t *testing.T) {
	t.Parallel()

	data := []byte{0x00, 0x0a, 0xff, 0x54}
	assert.Equal(t, "000aff54", BytesToHexString(data))
	assert.Equal(t, []string{"00", "0a", "ff", "54"}, BytesToHexArray(data))
	assert.Empty(t, BytesToHexString(nil))
	assert.Empty(t, BytesToHexArray(nil))
}

func TestHexDigitsToInt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  int
	}{
		{input: "54", want: 84},
		{input: "55", want: 85},
		{input: "ff", want: 255},
		{input: "FF", want: 255},
		{input: "0", want: 0},
		{input: "", want: 0},
		// lax lookup table: g and h are accepted
		{input: "g", want: 16},
		{input: "1h", want: 33},
		// characters outside the table count as -1
		{input: "z", want: -1},
		{input: "1z", want: 15},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, HexDigitsToInt(tt.input))
		})
	}
}

func TestHexByteSequenceToDecimalArray(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int{2, 101, 110}, HexByteSequenceToDecimalArray([]string{"02", "65", "6e"}))
	assert.Empty(t, HexByteSequenceToDecimalArray(nil))
}

func TestASCIIFromHex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "ascii", input: "6e732e636f6d", want: "ns.com"},
		{name: "latin1 not utf8", input: "c3a9", want: "Ã©"},
		{name: "odd length", input: "414", want: "A\u0004"},
		{name: "non hex pair", input: "zz41", want: "\u0000A"},
		{name: "partially hex pair", input: "4z", want: "\u0004"},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ASCIIFromHex(tt.input))
		})
	}
}

func TestPropertyTextToBytesMatchesUTF8InBMP(t *testing.T) {
	t.Parallel()

	table := &unicode.RangeTable{R16: []unicode.Range16{
		{Lo: 0x0000, Hi: 0xD7FF, Stride: 1},
		{Lo: 0xE000, Hi: 0xFFFD, Stride: 1},
	}}
	bmp := rapid.StringOf(rapid.RuneFrom(nil, table))

	rapid.Check(t, func(t *rapid.T) {
		s := bmp.Draw(t, "s")
		if got := TextToBytes(s); string(got) != s {
			t.Fatalf("TextToBytes(%q) = %x, want utf-8 %x", s, got, []byte(s))
		}
	})
}

func TestPropertyLatin1MatchesASCIIFromHex(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(t, "data")
		direct := Latin1(data)
		viaHex := ASCIIFromHex(BytesToHexString(data))
		if direct != viaHex {
			t.Fatalf("Latin1 = %q, ASCIIFromHex = %q", direct, viaHex)
		}
		if utf8.RuneCountInString(direct) != len(data) {
			t.Fatalf("rune count %d != byte count %d", utf8.RuneCountInString(direct), len(data))
		}
	})
}

func TestPropertyHexRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(t, "data")
		decimals := HexByteSequenceToDecimalArray(BytesToHexArray(data))
		if len(decimals) != len(data) {
			t.Fatalf("length %d != %d", len(decimals), len(data))
		}
		for i, b := range data {
			if decimals[i] != int(b) {
				t.Fatalf("index %d: got %d want %d", i, decimals[i], b)
			}
		}
	})
}
