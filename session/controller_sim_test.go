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

package session

import (
	"context"
	"strings"
	"testing"

	"github.com/ZaparooProject/go-nfcsession"
	"github.com/ZaparooProject/go-nfcsession/driver/sim"
	"github.com/ZaparooProject/go-nfcsession/pkg/ndef"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readText(t *testing.T, tag *sim.Tag) string {
	t.Helper()
	msg, err := tag.ReadMessage()
	require.NoError(t, err)
	decoded := ndef.DecodeMessage(msg)
	require.NotEmpty(t, decoded)
	return decoded[0].PayloadAsString
}

func TestSimDeliveryIsAsynchronous(t *testing.T) {
	t.Parallel()

	d := sim.New()
	c := newController(t, d)
	results := make(chan TagResult, 1)
	release := make(chan struct{})

	require.NoError(t, c.ListenForTags(context.Background(), func(r TagResult) {
		results <- r
		<-release
	}, ListenerOptions{}))

	// Present returns while the listener is still blocked
	tag := sim.NewTextTag([]byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, "hello")
	d.Present(tag)
	r := receive(t, results)
	close(release)

	require.NoError(t, r.Err)
	assert.Equal(t, tag.UID(), r.Tag.UID)
	assert.Equal(t, 0, d.ActiveSessions())
}

func TestSimTagAlreadyInField(t *testing.T) {
	t.Parallel()

	d := sim.New()
	c := newController(t, d)
	d.Present(sim.NewTextTag(nil, "already here"))

	results := make(chan NdefResult, 1)
	require.NoError(t, c.ListenForNdef(context.Background(), func(r NdefResult) { results <- r },
		ListenerOptions{StopAfterFirstRead: true}))

	r := receive(t, results)
	require.NoError(t, r.Err)
	assert.Equal(t, "already here", r.Data.Message[0].PayloadAsString)
	assert.True(t, r.Data.Writable)
	assert.Equal(t, 144, r.Data.MaxSize)
	d.Wait()
	flush(t, c)
	flush(t, c)
	assert.Equal(t, StateInvalidated, c.State())
	assert.Equal(t, 0, d.ActiveSessions())
}

func TestSimNotNdefTag(t *testing.T) {
	t.Parallel()

	d := sim.New()
	c := newController(t, d)
	results := make(chan NdefResult, 1)

	require.NoError(t, c.ListenForNdef(context.Background(), func(r NdefResult) { results <- r }, ListenerOptions{}))
	d.Present(sim.NewUnformattedTag(nil))

	r := receive(t, results)
	require.ErrorIs(t, r.Err, nfcsession.ErrTagNotNDEF)
	assert.Contains(t, r.Err.Error(), "Tag is not NDEF compliant")
}

func TestSimWriteTagAndWait(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr error
		tag     func() *sim.Tag
		name    string
		text    string
	}{
		{
			name: "writes text",
			tag:  func() *sim.Tag { return sim.NewTextTag(nil, "old") },
			text: "new content",
		},
		{
			name: "read only tag",
			tag: func() *sim.Tag {
				tag := sim.NewTextTag(nil, "locked")
				tag.SetReadOnly(true)
				return tag
			},
			text:    "new content",
			wantErr: nfcsession.ErrTagReadOnly,
		},
		{
			name:    "not NDEF compliant",
			tag:     func() *sim.Tag { return sim.NewUnformattedTag(nil) },
			text:    "new content",
			wantErr: nfcsession.ErrTagNotNDEF,
		},
		{
			name:    "message larger than tag",
			tag:     func() *sim.Tag { return sim.NewTag(sim.NTAG213, nil) },
			text:    strings.Repeat("x", 200),
			wantErr: nfcsession.ErrTagTooSmall,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := sim.New()
			c := newController(t, d)
			tag := tt.tag()
			d.Present(tag)

			err := c.WriteTagAndWait(context.Background(), ndef.WriteOptions{
				TextRecords: []ndef.TextRecordSpec{{Text: tt.text}},
			})
			d.Wait()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				var sie *nfcsession.SessionInvalidatedError
				require.ErrorAs(t, err, &sie)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.text, readText(t, tag))
			assert.Equal(t, StateInvalidated, c.State())
		})
	}
}

func TestSimWriteWaitsForTag(t *testing.T) {
	t.Parallel()

	d := sim.New()
	c := newController(t, d)
	tag := sim.NewTag(sim.NTAG215, nil)
	errs := make(chan error, 1)

	go func() {
		errs <- c.WriteTagAndWait(context.Background(), ndef.WriteOptions{
			URIRecords: []ndef.URIRecordSpec{{URI: "https://zaparoo.org/docs"}},
		})
	}()
	require.Eventually(t, func() bool { return d.ActiveSessions() == 1 }, testTimeout, pollInterval)

	d.Present(tag)
	require.NoError(t, receive(t, errs))
	assert.Equal(t, "https://zaparoo.org/docs", readText(t, tag))
}

func TestSimEraseTagAndWait(t *testing.T) {
	t.Parallel()

	d := sim.New()
	c := newController(t, d)
	tag := sim.NewTextTag(nil, "to be erased")
	d.Present(tag)

	require.NoError(t, c.EraseTagAndWait(context.Background()))
	d.Wait()

	msg, err := tag.ReadMessage()
	require.NoError(t, err)
	assert.True(t, ndef.IsEmptyMessage(msg))
}

func TestSimWaitCancelled(t *testing.T) {
	t.Parallel()

	d := sim.New()
	c := newController(t, d)
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)

	go func() {
		errs <- c.EraseTagAndWait(ctx)
	}()
	require.Eventually(t, func() bool { return d.ActiveSessions() == 1 }, testTimeout, pollInterval)

	cancel()
	require.ErrorIs(t, receive(t, errs), context.Canceled)
	assert.Equal(t, 0, d.ActiveSessions())
	assert.Equal(t, StateInvalidated, c.State())
}

func TestSimWaitSuperseded(t *testing.T) {
	t.Parallel()

	d := sim.New()
	c := newController(t, d)
	errs := make(chan error, 1)

	go func() {
		errs <- c.WriteTagAndWait(context.Background(), ndef.WriteOptions{
			TextRecords: []ndef.TextRecordSpec{{Text: "never written"}},
		})
	}()
	require.Eventually(t, func() bool { return d.ActiveSessions() == 1 }, testTimeout, pollInterval)

	require.NoError(t, c.ListenForTags(context.Background(), func(TagResult) {}, ListenerOptions{}))
	require.ErrorIs(t, receive(t, errs), nfcsession.ErrSessionCancelled)
	assert.Equal(t, 1, d.ActiveSessions())
}

func TestSimCancelEventsAreDropped(t *testing.T) {
	t.Parallel()

	d := sim.New(sim.WithCancelEvents())
	c := newController(t, d)
	results := make(chan NdefResult, 1)
	ctx := context.Background()

	require.NoError(t, c.ListenForNdef(ctx, func(r NdefResult) { results <- r }, ListenerOptions{}))
	c.InvalidateSession()
	flush(t, c)
	assert.Empty(t, results)

	require.NoError(t, c.ListenForNdef(ctx, func(r NdefResult) { results <- r }, ListenerOptions{}))
	require.NoError(t, c.ListenForNdef(ctx, func(r NdefResult) { results <- r }, ListenerOptions{}))
	flush(t, c)
	assert.Empty(t, results)
	assert.Equal(t, StateActive, c.State())
	assert.Equal(t, 1, d.ActiveSessions())
}

func TestSimRadioFailure(t *testing.T) {
	t.Parallel()

	d := sim.New()
	c := newController(t, d)
	results := make(chan TagResult, 1)

	require.NoError(t, c.ListenForTags(context.Background(), func(r TagResult) { results <- r }, ListenerOptions{}))
	d.Fail(nfcsession.ErrSessionCancelled)

	r := receive(t, results)
	require.ErrorIs(t, r.Err, nfcsession.ErrSessionCancelled)
}

func TestSimEnabled(t *testing.T) {
	t.Parallel()

	d := sim.New()
	c := newController(t, d)
	assert.True(t, c.Enabled())
	d.SetEnabled(false)
	assert.True(t, c.Available())
	assert.False(t, c.Enabled())

	off := newController(t, sim.New(sim.WithoutRadio()))
	assert.False(t, off.Available())
	require.ErrorIs(t, off.EraseTag(context.Background()), nfcsession.ErrUnavailable)
}
