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
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMainLoopPreservesOrder(t *testing.T) {
	t.Parallel()

	l := NewMainLoop(zerolog.Nop())
	defer func() { require.NoError(t, l.Stop(context.Background())) }()

	var got []int
	for i := range 100 {
		l.Post(func() { got = append(got, i) })
	}
	done := make(chan struct{})
	l.Post(func() { close(done) })
	receive(t, done)

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestMainLoopRecoversPanics(t *testing.T) {
	t.Parallel()

	l := NewMainLoop(zerolog.Nop())
	defer func() { require.NoError(t, l.Stop(context.Background())) }()

	done := make(chan struct{})
	l.Post(func() { panic("boom") })
	l.Post(func() { close(done) })
	receive(t, done)
}

func TestMainLoopStop(t *testing.T) {
	t.Parallel()

	l := NewMainLoop(zerolog.Nop())
	started := make(chan struct{})
	release := make(chan struct{})
	l.Post(func() {
		close(started)
		<-release
	})
	receive(t, started)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Stop(ctx), context.DeadlineExceeded)

	ran := false
	l.Post(func() { ran = true })
	close(release)

	require.NoError(t, l.Stop(context.Background()))
	assert.False(t, ran, "tasks posted after Stop are dropped")
}

func TestSchedulerFunc(t *testing.T) {
	t.Parallel()

	var calls int
	s := SchedulerFunc(func(fn func()) { fn() })
	s.Post(func() { calls++ })
	assert.Equal(t, 1, calls)
}
