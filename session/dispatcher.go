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
	"fmt"
	"sync"

	"github.com/ZaparooProject/go-nfcsession/internal/syncutil"
	"github.com/rs/zerolog"
)

// Scheduler runs functions on the application's primary execution context.
// Post must not block and must preserve order.
type Scheduler interface {
	Post(fn func())
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(fn func())

// Post calls f(fn).
func (f SchedulerFunc) Post(fn func()) {
	f(fn)
}

// MainLoop is a Scheduler backed by one goroutine draining an unbounded
// FIFO. Drivers posting events never wait for listeners.
type MainLoop struct {
	logger   zerolog.Logger
	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	queue    []func()
	mu       syncutil.Mutex
	stopOnce sync.Once
	stopped  bool
}

// NewMainLoop starts a main loop. Stop it to release the goroutine.
func NewMainLoop(logger zerolog.Logger) *MainLoop {
	l := &MainLoop{
		logger: logger,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Post queues fn. Functions posted after Stop are dropped.
func (l *MainLoop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		l.logger.Debug().Msg("main loop stopped, dropping task")
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Stop ends the loop after the task in progress and waits for the
// goroutine to exit. Queued tasks that have not started are dropped.
func (l *MainLoop) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.stop)
	})

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for main loop: %w", ctx.Err())
	}
}

func (l *MainLoop) run() {
	defer close(l.done)
	for {
		fn, ok := l.next()
		if ok {
			l.call(fn)
			continue
		}

		select {
		case <-l.wake:
		case <-l.stop:
			return
		}
	}
}

func (l *MainLoop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

// call runs fn with panic recovery so a misbehaving listener cannot stop
// event delivery.
func (l *MainLoop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("main loop task panicked")
		}
	}()
	fn()
}
