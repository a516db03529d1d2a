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

//go:build !deadlock

// Package syncutil provides the mutex types used across the module. Build
// with -tags=deadlock to swap in github.com/sasha-s/go-deadlock.
package syncutil

import "sync"

// DeadlockDetection reports whether the deadlock detector is compiled in.
const DeadlockDetection = false

// Mutex is a sync.Mutex.
//
//nolint:gocritic // embedding exposes Lock and Unlock
type Mutex struct {
	sync.Mutex
}

// RWMutex is a sync.RWMutex.
//
//nolint:gocritic // embedding exposes the lock methods
type RWMutex struct {
	sync.RWMutex
}
