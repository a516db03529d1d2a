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

//go:build deadlock

package syncutil

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
	deadlock "github.com/sasha-s/go-deadlock"
)

// DeadlockDetection reports whether the deadlock detector is compiled in.
const DeadlockDetection = true

// lockTimeout bounds how long any lock may be waited for.
const lockTimeout = 10 * time.Second

func init() {
	deadlock.Opts.DeadlockTimeout = lockTimeout
	deadlock.Opts.OnPotentialDeadlock = func() {
		log.Error().Dur("timeout", lockTimeout).Msg("potential deadlock, exiting")
		os.Exit(2)
	}
}

// Mutex is a deadlock.Mutex.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a deadlock.RWMutex.
type RWMutex struct {
	deadlock.RWMutex
}
