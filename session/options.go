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
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Option configures a Controller.
type Option func(*Controller)

// WithScheduler delivers listener callbacks through s instead of an owned
// MainLoop. The caller is responsible for running s.
func WithScheduler(s Scheduler) Option {
	return func(c *Controller) {
		c.scheduler = s
	}
}

// WithClock sets the clock used to timestamp results.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// WithLogger sets the controller logger. The global zerolog logger is used
// otherwise.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// ListenerOptions are per-listener settings.
type ListenerOptions struct {
	// ScanHint is advisory text passed to the driver.
	ScanHint string `toml:"scan_hint" json:"scanHint,omitempty"`
	// StopAfterFirstRead ends an NDEF session after the first delivery.
	StopAfterFirstRead bool `toml:"stop_after_first_read" json:"stopAfterFirstRead,omitempty"`
}
