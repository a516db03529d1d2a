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

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Setup swaps the global logger, so these tests do not run in parallel.

func TestSetupConsoleAndFile(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "nfcsession.log")

	logger, closer, err := Setup(Options{Console: &console, Level: "debug", File: path})
	require.NoError(t, err)

	logger.Debug().Str("uid", "04abcdef").Msg("tag detected")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "tag detected")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"uid":"04abcdef"`)
	assert.Contains(t, string(data), `"caller"`)
}

func TestSetupLevel(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var console bytes.Buffer
	logger, _, err := Setup(Options{Console: &console, Level: "warn"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	logger.Info().Msg("hidden")
	assert.NotContains(t, console.String(), "hidden")

	_, _, err = Setup(Options{Level: "chatty"})
	require.Error(t, err)
}
