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

package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	vals, err := Load(afero.NewMemMapFs(), "/etc/nfcsession/config.toml")
	require.NoError(t, err)
	assert.Equal(t, Defaults, vals)
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	path := "/cfg/config.toml"
	data := `
[reader]
driver = "pn532"
transport = "i2c"
path = "/dev/i2c-1"

[listener]
scan_hint = "Tap a card"
stop_after_first_read = true
`
	require.NoError(t, afero.WriteFile(fs, path, []byte(data), 0o600))

	vals, err := Load(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "i2c", vals.Reader.Transport)
	assert.Equal(t, "/dev/i2c-1", vals.Reader.Path)
	assert.Equal(t, Defaults.Remote, vals.Remote)
	assert.Equal(t, Defaults.Log, vals.Log)

	opts := vals.Listener.ListenerOptions()
	assert.Equal(t, "Tap a card", opts.ScanHint)
	assert.True(t, opts.StopAfterFirstRead)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{name: "syntax", data: "[reader\n"},
		{name: "unknown driver", data: "[reader]\ndriver = \"nfc-usb\"\n"},
		{name: "bad transport", data: "[reader]\ntransport = \"usb\"\n"},
		{name: "bad listen", data: "[remote]\nlisten = \"nowhere\"\n"},
		{name: "bad level", data: "[log]\nlevel = \"loud\"\n"},
		{name: "long hint", data: "[listener]\nscan_hint = \"" + strings.Repeat("x", 300) + "\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/c.toml", []byte(tt.data), 0o600))
			vals, err := Load(fs, "/c.toml")
			require.Error(t, err)
			assert.Equal(t, Defaults, vals)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	path := filepath.Join("/home/user/.config", AppName, FileName)

	vals := Defaults
	vals.Reader = Reader{Driver: DriverRemote}
	vals.Remote.Listen = "0.0.0.0:9000"
	vals.Log.File = "/tmp/nfc.log"
	require.NoError(t, Save(fs, path, vals))

	got, err := Load(fs, path)
	require.NoError(t, err)
	assert.Equal(t, vals, got)

	bad := Defaults
	bad.Reader.Driver = "magic"
	require.ErrorIs(t, Save(fs, path, bad), ErrInvalid)
}

func TestDefaultPaths(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FileName, filepath.Base(DefaultPath()))
	assert.Equal(t, AppName, filepath.Base(filepath.Dir(DefaultPath())))
	assert.Equal(t, LogName, filepath.Base(DefaultLogPath()))
}
