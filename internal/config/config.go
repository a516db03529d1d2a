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

// Package config loads the TOML settings of the nfcctl tool.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZaparooProject/go-nfcsession/session"
	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
)

const (
	AppName  = "nfcsession"
	FileName = "config.toml"
	LogName  = "nfcsession.log"

	DriverSim    = "sim"
	DriverPN532  = "pn532"
	DriverLibNFC = "libnfc"
	DriverRemote = "remote"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

type Values struct {
	Reader   Reader   `toml:"reader"`
	Listener Listener `toml:"listener"`
	Remote   Remote   `toml:"remote"`
	Log      Log      `toml:"log"`
}

type Reader struct {
	Driver    string `toml:"driver" validate:"oneof=sim pn532 libnfc remote"`
	Transport string `toml:"transport,omitempty" validate:"omitempty,oneof=uart i2c spi"`
	Path      string `toml:"path,omitempty"`
}

type Listener struct {
	ScanHint           string `toml:"scan_hint,omitempty" validate:"max=256"`
	StopAfterFirstRead bool   `toml:"stop_after_first_read"`
}

type Remote struct {
	Listen string `toml:"listen" validate:"required,hostname_port"`
}

type Log struct {
	Level   string `toml:"level" validate:"oneof=trace debug info warn error"`
	File    string `toml:"file,omitempty"`
	Console bool   `toml:"console"`
}

// Defaults apply to every key missing from the file.
var Defaults = Values{
	Reader: Reader{Driver: DriverPN532},
	Remote: Remote{Listen: "127.0.0.1:7498"},
	Log:    Log{Level: "info", Console: true},
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultPath returns the config file location under the XDG config home.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, FileName)
}

// DefaultLogPath returns the log file location under the XDG state home.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, AppName, LogName)
}

// ListenerOptions converts the listener section for the controller.
func (l Listener) ListenerOptions() session.ListenerOptions {
	return session.ListenerOptions{
		ScanHint:           l.ScanHint,
		StopAfterFirstRead: l.StopAfterFirstRead,
	}
}

// Validate checks every section.
func (v *Values) Validate() error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrInvalid, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Load reads path from fs over Defaults. A missing file yields Defaults.
func Load(fs afero.Fs, path string) (Values, error) {
	vals := Defaults

	data, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return vals, nil
	} else if err != nil {
		return vals, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &vals); err != nil {
		return Defaults, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := vals.Validate(); err != nil {
		return Defaults, err
	}
	return vals, nil
}

// Save writes vals to path, creating its directory.
func Save(fs afero.Fs, path string, vals Values) error {
	if err := vals.Validate(); err != nil {
		return err
	}
	data, err := toml.Marshal(&vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}
