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

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ZaparooProject/go-nfcsession/driver/remote"
	"github.com/ZaparooProject/go-nfcsession/driver/sim"
	"github.com/ZaparooProject/go-nfcsession/internal/config"
	"github.com/ZaparooProject/go-nfcsession/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run replaces the global logger, so the run tests are not parallel.

const testTimeout = 5 * time.Second

func keepLogger(t *testing.T) {
	t.Helper()
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
}

func runSim(t *testing.T, opts *options) string {
	t.Helper()
	keepLogger(t)

	opts.configPath = "/missing/config.toml"
	opts.driver = config.DriverSim

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	var out bytes.Buffer
	require.NoError(t, run(ctx, afero.NewMemMapFs(), opts, &out, io.Discard))
	return out.String()
}

func TestParseDevice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		device        string
		wantTransport string
		wantPath      string
	}{
		{device: "/dev/ttyUSB0", wantPath: "/dev/ttyUSB0"},
		{device: "uart:COM3", wantTransport: "uart", wantPath: "COM3"},
		{device: "i2c:/dev/i2c-1", wantTransport: "i2c", wantPath: "/dev/i2c-1"},
		{device: "spi:SPI0.0", wantTransport: "spi", wantPath: "SPI0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			t.Parallel()

			transport, path := parseDevice(tt.device)
			assert.Equal(t, tt.wantTransport, transport)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/c.toml", []byte("[reader]\ndriver = \"libnfc\"\n"), 0o600))

	vals, err := loadConfig(fs, &options{configPath: "/c.toml"})
	require.NoError(t, err)
	assert.Equal(t, config.DriverLibNFC, vals.Reader.Driver)

	vals, err = loadConfig(fs, &options{
		configPath: "/c.toml",
		driver:     config.DriverPN532,
		device:     "i2c:/dev/i2c-1",
		listen:     "0.0.0.0:7000",
		once:       true,
		debug:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, config.DriverPN532, vals.Reader.Driver)
	assert.Equal(t, "i2c", vals.Reader.Transport)
	assert.Equal(t, "/dev/i2c-1", vals.Reader.Path)
	assert.Equal(t, "0.0.0.0:7000", vals.Remote.Listen)
	assert.True(t, vals.Listener.StopAfterFirstRead)
	assert.Equal(t, "debug", vals.Log.Level)

	_, err = loadConfig(fs, &options{configPath: "/c.toml", driver: "nfc-usb"})
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestRunReadSim(t *testing.T) {
	out := runSim(t, &options{once: true, simText: "**launch.system:snes"})
	assert.Contains(t, out, `"payloadAsString":"**launch.system:snes"`)
	assert.Contains(t, out, `"techList":["NfcA","MifareUltralight","Ndef"]`)
}

func TestRunTagsSim(t *testing.T) {
	out := runSim(t, &options{tags: true, simText: "x"})
	want := fmt.Sprintf(`"id":[%d,%d,%d`, sim.DefaultUID[0], sim.DefaultUID[1], sim.DefaultUID[2])
	assert.Contains(t, out, want)
}

func TestRunWriteSim(t *testing.T) {
	out := runSim(t, &options{writeText: "hello", writeURI: "https://zaparoo.org", simText: "old"})
	assert.Contains(t, out, session.WriteScanHint)
	assert.Contains(t, out, sim.AlertWrite)
}

func TestRunEraseSim(t *testing.T) {
	out := runSim(t, &options{erase: true, simText: "old"})
	assert.Contains(t, out, session.EraseScanHint)
	assert.Contains(t, out, "Erased NFC tag.")
}

func TestRunUnknownDriver(t *testing.T) {
	keepLogger(t)

	err := run(context.Background(), afero.NewMemMapFs(), &options{
		configPath: "/missing.toml",
		driver:     "magic",
	}, io.Discard, io.Discard)
	require.ErrorIs(t, err, config.ErrInvalid)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestRunBridge(t *testing.T) {
	keepLogger(t)

	addrs := make(chan net.Addr, 1)
	opts := &options{
		configPath: "/missing.toml",
		driver:     config.DriverRemote,
		listen:     freeAddr(t),
		once:       true,
		listening:  func(a net.Addr) { addrs <- a },
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	var out bytes.Buffer
	runErr := make(chan error, 1)
	go func() {
		runErr <- run(ctx, afero.NewMemMapFs(), opts, &out, io.Discard)
	}()

	var addr net.Addr
	select {
	case addr = <-addrs:
	case <-ctx.Done():
		t.Fatal("bridge did not start")
	}

	radio := sim.New()
	radio.Present(sim.NewTextTag(nil, "**launch.system:psx"))
	relayCtx, relayCancel := context.WithCancel(ctx)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		_ = remote.NewRelay(radio, "phone", "test").Run(relayCtx, "ws://"+addr.String()+"/ws")
	}()

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("bridge run did not finish")
	}
	relayCancel()
	<-relayDone

	assert.Contains(t, out.String(), `"payloadAsString":"**launch.system:psx"`)
}
