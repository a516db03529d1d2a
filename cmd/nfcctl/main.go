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

// Command nfcctl reads, writes and erases NFC tags through a session
// controller, and bridges readers between machines.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/ZaparooProject/go-nfcsession"
	"github.com/ZaparooProject/go-nfcsession/driver/libnfc"
	"github.com/ZaparooProject/go-nfcsession/driver/pn532"
	"github.com/ZaparooProject/go-nfcsession/driver/remote"
	"github.com/ZaparooProject/go-nfcsession/driver/sim"
	"github.com/ZaparooProject/go-nfcsession/internal/config"
	"github.com/ZaparooProject/go-nfcsession/internal/logging"
	"github.com/ZaparooProject/go-nfcsession/pkg/ndef"
	"github.com/ZaparooProject/go-nfcsession/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

type options struct {
	// listening is called with the bridge address once it accepts devices
	listening  func(net.Addr)
	configPath string
	driver     string
	device     string
	writeText  string
	writeURI   string
	relayURL   string
	simText    string
	listen     string
	erase      bool
	tags       bool
	once       bool
	list       bool
	debug      bool
}

// Package-level flag variables
var (
	flagConfig  string
	flagDriver  string
	flagDevice  string
	flagWrite   string
	flagURI     string
	flagRelay   string
	flagSimText string
	flagListen  string
	flagErase   bool
	flagTags    bool
	flagOnce    bool
	flagList    bool
	flagDebug   bool
)

func init() {
	flag.StringVar(&flagConfig, "config", config.DefaultPath(), "Config file path")
	flag.StringVar(&flagDriver, "driver", "", "Reader driver: sim, pn532, libnfc or remote")
	flag.StringVar(&flagDevice, "device", "", "Device as [transport:]path (auto-detect if empty)")
	flag.StringVar(&flagWrite, "write", "", "Text to write to the next scanned tag (exits after write)")
	flag.StringVar(&flagURI, "uri", "", "URI to write to the next scanned tag (exits after write)")
	flag.StringVar(&flagRelay, "relay", "", "Serve the local reader to a bridge at this websocket URL")
	flag.StringVar(&flagSimText, "sim-text", "**launch.random", "Text stored on the simulated tag")
	flag.StringVar(&flagListen, "listen", "", "Bridge listen address for the remote driver")
	flag.BoolVar(&flagErase, "erase", false, "Erase the next scanned tag (exits after erase)")
	flag.BoolVar(&flagTags, "tags", false, "Report the first tag identity instead of NDEF content")
	flag.BoolVar(&flagOnce, "once", false, "Exit after the first read")
	flag.BoolVar(&flagList, "list", false, "List candidate reader ports and exit")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
}

func parseOptions() *options {
	return &options{
		configPath: flagConfig,
		driver:     flagDriver,
		device:     flagDevice,
		writeText:  flagWrite,
		writeURI:   flagURI,
		relayURL:   flagRelay,
		simText:    flagSimText,
		listen:     flagListen,
		erase:      flagErase,
		tags:       flagTags,
		once:       flagOnce,
		list:       flagList,
		debug:      flagDebug,
	}
}

// parseDevice splits "transport:path". A bare path has no transport.
func parseDevice(device string) (transport, path string) {
	for _, t := range []string{"uart", "i2c", "spi"} {
		if rest, ok := strings.CutPrefix(device, t+":"); ok {
			return t, rest
		}
	}
	return "", device
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(fs afero.Fs, opts *options) (config.Values, error) {
	vals, err := config.Load(fs, opts.configPath)
	if err != nil {
		return vals, err
	}
	if opts.driver != "" {
		vals.Reader.Driver = opts.driver
	}
	if opts.device != "" {
		vals.Reader.Transport, vals.Reader.Path = parseDevice(opts.device)
	}
	if opts.listen != "" {
		vals.Remote.Listen = opts.listen
	}
	if opts.once {
		vals.Listener.StopAfterFirstRead = true
	}
	if opts.debug {
		vals.Log.Level = "debug"
	}
	if err := vals.Validate(); err != nil {
		return vals, err
	}
	return vals, nil
}

type closeFunc func(context.Context) error

func openDriver(ctx context.Context, opts *options, vals config.Values) (nfcsession.Driver, closeFunc, error) {
	switch vals.Reader.Driver {
	case config.DriverSim:
		d := sim.New()
		d.Present(sim.NewTextTag(nil, opts.simText))
		return d, func(context.Context) error {
			d.Wait()
			return nil
		}, nil
	case config.DriverPN532:
		d, err := pn532.Open(ctx, pn532.Config{Transport: vals.Reader.Transport, Path: vals.Reader.Path})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open PN532 reader: %w", err)
		}
		return d, d.Close, nil
	case config.DriverLibNFC:
		d, err := libnfc.Open(vals.Reader.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open libnfc reader: %w", err)
		}
		return d, d.Close, nil
	default:
		return nil, nil, fmt.Errorf("driver %q cannot be opened locally", vals.Reader.Driver)
	}
}

func printJSON(out io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, _ = fmt.Fprintln(out, string(data))
	return nil
}

func writeOptions(opts *options) ndef.WriteOptions {
	var wo ndef.WriteOptions
	if opts.writeText != "" {
		wo.TextRecords = []ndef.TextRecordSpec{{Text: opts.writeText}}
	}
	if opts.writeURI != "" {
		wo.URIRecords = []ndef.URIRecordSpec{{URI: opts.writeURI}}
	}
	return wo
}

func runWriteMode(ctx context.Context, c *session.Controller, opts *options, out io.Writer) error {
	_, _ = fmt.Fprintln(out, session.WriteScanHint)
	if err := c.WriteTagAndWait(ctx, writeOptions(opts)); err != nil {
		return fmt.Errorf("write operation failed: %w", err)
	}
	_, _ = fmt.Fprintln(out, sim.AlertWrite)
	return nil
}

func runEraseMode(ctx context.Context, c *session.Controller, out io.Writer) error {
	_, _ = fmt.Fprintln(out, session.EraseScanHint)
	if err := c.EraseTagAndWait(ctx); err != nil {
		return fmt.Errorf("erase operation failed: %w", err)
	}
	_, _ = fmt.Fprintln(out, "Erased NFC tag.")
	return nil
}

func runTagMode(ctx context.Context, c *session.Controller, vals config.Values, out io.Writer) error {
	results := make(chan session.TagResult, 1)
	err := c.ListenForTags(ctx, func(r session.TagResult) {
		select {
		case results <- r:
		default:
		}
	}, vals.Listener.ListenerOptions())
	if err != nil {
		return fmt.Errorf("failed to listen for tags: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-results:
		if r.Err != nil {
			return fmt.Errorf("tag session failed: %w", r.Err)
		}
		return printJSON(out, r.Tag)
	}
}

func runReadMode(ctx context.Context, c *session.Controller, vals config.Values, out io.Writer) error {
	results := make(chan session.NdefResult, 16)
	err := c.ListenForNdef(ctx, func(r session.NdefResult) {
		select {
		case results <- r:
		default:
			log.Warn().Msg("dropping NDEF result, output is behind")
		}
	}, vals.Listener.ListenerOptions())
	if err != nil {
		return fmt.Errorf("failed to listen for NDEF: %w", err)
	}
	log.Info().Msg("listening for NDEF tags, press Ctrl+C to stop")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-results:
			if r.Err != nil {
				return fmt.Errorf("NDEF session failed: %w", r.Err)
			}
			if err := printJSON(out, r.Data); err != nil {
				return err
			}
			if vals.Listener.StopAfterFirstRead {
				return nil
			}
		}
	}
}

// runController drives one controller operation on driver.
func runController(
	ctx context.Context,
	driver nfcsession.Driver,
	opts *options,
	vals config.Values,
	logger zerolog.Logger,
	out io.Writer,
) (err error) {
	c := session.New(driver, session.WithLogger(logger))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := c.Close(closeCtx); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close controller: %w", closeErr)
		}
	}()

	if !c.Available() {
		return nfcsession.ErrUnavailable
	}

	switch {
	case opts.writeText != "" || opts.writeURI != "":
		return runWriteMode(ctx, c, opts, out)
	case opts.erase:
		return runEraseMode(ctx, c, out)
	case opts.tags:
		return runTagMode(ctx, c, vals, out)
	default:
		return runReadMode(ctx, c, vals, out)
	}
}

// runBridge accepts remote devices and runs the controller on the first
// one to register.
func runBridge(ctx context.Context, opts *options, vals config.Values, logger zerolog.Logger, out io.Writer) error {
	ln, err := net.Listen("tcp", vals.Remote.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", vals.Remote.Listen, err)
	}
	bridge := remote.NewServer()
	srv := &http.Server{
		Handler:           bridge.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("bridge listening for devices")
	if opts.listening != nil {
		opts.listening(ln.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("bridge server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			bridge.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		device, err := bridge.WaitForDevice(gctx)
		if err != nil {
			return err
		}
		log.Info().Str("device", device.ID()).Msg("using remote device")
		return runController(gctx, device, opts, vals, logger, out)
	})
	return g.Wait()
}

func runRelay(ctx context.Context, opts *options, vals config.Values) (err error) {
	driver, closeDriver, err := openDriver(ctx, opts, vals)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := closeDriver(closeCtx); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	name, hostErr := os.Hostname()
	if hostErr != nil || name == "" {
		name = "nfcctl"
	}
	return remote.NewRelay(driver, name, runtime.GOOS).Run(ctx, opts.relayURL) //nolint:wrapcheck // already wrapped
}

func runList(out io.Writer) error {
	ports, err := pn532.ListPorts()
	if err != nil {
		return fmt.Errorf("failed to list ports: %w", err)
	}
	for _, p := range ports {
		_, _ = fmt.Fprintf(out, "pn532\t%s\n", p)
	}
	devices, err := libnfc.ListDevices()
	if err != nil && !errors.Is(err, libnfc.ErrNotCompiled) {
		return fmt.Errorf("failed to list libnfc devices: %w", err)
	}
	for _, d := range devices {
		_, _ = fmt.Fprintf(out, "libnfc\t%s\n", d)
	}
	return nil
}

func run(ctx context.Context, fs afero.Fs, opts *options, out, errOut io.Writer) (err error) {
	if opts.list {
		return runList(out)
	}

	vals, err := loadConfig(fs, opts)
	if err != nil {
		return err
	}
	logger, logCloser, err := logging.Setup(logging.Options{
		Console: errOut,
		Level:   vals.Log.Level,
		File:    vals.Log.File,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	if opts.relayURL != "" {
		return runRelay(ctx, opts, vals)
	}
	if vals.Reader.Driver == config.DriverRemote {
		return runBridge(ctx, opts, vals, logger, out)
	}

	driver, closeDriver, err := openDriver(ctx, opts, vals)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := closeDriver(closeCtx); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return runController(ctx, driver, opts, vals, logger, out)
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	opts := parseOptions()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Fprint(os.Stderr, "\nShutting down gracefully...\n")
		cancel()
	}()

	if err := run(ctx, afero.NewOsFs(), opts, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
