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

//go:build libnfc

package libnfc

import (
	"fmt"

	"github.com/clausecker/nfc/v2"
)

// maxFrame is the largest frame libnfc hands back.
const maxFrame = 262

type libnfcDevice struct {
	device nfc.Device
}

// Open opens the libnfc device at conn, or the first device when conn is
// empty, and puts it in initiator mode.
func Open(conn string, opts ...Option) (*Driver, error) {
	dev, err := nfc.Open(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libnfc device %q: %w", conn, err)
	}
	if err := dev.InitiatorInit(); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("failed to initialize libnfc device: %w", err)
	}
	return New(&libnfcDevice{device: dev}, opts...), nil
}

// ListDevices returns the connection strings of the devices libnfc finds.
func ListDevices() ([]string, error) {
	devices, err := nfc.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("failed to list libnfc devices: %w", err)
	}
	return devices, nil
}

func (d *libnfcDevice) Poll() (*Target, error) {
	modulation := nfc.Modulation{Type: nfc.ISO14443a, BaudRate: nfc.Nbr106}
	targets, err := d.device.InitiatorListPassiveTargets(modulation)
	if err != nil {
		return nil, fmt.Errorf("failed to list passive targets: %w", err)
	}
	for _, target := range targets {
		isoA, ok := target.(*nfc.ISO14443aTarget)
		if !ok || isoA.UIDLen <= 0 || int(isoA.UIDLen) > len(isoA.UID) {
			continue
		}
		return &Target{
			UID: append([]byte{}, isoA.UID[:isoA.UIDLen]...),
			SAK: isoA.Sak,
		}, nil
	}
	return nil, nil //nolint:nilnil // empty field
}

func (d *libnfcDevice) Transceive(tx []byte) ([]byte, error) {
	var rx [maxFrame]byte
	n, err := d.device.InitiatorTransceiveBytes(tx, rx[:], 0)
	if err != nil {
		return nil, fmt.Errorf("transceive: %w", err)
	}
	return append([]byte{}, rx[:n]...), nil
}

func (d *libnfcDevice) Close() error {
	if err := d.device.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
