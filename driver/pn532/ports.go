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

package pn532

import (
	"fmt"
	"sort"

	"go.bug.st/serial"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Port is a candidate reader location.
type Port struct {
	Transport string `json:"transport"`
	Path      string `json:"path"`
}

// ListPorts enumerates serial ports and the I2C and SPI buses the host
// exposes. Bus enumeration errors are not fatal, serial errors are.
func ListPorts() ([]Port, error) {
	serialPorts, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports list: %w", err)
	}
	sort.Strings(serialPorts)

	ports := make([]Port, 0, len(serialPorts))
	for _, p := range serialPorts {
		ports = append(ports, Port{Transport: "uart", Path: p})
	}

	if _, err := host.Init(); err != nil {
		return ports, nil //nolint:nilerr // buses are optional
	}
	for _, ref := range i2creg.All() {
		ports = append(ports, Port{Transport: "i2c", Path: ref.Name})
	}
	for _, ref := range spireg.All() {
		ports = append(ports, Port{Transport: "spi", Path: ref.Name})
	}
	return ports, nil
}

// String renders the port the way Config accepts it on the command line.
func (p Port) String() string {
	return p.Transport + ":" + p.Path
}
