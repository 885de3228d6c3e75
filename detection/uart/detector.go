// go-microsd
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-microsd.
//
// go-microsd is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-microsd is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-microsd; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package uart detects USB serial bridges that can drive an SD card over SPI.
package uart

import (
	"context"
	"fmt"

	"go.bug.st/serial/enumerator"

	"github.com/ZaparooProject/go-microsd/detection"
	"github.com/ZaparooProject/go-microsd/transport/buspirate"
)

const transportName = "buspirate"

// Known Bus Pirate USB identities
var knownBridges = map[string]struct {
	name       string
	confidence detection.Confidence
}{
	"0403:6001": {name: "Bus Pirate v3 (FT232R)", confidence: detection.Medium},
	"04D8:FB00": {name: "Bus Pirate v4", confidence: detection.High},
	"1209:7331": {name: "Bus Pirate 5", confidence: detection.High},
}

type detector struct {
	listPorts func() ([]*enumerator.PortDetails, error)
	probe     func(path string) error
}

// New creates a Bus Pirate detector
func New() detection.Detector {
	return &detector{
		listPorts: enumerator.GetDetailedPortsList,
		probe:     probeBusPirate,
	}
}

func init() {
	detection.RegisterDetector(New())
}

func (*detector) Transport() string {
	return transportName
}

// Detect matches USB serial ports against known bridge VID:PIDs. In Full
// mode each candidate is switched into binary SPI mode and back to confirm it.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	if opts == nil {
		def := detection.DefaultOptions()
		opts = &def
	}

	ports, err := d.listPorts()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}

	var devices []detection.DeviceInfo
	for _, port := range ports {
		if err := ctx.Err(); err != nil {
			return devices, detection.ErrDetectionTimeout
		}
		info, ok := match(port, opts)
		if !ok {
			continue
		}
		if opts.Mode == detection.Full && d.probe != nil {
			if err := d.probe(port.Name); err != nil {
				continue
			}
			info.Confidence = detection.High
			info.Metadata["probed"] = "true"
		}
		devices = append(devices, info)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func match(port *enumerator.PortDetails, opts *detection.Options) (detection.DeviceInfo, bool) {
	if port == nil || !port.IsUSB {
		return detection.DeviceInfo{}, false
	}
	if detection.IsPathIgnored(port.Name, opts.IgnorePaths) {
		return detection.DeviceInfo{}, false
	}
	vidpid := detection.FormatVIDPID(port.VID, port.PID)
	if detection.IsBlocked(vidpid, opts.Blocklist) {
		return detection.DeviceInfo{}, false
	}
	known, ok := knownBridges[vidpid]
	if !ok {
		return detection.DeviceInfo{}, false
	}

	name := known.name
	if port.Product != "" {
		name = port.Product
	}
	return detection.DeviceInfo{
		Transport:  transportName,
		Path:       port.Name,
		Name:       name,
		Confidence: known.confidence,
		Metadata: map[string]string{
			"vidpid":        vidpid,
			"serial_number": port.SerialNumber,
		},
	}, true
}

func probeBusPirate(path string) error {
	t, err := buspirate.New(path)
	if err != nil {
		return err
	}
	return t.Close()
}
