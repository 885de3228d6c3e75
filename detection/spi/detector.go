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

// Package spi detects Linux spidev ports that can carry an SD card.
package spi

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/ZaparooProject/go-microsd/detection"
)

const transportName = "spi"

var spidevName = regexp.MustCompile(`^spidev(\d+)\.(\d+)$`)

type detector struct {
	devDir string
	isChar func(path string) (bool, error)
}

// New creates a spidev detector
func New() detection.Detector {
	return &detector{devDir: "/dev", isChar: isCharDevice}
}

func init() {
	detection.RegisterDetector(New())
}

func (*detector) Transport() string {
	return transportName
}

// Detect lists spidev nodes. A spidev node says nothing about whether a card
// is wired to it, so results carry low confidence.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	if d.isChar == nil {
		return nil, detection.ErrUnsupportedPlatform
	}
	if opts == nil {
		def := detection.DefaultOptions()
		opts = &def
	}

	paths, err := filepath.Glob(filepath.Join(d.devDir, "spidev*"))
	if err != nil {
		return nil, fmt.Errorf("list spidev nodes: %w", err)
	}

	var devices []detection.DeviceInfo
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return devices, detection.ErrDetectionTimeout
		}
		if detection.IsPathIgnored(path, opts.IgnorePaths) {
			continue
		}
		info, ok := parseNode(path)
		if !ok {
			continue
		}
		char, err := d.isChar(path)
		if err != nil || !char {
			continue
		}
		devices = append(devices, info)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func parseNode(path string) (detection.DeviceInfo, bool) {
	m := spidevName.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return detection.DeviceInfo{}, false
	}
	return detection.DeviceInfo{
		Transport:  transportName,
		Path:       path,
		Name:       fmt.Sprintf("SPI%s.%s", m[1], m[2]),
		Confidence: detection.Low,
		Metadata: map[string]string{
			"bus":         m[1],
			"chip_select": m[2],
		},
	}, true
}
