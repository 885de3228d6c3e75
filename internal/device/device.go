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

// Package device turns command-line device strings into card transports.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang/glog"

	microsd "github.com/ZaparooProject/go-microsd"
	"github.com/ZaparooProject/go-microsd/detection"
	// Import all detectors to register them
	_ "github.com/ZaparooProject/go-microsd/detection/spi"
	_ "github.com/ZaparooProject/go-microsd/detection/uart"
	"github.com/ZaparooProject/go-microsd/emulator"
	"github.com/ZaparooProject/go-microsd/transport/buspirate"
	"github.com/ZaparooProject/go-microsd/transport/spi"
)

// ErrChipSelectRequired is returned when a spidev port is opened without a
// chip-select pin name
var ErrChipSelectRequired = errors.New("spi transport needs a chip-select pin")

// Target names the hardware to open
type Target struct {
	// Device is a spidev path, "spi:<path>", "buspirate:<port>" or a bare
	// serial port. Empty runs detection.
	Device string
	// ChipSelect is the GPIO name used with spidev ports
	ChipSelect string
	// Image, when set, serves an emulated card backed by this file
	Image string
}

type openers struct {
	spi       func(bus, cs string) (microsd.Transport, error)
	busPirate func(port string) (microsd.Transport, error)
	image     func(path string) (microsd.Transport, error)
	detect    func(ctx context.Context) ([]detection.DeviceInfo, error)
}

var defaultOpeners = openers{
	spi: func(bus, cs string) (microsd.Transport, error) {
		t, err := spi.New(bus, cs)
		if err != nil {
			return nil, err
		}
		return t, nil
	},
	busPirate: func(port string) (microsd.Transport, error) {
		t, err := buspirate.New(port)
		if err != nil {
			return nil, err
		}
		return t, nil
	},
	image: OpenImage,
	detect: func(ctx context.Context) ([]detection.DeviceInfo, error) {
		opts := detection.DefaultOptions()
		return detection.DetectAll(ctx, &opts)
	},
}

// Open resolves t into a transport
func Open(ctx context.Context, t Target) (microsd.Transport, error) {
	return defaultOpeners.open(ctx, t)
}

func (o openers) open(ctx context.Context, t Target) (microsd.Transport, error) {
	if t.Image != "" {
		return o.image(t.Image)
	}
	if t.Device != "" {
		return o.fromString(t.Device, t.ChipSelect)
	}

	devices, err := o.detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("auto-detect: %w", err)
	}
	var errs []error
	for _, d := range devices {
		glog.Infof("trying %s (%s, %s confidence)", d, d.Name, d.Confidence)
		tr, err := o.fromString(d.String(), t.ChipSelect)
		if err == nil {
			return tr, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", d, err))
	}
	return nil, errors.Join(append([]error{detection.ErrNoDevicesFound}, errs...)...)
}

func (o openers) fromString(device, cs string) (microsd.Transport, error) {
	kind, path, found := strings.Cut(device, ":")
	if !found || (kind != "spi" && kind != "buspirate") {
		// Windows COM ports and bare paths have no prefix
		kind, path = "", device
		if strings.Contains(strings.ToLower(device), "spidev") {
			kind = "spi"
		}
	}

	switch kind {
	case "spi":
		if cs == "" {
			return nil, ErrChipSelectRequired
		}
		tr, err := o.spi(path, cs)
		if err != nil {
			return nil, fmt.Errorf("failed to create SPI transport: %w", err)
		}
		return tr, nil
	default:
		tr, err := o.busPirate(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create Bus Pirate transport: %w", err)
		}
		return tr, nil
	}
}

// imageTransport serves an emulated card from an image file
type imageTransport struct {
	*emulator.Card
	image *emulator.Image
}

// OpenImage returns a transport with an emulated high-capacity card whose
// blocks are stored in the file at path
func OpenImage(path string) (microsd.Transport, error) {
	img, err := emulator.OpenImage(path)
	if err != nil {
		return nil, err
	}
	return &imageTransport{Card: emulator.New(img), image: img}, nil
}

func (t *imageTransport) Close() error {
	if err := t.image.Sync(); err != nil {
		_ = t.image.Close()
		return err
	}
	return t.image.Close()
}

func (*imageTransport) Type() microsd.TransportType {
	return microsd.TransportEmulator
}
