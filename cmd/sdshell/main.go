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

// Command sdshell is an interactive shell for poking at an SD card.
package main

import (
	"flag"
	"os"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	microsd "github.com/ZaparooProject/go-microsd"
	"github.com/ZaparooProject/go-microsd/internal/device"
)

var (
	devicePath = flag.String("device", "", "Device opened at start-up, same forms as the open command")
	chipSelect = flag.String("cs", "", "GPIO used as chip-select with spidev ports")
	image      = flag.String("image", "", "Open an emulated card backed by this image at start-up")
	timeout    = flag.Duration("timeout", 10*time.Second, "Timeout for each card operation")
	debug      = flag.Bool("debug", false, "Trace SPI commands and responses")
	evalOnly   = flag.Bool("e", false, "Run the command given as arguments and exit")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	if *debug {
		microsd.SetDebugEnabled(true)
		_ = flag.Set("logtostderr", "true")
	}

	s := newShell(ishell.New(), *chipSelect, *timeout)
	defer func() { _ = s.closeCard() }()

	if *devicePath != "" || *image != "" {
		if err := s.openCard(device.Target{Device: *devicePath, ChipSelect: *chipSelect, Image: *image}); err != nil {
			glog.Errorf("open: %v", err)
			glog.Flush()
			os.Exit(1)
		}
	}

	if args := flag.Args(); len(args) > 0 || *evalOnly {
		if err := s.ishell.Process(args...); err != nil {
			glog.Errorf("%v", err)
			glog.Flush()
			os.Exit(1)
		}
		return
	}
	s.ishell.Run()
}
