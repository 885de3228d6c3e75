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

/*
Package microsd provides a pure Go driver for SD and MMC cards in SPI mode.

The driver runs the SPI-mode power-up handshake, then reads and writes single
512-byte blocks and queries the card registers. It talks to the card through
two small interfaces, Bus and ChipSelect, so the same code runs on a Linux
spidev port, a USB SPI bridge or the in-process emulator.

Features:
  - Version 1 and version 2 cards, standard and high capacity
  - Single-block read and write with data-response checking
  - CSD and CID register access, capacity and sector count
  - Bounded waits on an injectable clock, with context cancellation
  - A FatFs-style block device adapter in the diskio package

Basic Usage:

	import (
	    "github.com/ZaparooProject/go-microsd"
	    "github.com/ZaparooProject/go-microsd/transport/spi"
	)

	// Open the SPI port and chip-select pin
	transport, err := spi.New("/dev/spidev0.0", "GPIO8")
	if err != nil {
	    log.Fatal(err)
	}
	defer transport.Close()

	// Initialize the card
	card, err := microsd.New(transport, transport)
	if err != nil {
	    log.Fatal(err)
	}

	block, err := card.ReadBlock(0)
	if err != nil {
	    log.Fatal(err)
	}

Transports:

The transport/spi package drives a periph.io SPI port with a GPIO
chip-select. The transport/buspirate package drives a Bus Pirate over a
serial port. Both implement Transport. The emulator package provides a card
backed by memory or a disk image for tests and tooling.

Error Handling:

Failures are returned as *CardError values wrapping one of the package
sentinel errors, so callers can use errors.Is:

	if errors.Is(err, microsd.ErrDeviceNotResponding) {
	    // card removed or not powered
	}

IsRetryable and GetErrorType classify errors for callers with their own retry
policy. The driver never retries a transfer by itself.

Concurrency:

A Card is not safe for concurrent use. Use diskio.Disk, or your own lock, to
share a card between goroutines.
*/
package microsd
