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

package microsd

import (
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Bus is the SPI link to the card. Implementations block until the transfer
// completes. Read clocks out 0xFF and stores what the card sends.
type Bus interface {
	// Write transmits p and discards whatever the card sends back
	Write(p []byte) error

	// Read fills p with bytes received while transmitting 0xFF
	Read(p []byte) error

	// SetClockRate changes the serial clock for subsequent transfers
	SetClockRate(f physic.Frequency) error
}

// ChipSelect drives the card's chip-select line. gpio.Low selects the card.
// Any periph.io gpio.PinOut satisfies it.
type ChipSelect interface {
	Out(l gpio.Level) error
}

// Clock is the time source used for power-up delays, poll pacing and
// deadlines.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Transport is a bus and chip-select pair provided by one piece of hardware,
// such as a spidev port with a GPIO or a USB SPI bridge.
type Transport interface {
	Bus
	ChipSelect

	// Close releases the underlying hardware
	Close() error

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportSPI represents a Linux spidev bus with a GPIO chip-select.
	TransportSPI TransportType = "spi"
	// TransportBusPirate represents a Bus Pirate SPI bridge on a serial port.
	TransportBusPirate TransportType = "buspirate"
	// TransportEmulator represents the in-process card emulator.
	TransportEmulator TransportType = "emulator"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)
