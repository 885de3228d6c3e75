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

// Package spi provides a periph.io SPI transport with a GPIO chip-select
package spi

import (
	"errors"
	"fmt"
	"sync"

	microsd "github.com/ZaparooProject/go-microsd"
	"github.com/golang/glog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// Initial clock frequency, low enough for any card during power-up.
	defaultClockRate = 100 * physic.KiloHertz

	dummyByte = 0xFF
)

// ErrClosed is returned by transfers on a closed transport
var ErrClosed = errors.New("transport closed")

type portOpener func(name string) (spi.PortCloser, error)

// Transport implements microsd.Transport over a SPI port and a GPIO pin
type Transport struct {
	port    spi.PortCloser
	conn    spi.Conn
	cs      gpio.PinOut
	open    portOpener
	busName string
	fill    []byte
	rate    physic.Frequency
	mode    spi.Mode
	mu      sync.Mutex
}

// Option configures a Transport
type Option func(*Transport)

// WithMode sets the SPI mode. SD cards use mode 0, which is the default.
func WithMode(mode spi.Mode) Option {
	return func(t *Transport) { t.mode = mode }
}

// WithClockRate sets the clock used until the driver changes it
func WithClockRate(f physic.Frequency) Option {
	return func(t *Transport) { t.rate = f }
}

// New opens the SPI port busName (for example "/dev/spidev0.0" or "SPI0.0")
// and the chip-select pin csName (for example "GPIO8"). The pin is driven
// high before the port is used.
func New(busName, csName string, opts ...Option) (*Transport, error) {
	// Initialize host
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	pin := gpioreg.ByName(csName)
	if pin == nil {
		return nil, fmt.Errorf("chip-select pin %s not found", csName)
	}

	return newTransport(busName, spireg.Open, pin, opts...)
}

func newTransport(busName string, open portOpener, cs gpio.PinOut, opts ...Option) (*Transport, error) {
	t := &Transport{
		cs:      cs,
		open:    open,
		busName: busName,
		rate:    defaultClockRate,
		mode:    spi.Mode0,
	}
	for _, opt := range opts {
		opt(t)
	}

	if err := cs.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("failed to drive chip-select high: %w", err)
	}
	if err := t.connect(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Transport) connect() error {
	port, err := t.open(t.busName)
	if err != nil {
		return fmt.Errorf("failed to open SPI port %s: %w", t.busName, err)
	}
	conn, err := port.Connect(t.rate, t.mode, 8)
	if err != nil {
		_ = port.Close()
		return fmt.Errorf("failed to connect to SPI port %s at %v: %w", t.busName, t.rate, err)
	}
	t.port = port
	t.conn = conn
	glog.V(2).Infof("spi: %s connected at %v, mode %v", t.busName, t.rate, t.mode)
	return nil
}

// Write transmits p
func (t *Transport) Write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrClosed
	}
	if err := t.conn.Tx(p, nil); err != nil {
		return fmt.Errorf("SPI write failed: %w", err)
	}
	return nil
}

// Read transmits 0xFF bytes and stores what the card sends into p
func (t *Transport) Read(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrClosed
	}
	if cap(t.fill) < len(p) {
		t.fill = make([]byte, len(p))
		for i := range t.fill {
			t.fill[i] = dummyByte
		}
	}
	if err := t.conn.Tx(t.fill[:len(p)], p); err != nil {
		return fmt.Errorf("SPI read failed: %w", err)
	}
	return nil
}

// SetClockRate reconnects the port at f. periph.io fixes the rate when the
// connection is made.
func (t *Transport) SetClockRate(f physic.Frequency) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return ErrClosed
	}
	if f == t.rate {
		return nil
	}
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("failed to close SPI port: %w", err)
	}
	t.port, t.conn = nil, nil
	t.rate = f
	return t.connect()
}

// Out drives the chip-select pin
func (t *Transport) Out(l gpio.Level) error {
	if err := t.cs.Out(l); err != nil {
		return fmt.Errorf("chip-select: %w", err)
	}
	return nil
}

// ClockRate returns the current clock rate
func (t *Transport) ClockRate() physic.Frequency {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate
}

// Close releases the SPI port. The chip-select pin is left high.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	_ = t.cs.Out(gpio.High)
	err := t.port.Close()
	t.port, t.conn = nil, nil
	if err != nil {
		return fmt.Errorf("failed to close SPI port: %w", err)
	}
	return nil
}

// Type returns the transport type
func (*Transport) Type() microsd.TransportType {
	return microsd.TransportSPI
}
