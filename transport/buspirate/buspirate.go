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

// Package buspirate provides a transport that drives an SD card through a
// Bus Pirate in binary SPI mode.
package buspirate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	microsd "github.com/ZaparooProject/go-microsd"
	"github.com/golang/glog"
	"go.bug.st/serial"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Binary mode commands
const (
	cmdReset       = 0x00 // bitbang mode, or leave SPI mode
	cmdEnterSPI    = 0x01
	cmdCSLow       = 0x02
	cmdCSHigh      = 0x03
	cmdBulk        = 0x10 // low nibble is the byte count minus one
	cmdPeripherals = 0x40
	cmdSpeed       = 0x60
	cmdConfig      = 0x80
	cmdUserReset   = 0x0F

	// power on, CS high
	peripheralsPowerCS = cmdPeripherals | 0x08 | 0x01
	// 3.3V outputs, clock idle low, output on active-to-idle edge
	configSD = cmdConfig | 0x08 | 0x02

	ack          = 0x01
	maxBulk      = 16
	resetRetries = 20
	dummyByte    = 0xFF

	defaultBaudRate    = 115200
	defaultReadTimeout = 100 * time.Millisecond
)

var (
	bitbangBanner = []byte("BBIO1")
	spiBanner     = []byte("SPI1")
)

// Errors
var (
	ErrNoBinaryMode = errors.New("bus pirate did not enter binary mode")
	ErrNoAck        = errors.New("bus pirate did not acknowledge command")
	ErrTimeout      = errors.New("bus pirate read timeout")
	ErrClosed       = errors.New("transport closed")
)

// speeds are the SPI clock settings, indexed by the speed command argument
var speeds = []physic.Frequency{
	30 * physic.KiloHertz,
	125 * physic.KiloHertz,
	250 * physic.KiloHertz,
	1 * physic.MegaHertz,
	2 * physic.MegaHertz,
	2600 * physic.KiloHertz,
	4 * physic.MegaHertz,
	8 * physic.MegaHertz,
}

// speedSetting returns the fastest setting not above f
func speedSetting(f physic.Frequency) byte {
	setting := 0
	for i, s := range speeds {
		if s <= f {
			setting = i
		}
	}
	return byte(setting)
}

// serialPort is the subset of serial.Port the transport uses
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Transport implements microsd.Transport on a Bus Pirate
type Transport struct {
	port        serialPort
	portName    string
	buf         []byte
	readTimeout time.Duration
	baudRate    int
	speed       byte
	mu          sync.Mutex
}

// Option configures a Transport
type Option func(*Transport)

// WithBaudRate sets the serial baud rate. Bus Pirate v3 and v4 use 115200.
func WithBaudRate(baud int) Option {
	return func(t *Transport) { t.baudRate = baud }
}

// WithReadTimeout bounds each read from the bridge
func WithReadTimeout(d time.Duration) Option {
	return func(t *Transport) { t.readTimeout = d }
}

// New opens the Bus Pirate at portName and switches it to binary SPI mode
func New(portName string, opts ...Option) (*Transport, error) {
	t := &Transport{
		portName:    portName,
		baudRate:    defaultBaudRate,
		readTimeout: defaultReadTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}

	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: t.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	if err := t.attach(port); err != nil {
		_ = port.Close()
		return nil, err
	}
	return t, nil
}

// attach runs the binary mode handshake on an open port
func (t *Transport) attach(port serialPort) error {
	t.port = port
	if err := port.SetReadTimeout(t.readTimeout); err != nil {
		return fmt.Errorf("failed to set read timeout: %w", err)
	}
	if err := t.enterBitbang(); err != nil {
		return err
	}
	if err := t.write([]byte{cmdEnterSPI}); err != nil {
		return err
	}
	if err := t.expect(spiBanner); err != nil {
		return fmt.Errorf("failed to enter SPI mode: %w", err)
	}

	t.speed = speedSetting(microsd.DefaultCardConfig().InitClockRate)
	for _, cmd := range []byte{configSD, peripheralsPowerCS, cmdSpeed | t.speed} {
		if err := t.command(cmd); err != nil {
			return err
		}
	}
	glog.V(2).Infof("buspirate: %s in SPI mode at %v", t.portName, speeds[t.speed])
	return nil
}

func (t *Transport) enterBitbang() error {
	_ = t.port.ResetInputBuffer()
	var seen []byte
	chunk := make([]byte, 32)
	for range resetRetries {
		if err := t.write([]byte{cmdReset}); err != nil {
			return err
		}
		n, err := t.port.Read(chunk)
		if err != nil {
			return fmt.Errorf("serial read failed: %w", err)
		}
		seen = append(seen, chunk[:n]...)
		if bytes.Contains(seen, bitbangBanner) {
			// later resets may have queued more banners
			_ = t.port.ResetInputBuffer()
			return nil
		}
	}
	return fmt.Errorf("%w on %s", ErrNoBinaryMode, t.portName)
}

func (t *Transport) write(p []byte) error {
	if _, err := t.port.Write(p); err != nil {
		return fmt.Errorf("serial write failed: %w", err)
	}
	return nil
}

// readExact reads len(p) bytes. A read that returns nothing has timed out.
func (t *Transport) readExact(p []byte) error {
	for n := 0; n < len(p); {
		m, err := t.port.Read(p[n:])
		if err != nil {
			return fmt.Errorf("serial read failed: %w", err)
		}
		if m == 0 {
			return ErrTimeout
		}
		n += m
	}
	return nil
}

func (t *Transport) expect(want []byte) error {
	got := make([]byte, len(want))
	if err := t.readExact(got); err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("unexpected reply %q", got)
	}
	return nil
}

// command sends a single-byte command and waits for its acknowledgement
func (t *Transport) command(cmd byte) error {
	if err := t.write([]byte{cmd}); err != nil {
		return err
	}
	var reply [1]byte
	if err := t.readExact(reply[:]); err != nil {
		return fmt.Errorf("command 0x%02X: %w", cmd, err)
	}
	if reply[0] != ack {
		return fmt.Errorf("%w: command 0x%02X replied 0x%02X", ErrNoAck, cmd, reply[0])
	}
	return nil
}

// transfer clocks w out in bulk chunks and stores MISO into r when r is not
// nil
func (t *Transport) transfer(w, r []byte) error {
	if cap(t.buf) < maxBulk+1 {
		t.buf = make([]byte, maxBulk+1)
	}
	for off := 0; off < len(w); off += maxBulk {
		n := min(maxBulk, len(w)-off)
		req := t.buf[:n+1]
		req[0] = cmdBulk | byte(n-1)
		copy(req[1:], w[off:off+n])
		if err := t.write(req); err != nil {
			return err
		}

		resp := t.buf[:n+1]
		if err := t.readExact(resp); err != nil {
			return fmt.Errorf("bulk transfer: %w", err)
		}
		if resp[0] != ack {
			return fmt.Errorf("%w: bulk transfer replied 0x%02X", ErrNoAck, resp[0])
		}
		if r != nil {
			copy(r[off:off+n], resp[1:])
		}
	}
	return nil
}

// Write transmits p
func (t *Transport) Write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return ErrClosed
	}
	return t.transfer(p, nil)
}

// Read transmits 0xFF bytes and stores what the card sends into p
func (t *Transport) Read(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return ErrClosed
	}
	fill := bytes.Repeat([]byte{dummyByte}, len(p))
	return t.transfer(fill, p)
}

// SetClockRate selects the fastest Bus Pirate speed not above f
func (t *Transport) SetClockRate(f physic.Frequency) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return ErrClosed
	}
	setting := speedSetting(f)
	if setting == t.speed {
		return nil
	}
	if err := t.command(cmdSpeed | setting); err != nil {
		return err
	}
	t.speed = setting
	glog.V(2).Infof("buspirate: clock %v (requested %v)", speeds[setting], f)
	return nil
}

// ClockRate returns the active clock rate
func (t *Transport) ClockRate() physic.Frequency {
	t.mu.Lock()
	defer t.mu.Unlock()
	return speeds[t.speed]
}

// Out drives the chip-select line
func (t *Transport) Out(l gpio.Level) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return ErrClosed
	}
	cmd := byte(cmdCSHigh)
	if l == gpio.Low {
		cmd = cmdCSLow
	}
	return t.command(cmd)
}

// Close returns the Bus Pirate to its user terminal and closes the port
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	_ = t.write([]byte{cmdReset, cmdUserReset})
	err := t.port.Close()
	t.port = nil
	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// Type returns the transport type
func (*Transport) Type() microsd.TransportType {
	return microsd.TransportBusPirate
}
