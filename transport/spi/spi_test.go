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

package spi

import (
	"errors"
	"sync"
	"testing"

	microsd "github.com/ZaparooProject/go-microsd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

type fakeConn struct {
	port *fakePort
}

func (*fakeConn) String() string { return "fake" }
func (*fakeConn) Duplex() conn.Duplex { return conn.Full }
func (*fakeConn) TxPackets([]spi.Packet) error { return errors.New("not supported") }

func (c *fakeConn) Tx(w, r []byte) error {
	c.port.mu.Lock()
	defer c.port.mu.Unlock()
	if c.port.txErr != nil {
		return c.port.txErr
	}
	c.port.written = append(c.port.written, append([]byte(nil), w...))
	for i := range r {
		r[i] = c.port.miso
	}
	return nil
}

type fakePort struct {
	txErr      error
	connectErr error
	written    [][]byte
	rates      []physic.Frequency
	modes      []spi.Mode
	opens      int
	closes     int
	miso       byte
	mu         sync.Mutex
}

func (*fakePort) String() string { return "fakeport" }
func (*fakePort) LimitSpeed(physic.Frequency) error { return nil }

func (p *fakePort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connectErr != nil {
		return nil, p.connectErr
	}
	if bits != 8 {
		return nil, errors.New("unexpected word size")
	}
	p.rates = append(p.rates, f)
	p.modes = append(p.modes, mode)
	return &fakeConn{port: p}, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePort) opener() portOpener {
	return func(string) (spi.PortCloser, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.opens++
		return p, nil
	}
}

func newTestTransport(t *testing.T, opts ...Option) (*Transport, *fakePort, *gpiotest.Pin) {
	t.Helper()
	port := &fakePort{miso: 0x5A}
	pin := &gpiotest.Pin{N: "CS", L: gpio.Low}
	tr, err := newTransport("SPI0.0", port.opener(), pin, opts...)
	require.NoError(t, err)
	return tr, port, pin
}

func TestNewTransport(t *testing.T) {
	t.Parallel()

	tr, port, pin := newTestTransport(t)

	assert.Equal(t, gpio.High, pin.Read())
	assert.Equal(t, []physic.Frequency{defaultClockRate}, port.rates)
	assert.Equal(t, []spi.Mode{spi.Mode0}, port.modes)
	assert.Equal(t, microsd.TransportSPI, tr.Type())
}

func TestNewTransport_Options(t *testing.T) {
	t.Parallel()

	_, port, _ := newTestTransport(t, WithMode(spi.Mode3), WithClockRate(physic.MegaHertz))
	assert.Equal(t, []physic.Frequency{physic.MegaHertz}, port.rates)
	assert.Equal(t, []spi.Mode{spi.Mode3}, port.modes)
}

func TestNewTransport_ConnectError(t *testing.T) {
	t.Parallel()

	port := &fakePort{connectErr: errors.New("busy")}
	_, err := newTransport("SPI0.0", port.opener(), &gpiotest.Pin{N: "CS"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busy")
	assert.Equal(t, 1, port.closes)
}

func TestTransport_ReadSendsDummyBytes(t *testing.T) {
	t.Parallel()

	tr, port, _ := newTestTransport(t)

	buf := make([]byte, 4)
	require.NoError(t, tr.Read(buf))
	assert.Equal(t, []byte{0x5A, 0x5A, 0x5A, 0x5A}, buf)

	big := make([]byte, 512)
	require.NoError(t, tr.Read(big))
	require.NoError(t, tr.Read(buf[:2]))

	require.Len(t, port.written, 3)
	for _, w := range port.written {
		for _, b := range w {
			assert.Equal(t, byte(0xFF), b)
		}
	}
	assert.Len(t, port.written[1], 512)
	assert.Len(t, port.written[2], 2)
}

func TestTransport_Write(t *testing.T) {
	t.Parallel()

	tr, port, _ := newTestTransport(t)
	require.NoError(t, tr.Write([]byte{0x40, 0, 0, 0, 0, 0x95}))
	assert.Equal(t, [][]byte{{0x40, 0, 0, 0, 0, 0x95}}, port.written)

	port.txErr = errors.New("bus fault")
	require.Error(t, tr.Write([]byte{0xFF}))
	require.Error(t, tr.Read(make([]byte, 1)))
}

func TestTransport_SetClockRate(t *testing.T) {
	t.Parallel()

	tr, port, _ := newTestTransport(t)

	require.NoError(t, tr.SetClockRate(defaultClockRate))
	assert.Equal(t, 1, port.opens, "same rate must not reconnect")

	require.NoError(t, tr.SetClockRate(400*physic.KiloHertz))
	assert.Equal(t, 2, port.opens)
	assert.Equal(t, 1, port.closes)
	assert.Equal(t, []physic.Frequency{defaultClockRate, 400 * physic.KiloHertz}, port.rates)
	assert.Equal(t, 400*physic.KiloHertz, tr.ClockRate())
}

func TestTransport_ChipSelect(t *testing.T) {
	t.Parallel()

	tr, _, pin := newTestTransport(t)

	require.NoError(t, tr.Out(gpio.Low))
	assert.Equal(t, gpio.Low, pin.Read())
	require.NoError(t, tr.Out(gpio.High))
	assert.Equal(t, gpio.High, pin.Read())
}

func TestTransport_Close(t *testing.T) {
	t.Parallel()

	tr, port, pin := newTestTransport(t)
	require.NoError(t, tr.Out(gpio.Low))

	require.NoError(t, tr.Close())
	assert.Equal(t, gpio.High, pin.Read())
	assert.Equal(t, 1, port.closes)

	require.NoError(t, tr.Close())
	require.ErrorIs(t, tr.Write([]byte{0xFF}), ErrClosed)
	require.ErrorIs(t, tr.Read(make([]byte, 1)), ErrClosed)
	require.ErrorIs(t, tr.SetClockRate(physic.MegaHertz), ErrClosed)
}

// Transport is usable as a driver bus and chip-select
var _ microsd.Transport = (*Transport)(nil)
