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
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-microsd/internal/frame"
	"github.com/ZaparooProject/go-microsd/internal/poll"
	"periph.io/x/conn/v3/gpio"
)

// powerUpDummyBytes gives the card at least 74 clocks with CS high
const powerUpDummyBytes = 10

// dummyBytes is read-only filler. Buses must not modify written buffers.
var dummyBytes = bytes.Repeat([]byte{frame.DummyByte}, powerUpDummyBytes)

// transaction selects the card, runs fn and deselects it again, followed by
// one dummy byte so the card releases MISO. A deselect failure is reported
// only when fn succeeded.
func (c *Card) transaction(op string, fn func() error) (err error) {
	if err := c.cs.Out(gpio.Low); err != nil {
		_ = c.cs.Out(gpio.High)
		return newBusError(op, cmdNone, fmt.Errorf("select: %w", err))
	}

	defer func() {
		derr := c.deselect(op)
		switch {
		case derr == nil:
		case err == nil:
			err = derr
		default:
			debugf("%s: %v (after %v)", op, derr, err)
		}
	}()

	return fn()
}

func (c *Card) deselect(op string) error {
	if err := c.cs.Out(gpio.High); err != nil {
		return newBusError(op, cmdNone, fmt.Errorf("deselect: %w", err))
	}
	return c.clockDummy(op, 1)
}

func (c *Card) clockDummy(op string, n int) error {
	if err := c.bus.Write(dummyBytes[:n]); err != nil {
		return newBusError(op, cmdNone, err)
	}
	return nil
}

func (c *Card) write(op string, cmd Command, p []byte) error {
	if err := c.bus.Write(p); err != nil {
		return newBusError(op, cmd, err)
	}
	return nil
}

func (c *Card) read(op string, cmd Command, p []byte) error {
	if err := c.bus.Read(p); err != nil {
		return newBusError(op, cmd, err)
	}
	return nil
}

func (c *Card) readByte(op string, cmd Command) (byte, error) {
	c.scratch[0] = frame.DummyByte
	if err := c.read(op, cmd, c.scratch[:]); err != nil {
		return 0, err
	}
	return c.scratch[0], nil
}

// command runs a transaction holding a single command and returns its R1.
// len(trailer) further response bytes (R3/R7 payload) are read into trailer.
func (c *Card) command(ctx context.Context, op string, cmd Command, arg uint32, trailer []byte) (byte, error) {
	var r1 byte
	err := c.transaction(op, func() error {
		var err error
		r1, err = c.sendCommand(ctx, op, cmd, arg)
		if err != nil {
			return err
		}
		if len(trailer) > 0 {
			return c.read(op, cmd, trailer)
		}
		return nil
	})
	return r1, err
}

// sendCommand transmits one frame and returns R1. The caller holds the card
// selected.
func (c *Card) sendCommand(ctx context.Context, op string, cmd Command, arg uint32) (byte, error) {
	// the card is not in SPI mode yet and may not drive MISO before CMD0
	if cmd != CmdGoIdleState {
		if err := c.waitReady(ctx, op, cmd); err != nil {
			return 0, err
		}
	}

	f := cmd.frame(arg)
	if err := c.write(op, cmd, f.Bytes()); err != nil {
		return 0, err
	}

	r1, err := c.readR1(ctx, op, cmd)
	if err != nil {
		return 0, err
	}
	debugf("%s: %s arg=0x%08X r1=0x%02X (%s)", op, cmd, arg, r1, describeR1(r1))
	return r1, nil
}

func (c *Card) pollConfig(desc string, timeout time.Duration) poll.Config {
	return poll.Config{
		Clock:       c.config.Clock,
		Description: desc,
		MaxAttempts: c.config.MaxPollAttempts,
		Timeout:     timeout,
	}
}

// pollError maps an exhausted or aborted wait into a driver error
func (*Card) pollError(op string, cmd Command, err error) error {
	var cardErr *CardError
	if errors.As(err, &cardErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &CardError{Op: op, Cmd: cmd, Err: err, Type: ErrorTypePermanent}
	}
	return newTimeoutError(op, cmd, err)
}

// pollByte reads single bytes until done reports true or the wait is
// exhausted. done may also return an error to stop immediately.
func (c *Card) pollByte(
	ctx context.Context, op string, cmd Command, cfg poll.Config, done func(b byte) (bool, error),
) (byte, error) {
	b, err := poll.Until(ctx, cfg, func() (byte, bool, error) {
		b, err := c.readByte(op, cmd)
		if err != nil {
			return 0, false, err
		}
		ok, err := done(b)
		if err != nil {
			return 0, false, err
		}
		return b, !ok, nil
	})
	if err != nil {
		return 0, c.pollError(op, cmd, err)
	}
	return b, nil
}

// readR1 waits for the first byte with the start bit clear
func (c *Card) readR1(ctx context.Context, op string, cmd Command) (byte, error) {
	cfg := poll.Config{
		Clock:       c.config.Clock,
		Description: "R1 response",
		MaxAttempts: c.config.ResponseAttempts,
	}
	return c.pollByte(ctx, op, cmd, cfg, func(b byte) (bool, error) {
		return b&r1StartBit == 0, nil
	})
}

// waitReady waits until the card stops holding MISO low
func (c *Card) waitReady(ctx context.Context, op string, cmd Command) error {
	_, err := c.pollByte(ctx, op, cmd, c.pollConfig("card ready", c.config.WriteTimeout), func(b byte) (bool, error) {
		return b == frame.DummyByte, nil
	})
	return err
}

// waitToken waits for the data-start token. A data error token fails the
// wait immediately.
func (c *Card) waitToken(ctx context.Context, op string, cmd Command) error {
	_, err := c.pollByte(ctx, op, cmd, c.pollConfig("data token", c.config.ReadTimeout), func(b byte) (bool, error) {
		switch {
		case b == frame.TokenStartBlock:
			return true, nil
		case b != frame.DummyByte && b != 0x00 && b&dataErrorTokenMask == 0:
			return false, newResponseError(op, cmd, ErrDataToken, b)
		default:
			return false, nil
		}
	})
	return err
}

// readDataResponse waits for the token the card sends after a data block
func (c *Card) readDataResponse(ctx context.Context, op string, cmd Command) (byte, error) {
	cfg := poll.Config{
		Clock:       c.config.Clock,
		Description: "data response",
		MaxAttempts: c.config.ResponseAttempts,
	}
	return c.pollByte(ctx, op, cmd, cfg, func(b byte) (bool, error) {
		return b != frame.DummyByte, nil
	})
}

// waitWriteDone waits for the card to release the busy signal
func (c *Card) waitWriteDone(ctx context.Context, op string, cmd Command) error {
	_, err := c.pollByte(ctx, op, cmd, c.pollConfig("write busy", c.config.WriteTimeout), func(b byte) (bool, error) {
		return b != 0x00, nil
	})
	return err
}

// readDataPacket reads a data packet (token, payload, CRC) into dst. The CRC
// is discarded.
func (c *Card) readDataPacket(ctx context.Context, op string, cmd Command, dst []byte) error {
	if err := c.waitToken(ctx, op, cmd); err != nil {
		return err
	}
	if err := c.read(op, cmd, dst); err != nil {
		return err
	}
	var crc [frame.DataCRCSize]byte
	return c.read(op, cmd, crc[:])
}
