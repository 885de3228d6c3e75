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
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-microsd/internal/poll"
	"periph.io/x/conn/v3/gpio"
)

const opInit = "init"

// initialize runs the power-up handshake. On failure the card is left in the
// state that failed and every transfer returns ErrNotInitialized.
func (c *Card) initialize(ctx context.Context) error {
	c.state = StateReset
	c.ocr = 0
	c.version = 0
	c.blockAddressing = false

	if err := c.powerUp(); err != nil {
		return c.initError(err)
	}

	steps := []func(context.Context) error{
		c.reset,
		c.checkVoltage,
		c.waitOperatingCondition,
		c.readOCR,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return c.initError(err)
		}
	}

	if err := c.bus.SetClockRate(c.config.ClockRate); err != nil {
		return c.initError(newBusError(opInit, cmdNone, err))
	}

	c.state = StateReady
	debugf("card ready: v%d, OCR 0x%08X, block addressing %v, clock %v",
		c.version, uint32(c.ocr), c.blockAddressing, c.config.ClockRate)
	return nil
}

func (c *Card) initError(err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInitializationFailed, c.state, err)
}

// powerUp sends the wake-up clocks with the card deselected
func (c *Card) powerUp() error {
	if err := c.bus.SetClockRate(c.config.InitClockRate); err != nil {
		return newBusError(opInit, cmdNone, err)
	}
	if err := c.cs.Out(gpio.High); err != nil {
		return newBusError(opInit, cmdNone, fmt.Errorf("deselect: %w", err))
	}
	c.config.Clock.Sleep(c.config.PowerUpDelay)
	return c.clockDummy(opInit, powerUpDummyBytes)
}

// reset sends CMD0 until the card reports idle state. Missing responses are
// retried since a card may need several attempts to enter SPI mode.
func (c *Card) reset(ctx context.Context) error {
	const op = "reset"
	c.state = StateReset

	var last byte
	responded := false
	cfg := poll.Config{
		Clock:       c.config.Clock,
		Description: "CMD0 idle",
		MaxAttempts: c.config.ResetAttempts,
		Interval:    c.config.InitPollInterval,
	}
	_, err := poll.Until(ctx, cfg, func() (struct{}, bool, error) {
		r1, err := c.command(ctx, op, CmdGoIdleState, 0, nil)
		if errors.Is(err, ErrDeviceNotResponding) {
			return struct{}{}, true, nil
		}
		if err != nil {
			return struct{}{}, false, err
		}
		if r1 != r1Idle {
			last, responded = r1, true
			return struct{}{}, true, nil
		}
		return struct{}{}, false, nil
	})
	if err == nil {
		return nil
	}

	var pollErr *poll.Error
	if responded && errors.As(err, &pollErr) {
		return newResponseError(op, CmdGoIdleState, ErrCommandRejected, last)
	}
	return c.pollError(op, CmdGoIdleState, err)
}

// checkVoltage sends CMD8. Version 1 cards reject it as illegal.
func (c *Card) checkVoltage(ctx context.Context) error {
	const op = "voltage check"
	c.state = StateVoltageCheck

	var r7 [4]byte
	r1, err := c.command(ctx, op, CmdSendIfCond, argSendIfCond, r7[:])
	if err != nil {
		return err
	}

	if r1&r1IllegalCommand != 0 {
		c.version = 1
		debugln("CMD8 rejected, assuming version 1 card")
		return nil
	}
	if r1&^r1Idle != 0 {
		return newResponseError(op, CmdSendIfCond, ErrCommandRejected, r1)
	}
	if r7[2]&0x0F != voltage27to36 {
		return &CardError{
			Op:   op,
			Cmd:  CmdSendIfCond,
			Err:  fmt.Errorf("%w: voltage not accepted (0x%02X)", ErrUnsupportedCard, r7[2]),
			Type: ErrorTypePermanent,
		}
	}
	if r7[3] != checkPattern {
		return &CardError{
			Op:   op,
			Cmd:  CmdSendIfCond,
			Err:  fmt.Errorf("%w: check pattern 0x%02X", ErrUnsupportedCard, r7[3]),
			Type: ErrorTypePermanent,
		}
	}

	c.version = 2
	return nil
}

// waitOperatingCondition sends CMD55+ACMD41 until the card leaves idle state
func (c *Card) waitOperatingCondition(ctx context.Context) error {
	const op = "operating condition"

	var arg uint32
	if c.version == 2 {
		arg = argHCS
	}

	cfg := c.pollConfig("ACMD41 ready", c.config.InitTimeout)
	cfg.Interval = c.config.InitPollInterval
	_, err := poll.Until(ctx, cfg, func() (struct{}, bool, error) {
		c.state = StateAppCmdPrefixSent
		r1, err := c.command(ctx, op, CmdAppCmd, 0, nil)
		if err != nil {
			return struct{}{}, false, err
		}
		if r1&^r1Idle != 0 {
			return struct{}{}, false, newResponseError(op, CmdAppCmd, ErrCommandRejected, r1)
		}

		c.state = StateOperatingConditionPoll
		r1, err = c.command(ctx, op, AcmdSendOpCond, arg, nil)
		if err != nil {
			return struct{}{}, false, err
		}
		switch r1 {
		case 0x00:
			return struct{}{}, false, nil
		case r1Idle:
			return struct{}{}, true, nil
		default:
			return struct{}{}, false, newResponseError(op, AcmdSendOpCond, ErrCommandRejected, r1)
		}
	})
	if err != nil {
		return c.pollError(op, AcmdSendOpCond, err)
	}
	return nil
}

// readOCR reads the OCR and picks the addressing mode. Standard capacity
// cards get their block length pinned to 512 bytes.
func (c *Card) readOCR(ctx context.Context) error {
	const op = "read OCR"
	c.state = StateReadOCR

	var raw [4]byte
	r1, err := c.command(ctx, op, CmdReadOCR, 0, raw[:])
	if err != nil {
		return err
	}

	switch {
	case r1 == 0x00:
		c.ocr = OCR(binary.BigEndian.Uint32(raw[:]))
		if !c.ocr.PowerUp() {
			return newTimeoutError(op, CmdReadOCR, errors.New("power-up status bit clear"))
		}
		c.blockAddressing = c.version == 2 && c.ocr.HighCapacity()
	case c.version == 1 && r1&r1IllegalCommand != 0:
		// some MMC and early SD cards do not implement CMD58
		debugln("CMD58 rejected, assuming standard capacity")
	default:
		return newResponseError(op, CmdReadOCR, ErrCommandRejected, r1)
	}

	if c.blockAddressing {
		return nil
	}
	return c.setBlockLength(ctx)
}

func (c *Card) setBlockLength(ctx context.Context) error {
	const op = "set block length"
	r1, err := c.command(ctx, op, CmdSetBlockLen, BlockSize, nil)
	if err != nil {
		return err
	}
	if r1 != 0x00 {
		return newResponseError(op, CmdSetBlockLen, ErrCommandRejected, r1)
	}
	return nil
}
