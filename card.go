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
	"fmt"
)

// Block is one 512-byte card block
type Block [BlockSize]byte

// BlockSize is the size of a card block and of a filesystem sector
const BlockSize = 512

// InitState is a step of the initialization handshake
type InitState int

const (
	// StateReset sends CMD0 to put the card into idle state
	StateReset InitState = iota
	// StateVoltageCheck sends CMD8 to negotiate the supply voltage
	StateVoltageCheck
	// StateAppCmdPrefixSent sends CMD55 ahead of ACMD41
	StateAppCmdPrefixSent
	// StateOperatingConditionPoll sends ACMD41 until the card leaves idle
	StateOperatingConditionPoll
	// StateReadOCR reads the operating conditions register
	StateReadOCR
	// StateReady is terminal: the card accepts data transfers
	StateReady
)

func (s InitState) String() string {
	switch s {
	case StateReset:
		return "reset"
	case StateVoltageCheck:
		return "voltage check"
	case StateAppCmdPrefixSent:
		return "app command prefix"
	case StateOperatingConditionPoll:
		return "operating condition poll"
	case StateReadOCR:
		return "read OCR"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("InitState(%d)", int(s))
	}
}

// OCR is the operating conditions register
type OCR uint32

// PowerUp reports whether the card finished its power-up routine
func (o OCR) PowerUp() bool {
	return o&ocrPowerUp != 0
}

// HighCapacity reports the card capacity status bit (SDHC/SDXC)
func (o OCR) HighCapacity() bool {
	return o&ocrCCS != 0
}

// VoltageWindow returns the supported voltage bits (2.7-3.6V range)
func (o OCR) VoltageWindow() uint32 {
	return uint32(o) & ocrVoltageRange
}

// Card represents an initialized SD card on a SPI bus
//
// Thread Safety: Card is NOT thread-safe. Every method runs a complete
// chip-select transaction on the bus, so calls must be serialized by the
// caller, for example with a mutex around the Card (the diskio adapter does
// this). The Card keeps references to the bus and chip-select line; they must
// stay valid for as long as the Card is used.
type Card struct {
	bus    Bus
	cs     ChipSelect
	config *CardConfig
	ocr    OCR
	state  InitState
	// version is 1 for cards that reject CMD8, 2 otherwise
	version int
	// blockAddressing is true when transfer arguments are block numbers
	// rather than byte offsets
	blockAddressing bool
	scratch         [1]byte
}

// New initializes the card behind bus and cs and returns a handle to it
func New(bus Bus, cs ChipSelect, opts ...Option) (*Card, error) {
	return NewContext(context.Background(), bus, cs, opts...)
}

// NewContext is New with a context observed by every polling loop of the
// handshake. No Card is returned unless initialization completes.
func NewContext(ctx context.Context, bus Bus, cs ChipSelect, opts ...Option) (*Card, error) {
	if bus == nil || cs == nil {
		return nil, fmt.Errorf("%w: bus and chip-select are required", ErrInvalidParameter)
	}

	card := &Card{
		bus:    bus,
		cs:     cs,
		config: DefaultCardConfig(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(card); err != nil {
			return nil, err
		}
	}

	if err := card.initialize(ctx); err != nil {
		return nil, err
	}

	return card, nil
}

// Reinitialize runs the initialization handshake again on an existing handle.
// Until it succeeds, transfers fail with ErrNotInitialized.
func (c *Card) Reinitialize(ctx context.Context) error {
	return c.initialize(ctx)
}

// Ready reports whether the card completed initialization
func (c *Card) Ready() bool {
	return c.state == StateReady
}

// State returns the current initialization state
func (c *Card) State() InitState {
	return c.state
}

// OCR returns the operating conditions register read during initialization
func (c *Card) OCR() OCR {
	return c.ocr
}

// Version returns 2 for cards that answered the voltage check, 1 otherwise
func (c *Card) Version() int {
	return c.version
}

// HighCapacity reports whether the card uses block addressing
func (c *Card) HighCapacity() bool {
	return c.blockAddressing
}

// Config returns a copy of the card configuration
func (c *Card) Config() CardConfig {
	return *c.config
}

func (c *Card) ensureReady(op string) error {
	if c.state != StateReady {
		return &CardError{Op: op, Cmd: cmdNone, Err: ErrNotInitialized, Type: ErrorTypePermanent}
	}
	return nil
}

// blockArg converts a block address into a transfer argument. Standard
// capacity cards are byte addressed. Addresses are not bounds checked.
func (c *Card) blockArg(addr uint32) uint32 {
	if c.blockAddressing {
		return addr
	}
	return addr << 9
}
