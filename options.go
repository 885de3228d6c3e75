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
	"fmt"
	"time"

	"github.com/ZaparooProject/go-microsd/internal/poll"
	"periph.io/x/conn/v3/physic"
)

// CardConfig contains the timing configuration of a Card
type CardConfig struct {
	// Clock is the time source for delays and deadlines
	Clock Clock
	// InitClockRate is used from power-up until the card is ready
	InitClockRate physic.Frequency
	// ClockRate is the steady-state rate set once the card is ready
	ClockRate physic.Frequency
	// PowerUpDelay is waited before the power-up clocks are sent
	PowerUpDelay time.Duration
	// InitPollInterval paces the CMD0 and ACMD41 retry loops
	InitPollInterval time.Duration
	// InitTimeout bounds the ACMD41 operating-condition poll
	InitTimeout time.Duration
	// ReadTimeout bounds the wait for a data-start token
	ReadTimeout time.Duration
	// WriteTimeout bounds the busy wait after a block write, and the
	// not-busy wait before each command
	WriteTimeout time.Duration
	// ResponseAttempts bounds the bytes read while waiting for R1
	ResponseAttempts int
	// ResetAttempts bounds the CMD0 retries
	ResetAttempts int
	// MaxPollAttempts caps every token or busy loop independently of time
	MaxPollAttempts int
}

// DefaultCardConfig returns default card configuration
func DefaultCardConfig() *CardConfig {
	return &CardConfig{
		Clock:            poll.SystemClock{},
		InitClockRate:    100 * physic.KiloHertz,
		ClockRate:        400 * physic.KiloHertz,
		PowerUpDelay:     time.Millisecond,
		InitPollInterval: time.Millisecond,
		InitTimeout:      time.Second,
		ReadTimeout:      300 * time.Millisecond,
		WriteTimeout:     500 * time.Millisecond,
		ResponseAttempts: 10,
		ResetAttempts:    10,
		MaxPollAttempts:  poll.DefaultMaxAttempts,
	}
}

// Option is a functional option for configuring a Card
type Option func(*Card) error

// WithClock sets the time source
func WithClock(clock Clock) Option {
	return func(c *Card) error {
		if clock == nil {
			return fmt.Errorf("%w: nil clock", ErrInvalidParameter)
		}
		c.config.Clock = clock
		return nil
	}
}

// WithInitClockRate sets the clock rate used during initialization
func WithInitClockRate(f physic.Frequency) Option {
	return func(c *Card) error {
		if f <= 0 {
			return fmt.Errorf("%w: init clock rate %v", ErrInvalidParameter, f)
		}
		c.config.InitClockRate = f
		return nil
	}
}

// WithClockRate sets the steady-state clock rate
func WithClockRate(f physic.Frequency) Option {
	return func(c *Card) error {
		if f <= 0 {
			return fmt.Errorf("%w: clock rate %v", ErrInvalidParameter, f)
		}
		c.config.ClockRate = f
		return nil
	}
}

// WithPowerUpDelay sets the delay before the power-up clocks
func WithPowerUpDelay(d time.Duration) Option {
	return func(c *Card) error {
		c.config.PowerUpDelay = d
		return nil
	}
}

// WithInitPollInterval sets the pause between initialization retries
func WithInitPollInterval(d time.Duration) Option {
	return func(c *Card) error {
		c.config.InitPollInterval = d
		return nil
	}
}

// WithInitTimeout bounds the operating-condition poll
func WithInitTimeout(d time.Duration) Option {
	return func(c *Card) error {
		c.config.InitTimeout = d
		return nil
	}
}

// WithReadTimeout bounds the wait for a data-start token
func WithReadTimeout(d time.Duration) Option {
	return func(c *Card) error {
		c.config.ReadTimeout = d
		return nil
	}
}

// WithWriteTimeout bounds busy waits
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Card) error {
		c.config.WriteTimeout = d
		return nil
	}
}

// WithTimeout sets the init, read and write timeouts at once
func WithTimeout(d time.Duration) Option {
	return func(c *Card) error {
		c.config.InitTimeout = d
		c.config.ReadTimeout = d
		c.config.WriteTimeout = d
		return nil
	}
}

// WithMaxPollAttempts caps every polling loop at n iterations
func WithMaxPollAttempts(n int) Option {
	return func(c *Card) error {
		if n <= 0 {
			return fmt.Errorf("%w: max poll attempts %d", ErrInvalidParameter, n)
		}
		c.config.MaxPollAttempts = n
		return nil
	}
}

// WithResponseAttempts sets how many bytes are read while waiting for R1
func WithResponseAttempts(n int) Option {
	return func(c *Card) error {
		if n <= 0 {
			return fmt.Errorf("%w: response attempts %d", ErrInvalidParameter, n)
		}
		c.config.ResponseAttempts = n
		return nil
	}
}
