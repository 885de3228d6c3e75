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

// Package poll provides the bounded polling loops used for every wait on the
// card: response bytes, data tokens, busy release and the initialization
// handshake.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxAttempts bounds a loop whose config sets neither an attempt limit
// nor a timeout.
const DefaultMaxAttempts = 0xFFFF

var (
	// ErrExhausted is returned when the attempt limit is reached
	ErrExhausted = errors.New("poll attempts exhausted")
	// ErrDeadline is returned when the timeout elapses
	ErrDeadline = errors.New("poll deadline exceeded")
)

// Clock is the time source used for deadlines and pacing.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now()
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Sleep calls time.Sleep
func (SystemClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Operation represents one polling attempt
// Returns: data, shouldRetry, error
// - data: the result if done
// - shouldRetry: true if the condition is not met yet
// - error: any error that should stop polling immediately
type Operation[T any] func() (T, bool, error)

// Config bounds a polling loop. At least one of MaxAttempts and Timeout
// should be set; if neither is, DefaultMaxAttempts applies.
type Config struct {
	Clock       Clock
	Description string
	MaxAttempts int
	Timeout     time.Duration
	Interval    time.Duration
}

// Error reports an exhausted polling loop.
type Error struct {
	Err         error
	Description string
	Attempts    int
	Elapsed     time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v after %d attempts (%v)", e.Description, e.Err, e.Attempts, e.Elapsed)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Until runs op until it reports done, returns an error, the attempt limit or
// the deadline is reached, or ctx is done. Interval is slept on the clock
// between attempts.
func Until[T any](ctx context.Context, cfg Config, op Operation[T]) (T, error) {
	var zero T

	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 && cfg.Timeout <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	start := clock.Now()
	var deadline time.Time
	if cfg.Timeout > 0 {
		deadline = start.Add(cfg.Timeout)
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: %w", cfg.Description, err)
		}

		result, shouldRetry, err := op()
		if err != nil {
			return zero, err
		}
		if !shouldRetry {
			return result, nil
		}

		if maxAttempts > 0 && attempt >= maxAttempts {
			return zero, exhausted(cfg.Description, ErrExhausted, attempt, clock.Now().Sub(start))
		}
		now := clock.Now()
		if !deadline.IsZero() && !now.Before(deadline) {
			return zero, exhausted(cfg.Description, ErrDeadline, attempt, now.Sub(start))
		}

		if cfg.Interval > 0 {
			clock.Sleep(cfg.Interval)
		}
	}
}

func exhausted(desc string, err error, attempts int, elapsed time.Duration) error {
	return &Error{
		Description: desc,
		Err:         err,
		Attempts:    attempts,
		Elapsed:     elapsed,
	}
}
