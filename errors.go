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
	"errors"
	"fmt"
)

// Driver errors
var (
	// ErrBus wraps any failure reported by the bus or chip-select line
	ErrBus = errors.New("bus transfer failed")
	// ErrDeviceNotResponding means a bounded wait for the card expired
	ErrDeviceNotResponding = errors.New("device not responding")
	// ErrInitializationFailed wraps every failure of the power-up handshake
	ErrInitializationFailed = errors.New("card initialization failed")
	// ErrWriteRejected means the data-response token reported an error
	ErrWriteRejected = errors.New("write rejected by card")
	// ErrCommandRejected means the R1 response carried error bits
	ErrCommandRejected = errors.New("command rejected by card")
	// ErrDataToken means the card sent a data error token instead of data
	ErrDataToken = errors.New("card returned data error token")
	// ErrUnsupportedCard means the card answered the voltage check wrongly
	ErrUnsupportedCard = errors.New("unsupported card")
	// ErrNotInitialized is returned by transfers on a card that is not ready
	ErrNotInitialized = errors.New("card not initialized")
	// ErrInvalidParameter is returned for nil buses, pins or buffers
	ErrInvalidParameter = errors.New("invalid parameter")
)

// ErrorType classifies errors for callers deciding whether to retry
type ErrorType int

const (
	// ErrorTypePermanent errors will not go away by retrying
	ErrorTypePermanent ErrorType = iota
	// ErrorTypeTransient errors may succeed on retry
	ErrorTypeTransient
	// ErrorTypeTimeout errors are bounded waits that expired
	ErrorTypeTimeout
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypePermanent:
		return "permanent"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("ErrorType(%d)", int(t))
	}
}

// CardError carries the operation and command during which a failure
// happened, plus the offending response byte when the card sent one.
type CardError struct {
	Err       error
	Op        string
	Type      ErrorType
	Cmd       Command
	Response  byte
	Retryable bool
}

func (e *CardError) Error() string {
	msg := e.Op
	if e.Cmd != cmdNone {
		msg += " " + e.Cmd.String()
	}
	msg += ": " + e.Err.Error()
	if e.Response != 0 {
		msg += fmt.Sprintf(" (response 0x%02X)", e.Response)
	}
	return msg
}

func (e *CardError) Unwrap() error {
	return e.Err
}

func newBusError(op string, cmd Command, err error) *CardError {
	return &CardError{
		Op:        op,
		Cmd:       cmd,
		Err:       fmt.Errorf("%w: %w", ErrBus, err),
		Type:      ErrorTypeTransient,
		Retryable: true,
	}
}

func newTimeoutError(op string, cmd Command, err error) *CardError {
	return &CardError{
		Op:        op,
		Cmd:       cmd,
		Err:       fmt.Errorf("%w: %w", ErrDeviceNotResponding, err),
		Type:      ErrorTypeTimeout,
		Retryable: true,
	}
}

func newResponseError(op string, cmd Command, sentinel error, response byte) *CardError {
	return &CardError{
		Op:       op,
		Cmd:      cmd,
		Err:      sentinel,
		Type:     ErrorTypePermanent,
		Response: response,
	}
}

// IsRetryable reports whether err is worth retrying at a higher level. The
// driver itself never retries transfers.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var cardErr *CardError
	if errors.As(err, &cardErr) {
		return cardErr.Retryable
	}
	return errors.Is(err, ErrBus) || errors.Is(err, ErrDeviceNotResponding)
}

// GetErrorType classifies err
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}
	var cardErr *CardError
	if errors.As(err, &cardErr) {
		return cardErr.Type
	}
	switch {
	case errors.Is(err, ErrDeviceNotResponding):
		return ErrorTypeTimeout
	case errors.Is(err, ErrBus):
		return ErrorTypeTransient
	default:
		return ErrorTypePermanent
	}
}
