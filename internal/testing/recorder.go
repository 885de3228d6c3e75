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

package testing

import (
	"errors"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// ErrInjected is the default error returned by an injected bus fault
var ErrInjected = errors.New("injected bus fault")

// Bus mirrors the driver's bus interface
type Bus interface {
	Write(p []byte) error
	Read(p []byte) error
	SetClockRate(f physic.Frequency) error
}

// ChipSelect mirrors the driver's chip-select interface
type ChipSelect interface {
	Out(l gpio.Level) error
}

// Backend is a simulated card that is both bus and chip-select
type Backend interface {
	Bus
	ChipSelect
}

// EventKind identifies a recorded bus event
type EventKind int

const (
	EventWrite EventKind = iota
	EventRead
	EventSelect
	EventDeselect
	EventClockRate
)

func (k EventKind) String() string {
	switch k {
	case EventWrite:
		return "write"
	case EventRead:
		return "read"
	case EventSelect:
		return "select"
	case EventDeselect:
		return "deselect"
	case EventClockRate:
		return "clock"
	default:
		return "unknown"
	}
}

// Event is one recorded interaction
type Event struct {
	Data     []byte
	Kind     EventKind
	Rate     physic.Frequency
	Selected bool // chip-select state while the event ran
}

// Recorder wraps a backend, logs every call and can fail the Nth bus
// operation. Bus operations are writes, reads, chip-select changes and clock
// changes, counted from 1.
type Recorder struct {
	backend  Backend
	failErr  error
	events   []Event
	ops      int
	failAt   int
	mu       sync.Mutex
	selected bool
}

// NewRecorder wraps backend
func NewRecorder(backend Backend) *Recorder {
	return &Recorder{backend: backend}
}

// FailAt makes operation n return err instead of reaching the backend. A nil
// err means ErrInjected. n <= 0 disables injection.
func (r *Recorder) FailAt(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	r.failAt = n
	r.failErr = err
}

// Ops returns the number of operations seen so far
func (r *Recorder) Ops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ops
}

// Events returns a copy of the event log
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Reset clears the log and the operation counter
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.ops = 0
}

func (r *Recorder) next() error {
	r.ops++
	if r.failAt > 0 && r.ops == r.failAt {
		return r.failErr
	}
	return nil
}

// Write implements Bus
func (r *Recorder) Write(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.next(); err != nil {
		return err
	}
	r.events = append(r.events, Event{Kind: EventWrite, Data: append([]byte(nil), p...), Selected: r.selected})
	return r.backend.Write(p)
}

// Read implements Bus
func (r *Recorder) Read(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.next(); err != nil {
		return err
	}
	err := r.backend.Read(p)
	r.events = append(r.events, Event{Kind: EventRead, Data: append([]byte(nil), p...), Selected: r.selected})
	return err
}

// SetClockRate implements Bus
func (r *Recorder) SetClockRate(f physic.Frequency) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.next(); err != nil {
		return err
	}
	r.events = append(r.events, Event{Kind: EventClockRate, Rate: f, Selected: r.selected})
	return r.backend.SetClockRate(f)
}

// Out implements ChipSelect
func (r *Recorder) Out(l gpio.Level) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.next(); err != nil {
		return err
	}
	kind := EventDeselect
	if l == gpio.Low {
		kind = EventSelect
	}
	r.selected = l == gpio.Low
	r.events = append(r.events, Event{Kind: kind, Selected: r.selected})
	return r.backend.Out(l)
}

// Selected reports the current chip-select state
func (r *Recorder) Selected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// UnselectedTraffic returns the reads, and the writes carrying anything other
// than dummy bytes, that ran while the card was deselected.
func (r *Recorder) UnselectedTraffic() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Selected {
			continue
		}
		switch ev.Kind {
		case EventRead:
			out = append(out, ev)
		case EventWrite:
			if !allDummy(ev.Data) {
				out = append(out, ev)
			}
		default:
		}
	}
	return out
}

// Transactions splits the log into select..deselect groups. Events outside a
// transaction are dropped.
func (r *Recorder) Transactions() [][]Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		out [][]Event
		cur []Event
	)
	for _, ev := range r.events {
		switch ev.Kind {
		case EventSelect:
			cur = []Event{}
		case EventDeselect:
			if cur != nil {
				out = append(out, cur)
				cur = nil
			}
		default:
			if cur != nil {
				cur = append(cur, ev)
			}
		}
	}
	return out
}

// CommandIndexes returns the command index of every 6-byte write that was
// sent with the card selected, in order.
func (r *Recorder) CommandIndexes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for _, ev := range r.events {
		if ev.Kind == EventWrite && ev.Selected && len(ev.Data) == 6 && ev.Data[0]&0xC0 == 0x40 {
			out = append(out, ev.Data[0]&0x3F)
		}
	}
	return out
}

func allDummy(p []byte) bool {
	for _, b := range p {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// FloatingBus models an empty socket: every read returns 0xFF.
type FloatingBus struct {
	Reads int
	mu    sync.Mutex
}

// Write implements Bus
func (*FloatingBus) Write([]byte) error { return nil }

// Read implements Bus
func (f *FloatingBus) Read(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++
	for i := range p {
		p[i] = 0xFF
	}
	return nil
}

// SetClockRate implements Bus
func (*FloatingBus) SetClockRate(physic.Frequency) error { return nil }

// Out implements ChipSelect
func (*FloatingBus) Out(gpio.Level) error { return nil }
