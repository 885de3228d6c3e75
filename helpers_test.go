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
	"sync"
	"testing"
	"time"

	"github.com/ZaparooProject/go-microsd/emulator"
	testutil "github.com/ZaparooProject/go-microsd/internal/testing"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

const testBlocks = 4096

type testRig struct {
	card  *Card
	emu   *emulator.Card
	rec   *testutil.Recorder
	clock *testutil.StepClock
}

// newRig initializes a driver against an emulated card behind a recorder
func newRig(t *testing.T, emuOpts []emulator.Option, opts ...Option) *testRig {
	t.Helper()
	rig := newUninitializedRig(emuOpts)
	card, err := New(rig.rec, rig.rec, append([]Option{WithClock(rig.clock)}, opts...)...)
	require.NoError(t, err)
	rig.card = card
	return rig
}

func newUninitializedRig(emuOpts []emulator.Option) *testRig {
	emu := emulator.New(emulator.NewMemory(testBlocks), emuOpts...)
	return &testRig{
		emu:   emu,
		rec:   testutil.NewRecorder(emu),
		clock: testutil.NewStepClock(time.Microsecond),
	}
}

// scriptedBus answers every command frame with a canned byte sequence. Reads
// past the end of a script return 0xFF. Deselecting drops the rest.
type scriptedBus struct {
	responses map[Command][]byte
	out       []byte
	mu        sync.Mutex
}

func newScriptedBus() *scriptedBus {
	return &scriptedBus{
		responses: map[Command][]byte{
			CmdGoIdleState: {0x01},
			CmdSendIfCond:  {0x01, 0x00, 0x00, 0x01, 0xAA},
			CmdAppCmd:      {0x01},
			AcmdSendOpCond: {0x00},
			CmdReadOCR:     {0x00, 0xC0, 0xFF, 0x80, 0x00},
			CmdSetBlockLen: {0x00},
		},
	}
}

func (s *scriptedBus) set(cmd Command, resp ...byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[cmd] = resp
}

func (s *scriptedBus) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(p) == 6 && p[0]&0xC0 == 0x40 {
		s.out = append(s.out[:0], s.responses[Command(p[0]&0x3F)]...)
	}
	return nil
}

func (s *scriptedBus) Read(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range p {
		p[i] = 0xFF
		if len(s.out) > 0 {
			p[i] = s.out[0]
			s.out = s.out[1:]
		}
	}
	return nil
}

func (*scriptedBus) SetClockRate(physic.Frequency) error { return nil }

func (*scriptedBus) Close() error { return nil }

func (*scriptedBus) Type() TransportType { return TransportMock }

var _ Transport = (*scriptedBus)(nil)

func (s *scriptedBus) Out(l gpio.Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l == gpio.High {
		s.out = nil
	}
	return nil
}

func fillBlock(v byte) *Block {
	var b Block
	for i := range b {
		b[i] = v
	}
	return &b
}

// stuckDeselect drives a scripted bus but fails every deselect once armed
type stuckDeselect struct {
	*scriptedBus
	armed bool
}

func (s *stuckDeselect) Out(l gpio.Level) error {
	if s.armed && l == gpio.High {
		return errors.New("chip-select stuck")
	}
	return s.scriptedBus.Out(l)
}
