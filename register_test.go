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
	"testing"
	"time"

	"github.com/ZaparooProject/go-microsd/emulator"
	testutil "github.com/ZaparooProject/go-microsd/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSD_CSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		csd  CSD
		want uint32
	}{
		{
			name: "Bytes_6_To_9",
			csd:  CSD{6: 0x00, 7: 0x00, 8: 0x0E, 9: 0xCE},
			want: 0x0ECE,
		},
		{
			name: "Upper_Bits_Masked",
			csd:  CSD{6: 0xFF, 7: 0xFF, 8: 0xFF, 9: 0xFF},
			want: 0x3FFFFF,
		},
		{
			name: "Bits_21_To_16",
			csd:  CSD{7: 0x01, 8: 0x00, 9: 0x00},
			want: 0x010000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.csd.CSize())
		})
	}
}

func TestCSD_Structure(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, CSD{0: 0x40}.Structure())
	assert.Equal(t, 0, CSD{0: 0x00}.Structure())
}

func TestCapacityGB(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, float64(3791*512)/1024/1024, CapacityGB(3790), 1e-9)
	assert.InDelta(t, 1.85, CapacityGB(3790), 0.01)
	assert.InDelta(t, 0.000488, CapacityGB(0), 0.000001)
	assert.InDelta(t, 2048.0, CapacityGB(0x3FFFFF), 0.001)
}

func TestCard_ReadCSD(t *testing.T) {
	t.Parallel()

	rig := newRig(t, nil)

	csd, err := rig.card.ReadCSD()
	require.NoError(t, err)
	assert.Equal(t, 1, csd.Structure())
	assert.Equal(t, uint32(testBlocks/1024-1), csd.CSize())

	capacity, err := rig.card.Capacity()
	require.NoError(t, err)
	assert.InDelta(t, CapacityGB(testBlocks/1024-1), capacity, 1e-9)

	sectors, err := rig.card.SectorCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(testBlocks), sectors)

	assert.Equal(t, []byte{byte(CmdSendCSD), byte(CmdSendCSD), byte(CmdSendCSD)},
		rig.emu.Commands()[len(rig.emu.Commands())-3:])
}

func TestCard_ReadCSD_ScriptedCapacity(t *testing.T) {
	t.Parallel()

	bus := newScriptedBus()
	card, err := New(bus, bus, WithClock(testutil.NewStepClock(time.Microsecond)))
	require.NoError(t, err)

	packet := []byte{0x00, 0xFF, 0xFE}
	packet = append(packet, 0x40, 0x0E, 0x00, 0x32, 0x5B, 0x59, 0x00, 0x00, 0x0E, 0xCE,
		0x7F, 0x80, 0x0A, 0x40, 0x00, 0x01)
	packet = append(packet, 0x12, 0x34)
	bus.set(CmdSendCSD, packet...)

	csd, err := card.ReadCSD()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0ECE), csd.CSize())

	capacity, err := card.Capacity()
	require.NoError(t, err)
	assert.InDelta(t, float64(3791*512)/1024/1024, capacity, 1e-9)
}

func TestCard_ReadCID(t *testing.T) {
	t.Parallel()

	rig := newRig(t, nil)

	cid, err := rig.card.ReadCID()
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), cid.ManufacturerID())
	assert.Equal(t, "SD", cid.OEMID())
	assert.Equal(t, "EMU01", cid.ProductName())
	major, minor := cid.Revision()
	assert.Equal(t, 1, major)
	assert.Equal(t, 0, minor)
	assert.Equal(t, uint32(0x12345678), cid.SerialNumber())
}

func TestCard_RegisterErrors(t *testing.T) {
	t.Parallel()

	rig := newRig(t, nil, WithMaxPollAttempts(100))

	rig.emu.SetWithholdData(true)
	_, err := rig.card.ReadCSDContext(context.Background())
	require.ErrorIs(t, err, ErrDeviceNotResponding)

	_, err = rig.card.CapacityContext(context.Background())
	require.ErrorIs(t, err, ErrDeviceNotResponding)

	_, err = rig.card.ReadCIDContext(context.Background())
	require.ErrorIs(t, err, ErrDeviceNotResponding)
	rig.emu.SetWithholdData(false)

	rig.emu.SetUnresponsive(true)
	require.Error(t, rig.card.Reinitialize(context.Background()))
	_, err = rig.card.ReadCSD()
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = rig.card.SectorCount(context.Background())
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestCard_StandardCapacityCSD(t *testing.T) {
	t.Parallel()

	rig := newRig(t, []emulator.Option{emulator.WithStandardCapacity()})

	csd, err := rig.card.ReadCSD()
	require.NoError(t, err)
	assert.Equal(t, 0, csd.Structure())
}
