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

package diskio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	microsd "github.com/ZaparooProject/go-microsd"
	"github.com/ZaparooProject/go-microsd/emulator"
	testutil "github.com/ZaparooProject/go-microsd/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSectors = 2048

func newEmulatedDisk(t *testing.T, opts ...Option) (*Disk, *emulator.Card) {
	t.Helper()
	emu := emulator.New(emulator.NewMemory(testSectors))
	card, err := microsd.New(emu, emu, microsd.WithClock(testutil.NewStepClock(time.Microsecond)))
	require.NoError(t, err)
	return New(card, opts...), emu
}

// fakeCard fails the block at failAt and counts calls
type fakeCard struct {
	err     error
	blocks  map[uint32]microsd.Block
	calls   []uint32
	failAt  uint32
	ready   bool
	sectors uint64
	mu      sync.Mutex
}

func newFakeCard() *fakeCard {
	return &fakeCard{blocks: map[uint32]microsd.Block{}, ready: true, failAt: ^uint32(0), sectors: 100}
}

func (f *fakeCard) ReadBlockContext(_ context.Context, addr uint32) (microsd.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, addr)
	if addr == f.failAt {
		return microsd.Block{}, f.err
	}
	return f.blocks[addr], nil
}

func (f *fakeCard) WriteBlockContext(_ context.Context, addr uint32, data *microsd.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, addr)
	if addr == f.failAt {
		return f.err
	}
	f.blocks[addr] = *data
	return nil
}

func (f *fakeCard) SectorCount(context.Context) (uint64, error) {
	return f.sectors, nil
}

func (f *fakeCard) Reinitialize(context.Context) error {
	if f.err != nil {
		f.ready = false
		return f.err
	}
	f.ready = true
	return nil
}

func (f *fakeCard) Ready() bool {
	return f.ready
}

func TestDisk_ReadWriteSectors(t *testing.T) {
	t.Parallel()

	disk, _ := newEmulatedDisk(t)

	buf := make([]byte, 3*SectorSize)
	for i := range buf {
		buf[i] = byte(i / SectorSize * 0x11)
	}
	require.Equal(t, ResOK, disk.Write(context.Background(), 10, 3, buf))

	got := make([]byte, 3*SectorSize)
	require.Equal(t, ResOK, disk.Read(context.Background(), 10, 3, got))
	assert.Equal(t, buf, got)
}

func TestDisk_Status(t *testing.T) {
	t.Parallel()

	disk, emu := newEmulatedDisk(t)
	assert.Equal(t, Status(0), disk.Status())

	emu.SetUnresponsive(true)
	assert.Equal(t, StatusNoInit, disk.Initialize(context.Background()))
	require.ErrorIs(t, disk.Err(), microsd.ErrInitializationFailed)
	assert.Equal(t, ResNotReady, disk.Read(context.Background(), 0, 1, make([]byte, SectorSize)))

	emu.SetUnresponsive(false)
	assert.Equal(t, Status(0), disk.Initialize(context.Background()))

	ro := New(newFakeCard(), WithReadOnly())
	assert.Equal(t, StatusProtect, ro.Status())
}

func TestDisk_ParameterErrors(t *testing.T) {
	t.Parallel()

	disk := New(newFakeCard())
	ctx := context.Background()

	assert.Equal(t, ResParameterError, disk.Read(ctx, 0, 0, make([]byte, SectorSize)))
	assert.Equal(t, ResParameterError, disk.Read(ctx, 0, 2, make([]byte, SectorSize)))
	assert.Equal(t, ResParameterError, disk.Write(ctx, 1<<32, 1, make([]byte, SectorSize)))
	assert.Equal(t, ResParameterError, disk.Ioctl(GetSectorCount, nil))
	assert.Equal(t, ResParameterError, disk.Ioctl(IoctlCmd(99), new(uint32)))
}

func TestDisk_StopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	card := newFakeCard()
	card.failAt = 6
	card.err = errors.New("boom")
	disk := New(card)

	res := disk.Write(context.Background(), 4, 5, make([]byte, 5*SectorSize))
	assert.Equal(t, ResError, res)
	assert.Equal(t, []uint32{4, 5, 6}, card.calls)
	assert.EqualError(t, disk.Err(), "boom")

	card.calls = nil
	res = disk.Read(context.Background(), 4, 5, make([]byte, 5*SectorSize))
	assert.Equal(t, ResError, res)
	assert.Equal(t, []uint32{4, 5, 6}, card.calls)
}

func TestDisk_NotInitializedMapsToNotReady(t *testing.T) {
	t.Parallel()

	card := newFakeCard()
	card.failAt = 0
	card.err = &microsd.CardError{Op: "read block", Err: microsd.ErrNotInitialized}
	disk := New(card)

	assert.Equal(t, ResNotReady, disk.Read(context.Background(), 0, 1, make([]byte, SectorSize)))
}

func TestDisk_ReadOnly(t *testing.T) {
	t.Parallel()

	card := newFakeCard()
	disk := New(card, WithReadOnly())

	assert.Equal(t, ResWriteProtected, disk.Write(context.Background(), 0, 1, make([]byte, SectorSize)))
	_, err := disk.WriteAt([]byte{1}, 0)
	require.Error(t, err)
	assert.Empty(t, card.calls)
}

func TestDisk_Ioctl(t *testing.T) {
	t.Parallel()

	disk, _ := newEmulatedDisk(t)
	var out uint32

	assert.Equal(t, ResOK, disk.Ioctl(CtrlSync, nil))

	require.Equal(t, ResOK, disk.Ioctl(GetSectorCount, &out))
	assert.Equal(t, uint32(testSectors), out)

	require.Equal(t, ResOK, disk.Ioctl(GetSectorSize, &out))
	assert.Equal(t, uint32(512), out)

	require.Equal(t, ResOK, disk.Ioctl(GetBlockSize, &out))
	assert.Equal(t, uint32(1), out)

	size, err := disk.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(testSectors*SectorSize), size)
}

func TestDisk_ReaderWriterAt(t *testing.T) {
	t.Parallel()

	disk, _ := newEmulatedDisk(t)

	// spans the end of sector 0 and the start of sector 1
	msg := []byte("hello across the sector boundary")
	n, err := disk.WriteAt(msg, SectorSize-5)
	require.NoError(t, err)
	assert.Equal(t, len(msg), n)

	got := make([]byte, len(msg))
	n, err = disk.ReadAt(got, SectorSize-5)
	require.NoError(t, err)
	assert.Equal(t, len(msg), n)
	assert.Equal(t, msg, got)

	// bytes around the patch are untouched
	sector := make([]byte, SectorSize)
	require.Equal(t, ResOK, disk.Read(context.Background(), 0, 1, sector))
	assert.Equal(t, bytes.Repeat([]byte{0}, SectorSize-5), sector[:SectorSize-5])

	// whole sector write skips the read
	full := bytes.Repeat([]byte{0x77}, SectorSize)
	_, err = disk.WriteAt(full, 4*SectorSize)
	require.NoError(t, err)
	_, err = disk.ReadAt(sector, 4*SectorSize)
	require.NoError(t, err)
	assert.Equal(t, full, sector)
}

func TestDisk_ReadAtEOF(t *testing.T) {
	t.Parallel()

	disk, _ := newEmulatedDisk(t)

	buf := make([]byte, 10)
	n, err := disk.ReadAt(buf, testSectors*SectorSize-4)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 4, n)

	_, err = disk.WriteAt(buf, testSectors*SectorSize)
	require.ErrorIs(t, err, io.ErrShortWrite)

	_, err = disk.ReadAt(buf, -1)
	require.Error(t, err)
}

func TestDisk_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	disk, _ := newEmulatedDisk(t)

	var wg sync.WaitGroup
	for g := range 4 {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			buf := bytes.Repeat([]byte{byte(g + 1)}, SectorSize)
			for i := range 5 {
				sector := uint64(g*10 + i)
				assert.Equal(t, ResOK, disk.Write(context.Background(), sector, 1, buf))
				got := make([]byte, SectorSize)
				assert.Equal(t, ResOK, disk.Read(context.Background(), sector, 1, got))
				assert.Equal(t, buf, got)
			}
		}(g)
	}
	wg.Wait()
}

func TestResult_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ok", ResOK.String())
	assert.Equal(t, "not ready", ResNotReady.String())
	assert.Equal(t, "Result(42)", Result(42).String())
}
