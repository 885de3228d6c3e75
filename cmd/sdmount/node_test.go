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

//go:build !windows

package main

import (
	"context"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	microsd "github.com/ZaparooProject/go-microsd"
	"github.com/ZaparooProject/go-microsd/diskio"
	"github.com/ZaparooProject/go-microsd/emulator"
)

func newFile(t *testing.T, opts ...diskio.Option) *cardFile {
	t.Helper()
	emu := emulator.New(emulator.NewMemory(2048))
	card, err := microsd.New(emu, emu, microsd.WithPowerUpDelay(0))
	require.NoError(t, err)
	return &cardFile{disk: diskio.New(card, opts...)}
}

func readAll(t *testing.T, f *cardFile, n int, off int64) []byte {
	t.Helper()
	res, errno := f.Read(context.Background(), nil, make([]byte, n), off)
	require.Equal(t, syscall.Errno(0), errno)
	data, status := res.Bytes(nil)
	require.Equal(t, fuse.OK, status)
	return data
}

func TestCardFileGetattr(t *testing.T) {
	t.Parallel()

	var out fuse.AttrOut
	require.Equal(t, syscall.Errno(0), newFile(t).Getattr(context.Background(), nil, &out))
	assert.Equal(t, uint64(2048*512), out.Size)
	assert.Equal(t, uint32(0o644), out.Mode)
	assert.Equal(t, uint64(2048), out.Blocks)

	require.Equal(t, syscall.Errno(0), newFile(t, diskio.WithReadOnly()).Getattr(context.Background(), nil, &out))
	assert.Equal(t, uint32(0o444), out.Mode)
}

func TestCardFileReadWrite(t *testing.T) {
	t.Parallel()

	f := newFile(t)
	ctx := context.Background()

	n, errno := f.Write(ctx, nil, []byte("across a sector edge"), 500)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint32(20), n)

	assert.Equal(t, []byte("across a sector edge"), readAll(t, f, 20, 500))

	// reads past the end are short, not errors
	assert.Len(t, readAll(t, f, 1024, 2048*512-100), 100)

	_, errno = f.Write(ctx, nil, make([]byte, 10), 2048*512-4)
	assert.Equal(t, syscall.ENOSPC, errno)
}

func TestCardFileReadOnly(t *testing.T) {
	t.Parallel()

	f := newFile(t, diskio.WithReadOnly())
	ctx := context.Background()

	_, _, errno := f.Open(ctx, syscall.O_RDWR)
	assert.Equal(t, syscall.EROFS, errno)

	_, flags, errno := f.Open(ctx, syscall.O_RDONLY)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint32(fuse.FOPEN_DIRECT_IO), flags)

	_, errno = f.Write(ctx, nil, []byte{1}, 0)
	assert.Equal(t, syscall.EROFS, errno)
	assert.Equal(t, syscall.Errno(0), f.Fsync(ctx, nil, 0))
}
