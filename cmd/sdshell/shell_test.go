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

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	microsd "github.com/ZaparooProject/go-microsd"
	"github.com/ZaparooProject/go-microsd/internal/device"
)

func newImage(t *testing.T, blocks int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "card.img")
	require.NoError(t, os.WriteFile(path, make([]byte, blocks*512), 0o600))
	return path
}

func openShell(t *testing.T) (*shell, string) {
	t.Helper()
	path := newImage(t, 4096)
	s := &shell{open: device.Open, timeout: 5 * time.Second}
	require.NoError(t, s.openCard(device.Target{Image: path}))
	t.Cleanup(func() { _ = s.closeCard() })
	return s, path
}

func TestShellReadWrite(t *testing.T) {
	t.Parallel()

	s, path := openShell(t)
	var out bytes.Buffer

	require.NoError(t, s.write(&out, []string{"3", "hex:cafe"}))
	assert.Equal(t, "OK\n", out.String())

	out.Reset()
	require.NoError(t, s.read(&out, []string{"3"}))
	assert.Contains(t, out.String(), "ca fe 00")

	require.Error(t, s.read(&out, nil))
	require.Error(t, s.write(&out, []string{"3"}))
	require.Error(t, s.write(&out, []string{"3", "hex:q"}))

	require.NoError(t, s.closeCard())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xCA, 0xFE}, data[3*512:3*512+2])
}

func TestShellRegisters(t *testing.T) {
	t.Parallel()

	s, _ := openShell(t)
	var out bytes.Buffer

	require.NoError(t, s.capacity(&out))
	assert.Equal(t, "0.00 GB\n", out.String())

	out.Reset()
	require.NoError(t, s.csd(&out))
	assert.Contains(t, out.String(), "C_SIZE:    3")

	out.Reset()
	require.NoError(t, s.cid(&out))
	assert.Contains(t, out.String(), "EMU01")

	out.Reset()
	require.NoError(t, s.info(&out))
	assert.Contains(t, out.String(), "(4096 sectors)")
}

func TestShellOpenFailure(t *testing.T) {
	t.Parallel()

	s, _ := openShell(t)
	before := s.card

	boom := errors.New("no adapter")
	s.open = func(context.Context, device.Target) (microsd.Transport, error) {
		return nil, boom
	}
	require.ErrorIs(t, s.openCard(device.Target{Device: "COM9"}), boom)
	assert.Same(t, before, s.card)

	require.NoError(t, s.closeCard())
	assert.Nil(t, s.card)
	assert.NoError(t, s.closeCard())
}

func TestShellChipSelectDefault(t *testing.T) {
	t.Parallel()

	var got device.Target
	s := &shell{chipSelect: "GPIO25", timeout: time.Second}
	s.open = func(_ context.Context, target device.Target) (microsd.Transport, error) {
		got = target
		return nil, errors.New("stop")
	}
	require.Error(t, s.openCard(device.Target{Device: "/dev/spidev0.0"}))
	assert.Equal(t, "GPIO25", got.ChipSelect)
}

func TestCutImage(t *testing.T) {
	t.Parallel()

	path, ok := cutImage("image:/tmp/card.img")
	assert.True(t, ok)
	assert.Equal(t, "/tmp/card.img", path)

	_, ok = cutImage("image:")
	assert.False(t, ok)
	_, ok = cutImage("/dev/spidev0.0")
	assert.False(t, ok)
}
