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

package spi

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-microsd/detection"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	return path
}

func TestDetectFiltersNodes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	char0 := touch(t, dir, "spidev0.0")
	char1 := touch(t, dir, "spidev1.2")
	touch(t, dir, "spidev-bogus")
	plain := touch(t, dir, "spidev0.1")

	d := &detector{devDir: dir, isChar: func(path string) (bool, error) {
		return path != plain, nil
	}}

	devices, err := d.Detect(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, char0, devices[0].Path)
	assert.Equal(t, "SPI0.0", devices[0].Name)
	assert.Equal(t, detection.Low, devices[0].Confidence)
	assert.Equal(t, "spi", devices[0].Transport)

	assert.Equal(t, char1, devices[1].Path)
	assert.Equal(t, "1", devices[1].Metadata["bus"])
	assert.Equal(t, "2", devices[1].Metadata["chip_select"])
}

func TestDetectIgnorePaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ignored := touch(t, dir, "spidev0.0")
	kept := touch(t, dir, "spidev0.1")

	d := &detector{devDir: dir, isChar: func(string) (bool, error) { return true, nil }}
	opts := detection.DefaultOptions()
	opts.IgnorePaths = []string{ignored}

	devices, err := d.Detect(context.Background(), &opts)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, kept, devices[0].Path)
}

func TestDetectNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, dir, "spidev0.0")

	d := &detector{devDir: dir, isChar: func(string) (bool, error) {
		return false, errors.New("stat failed")
	}}
	_, err := d.Detect(context.Background(), nil)
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)

	d = &detector{devDir: dir}
	_, err = d.Detect(context.Background(), nil)
	assert.ErrorIs(t, err, detection.ErrUnsupportedPlatform)
}

func TestDetectCancelled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, dir, "spidev0.0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &detector{devDir: dir, isChar: func(string) (bool, error) { return true, nil }}
	_, err := d.Detect(ctx, nil)
	assert.ErrorIs(t, err, detection.ErrDetectionTimeout)
}

func TestParseNode(t *testing.T) {
	t.Parallel()

	info, ok := parseNode("/dev/spidev10.3")
	require.True(t, ok)
	assert.Equal(t, "SPI10.3", info.Name)
	assert.Equal(t, "spi:/dev/spidev10.3", info.String())

	_, ok = parseNode("/dev/spidev")
	assert.False(t, ok)
}
