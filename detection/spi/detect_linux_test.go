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

//go:build linux

package spi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCharDevice(t *testing.T) {
	t.Parallel()

	char, err := isCharDevice("/dev/null")
	require.NoError(t, err)
	assert.True(t, char)

	path := filepath.Join(t.TempDir(), "spidev0.0")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	char, err = isCharDevice(path)
	require.NoError(t, err)
	assert.False(t, char)

	_, err = isCharDevice(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
