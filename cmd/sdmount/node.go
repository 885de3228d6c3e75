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
	"errors"
	"io"
	"syscall"

	"github.com/golang/glog"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/ZaparooProject/go-microsd/diskio"
)

const imageName = "card.img"

// blockDevice is the part of *diskio.Disk the file node uses
type blockDevice interface {
	io.ReaderAt
	io.WriterAt
	Size() (int64, error)
	ReadOnly() bool
}

// root is a directory holding the single card image file
type root struct {
	fs.Inode
	disk blockDevice
}

var _ = (fs.NodeOnAdder)((*root)(nil))

func (r *root) OnAdd(ctx context.Context) {
	child := r.NewPersistentInode(ctx, &cardFile{disk: r.disk}, fs.StableAttr{Mode: syscall.S_IFREG})
	r.AddChild(imageName, child, false)
}

// cardFile serves the card's sectors as one file
type cardFile struct {
	fs.Inode
	disk blockDevice
}

var (
	_ = (fs.NodeGetattrer)((*cardFile)(nil))
	_ = (fs.NodeOpener)((*cardFile)(nil))
	_ = (fs.NodeReader)((*cardFile)(nil))
	_ = (fs.NodeWriter)((*cardFile)(nil))
	_ = (fs.NodeFsyncer)((*cardFile)(nil))
)

func (f *cardFile) Getattr(_ context.Context, _ fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	size, err := f.disk.Size()
	if err != nil {
		glog.Warningf("size: %v", err)
		return syscall.EIO
	}
	out.Mode = 0o644
	if f.disk.ReadOnly() {
		out.Mode = 0o444
	}
	out.Size = uint64(size)
	out.Blksize = diskio.SectorSize
	out.Blocks = uint64(size) / 512
	return 0
}

func (f *cardFile) Open(_ context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if f.disk.ReadOnly() && flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	// no page cache: every read reaches the card
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (f *cardFile) Read(_ context.Context, _ fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := f.disk.ReadAt(dest, off)
	if err != nil && !errors.Is(err, io.EOF) {
		glog.Warningf("read %d bytes at %d: %v", len(dest), off, err)
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (f *cardFile) Write(_ context.Context, _ fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	if f.disk.ReadOnly() {
		return 0, syscall.EROFS
	}
	n, err := f.disk.WriteAt(data, off)
	switch {
	case errors.Is(err, io.ErrShortWrite):
		return uint32(n), syscall.ENOSPC
	case err != nil:
		glog.Warningf("write %d bytes at %d: %v", len(data), off, err)
		return uint32(n), syscall.EIO
	}
	return uint32(n), 0
}

// Fsync succeeds at once, block writes are committed before they return
func (*cardFile) Fsync(context.Context, fs.FileHandle, uint32) syscall.Errno {
	return 0
}
