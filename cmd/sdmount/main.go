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

// Command sdmount exposes an SD card as a file in a FUSE mount, so regular
// tools such as fdisk or mkfs can work on it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	microsd "github.com/ZaparooProject/go-microsd"
	"github.com/ZaparooProject/go-microsd/diskio"
	"github.com/ZaparooProject/go-microsd/internal/device"
)

var (
	devicePath = flag.String("device", "", "spidev path, buspirate:<port> or serial port. Leave empty for auto-detection.")
	chipSelect = flag.String("cs", "", "GPIO used as chip-select with spidev ports")
	image      = flag.String("image", "", "Serve an emulated card backed by this image file")
	timeout    = flag.Duration("timeout", 10*time.Second, "Timeout for opening the card")
	readOnly   = flag.Bool("ro", false, "Mount read-only")
	debug      = flag.Bool("debug", false, "Trace SPI commands and FUSE requests")
)

func main() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] MOUNTPOINT\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	defer glog.Flush()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if *debug {
		microsd.SetDebugEnabled(true)
		_ = flag.Set("logtostderr", "true")
	}

	if err := run(flag.Arg(0)); err != nil {
		glog.Errorf("%v", err)
		glog.Flush()
		os.Exit(1)
	}
}

func run(mountpoint string) error {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	transport, err := device.Open(ctx, device.Target{Device: *devicePath, ChipSelect: *chipSelect, Image: *image})
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer func() {
		if err := transport.Close(); err != nil {
			glog.Warningf("close %s transport: %v", transport.Type(), err)
		}
	}()

	card, err := microsd.NewContext(ctx, transport, transport)
	if err != nil {
		return err
	}

	var opts []diskio.Option
	if *readOnly {
		opts = append(opts, diskio.WithReadOnly())
	}
	disk := diskio.New(card, opts...)
	size, err := disk.Size()
	if err != nil {
		return err
	}

	server, err := fs.Mount(mountpoint, &root{disk: disk}, &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName: "microsd",
			Name:   "microsd",
			Debug:  *debug,
		},
	})
	if err != nil {
		return fmt.Errorf("mount %s: %w", mountpoint, err)
	}
	glog.Infof("serving %d byte card at %s/%s", size, mountpoint, imageName)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		if err := server.Unmount(); err != nil {
			glog.Warningf("unmount: %v", err)
		}
	}()

	server.Wait()
	return nil
}
