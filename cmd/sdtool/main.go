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

// Command sdtool runs one operation against an SD card: info, read, write or
// dump.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang/glog"
	"golang.org/x/term"

	microsd "github.com/ZaparooProject/go-microsd"
	"github.com/ZaparooProject/go-microsd/internal/device"
)

type config struct {
	devicePath *string
	chipSelect *string
	image      *string
	timeout    *time.Duration
	debug      *bool
	hex        *bool
}

var errUsage = errors.New("usage")

func parseFlags() *config {
	cfg := &config{
		devicePath: flag.String("device", "",
			"spidev path, buspirate:<port> or serial port. Leave empty for auto-detection."),
		chipSelect: flag.String("cs", "", "GPIO used as chip-select with spidev ports (e.g. GPIO25)"),
		image:      flag.String("image", "", "Serve an emulated card from this raw image file"),
		timeout:    flag.Duration("timeout", 10*time.Second, "Timeout for the whole operation"),
		debug:      flag.Bool("debug", false, "Trace SPI commands and responses"),
		hex:        flag.Bool("hex", false, "Hex dump blocks even when stdout is not a terminal"),
	}
	flag.Usage = usage
	flag.Parse()

	if *cfg.debug {
		microsd.SetDebugEnabled(true)
		_ = flag.Set("logtostderr", "true")
	}

	return cfg
}

func usage() {
	out := flag.CommandLine.Output()
	_, _ = fmt.Fprintf(out, "Usage: %s [flags] <command> [args]\n\n", os.Args[0])
	_, _ = fmt.Fprint(out, "Commands:\n"+
		"  info                    show card type, identification and capacity\n"+
		"  read <block>            hex dump one block\n"+
		"  write <block> <data>    write text or hex:<digits>, zero padded\n"+
		"  dump <block> <count>    hex dump consecutive blocks\n\n")
	flag.PrintDefaults()
}

func run(ctx context.Context, card *microsd.Card, args []string, out io.Writer, raw bool) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "info":
		return device.WriteInfo(ctx, out, card)
	case "read":
		if len(args) != 2 {
			return errUsage
		}
		return dump(ctx, card, args[1], "1", out, raw)
	case "dump":
		if len(args) != 3 {
			return errUsage
		}
		return dump(ctx, card, args[1], args[2], out, raw)
	case "write":
		if len(args) != 3 {
			return errUsage
		}
		addr, err := device.ParseBlock(args[1])
		if err != nil {
			return err
		}
		block, err := device.ParseData(args[2])
		if err != nil {
			return err
		}
		if err := card.WriteBlockContext(ctx, addr, &block); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Wrote block %d\n", addr)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func dump(ctx context.Context, card *microsd.Card, start, count string, out io.Writer, raw bool) error {
	addr, err := device.ParseBlock(start)
	if err != nil {
		return err
	}
	n, err := device.ParseBlock(count)
	if err != nil {
		return err
	}
	for i := range n {
		block, err := card.ReadBlockContext(ctx, addr+i)
		if err != nil {
			return err
		}
		if raw {
			if _, err := out.Write(block[:]); err != nil {
				return err
			}
			continue
		}
		device.WriteBlock(out, addr+i, &block)
	}
	return nil
}

func main() {
	cfg := parseFlags()
	defer glog.Flush()

	ctx, cancel := context.WithTimeout(context.Background(), *cfg.timeout)
	defer cancel()

	if *cfg.devicePath == "" && *cfg.image == "" {
		_, _ = fmt.Println("Auto-detecting SD card adapters...")
	}
	transport, err := device.Open(ctx, device.Target{
		Device:     *cfg.devicePath,
		ChipSelect: *cfg.chipSelect,
		Image:      *cfg.image,
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to open device: %v\n", err)
		os.Exit(1)
	}

	code := 0
	card, err := microsd.NewContext(ctx, transport, transport)
	if err == nil {
		raw := !*cfg.hex && !term.IsTerminal(int(os.Stdout.Fd()))
		err = run(ctx, card, flag.Args(), os.Stdout, raw)
	}
	if err != nil {
		if errors.Is(err, errUsage) {
			usage()
			code = 2
		} else {
			_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
			code = 1
		}
	}

	if err := transport.Close(); err != nil {
		glog.Warningf("close %s transport: %v", transport.Type(), err)
	}
	glog.Flush()
	os.Exit(code)
}
