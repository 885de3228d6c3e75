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
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	microsd "github.com/ZaparooProject/go-microsd"
	"github.com/ZaparooProject/go-microsd/internal/device"
)

const (
	shellKey       = "$shell"
	closedPrompt   = "[no card] > "
	defaultTimeout = 10 * time.Second
)

var errNotOpen = errors.New("no card open")

// shell holds the open card between commands
type shell struct {
	ishell     *ishell.Shell
	transport  microsd.Transport
	card       *microsd.Card
	open       func(ctx context.Context, t device.Target) (microsd.Transport, error)
	chipSelect string
	timeout    time.Duration
}

func newShell(sh *ishell.Shell, chipSelect string, timeout time.Duration) *shell {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	s := &shell{
		ishell:     sh,
		open:       device.Open,
		chipSelect: chipSelect,
		timeout:    timeout,
	}
	sh.Set(shellKey, s)
	sh.SetPrompt(closedPrompt)
	for _, cmd := range commands {
		sh.AddCmd(cmd)
	}
	return s
}

func shellFrom(c *ishell.Context) *shell {
	return c.Get(shellKey).(*shell)
}

func (s *shell) setPrompt(p string) {
	if s.ishell != nil {
		s.ishell.SetPrompt(p)
	}
}

func (s *shell) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *shell) openCard(target device.Target) error {
	if target.ChipSelect == "" {
		target.ChipSelect = s.chipSelect
	}
	ctx, cancel := s.context()
	defer cancel()

	transport, err := s.open(ctx, target)
	if err != nil {
		return err
	}
	card, err := microsd.NewContext(ctx, transport, transport)
	if err != nil {
		_ = transport.Close()
		return err
	}

	_ = s.closeCard()
	s.transport, s.card = transport, card
	s.setPrompt(fmt.Sprintf("[%s] > ", transport.Type()))
	return nil
}

func (s *shell) closeCard() error {
	if s.transport == nil {
		return nil
	}
	err := s.transport.Close()
	s.transport, s.card = nil, nil
	s.setPrompt(closedPrompt)
	return err
}

func (s *shell) info(w io.Writer) error {
	ctx, cancel := s.context()
	defer cancel()
	return device.WriteInfo(ctx, w, s.card)
}

func (s *shell) read(w io.Writer, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: read BLOCK")
	}
	addr, err := device.ParseBlock(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := s.context()
	defer cancel()
	block, err := s.card.ReadBlockContext(ctx, addr)
	if err != nil {
		return err
	}
	device.WriteBlock(w, addr, &block)
	return nil
}

func (s *shell) write(w io.Writer, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: write BLOCK DATA")
	}
	addr, err := device.ParseBlock(args[0])
	if err != nil {
		return err
	}
	block, err := device.ParseData(args[1])
	if err != nil {
		return err
	}
	ctx, cancel := s.context()
	defer cancel()
	if err := s.card.WriteBlockContext(ctx, addr, &block); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, "OK")
	return nil
}

func (s *shell) capacity(w io.Writer) error {
	ctx, cancel := s.context()
	defer cancel()
	gb, err := s.card.CapacityContext(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "%.2f GB\n", gb)
	return nil
}

func (s *shell) csd(w io.Writer) error {
	ctx, cancel := s.context()
	defer cancel()
	csd, err := s.card.ReadCSDContext(ctx)
	if err != nil {
		return err
	}
	device.WriteCSD(w, csd)
	return nil
}

func (s *shell) cid(w io.Writer) error {
	ctx, cancel := s.context()
	defer cancel()
	cid, err := s.card.ReadCIDContext(ctx)
	if err != nil {
		return err
	}
	device.WriteCID(w, cid)
	return nil
}

// mustBeOpen wraps a command that needs an open card and prints its output
func mustBeOpen(fn func(s *shell, w io.Writer, args []string) error) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		s := shellFrom(c)
		if s.card == nil {
			c.Err(errNotOpen)
			return
		}
		var out bytes.Buffer
		err := fn(s, &out, c.Args)
		c.Print(out.String())
		if err != nil {
			c.Err(err)
		}
	}
}

var (
	openCmd = ishell.Cmd{
		Name:    "open",
		Aliases: []string{"o"},
		Help:    "[DEVICE] open a card: spidev path, buspirate:PORT, image:FILE, or nothing to auto-detect",
		Func: func(c *ishell.Context) {
			var target device.Target
			if len(c.Args) > 0 {
				target.Device = c.Args[0]
				if path, ok := cutImage(target.Device); ok {
					target = device.Target{Image: path}
				}
			}
			if len(c.Args) > 1 {
				target.ChipSelect = c.Args[1]
			}
			if err := shellFrom(c).openCard(target); err != nil {
				c.Err(err)
			}
		},
	}

	closeCmd = ishell.Cmd{
		Name: "close",
		Help: "close the current card",
		Func: func(c *ishell.Context) {
			if err := shellFrom(c).closeCard(); err != nil {
				c.Err(err)
			}
		},
	}

	infoCmd = ishell.Cmd{
		Name: "info",
		Help: "show card type, identification and capacity",
		Func: mustBeOpen(func(s *shell, w io.Writer, _ []string) error { return s.info(w) }),
	}

	readCmd = ishell.Cmd{
		Name:    "read",
		Aliases: []string{"r"},
		Help:    "BLOCK hex dump one block",
		Func:    mustBeOpen((*shell).read),
	}

	writeCmd = ishell.Cmd{
		Name:    "write",
		Aliases: []string{"w"},
		Help:    "BLOCK DATA write text or hex:DIGITS, zero padded",
		Func:    mustBeOpen((*shell).write),
	}

	capacityCmd = ishell.Cmd{
		Name: "capacity",
		Help: "show capacity in GB",
		Func: mustBeOpen(func(s *shell, w io.Writer, _ []string) error { return s.capacity(w) }),
	}

	csdCmd = ishell.Cmd{
		Name: "csd",
		Help: "show the card-specific data register",
		Func: mustBeOpen(func(s *shell, w io.Writer, _ []string) error { return s.csd(w) }),
	}

	cidCmd = ishell.Cmd{
		Name: "cid",
		Help: "show the card identification register",
		Func: mustBeOpen(func(s *shell, w io.Writer, _ []string) error { return s.cid(w) }),
	}

	commands = []*ishell.Cmd{
		&openCmd,
		&closeCmd,
		&infoCmd,
		&readCmd,
		&writeCmd,
		&capacityCmd,
		&csdCmd,
		&cidCmd,
	}
)

func cutImage(device string) (string, bool) {
	path, ok := strings.CutPrefix(device, "image:")
	return path, ok && path != ""
}
