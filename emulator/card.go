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

// Package emulator provides an SD card that speaks the SPI-mode protocol on
// top of a block Storage. It implements the driver's bus and chip-select
// interfaces so the whole stack can run without hardware.
package emulator

import (
	"encoding/binary"
	"sync"

	"github.com/ZaparooProject/go-microsd/internal/frame"
	"github.com/golang/glog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// R1 bits
const (
	r1Idle           = 0x01
	r1IllegalCommand = 0x04
	r1CRCError       = 0x08
	r1AddressError   = 0x20
	r1ParameterError = 0x40
)

// Tokens
const (
	dataAccepted    = 0xE5 // upper bits are undefined, real cards vary
	dataWriteError  = 0xED
	dataErrorToken  = 0x01
	busyByte        = 0x00
	ocrPowerUp      = 1 << 31
	ocrCCS          = 1 << 30
	ocrVoltageRange = 0x00FF8000
	argHCS          = 1 << 30
)

type parserState int

const (
	parseIdle parserState = iota
	parseCommand
	parseWriteToken
	parseWriteData
)

// Card is an emulated SD card. It is safe for concurrent use, although a
// real bus serializes access anyway.
type Card struct {
	storage Storage
	config  config

	out      []byte
	cmd      frame.Command
	cmdLen   int
	parser   parserState
	writeBuf []byte
	target   uint32

	history      []byte
	rate         physic.Frequency
	powerClocks  int
	opCondLeft   int
	selected     bool
	spiMode      bool
	idle         bool
	appCmd       bool
	unresponsive bool
	rejectWrites bool
	withholdData bool

	mu sync.Mutex
}

type config struct {
	opCondPolls      int
	responseDelay    int
	accessDelay      int
	busyBytes        int
	minPowerUpClocks int
	standardCapacity bool
	version1         bool
}

// Option configures an emulated card
type Option func(*config)

// WithOpCondPolls sets how many ACMD41 commands report idle before the card
// becomes ready
func WithOpCondPolls(n int) Option {
	return func(c *config) { c.opCondPolls = n }
}

// WithResponseDelay sets the 0xFF bytes sent before each R1 (NCR)
func WithResponseDelay(n int) Option {
	return func(c *config) { c.responseDelay = n }
}

// WithAccessDelay sets the 0xFF bytes sent before a data token
func WithAccessDelay(n int) Option {
	return func(c *config) { c.accessDelay = n }
}

// WithBusyBytes sets how long the card holds MISO low after a write
func WithBusyBytes(n int) Option {
	return func(c *config) { c.busyBytes = n }
}

// WithMinPowerUpClocks sets the clocks required with CS high before the card
// answers its first command
func WithMinPowerUpClocks(n int) Option {
	return func(c *config) { c.minPowerUpClocks = n }
}

// WithStandardCapacity emulates a byte-addressed SDSC card with a version
// 1.0 CSD
func WithStandardCapacity() Option {
	return func(c *config) { c.standardCapacity = true }
}

// WithVersion1 emulates a card that predates CMD8. Implies standard capacity.
func WithVersion1() Option {
	return func(c *config) {
		c.version1 = true
		c.standardCapacity = true
	}
}

// New creates a card over storage
func New(storage Storage, opts ...Option) *Card {
	cfg := config{
		opCondPolls:      3,
		responseDelay:    1,
		accessDelay:      2,
		busyBytes:        4,
		minPowerUpClocks: 74,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Card{
		storage: storage,
		config:  cfg,
	}
}

// SetUnresponsive makes the card leave MISO floating, as if removed
func (c *Card) SetUnresponsive(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unresponsive = v
}

// SetRejectWrites makes every data block answer with a write error token
func (c *Card) SetRejectWrites(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejectWrites = v
}

// SetWithholdData makes read commands acknowledge but never send a data
// token
func (c *Card) SetWithholdData(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.withholdData = v
}

// Commands returns the index of every command frame the card has parsed
func (c *Card) Commands() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.history...)
}

// ClockRate returns the last clock rate set on the bus
func (c *Card) ClockRate() physic.Frequency {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// Ready reports whether the card left idle state
func (c *Card) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spiMode && !c.idle
}

// Write implements the bus: each byte is shifted in while one is shifted out
// and discarded.
func (c *Card) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range p {
		c.shift(b)
	}
	return nil
}

// Read implements the bus, shifting in 0xFF
func (c *Card) Read(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range p {
		p[i] = c.shift(frame.DummyByte)
	}
	return nil
}

// SetClockRate implements the bus
func (c *Card) SetClockRate(f physic.Frequency) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = f
	glog.V(2).Infof("emulator: clock %v", f)
	return nil
}

// Out implements the chip-select line. Deselecting aborts any command or
// response in progress.
func (c *Card) Out(l gpio.Level) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = l == gpio.Low
	if !c.selected {
		c.out = c.out[:0]
		c.parser = parseIdle
		c.cmdLen = 0
		c.writeBuf = nil
	}
	return nil
}

// shift exchanges one byte
func (c *Card) shift(in byte) byte {
	if !c.selected {
		c.powerClocks += 8
		return frame.DummyByte
	}
	out := byte(frame.DummyByte)
	if len(c.out) > 0 {
		out = c.out[0]
		c.out = c.out[1:]
	}
	if !c.unresponsive {
		c.receive(in)
	}
	return out
}

func (c *Card) receive(in byte) {
	switch c.parser {
	case parseIdle:
		if in&0xC0 == frame.TransmissionBit {
			c.cmd[0] = in
			c.cmdLen = 1
			c.parser = parseCommand
		}
	case parseCommand:
		c.cmd[c.cmdLen] = in
		c.cmdLen++
		if c.cmdLen == frame.CommandLength {
			c.parser = parseIdle
			c.execute()
		}
	case parseWriteToken:
		if in == frame.TokenStartBlock {
			c.writeBuf = make([]byte, 0, frame.BlockSize+frame.DataCRCSize)
			c.parser = parseWriteData
		}
	case parseWriteData:
		c.writeBuf = append(c.writeBuf, in)
		if len(c.writeBuf) == frame.BlockSize+frame.DataCRCSize {
			c.parser = parseIdle
			c.commit()
		}
	}
}

func (c *Card) queue(p ...byte) {
	c.out = append(c.out, p...)
}

func (c *Card) delay(n int) {
	for range n {
		c.out = append(c.out, frame.DummyByte)
	}
}

func (c *Card) respond(r1 byte, extra ...byte) {
	c.delay(c.config.responseDelay)
	c.queue(r1)
	c.queue(extra...)
}

func (c *Card) idleBit() byte {
	if c.idle {
		return r1Idle
	}
	return 0
}

func (c *Card) execute() {
	index := c.cmd.Index()
	arg := c.cmd.Arg()
	c.history = append(c.history, index)

	app := c.appCmd
	c.appCmd = false

	glog.V(2).Infof("emulator: CMD%d arg=0x%08X app=%v", index, arg, app)

	if !c.spiMode {
		// a card in SD mode ignores everything but a valid CMD0
		if index != 0 || !c.cmd.CRCValid() || c.powerClocks < c.config.minPowerUpClocks {
			return
		}
	}

	switch index {
	case 0:
		if !c.cmd.CRCValid() {
			c.respond(c.idleBit() | r1CRCError)
			return
		}
		c.spiMode = true
		c.idle = true
		c.opCondLeft = c.config.opCondPolls
		c.respond(r1Idle)
	case 8:
		c.sendIfCond(arg)
	case 9:
		c.sendRegister(c.csd())
	case 10:
		c.sendRegister(c.cid())
	case 16:
		if !c.config.standardCapacity || arg == frame.BlockSize {
			c.respond(c.idleBit())
			return
		}
		c.respond(c.idleBit() | r1ParameterError)
	case 17:
		block, ok := c.address(arg)
		if !ok {
			return
		}
		c.respond(0x00)
		if c.withholdData {
			return
		}
		buf := make([]byte, frame.BlockSize)
		if _, err := c.storage.ReadAt(buf, int64(block)*frame.BlockSize); err != nil {
			glog.Warningf("emulator: read block %d: %v", block, err)
			c.delay(c.config.accessDelay)
			c.queue(dataErrorToken)
			return
		}
		c.sendPacket(buf)
	case 24:
		block, ok := c.address(arg)
		if !ok {
			return
		}
		c.target = block
		c.parser = parseWriteToken
		c.respond(0x00)
	case 41:
		if !app {
			c.respond(c.idleBit() | r1IllegalCommand)
			return
		}
		c.sendOpCond(arg)
	case 55:
		c.appCmd = true
		c.respond(c.idleBit())
	case 58:
		ocr := uint32(ocrVoltageRange)
		if !c.idle {
			ocr |= ocrPowerUp
			if !c.config.standardCapacity {
				ocr |= ocrCCS
			}
		}
		var raw [4]byte
		binary.BigEndian.PutUint32(raw[:], ocr)
		c.respond(c.idleBit(), raw[:]...)
	default:
		c.respond(c.idleBit() | r1IllegalCommand)
	}
}

func (c *Card) sendIfCond(arg uint32) {
	if c.config.version1 {
		c.respond(c.idleBit() | r1IllegalCommand)
		return
	}
	if !c.cmd.CRCValid() {
		c.respond(c.idleBit() | r1CRCError)
		return
	}
	c.respond(c.idleBit(), 0x00, 0x00, byte(arg>>8)&0x0F, byte(arg))
}

func (c *Card) sendOpCond(arg uint32) {
	// a high capacity card never leaves idle for a host without HCS
	if !c.config.standardCapacity && arg&argHCS == 0 {
		c.respond(r1Idle)
		return
	}
	if c.opCondLeft > 0 {
		c.opCondLeft--
	}
	if c.opCondLeft == 0 {
		c.idle = false
	}
	c.respond(c.idleBit())
}

// address validates a transfer argument and returns the block number
func (c *Card) address(arg uint32) (uint32, bool) {
	if c.idle {
		c.respond(r1Idle | r1IllegalCommand)
		return 0, false
	}
	block := arg
	if c.config.standardCapacity {
		if arg%frame.BlockSize != 0 {
			c.respond(r1AddressError)
			return 0, false
		}
		block = arg / frame.BlockSize
	}
	if block >= c.storage.Blocks() {
		c.respond(r1ParameterError)
		return 0, false
	}
	return block, true
}

func (c *Card) sendRegister(reg [frame.RegisterSize]byte) {
	if c.idle {
		c.respond(r1Idle | r1IllegalCommand)
		return
	}
	c.respond(0x00)
	if c.withholdData {
		return
	}
	c.sendPacket(reg[:])
}

func (c *Card) sendPacket(data []byte) {
	c.delay(c.config.accessDelay)
	c.queue(frame.TokenStartBlock)
	c.queue(data...)
	crc := frame.CRC16(data)
	c.queue(byte(crc>>8), byte(crc))
}

func (c *Card) commit() {
	data := c.writeBuf[:frame.BlockSize]
	c.writeBuf = nil
	if c.rejectWrites {
		c.queue(dataWriteError)
		return
	}
	if _, err := c.storage.WriteAt(data, int64(c.target)*frame.BlockSize); err != nil {
		glog.Warningf("emulator: write block %d: %v", c.target, err)
		c.queue(dataWriteError)
		return
	}
	c.queue(dataAccepted)
	for range c.config.busyBytes {
		c.queue(busyByte)
	}
}

// csd builds a version 2.0 register for high capacity cards and a version
// 1.0 register otherwise
func (c *Card) csd() [frame.RegisterSize]byte {
	var r [frame.RegisterSize]byte
	blocks := c.storage.Blocks()

	r[1] = 0x0E // TAAC
	r[3] = 0x32 // 25 MHz
	r[4] = 0x5B
	r[5] = 0x59 // READ_BL_LEN 512
	if c.config.standardCapacity {
		// C_SIZE_MULT 7 gives (C_SIZE+1)*512 blocks
		const mult = 7
		var size uint32
		if blocks >= 512 {
			size = blocks/512 - 1
		}
		size = min(size, 0xFFF)
		r[6] = byte(size>>10) & 0x03
		r[7] = byte(size >> 2)
		r[8] = byte(size&0x03) << 6
		r[9] = (mult >> 1) & 0x03
		r[10] = (mult & 0x01) << 7
	} else {
		var size uint32
		if blocks >= 1024 {
			size = blocks/1024 - 1
		}
		r[0] = 0x40
		r[7] = byte(size>>16) & 0x3F
		r[8] = byte(size >> 8)
		r[9] = byte(size)
		r[10] = 0x7F
		r[11] = 0x80
	}
	r[12] = 0x0A
	r[13] = 0x40
	r[15] = frame.CRC7(r[:15])<<1 | frame.EndBit
	return r
}

func (*Card) cid() [frame.RegisterSize]byte {
	var r [frame.RegisterSize]byte
	r[0] = 0x03
	copy(r[1:3], "SD")
	copy(r[3:8], "EMU01")
	r[8] = 0x10
	binary.BigEndian.PutUint32(r[9:13], 0x12345678)
	r[13] = 0x01 // 2025-06
	r[14] = 0x96
	r[15] = frame.CRC7(r[:15])<<1 | frame.EndBit
	return r
}
