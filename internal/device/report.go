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

package device

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	microsd "github.com/ZaparooProject/go-microsd"
)

// ParseBlock parses a block address in decimal or 0x hex
func ParseBlock(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid block address %q: %w", s, err)
	}
	return uint32(v), nil
}

// ParseData builds a block from "hex:<digits>" or plain text, zero padded
func ParseData(s string) (microsd.Block, error) {
	var block microsd.Block
	data := []byte(s)
	if rest, ok := strings.CutPrefix(s, "hex:"); ok {
		decoded, err := hex.DecodeString(strings.ReplaceAll(rest, " ", ""))
		if err != nil {
			return block, fmt.Errorf("invalid hex data: %w", err)
		}
		data = decoded
	}
	if len(data) > len(block) {
		return block, fmt.Errorf("data is %d bytes, a block holds %d", len(data), len(block))
	}
	copy(block[:], data)
	return block, nil
}

// WriteInfo prints the card type, OCR, identification and capacity
func WriteInfo(ctx context.Context, w io.Writer, card *microsd.Card) error {
	kind := "SDSC"
	if card.HighCapacity() {
		kind = "SDHC/SDXC"
	}
	ocr := card.OCR()
	_, _ = fmt.Fprintf(w, "Card:      %s (physical layer v%d)\n", kind, card.Version())
	_, _ = fmt.Fprintf(w, "OCR:       %#08x (voltage window %#06x)\n", uint32(ocr), ocr.VoltageWindow()>>15)

	cid, err := card.ReadCIDContext(ctx)
	if err != nil {
		return fmt.Errorf("read CID: %w", err)
	}
	WriteCID(w, cid)

	csd, err := card.ReadCSDContext(ctx)
	if err != nil {
		return fmt.Errorf("read CSD: %w", err)
	}
	if csd.Structure() != 1 {
		_, _ = fmt.Fprintf(w, "Capacity:  unknown (CSD structure %d)\n", csd.Structure())
		return nil
	}
	sectors, err := card.SectorCount(ctx)
	if err != nil {
		return fmt.Errorf("read capacity: %w", err)
	}
	_, _ = fmt.Fprintf(w, "Capacity:  %.2f GB (%d sectors)\n", microsd.CapacityGB(csd.CSize()), sectors)
	return nil
}

// WriteCID prints the decoded card identification register
func WriteCID(w io.Writer, cid microsd.CID) {
	major, minor := cid.Revision()
	_, _ = fmt.Fprintf(w, "Maker:     %#02x OEM %q\n", cid.ManufacturerID(), cid.OEMID())
	_, _ = fmt.Fprintf(w, "Product:   %s rev %d.%d\n", cid.ProductName(), major, minor)
	_, _ = fmt.Fprintf(w, "Serial:    %08x\n", cid.SerialNumber())
}

// WriteCSD prints the raw CSD and its decoded size fields
func WriteCSD(w io.Writer, csd microsd.CSD) {
	_, _ = fmt.Fprintf(w, "CSD:       %s\n", hex.EncodeToString(csd[:]))
	_, _ = fmt.Fprintf(w, "Structure: %d\n", csd.Structure())
	if csd.Structure() == 1 {
		_, _ = fmt.Fprintf(w, "C_SIZE:    %d\n", csd.CSize())
	}
}

// WriteBlock prints a hex dump of block addr
func WriteBlock(w io.Writer, addr uint32, block *microsd.Block) {
	_, _ = fmt.Fprintf(w, "Block %d:\n%s", addr, hex.Dump(block[:]))
}
