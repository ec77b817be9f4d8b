// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package swap is the page-granularity slot allocator over a dedicated
// block device (spec §4.5). Slot allocation/release is serialised by one
// lock; the page-sized reads and writes themselves run with no lock held
// once a slot is owned by the caller, since internal/freemap.Bitmap (which
// backs slot bookkeeping here, the same as sector bookkeeping in
// internal/filesys) only ever holds its lock for the bitmap mutation
// itself.
package swap

import (
	"errors"
	"fmt"

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/pintosfs/core/internal/freemap"
	"github.com/pintosfs/core/internal/metrics"
)

// PGSIZE is the virtual-memory page size this core pages in units of.
const PGSIZE = 4096

// SlotSectors is SWAP_SLOT_SIZE from spec §4.5: sectors per swap slot.
const SlotSectors = PGSIZE / blockdev.SectorSize

// ErrSwapFull is returned by Store when every slot is occupied. Callers
// such as internal/frame's evictor use it (rather than a bare bool) to
// distinguish "nothing needed swapping" from "swap is exhausted, try a
// different victim" (SPEC_FULL.md SUPPLEMENTED FEATURES item 6).
var ErrSwapFull = errors.New("swap: area is full")

// Area is a page-granularity swap slot allocator over a dedicated device.
type Area struct {
	dev      blockdev.Device
	slots    *freemap.Bitmap
	numSlots blockdev.SectorNum
}

// New wires a swap area over dev, sizing the slot bitmap from the device's
// sector capacity.
func New(dev blockdev.Device) *Area {
	numSlots := dev.NumSectors() / SlotSectors
	return &Area{
		dev:      dev,
		slots:    freemap.New(numSlots),
		numSlots: numSlots,
	}
}

func (a *Area) reportOccupancy() {
	metrics.SwapSlotsUsed.Set(float64(int(a.numSlots) - a.slots.CountFree()))
}

// Store reserves a free slot and writes page (which must be exactly PGSIZE
// bytes) to it sector-by-sector, returning the slot index. Returns
// ErrSwapFull if no slot is free.
func (a *Area) Store(page []byte) (int, error) {
	if len(page) != PGSIZE {
		return 0, fmt.Errorf("swap: page is %d bytes, want %d", len(page), PGSIZE)
	}

	slot, ok := a.slots.Allocate(1)
	if !ok {
		return 0, ErrSwapFull
	}

	for i := 0; i < SlotSectors; i++ {
		sec := a.sector(slot, i)
		if err := a.dev.Write(sec, page[i*blockdev.SectorSize:(i+1)*blockdev.SectorSize]); err != nil {
			_ = a.slots.Release(slot, 1)
			return 0, fmt.Errorf("swap: write slot %d sector %d: %w", slot, i, err)
		}
	}
	a.reportOccupancy()
	return int(slot), nil
}

// Load reads the PGSIZE bytes stored at slot into page, then frees the slot
// (spec §4.5: "read PGSIZE bytes into page, then free the slot"). If a
// sector read fails, Load returns the error and the slot stays allocated.
func (a *Area) Load(page []byte, slot int) error {
	if len(page) != PGSIZE {
		return fmt.Errorf("swap: page is %d bytes, want %d", len(page), PGSIZE)
	}

	sn := blockdev.SectorNum(slot)
	for i := 0; i < SlotSectors; i++ {
		sec := a.sector(sn, i)
		if err := a.dev.Read(sec, page[i*blockdev.SectorSize:(i+1)*blockdev.SectorSize]); err != nil {
			return fmt.Errorf("swap: read slot %d sector %d: %w", slot, i, err)
		}
	}
	return a.Free(slot)
}

// Free releases slot unconditionally, without reading it.
func (a *Area) Free(slot int) error {
	if err := a.slots.Release(blockdev.SectorNum(slot), 1); err != nil {
		return err
	}
	a.reportOccupancy()
	return nil
}

func (a *Area) sector(slot blockdev.SectorNum, i int) blockdev.SectorNum {
	return slot*SlotSectors + blockdev.SectorNum(i)
}
