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

// Package inode is the on-disk inode engine: 512-byte inode images with a
// 12-direct/1-single-indirect/1-double-indirect sector pointer tree over
// internal/cache, growth on write, and release of the full pointer tree on
// final close of a removed inode (spec §4.3).
package inode

import (
	"github.com/pintosfs/core/internal/blockdev"
)

// Type distinguishes a file inode from a directory inode. Directory
// layout/parsing is an external collaborator (spec §1); this core only
// stores and returns the bit.
type Type uint32

const (
	TypeDir  Type = 0
	TypeFile Type = 1
)

// Magic identifies a valid inode image, written at creation and checked on
// every load. A mismatch is an invariant violation (corrupt disk image or a
// programming error resolving the wrong sector) and panics rather than
// returning an error, matching the teacher's CheckInvariants panic style.
const Magic uint32 = 0x494e4f44

const (
	numDirect  = 12
	numIndL1   = 1 // P[12]
	numIndL2   = 1 // P[13]
	numPointer = numDirect + numIndL1 + numIndL2

	indirectFanout = blockdev.SectorSize / 4 // 128 four-byte slots per block

	maxDirectIndex = numDirect                             // 12
	maxSingleIndex = maxDirectIndex + indirectFanout        // 140
	maxDoubleIndex = maxSingleIndex + indirectFanout*indirectFanout // 16524

	// On-disk field offsets, in bytes, within a 512-byte inode image.
	offPointers   = 0
	offLength     = offPointers + 4*numPointer // 56
	offReserved   = offLength + 4              // 60, advisory-lock placeholder on disk
	reservedBytes = 4
	offType       = offReserved + reservedBytes // 64
	offMagic      = offType + 4                 // 68
	headerSize    = offMagic + 4                // 72
)

// This array's length is negative (a compile error) the moment headerSize
// overflows a single sector, which is the static assertion spec §4.3
// requires for "the on-disk inode structure is exactly one sector".
var _ [blockdev.SectorSize - headerSize]byte

func directPointerOffset(i int) int { return offPointers + 4*i }
func singleIndirectPointerOffset() int { return offPointers + 4*numDirect }
func doubleIndirectPointerOffset() int { return offPointers + 4*(numDirect+1) }

func pointerSlotOffset(slot int) int { return 4 * slot }
