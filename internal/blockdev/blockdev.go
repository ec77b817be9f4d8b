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

// Package blockdev is the bottom of the stack: synchronous, fixed-size
// sector I/O against either a real file (the file-system device or the swap
// device) or an in-memory fake used by tests. Every other component in this
// core — buffer cache, inode engine, swap area — only ever talks to a
// Device, never to an *os.File directly.
package blockdev

import "fmt"

// SectorSize is the fixed size of one addressable unit on any Device.
const SectorSize = 512

// SectorNum is an opaque index into a Device. Sector 0 and 1 carry
// reserved meaning on the file-system device only (see internal/filesys).
type SectorNum uint32

// Device is a synchronous block device: fixed-size sectors, positioned
// reads and writes, no internal caching or reordering. The buffer cache is
// the only component permitted to batch or defer I/O against a Device.
type Device interface {
	// Read fills buf (which must be exactly SectorSize bytes) with the
	// contents of sector sn.
	Read(sn SectorNum, buf []byte) error

	// Write stores buf (which must be exactly SectorSize bytes) as the new
	// contents of sector sn.
	Write(sn SectorNum, buf []byte) error

	// NumSectors returns the device's fixed capacity.
	NumSectors() SectorNum

	// Close releases the underlying resource.
	Close() error
}

func checkBufLen(buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("blockdev: buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	return nil
}

func checkBounds(sn SectorNum, n SectorNum) error {
	if sn >= n {
		return fmt.Errorf("blockdev: sector %d out of range [0,%d)", sn, n)
	}
	return nil
}
