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

package blockdev

import "sync"

// MemoryDevice is an in-memory Device used by tests that need a "raw disk"
// to read back from underneath the buffer cache (e.g. to verify writeback
// without going through the cache again).
type MemoryDevice struct {
	mu      sync.Mutex
	sectors [][SectorSize]byte
}

// NewMemoryDevice returns a zero-filled device of numSectors sectors.
func NewMemoryDevice(numSectors SectorNum) *MemoryDevice {
	return &MemoryDevice{sectors: make([][SectorSize]byte, numSectors)}
}

func (d *MemoryDevice) NumSectors() SectorNum { return SectorNum(len(d.sectors)) }

func (d *MemoryDevice) Read(sn SectorNum, buf []byte) error {
	if err := checkBufLen(buf); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkBounds(sn, SectorNum(len(d.sectors))); err != nil {
		return err
	}
	copy(buf, d.sectors[sn][:])
	return nil
}

func (d *MemoryDevice) Write(sn SectorNum, buf []byte) error {
	if err := checkBufLen(buf); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkBounds(sn, SectorNum(len(d.sectors))); err != nil {
		return err
	}
	copy(d.sectors[sn][:], buf)
	return nil
}

func (d *MemoryDevice) Close() error { return nil }
