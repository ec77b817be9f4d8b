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

package inode

import (
	"sync"

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/pintosfs/core/internal/locker"
	"github.com/pintosfs/core/internal/threadid"
)

// Inode is the in-memory half of an open inode: identity, reference
// counting, the deny-write count, and an advisory lock serialising writers
// on extension (spec §3 "In-memory inode").
type Inode struct {
	sn    blockdev.SectorNum
	table *Table
	typ   Type // immutable after creation

	state     *locker.Locker // guards openCount, denyCount, removed
	openCount int
	denyCount int
	removed   bool

	writeLock sync.Mutex // advisory lock: held for the duration of write_at/extend
}

func newStateLocker(ino *Inode) *locker.Locker {
	return locker.New(func() {
		if ino.openCount < 0 || ino.denyCount < 0 || ino.denyCount > ino.openCount {
			panic("inode: open-count >= deny-write-count >= 0 violated")
		}
	})
}

// ID returns the inode's disk sector number.
func (ino *Inode) ID() blockdev.SectorNum { return ino.sn }

// IsDir reports whether this inode was created as a directory.
func (ino *Inode) IsDir() bool { return ino.typ == TypeDir }

// Length returns the inode's current length in bytes, read live since it
// changes across writes (unlike Type, which is fixed at creation).
func (ino *Inode) Length() (int64, error) {
	v, err := ino.table.cache.ReadU32At(ino.sn, offLength)
	return int64(v), err
}

// DenyWrite and AllowWrite implement the Unix "deny executable writes"
// protocol: every DenyWrite must be paired with exactly one AllowWrite by
// the same opener. The invariant (deny-count never exceeds open-count) is
// enforced by the state locker on Unlock.
func (ino *Inode) DenyWrite() {
	ino.state.Lock()
	ino.denyCount++
	ino.state.Unlock()
}

func (ino *Inode) AllowWrite() {
	ino.state.Lock()
	ino.denyCount--
	ino.state.Unlock()
}

// Remove marks the inode for deletion: its sectors are released once the
// last opener closes it (spec "Close / remove").
func (ino *Inode) Remove() {
	ino.state.Lock()
	ino.removed = true
	ino.state.Unlock()
}

// Close drops one open reference. Once the count reaches zero and the
// inode was removed, its entire pointer tree and its own sector are
// released.
func (ino *Inode) Close() error {
	ino.state.Lock()
	ino.openCount--
	n := ino.openCount
	ino.state.Unlock()

	if n > 0 {
		return nil
	}
	return ino.table.closeLocked(ino)
}

// ReadAt copies up to len(buf) bytes starting at offset into buf, bounded by
// the inode's current length. Holes read as zero. If ra is non-nil, it is
// driven once per sector touched by the copy loop — the read-ahead state
// machine's synchronous observation point (spec §4.4: "invoked synchronously
// per read loop with (offset_sector, req_size)") — so a marker hit partway
// through a multi-sector read can still fire its async window; reads at or
// beyond EOF never touch ra.
func (ino *Inode) ReadAt(buf []byte, offset int64, ra ReadAheadObserver) (int, error) {
	length, err := ino.Length()
	if err != nil {
		return 0, err
	}
	if offset >= length {
		return 0, nil
	}

	end := offset + int64(len(buf))
	if end > length {
		end = length
	}
	toRead := int(end - offset)
	if toRead <= 0 {
		return 0, nil
	}

	read := 0
	for read < toRead {
		sectorIdx := (offset + int64(read)) / blockdev.SectorSize
		sectorOfs := int((offset + int64(read)) % blockdev.SectorSize)
		chunk := blockdev.SectorSize - sectorOfs
		if remaining := toRead - read; chunk > remaining {
			chunk = remaining
		}

		if ra != nil {
			ra.Observe(offset+int64(read), len(buf))
		}

		sn, hole, err := ino.table.sectorForIndex(ino.sn, sectorIdx, false, threadid.Nil, nil)
		if err != nil {
			return read, err
		}
		if hole {
			clear(buf[read : read+chunk])
		} else if err := ino.table.cache.Read(sn, buf[read:read+chunk], sectorOfs, chunk); err != nil {
			return read, err
		}
		read += chunk
	}
	return read, nil
}

// WriteAt writes len(buf) bytes at offset, extending the inode first if the
// write runs past the current length. A deny-write inode silently writes
// nothing (spec §4.3 "write_at ... returns 0"). owner is recorded on every
// touched cache entry for EvictOwner bookkeeping.
func (ino *Inode) WriteAt(buf []byte, offset int64, owner threadid.ID) (int, error) {
	ino.state.Lock()
	denied := ino.denyCount > 0
	ino.state.Unlock()
	if denied {
		return 0, nil
	}

	ino.writeLock.Lock()
	defer ino.writeLock.Unlock()

	length, err := ino.Length()
	if err != nil {
		return 0, err
	}
	end := offset + int64(len(buf))
	if end > length {
		if err := ino.extendLocked(length, end, owner); err != nil {
			return 0, err
		}
	}

	written := 0
	for written < len(buf) {
		sectorIdx := (offset + int64(written)) / blockdev.SectorSize
		sectorOfs := int((offset + int64(written)) % blockdev.SectorSize)
		chunk := blockdev.SectorSize - sectorOfs
		if remaining := len(buf) - written; chunk > remaining {
			chunk = remaining
		}

		sn, _, err := ino.table.sectorForIndex(ino.sn, sectorIdx, true, owner, nil)
		if err != nil {
			return written, err
		}

		if sectorOfs == 0 && chunk == blockdev.SectorSize {
			err = ino.table.cache.Overwrite(sn, buf[written:written+chunk], owner)
		} else {
			err = ino.table.cache.Write(sn, buf[written:written+chunk], sectorOfs, chunk, owner)
		}
		if err != nil {
			return written, err
		}
		written += chunk
	}
	return written, nil
}

// extendLocked allocates every data sector (and any indirect/double-indirect
// blocks needed to address them) between the current and new length, then
// writes the new length last — spec §4.3 "the length update must happen
// last so that if we fail mid-extension, the on-disk length still reflects
// only fully-initialised sectors." Must be called with writeLock held.
func (ino *Inode) extendLocked(oldLength, newLength int64, owner threadid.ID) error {
	oldS := ceilDiv(oldLength, blockdev.SectorSize)
	newS := ceilDiv(newLength, blockdev.SectorSize)

	var allocated []blockdev.SectorNum
	for i := oldS; i < newS; i++ {
		if _, _, err := ino.table.sectorForIndex(ino.sn, i, true, owner, &allocated); err != nil {
			ino.table.releaseTracked(allocated)
			return err
		}
	}
	return ino.table.cache.WriteU32At(ino.sn, offLength, uint32(newLength), owner)
}

// ResolveSector exposes read-only logical-to-physical sector resolution
// (spec §4.3) to collaborators outside this package, such as
// internal/readahead's do_readahead scan, without granting them access to
// the allocating (write) path.
func (ino *Inode) ResolveSector(i int64) (blockdev.SectorNum, bool, error) {
	return ino.table.sectorForIndex(ino.sn, i, false, threadid.Nil, nil)
}

// ReadAheadObserver is the synchronous per-call hook into a per-handle
// read-ahead state machine (spec §4.4), implemented by *readahead.State.
// Defined here, not in internal/readahead, so the inode engine has no
// import-time dependency on the read-ahead package: any handle-level caller
// that doesn't want read-ahead can pass nil.
type ReadAheadObserver interface {
	Observe(offset int64, reqSize int)
}
