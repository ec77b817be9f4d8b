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

// Package filesys wires internal/blockdev, internal/cache, internal/freemap
// and internal/inode into the open/create/read/write/close surface a
// directory layer and syscall dispatcher (both external collaborators,
// spec.md §1) drive this core through. It is new orchestration code, not a
// spec.md component in its own right.
package filesys

import (
	"fmt"

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/pintosfs/core/internal/cache"
	"github.com/pintosfs/core/internal/clock"
	"github.com/pintosfs/core/internal/freemap"
	"github.com/pintosfs/core/internal/inode"
	"github.com/pintosfs/core/internal/threadid"
)

// FreeMapSector and RootDirSector are the two fixed reservations every
// formatted device carries, grounded on original_source/filesys/filesys.h's
// FREE_MAP_SECTOR (0) and ROOT_DIR_SECTOR (1). Free-map persistence and
// directory-name parsing are both named "out of scope, external
// collaborator" by spec.md §1; reserving their two well-known sectors here
// is the minimum this core commits to so that an external directory layer
// has somewhere fixed to start walking from.
const (
	FreeMapSector blockdev.SectorNum = 0
	RootDirSector blockdev.SectorNum = 1
)

// FileSystem ties one block device to its buffer cache, free-sector map,
// and inode table — the collaborators every spec §4.1–§4.3 operation needs.
type FileSystem struct {
	dev     blockdev.Device
	Cache   *cache.Cache
	FreeMap *freemap.Bitmap
	Inodes  *inode.Table
}

// Open wires a FileSystem over an already-formatted dev. cacheSize is the
// buffer cache's capacity in sectors (spec §6 CACHE_SIZE default,
// cache.DefaultSize). dev must have at least two sectors for the two fixed
// reservations.
func Open(dev blockdev.Device, cacheSize int) (*FileSystem, error) {
	c := cache.New(dev, cacheSize)
	fm := freemap.New(dev.NumSectors())
	if err := fm.MarkUsed(FreeMapSector); err != nil {
		return nil, fmt.Errorf("filesys: open: %w", err)
	}
	if err := fm.MarkUsed(RootDirSector); err != nil {
		return nil, fmt.Errorf("filesys: open: %w", err)
	}
	return &FileSystem{
		dev:     dev,
		Cache:   c,
		FreeMap: fm,
		Inodes:  inode.NewTable(c, fm),
	}, nil
}

// Format zeroes every sector of dev, then lays down the free-map and root
// directory inodes at their reserved sectors, mirroring
// original_source/filesys.c's do_format (free_map_create, dir_create at
// ROOT_DIR_SECTOR). Returns the opened FileSystem ready for use.
func Format(dev blockdev.Device, cacheSize int) (*FileSystem, error) {
	var zero [blockdev.SectorSize]byte
	for sn := blockdev.SectorNum(0); sn < dev.NumSectors(); sn++ {
		if err := dev.Write(sn, zero[:]); err != nil {
			return nil, fmt.Errorf("filesys: format: zero sector %d: %w", sn, err)
		}
	}

	fs, err := Open(dev, cacheSize)
	if err != nil {
		return nil, fmt.Errorf("filesys: format: %w", err)
	}

	// The free-map inode is pre-sized to its final byte length up front, so
	// a later PersistFreeMap never needs to extend it — extending it would
	// itself allocate sectors through the very bitmap being snapshotted,
	// one step behind its own footprint.
	bitmapLen := freemap.ByteLen(dev.NumSectors())
	if err := fs.Inodes.Create(FreeMapSector, uint32(bitmapLen), inode.TypeFile, threadid.Nil); err != nil {
		return nil, fmt.Errorf("filesys: format: create free-map inode: %w", err)
	}
	if err := fs.Inodes.Create(RootDirSector, 0, inode.TypeDir, threadid.Nil); err != nil {
		return nil, fmt.Errorf("filesys: format: create root directory inode: %w", err)
	}
	return fs, nil
}

// Create reserves a fresh sector, lays down an inode of the given type and
// initial length, and opens it, returning the shared in-memory Inode. The
// caller names it within whatever directory structure the external
// directory layer maintains; this core only allocates and formats storage.
func (fs *FileSystem) Create(length int64, typ inode.Type, owner threadid.ID) (*inode.Inode, error) {
	sn, ok := fs.FreeMap.Allocate(1)
	if !ok {
		return nil, inode.ErrNoSpace
	}
	if err := fs.Inodes.Create(sn, uint32(length), typ, owner); err != nil {
		_ = fs.FreeMap.Release(sn, 1)
		return nil, fmt.Errorf("filesys: create: %w", err)
	}
	return fs.Inodes.Open(sn)
}

// Open returns the shared in-memory inode at sn, per inode.Table.Open.
func (fs *FileSystem) Open(sn blockdev.SectorNum) (*inode.Inode, error) {
	return fs.Inodes.Open(sn)
}

// RootDir opens the reserved root directory inode.
func (fs *FileSystem) RootDir() (*inode.Inode, error) {
	return fs.Inodes.Open(RootDirSector)
}

// PersistFreeMap serializes the free-sector bitmap, writes it into the
// reserved free-map inode and flushes the buffer cache to the device, so
// the next Open call's in-memory bitmap can be
// rebuilt from disk instead of assuming every non-reserved sector is free.
// Spec.md §1 calls free-map persistence an external collaborator's concern
// for the original teaching OS; this core carries a minimal version of it
// anyway so FileSystem is actually usable across a process restart rather
// than only within a single run.
func (fs *FileSystem) PersistFreeMap(owner threadid.ID) error {
	ino, err := fs.Inodes.Open(FreeMapSector)
	if err != nil {
		return fmt.Errorf("filesys: persist free map: open: %w", err)
	}
	defer ino.Close()

	buf := fs.FreeMap.Bytes()
	if _, err := ino.WriteAt(buf, 0, owner); err != nil {
		return fmt.Errorf("filesys: persist free map: write: %w", err)
	}
	if err := fs.Cache.Flush(); err != nil {
		return fmt.Errorf("filesys: persist free map: flush: %w", err)
	}
	return nil
}

// LoadFreeMap rebuilds the in-memory bitmap from the reserved free-map
// inode's contents, the counterpart to PersistFreeMap for remounting an
// already-formatted device.
func (fs *FileSystem) LoadFreeMap() error {
	ino, err := fs.Inodes.Open(FreeMapSector)
	if err != nil {
		return fmt.Errorf("filesys: load free map: open: %w", err)
	}
	defer ino.Close()

	length, err := ino.Length()
	if err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	buf := make([]byte, length)
	if _, err := ino.ReadAt(buf, 0, nil); err != nil {
		return fmt.Errorf("filesys: load free map: read: %w", err)
	}
	if err := fs.FreeMap.LoadBytes(buf); err != nil {
		return fmt.Errorf("filesys: load free map: %w", err)
	}
	if err := fs.FreeMap.MarkUsed(FreeMapSector); err != nil {
		return fmt.Errorf("filesys: load free map: %w", err)
	}
	if err := fs.FreeMap.MarkUsed(RootDirSector); err != nil {
		return fmt.Errorf("filesys: load free map: %w", err)
	}
	return nil
}

// Sync flushes every dirty cache entry to dev, for a clean unmount.
func (fs *FileSystem) Sync() error {
	return fs.Cache.Flush()
}

// Close flushes outstanding writes and releases the underlying device.
func (fs *FileSystem) Close() error {
	if err := fs.Sync(); err != nil {
		return err
	}
	return fs.dev.Close()
}

// NewWriteBehind wires the periodic flush daemon (spec §5) over this
// file system's cache, ready to be run via an errgroup by the caller.
func (fs *FileSystem) NewWriteBehind(clk clock.Clock, periodTicks int) *cache.WriteBehind {
	return cache.NewWriteBehind(fs.Cache, clk, periodTicks)
}
