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

// Package readahead is the per-open-handle adaptive read-ahead state
// machine (spec §4.4): it recognises sequential, strided, and
// marker-driven access patterns and advances a window of sectors pulled
// into internal/cache ahead of the caller.
package readahead

import (
	"sync"

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/pintosfs/core/internal/cache"
	"github.com/pintosfs/core/internal/inode"
	"github.com/pintosfs/core/internal/metrics"
)

// DefaultWindow is ra_pages from spec §6: the maximum window size, measured
// in sectors. A State built by NewState with raPages == 0 has read-ahead
// disabled.
const DefaultWindow = 32

// prevPosNone is a far-away sentinel so the "same or next sector" check
// (case 5) never spuriously matches before the handle's first real read.
const prevPosNone = int64(-1) << 40

// State is the read-ahead window for a single open file handle, implementing
// inode.ReadAheadObserver. It is not safe for concurrent use from more than
// one goroutine without external synchronisation beyond its own mutex badly
// serialising logically-ordered reads — the same expectation the inode
// engine places on a single handle's offset.
type State struct {
	ino   *inode.Inode
	cache *cache.Cache

	mu        sync.Mutex
	raPages   int64
	start     int64
	size      int64
	asyncSize int64
	prevPos   int64
}

var _ inode.ReadAheadObserver = (*State)(nil)

// NewState returns a read-ahead state machine over ino, pulling sectors
// into c. raPages of 0 disables read-ahead entirely.
func NewState(ino *inode.Inode, c *cache.Cache, raPages int) *State {
	return &State{
		ino:     ino,
		cache:   c,
		raPages: int64(raPages),
		prevPos: prevPosNone,
	}
}

// Observe drives the decision tree once per sector that inode.ReadAt's copy
// loop touches, per spec
// §4.4 "invoked synchronously per read loop with (offset_sector, req_size)".
func (s *State) Observe(offset int64, reqSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.raPages == 0 {
		return
	}

	offsetSector := offset / blockdev.SectorSize
	reqSectors := ceilDiv(int64(reqSize), blockdev.SectorSize)

	// The marker bit lives on the cache entry for the physical sector, so
	// it has to be checked through the logical-to-physical resolution, not
	// against offsetSector directly.
	physSn, hole, err := s.ino.ResolveSector(offsetSector)
	markerHit := err == nil && !hole && s.cache.IsMarker(physSn)

	switch {
	case offsetSector == 0:
		s.initialWindow(offsetSector, reqSectors)
		s.selfMerge(offsetSector)
		s.issue(s.start, s.size, s.asyncSize)

	case offsetSector == s.start+s.size-s.asyncSize || offsetSector == s.start+s.size:
		s.start += s.size
		s.size = ramp(s.size, s.raPages)
		s.asyncSize = s.size
		s.selfMerge(offsetSector)
		s.issue(s.start, s.size, s.asyncSize)

	case markerHit:
		if gap, ok := s.nextMiss(offsetSector+1, s.raPages); ok && gap-offsetSector <= s.raPages {
			s.start = gap
			s.size = ramp(gap-offsetSector+reqSectors, s.raPages)
			s.asyncSize = s.size
			s.issue(s.start, s.size, s.asyncSize)
		}

	case reqSectors > s.raPages:
		s.initialWindow(offsetSector, reqSectors)
		s.selfMerge(offsetSector)
		s.issue(s.start, s.size, s.asyncSize)

	case offsetSector-(s.prevPos/blockdev.SectorSize) <= 1 && offsetSector >= s.prevPos/blockdev.SectorSize:
		s.initialWindow(offsetSector, reqSectors)
		s.selfMerge(offsetSector)
		s.issue(s.start, s.size, s.asyncSize)

	default:
		// Random access: issue a one-shot pull, never touching the window.
		s.issue(offsetSector, reqSectors, 0)
	}

	if markerHit {
		s.cache.ClearMarker(physSn)
	}
	s.prevPos = offset
}

// initialWindow sizes a fresh window starting at offset, spec §4.4
// "Initial window sizing".
func (s *State) initialWindow(offset, reqSize int64) {
	newsize := nextPow2(reqSize)
	switch {
	case newsize <= s.raPages/32:
		newsize *= 4
	case newsize <= s.raPages/4:
		newsize *= 2
	default:
		newsize = s.raPages
	}

	s.start = offset
	s.size = newsize
	if newsize > reqSize {
		s.asyncSize = newsize - reqSize
	} else {
		s.asyncSize = newsize
	}
}

// selfMerge applies spec §4.4 "Self-merge": once an initial or advance
// decision has picked a window, widen it once more if offset lands exactly
// where the window's async trigger would have fired anyway.
func (s *State) selfMerge(offset int64) {
	if offset != s.start || s.size != s.asyncSize {
		return
	}
	next := ramp(s.size, s.raPages)
	if next < s.raPages {
		s.size = next
		s.asyncSize = next
	} else {
		s.size = s.raPages
		s.asyncSize = s.raPages / 2
	}
}

// ramp implements spec §4.4 "Ramp-up".
func ramp(cur, raPages int64) int64 {
	switch {
	case cur < raPages/16:
		return cur * 4
	case cur <= raPages/2:
		return cur * 2
	default:
		return raPages
	}
}

// nextMiss scans forward from start for up to limit logical sectors,
// returning the first one that is either a hole or not currently cached
// (spec §4.4 "locate next absent sector via a bounded linear scan").
func (s *State) nextMiss(start, limit int64) (int64, bool) {
	for k := int64(0); k < limit; k++ {
		idx := start + k
		sn, hole, err := s.ino.ResolveSector(idx)
		if err != nil {
			return 0, false
		}
		if hole || !s.cache.Contains(sn) {
			return idx, true
		}
	}
	return 0, false
}

// issue is do_readahead: pull up to n logical sectors starting at start
// into the cache, stopping at EOF. If a sector is already cached, the
// "new sectors issued" counter resets (spec: "to avoid marking inside a hot
// range"); otherwise it's pulled in and counted as fresh. The marker bit is
// set on the (n-lookahead)-th fresh sector, or on the first fresh sector
// when n-lookahead <= 0 (the continuation window's head, per lookahead ==
// size). Returns the count of newly admitted sectors.
func (s *State) issue(start, n, lookahead int64) int {
	metrics.ReadAheadIssued.Inc()

	length, err := s.ino.Length()
	if err != nil {
		return 0
	}
	totalSectors := ceilDiv(length, blockdev.SectorSize)
	markerTarget := n - lookahead
	if markerTarget <= 0 {
		markerTarget = 1
	}

	fresh := int64(0)
	for k := int64(0); k < n; k++ {
		idx := start + k
		if idx >= totalSectors {
			break
		}
		sn, hole, err := s.ino.ResolveSector(idx)
		if err != nil {
			break
		}
		if hole {
			continue
		}
		if s.cache.Contains(sn) {
			fresh = 0
			continue
		}
		h, err := s.cache.Get(sn)
		if err != nil {
			break
		}
		h.Unpin()
		fresh++
		if fresh == markerTarget {
			s.cache.SetMarker(sn)
		}
	}
	metrics.ReadAheadSectorsPulled.Add(float64(fresh))
	return int(fresh)
}

func nextPow2(n int64) int64 {
	if n <= 1 {
		return 1
	}
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}

func ceilDiv(n, d int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
