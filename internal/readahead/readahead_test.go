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

package readahead_test

import (
	"testing"

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/pintosfs/core/internal/cache"
	"github.com/pintosfs/core/internal/freemap"
	"github.com/pintosfs/core/internal/inode"
	"github.com/pintosfs/core/internal/readahead"
	"github.com/pintosfs/core/internal/threadid"
	"github.com/stretchr/testify/suite"
)

type ReadAheadSuite struct {
	suite.Suite
	owner threadid.ID
	table *inode.Table
	cache *cache.Cache
	ino   *inode.Inode
}

func TestReadAheadSuite(t *testing.T) {
	suite.Run(t, new(ReadAheadSuite))
}

// fileSectors is large enough to exercise the single-indirect level.
const fileSectors = 200

func (s *ReadAheadSuite) SetupTest() {
	s.owner = threadid.New()
	dev := blockdev.NewMemoryDevice(fileSectors + 16)
	s.cache = cache.New(dev, fileSectors+16)
	fm := freemap.New(fileSectors + 16)
	s.Require().NoError(fm.MarkUsed(0))
	s.table = inode.NewTable(s.cache, fm)

	sn, ok := fm.Allocate(1)
	s.Require().True(ok)

	length := uint32(fileSectors * blockdev.SectorSize)
	s.Require().NoError(s.table.Create(sn, length, inode.TypeFile, s.owner))
	// Create zero-fills every sector through the cache; write them back and
	// drop them so each test starts from a cold cache.
	s.Require().NoError(s.cache.EvictOwner(s.owner))

	var err error
	s.ino, err = s.table.Open(sn)
	s.Require().NoError(err)
}

func (s *ReadAheadSuite) TearDownTest() {
	s.Require().NoError(s.ino.Close())
}

func (s *ReadAheadSuite) sector(i blockdev.SectorNum) blockdev.SectorNum {
	sn, hole, err := s.ino.ResolveSector(int64(i))
	s.Require().NoError(err)
	s.Require().False(hole)
	return sn
}

func (s *ReadAheadSuite) TestInitialReadPullsAWindow() {
	ra := readahead.NewState(s.ino, s.cache, readahead.DefaultWindow)

	ra.Observe(0, blockdev.SectorSize)

	// The window must have pulled at least the requested sector and some
	// sectors ahead of it into the cache.
	s.True(s.cache.Contains(s.sector(0)))
	s.True(s.cache.Contains(s.sector(1)))
}

func (s *ReadAheadSuite) TestSequentialAdvanceGrowsTheWindow() {
	ra := readahead.NewState(s.ino, s.cache, readahead.DefaultWindow)

	ra.Observe(0, blockdev.SectorSize)
	// Continue reading right where the initial window's trailing edge is.
	ra.Observe(int64(4)*blockdev.SectorSize, blockdev.SectorSize)

	// The window should have advanced well past the first four sectors.
	s.True(s.cache.Contains(s.sector(8)))
}

func (s *ReadAheadSuite) TestRandomAccessDoesNotMutateWindow() {
	ra := readahead.NewState(s.ino, s.cache, readahead.DefaultWindow)

	ra.Observe(0, blockdev.SectorSize)
	// A far jump with no relation to the current window: only the touched
	// sector should be pulled, not a whole new window.
	farSector := blockdev.SectorNum(150)
	ra.Observe(int64(farSector)*blockdev.SectorSize, blockdev.SectorSize)

	s.True(s.cache.Contains(s.sector(farSector)))
	s.False(s.cache.Contains(s.sector(farSector+10)))
}

func (s *ReadAheadSuite) TestDisabledWhenWindowIsZero() {
	ra := readahead.NewState(s.ino, s.cache, 0)

	ra.Observe(0, blockdev.SectorSize)

	s.False(s.cache.Contains(s.sector(0)))
}

func (s *ReadAheadSuite) TestWindowNeverReadsPastEOF() {
	ra := readahead.NewState(s.ino, s.cache, readahead.DefaultWindow)

	// Reading the last sector of the file must not make the window walk
	// off the end of the pointer tree into unallocated territory.
	lastSector := int64(fileSectors - 1)
	s.NotPanics(func() {
		ra.Observe(lastSector*blockdev.SectorSize, blockdev.SectorSize)
	})
	s.True(s.cache.Contains(s.sector(blockdev.SectorNum(lastSector))))
}
