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

package inode_test

import (
	"testing"

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/pintosfs/core/internal/cache"
	"github.com/pintosfs/core/internal/freemap"
	"github.com/pintosfs/core/internal/inode"
	"github.com/pintosfs/core/internal/threadid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTable sets up a small device + cache + free map + inode table, with
// sector 0 reserved so tests allocate starting at sector 1.
func newTable(t *testing.T, numSectors blockdev.SectorNum, cacheSize int) (*inode.Table, *freemap.Bitmap) {
	t.Helper()
	dev := blockdev.NewMemoryDevice(numSectors)
	c := cache.New(dev, cacheSize)
	fm := freemap.New(numSectors)
	require.NoError(t, fm.MarkUsed(0))
	return inode.NewTable(c, fm), fm
}

func TestCreateOpenReadWriteRoundTrip(t *testing.T) {
	table, fm := newTable(t, 16, 16)
	owner := threadid.New()

	sn, ok := fm.Allocate(1)
	require.True(t, ok)
	require.NoError(t, table.Create(sn, 0, inode.TypeFile, owner))

	ino, err := table.Open(sn)
	require.NoError(t, err)
	assert.False(t, ino.IsDir())

	n, err := ino.WriteAt([]byte("hello, pintos"), 0, owner)
	require.NoError(t, err)
	assert.Equal(t, 13, n)

	length, err := ino.Length()
	require.NoError(t, err)
	assert.Equal(t, int64(13), length)

	buf := make([]byte, 13)
	n, err = ino.ReadAt(buf, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 13, n)
	assert.Equal(t, "hello, pintos", string(buf))

	require.NoError(t, ino.Close())
}

func TestReadOfHoleIsZero(t *testing.T) {
	table, fm := newTable(t, 16, 16)
	owner := threadid.New()

	sn, ok := fm.Allocate(1)
	require.True(t, ok)
	require.NoError(t, table.Create(sn, 1024, inode.TypeFile, owner))

	ino, err := table.Open(sn)
	require.NoError(t, err)

	buf := make([]byte, 512)
	n, err := ino.ReadAt(buf, 256, nil)
	require.NoError(t, err)
	assert.Equal(t, 512, n)
	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}

	require.NoError(t, ino.Close())
}

func TestReadBeyondEOFReturnsZero(t *testing.T) {
	table, fm := newTable(t, 16, 16)
	owner := threadid.New()

	sn, ok := fm.Allocate(1)
	require.True(t, ok)
	require.NoError(t, table.Create(sn, 10, inode.TypeFile, owner))
	ino, err := table.Open(sn)
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := ino.ReadAt(buf, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, ino.Close())
}

func TestExtensionCrossesIndirectBoundary(t *testing.T) {
	// 12 direct + a few single-indirect sectors: exercise the P[12] path.
	table, fm := newTable(t, 256, 256)
	owner := threadid.New()

	sn, ok := fm.Allocate(1)
	require.True(t, ok)
	require.NoError(t, table.Create(sn, 0, inode.TypeFile, owner))
	ino, err := table.Open(sn)
	require.NoError(t, err)

	// Sector index 20 is beyond the 12 direct slots, forcing the
	// single-indirect block to be allocated.
	offset := int64(20 * blockdev.SectorSize)
	payload := []byte("indirect block data")
	n, err := ino.WriteAt(payload, offset, owner)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	length, err := ino.Length()
	require.NoError(t, err)
	assert.Equal(t, offset+int64(len(payload)), length)

	got := make([]byte, len(payload))
	n, err = ino.ReadAt(got, offset, nil)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, got)

	require.NoError(t, ino.Close())
}

func TestDenyWriteBlocksWrites(t *testing.T) {
	table, fm := newTable(t, 16, 16)
	owner := threadid.New()

	sn, ok := fm.Allocate(1)
	require.True(t, ok)
	require.NoError(t, table.Create(sn, 0, inode.TypeFile, owner))
	ino, err := table.Open(sn)
	require.NoError(t, err)

	ino.DenyWrite()
	n, err := ino.WriteAt([]byte("nope"), 0, owner)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	ino.AllowWrite()

	n, err = ino.WriteAt([]byte("now ok"), 0, owner)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	require.NoError(t, ino.Close())
}

func TestCloseAfterRemoveReleasesSectors(t *testing.T) {
	table, fm := newTable(t, 32, 32)
	owner := threadid.New()
	freeBefore := fm.CountFree()

	sn, ok := fm.Allocate(1)
	require.True(t, ok)
	require.NoError(t, table.Create(sn, 0, inode.TypeFile, owner))
	ino, err := table.Open(sn)
	require.NoError(t, err)

	offset := int64(20 * blockdev.SectorSize) // forces an indirect block
	_, err = ino.WriteAt([]byte("data"), offset, owner)
	require.NoError(t, err)

	ino.Remove()
	require.NoError(t, ino.Close())

	assert.Equal(t, freeBefore, fm.CountFree())
}

func TestSecondOpenSharesOneInMemoryInode(t *testing.T) {
	table, fm := newTable(t, 16, 16)
	owner := threadid.New()

	sn, ok := fm.Allocate(1)
	require.True(t, ok)
	require.NoError(t, table.Create(sn, 0, inode.TypeFile, owner))

	a, err := table.Open(sn)
	require.NoError(t, err)
	b, err := table.Open(sn)
	require.NoError(t, err)
	assert.Same(t, a, b)

	require.NoError(t, a.Close())
	// b still holds an open reference: removal must not yet release sn.
	b.Remove()
	require.NoError(t, b.Close())
}
