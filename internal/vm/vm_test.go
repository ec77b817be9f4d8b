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

package vm_test

import (
	"testing"

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/pintosfs/core/internal/frame"
	"github.com/pintosfs/core/internal/inode"
	"github.com/pintosfs/core/internal/page"
	"github.com/pintosfs/core/internal/swap"
	"github.com/pintosfs/core/internal/threadid"
	"github.com/pintosfs/core/internal/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFile is a minimal vm.MappedFile: an in-memory byte slice with write
// tracking, standing in for a real *internal/inode.Inode without needing a
// whole block device and cache wired up.
type fakeFile struct {
	data   []byte
	writes int
	closed bool
}

func (f *fakeFile) ReadAt(buf []byte, offset int64, ra inode.ReadAheadObserver) (int, error) {
	if offset >= int64(len(f.data)) {
		return 0, nil
	}
	n := copy(buf, f.data[offset:])
	return n, nil
}

func (f *fakeFile) WriteAt(buf []byte, offset int64, owner threadid.ID) (int, error) {
	f.writes++
	end := offset + int64(len(buf))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[offset:], buf)
	return len(buf), nil
}

func (f *fakeFile) Close() error {
	f.closed = true
	return nil
}

func newSwapArea(t *testing.T, slots int) *swap.Area {
	t.Helper()
	dev := blockdev.NewMemoryDevice(blockdev.SectorNum(swap.SlotSectors * slots))
	return swap.New(dev)
}

func TestLoadPageReadsFileAndZeroFillsTail(t *testing.T) {
	area := newSwapArea(t, 2)
	ft := frame.NewTable(4, 10, area)
	pt := page.NewTable()
	owner := threadid.New()
	mgr := vm.NewManager(ft, area)

	file := &fakeFile{data: []byte("hello")}
	require.NoError(t, pt.AddFile(0x1000, page.FileSource{Handle: file, Offset: 0, ReadBytes: 5, Writable: false}))

	require.NoError(t, mgr.LoadPage(pt, owner, 0x1000))

	entry, ok := pt.Find(0x1000)
	require.True(t, ok)
	assert.True(t, entry.Loaded)

	fr, found := ft.FindByUpage(pt, 0x1000)
	require.True(t, found)
	assert.Equal(t, "hello", string(fr.Bytes()[:5]))
	for _, b := range fr.Bytes()[5:] {
		assert.Zero(t, b)
	}
}

func TestLoadPageIsNoOpWhenAlreadyLoaded(t *testing.T) {
	area := newSwapArea(t, 2)
	ft := frame.NewTable(4, 10, area)
	pt := page.NewTable()
	owner := threadid.New()
	mgr := vm.NewManager(ft, area)

	require.NoError(t, pt.AddStack(0x2000))
	require.NoError(t, mgr.LoadPage(pt, owner, 0x2000))

	_, found := ft.FindByUpage(pt, 0x2000)
	assert.False(t, found, "stack entry was already Loaded; LoadPage must not allocate a frame for it")
}

func TestLoadPageRestoresFromSwapAndClearsSwapBit(t *testing.T) {
	area := newSwapArea(t, 2)
	ft := frame.NewTable(1, 10, area)
	pt := page.NewTable()
	owner := threadid.New()
	mgr := vm.NewManager(ft, area)

	page1 := make([]byte, swap.PGSIZE)
	for i := range page1 {
		page1[i] = byte(i)
	}
	slot, err := area.Store(page1)
	require.NoError(t, err)

	require.NoError(t, pt.AddFile(0x3000, page.FileSource{Handle: &fakeFile{}, Offset: 0, ReadBytes: 0, Writable: true}))
	require.NoError(t, pt.MarkSwapped(0x3000, slot))

	require.NoError(t, mgr.LoadPage(pt, owner, 0x3000))

	entry, ok := pt.Find(0x3000)
	require.True(t, ok)
	assert.True(t, entry.Loaded)
	assert.Zero(t, entry.Position&page.Swap)

	fr, found := ft.FindByUpage(pt, 0x3000)
	require.True(t, found)
	assert.Equal(t, page1, fr.Bytes())
}

func TestMmapWritesBackDirtyPagesAndClosesFileOnce(t *testing.T) {
	area := newSwapArea(t, 2)
	ft := frame.NewTable(4, 10, area)
	pt := page.NewTable()
	owner := threadid.New()
	mgr := vm.NewManager(ft, area)

	file := &fakeFile{data: make([]byte, swap.PGSIZE*2)}
	require.NoError(t, mgr.Mmap(pt, owner, file, 0x4000, 0, int64(swap.PGSIZE)*2))

	require.NoError(t, mgr.LoadPage(pt, owner, 0x4000))
	require.NoError(t, mgr.LoadPage(pt, owner, 0x4000+swap.PGSIZE))

	fr, found := ft.FindByUpage(pt, 0x4000)
	require.True(t, found)
	fr.Bytes()[0] = 0xAB
	fr.MarkDirty()

	require.NoError(t, mgr.UnmapAll(owner))

	assert.Equal(t, byte(0xAB), file.data[0])
	assert.Equal(t, 1, file.writes, "only the dirty page should be written back")
	assert.True(t, file.closed)

	_, ok := pt.Find(0x4000)
	assert.False(t, ok)
	_, ok = pt.Find(0x4000 + swap.PGSIZE)
	assert.False(t, ok)
}

func TestTeardownProcessReleasesSwapSlotsAfterUnmap(t *testing.T) {
	area := newSwapArea(t, 4)
	ft := frame.NewTable(4, 10, area)
	pt := page.NewTable()
	owner := threadid.New()
	mgr := vm.NewManager(ft, area)

	stackPage := make([]byte, swap.PGSIZE)
	slot, err := area.Store(stackPage)
	require.NoError(t, err)
	require.NoError(t, pt.AddStack(0x5000))
	require.NoError(t, pt.MarkSwapped(0x5000, slot))

	file := &fakeFile{data: make([]byte, swap.PGSIZE)}
	require.NoError(t, mgr.Mmap(pt, owner, file, 0x6000, 0, int64(swap.PGSIZE)))

	require.NoError(t, mgr.TeardownProcess(pt, owner))

	assert.True(t, file.closed)
	_, ok := pt.Find(0x5000)
	assert.False(t, ok)
	_, ok = pt.Find(0x6000)
	assert.False(t, ok)
}
