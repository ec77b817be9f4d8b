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

package page_test

import (
	"testing"

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/pintosfs/core/internal/page"
	"github.com/pintosfs/core/internal/swap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddFileThenFind(t *testing.T) {
	tbl := page.NewTable()
	require.NoError(t, tbl.AddFile(0x1000, page.FileSource{Offset: 0, ReadBytes: 4096}))

	e, ok := tbl.Find(0x1000)
	require.True(t, ok)
	assert.Equal(t, page.File, e.Position)
	assert.False(t, e.Loaded)
}

func TestDuplicateUpageRejected(t *testing.T) {
	tbl := page.NewTable()
	require.NoError(t, tbl.AddStack(0x2000))
	assert.ErrorIs(t, tbl.AddStack(0x2000), page.ErrAlreadyPresent)
}

func TestMarkSwappedThenResident(t *testing.T) {
	tbl := page.NewTable()
	require.NoError(t, tbl.AddFile(0x3000, page.FileSource{}))

	require.NoError(t, tbl.MarkSwapped(0x3000, 7))
	e, ok := tbl.Find(0x3000)
	require.True(t, ok)
	assert.Equal(t, page.File|page.Swap, e.Position)
	assert.Equal(t, 7, e.SwapSlot)
	assert.False(t, e.Loaded)

	require.NoError(t, tbl.MarkResident(0x3000))
	e, ok = tbl.Find(0x3000)
	require.True(t, ok)
	assert.Equal(t, page.File, e.Position)
	assert.True(t, e.Loaded)
}

func TestMmapEntryCannotBeSwapped(t *testing.T) {
	tbl := page.NewTable()
	require.NoError(t, tbl.AddMmap(0x4000, page.MmapSource{}))
	assert.Error(t, tbl.MarkSwapped(0x4000, 1))
}

func TestFreeAllReleasesSwapSlots(t *testing.T) {
	tbl := page.NewTable()
	require.NoError(t, tbl.AddFile(0x5000, page.FileSource{}))
	require.NoError(t, tbl.MarkSwapped(0x5000, 0))

	dev := blockdev.NewMemoryDevice(swap.SlotSectors * 2)
	area := swap.New(dev)
	// Reserve slot 0 up front so FreeAll's release has something to undo.
	_, err := area.Store(make([]byte, swap.PGSIZE))
	require.NoError(t, err)

	require.NoError(t, tbl.FreeAll(area))

	_, ok := tbl.Find(0x5000)
	assert.False(t, ok)

	// The slot must be free again.
	slot, err := area.Store(make([]byte, swap.PGSIZE))
	require.NoError(t, err)
	assert.Equal(t, 0, slot)
}

func TestDeleteRemovesEntry(t *testing.T) {
	tbl := page.NewTable()
	require.NoError(t, tbl.AddStack(0x6000))
	tbl.Delete(0x6000)
	_, ok := tbl.Find(0x6000)
	assert.False(t, ok)
}
