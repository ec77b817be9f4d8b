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

package cache_test

import (
	"testing"

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/pintosfs/core/internal/cache"
	"github.com/pintosfs/core/internal/threadid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWriteRoundTrip(t *testing.T) {
	dev := blockdev.NewMemoryDevice(4)
	c := cache.New(dev, 4)
	owner := threadid.New()

	require.NoError(t, c.Write(0, []byte("hello"), 10, 5, owner))

	got := make([]byte, 5)
	require.NoError(t, c.Read(0, got, 10, 5))
	assert.Equal(t, "hello", string(got))
}

func TestEvictionWritesBackDirtyEntry(t *testing.T) {
	dev := blockdev.NewMemoryDevice(65)
	c := cache.New(dev, 64)
	owner := threadid.New()

	for i := blockdev.SectorNum(0); i < 64; i++ {
		require.NoError(t, c.Write(i, []byte{byte(i)}, 0, 1, owner))
	}
	assert.Equal(t, 64, c.Len())

	// One more distinct sector forces an eviction.
	require.NoError(t, c.Write(64, []byte{99}, 0, 1, owner))
	assert.Equal(t, 64, c.Len())

	// Sector 0 (LRU) should have been written back to the raw device.
	raw := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.Read(0, raw))
	assert.Equal(t, byte(0), raw[0])
}

func TestGetFullWithAllPinned(t *testing.T) {
	dev := blockdev.NewMemoryDevice(3)
	c := cache.New(dev, 2)

	h0, err := c.Get(0)
	require.NoError(t, err)
	h1, err := c.Get(1)
	require.NoError(t, err)

	_, err = c.Get(2)
	assert.ErrorIs(t, err, cache.ErrFull)

	h0.Unpin()
	h1.Unpin()
}

func TestFlushClearsDirtyBit(t *testing.T) {
	dev := blockdev.NewMemoryDevice(2)
	c := cache.New(dev, 2)
	owner := threadid.New()

	require.NoError(t, c.Write(0, []byte{7}, 0, 1, owner))
	require.NoError(t, c.Flush())

	raw := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.Read(0, raw))
	assert.Equal(t, byte(7), raw[0])

	// A second flush with nothing newly dirtied writes nothing further but
	// must not error.
	require.NoError(t, c.Flush())
}

func TestMarkers(t *testing.T) {
	dev := blockdev.NewMemoryDevice(2)
	c := cache.New(dev, 2)

	assert.False(t, c.IsMarker(0))

	h, err := c.Get(0)
	require.NoError(t, err)
	h.Unpin()

	c.SetMarker(0)
	assert.True(t, c.IsMarker(0))
	c.ClearMarker(0)
	assert.False(t, c.IsMarker(0))

	// Advisory: no-op on an uncached sector.
	c.SetMarker(1)
	assert.False(t, c.IsMarker(1))
}

func TestEvictOwnerSweepsOnlyThatOwnersEntries(t *testing.T) {
	dev := blockdev.NewMemoryDevice(3)
	c := cache.New(dev, 3)
	a := threadid.New()
	b := threadid.New()

	require.NoError(t, c.Write(0, []byte{1}, 0, 1, a))
	require.NoError(t, c.Write(1, []byte{2}, 0, 1, b))

	require.NoError(t, c.EvictOwner(a))

	assert.Equal(t, 1, c.Len()) // sector 1 (owner b) remains; sector 0 gone
	assert.False(t, c.Contains(0))
	assert.True(t, c.Contains(1))
}

func TestEvictOwnerRejectsNilOwner(t *testing.T) {
	dev := blockdev.NewMemoryDevice(1)
	c := cache.New(dev, 1)
	assert.Error(t, c.EvictOwner(threadid.Nil))
}

func TestFreeRemovesEntry(t *testing.T) {
	dev := blockdev.NewMemoryDevice(1)
	c := cache.New(dev, 1)
	owner := threadid.New()

	require.NoError(t, c.Write(0, []byte{3}, 0, 1, owner))
	require.NoError(t, c.Free(0))
	assert.False(t, c.Contains(0))

	raw := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.Read(0, raw))
	assert.Equal(t, byte(3), raw[0])
}
