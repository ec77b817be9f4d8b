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

package swap_test

import (
	"bytes"
	"testing"

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/pintosfs/core/internal/swap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func page(fill byte) []byte {
	p := make([]byte, swap.PGSIZE)
	for i := range p {
		p[i] = fill
	}
	return p
}

func TestStoreLoadRoundTrip(t *testing.T) {
	dev := blockdev.NewMemoryDevice(swap.SlotSectors * 4)
	area := swap.New(dev)

	in := page(0x42)
	slot, err := area.Store(in)
	require.NoError(t, err)

	out := make([]byte, swap.PGSIZE)
	require.NoError(t, area.Load(out, slot))
	assert.True(t, bytes.Equal(in, out))
}

func TestLoadFreesTheSlot(t *testing.T) {
	dev := blockdev.NewMemoryDevice(swap.SlotSectors * 1)
	area := swap.New(dev)

	slot, err := area.Store(page(1))
	require.NoError(t, err)

	out := make([]byte, swap.PGSIZE)
	require.NoError(t, area.Load(out, slot))

	// The single slot must be available again.
	slot2, err := area.Store(page(2))
	require.NoError(t, err)
	assert.Equal(t, slot, slot2)
}

func TestStoreFailsWhenFull(t *testing.T) {
	dev := blockdev.NewMemoryDevice(swap.SlotSectors * 1)
	area := swap.New(dev)

	_, err := area.Store(page(1))
	require.NoError(t, err)

	_, err = area.Store(page(2))
	assert.ErrorIs(t, err, swap.ErrSwapFull)
}

func TestFreeWithoutLoadReleasesSlot(t *testing.T) {
	dev := blockdev.NewMemoryDevice(swap.SlotSectors * 1)
	area := swap.New(dev)

	slot, err := area.Store(page(1))
	require.NoError(t, err)
	require.NoError(t, area.Free(slot))

	_, err = area.Store(page(2))
	require.NoError(t, err)
}

func TestStoreRejectsWrongSizedPage(t *testing.T) {
	dev := blockdev.NewMemoryDevice(swap.SlotSectors * 1)
	area := swap.New(dev)

	_, err := area.Store(make([]byte, swap.PGSIZE-1))
	assert.Error(t, err)
}
