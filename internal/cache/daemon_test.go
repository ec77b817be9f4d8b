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
	"context"
	"testing"
	"time"

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/pintosfs/core/internal/cache"
	"github.com/pintosfs/core/internal/clock"
	"github.com/pintosfs/core/internal/threadid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteBehindFlushesWithinPeriod(t *testing.T) {
	dev := blockdev.NewMemoryDevice(1)
	c := cache.New(dev, 1)
	owner := threadid.New()
	require.NoError(t, c.Write(0, []byte{42}, 0, 1, owner))

	simClock := clock.NewSimulatedClock(time.Unix(0, 0))
	wb := cache.NewWriteBehind(c, simClock, 30)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- wb.Run(ctx) }()

	// Give the daemon goroutine a chance to register its After() call,
	// then advance virtual time past one period.
	time.Sleep(20 * time.Millisecond)
	simClock.AdvanceTime(cache.TickDuration * 30)

	require.Eventually(t, func() bool {
		raw := make([]byte, blockdev.SectorSize)
		_ = dev.Read(0, raw)
		return raw[0] == 42
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWriteBehindFlushesOnShutdown(t *testing.T) {
	dev := blockdev.NewMemoryDevice(1)
	c := cache.New(dev, 1)
	owner := threadid.New()
	require.NoError(t, c.Write(0, []byte{7}, 0, 1, owner))

	simClock := clock.NewSimulatedClock(time.Unix(0, 0))
	wb := cache.NewWriteBehind(c, simClock, 30)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- wb.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	raw := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.Read(0, raw))
	assert.Equal(t, byte(7), raw[0])
}
