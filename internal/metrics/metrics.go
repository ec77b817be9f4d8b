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

// Package metrics exposes Prometheus instrumentation for the buffer cache,
// frame evictor, swap area, and read-ahead state machine, grounded on the
// teacher's common/oc_metrics.go instrumentation of its own cache and
// reader layers.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pintosfs",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Buffer cache get() calls served without a disk read.",
	})

	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pintosfs",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Buffer cache get() calls that required a disk read.",
	})

	CacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pintosfs",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Entries reclaimed to make room for a miss.",
	})

	CacheFlushes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pintosfs",
		Subsystem: "cache",
		Name:      "flush_writes_total",
		Help:      "Dirty sectors written back by flush().",
	})

	CacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pintosfs",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Current number of live cache entries.",
	})

	FrameActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pintosfs",
		Subsystem: "frame",
		Name:      "active",
		Help:      "Frames currently on the active list.",
	})

	FrameInactive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pintosfs",
		Subsystem: "frame",
		Name:      "inactive",
		Help:      "Frames currently on the inactive list.",
	})

	FrameEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pintosfs",
		Subsystem: "frame",
		Name:      "evictions_total",
		Help:      "Frames reclaimed by the second-chance evictor.",
	})

	SwapSlotsUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pintosfs",
		Subsystem: "swap",
		Name:      "slots_used",
		Help:      "Swap slots currently allocated.",
	})

	ReadAheadIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pintosfs",
		Subsystem: "readahead",
		Name:      "windows_issued_total",
		Help:      "Read-ahead windows issued (initial, advance, marker-hit, or random one-shot).",
	})

	ReadAheadSectorsPulled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pintosfs",
		Subsystem: "readahead",
		Name:      "sectors_pulled_total",
		Help:      "Sectors newly admitted to the cache by read-ahead.",
	})
)

// MustRegister registers every collector above on reg, for a caller (typically
// cmd/pintosfs) that wants one promhttp.Handler covering this core.
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		CacheHits, CacheMisses, CacheEvictions, CacheFlushes, CacheSize,
		FrameActive, FrameInactive, FrameEvictions,
		SwapSlotsUsed,
		ReadAheadIssued, ReadAheadSectorsPulled,
	)
}
