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

// Package frame is the global frame table and second-chance evictor (spec
// §4.7): every resident physical page in the user pool lives in exactly one
// frame record, reachable from the active/inactive recency lists and from a
// kpage-keyed hash for direct lookup.
package frame

import (
	"container/list"

	"github.com/pintosfs/core/internal/page"
	"github.com/pintosfs/core/internal/threadid"
)

// KPage is the opaque handle a caller holds for a resident frame. Real
// Pintos uses the kernel's direct-mapped address of the physical page; this
// core has no physical memory to map, so KPage is a monotonically assigned
// synthetic identifier instead, serving the same role as a lookup key.
type KPage uint64

// Frame is one physical-page-sized record. Its buf is the "physical page"
// itself, since this core has no real memory to back it with.
type Frame struct {
	kpage     KPage
	buf       []byte
	upage     page.Addr
	owner     threadid.ID
	pageTable *page.Table
	groupSize int

	accessed bool
	dirty    bool

	elem       *list.Element
	inInactive bool
}

// Bytes returns the frame's backing storage.
func (f *Frame) Bytes() []byte { return f.buf }

// KPage returns the frame's lookup handle.
func (f *Frame) KPage() KPage { return f.kpage }

// Upage returns the user virtual page this frame currently backs.
func (f *Frame) Upage() page.Addr { return f.upage }

// Owner returns the thread that owns this frame's mapping.
func (f *Frame) Owner() threadid.ID { return f.owner }

// Dirty reports whether the frame's contents differ from whatever is
// currently on durable storage.
func (f *Frame) Dirty() bool { return f.dirty }

// MarkAccessed sets the frame's access bit. Real hardware sets this on every
// reference through the MMU; since page-table walking is an external
// collaborator here (spec §1), the fault handler and syscall dispatch layer
// call this explicitly instead.
func (f *Frame) MarkAccessed() { f.accessed = true }

// MarkDirty sets the frame's dirty bit, meaning its contents differ from
// whatever is currently on durable storage. Like MarkAccessed, this is
// normally an MMU side effect; here the external fault/write-path calls it.
func (f *Frame) MarkDirty() { f.dirty = true }
