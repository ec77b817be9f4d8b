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

// Package threadid hands out opaque identifiers standing in for the kernel
// thread pointers that the scheduler (an external collaborator, see spec
// §1/§6) owns. Cache entries and frames record "owner thread" as one of
// these values rather than a live pointer, since this core never schedules
// or tears down threads itself — it only needs a comparable handle to key
// teardown sweeps (cache.EvictOwner, supplemental-table free_all) by.
package threadid

import "github.com/google/uuid"

// ID identifies a caller (kernel thread or process) for ownership
// bookkeeping. The zero value is not a valid ID.
type ID uuid.UUID

// Nil is the zero ID, used to mark "no owner" (e.g. the write-behind
// daemon's own cache touches, which must never be swept by EvictOwner).
var Nil ID

// New returns a fresh, globally unique ID.
func New() ID {
	return ID(uuid.New())
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

func (id ID) IsNil() bool {
	return id == Nil
}
