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

package cache

import (
	"container/list"

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/pintosfs/core/internal/threadid"
)

// entry is one cache slot. All fields are GUARDED_BY the owning Cache's mu
// except buf, which callers may read/write freely once they hold a pin —
// pinning is what keeps it from being reused out from under them.
type entry struct {
	sn      blockdev.SectorNum
	buf     [blockdev.SectorSize]byte
	dirty   bool
	marker  bool
	owner   threadid.ID
	pins    int
	loading bool

	elem *list.Element // this entry's node in Cache.recency; elem.Value == this entry
}

func (e *entry) evictable() bool {
	return e.pins == 0 && !e.loading
}
