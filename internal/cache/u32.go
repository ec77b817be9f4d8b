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
	"encoding/binary"

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/pintosfs/core/internal/threadid"
)

// ReadU32At reads a little-endian uint32 at byte offset pos within sn (spec
// §6: the on-disk inode and indirect blocks are little-endian sector pointer
// arrays).
func (c *Cache) ReadU32At(sn blockdev.SectorNum, pos int) (uint32, error) {
	var buf [4]byte
	if err := c.Read(sn, buf[:], pos, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteU32At writes v as a little-endian uint32 at byte offset pos within sn.
func (c *Cache) WriteU32At(sn blockdev.SectorNum, pos int, v uint32, owner threadid.ID) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return c.Write(sn, buf[:], pos, 4, owner)
}
