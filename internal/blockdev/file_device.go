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

package blockdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileDevice is a Device backed by a regular file, sized to an exact
// number of sectors at creation time. It uses positioned pread/pwrite so
// concurrent callers never race on the file's read/write offset — the
// buffer cache relies on this to issue I/O without serializing through a
// shared *os.File cursor.
type FileDevice struct {
	f          *os.File
	numSectors SectorNum
}

// OpenFileDevice opens (creating if necessary) path as a block device of
// exactly numSectors sectors, zero-extending a freshly created file.
func OpenFileDevice(path string, numSectors SectorNum) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}

	size := int64(numSectors) * SectorSize
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: truncate %s to %d bytes: %w", path, size, err)
	}

	return &FileDevice{f: f, numSectors: numSectors}, nil
}

func (d *FileDevice) NumSectors() SectorNum { return d.numSectors }

func (d *FileDevice) Read(sn SectorNum, buf []byte) error {
	if err := checkBufLen(buf); err != nil {
		return err
	}
	if err := checkBounds(sn, d.numSectors); err != nil {
		return err
	}

	off := int64(sn) * SectorSize
	n, err := unix.Pread(int(d.f.Fd()), buf, off)
	if err != nil {
		return fmt.Errorf("blockdev: pread sector %d: %w", sn, err)
	}
	if n != SectorSize {
		return fmt.Errorf("blockdev: short pread on sector %d: got %d bytes", sn, n)
	}
	return nil
}

func (d *FileDevice) Write(sn SectorNum, buf []byte) error {
	if err := checkBufLen(buf); err != nil {
		return err
	}
	if err := checkBounds(sn, d.numSectors); err != nil {
		return err
	}

	off := int64(sn) * SectorSize
	n, err := unix.Pwrite(int(d.f.Fd()), buf, off)
	if err != nil {
		return fmt.Errorf("blockdev: pwrite sector %d: %w", sn, err)
	}
	if n != SectorSize {
		return fmt.Errorf("blockdev: short pwrite on sector %d: wrote %d bytes", sn, n)
	}
	return nil
}

func (d *FileDevice) Close() error {
	return d.f.Close()
}
