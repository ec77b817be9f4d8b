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

package cmd

import (
	"fmt"
	"os"

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/pintosfs/core/internal/filesys"
	"github.com/pintosfs/core/internal/logger"
	"github.com/spf13/cobra"
)

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "Check the free map and the two reserved inodes for consistency",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		numSectors, err := sectorsOnDisk(cfg.Device.FileSystemPath)
		if err != nil {
			return fmt.Errorf("fsck: %w", err)
		}

		dev, err := blockdev.OpenFileDevice(cfg.Device.FileSystemPath, numSectors)
		if err != nil {
			return fmt.Errorf("fsck: %w", err)
		}
		defer dev.Close()

		fs, err := filesys.Open(dev, cfg.Cache.SizeSectors)
		if err != nil {
			return fmt.Errorf("fsck: %w", err)
		}
		defer fs.Close()

		if err := fs.LoadFreeMap(); err != nil {
			return fmt.Errorf("fsck: loading free map: %w", err)
		}

		if _, err := fs.Open(filesys.FreeMapSector); err != nil {
			return fmt.Errorf("fsck: free-map inode unreadable: %w", err)
		}
		root, err := fs.RootDir()
		if err != nil {
			return fmt.Errorf("fsck: root directory inode unreadable: %w", err)
		}
		if !root.IsDir() {
			return fmt.Errorf("fsck: sector %d should be a directory but isn't", filesys.RootDirSector)
		}

		free := fs.FreeMap.CountFree()
		used := int(numSectors) - free
		logger.Infof("fsck %s: %d sectors total, %d used, %d free", cfg.Device.FileSystemPath, numSectors, used, free)
		return nil
	},
}

func sectorsOnDisk(path string) (blockdev.SectorNum, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.Size()%blockdev.SectorSize != 0 {
		return 0, fmt.Errorf("%s size %d is not a multiple of the sector size", path, fi.Size())
	}
	return blockdev.SectorNum(fi.Size() / blockdev.SectorSize), nil
}
