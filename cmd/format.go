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

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/pintosfs/core/internal/filesys"
	"github.com/pintosfs/core/internal/logger"
	"github.com/pintosfs/core/internal/threadid"
	"github.com/spf13/cobra"
)

var formatSectors int

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Lay down a fresh free map and root directory on a block device",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if formatSectors <= 0 {
			return fmt.Errorf("format: --sectors must be positive")
		}

		dev, err := blockdev.OpenFileDevice(cfg.Device.FileSystemPath, blockdev.SectorNum(formatSectors))
		if err != nil {
			return fmt.Errorf("format: %w", err)
		}

		fs, err := filesys.Format(dev, cfg.Cache.SizeSectors)
		if err != nil {
			dev.Close()
			return fmt.Errorf("format: %w", err)
		}
		if err := fs.PersistFreeMap(threadid.Nil); err != nil {
			fs.Close()
			return fmt.Errorf("format: persist free map: %w", err)
		}
		if err := fs.Close(); err != nil {
			return fmt.Errorf("format: %w", err)
		}

		logger.Infof("formatted %s: %d sectors, %d reserved", cfg.Device.FileSystemPath, formatSectors, 2)
		return nil
	},
}

func init() {
	formatCmd.Flags().IntVar(&formatSectors, "sectors", 0, "Total sector count for the new device (required).")
}
