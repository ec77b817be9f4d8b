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
	"os"
	"path/filepath"
	"testing"

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatThenFsckSucceed(t *testing.T) {
	devPath := filepath.Join(t.TempDir(), "fs.img")

	rootCmd.SetArgs([]string{"format", "--file-system-device", devPath, "--sectors", "16"})
	require.NoError(t, rootCmd.Execute())

	fi, err := os.Stat(devPath)
	require.NoError(t, err)
	assert.Equal(t, int64(16*blockdev.SectorSize), fi.Size())

	rootCmd.SetArgs([]string{"fsck", "--file-system-device", devPath})
	assert.NoError(t, rootCmd.Execute())
}

func TestFormatRejectsZeroSectors(t *testing.T) {
	devPath := filepath.Join(t.TempDir(), "fs.img")

	rootCmd.SetArgs([]string{"format", "--file-system-device", devPath, "--sectors", "0"})
	err := rootCmd.Execute()
	assert.ErrorContains(t, err, "sectors")
}

func TestFsckRejectsMissingDevice(t *testing.T) {
	rootCmd.SetArgs([]string{"fsck", "--file-system-device", filepath.Join(t.TempDir(), "absent.img")})
	err := rootCmd.Execute()
	assert.Error(t, err)
}

func TestRunRequiresSwapDevice(t *testing.T) {
	devPath := filepath.Join(t.TempDir(), "fs.img")
	rootCmd.SetArgs([]string{"format", "--file-system-device", devPath, "--sectors", "16"})
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"run", "--file-system-device", devPath})
	err := rootCmd.Execute()
	assert.ErrorContains(t, err, "swap-device")
}
