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

// Package cmd is the pintosfs CLI: format, fsck, and run subcommands over
// internal/filesys, internal/vm, and the rest of this module's core,
// structured the way the teacher's cmd package binds cfg.BindFlags onto a
// cobra root command.
package cmd

import (
	"fmt"
	"os"

	"github.com/pintosfs/core/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
)

var rootCmd = &cobra.Command{
	Use:   "pintosfs",
	Short: "A teaching file system and virtual memory core over a raw block device",
	Long: `pintosfs drives the buffer cache, inode engine, swap area, and frame
evictor that back a Pintos-style file system and VM core directly against
a block device or backing file, with no kernel mount involved.`,
}

// Execute runs the CLI, exiting the process with status 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	bindErr = config.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(formatCmd, fsckCmd, runCmd)
}

func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading config file %s: %w", cfgFile, err)
	}
}

// loadConfig resolves the bound flags and any config file into a
// config.Config, surfacing errors deferred from init/initConfig first.
func loadConfig() (config.Config, error) {
	if bindErr != nil {
		return config.Config{}, bindErr
	}
	if configFileErr != nil {
		return config.Config{}, configFileErr
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
