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

// Package config is the on-disk/flag-bound configuration for cmd/pintosfs,
// covering the device paths and spec §6 tunables. It follows the teacher's
// cfg.Config shape (a yaml-tagged struct plus a BindFlags function wiring
// spf13/pflag onto spf13/viper), sized to this module's much smaller
// tunable surface instead of the teacher's generated mega-config.
package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of tunables a mount or format run accepts, loaded
// from (in ascending priority) defaults, an optional YAML file, and flags.
type Config struct {
	Device DeviceConfig `yaml:"device"`
	Cache  CacheConfig  `yaml:"cache"`
	VM     VMConfig     `yaml:"vm"`
}

// DeviceConfig names the backing files for the file-system and swap block
// devices (spec §4.1's "synchronous read/write" device, §4.5's swap area).
type DeviceConfig struct {
	FileSystemPath string `yaml:"file-system-path"`
	SwapPath       string `yaml:"swap-path"`
}

// CacheConfig covers the buffer cache and read-ahead tunables (spec §6).
type CacheConfig struct {
	SizeSectors       int `yaml:"size-sectors"`
	ReadAheadWindow   int `yaml:"read-ahead-window"`
	WriteBehindPeriod int `yaml:"write-behind-period-ticks"`
}

// VMConfig covers the frame table's capacity and recency-list tunable.
type VMConfig struct {
	FrameCapacity int `yaml:"frame-capacity"`
	InactiveFloor int `yaml:"inactive-floor"`
}

// Default returns the spec §6 tunable table as a Config, with no device
// paths set — callers must supply those explicitly.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			SizeSectors:       64,
			ReadAheadWindow:   32,
			WriteBehindPeriod: 30,
		},
		VM: VMConfig{
			FrameCapacity: 256,
			InactiveFloor: 10,
		},
	}
}

// BindFlags registers this module's flags on flagSet and binds each to its
// viper config key, matching the teacher's cfg.BindFlags generated pattern.
func BindFlags(flagSet *pflag.FlagSet) error {
	d := Default()

	flagSet.String("file-system-device", "", "Path to the file-system block device or backing file.")
	if err := viper.BindPFlag("device.file-system-path", flagSet.Lookup("file-system-device")); err != nil {
		return fmt.Errorf("config: bind file-system-device: %w", err)
	}

	flagSet.String("swap-device", "", "Path to the swap block device or backing file.")
	if err := viper.BindPFlag("device.swap-path", flagSet.Lookup("swap-device")); err != nil {
		return fmt.Errorf("config: bind swap-device: %w", err)
	}

	flagSet.Int("cache-size", d.Cache.SizeSectors, "Buffer cache capacity, in sectors.")
	if err := viper.BindPFlag("cache.size-sectors", flagSet.Lookup("cache-size")); err != nil {
		return fmt.Errorf("config: bind cache-size: %w", err)
	}

	flagSet.Int("read-ahead-window", d.Cache.ReadAheadWindow, "Read-ahead window, in sectors.")
	if err := viper.BindPFlag("cache.read-ahead-window", flagSet.Lookup("read-ahead-window")); err != nil {
		return fmt.Errorf("config: bind read-ahead-window: %w", err)
	}

	flagSet.Int("write-behind-period", d.Cache.WriteBehindPeriod, "Write-behind flush period, in timer ticks.")
	if err := viper.BindPFlag("cache.write-behind-period-ticks", flagSet.Lookup("write-behind-period")); err != nil {
		return fmt.Errorf("config: bind write-behind-period: %w", err)
	}

	flagSet.Int("frame-capacity", d.VM.FrameCapacity, "Number of physical frames the user pool bounds itself to.")
	if err := viper.BindPFlag("vm.frame-capacity", flagSet.Lookup("frame-capacity")); err != nil {
		return fmt.Errorf("config: bind frame-capacity: %w", err)
	}

	flagSet.Int("inactive-floor", d.VM.InactiveFloor, "Frame table inactive-list floor.")
	if err := viper.BindPFlag("vm.inactive-floor", flagSet.Lookup("inactive-floor")); err != nil {
		return fmt.Errorf("config: bind inactive-floor: %w", err)
	}

	return nil
}

// Load decodes viper's current state (defaults + optional YAML file +
// bound flags, in that priority order) into a Config. Decoding matches
// struct fields by their yaml tag, the same as the teacher's
// legacy_param_converter.go TagName: "yaml" mapstructure.DecoderConfig.
func Load() (Config, error) {
	cfg := Default()
	if err := viper.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// Validate rejects a Config that cannot drive a mount or format run.
func (c Config) Validate() error {
	if c.Device.FileSystemPath == "" {
		return fmt.Errorf("config: file-system-device is required")
	}
	if c.Cache.SizeSectors <= 0 {
		return fmt.Errorf("config: cache-size must be positive, got %d", c.Cache.SizeSectors)
	}
	if c.VM.FrameCapacity <= 0 {
		return fmt.Errorf("config: frame-capacity must be positive, got %d", c.VM.FrameCapacity)
	}
	if c.VM.InactiveFloor < 0 {
		return fmt.Errorf("config: inactive-floor cannot be negative, got %d", c.VM.InactiveFloor)
	}
	if c.VM.InactiveFloor >= c.VM.FrameCapacity {
		return fmt.Errorf("config: inactive-floor (%d) must be less than frame-capacity (%d)", c.VM.InactiveFloor, c.VM.FrameCapacity)
	}
	return nil
}
