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

// Package logger is the process-wide structured logger, bound once at boot
// the way the teacher's internal/logger is bound from cfg.LogConfig.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where log records go and how verbose they are.
type Config struct {
	// File is the path to the log file. Empty means stderr.
	File string

	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int

	// MaxBackups is how many rotated files to keep.
	MaxBackups int

	// Debug turns on slog.LevelDebug; otherwise slog.LevelInfo.
	Debug bool
}

var global atomic.Pointer[slog.Logger]

func init() {
	l := slog.New(slog.NewTextHandler(os.Stderr, nil))
	global.Store(l)
}

// Init installs the process-wide logger per cfg. Safe to call once at boot;
// later calls replace the global logger, which is useful in tests.
func Init(cfg Config) {
	var w io.Writer = os.Stderr
	if cfg.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
		}
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	global.Store(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

func get() *slog.Logger { return global.Load() }

func Debugf(format string, args ...any) { get().Debug(sprintf(format, args...)) }
func Infof(format string, args ...any)  { get().Info(sprintf(format, args...)) }
func Warnf(format string, args ...any)  { get().Warn(sprintf(format, args...)) }
func Errorf(format string, args ...any) { get().Error(sprintf(format, args...)) }

// Fatalf logs at error level then exits the process. Reserved for invariant
// violations detected outside a panic-capable call path (see spec §7,
// "Invariant violation ... fatal; the system stops").
func Fatalf(format string, args ...any) {
	get().Error(sprintf(format, args...))
	os.Exit(1)
}

// WithContext returns a logger decorated with attrs, for call sites that
// want to thread a request-scoped field (e.g. a upage or sector number)
// through without changing every call site's signature. ctx is not read.
func WithContext(ctx context.Context, attrs ...any) *slog.Logger {
	return get().With(attrs...)
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
