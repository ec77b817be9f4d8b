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
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/pintosfs/core/internal/clock"
	"github.com/pintosfs/core/internal/filesys"
	"github.com/pintosfs/core/internal/frame"
	"github.com/pintosfs/core/internal/logger"
	"github.com/pintosfs/core/internal/metrics"
	"github.com/pintosfs/core/internal/swap"
	"github.com/pintosfs/core/internal/vm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	runMetricsAddr   string
	runDiskRateLimit float64
	runDiskRateBurst int
	runLogFile       string
	runLogDebug      bool
)

// VMManager is the vm.Manager assembled by the most recent run invocation,
// exposed so a fault handler sharing this process (spec §1's external
// collaborator) can call LoadPage/Mmap against it.
var VMManager *vm.Manager

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open an already-formatted device and keep its core alive until interrupted",
	Long: `run wires the buffer cache, inode table, frame evictor, and swap area
over already-formatted block devices, starts the write-behind flush daemon
and a Prometheus metrics endpoint, and blocks until SIGINT/SIGTERM — the
shape an out-of-process syscall dispatcher or test harness attaches to.`,
	RunE: runE,
}

func init() {
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", ":9090", "Address to serve Prometheus metrics on.")
	runCmd.Flags().Float64Var(&runDiskRateLimit, "disk-rate-limit", 0, "Max sector ops/sec against the file-system device (0 disables limiting).")
	runCmd.Flags().IntVar(&runDiskRateBurst, "disk-rate-burst", 32, "Burst size for --disk-rate-limit.")
	runCmd.Flags().StringVar(&runLogFile, "log-file", "", "Path to a rotating log file (empty logs to stderr).")
	runCmd.Flags().BoolVar(&runLogDebug, "log-debug", false, "Enable debug-level logging.")
}

func runE(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Init(logger.Config{File: runLogFile, Debug: runLogDebug})

	numSectors, err := sectorsOnDisk(cfg.Device.FileSystemPath)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	fileDev, err := blockdev.OpenFileDevice(cfg.Device.FileSystemPath, numSectors)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	dev := blockdev.NewRateLimited(fileDev, runDiskRateLimit, runDiskRateBurst)

	fs, err := filesys.Open(dev, cfg.Cache.SizeSectors)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer fs.Close()
	if err := fs.LoadFreeMap(); err != nil {
		return fmt.Errorf("run: loading free map: %w", err)
	}

	if cfg.Device.SwapPath == "" {
		return fmt.Errorf("run: swap-device is required")
	}
	swapSectors, err := sectorsOnDisk(cfg.Device.SwapPath)
	if err != nil {
		return fmt.Errorf("run: swap device: %w", err)
	}
	swapDev, err := blockdev.OpenFileDevice(cfg.Device.SwapPath, swapSectors)
	if err != nil {
		return fmt.Errorf("run: swap device: %w", err)
	}
	defer swapDev.Close()
	swapArea := swap.New(swapDev)

	frames := frame.NewTable(cfg.VM.FrameCapacity, cfg.VM.InactiveFloor, swapArea)
	VMManager = vm.NewManager(frames, swapArea)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	wb := fs.NewWriteBehind(clock.RealClock{}, cfg.Cache.WriteBehindPeriod)
	g.Go(func() error { return wb.Run(gctx) })

	server := &http.Server{Addr: runMetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	g.Go(func() error {
		logger.Infof("serving metrics on %s", runMetricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return server.Shutdown(context.Background())
	})

	logger.Infof("pintosfs core running over %s (%d sectors)", cfg.Device.FileSystemPath, numSectors)
	if err := g.Wait(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}
