// util/monitor.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/mmp/tmcsim/log"

	"github.com/shirou/gopsutil/cpu"
)

// MonitorCPUUsage launches a goroutine that samples the process's CPU
// usage. If it stays above limit percent for a minute, the goroutine
// stacks are logged; if panicIfWedged is set the process then exits so
// that a supervisor can restart it.
func MonitorCPUUsage(limit int, panicIfWedged bool, lg *log.Logger) {
	go func() {
		defer lg.CatchAndReportCrash()

		var highSince time.Time
		for {
			usage, err := cpu.Percent(10*time.Second, false)
			if err != nil || len(usage) == 0 {
				lg.Warnf("cpu.Percent: %v", err)
				time.Sleep(time.Minute)
				continue
			}

			if int(usage[0]) < limit {
				highSince = time.Time{}
				continue
			}

			if highSince.IsZero() {
				highSince = time.Now()
				lg.Warn("high CPU usage", slog.Float64("percent", usage[0]))
			} else if time.Since(highSince) > time.Minute {
				lg.Error("CPU usage has been high for over a minute", slog.Float64("percent", usage[0]),
					slog.Int("goroutines", runtime.NumGoroutine()))
				if f, err := os.CreateTemp(lg.LogDir, "goroutines-*.txt"); err == nil {
					_ = pprof.Lookup("goroutine").WriteTo(f, 2)
					f.Close()
				}
				if panicIfWedged {
					panic("CPU usage wedged")
				}
				highSince = time.Time{}
			}
		}
	}()
}

// MonitorMemoryUsage launches a goroutine that logs the heap size once it
// first exceeds triggerMB and then each time it grows by another deltaMB.
func MonitorMemoryUsage(triggerMB int, deltaMB int, lg *log.Logger) {
	go func() {
		defer lg.CatchAndReportCrash()

		threshold := uint64(triggerMB) * 1024 * 1024
		for {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			if m.Alloc > threshold {
				lg.Warn("memory usage",
					slog.Uint64("alloc_mb", m.Alloc/(1024*1024)),
					slog.Uint64("sys_mb", m.Sys/(1024*1024)),
					slog.Int("goroutines", runtime.NumGoroutine()))
				threshold = m.Alloc + uint64(deltaMB)*1024*1024
			}

			time.Sleep(15 * time.Second)
		}
	}()
}
