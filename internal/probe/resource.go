// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/streamguard/internal/health"
	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/ManuGH/streamguard/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// DefaultProbeTimeout bounds each individual reading.
const DefaultProbeTimeout = 5 * time.Second

// readFunc returns one raw reading.
type readFunc func(ctx context.Context) (float64, error)

// ResourceProbe reads disk, memory and load from the host.
type ResourceProbe struct {
	mountPath string
	timeout   time.Duration
	logger    zerolog.Logger

	readDisk readFunc
	readMem  readFunc
	readLoad readFunc
}

// NewResourceProbe creates a probe for the filesystem mounted at mountPath.
func NewResourceProbe(mountPath string, timeout time.Duration) *ResourceProbe {
	if mountPath == "" {
		mountPath = "/"
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &ResourceProbe{
		mountPath: mountPath,
		timeout:   timeout,
		logger:    xglog.WithComponent("probe"),
		readDisk: func(ctx context.Context) (float64, error) {
			u, err := disk.UsageWithContext(ctx, mountPath)
			if err != nil {
				return 0, err
			}
			return u.UsedPercent, nil
		},
		readMem: func(ctx context.Context) (float64, error) {
			v, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return v.UsedPercent, nil
		},
		readLoad: func(ctx context.Context) (float64, error) {
			a, err := load.AvgWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return a.Load1, nil
		},
	}
}

// Sample reads all three metrics concurrently.
func (p *ResourceProbe) Sample(ctx context.Context) health.Resources {
	type result struct {
		name string
		m    health.Metric
	}
	ch := make(chan result, 3)
	for name, fn := range map[string]readFunc{"disk": p.readDisk, "memory": p.readMem, "load": p.readLoad} {
		go func() { ch <- result{name, p.read(ctx, name, fn)} }()
	}

	var res health.Resources
	for i := 0; i < 3; i++ {
		r := <-ch
		switch r.name {
		case "disk":
			res.DiskUsedPct = r.m
		case "memory":
			res.MemoryUsedPct = r.m
		case "load":
			res.LoadAverage = r.m
		}
	}
	return res
}

// DiskUsage re-reads disk usage; it satisfies health.DiskReader.
func (p *ResourceProbe) DiskUsage(ctx context.Context) health.Metric {
	return p.read(ctx, "disk", p.readDisk)
}

// read runs fn with the probe timeout. gopsutil does not honor the context on
// every platform, so the call runs in its own goroutine and is abandoned on
// timeout.
func (p *ResourceProbe) read(ctx context.Context, name string, fn readFunc) health.Metric {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type out struct {
		v   float64
		err error
	}
	done := make(chan out, 1)
	go func() {
		v, err := fn(ctx)
		done <- out{v, err}
	}()

	var err error
	select {
	case o := <-done:
		if o.err == nil {
			return health.Reading(o.v)
		}
		err = fmt.Errorf("%w: %s: %w", ErrProbeFailure, name, o.err)
	case <-ctx.Done():
		err = fmt.Errorf("%w: %s after %s", ErrProbeTimeout, name, p.timeout)
	}

	metrics.IncProbeFailure(name)
	logger := xglog.WithContext(ctx, p.logger)
	logger.Warn().Err(err).
		Str(xglog.FieldEvent, "probe.unavailable").
		Str("probe", name).
		Msg("resource reading unavailable")
	return health.Unavailable()
}
