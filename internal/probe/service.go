// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/streamguard/internal/collab"
	"github.com/ManuGH/streamguard/internal/health"
	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/ManuGH/streamguard/internal/metrics"
	"github.com/rs/zerolog"
)

// ServiceProbe queries managed service states and the content buffer.
type ServiceProbe struct {
	manager  collab.ServiceManager
	pipeline collab.ContentPipeline
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewServiceProbe creates the probe. pipeline may be nil when no content
// pipeline is configured.
func NewServiceProbe(manager collab.ServiceManager, pipeline collab.ContentPipeline, timeout time.Duration) *ServiceProbe {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &ServiceProbe{
		manager:  manager,
		pipeline: pipeline,
		timeout:  timeout,
		logger:   xglog.WithComponent("probe"),
	}
}

// Sample queries every name concurrently. A failed or timed-out query yields
// unknown for that name only.
func (p *ServiceProbe) Sample(ctx context.Context, names []string) map[string]health.ServiceState {
	out := make(map[string]health.ServiceState, len(names))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state := p.status(ctx, name)
			mu.Lock()
			out[name] = state
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

func (p *ServiceProbe) status(ctx context.Context, name string) health.ServiceState {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	state, err := p.manager.Status(ctx, name)
	if err == nil && ctx.Err() == nil {
		return state
	}
	if err == nil {
		err = ErrProbeTimeout
	}
	metrics.IncProbeFailure("service")
	logger := xglog.WithContext(ctx, p.logger)
	logger.Warn().Err(err).
		Str(xglog.FieldEvent, "probe.service_unknown").
		Str(xglog.FieldUnit, name).
		Msg("service state unknown")
	return health.ServiceUnknown
}

// BufferDepth reads the content buffer. Any failure, or no pipeline, yields a
// non-applicable reading rather than zero.
func (p *ServiceProbe) BufferDepth(ctx context.Context) health.Buffer {
	if p.pipeline == nil {
		return health.Buffer{}
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	secs, err := p.pipeline.BufferDepthSeconds(ctx)
	if err != nil {
		metrics.IncProbeFailure("buffer")
		logger := xglog.WithContext(ctx, p.logger)
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "probe.buffer_unavailable").
			Msg("buffer depth unavailable")
		return health.Buffer{}
	}
	return health.Buffer{Seconds: secs, Applicable: true}
}
