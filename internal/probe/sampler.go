// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"context"
	"time"

	"github.com/ManuGH/streamguard/internal/health"
	"golang.org/x/sync/errgroup"
)

// IntentFunc reports whether the stream is expected to be live right now.
type IntentFunc func(ctx context.Context) bool

// Sampler fans out to all probes and builds one snapshot.
type Sampler struct {
	resources    *ResourceProbe
	connectivity *ConnectivityProbe
	services     *ServiceProbe
	names        func() []string
	intent       IntentFunc
}

// NewSampler wires the probes. names returns the services to query each cycle;
// intent may be nil, meaning the stream is always expected.
func NewSampler(r *ResourceProbe, c *ConnectivityProbe, s *ServiceProbe, names func() []string, intent IntentFunc) *Sampler {
	if intent == nil {
		intent = func(context.Context) bool { return true }
	}
	return &Sampler{resources: r, connectivity: c, services: s, names: names, intent: intent}
}

// Sample runs every probe concurrently. Each probe bounds itself, so Sample
// returns once all of them have completed or timed out.
func (s *Sampler) Sample(ctx context.Context) health.Snapshot {
	expected := s.intent(ctx)
	r := health.Readings{Timestamp: time.Now(), StreamExpected: expected}

	// Probes never return errors; the group only provides the join.
	var g errgroup.Group
	g.Go(func() error {
		r.Resources = s.resources.Sample(ctx)
		return nil
	})
	g.Go(func() error {
		r.NetworkOK, r.DependencyAPI = s.connectivity.Check(ctx, expected)
		return nil
	})
	g.Go(func() error {
		r.Services = s.services.Sample(ctx, s.names())
		return nil
	})
	g.Go(func() error {
		r.Buffer = s.services.BufferDepth(ctx)
		return nil
	})
	_ = g.Wait()

	return health.NewSnapshot(r)
}
