// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"encoding/json"
	"sort"
	"time"
)

// ServiceState is the lifecycle state of a managed service as reported by the service manager.
type ServiceState string

const (
	ServiceActive   ServiceState = "active"
	ServiceInactive ServiceState = "inactive"
	ServiceFailed   ServiceState = "failed"
	ServiceUnknown  ServiceState = "unknown"
)

// Down reports whether the state means the service is not running.
func (s ServiceState) Down() bool {
	return s == ServiceInactive || s == ServiceFailed
}

// Metric is a single resource reading. Available is false when the probe
// timed out or failed; Value is meaningless in that case.
type Metric struct {
	Value     float64 `json:"value"`
	Available bool    `json:"available"`
}

// Reading returns an available metric.
func Reading(v float64) Metric { return Metric{Value: v, Available: true} }

// Unavailable returns a metric marked as not sampled.
func Unavailable() Metric { return Metric{} }

// Above reports whether the metric is available and strictly above limit.
func (m Metric) Above(limit float64) bool {
	return m.Available && m.Value > limit
}

// Resources groups the local system readings.
type Resources struct {
	DiskUsedPct   Metric `json:"disk_used_pct"`
	MemoryUsedPct Metric `json:"memory_used_pct"`
	LoadAverage   Metric `json:"load_average"`
}

// Tri is a boolean that may also be not applicable.
type Tri string

const (
	TriOK            Tri = "ok"
	TriFailed        Tri = "failed"
	TriNotApplicable Tri = "not_applicable"
)

// Buffer is the content buffer depth in seconds; Applicable is false when the
// pipeline could not be queried.
type Buffer struct {
	Seconds    int  `json:"seconds"`
	Applicable bool `json:"applicable"`
}

// Readings is the raw input gathered by the probes for one cycle.
type Readings struct {
	Timestamp      time.Time
	Resources      Resources
	Services       map[string]ServiceState
	NetworkOK      bool
	DependencyAPI  Tri
	Buffer         Buffer
	StreamExpected bool
}

// Snapshot is the immutable result of one sampling cycle.
// Consumers derive classification from it and never write back into it.
type Snapshot struct {
	timestamp      time.Time
	resources      Resources
	services       map[string]ServiceState
	networkOK      bool
	dependencyAPI  Tri
	buffer         Buffer
	streamExpected bool
}

// NewSnapshot freezes the readings into a snapshot. The services map is copied.
func NewSnapshot(r Readings) Snapshot {
	services := make(map[string]ServiceState, len(r.Services))
	for name, state := range r.Services {
		services[name] = state
	}
	api := r.DependencyAPI
	if api == "" {
		api = TriNotApplicable
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return Snapshot{
		timestamp:      ts,
		resources:      r.Resources,
		services:       services,
		networkOK:      r.NetworkOK,
		dependencyAPI:  api,
		buffer:         r.Buffer,
		streamExpected: r.StreamExpected,
	}
}

func (s Snapshot) Timestamp() time.Time { return s.timestamp }
func (s Snapshot) Resources() Resources  { return s.resources }
func (s Snapshot) NetworkOK() bool       { return s.networkOK }
func (s Snapshot) DependencyAPI() Tri    { return s.dependencyAPI }
func (s Snapshot) Buffer() Buffer        { return s.buffer }
func (s Snapshot) StreamExpected() bool  { return s.streamExpected }

// Service returns the sampled state of name. Services that were never sampled report unknown.
func (s Snapshot) Service(name string) (ServiceState, bool) {
	st, ok := s.services[name]
	if !ok {
		return ServiceUnknown, false
	}
	return st, true
}

// ServiceNames returns the sampled service names in sorted order.
func (s Snapshot) ServiceNames() []string {
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithDisk derives a new snapshot carrying a fresh disk reading.
func (s Snapshot) WithDisk(m Metric) Snapshot {
	out := s
	out.resources.DiskUsedPct = m
	out.services = make(map[string]ServiceState, len(s.services))
	for name, state := range s.services {
		out.services[name] = state
	}
	return out
}

type snapshotJSON struct {
	Timestamp      time.Time               `json:"timestamp"`
	Resources      Resources               `json:"resources"`
	Services       map[string]ServiceState `json:"services"`
	NetworkOK      bool                    `json:"network_ok"`
	DependencyAPI  Tri                     `json:"dependency_api"`
	Buffer         Buffer                  `json:"buffer"`
	StreamExpected bool                    `json:"stream_expected"`
}

// MarshalJSON renders the snapshot for the status API and CLI.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		Timestamp:      s.timestamp,
		Resources:      s.resources,
		Services:       s.services,
		NetworkOK:      s.networkOK,
		DependencyAPI:  s.dependencyAPI,
		Buffer:         s.buffer,
		StreamExpected: s.streamExpected,
	})
}

// UnmarshalJSON rebuilds a snapshot received from the status API.
func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = NewSnapshot(Readings{
		Timestamp:      raw.Timestamp,
		Resources:      raw.Resources,
		Services:       raw.Services,
		NetworkOK:      raw.NetworkOK,
		DependencyAPI:  raw.DependencyAPI,
		Buffer:         raw.Buffer,
		StreamExpected: raw.StreamExpected,
	})
	return nil
}
