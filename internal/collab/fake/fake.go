// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fake provides in-memory collaborators for tests.
package fake

import (
	"context"
	"errors"
	"sync"

	"github.com/ManuGH/streamguard/internal/collab"
	"github.com/ManuGH/streamguard/internal/health"
)

// Call records one service manager invocation.
type Call struct {
	Op   string
	Name string
}

// ServiceManager keeps service states in memory. Start and Restart set the
// service active unless a failure is configured for it.
type ServiceManager struct {
	mu        sync.Mutex
	states    map[string]health.ServiceState
	calls     []Call
	failStart map[string]bool
	failQuery map[string]bool
	// AfterRestart, when set, overrides the state a restarted service ends in.
	AfterRestart map[string]health.ServiceState
}

// NewServiceManager creates a manager with the given initial states.
func NewServiceManager(states map[string]health.ServiceState) *ServiceManager {
	m := &ServiceManager{
		states:       make(map[string]health.ServiceState),
		failStart:    make(map[string]bool),
		failQuery:    make(map[string]bool),
		AfterRestart: make(map[string]health.ServiceState),
	}
	for k, v := range states {
		m.states[k] = v
	}
	return m
}

// FailStart makes Start and Restart of name fail.
func (m *ServiceManager) FailStart(name string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStart[name] = fail
}

// FailQuery makes Status of name fail.
func (m *ServiceManager) FailQuery(name string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failQuery[name] = fail
}

// Set overrides the state of name.
func (m *ServiceManager) Set(name string, state health.ServiceState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[name] = state
}

// State returns the current state of name.
func (m *ServiceManager) State(name string) health.ServiceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[name]; ok {
		return s
	}
	return health.ServiceInactive
}

// Calls returns a copy of the recorded mutating calls.
func (m *ServiceManager) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsOf returns the names passed to op, in order.
func (m *ServiceManager) CallsOf(op string) []string {
	var names []string
	for _, c := range m.Calls() {
		if c.Op == op {
			names = append(names, c.Name)
		}
	}
	return names
}

func (m *ServiceManager) Status(_ context.Context, name string) (health.ServiceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failQuery[name] {
		return health.ServiceUnknown, collab.CallError("fake", "status "+name, errors.New("query failed"))
	}
	if s, ok := m.states[name]; ok {
		return s, nil
	}
	return health.ServiceInactive, nil
}

func (m *ServiceManager) Start(_ context.Context, name string) error {
	return m.bringUp("start", name)
}

func (m *ServiceManager) Restart(_ context.Context, name string) error {
	return m.bringUp("restart", name)
}

func (m *ServiceManager) bringUp(op, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: op, Name: name})
	if m.failStart[name] {
		m.states[name] = health.ServiceFailed
		return collab.CallError("fake", op+" "+name, errors.New("unit failed"))
	}
	if s, ok := m.AfterRestart[name]; ok {
		m.states[name] = s
		return nil
	}
	m.states[name] = health.ServiceActive
	return nil
}

func (m *ServiceManager) Stop(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "stop", Name: name})
	m.states[name] = health.ServiceInactive
	return nil
}

// StreamController records scene switches.
type StreamController struct {
	mu         sync.Mutex
	onFallback bool
	switches   []string
	Err        error
}

func (s *StreamController) SwitchToFallback(_ context.Context, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switches = append(s.switches, "fallback")
	if s.Err != nil {
		return s.Err
	}
	s.onFallback = true
	return nil
}

func (s *StreamController) SwitchToLive(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switches = append(s.switches, "live")
	if s.Err != nil {
		return s.Err
	}
	s.onFallback = false
	return nil
}

func (s *StreamController) IsOnFallback(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onFallback, s.Err
}

// Switches returns the recorded switch directions.
func (s *StreamController) Switches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.switches...)
}

// Pipeline returns a fixed buffer depth.
type Pipeline struct {
	Depth int
	Err   error
}

func (p *Pipeline) BufferDepthSeconds(context.Context) (int, error) {
	return p.Depth, p.Err
}

// Notifier records notifications. When Block is set, Send waits for it to be
// closed or for ctx to end before recording.
type Notifier struct {
	mu    sync.Mutex
	sent  []collab.Notification
	Err   error
	Block chan struct{}
}

func (n *Notifier) Send(ctx context.Context, msg collab.Notification) error {
	if n.Block != nil {
		select {
		case <-n.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.Err
}

// Sent returns the recorded notifications.
func (n *Notifier) Sent() []collab.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]collab.Notification(nil), n.sent...)
}

// Events returns the event names of the recorded notifications.
func (n *Notifier) Events() []string {
	var out []string
	for _, s := range n.Sent() {
		out = append(out, s.Event)
	}
	return out
}
