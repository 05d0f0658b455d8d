// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ManuGH/streamguard/internal/collab/fake"
	"github.com/ManuGH/streamguard/internal/config"
	"github.com/ManuGH/streamguard/internal/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(v float64) readFunc {
	return func(context.Context) (float64, error) { return v, nil }
}

func stubResources(timeout time.Duration) *ResourceProbe {
	p := NewResourceProbe("/", timeout)
	p.readDisk = fixed(42)
	p.readMem = fixed(55)
	p.readLoad = fixed(1.5)
	return p
}

func TestResourceProbe_Sample(t *testing.T) {
	res := stubResources(time.Second).Sample(context.Background())
	assert.Equal(t, health.Reading(42), res.DiskUsedPct)
	assert.Equal(t, health.Reading(55), res.MemoryUsedPct)
	assert.Equal(t, health.Reading(1.5), res.LoadAverage)
}

func TestResourceProbe_FailureAndTimeoutAreUnavailable(t *testing.T) {
	p := stubResources(50 * time.Millisecond)
	p.readMem = func(context.Context) (float64, error) { return 0, errors.New("no /proc") }
	block := make(chan struct{})
	defer close(block)
	p.readDisk = func(context.Context) (float64, error) {
		<-block
		return 1, nil
	}

	start := time.Now()
	res := p.Sample(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, res.DiskUsedPct.Available)
	assert.False(t, res.MemoryUsedPct.Available)
	assert.True(t, res.LoadAverage.Available)

	assert.False(t, p.DiskUsage(context.Background()).Available)
}

func TestConnectivity_Network(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	up := NewConnectivityProbe([]string{"127.0.0.1:1", ln.Addr().String()}, "", time.Second)
	assert.True(t, up.NetworkReachable(context.Background()))

	down := NewConnectivityProbe([]string{"127.0.0.1:1"}, "", 200*time.Millisecond)
	assert.False(t, down.NetworkReachable(context.Background()))
}

func TestConnectivity_DefaultTargetsMatchConfig(t *testing.T) {
	p := NewConnectivityProbe(nil, "", time.Second)
	assert.Equal(t, []string{"1.1.1.1:53", "8.8.8.8:53"}, p.targets)
	assert.Equal(t, config.Default().Probes.NetworkTargets, p.targets)
}

func TestConnectivity_DependencyAPI(t *testing.T) {
	tests := []struct {
		status int
		want   health.Tri
	}{
		{http.StatusOK, health.TriOK},
		{http.StatusFound, health.TriOK},
		{http.StatusUnauthorized, health.TriOK},
		{http.StatusTooManyRequests, health.TriFailed},
		{http.StatusServiceUnavailable, health.TriFailed},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status == http.StatusFound {
					w.Header().Set("Location", "/elsewhere")
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p := NewConnectivityProbe([]string{"127.0.0.1:1"}, srv.URL, time.Second)
			assert.Equal(t, tt.want, p.DependencyAPI(context.Background(), true))
			assert.Equal(t, health.TriNotApplicable, p.DependencyAPI(context.Background(), false))
		})
	}

	none := NewConnectivityProbe(nil, "", time.Second)
	assert.Equal(t, health.TriNotApplicable, none.DependencyAPI(context.Background(), true))
	closed := NewConnectivityProbe(nil, "http://127.0.0.1:1/", 200*time.Millisecond)
	assert.Equal(t, health.TriFailed, closed.DependencyAPI(context.Background(), true))
}

func TestServiceProbe_QueryFailureIsUnknown(t *testing.T) {
	m := fake.NewServiceManager(map[string]health.ServiceState{
		"render.service": health.ServiceActive,
		"stream.service": health.ServiceFailed,
	})
	m.FailQuery("chat.service", true)

	got := NewServiceProbe(m, nil, time.Second).Sample(context.Background(),
		[]string{"render.service", "stream.service", "chat.service"})
	assert.Equal(t, map[string]health.ServiceState{
		"render.service": health.ServiceActive,
		"stream.service": health.ServiceFailed,
		"chat.service":   health.ServiceUnknown,
	}, got)
}

func TestServiceProbe_BufferDepth(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, health.Buffer{}, NewServiceProbe(fake.NewServiceManager(nil), nil, time.Second).BufferDepth(ctx))

	ok := NewServiceProbe(fake.NewServiceManager(nil), &fake.Pipeline{Depth: 900}, time.Second)
	assert.Equal(t, health.Buffer{Seconds: 900, Applicable: true}, ok.BufferDepth(ctx))

	broken := NewServiceProbe(fake.NewServiceManager(nil), &fake.Pipeline{Err: errors.New("down")}, time.Second)
	assert.False(t, broken.BufferDepth(ctx).Applicable)
}

func TestSampler_BuildsSnapshot(t *testing.T) {
	m := fake.NewServiceManager(map[string]health.ServiceState{"stream.service": health.ServiceActive})
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer api.Close()

	expected := false
	s := NewSampler(
		stubResources(time.Second),
		NewConnectivityProbe([]string{api.Listener.Addr().String()}, api.URL, time.Second),
		NewServiceProbe(m, &fake.Pipeline{Depth: 600}, time.Second),
		func() []string { return []string{"stream.service"} },
		func(context.Context) bool { return expected },
	)

	snap := s.Sample(context.Background())
	assert.True(t, snap.NetworkOK())
	assert.Equal(t, health.TriNotApplicable, snap.DependencyAPI())
	assert.False(t, snap.StreamExpected())
	assert.Equal(t, 600, snap.Buffer().Seconds)
	state, ok := snap.Service("stream.service")
	assert.True(t, ok)
	assert.Equal(t, health.ServiceActive, state)

	expected = true
	snap = s.Sample(context.Background())
	assert.Equal(t, health.TriOK, snap.DependencyAPI())
	assert.True(t, snap.StreamExpected())
}
