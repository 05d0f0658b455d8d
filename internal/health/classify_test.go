// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testThresholds() Thresholds {
	t := DefaultThresholds()
	t.RequiredServices = []string{"render.service", "stream.service"}
	t.StreamService = "stream.service"
	return t
}

func nominal() Readings {
	return Readings{
		Resources: Resources{
			DiskUsedPct:   Reading(40),
			MemoryUsedPct: Reading(50),
			LoadAverage:   Reading(0.8),
		},
		Services: map[string]ServiceState{
			"render.service": ServiceActive,
			"stream.service": ServiceActive,
		},
		NetworkOK:      true,
		DependencyAPI:  TriOK,
		Buffer:         Buffer{Seconds: 3600, Applicable: true},
		StreamExpected: true,
	}
}

func TestClassify_NominalIsHealthy(t *testing.T) {
	// Sweep resource usage below the warning thresholds.
	for disk := 0.0; disk <= 85; disk += 17 {
		for mem := 0.0; mem <= 85; mem += 17 {
			r := nominal()
			r.Resources.DiskUsedPct = Reading(disk)
			r.Resources.MemoryUsedPct = Reading(mem)

			status, reasons := Classify(NewSnapshot(r), testThresholds())
			assert.Equal(t, Healthy, status, "disk=%.0f mem=%.0f reasons=%v", disk, mem, reasons)
			assert.Empty(t, reasons)
		}
	}
}

func TestClassify_SingleCriticalResourceWins(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Readings)
	}{
		{"disk", func(r *Readings) { r.Resources.DiskUsedPct = Reading(97) }},
		{"memory", func(r *Readings) { r.Resources.MemoryUsedPct = Reading(99.5) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := nominal()
			tt.mutate(&r)
			status, reasons := Classify(NewSnapshot(r), testThresholds())
			assert.Equal(t, Critical, status)
			assert.Len(t, reasons, 1)
		})
	}
}

func TestClassify_CriticalOverridesWarning(t *testing.T) {
	r := nominal()
	r.Resources.MemoryUsedPct = Reading(90)
	r.Buffer = Buffer{Seconds: 10, Applicable: true}
	r.Services["render.service"] = ServiceFailed

	status, reasons := Classify(NewSnapshot(r), testThresholds())
	assert.Equal(t, Critical, status)
	assert.Equal(t, []string{"service render.service is failed"}, reasons)
}

func TestClassify_Connectivity(t *testing.T) {
	r := nominal()
	r.NetworkOK = false
	status, _ := Classify(NewSnapshot(r), testThresholds())
	assert.Equal(t, Critical, status)

	r = nominal()
	r.DependencyAPI = TriFailed
	status, _ = Classify(NewSnapshot(r), testThresholds())
	assert.Equal(t, Critical, status)

	r = nominal()
	r.DependencyAPI = TriNotApplicable
	status, _ = Classify(NewSnapshot(r), testThresholds())
	assert.Equal(t, Healthy, status)
}

func TestClassify_Warnings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Readings)
	}{
		{"disk above warning", func(r *Readings) { r.Resources.DiskUsedPct = Reading(90) }},
		{"memory above warning", func(r *Readings) { r.Resources.MemoryUsedPct = Reading(86) }},
		{"thin buffer", func(r *Readings) { r.Buffer = Buffer{Seconds: 120, Applicable: true} }},
		{"unknown service", func(r *Readings) { r.Services["render.service"] = ServiceUnknown }},
		{"missing required service", func(r *Readings) { delete(r.Services, "render.service") }},
		{"blind memory probe", func(r *Readings) { r.Resources.MemoryUsedPct = Unavailable() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := nominal()
			tt.mutate(&r)
			status, reasons := Classify(NewSnapshot(r), testThresholds())
			assert.Equal(t, Warning, status)
			assert.NotEmpty(t, reasons)
		})
	}
}

func TestClassify_BufferNotApplicableIsNotAWarning(t *testing.T) {
	r := nominal()
	r.Buffer = Buffer{}
	status, _ := Classify(NewSnapshot(r), testThresholds())
	assert.Equal(t, Healthy, status)
}

func TestClassify_ExpectedStopped(t *testing.T) {
	th := testThresholds()

	r := nominal()
	r.Services["stream.service"] = ServiceInactive
	r.StreamExpected = false
	status, _ := Classify(NewSnapshot(r), th)
	assert.Equal(t, Healthy, status, "stream intentionally stopped")

	r.StreamExpected = true
	status, _ = Classify(NewSnapshot(r), th)
	assert.Equal(t, Critical, status)

	th.ExpectedStopped = []string{"stream.service"}
	status, _ = Classify(NewSnapshot(r), th)
	assert.Equal(t, Healthy, status)
}

func TestClassify_LoadWarningOptIn(t *testing.T) {
	r := nominal()
	r.Resources.LoadAverage = Reading(12)

	th := testThresholds()
	status, _ := Classify(NewSnapshot(r), th)
	assert.Equal(t, Healthy, status)

	th.LoadWarning = 8
	status, _ = Classify(NewSnapshot(r), th)
	assert.Equal(t, Warning, status)
}

func TestThresholds_Validate(t *testing.T) {
	assert.NoError(t, testThresholds().Validate())

	bad := testThresholds()
	bad.DiskWarningPct = 99
	bad.RequiredServices = append(bad.RequiredServices, "render.service")
	err := bad.Validate()
	assert.ErrorContains(t, err, "disk warning threshold")
	assert.ErrorContains(t, err, "listed twice")
}

func TestStatus_ExitCodeAndText(t *testing.T) {
	assert.Equal(t, 0, Healthy.ExitCode())
	assert.Equal(t, 1, Warning.ExitCode())
	assert.Equal(t, 2, Critical.ExitCode())
	assert.Equal(t, 2, Status(42).ExitCode())

	var s Status
	assert.NoError(t, s.UnmarshalText([]byte("warning")))
	assert.Equal(t, Warning, s)
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
}
