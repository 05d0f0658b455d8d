// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingCleaner struct {
	calls int
	err   error
}

func (c *countingCleaner) Clean(_ context.Context) error {
	c.calls++
	return c.err
}

type fixedDisk struct {
	m     Metric
	calls int
}

func (d *fixedDisk) DiskUsage(_ context.Context) Metric {
	d.calls++
	return d.m
}

func TestEvaluator_DiskCriticalRunsCleanupOnce(t *testing.T) {
	r := nominal()
	r.Resources.DiskUsedPct = Reading(97)

	cleaner := &countingCleaner{}
	disk := &fixedDisk{m: Reading(97)}
	e := NewEvaluator(testThresholds(), WithCleaner(cleaner, disk, 0))

	ev := e.Evaluate(context.Background(), NewSnapshot(r))
	assert.Equal(t, Critical, ev.Status)
	assert.True(t, ev.Cleaned)
	assert.Equal(t, 1, cleaner.calls)
	assert.Equal(t, 1, disk.calls)
}

func TestEvaluator_CleanupRecoversDisk(t *testing.T) {
	r := nominal()
	r.Resources.DiskUsedPct = Reading(96)

	e := NewEvaluator(testThresholds(), WithCleaner(&countingCleaner{}, &fixedDisk{m: Reading(70)}, 0))
	ev := e.Evaluate(context.Background(), NewSnapshot(r))

	assert.Equal(t, Healthy, ev.Status)
	assert.Equal(t, 70.0, ev.Snapshot.Resources().DiskUsedPct.Value)
}

func TestEvaluator_CleanupFailureIsNotFatal(t *testing.T) {
	r := nominal()
	r.Resources.DiskUsedPct = Reading(90)

	cleaner := &countingCleaner{err: errors.New("permission denied")}
	e := NewEvaluator(testThresholds(), WithCleaner(cleaner, &fixedDisk{m: Unavailable()}, 0))
	ev := e.Evaluate(context.Background(), NewSnapshot(r))

	assert.Equal(t, Warning, ev.Status)
	assert.Equal(t, 1, cleaner.calls)
	assert.Equal(t, 90.0, ev.Snapshot.Resources().DiskUsedPct.Value, "unavailable re-read keeps original reading")
}

func TestEvaluator_NoCleanupBelowWarning(t *testing.T) {
	cleaner := &countingCleaner{}
	e := NewEvaluator(testThresholds(), WithCleaner(cleaner, &fixedDisk{}, 0))
	ev := e.Evaluate(context.Background(), NewSnapshot(nominal()))

	assert.Equal(t, Healthy, ev.Status)
	assert.False(t, ev.Cleaned)
	assert.Zero(t, cleaner.calls)
}

func TestEvaluator_SetThresholds(t *testing.T) {
	e := NewEvaluator(testThresholds())
	r := nominal()
	r.Resources.MemoryUsedPct = Reading(80)

	assert.Equal(t, Healthy, e.Evaluate(context.Background(), NewSnapshot(r)).Status)

	th := testThresholds()
	th.MemoryWarningPct = 75
	e.SetThresholds(th)
	assert.Equal(t, Warning, e.Evaluate(context.Background(), NewSnapshot(r)).Status)
}
