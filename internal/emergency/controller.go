// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package emergency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/streamguard/internal/collab"
	"github.com/ManuGH/streamguard/internal/health"
	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/ManuGH/streamguard/internal/metrics"
	"github.com/ManuGH/streamguard/internal/store"
	"github.com/rs/zerolog"
)

// KeyState is the store key of the emergency record.
const KeyState = "emergency_state"

// DefaultLowGrace is how long the Low tier waits after restarting the display
// service before re-checking.
const DefaultLowGrace = 10 * time.Second

// Reporter receives progress from the recovery loop. The controller persists
// everything the loop reports.
type Reporter interface {
	RecordAttempt(ctx context.Context, n int) error
	RecoverySucceeded(ctx context.Context) error
	RecoveryExhausted(ctx context.Context) error
}

// Loop is the bounded recovery routine the controller runs in the background.
type Loop interface {
	Run(ctx context.Context, r Reporter)
}

// Resetter resets the consecutive failure counter.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Config names the services the controller acts on.
type Config struct {
	StreamService  string
	DisplayService string
	AutoRecovery   bool
	LowGrace       time.Duration
}

// Deps are the collaborators of a Controller. Loop and Notifier are optional.
type Deps struct {
	Store    store.Store
	Services collab.ServiceManager
	Stream   collab.StreamController
	Tracker  Resetter
	Notifier collab.Notifier
	Loop     Loop
}

// Controller is the single writer of the emergency record. All transitions are
// serialized by mu; the recovery loop runs outside of it and reports back
// through a generation-checked Reporter. Notifications are queued under mu and
// delivered in order by a separate goroutine.
type Controller struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	state   State
	history history

	loopGen    uint64
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	loops      sync.WaitGroup

	notifyMu    sync.Mutex
	notifyQueue []queuedNotification
	notifyDone  chan struct{}
}

type queuedNotification struct {
	ctx context.Context
	n   collab.Notification
}

// notifyQueueLimit caps undelivered notifications; newer ones are dropped.
const notifyQueueLimit = 64

// New creates a controller. Call Load or Resume before serving requests.
func New(cfg Config, deps Deps) *Controller {
	if cfg.LowGrace < 0 {
		cfg.LowGrace = 0
	}
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		logger: xglog.WithComponent("emergency"),
		now:    time.Now,
		sleep:  sleepCtx,
		state:  normalState(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Load reads the persisted record into memory.
func (c *Controller) Load(ctx context.Context) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(ctx); err != nil {
		return c.state, err
	}
	return c.state, nil
}

func (c *Controller) loadLocked(ctx context.Context) error {
	st, err := store.GetJSON[State](ctx, c.deps.Store, KeyState)
	switch {
	case errors.Is(err, store.ErrNotFound):
		st = normalState()
	case err != nil:
		return err
	}
	if st.Phase == "" {
		st.Phase = PhaseNormal
	}
	c.state = st
	metrics.SetEmergencyPhase(string(st.Phase))
	return nil
}

// syncLocked re-reads the persisted record. Other processes sharing the store,
// such as the recover command, may have changed it since the last mutation.
// A run of the recovery loop is released when the record went inactive.
func (c *Controller) syncLocked(ctx context.Context) error {
	prev := c.state
	if err := c.loadLocked(ctx); err != nil {
		return err
	}
	if prev.Phase != c.state.Phase || prev.Active != c.state.Active {
		logger := xglog.WithContext(ctx, c.logger)
		logger.Info().
			Str(xglog.FieldEvent, "emergency.external_change").
			Str("from", string(prev.Phase)).
			Str("to", string(c.state.Phase)).
			Msg("emergency record changed by another process")
	}
	if !c.state.Active {
		c.releaseLoopLocked()
	}
	return nil
}

// Current returns the persisted emergency record.
func (c *Controller) Current(ctx context.Context) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.syncLocked(ctx); err != nil {
		return c.state, err
	}
	return c.state, nil
}

// History returns recent transitions, oldest first.
func (c *Controller) History() []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.list()
}

// StreamExpected reports whether the primary stream should be running. It is
// false while the controller holds the stream down on fallback. The last known
// record is used when the store cannot be read.
func (c *Controller) StreamExpected(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.syncLocked(ctx); err != nil {
		logger := xglog.WithContext(ctx, c.logger)
		logger.Debug().Err(err).
			Str(xglog.FieldEvent, "emergency.sync_failed").
			Msg("using last known emergency record")
	}
	return !c.state.HoldsStreamDown()
}

// Activate enters emergency mode. A second call while an emergency is active
// returns the current state unchanged.
func (c *Controller) Activate(ctx context.Context, reason string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	logger := xglog.WithContext(ctx, c.logger)

	if err := c.syncLocked(ctx); err != nil {
		return c.state, err
	}
	if c.state.Active {
		logger.Info().
			Str(xglog.FieldEvent, "emergency.already_active").
			Str("phase", string(c.state.Phase)).
			Str("reason", reason).
			Msg("emergency already active")
		return c.state, nil
	}

	err := c.transitionLocked(ctx, PhaseAssessing, reason, func(s *State) {
		s.Active = true
		s.Reason = reason
		s.ActivatedAt = c.now().UTC()
		s.AutoRecoveryEnabled = c.cfg.AutoRecovery
		s.RecoveryAttemptCount = 0
		s.LastAttemptAt = time.Time{}
		s.Exhausted = false
	})
	if err != nil {
		return c.state, err
	}

	level := ClassifySeverity(c.serviceActive(ctx, c.cfg.StreamService), c.serviceActive(ctx, c.cfg.DisplayService))
	if err := c.transitionLocked(ctx, phaseForLevel(level), "classified "+level.String(), func(s *State) {
		s.Level = level
	}); err != nil {
		return c.state, err
	}

	if level == LevelLow {
		if c.tryLowLocked(ctx) {
			if err := c.transitionLocked(ctx, PhaseNormal, "display service restarted", func(s *State) {
				*s = normalState()
			}); err != nil {
				return c.state, err
			}
			c.resetTrackerLocked(ctx)
			return c.state, nil
		}
		if err := c.transitionLocked(ctx, PhaseMedium, "display restart did not recover", func(s *State) {
			s.Level = LevelMedium
		}); err != nil {
			return c.state, err
		}
	}

	return c.state, c.holdDownLocked(ctx, reason)
}

// tryLowLocked restarts the display service and reports whether both services
// came back active.
func (c *Controller) tryLowLocked(ctx context.Context) bool {
	logger := xglog.WithContext(ctx, c.logger)
	if err := c.deps.Services.Restart(ctx, c.cfg.DisplayService); err != nil {
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "emergency.display_restart_failed").
			Str("service", c.cfg.DisplayService).
			Msg("display service restart failed")
		return false
	}
	if err := c.sleep(ctx, c.cfg.LowGrace); err != nil {
		return false
	}
	return c.serviceActive(ctx, c.cfg.StreamService) && c.serviceActive(ctx, c.cfg.DisplayService)
}

// holdDownLocked puts the fallback on air, stops the stream service and hands
// over to the recovery loop when auto recovery is enabled.
func (c *Controller) holdDownLocked(ctx context.Context, reason string) error {
	logger := xglog.WithContext(ctx, c.logger)

	if err := c.deps.Stream.SwitchToFallback(ctx, reason); err != nil {
		logger.Error().Err(err).
			Str(xglog.FieldEvent, "emergency.fallback_failed").
			Msg("switch to fallback failed")
	}
	if err := c.deps.Services.Stop(ctx, c.cfg.StreamService); err != nil {
		logger.Error().Err(err).
			Str(xglog.FieldEvent, "emergency.stop_failed").
			Str("service", c.cfg.StreamService).
			Msg("stopping stream service failed")
	}

	if !c.state.AutoRecoveryEnabled || c.deps.Loop == nil {
		return nil
	}
	if err := c.transitionLocked(ctx, PhaseRecovering, "auto recovery", nil); err != nil {
		return err
	}
	c.startLoopLocked()
	return nil
}

func (c *Controller) serviceActive(ctx context.Context, name string) bool {
	st, err := c.deps.Services.Status(ctx, name)
	if err != nil {
		logger := xglog.WithContext(ctx, c.logger)
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "emergency.status_query_failed").
			Str("service", name).
			Msg("service status query failed")
		return false
	}
	return st == health.ServiceActive
}

// RecoverySucceeded switches back to live and clears the emergency. If the
// switch fails the emergency stays active and the error is returned.
func (c *Controller) RecoverySucceeded(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recoverySucceededLocked(ctx)
}

func (c *Controller) recoverySucceededLocked(ctx context.Context) error {
	if err := c.syncLocked(ctx); err != nil {
		return err
	}
	if c.state.Phase != PhaseRecovering {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.state.Phase, PhaseNormal)
	}
	if err := c.deps.Stream.SwitchToLive(ctx); err != nil {
		return fmt.Errorf("switch to live: %w", err)
	}
	if err := c.transitionLocked(ctx, PhaseNormal, "recovery succeeded", func(s *State) {
		*s = normalState()
	}); err != nil {
		return err
	}
	c.releaseLoopLocked()
	c.resetTrackerLocked(ctx)
	return nil
}

// RecordAttempt persists the number of the attempt the loop is starting.
func (c *Controller) RecordAttempt(ctx context.Context, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordAttemptLocked(ctx, n)
}

func (c *Controller) recordAttemptLocked(ctx context.Context, n int) error {
	if err := c.syncLocked(ctx); err != nil {
		return err
	}
	if !c.state.Active {
		return fmt.Errorf("%w: no active emergency", ErrIllegalTransition)
	}
	next := c.state
	next.RecoveryAttemptCount = n
	next.LastAttemptAt = c.now().UTC()
	if err := c.persist(ctx, next); err != nil {
		return err
	}
	c.state = next
	logger := xglog.WithContext(ctx, c.logger)
	logger.Info().
		Str(xglog.FieldEvent, "emergency.recovery_attempt").
		Int("attempt", n).
		Msg("recovery attempt")
	return nil
}

// RecoveryExhausted marks the emergency as exhausted. The emergency stays
// active until it is cleared manually.
func (c *Controller) RecoveryExhausted(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recoveryExhaustedLocked(ctx)
}

func (c *Controller) recoveryExhaustedLocked(ctx context.Context) error {
	if err := c.syncLocked(ctx); err != nil {
		return err
	}
	if !c.state.Active {
		return fmt.Errorf("%w: no active emergency", ErrIllegalTransition)
	}
	next := c.state
	next.Exhausted = true
	if err := c.persist(ctx, next); err != nil {
		return err
	}
	c.state = next
	c.releaseLoopLocked()
	logger := xglog.WithContext(ctx, c.logger)
	logger.Error().
		Str(xglog.FieldEvent, "emergency.recovery_exhausted").
		Int("attempts", next.RecoveryAttemptCount).
		Msg("automatic recovery exhausted, manual intervention required")
	c.notify(ctx, collab.Notification{
		Event:    "emergency.recovery_exhausted",
		Message:  fmt.Sprintf("automatic recovery gave up after %d attempts", next.RecoveryAttemptCount),
		Severity: collab.SeverityCritical,
		Fields:   map[string]string{"reason": next.Reason},
		At:       c.now(),
	})
	return nil
}

// Clear ends the emergency on operator request. A running recovery loop is
// cancelled and waited for first. Clearing an inactive emergency only resets
// the stored record and the failure counter.
func (c *Controller) Clear(ctx context.Context, by string) (State, error) {
	c.stopLoop()

	c.mu.Lock()
	defer c.mu.Unlock()
	logger := xglog.WithContext(ctx, c.logger)

	if err := c.syncLocked(ctx); err != nil {
		return c.state, err
	}
	if !c.state.Active {
		if err := c.persist(ctx, normalState()); err != nil {
			return c.state, err
		}
		c.resetTrackerLocked(ctx)
		return c.state, nil
	}

	if err := c.deps.Stream.SwitchToLive(ctx); err != nil {
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "emergency.switch_live_failed").
			Msg("switch to live failed during clear")
	}
	// A cleared emergency may sit in any phase, so the table is bypassed.
	if err := c.forceLocked(ctx, PhaseNormal, "cleared by "+by); err != nil {
		return c.state, err
	}
	c.resetTrackerLocked(ctx)
	return c.state, nil
}

// Resume restarts the recovery loop for a persisted emergency that still has
// automatic recovery pending. A record left in Assessing or Low by a crash is
// discarded; the evaluator escalates again if the fault persists.
func (c *Controller) Resume(ctx context.Context) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	logger := xglog.WithContext(ctx, c.logger)

	if err := c.loadLocked(ctx); err != nil {
		return c.state, err
	}
	st := c.state
	if !st.Active {
		return st, nil
	}
	switch st.Phase {
	case PhaseAssessing, PhaseLow:
		logger.Warn().
			Str(xglog.FieldEvent, "emergency.stale_discarded").
			Str("phase", string(st.Phase)).
			Msg("discarding interrupted activation")
		if err := c.forceLocked(ctx, PhaseNormal, "interrupted activation discarded"); err != nil {
			return c.state, err
		}
		return c.state, nil
	}
	if !st.AutoRecoveryEnabled || st.Exhausted || c.deps.Loop == nil {
		logger.Info().
			Str(xglog.FieldEvent, "emergency.resume_idle").
			Str("phase", string(st.Phase)).
			Bool("exhausted", st.Exhausted).
			Msg("emergency active, waiting for manual clear")
		return st, nil
	}
	if st.Phase != PhaseRecovering {
		if err := c.transitionLocked(ctx, PhaseRecovering, "resumed after restart", nil); err != nil {
			return c.state, err
		}
	}
	logger.Info().
		Str(xglog.FieldEvent, "emergency.resumed").
		Int("attempts", c.state.RecoveryAttemptCount).
		Msg("resuming automatic recovery")
	c.startLoopLocked()
	return c.state, nil
}

// Close cancels a running recovery loop and waits for it and for queued
// notifications.
func (c *Controller) Close() {
	c.stopLoop()
	c.loops.Wait()
	c.waitNotified()
}

// LoopRunning reports whether a recovery loop is in flight.
func (c *Controller) LoopRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loopCancel != nil
}

func (c *Controller) startLoopLocked() {
	if c.loopCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.loopGen++
	gen := c.loopGen
	done := make(chan struct{})
	c.loopCancel, c.loopDone = cancel, done

	c.loops.Add(1)
	go func() {
		defer c.loops.Done()
		defer close(done)
		defer c.loopFinished(gen)
		c.deps.Loop.Run(ctx, &loopReporter{c: c, gen: gen})
	}()
}

func (c *Controller) loopFinished(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loopGen == gen {
		c.releaseLoopLocked()
	}
}

// releaseLoopLocked detaches the current loop run once it has reported its
// final outcome. The run may still be returning; its generation no longer
// matches, so a new emergency can start a fresh loop right away.
func (c *Controller) releaseLoopLocked() {
	if c.loopCancel == nil {
		return
	}
	c.loopCancel()
	c.loopGen++
	c.loopCancel, c.loopDone = nil, nil
}

func (c *Controller) stopLoop() {
	c.mu.Lock()
	cancel, done := c.loopCancel, c.loopDone
	c.loopGen++
	c.loopCancel, c.loopDone = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// loopReporter ties reports to one loop run; reports from a superseded run are
// rejected.
type loopReporter struct {
	c   *Controller
	gen uint64
}

func (r *loopReporter) lock() error {
	r.c.mu.Lock()
	if r.c.loopGen != r.gen {
		r.c.mu.Unlock()
		return ErrLoopSuperseded
	}
	return nil
}

func (r *loopReporter) RecordAttempt(ctx context.Context, n int) error {
	if err := r.lock(); err != nil {
		return err
	}
	defer r.c.mu.Unlock()
	return r.c.recordAttemptLocked(ctx, n)
}

func (r *loopReporter) RecoverySucceeded(ctx context.Context) error {
	if err := r.lock(); err != nil {
		return err
	}
	defer r.c.mu.Unlock()
	return r.c.recoverySucceededLocked(ctx)
}

func (r *loopReporter) RecoveryExhausted(ctx context.Context) error {
	if err := r.lock(); err != nil {
		return err
	}
	defer r.c.mu.Unlock()
	return r.c.recoveryExhaustedLocked(ctx)
}

// transitionLocked validates from → to, applies mutate, persists and then logs
// and notifies. Nothing changes in memory if persisting fails.
func (c *Controller) transitionLocked(ctx context.Context, to Phase, reason string, mutate func(*State)) error {
	if err := checkTransition(c.state.Phase, to); err != nil {
		return err
	}
	return c.applyLocked(ctx, to, reason, mutate)
}

func (c *Controller) forceLocked(ctx context.Context, to Phase, reason string) error {
	return c.applyLocked(ctx, to, reason, func(s *State) { *s = normalState() })
}

func (c *Controller) applyLocked(ctx context.Context, to Phase, reason string, mutate func(*State)) error {
	from := c.state.Phase
	next := c.state
	if mutate != nil {
		mutate(&next)
	}
	next.Phase = to
	if err := c.persist(ctx, next); err != nil {
		return err
	}
	c.state = next

	t := Transition{From: from, To: to, Level: next.Level, Reason: reason, At: c.now().UTC()}
	c.history.add(t)
	metrics.RecordTransition(string(from), string(to))
	metrics.SetEmergencyPhase(string(to))

	logger := xglog.WithContext(ctx, c.logger)
	logger.Info().
		Str(xglog.FieldEvent, "emergency.transition").
		Str("from", string(from)).
		Str("to", string(to)).
		Str("level", next.Level.String()).
		Str("reason", reason).
		Msg("emergency phase changed")

	c.notify(ctx, collab.Notification{
		Event:    "emergency." + string(to),
		Message:  fmt.Sprintf("emergency %s -> %s: %s", from, to, reason),
		Severity: severityFor(to),
		Fields: map[string]string{
			"from":  string(from),
			"to":    string(to),
			"level": next.Level.String(),
		},
		At: t.At,
	})
	return nil
}

// notify queues n for delivery outside of mu. One delivery goroutine runs
// while the queue is non-empty.
func (c *Controller) notify(ctx context.Context, n collab.Notification) {
	if c.deps.Notifier == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if len(c.notifyQueue) >= notifyQueueLimit {
		logger := xglog.WithContext(ctx, c.logger)
		logger.Warn().
			Str(xglog.FieldEvent, "emergency.notification_dropped").
			Str("notification", n.Event).
			Msg("notification queue full")
		return
	}
	c.notifyQueue = append(c.notifyQueue, queuedNotification{ctx: context.WithoutCancel(ctx), n: n})
	if c.notifyDone != nil {
		return
	}
	done := make(chan struct{})
	c.notifyDone = done
	go c.deliver(done)
}

func (c *Controller) deliver(done chan struct{}) {
	defer close(done)
	for {
		c.notifyMu.Lock()
		if len(c.notifyQueue) == 0 {
			c.notifyDone = nil
			c.notifyMu.Unlock()
			return
		}
		q := c.notifyQueue[0]
		c.notifyQueue = c.notifyQueue[1:]
		c.notifyMu.Unlock()
		collab.Notify(q.ctx, c.deps.Notifier, q.n)
	}
}

// waitNotified blocks until the notification queue is empty.
func (c *Controller) waitNotified() {
	c.notifyMu.Lock()
	done := c.notifyDone
	c.notifyMu.Unlock()
	if done != nil {
		<-done
	}
}

func severityFor(p Phase) collab.Severity {
	switch p {
	case PhaseNormal:
		return collab.SeverityInfo
	case PhaseAssessing, PhaseLow, PhaseRecovering:
		return collab.SeverityWarning
	default:
		return collab.SeverityCritical
	}
}

// persist writes st, or deletes the record when st is inactive.
func (c *Controller) persist(ctx context.Context, st State) error {
	if !st.Active {
		return c.deps.Store.Delete(ctx, KeyState)
	}
	return store.PutJSON(ctx, c.deps.Store, KeyState, st)
}

func (c *Controller) resetTrackerLocked(ctx context.Context) {
	if c.deps.Tracker == nil {
		return
	}
	if err := c.deps.Tracker.Reset(ctx); err != nil {
		logger := xglog.WithContext(ctx, c.logger)
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "emergency.tracker_reset_failed").
			Msg("failure counter reset failed")
	}
}
