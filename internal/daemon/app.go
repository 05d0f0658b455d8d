// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/streamguard/internal/api"
	"github.com/ManuGH/streamguard/internal/config"
	"github.com/ManuGH/streamguard/internal/health"
	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/ManuGH/streamguard/internal/store"
	"github.com/rs/zerolog"
)

// App owns the long-lived runtime lifecycle: the emergency resume, the
// watchdog scheduler, the HTTP API and the config watcher.
type App struct {
	logger       zerolog.Logger
	comp         *Components
	cfgHolder    *config.ConfigHolder
	apiServer    *api.Server
	health       *health.Manager
	reloadSignal os.Signal
	running      atomic.Bool
}

// NewApp creates the runtime for comp. holder may be nil when hot reload is
// not wanted.
func NewApp(comp *Components, holder *config.ConfigHolder) (*App, error) {
	if comp == nil {
		return nil, ErrMissingComponents
	}
	a := &App{
		logger:       xglog.WithComponent("daemon"),
		comp:         comp,
		cfgHolder:    holder,
		reloadSignal: syscall.SIGHUP,
	}

	cfg := comp.Config
	if cfg.API.Enabled {
		hm := health.NewManager(cfg.Version)
		a.health = hm
		hm.RegisterChecker(health.NewLastCycleChecker(comp.Scheduler.Last, 3*cfg.Watchdog.Interval))
		if cfg.Store.Backend == store.BackendSQLite {
			hm.RegisterChecker(health.NewFileChecker("state_store", cfg.Store.Path))
		}
		if v, ok := store.AsVerifier(comp.Store); ok {
			hm.RegisterChecker(health.NewVerifyChecker("state_store_integrity", v))
		}
		a.apiServer = api.New(api.Config{
			ListenAddr:  cfg.API.ListenAddr,
			Token:       cfg.API.Token,
			RateLimit:   cfg.API.RateLimit,
			ServiceName: cfg.Telemetry.ServiceName,
			Version:     cfg.Version,
		}, api.Deps{
			Health:    hm,
			Last:      comp.Scheduler.Last,
			Failures:  comp.Tracker,
			Emergency: comp.Emergency,
		})
	}
	return a, nil
}

// Run starts all subsystems and blocks until ctx is cancelled or one of them
// fails. The recovery loop is stopped before Run returns.
func (a *App) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer a.running.Store(false)
	defer a.comp.Emergency.Close()

	st, err := a.comp.Emergency.Resume(ctx)
	if err != nil {
		a.logger.Error().Err(err).
			Str(xglog.FieldEvent, "daemon.resume_failed").
			Msg("could not resume emergency state, continuing with normal operation")
	} else if st.Active {
		a.logger.Warn().
			Str(xglog.FieldEvent, "daemon.resumed_emergency").
			Str(xglog.FieldLevel, st.Level.String()).
			Str("phase", string(st.Phase)).
			Bool("loop_running", a.comp.Emergency.LoopRunning()).
			Msg("resumed persisted emergency")
	}

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup should not fail if watcher cannot be started.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		applyCh := make(chan config.Config, 1)
		a.cfgHolder.RegisterListener(applyCh)

		g.Go(func() error {
			defer a.cfgHolder.Wait()
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.comp.ApplyThresholds(cfg)
				}
			}
		})

		if a.reloadSignal != nil {
			g.Go(func() error {
				hupChan := make(chan os.Signal, 1)
				signal.Notify(hupChan, a.reloadSignal)
				defer signal.Stop(hupChan)

				for {
					select {
					case <-ctx.Done():
						return nil
					case <-hupChan:
						a.logger.Info().
							Str(xglog.FieldEvent, "config.reload_signal").
							Str("signal", a.reloadSignal.String()).
							Msg("received reload signal, reloading config")
						if err := a.cfgHolder.Reload(ctx); err != nil {
							a.logger.Warn().Err(err).
								Str(xglog.FieldEvent, "config.reload_failed").
								Msg("config reload failed")
						}
					}
				}
			})
		}
	}

	if a.apiServer != nil {
		g.Go(func() error {
			return a.apiServer.ListenAndServe(ctx)
		})
	}

	g.Go(func() error {
		return a.comp.Scheduler.Run(ctx)
	})

	a.logger.Info().
		Str(xglog.FieldEvent, "daemon.started").
		Dur("interval", a.comp.Scheduler.Interval()).
		Bool("api", a.apiServer != nil).
		Msg("streamguard running")

	err = g.Wait()
	a.logger.Info().Str(xglog.FieldEvent, "daemon.stopped").Msg("streamguard stopped")
	return err
}
