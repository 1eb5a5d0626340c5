package main

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/roostd/roost/internal/breaker"
	"github.com/roostd/roost/internal/catalog"
	"github.com/roostd/roost/internal/config"
	"github.com/roostd/roost/internal/dispatch"
	"github.com/roostd/roost/internal/driver"
	"github.com/roostd/roost/internal/gate"
	"github.com/roostd/roost/internal/geoip"
	"github.com/roostd/roost/internal/health"
	"github.com/roostd/roost/internal/proxypool"
	"github.com/roostd/roost/internal/registry"
	"github.com/roostd/roost/internal/requestlog"
)

// roostApp holds every wired component so teardown can walk them in order.
type roostApp struct {
	reg         *registry.Registry
	requestRepo *requestlog.Repo
	requestSvc  *requestlog.Service
	geoSvc      *geoip.Service
	cat         *catalog.Catalog
	maintenance *dispatch.Maintenance
}

func run(envCfg *config.EnvConfig, factory driver.Factory) error {
	runtimeCfg, err := config.LoadRuntimeConfig(filepath.Join(envCfg.DataDir, envCfg.RuntimeFile))
	if err != nil {
		return err
	}

	app, err := newRoostApp(envCfg, runtimeCfg, factory)
	if err != nil {
		return err
	}

	waitForShutdown()
	app.shutdown()
	return nil
}

func newRoostApp(envCfg *config.EnvConfig, runtimeCfg *config.RuntimeConfig, factory driver.Factory) (*roostApp, error) {
	app := &roostApp{}

	app.reg = registry.New(filepath.Join(envCfg.DataDir, envCfg.AccountsFile))
	if err := app.reg.Load(); err != nil {
		return nil, err
	}

	pool := proxypool.New(proxypool.Config{
		Path:    filepath.Join(envCfg.DataDir, envCfg.ProxiesFile),
		Spacing: runtimeCfg.ProxySpacing,
	})
	if err := pool.Load(); err != nil {
		return nil, err
	}

	tracker := health.NewTracker(health.Config{
		Window:           runtimeCfg.RateLimitWindow,
		WindowCapacity:   runtimeCfg.RequestsPerWindow,
		CooldownDuration: runtimeCfg.CooldownDuration,
		ErrorHistoryMax:  runtimeCfg.ErrorHistorySize,
		ResponseTimesMax: runtimeCfg.ResponseTimeWindow,
	})

	brk := breaker.New(breaker.Config{
		FailureThreshold: runtimeCfg.BreakerFailureThreshold,
		OpenDuration:     runtimeCfg.BreakerOpenDuration,
	})

	sessions := driver.NewManager(driver.ManagerConfig{
		Factory:      factory,
		LoginTimeout: runtimeCfg.LoginTimeout,
		OnCookies:    app.reg.SetCookies,
		OnLocked: func(username string) {
			if err := app.reg.MarkLocked(username); err != nil {
				log.Printf("[app] persist lock for %s: %v", username, err)
			}
			tracker.MarkLocked(username)
		},
	})

	app.requestRepo = requestlog.NewRepo(
		filepath.Join(envCfg.DataDir, envCfg.RequestLogDir),
		int64(envCfg.RequestLogDBMaxMB)*1024*1024,
		envCfg.RequestLogDBRetainCount,
	)
	if err := app.requestRepo.Open(); err != nil {
		return nil, err
	}
	app.requestSvc = requestlog.NewService(requestlog.ServiceConfig{
		Repo:          app.requestRepo,
		QueueSize:     envCfg.RequestLogQueueSize,
		FlushBatch:    envCfg.RequestLogFlushBatch,
		FlushInterval: envCfg.RequestLogFlushInterval,
	})
	app.requestSvc.Start()

	geoSvc, err := geoip.Open(envCfg.GeoIPDB)
	if err != nil {
		// Region annotation is best-effort; run without it.
		log.Printf("[app] geoip disabled: %v", err)
		geoSvc, _ = geoip.Open("")
	}
	app.geoSvc = geoSvc

	d := dispatch.New(dispatch.Config{
		Registry:    app.reg,
		Pool:        pool,
		Tracker:     tracker,
		Breaker:     brk,
		Gate:        gate.New(envCfg.GateCapacity, envCfg.GateAcquireMax),
		Sessions:    sessions,
		Runtime:     runtimeCfg,
		MaxAttempts: envCfg.DispatchRetries,
		Emit:        app.requestSvc.Emit,
		Region:      geoSvc.Lookup,
	})

	app.cat, err = catalog.New(catalog.Config{
		Dispatcher:   d,
		CacheEntries: envCfg.ResponseCacheEntries,
		CacheTTL:     envCfg.ResponseCacheTTL,
	})
	if err != nil {
		return nil, err
	}

	app.maintenance = dispatch.NewMaintenance(d)
	if err := app.maintenance.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance: %w", err)
	}

	log.Printf("[app] orchestrator up: %d accounts, %d proxies", app.reg.Size(), pool.Size())
	return app, nil
}

// shutdown stops background loops, drains the request log, and flushes the
// registry so in-memory cookie refreshes reach disk.
func (a *roostApp) shutdown() {
	a.maintenance.Stop()
	a.requestSvc.Stop()
	if err := a.requestRepo.Close(); err != nil {
		log.Printf("[app] close request log: %v", err)
	}
	if err := a.reg.Save(); err != nil {
		log.Printf("[app] final registry flush: %v", err)
	}
	if err := a.geoSvc.Close(); err != nil {
		log.Printf("[app] close geoip: %v", err)
	}
	a.cat.Close()
	log.Println("[app] shutdown complete")
}
