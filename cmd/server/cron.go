package main

import (
	"context"
	"fmt"
	"time"

	"gembalance/internal/config"
	"gembalance/internal/healthcheck"
	"gembalance/internal/keypool"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// startHealthSweep schedules the periodic reactivation sweep. Overlapping
// runs are skipped so a slow sweep never stacks. The returned stop function
// waits for an in-flight sweep to finish.
func startHealthSweep(ctx context.Context, cfg *config.Config, provider *keypool.Provider, checker *healthcheck.Checker) func() {
	interval := time.Duration(cfg.HealthCheck.IntervalSec) * time.Second
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	spec := fmt.Sprintf("@every %s", interval)
	_, err := c.AddFunc(spec, func() {
		runSweep(ctx, provider, checker)
	})
	if err != nil {
		log.WithError(err).Error("failed to register health sweep job")
		return func() {}
	}

	c.Start()
	log.Infof("Health sweep scheduled: %s", spec)

	return func() {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(30 * time.Second):
			log.Warn("health sweep did not stop in time")
		}
	}
}

func runSweep(ctx context.Context, provider *keypool.Provider, checker *healthcheck.Checker) {
	if ctx.Err() != nil {
		return
	}
	pool, err := provider.Get(ctx)
	if err != nil {
		log.WithError(err).Warn("health sweep: pool unavailable")
		return
	}

	start := time.Now()
	recovered := pool.ReactivateUnhealthy(ctx, checker)
	if recovered > 0 {
		log.WithFields(log.Fields{
			"recovered":  recovered,
			"elapsed_ms": time.Since(start).Milliseconds(),
		}).Info("health sweep recovered keys")
	} else {
		log.WithField("elapsed_ms", time.Since(start).Milliseconds()).Debug("health sweep completed")
	}
}
