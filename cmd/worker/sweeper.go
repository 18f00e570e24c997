package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brystrange/reserveflow/internal/orders"
	"github.com/brystrange/reserveflow/internal/reservations"
)

// Sweep cadences in local mode. Expiry is checked on a tight loop so a lapsed
// reservation releases stock within seconds; the other sweeps are coarser.
const (
	expiryInterval     = 2 * time.Second
	warningInterval    = 30 * time.Second
	autoCancelInterval = 5 * time.Minute
)

// Sweeper runs the background passes over reservations and orders.
type Sweeper struct {
	engine  *reservations.Engine
	manager *orders.Manager
}

// RunOnce performs one pass of every sweep. This is the scheduled-Lambda
// entrypoint: one invocation, one pass.
func (s *Sweeper) RunOnce(ctx context.Context) {
	s.engine.SweepExpired(ctx)
	s.engine.SweepWarnings(ctx)
	s.manager.SweepAutoCancel(ctx)
}

// RunLocal runs the sweeps on tickers until SIGINT/SIGTERM.
func (s *Sweeper) RunLocal(ctx context.Context) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	expiry := time.NewTicker(expiryInterval)
	defer expiry.Stop()
	warning := time.NewTicker(warningInterval)
	defer warning.Stop()
	autoCancel := time.NewTicker(autoCancelInterval)
	defer autoCancel.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-expiry.C:
			s.engine.SweepExpired(ctx)
		case <-warning.C:
			s.engine.SweepWarnings(ctx)
		case <-autoCancel.C:
			s.manager.SweepAutoCancel(ctx)
		}
	}
}
