// Package sweeper evicts current contributors that blocked their circuit: a
// missed contribution deadline or an overrun verification frees the head slot
// and opens a penalty window during which the evicted participant cannot be
// readmitted.
package sweeper

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zkmpc/ceremonyd/async"
	"github.com/zkmpc/ceremonyd/ceremony/types"
	"github.com/zkmpc/ceremonyd/db"
	"github.com/zkmpc/ceremonyd/params"
	"github.com/zkmpc/ceremonyd/time/clock"
)

var log = logrus.WithField("prefix", "sweeper")

// ServiceConfig holds the sweeper's dependencies.
type ServiceConfig struct {
	Database db.Database
	Clock    clock.Clock
}

// Service periodically sweeps every open ceremony for blocked circuits.
type Service struct {
	cfg    *ServiceConfig
	ctx    context.Context
	cancel context.CancelFunc
}

// New instantiates the sweeper from configuration values.
func New(ctx context.Context, cfg *ServiceConfig) *Service {
	ctx, cancel := context.WithCancel(ctx)
	return &Service{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Start the periodic sweep.
func (s *Service) Start() {
	async.RunEvery(s.ctx, params.CoordinatorConfig().SweepInterval, func() {
		if err := s.Sweep(s.ctx); err != nil {
			log.WithError(err).Error("Timeout sweep failed")
		}
	})
}

// Stop the sweeper service.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status of the sweeper service.
func (s *Service) Status() error {
	return nil
}

// Sweep checks every open ceremony still inside its calendar concurrently
// and evicts contributors past their deadline. A ceremony past its end date
// is left alone; the lifecycle cron closes it. Errors from individual
// ceremonies abort the whole pass.
func (s *Service) Sweep(ctx context.Context) error {
	ceremonies, err := s.cfg.Database.CeremoniesInState(ctx, types.CeremonyOpened)
	if err != nil {
		return err
	}
	now := clock.Millis(s.cfg.Clock.Now())
	g, gctx := errgroup.WithContext(ctx)
	for _, ceremony := range ceremonies {
		if ceremony.EndDate < now {
			continue
		}
		ceremony := ceremony
		g.Go(func() error {
			return s.sweepCeremony(gctx, ceremony)
		})
	}
	return g.Wait()
}
