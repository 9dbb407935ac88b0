// Package lifecycle advances ceremonies along their calendar: scheduled
// ceremonies open once their start date passes and open ceremonies close once
// their end date does. It also takes the daily database snapshot.
package lifecycle

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/zkmpc/ceremonyd/async"
	"github.com/zkmpc/ceremonyd/ceremony/types"
	"github.com/zkmpc/ceremonyd/db"
	"github.com/zkmpc/ceremonyd/params"
	"github.com/zkmpc/ceremonyd/time/clock"
)

var log = logrus.WithField("prefix", "lifecycle")

// ServiceConfig holds the lifecycle service's dependencies.
type ServiceConfig struct {
	Database db.Database
	Clock    clock.Clock
}

// Service drives scheduled ceremony transitions and periodic snapshots.
type Service struct {
	cfg    *ServiceConfig
	ctx    context.Context
	cancel context.CancelFunc
}

// New instantiates the lifecycle service from configuration values.
func New(ctx context.Context, cfg *ServiceConfig) *Service {
	ctx, cancel := context.WithCancel(ctx)
	return &Service{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Start the periodic state checks and snapshots.
func (s *Service) Start() {
	cfg := params.CoordinatorConfig()
	async.RunEvery(s.ctx, cfg.LifecycleInterval, func() {
		if err := s.Advance(s.ctx); err != nil {
			log.WithError(err).Error("Ceremony lifecycle pass failed")
		}
	})
	async.RunEvery(s.ctx, cfg.SnapshotInterval, func() {
		if err := s.cfg.Database.Backup(s.ctx, ""); err != nil {
			log.WithError(err).Error("Database snapshot failed")
		}
	})
}

// Stop the lifecycle service.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status of the lifecycle service.
func (s *Service) Status() error {
	return nil
}

// Advance opens every scheduled ceremony whose start date passed and closes
// every open ceremony whose end date did. State only ever moves forward.
func (s *Service) Advance(ctx context.Context) error {
	now := clock.Millis(s.cfg.Clock.Now())

	scheduled, err := s.cfg.Database.CeremoniesInState(ctx, types.CeremonyScheduled)
	if err != nil {
		return err
	}
	for _, ceremony := range scheduled {
		if ceremony.StartDate > now {
			continue
		}
		if err := s.transition(ctx, ceremony, types.CeremonyOpened); err != nil {
			return err
		}
	}

	opened, err := s.cfg.Database.CeremoniesInState(ctx, types.CeremonyOpened)
	if err != nil {
		return err
	}
	for _, ceremony := range opened {
		if ceremony.EndDate > now {
			continue
		}
		if err := s.transition(ctx, ceremony, types.CeremonyClosed); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) transition(ctx context.Context, ceremony *types.Ceremony, state types.CeremonyState) error {
	updated := *ceremony
	updated.State = state
	batch := s.cfg.Database.NewBatch()
	batch.SaveCeremony(&updated)
	if err := s.cfg.Database.ApplyBatch(ctx, batch); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"ceremony": ceremony.ID,
		"state":    state,
	}).Info("Ceremony state advanced")
	return nil
}
