// Package scheduler reacts to participant document changes: it enrolls
// admitted participants into circuit queues, promotes waiters when the head
// completes, and links freshly created contribution records back to their
// participants. It is the only writer that touches a circuit queue and the
// coordinated participants in the same batch.
package scheduler

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/zkmpc/ceremonyd/db"
	"github.com/zkmpc/ceremonyd/db/iface"
	"github.com/zkmpc/ceremonyd/params"
	"github.com/zkmpc/ceremonyd/time/clock"
)

var log = logrus.WithField("prefix", "scheduler")

// ServiceConfig holds the scheduler's dependencies.
type ServiceConfig struct {
	Database db.Database
	Clock    clock.Clock
}

// Service consumes the participant and contribution feeds and keeps circuit
// queues coordinated with participant state.
type Service struct {
	cfg              *ServiceConfig
	ctx              context.Context
	cancel           context.CancelFunc
	participantsChan chan iface.ParticipantChange
	contributionChan chan iface.ContributionCreated
}

// New instantiates the scheduler from configuration values.
func New(ctx context.Context, cfg *ServiceConfig) *Service {
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		cfg:              cfg,
		ctx:              ctx,
		cancel:           cancel,
		participantsChan: make(chan iface.ParticipantChange, 64),
		contributionChan: make(chan iface.ContributionCreated, 16),
	}
}

// Start listening for document changes.
func (s *Service) Start() {
	go s.receiveContributions(s.ctx)
	go s.receiveParticipantChanges(s.ctx)
}

// Stop the scheduler service.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status of the scheduler service.
func (s *Service) Status() error {
	return nil
}

func (s *Service) receiveParticipantChanges(ctx context.Context) {
	sub := s.cfg.Database.SubscribeParticipantChanges(s.participantsChan)
	defer sub.Unsubscribe()
	for {
		select {
		case change := <-s.participantsChan:
			s.handleParticipantChange(ctx, change)
		case err := <-sub.Err():
			log.WithError(err).Debug("Subscriber closed with error")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) receiveContributions(ctx context.Context) {
	sub := s.cfg.Database.SubscribeContributions(s.contributionChan)
	defer sub.Unsubscribe()
	for {
		select {
		case ev := <-s.contributionChan:
			s.handleContributionCreated(ctx, ev)
		case err := <-sub.Err():
			log.WithError(err).Debug("Subscriber closed with error")
			return
		case <-ctx.Done():
			return
		}
	}
}

func retryLimit() int {
	if n := params.CoordinatorConfig().SchedulerRetries; n > 0 {
		return n
	}
	return 1
}
