package sweeper

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	"github.com/zkmpc/ceremonyd/ceremony/queue"
	"github.com/zkmpc/ceremonyd/ceremony/types"
	"github.com/zkmpc/ceremonyd/params"
	"github.com/zkmpc/ceremonyd/time/clock"
)

const msPerMinute = 60_000

func (s *Service) sweepCeremony(ctx context.Context, ceremony *types.Ceremony) error {
	ctx, span := trace.StartSpan(ctx, "sweeper.sweepCeremony")
	defer span.End()

	circuits, err := s.cfg.Database.Circuits(ctx, ceremony.ID)
	if err != nil {
		return err
	}
	now := clock.Millis(s.cfg.Clock.Now())
	for _, circuit := range circuits {
		uid := circuit.WaitingQueue.CurrentContributor
		if uid == "" {
			continue
		}
		head, err := s.cfg.Database.Participant(ctx, ceremony.ID, uid)
		if err != nil {
			return err
		}
		if head == nil || head.Status != types.StatusContributing {
			continue
		}
		timeoutType, expired := deadlineExpired(ceremony, circuit, head, now)
		if !expired {
			continue
		}
		if err := s.evict(ctx, ceremony, circuit, head, timeoutType, now); err != nil {
			// Conflicts and transient failures resolve on the next pass.
			log.WithError(err).WithFields(logrus.Fields{
				"circuit": circuit.ID,
				"uid":     uid,
			}).Warn("Could not evict blocked contributor")
		}
	}
	return nil
}

// deadlineExpired decides whether the circuit's head blocked it. A verification
// overrun forces eviction regardless of the ceremony's timeout mechanism;
// contribution deadlines follow the configured mechanism, with the first
// contributor of a DYNAMIC circuit immune since no average exists yet.
func deadlineExpired(ceremony *types.Ceremony, circuit *types.Circuit, head *types.Participant, now int64) (types.TimeoutType, bool) {
	if head.Step == types.StepVerifying {
		deadline := head.VerificationStartedAt + params.CoordinatorConfig().VerificationDeadline.Milliseconds()
		return types.TimeoutBlockingVerification, head.VerificationStartedAt > 0 && now > deadline
	}

	switch ceremony.TimeoutType {
	case types.TimeoutFixed:
		deadline := head.ContributionStartedAt + circuit.Timeouts.FixedTimeWindow*msPerMinute
		return types.TimeoutBlockingContribution, now > deadline
	case types.TimeoutDynamic:
		if circuit.WaitingQueue.CompletedContributions == 0 {
			return types.TimeoutBlockingContribution, false
		}
		window := circuit.AvgTimings.FullContribution * (100 + circuit.Timeouts.DynamicThreshold) / 100
		return types.TimeoutBlockingContribution, now > head.ContributionStartedAt+window
	default:
		return types.TimeoutBlockingContribution, false
	}
}

// evict removes the head, opens its penalty window and promotes the next
// waiter in one atomic batch so a crash never leaves a half-evicted queue.
func (s *Service) evict(
	ctx context.Context,
	ceremony *types.Ceremony,
	circuit *types.Circuit,
	head *types.Participant,
	timeoutType types.TimeoutType,
	now int64,
) error {
	newQueue, intents := queue.EvictHead(circuit.WaitingQueue, false, now)

	batch := s.cfg.Database.NewBatch()
	updated := *circuit
	updated.WaitingQueue = newQueue
	batch.SaveCircuitGuarded(&updated, circuit.LastUpdated)

	evicted := *head
	evicted.Status = types.StatusTimedout
	evicted.TempData = types.TempContributionData{}
	if i := evicted.PendingContribution(); i >= 0 {
		evicted.Contributions = append(
			append([]types.ContributionRef(nil), evicted.Contributions[:i]...),
			evicted.Contributions[i+1:]...)
	}
	batch.SaveParticipantGuarded(&evicted, head.LastUpdated)

	batch.SaveTimeout(&types.Timeout{
		ID:            uuid.NewString(),
		CeremonyID:    ceremony.ID,
		ParticipantID: head.UserID,
		Type:          timeoutType,
		StartDate:     now,
		EndDate:       now + ceremony.Penalty*msPerMinute,
	})

	for _, intent := range intents {
		promoted, err := s.cfg.Database.Participant(ctx, ceremony.ID, intent.UserID)
		if err != nil {
			return err
		}
		if promoted == nil {
			log.WithField("uid", intent.UserID).Error("Queued participant document missing, skipping intent")
			continue
		}
		expect := promoted.LastUpdated
		promoted.Status = intent.Status
		promoted.Step = intent.Step
		promoted.ContributionStartedAt = intent.ContributionStartedAt
		promoted.VerificationStartedAt = 0
		batch.SaveParticipantGuarded(promoted, expect)
	}

	if err := s.cfg.Database.ApplyBatch(ctx, batch); err != nil {
		return err
	}
	evictionsTotal.WithLabelValues(string(timeoutType)).Inc()
	log.WithFields(logrus.Fields{
		"ceremony": ceremony.ID,
		"circuit":  circuit.ID,
		"uid":      head.UserID,
		"type":     timeoutType,
	}).Info("Evicted blocked contributor")
	return nil
}
