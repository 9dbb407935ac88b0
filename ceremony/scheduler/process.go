package scheduler

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zkmpc/ceremonyd/ceremony/queue"
	"github.com/zkmpc/ceremonyd/ceremony/types"
	"github.com/zkmpc/ceremonyd/db"
	"github.com/zkmpc/ceremonyd/db/iface"
	"github.com/zkmpc/ceremonyd/time/clock"
)

// handleParticipantChange coordinates one observed participant transition
// with the target circuit's queue. Conflicting writes are retried a bounded
// number of times; classification re-runs against fresh documents on every
// attempt, so a retry after the world moved on becomes a no-op.
func (s *Service) handleParticipantChange(ctx context.Context, change iface.ParticipantChange) {
	for attempt := 0; attempt < retryLimit(); attempt++ {
		err := s.processParticipantChange(ctx, change)
		if err == nil {
			return
		}
		if !errors.Is(err, db.ErrConflict) {
			log.WithError(err).WithField("uid", changeUID(change)).Error("Could not process participant change")
			return
		}
		queueConflicts.Inc()
	}
	// The feed redelivers on the next material change, so dropping here
	// cannot wedge the queue.
	log.WithField("uid", changeUID(change)).Error("Dropping participant change after repeated write conflicts")
}

func changeUID(change iface.ParticipantChange) string {
	if change.After != nil {
		return change.After.UserID
	}
	return ""
}

func (s *Service) processParticipantChange(ctx context.Context, change iface.ParticipantChange) error {
	prev, cur := change.Before, change.After
	if cur == nil {
		return nil
	}
	if prev != nil && prev.Status == cur.Status && prev.Step == cur.Step && prev.Progress == cur.Progress {
		return nil
	}

	switch {
	case isAdmission(prev, cur):
		return s.applyAdmission(ctx, change.CeremonyID, cur)
	case isCompletion(prev, cur):
		return s.applyCompletion(ctx, change.CeremonyID, cur, completionPosition(prev, cur))
	default:
		return nil
	}
}

// isAdmission matches a participant that became READY for a circuit: a first
// admission, a timeout resume on the same circuit, or an advance to the next
// circuit after contributing.
func isAdmission(prev, cur *types.Participant) bool {
	if prev == nil || cur.Status != types.StatusReady {
		return false
	}
	switch {
	case prev.Progress == 0:
		return true
	case prev.Progress == cur.Progress:
		return true
	case cur.Progress == prev.Progress+1 && cur.Progress != 1:
		return true
	default:
		return false
	}
}

// isCompletion matches a verified contribution outcome: the refresh handler
// moved the participant from CONTRIBUTING/VERIFYING to CONTRIBUTED/COMPLETED
// on the same circuit, or straight to DONE on the last one.
func isCompletion(prev, cur *types.Participant) bool {
	if prev == nil {
		return false
	}
	if cur.Status == types.StatusDone && prev.Status != types.StatusDone {
		return true
	}
	return prev.Status == types.StatusContributing &&
		prev.Step == types.StepVerifying &&
		cur.Status == types.StatusContributed &&
		cur.Step == types.StepCompleted &&
		prev.Progress == cur.Progress
}

func completionPosition(prev, cur *types.Participant) int {
	if prev.Progress > 0 {
		return prev.Progress
	}
	return cur.Progress
}

func (s *Service) applyAdmission(ctx context.Context, ceremonyID string, cur *types.Participant) error {
	// The event may be stale; only the current document state is acted on.
	participant, err := s.cfg.Database.Participant(ctx, ceremonyID, cur.UserID)
	if err != nil {
		return err
	}
	if participant == nil || participant.Status != types.StatusReady || participant.Progress != cur.Progress {
		log.WithField("uid", cur.UserID).Debug("Skipping stale admission event")
		return nil
	}
	circuit, err := s.cfg.Database.CircuitAtPosition(ctx, ceremonyID, cur.Progress)
	if err != nil {
		return err
	}
	if circuit == nil {
		log.WithFields(logrus.Fields{
			"ceremony": ceremonyID, "position": cur.Progress,
		}).Debug("No circuit at admission position, skipping")
		return nil
	}

	now := clock.Millis(s.cfg.Clock.Now())
	var newQueue types.WaitingQueue
	var intents []queue.Intent
	if circuit.WaitingQueue.CurrentContributor == cur.UserID {
		newQueue, intents = queue.ResumeAfterTimeout(circuit.WaitingQueue, cur.UserID, now)
	} else {
		newQueue, intents = queue.Enroll(circuit.WaitingQueue, cur.UserID, now)
	}
	if len(intents) == 0 {
		return nil
	}
	return s.commitQueueUpdate(ctx, ceremonyID, circuit, newQueue, participant, intents)
}

func (s *Service) applyCompletion(ctx context.Context, ceremonyID string, cur *types.Participant, position int) error {
	circuit, err := s.cfg.Database.CircuitAtPosition(ctx, ceremonyID, position)
	if err != nil {
		return err
	}
	if circuit == nil {
		log.WithFields(logrus.Fields{
			"ceremony": ceremonyID, "position": position,
		}).Debug("No circuit at completion position, skipping")
		return nil
	}
	// A redelivered completion finds the head already replaced.
	if circuit.WaitingQueue.CurrentContributor != cur.UserID {
		return nil
	}
	now := clock.Millis(s.cfg.Clock.Now())
	newQueue, intents := queue.CompleteHead(circuit.WaitingQueue, now)
	return s.commitQueueUpdate(ctx, ceremonyID, circuit, newQueue, nil, intents)
}

// commitQueueUpdate writes the transformed queue and every participant
// intent it produced in one conditionally guarded batch.
func (s *Service) commitQueueUpdate(
	ctx context.Context,
	ceremonyID string,
	circuit *types.Circuit,
	newQueue types.WaitingQueue,
	trigger *types.Participant,
	intents []queue.Intent,
) error {
	batch := s.cfg.Database.NewBatch()
	updated := *circuit
	updated.WaitingQueue = newQueue
	batch.SaveCircuitGuarded(&updated, circuit.LastUpdated)

	for _, intent := range intents {
		var p *types.Participant
		if trigger != nil && intent.UserID == trigger.UserID {
			p = trigger
		} else {
			loaded, err := s.cfg.Database.Participant(ctx, ceremonyID, intent.UserID)
			if err != nil {
				return err
			}
			if loaded == nil {
				log.WithField("uid", intent.UserID).Error("Queued participant document missing, skipping intent")
				continue
			}
			p = loaded
		}
		expect := p.LastUpdated
		applyIntent(p, intent)
		batch.SaveParticipantGuarded(p, expect)
	}
	if err := s.cfg.Database.ApplyBatch(ctx, batch); err != nil {
		return err
	}
	promotionsTotal.Add(float64(countPromotions(intents)))
	return nil
}

func applyIntent(p *types.Participant, intent queue.Intent) {
	if intent.Status != "" {
		p.Status = intent.Status
	}
	if intent.Step != "" {
		p.Step = intent.Step
	}
	if intent.ContributionStartedAt != 0 {
		p.ContributionStartedAt = intent.ContributionStartedAt
		p.VerificationStartedAt = 0
	}
}

func countPromotions(intents []queue.Intent) int {
	n := 0
	for _, intent := range intents {
		if intent.Status == types.StatusContributing {
			n++
		}
	}
	return n
}
