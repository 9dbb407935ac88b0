package scheduler

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zkmpc/ceremonyd/ceremony/types"
	"github.com/zkmpc/ceremonyd/db"
	"github.com/zkmpc/ceremonyd/db/iface"
)

// handleContributionCreated links a freshly committed contribution document
// back onto its participant and advances the participant past the verified
// circuit. This is what turns a VERIFYING participant into CONTRIBUTED (or
// DONE on the last circuit), which the participant feed then picks up as a
// completion.
func (s *Service) handleContributionCreated(ctx context.Context, ev iface.ContributionCreated) {
	for attempt := 0; attempt < retryLimit(); attempt++ {
		err := s.refreshParticipant(ctx, ev.Contribution)
		if err == nil {
			return
		}
		if !errors.Is(err, db.ErrConflict) {
			log.WithError(err).WithFields(logrus.Fields{
				"uid":     ev.Contribution.ParticipantID,
				"circuit": ev.Contribution.CircuitID,
			}).Error("Could not refresh participant after contribution")
			return
		}
		refreshConflicts.Inc()
	}
	log.WithField("uid", ev.Contribution.ParticipantID).Error(
		"Dropping participant refresh after repeated write conflicts")
}

func (s *Service) refreshParticipant(ctx context.Context, c *types.Contribution) error {
	participant, err := s.cfg.Database.Participant(ctx, c.CeremonyID, c.ParticipantID)
	if err != nil {
		return err
	}
	if participant == nil {
		log.WithField("uid", c.ParticipantID).Error("Contribution names an unknown participant, skipping")
		return nil
	}

	updated := *participant
	updated.Contributions = append([]types.ContributionRef(nil), participant.Contributions...)
	if i := updated.PendingContribution(); i >= 0 {
		updated.Contributions[i].Doc = c.ID
	} else if !alreadyLinked(updated.Contributions, c.ID) {
		log.WithFields(logrus.Fields{
			"uid": c.ParticipantID, "doc": c.ID,
		}).Warn("No pending contribution entry to link, skipping")
		return nil
	}

	// Finalizing coordinators only get the document linked; their lifecycle
	// ends through ceremony finalization, not the circuit ladder.
	if participant.Status != types.StatusFinalizing {
		circuits, err := s.cfg.Database.Circuits(ctx, c.CeremonyID)
		if err != nil {
			return err
		}
		if updated.Progress+1 > len(circuits) {
			updated.Status = types.StatusDone
		} else {
			updated.Status = types.StatusContributed
		}
		updated.Step = types.StepCompleted
		updated.TempData = types.TempContributionData{}
	}

	batch := s.cfg.Database.NewBatch()
	batch.SaveParticipantGuarded(&updated, participant.LastUpdated)
	return s.cfg.Database.ApplyBatch(ctx, batch)
}

func alreadyLinked(refs []types.ContributionRef, doc string) bool {
	for i := range refs {
		if refs[i].Doc == doc {
			return true
		}
	}
	return false
}
