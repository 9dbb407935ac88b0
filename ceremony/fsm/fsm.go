// Package fsm implements the participant state machine: the guarded
// transitions behind every participant-facing operation. Functions validate
// the transition against the current document and mutate it in place; callers
// persist the result under a compare-and-set guard. Transitions not listed
// here do not exist.
package fsm

import (
	"github.com/pkg/errors"
	"github.com/zkmpc/ceremonyd/ceremony/errs"
	"github.com/zkmpc/ceremonyd/ceremony/types"
)

// AdmitResult is the outcome of an admission request.
type AdmitResult struct {
	// Participant is non-nil when the admission requires a document write
	// (first-time registration or a TIMEDOUT -> EXHUMED revival).
	Participant   *types.Participant
	CanContribute bool
	Created       bool
}

// Admit evaluates an admission request against the ceremony and the caller's
// existing participant document, if any. Admission of a fresh user is
// idempotent: admitting twice yields the same document and answer.
func Admit(ceremony *types.Ceremony, existing *types.Participant, uid string, hasLiveTimeout bool) (*AdmitResult, error) {
	if ceremony.State != types.CeremonyOpened {
		return nil, errors.Wrapf(errs.ErrFailedPrecondition, "ceremony %q is %s, not open for participation", ceremony.ID, ceremony.State)
	}
	if existing == nil {
		p := &types.Participant{
			UserID:     uid,
			CeremonyID: ceremony.ID,
			Status:     types.StatusWaiting,
			Step:       types.StepDownloading,
		}
		return &AdmitResult{Participant: p, CanContribute: true, Created: true}, nil
	}
	switch existing.Status {
	case types.StatusDone, types.StatusFinalizing, types.StatusFinalized:
		return &AdmitResult{CanContribute: false}, nil
	case types.StatusTimedout:
		if hasLiveTimeout {
			return &AdmitResult{CanContribute: false}, nil
		}
		revived := *existing
		revived.Status = types.StatusExhumed
		revived.Step = types.StepDownloading
		revived.TempData = types.TempContributionData{}
		return &AdmitResult{Participant: &revived, CanContribute: true}, nil
	default:
		// Already registered and somewhere in the contribution flow.
		return &AdmitResult{CanContribute: true}, nil
	}
}

// AdvanceCircuit moves a participant to READY for the next circuit. Permitted
// from WAITING with no progress yet, or from CONTRIBUTED once the previous
// contribution attempt fully completed.
func AdvanceCircuit(p *types.Participant, circuitCount int) error {
	fresh := p.Status == types.StatusWaiting && p.Progress == 0
	contributed := p.Status == types.StatusContributed && p.Step == types.StepCompleted && p.Progress > 0
	if !fresh && !contributed {
		return errors.Wrapf(errs.ErrFailedPrecondition,
			"cannot advance to next circuit from status %s step %s progress %d", p.Status, p.Step, p.Progress)
	}
	if p.Progress+1 > circuitCount {
		return errors.Wrapf(errs.ErrFailedPrecondition,
			"no circuit at position %d, ceremony has %d", p.Progress+1, circuitCount)
	}
	p.Status = types.StatusReady
	p.Progress++
	return nil
}

// AdvanceStep moves a contributing participant to the next contribution step.
// Steps advance strictly one at a time; entering VERIFYING records the
// verification start time.
func AdvanceStep(p *types.Participant, now int64) (types.ContributionStep, error) {
	if p.Status != types.StatusContributing {
		return "", errors.Wrapf(errs.ErrFailedPrecondition, "participant is %s, not contributing", p.Status)
	}
	next, ok := types.NextStep(p.Step)
	if !ok {
		return "", errors.Wrapf(errs.ErrFailedPrecondition, "contribution step %s cannot advance", p.Step)
	}
	p.Step = next
	if next == types.StepVerifying {
		p.VerificationStartedAt = now
	}
	return next, nil
}

// RecordContribution appends the pending contribution entry carrying the
// participant-computed zkey hash and computation time. Permitted while
// COMPUTING, or for the coordinator while finalizing. At most one entry may
// be pending at a time.
func RecordContribution(p *types.Participant, isCoordinator bool, hash string, computationTime int64) error {
	if err := guardUploadPhase(p, isCoordinator, types.StepComputing); err != nil {
		return err
	}
	if p.PendingContribution() >= 0 {
		return errors.Wrap(errs.ErrFailedPrecondition, "a contribution entry is already pending verification")
	}
	p.Contributions = append(p.Contributions, types.ContributionRef{
		Hash:            hash,
		ComputationTime: computationTime,
	})
	p.TempData.ContributionComputationTime = computationTime
	return nil
}

// SetMultipartUpload stores the upload id of the in-flight zkey upload,
// resetting any previously recorded chunks.
func SetMultipartUpload(p *types.Participant, isCoordinator bool, uploadID string) error {
	if err := guardUploadPhase(p, isCoordinator, types.StepUploading); err != nil {
		return err
	}
	if uploadID == "" {
		return errors.Wrap(errs.ErrInvalidArgument, "empty upload id")
	}
	p.TempData.UploadID = uploadID
	p.TempData.Chunks = nil
	return nil
}

// AppendChunk records one uploaded part of the in-flight zkey upload.
func AppendChunk(p *types.Participant, isCoordinator bool, chunk types.Chunk) error {
	if err := guardUploadPhase(p, isCoordinator, types.StepUploading); err != nil {
		return err
	}
	if chunk.ETag == "" || chunk.PartNumber <= 0 {
		return errors.Wrap(errs.ErrInvalidArgument, "chunk requires an etag and a positive part number")
	}
	p.TempData.Chunks = append(p.TempData.Chunks, chunk)
	return nil
}

func guardUploadPhase(p *types.Participant, isCoordinator bool, step types.ContributionStep) error {
	if p.Status == types.StatusContributing && p.Step == step {
		return nil
	}
	if isCoordinator && p.Status == types.StatusFinalizing {
		return nil
	}
	return errors.Wrapf(errs.ErrFailedPrecondition,
		"operation requires status %s at step %s, participant is %s at %s",
		types.StatusContributing, step, p.Status, p.Step)
}

// Resume moves an exhumed participant back to READY on the same circuit.
func Resume(p *types.Participant) error {
	if p.Status != types.StatusExhumed {
		return errors.Wrapf(errs.ErrFailedPrecondition, "participant is %s, not exhumed", p.Status)
	}
	p.Status = types.StatusReady
	return nil
}

// PrepareFinalization moves the coordinator's participant from DONE to
// FINALIZING once the ceremony has closed and every circuit was contributed
// to.
func PrepareFinalization(p *types.Participant, ceremonyState types.CeremonyState, circuitCount int) error {
	if ceremonyState != types.CeremonyClosed {
		return errors.Wrapf(errs.ErrFailedPrecondition, "ceremony is %s, finalization requires %s", ceremonyState, types.CeremonyClosed)
	}
	if p.Status != types.StatusDone {
		return errors.Wrapf(errs.ErrFailedPrecondition, "participant is %s, finalization requires %s", p.Status, types.StatusDone)
	}
	if p.Progress != circuitCount {
		return errors.Wrapf(errs.ErrFailedPrecondition,
			"participant contributed to %d of %d circuits", p.Progress, circuitCount)
	}
	p.Status = types.StatusFinalizing
	return nil
}

// CompleteFinalization moves the coordinator's participant from FINALIZING to
// FINALIZED when the ceremony finalizes.
func CompleteFinalization(p *types.Participant, ceremonyState types.CeremonyState) error {
	if ceremonyState != types.CeremonyClosed {
		return errors.Wrapf(errs.ErrFailedPrecondition, "ceremony is %s, finalization requires %s", ceremonyState, types.CeremonyClosed)
	}
	if p.Status != types.StatusFinalizing {
		return errors.Wrapf(errs.ErrFailedPrecondition, "participant is %s, not finalizing", p.Status)
	}
	p.Status = types.StatusFinalized
	return nil
}
