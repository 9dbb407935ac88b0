// Package verify orchestrates contribution verification: it guards the
// caller against the circuit's queue state, checks the uploaded zkey either
// in-process or on a dedicated verification machine, and commits the
// contribution record together with the circuit counters in one batch.
package verify

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	"github.com/zkmpc/ceremonyd/ceremony/errs"
	"github.com/zkmpc/ceremonyd/ceremony/types"
	"github.com/zkmpc/ceremonyd/db"
	"github.com/zkmpc/ceremonyd/runtime/version"
	"github.com/zkmpc/ceremonyd/storage"
	"github.com/zkmpc/ceremonyd/time/clock"
	"github.com/zkmpc/ceremonyd/vm"
)

var log = logrus.WithField("prefix", "verify")

// Config holds the collaborators of a Verifier.
type Config struct {
	Database db.Database
	Blobs    storage.BlobStore
	Executor vm.Executor
	Clock    clock.Clock
	// ScratchDir is the root under which per-verification working
	// directories are created.
	ScratchDir string
}

// Verifier checks uploaded contributions and records the outcome.
type Verifier struct {
	cfg *Config
}

// New creates a Verifier from its collaborators.
func New(cfg *Config) *Verifier {
	return &Verifier{cfg: cfg}
}

// Request identifies one contribution to verify on behalf of an
// authenticated caller.
type Request struct {
	CeremonyID    string
	CircuitID     string
	UserID        string
	BucketName    string
	IsCoordinator bool
}

// Result reports the verification outcome and its observable timings, in
// milliseconds.
type Result struct {
	Valid                bool
	VerifyTime           int64
	FullContributionTime int64
}

// outcome is the mechanism-independent product of a verification run.
type outcome struct {
	valid          bool
	zkeyHash       string
	transcriptName string
	transcriptPath string
	transcriptHash string
}

// VerifyContribution runs the verification pipeline for the caller's pending
// contribution. The caller must be the circuit's current contributor at the
// VERIFYING step, or the coordinator finalizing a closed ceremony. The call
// is idempotent with respect to the participant's terminal state: a replay
// after the refresh handler linked the record fails with
// ErrNoPendingContribution.
func (v *Verifier) VerifyContribution(ctx context.Context, req *Request) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "verifier.VerifyContribution")
	defer span.End()
	started := v.cfg.Clock.Now()

	ceremony, err := v.cfg.Database.Ceremony(ctx, req.CeremonyID)
	if err != nil {
		return nil, err
	}
	if ceremony == nil {
		return nil, errors.Wrapf(errs.ErrNotFound, "ceremony %q", req.CeremonyID)
	}
	circuit, err := v.cfg.Database.Circuit(ctx, req.CeremonyID, req.CircuitID)
	if err != nil {
		return nil, err
	}
	if circuit == nil {
		return nil, errors.Wrapf(errs.ErrNotFound, "circuit %q", req.CircuitID)
	}
	participant, err := v.cfg.Database.Participant(ctx, req.CeremonyID, req.UserID)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		return nil, errors.Wrapf(errs.ErrNotFound, "participant %q", req.UserID)
	}

	finalizing := req.IsCoordinator &&
		ceremony.State == types.CeremonyClosed &&
		participant.Status == types.StatusFinalizing

	// The pending check runs before the queue guard: after a successful run
	// the refresh handler links the record and the queue pops the head, so a
	// replayed call must surface the linked state, not the lost head slot.
	pendingIdx := participant.PendingContribution()
	if pendingIdx < 0 {
		return nil, errors.Wrapf(errs.ErrNoPendingContribution,
			"participant %q has no contribution awaiting verification", req.UserID)
	}
	pending := participant.Contributions[pendingIdx]

	if !finalizing {
		if circuit.WaitingQueue.CurrentContributor != req.UserID {
			return nil, errors.Wrapf(errs.ErrFailedPrecondition,
				"caller %q is not the current contributor of circuit %q", req.UserID, circuit.ID)
		}
		if participant.Status != types.StatusContributing || participant.Step != types.StepVerifying {
			return nil, errors.Wrapf(errs.ErrFailedPrecondition,
				"participant is %s at step %s, verification requires %s at %s",
				participant.Status, participant.Step, types.StatusContributing, types.StepVerifying)
		}
	}

	zkeyIndex := types.FinalZkeyIndex
	if !finalizing {
		zkeyIndex = types.FormatZkeyIndex(circuit.WaitingQueue.CompletedContributions + 1)
	}

	logFields := logrus.Fields{
		"ceremony":  ceremony.ID,
		"circuit":   circuit.ID,
		"uid":       req.UserID,
		"zkeyIndex": zkeyIndex,
	}
	log.WithFields(logFields).Info("Starting contribution verification")

	var out *outcome
	switch circuit.Verification.Kind {
	case types.VerifyVM:
		out, err = v.verifyOnVM(ctx, circuit, req, zkeyIndex)
	default:
		out, err = v.verifyLocally(ctx, circuit, req, zkeyIndex)
	}
	if err != nil {
		return nil, err
	}

	if !out.valid {
		// An invalid zkey must not stay at the canonical next-index path.
		zkeyPath := types.ZkeyStoragePath(circuit.Prefix, zkeyIndex)
		if err := v.cfg.Blobs.DeleteObject(ctx, req.BucketName, zkeyPath); err != nil {
			log.WithError(err).WithFields(logFields).Warn("Could not delete invalid zkey object")
		}
	}

	verifyTime := v.cfg.Clock.Now().Sub(started).Milliseconds()
	fullContributionTime := participant.VerificationStartedAt - participant.ContributionStartedAt

	doc := v.buildContribution(circuit, req.UserID, zkeyIndex, pending, out, verifyTime, fullContributionTime)

	batch := v.cfg.Database.NewBatch()
	batch.SaveContribution(doc)
	if !finalizing {
		updated := updateCircuitAfterVerification(circuit, out.valid, pending.ComputationTime, fullContributionTime, verifyTime)
		batch.SaveCircuitGuarded(updated, circuit.LastUpdated)
	}
	if err := v.cfg.Database.ApplyBatch(ctx, batch); err != nil {
		if errors.Is(err, db.ErrConflict) {
			// The circuit moved underneath us, typically because the sweeper
			// evicted the contributor mid-verification. The outcome is
			// discarded; the uploaded zkey is reclaimed by the next pass.
			return nil, errors.Wrap(errs.ErrFailedPrecondition,
				"circuit changed during verification, outcome discarded")
		}
		return nil, err
	}

	verificationsTotal.WithLabelValues(resultLabel(out.valid)).Inc()
	verificationSeconds.Observe(float64(verifyTime) / 1000)
	log.WithFields(logFields).WithField("valid", out.valid).Info("Contribution verification finished")

	return &Result{
		Valid:                out.valid,
		VerifyTime:           verifyTime,
		FullContributionTime: fullContributionTime,
	}, nil
}

func (v *Verifier) buildContribution(
	circuit *types.Circuit,
	userID, zkeyIndex string,
	pending types.ContributionRef,
	out *outcome,
	verifyTime, fullContributionTime int64,
) *types.Contribution {
	doc := &types.Contribution{
		ID:                          uuid.New().String(),
		CeremonyID:                  circuit.CeremonyID,
		CircuitID:                   circuit.ID,
		ParticipantID:               userID,
		ZkeyIndex:                   zkeyIndex,
		Valid:                       out.valid,
		ContributionComputationTime: pending.ComputationTime,
		FullContributionTime:        fullContributionTime,
		VerificationComputationTime: verifyTime,
		Software: types.VerificationSoftware{
			Name:       version.SoftwareName,
			Version:    version.SemanticVersion(),
			CommitHash: version.GitCommit(),
		},
	}
	if out.valid {
		doc.Files = types.ContributionFiles{
			LastZkeyFilename:      types.ZkeyFilename(circuit.Prefix, zkeyIndex),
			LastZkeyStoragePath:   types.ZkeyStoragePath(circuit.Prefix, zkeyIndex),
			LastZkeyBlake2bHash:   out.zkeyHash,
			TranscriptFilename:    out.transcriptName,
			TranscriptStoragePath: out.transcriptPath,
			TranscriptBlake2bHash: out.transcriptHash,
		}
	}
	return doc
}

// trailingMean folds a new sample into a two-sample trailing mean. This is
// deliberately not a true running average: each update halves the weight of
// all history, matching the timings participants observe in the queue UI.
func trailingMean(avg, sample int64) int64 {
	if avg == 0 {
		return sample
	}
	return (avg + sample) / 2
}

func updateCircuitAfterVerification(circuit *types.Circuit, valid bool, computationTime, fullContributionTime, verifyTime int64) *types.Circuit {
	updated := *circuit
	if !valid {
		updated.WaitingQueue.FailedContributions++
		return &updated
	}
	updated.WaitingQueue.CompletedContributions++
	updated.AvgTimings = types.AvgTimings{
		ContributionComputation: trailingMean(circuit.AvgTimings.ContributionComputation, computationTime),
		FullContribution:        trailingMean(circuit.AvgTimings.FullContribution, fullContributionTime),
		VerifyContribution:      trailingMean(circuit.AvgTimings.VerifyContribution, verifyTime),
	}
	return &updated
}
