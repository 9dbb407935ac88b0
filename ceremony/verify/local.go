package verify

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/consensys/gnark/backend/groth16/bn254/mpcsetup"
	"github.com/pkg/errors"

	"github.com/zkmpc/ceremonyd/ceremony/types"
	"github.com/zkmpc/ceremonyd/crypto/hash"
	"github.com/zkmpc/ceremonyd/crypto/phase2"
	"github.com/zkmpc/ceremonyd/params"
)

// scratchDir returns the working directory for one verification. Unique per
// (circuit, participant) so concurrent verifications on different circuits
// never collide.
func (v *Verifier) scratchDir(circuitID, userID string) string {
	return filepath.Join(v.cfg.ScratchDir, fmt.Sprintf("%s_%s", circuitID, userID))
}

func (v *Verifier) download(ctx context.Context, bucket, key, dest string) error {
	f, err := os.Create(dest) // #nosec G304 -- scratch paths are coordinator-owned
	if err != nil {
		return errors.Wrapf(err, "could not create %q", dest)
	}
	if err := v.cfg.Blobs.Download(ctx, bucket, key, f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// verifyLocally downloads the circuit artifacts and the full zkey chain into
// a scratch directory and checks the candidate in-process.
func (v *Verifier) verifyLocally(ctx context.Context, circuit *types.Circuit, req *Request, zkeyIndex string) (*outcome, error) {
	scratch := v.scratchDir(circuit.ID, req.UserID)
	if err := os.MkdirAll(scratch, 0700); err != nil {
		return nil, errors.Wrap(err, "could not create scratch directory")
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.WithError(err).Warn("Could not clean verification scratch directory")
		}
	}()

	r1csPath := filepath.Join(scratch, circuit.Files.R1CSFilename)
	if err := v.download(ctx, req.BucketName, types.R1CSStoragePath(circuit.Prefix, circuit.Files.R1CSFilename), r1csPath); err != nil {
		return nil, err
	}
	potPath := filepath.Join(scratch, circuit.Files.PotFilename)
	if err := v.download(ctx, req.BucketName, types.PotStoragePath(circuit.Files.PotFilename), potPath); err != nil {
		return nil, err
	}

	// The chain to check: every accepted contribution, then the candidate.
	indices := make([]string, 0, circuit.WaitingQueue.CompletedContributions+1)
	for i := uint64(1); i <= circuit.WaitingQueue.CompletedContributions; i++ {
		indices = append(indices, types.FormatZkeyIndex(i))
	}
	indices = append(indices, zkeyIndex)

	states := make([]*mpcsetup.Phase2, 0, len(indices))
	var candidatePath string
	for _, index := range indices {
		dest := filepath.Join(scratch, types.ZkeyFilename(circuit.Prefix, index))
		if err := v.download(ctx, req.BucketName, types.ZkeyStoragePath(circuit.Prefix, index), dest); err != nil {
			return nil, err
		}
		state, err := phase2.LoadPhase2(dest)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
		candidatePath = dest
	}

	r1cs, err := phase2.LoadR1CS(r1csPath)
	if err != nil {
		return nil, err
	}
	commons, err := phase2.LoadCommons(potPath)
	if err != nil {
		return nil, err
	}

	var transcript bytes.Buffer
	if err := writeTranscriptHeader(&transcript, circuit.Prefix, zkeyIndex, v.cfg.Clock.Now()); err != nil {
		return nil, err
	}
	verifyErr := phase2.VerifyChain(r1cs, commons, states)
	valid := verifyErr == nil
	if valid {
		fmt.Fprintf(&transcript, "Chain of %d contribution(s) verified.\n%s\n",
			len(states), params.CoordinatorConfig().TranscriptSentinel)
	} else {
		fmt.Fprintf(&transcript, "Verification failed: %v\n", verifyErr)
	}

	zkeyHash, err := hash.Blake2bFile(candidatePath)
	if err != nil {
		return nil, err
	}

	transcriptName := types.TranscriptFilename(circuit.Prefix, zkeyIndex, req.UserID)
	transcriptPath := types.TranscriptStoragePath(circuit.Prefix, transcriptName)
	transcriptBytes := transcript.Bytes()
	if err := v.cfg.Blobs.Upload(ctx, req.BucketName, transcriptPath, bytes.NewReader(transcriptBytes), true); err != nil {
		return nil, err
	}

	return &outcome{
		valid:          valid,
		zkeyHash:       zkeyHash,
		transcriptName: transcriptName,
		transcriptPath: transcriptPath,
		transcriptHash: hash.Blake2bBytes(transcriptBytes),
	}, nil
}
