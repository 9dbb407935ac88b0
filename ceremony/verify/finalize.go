package verify

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/consensys/gnark/backend/groth16/bn254/mpcsetup"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	"github.com/zkmpc/ceremonyd/ceremony/errs"
	"github.com/zkmpc/ceremonyd/ceremony/types"
	"github.com/zkmpc/ceremonyd/crypto/hash"
	"github.com/zkmpc/ceremonyd/crypto/phase2"
)

// FinalizeCircuitRequest seals one circuit of a closed ceremony with a
// public randomness beacon.
type FinalizeCircuitRequest struct {
	CeremonyID  string
	CircuitID   string
	UserID      string
	BucketName  string
	BeaconValue string
}

// FinalizeCircuit re-verifies the full contribution chain including the
// final contribution, seals it with the beacon, and publishes the verifying
// key and Solidity verifier. The artifact references and the beacon are
// appended to the circuit's final contribution document.
func (v *Verifier) FinalizeCircuit(ctx context.Context, req *FinalizeCircuitRequest) error {
	ctx, span := trace.StartSpan(ctx, "verifier.FinalizeCircuit")
	defer span.End()

	beacon, err := phase2.ParseBeacon(req.BeaconValue)
	if err != nil {
		return err
	}
	ceremony, err := v.cfg.Database.Ceremony(ctx, req.CeremonyID)
	if err != nil {
		return err
	}
	if ceremony == nil {
		return errors.Wrapf(errs.ErrNotFound, "ceremony %q", req.CeremonyID)
	}
	if ceremony.State != types.CeremonyClosed {
		return errors.Wrapf(errs.ErrFailedPrecondition,
			"ceremony is %s, finalization requires %s", ceremony.State, types.CeremonyClosed)
	}
	circuit, err := v.cfg.Database.Circuit(ctx, req.CeremonyID, req.CircuitID)
	if err != nil {
		return err
	}
	if circuit == nil {
		return errors.Wrapf(errs.ErrNotFound, "circuit %q", req.CircuitID)
	}
	participant, err := v.cfg.Database.Participant(ctx, req.CeremonyID, req.UserID)
	if err != nil {
		return err
	}
	if participant == nil || participant.Status != types.StatusFinalizing {
		return errors.Wrap(errs.ErrFailedPrecondition, "caller is not finalizing this ceremony")
	}
	finalDoc, err := v.cfg.Database.ContributionByZkeyIndex(ctx, req.CeremonyID, req.CircuitID, types.FinalZkeyIndex)
	if err != nil {
		return err
	}
	if finalDoc == nil {
		return errors.Wrapf(errs.ErrFailedPrecondition,
			"circuit %q has no verified final contribution", req.CircuitID)
	}

	scratch := v.scratchDir(circuit.ID, req.UserID)
	if err := os.MkdirAll(scratch, 0700); err != nil {
		return errors.Wrap(err, "could not create scratch directory")
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.WithError(err).Warn("Could not clean finalization scratch directory")
		}
	}()

	r1csPath := filepath.Join(scratch, circuit.Files.R1CSFilename)
	if err := v.download(ctx, req.BucketName, types.R1CSStoragePath(circuit.Prefix, circuit.Files.R1CSFilename), r1csPath); err != nil {
		return err
	}
	potPath := filepath.Join(scratch, circuit.Files.PotFilename)
	if err := v.download(ctx, req.BucketName, types.PotStoragePath(circuit.Files.PotFilename), potPath); err != nil {
		return err
	}
	indices := make([]string, 0, circuit.WaitingQueue.CompletedContributions+1)
	for i := uint64(1); i <= circuit.WaitingQueue.CompletedContributions; i++ {
		indices = append(indices, types.FormatZkeyIndex(i))
	}
	indices = append(indices, types.FinalZkeyIndex)
	states := make([]*mpcsetup.Phase2, 0, len(indices))
	for _, index := range indices {
		dest := filepath.Join(scratch, types.ZkeyFilename(circuit.Prefix, index))
		if err := v.download(ctx, req.BucketName, types.ZkeyStoragePath(circuit.Prefix, index), dest); err != nil {
			return err
		}
		state, err := phase2.LoadPhase2(dest)
		if err != nil {
			return err
		}
		states = append(states, state)
	}

	r1cs, err := phase2.LoadR1CS(r1csPath)
	if err != nil {
		return err
	}
	commons, err := phase2.LoadCommons(potPath)
	if err != nil {
		return err
	}
	_, vk, err := phase2.Seal(r1cs, commons, states, beacon)
	if err != nil {
		return errors.Wrapf(errs.ErrFailedPrecondition, "could not seal circuit %q: %v", circuit.ID, err)
	}

	var vkBuf bytes.Buffer
	if _, err := vk.WriteTo(&vkBuf); err != nil {
		return errors.Wrap(err, "could not serialize verifying key")
	}
	vkName := types.VerificationKeyFilename(circuit.Prefix)
	vkPath := types.VerificationKeyStoragePath(circuit.Prefix, vkName)
	if err := v.cfg.Blobs.Upload(ctx, req.BucketName, vkPath, bytes.NewReader(vkBuf.Bytes()), true); err != nil {
		return err
	}

	var contractBuf bytes.Buffer
	if err := phase2.ExportVerifierContract(vk, &contractBuf); err != nil {
		return errors.Wrap(err, "could not export verifier contract")
	}
	contractName := types.VerifierContractFilename(circuit.Prefix)
	contractPath := types.VerifierContractStoragePath(circuit.Prefix, contractName)
	if err := v.cfg.Blobs.Upload(ctx, req.BucketName, contractPath, bytes.NewReader(contractBuf.Bytes()), true); err != nil {
		return err
	}

	updated := *finalDoc
	updated.Files.VerificationKeyFilename = vkName
	updated.Files.VerificationKeyStoragePath = vkPath
	updated.Files.VerificationKeyBlake2bHash = hash.Blake2bBytes(vkBuf.Bytes())
	updated.Files.VerifierContractFilename = contractName
	updated.Files.VerifierContractStoragePath = contractPath
	updated.Files.VerifierContractBlake2bHash = hash.Blake2bBytes(contractBuf.Bytes())
	updated.Beacon = &types.Beacon{
		Value: req.BeaconValue,
		Hash:  hash.Sha256Hex(req.BeaconValue),
	}

	batch := v.cfg.Database.NewBatch()
	batch.SaveContribution(&updated)
	if err := v.cfg.Database.ApplyBatch(ctx, batch); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"ceremony": ceremony.ID,
		"circuit":  circuit.ID,
	}).Info("Circuit finalized")
	return nil
}
