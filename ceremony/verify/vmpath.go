package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zkmpc/ceremonyd/ceremony/errs"
	"github.com/zkmpc/ceremonyd/ceremony/types"
	"github.com/zkmpc/ceremonyd/crypto/hash"
	"github.com/zkmpc/ceremonyd/params"
	"github.com/zkmpc/ceremonyd/vm"
)

// verifyCommand is the well-known script run on a verification machine. The
// verify tooling is baked into the machine image; it downloads the zkey chain
// itself, prints the candidate's Blake2b digest on stdout and uploads its
// transcript to the given path.
func verifyCommand(bucket, zkeyPath, transcriptPath string) []string {
	return []string{
		fmt.Sprintf("ceremony-verify --bucket %s --zkey %s --transcript %s", bucket, zkeyPath, transcriptPath),
	}
}

// verifyOnVM runs the verification on the circuit's dedicated machine,
// polling the instance and the command until a terminal status.
func (v *Verifier) verifyOnVM(ctx context.Context, circuit *types.Circuit, req *Request, zkeyIndex string) (*outcome, error) {
	if circuit.Verification.VM == nil || circuit.Verification.VM.InstanceID == "" {
		return nil, errors.Wrapf(errs.ErrConfiguration,
			"circuit %q is configured for remote verification but names no instance", circuit.ID)
	}
	instanceID := circuit.Verification.VM.InstanceID
	cfg := params.CoordinatorConfig()

	if err := v.cfg.Executor.Start(ctx, instanceID); err != nil {
		return nil, errors.Wrapf(errs.ErrVMUnavailable, "start failed: %v", err)
	}
	if err := v.waitRunning(ctx, instanceID); err != nil {
		return nil, err
	}
	// Only the verifier touches the instance, and only while it is the
	// current verifying actor for this circuit.
	defer v.stopBestEffort(instanceID)

	zkeyPath := types.ZkeyStoragePath(circuit.Prefix, zkeyIndex)
	transcriptName := types.TranscriptFilename(circuit.Prefix, zkeyIndex, req.UserID)
	transcriptPath := types.TranscriptStoragePath(circuit.Prefix, transcriptName)

	commandID, err := v.cfg.Executor.RunCommand(ctx, instanceID, verifyCommand(req.BucketName, zkeyPath, transcriptPath))
	if err != nil {
		return nil, errors.Wrapf(errs.ErrVMCommandAborted, "could not issue verify command: %v", err)
	}
	if err := v.waitCommand(ctx, instanceID, commandID); err != nil {
		return nil, err
	}

	// The machine uploaded its transcript to the well-known path; the
	// sentinel line inside it is the verdict.
	scratch := v.scratchDir(circuit.ID, req.UserID)
	if err := os.MkdirAll(scratch, 0700); err != nil {
		return nil, errors.Wrap(err, "could not create scratch directory")
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.WithError(err).Warn("Could not clean verification scratch directory")
		}
	}()
	local := filepath.Join(scratch, transcriptName)
	if err := v.download(ctx, req.BucketName, transcriptPath, local); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(local) // #nosec G304 -- scratch paths are coordinator-owned
	if err != nil {
		return nil, errors.Wrap(err, "could not read downloaded transcript")
	}
	valid := strings.Contains(string(raw), cfg.TranscriptSentinel)

	stripped := stripANSI(string(raw))
	if err := v.cfg.Blobs.Upload(ctx, req.BucketName, transcriptPath, strings.NewReader(stripped), true); err != nil {
		return nil, err
	}

	stdout, err := v.cfg.Executor.CommandOutput(ctx, instanceID, commandID)
	if err != nil {
		return nil, errors.Wrapf(errs.ErrVMCommandAborted, "could not fetch command output: %v", err)
	}
	zkeyHash := firstHex64(stdout)
	if valid && zkeyHash == "" {
		log.WithField("circuit", circuit.ID).Warn("Verify command printed no zkey digest")
	}

	return &outcome{
		valid:          valid,
		zkeyHash:       zkeyHash,
		transcriptName: transcriptName,
		transcriptPath: transcriptPath,
		transcriptHash: hash.Blake2bBytes([]byte(stripped)),
	}, nil
}

// waitRunning polls the instance state on the configured cadence until it
// runs or the retry budget is exhausted.
func (v *Verifier) waitRunning(ctx context.Context, instanceID string) error {
	cfg := params.CoordinatorConfig()
	for attempt := 1; attempt <= cfg.VMStartupAttempts; attempt++ {
		running, err := v.cfg.Executor.IsRunning(ctx, instanceID)
		if err != nil {
			return errors.Wrapf(errs.ErrVMUnavailable, "status poll failed: %v", err)
		}
		if running {
			return nil
		}
		log.WithFields(logrus.Fields{
			"instance": instanceID,
			"attempt":  attempt,
		}).Debug("Verification machine not running yet")
		select {
		case <-v.cfg.Clock.After(cfg.VMStartupInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	vmStartupFailures.Inc()
	return errors.Wrapf(errs.ErrVMUnavailable,
		"instance %q did not reach running state after %d attempts", instanceID, cfg.VMStartupAttempts)
}

// waitCommand polls the command status on the configured cadence until it
// succeeds, mapping every terminal non-success status to a typed error.
func (v *Verifier) waitCommand(ctx context.Context, instanceID, commandID string) error {
	cfg := params.CoordinatorConfig()
	for attempt := 1; attempt <= cfg.VMCommandAttempts; attempt++ {
		status, err := v.cfg.Executor.CommandStatus(ctx, instanceID, commandID)
		if err != nil {
			return errors.Wrapf(errs.ErrVMCommandAborted, "status poll failed: %v", err)
		}
		switch {
		case status == vm.StatusSuccess:
			return nil
		case status.Aborted():
			return errors.Wrapf(errs.ErrVMCommandAborted, "command %q ended with status %s", commandID, status)
		case status == vm.StatusPending || status == vm.StatusInProgress:
			// Still working.
		default:
			return errors.Wrapf(errs.ErrVMCommandAborted, "command %q reported unknown status %q", commandID, status)
		}
		select {
		case <-v.cfg.Clock.After(cfg.VMCommandInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Wrapf(errs.ErrVMCommandAborted,
		"command %q still not finished after %d attempts", commandID, cfg.VMCommandAttempts)
}

// stopBestEffort powers the machine off outside the request context so that
// cleanup still happens when the caller's deadline already expired.
func (v *Verifier) stopBestEffort(instanceID string) {
	if err := v.cfg.Executor.Stop(context.Background(), instanceID); err != nil {
		log.WithError(err).WithField("instance", instanceID).Warn("Could not stop verification machine")
	}
}
