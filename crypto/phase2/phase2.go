// Package phase2 wraps the gnark multi-party setup primitives behind the
// small surface the verifier needs: loading serialized ceremony states and
// verifying or sealing a chain of circuit contributions.
//
// A circuit's powers-of-tau artifact is a serialized SrsCommons (the sealed
// phase-1 output); a zkey at index i is a serialized Phase2 state, with the
// genesis zkey being Phase2.Initialize over the circuit's constraint system.
package phase2

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/groth16/bn254/mpcsetup"
	cs_bn254 "github.com/consensys/gnark/constraint/bn254"
	"github.com/pkg/errors"

	"github.com/zkmpc/ceremonyd/ceremony/errs"
)

// MinBeaconBytes is the minimum decoded length of a finalization beacon.
const MinBeaconBytes = 16

// probeBeacon seals throwaway verification runs. Chain verification needs
// some beacon to complete; any well-formed value works because an invalid
// contribution fails the update-proof checks before sealing, and the sealed
// keys of a probe run are discarded.
var probeBeacon = []byte("ceremonyd-chain-verification-probe")

func loadObject(path string, obj io.ReaderFrom) error {
	f, err := os.Open(path) // #nosec G304 -- scratch paths are coordinator-owned
	if err != nil {
		return errors.Wrapf(err, "could not open %q", path)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := obj.ReadFrom(f); err != nil {
		return errors.Wrapf(err, "could not deserialize %q", path)
	}
	return nil
}

// LoadR1CS reads a serialized BN254 constraint system.
func LoadR1CS(path string) (*cs_bn254.R1CS, error) {
	r1cs := &cs_bn254.R1CS{}
	if err := loadObject(path, r1cs); err != nil {
		return nil, err
	}
	return r1cs, nil
}

// LoadCommons reads a serialized phase-1 output.
func LoadCommons(path string) (*mpcsetup.SrsCommons, error) {
	commons := &mpcsetup.SrsCommons{}
	if err := loadObject(path, commons); err != nil {
		return nil, err
	}
	return commons, nil
}

// LoadPhase2 reads one serialized phase-2 ceremony state.
func LoadPhase2(path string) (*mpcsetup.Phase2, error) {
	state := &mpcsetup.Phase2{}
	if err := loadObject(path, state); err != nil {
		return nil, err
	}
	return state, nil
}

// VerifyChain checks every contribution in states against the genesis state
// and the circuit's commons. The states must be ordered and exclude the
// genesis. The sealed keys of the probe run are discarded; only the verdict
// matters here.
func VerifyChain(r1cs *cs_bn254.R1CS, commons *mpcsetup.SrsCommons, states []*mpcsetup.Phase2) error {
	if len(states) == 0 {
		return errors.New("nothing to verify: no contributed states")
	}
	if _, _, err := mpcsetup.VerifyPhase2(r1cs, commons, probeBeacon, states...); err != nil {
		return errors.Wrap(err, "phase-2 chain verification failed")
	}
	return nil
}

// Seal verifies the full contribution chain and seals it with the given
// beacon, returning the production proving and verifying keys.
func Seal(r1cs *cs_bn254.R1CS, commons *mpcsetup.SrsCommons, states []*mpcsetup.Phase2, beacon []byte) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	if len(states) == 0 {
		return nil, nil, errors.New("nothing to seal: no contributed states")
	}
	pk, vk, err := mpcsetup.VerifyPhase2(r1cs, commons, beacon, states...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "phase-2 sealing failed")
	}
	return pk, vk, nil
}

// ExportVerifierContract writes the Solidity verifier for the sealed
// verifying key.
func ExportVerifierContract(vk groth16.VerifyingKey, w io.Writer) error {
	return vk.ExportSolidity(w)
}

// WriteKey serializes a sealed key to path.
func WriteKey(key io.WriterTo, path string) error {
	f, err := os.Create(path) // #nosec G304 -- scratch paths are coordinator-owned
	if err != nil {
		return errors.Wrapf(err, "could not create %q", path)
	}
	if _, err := key.WriteTo(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "could not serialize key to %q", path)
	}
	return f.Close()
}

// NewVerifyingKey allocates an empty BN254 verifying key for deserialization.
func NewVerifyingKey() groth16.VerifyingKey {
	return groth16.NewVerifyingKey(ecc.BN254)
}

// ParseBeacon decodes and validates a finalization beacon value.
func ParseBeacon(value string) ([]byte, error) {
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return nil, errors.Wrapf(errs.ErrInvalidArgument, "beacon value is not hex: %v", err)
	}
	if len(decoded) < MinBeaconBytes {
		return nil, errors.Wrapf(errs.ErrInvalidArgument,
			"beacon value must decode to at least %d bytes, got %d", MinBeaconBytes, len(decoded))
	}
	return decoded, nil
}
