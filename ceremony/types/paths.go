package types

import (
	"fmt"
	"path"
	"strings"
)

// Zkey index sentinels. Indices are 5-digit zero-padded decimals; the genesis
// zkey is 00000 and the finalization artifact replaces the index with
// "final".
const (
	GenesisZkeyIndex = "00000"
	FinalZkeyIndex   = "final"
)

// FormatZkeyIndex returns the canonical zero-padded form of a contribution
// index.
func FormatZkeyIndex(index uint64) string {
	return fmt.Sprintf("%05d", index)
}

// ZkeyFilename returns the blob name of the zkey at the given index for a
// circuit prefix.
func ZkeyFilename(prefix, index string) string {
	return fmt.Sprintf("%s_%s.zkey", prefix, index)
}

// ZkeyStoragePath returns the canonical object key of a circuit's zkey.
func ZkeyStoragePath(prefix, index string) string {
	return path.Join("circuits", prefix, "zkeys", ZkeyFilename(prefix, index))
}

// TranscriptFilename returns the blob name of a verification transcript. The
// identifier distinguishes transcripts written for the same index across
// contributors.
func TranscriptFilename(prefix, index, identifier string) string {
	return fmt.Sprintf("%s_%s_%s_verification_transcript.log", prefix, index, identifier)
}

// TranscriptStoragePath returns the canonical object key of a verification
// transcript.
func TranscriptStoragePath(prefix, filename string) string {
	return path.Join("circuits", prefix, "transcripts", filename)
}

// VerificationKeyFilename returns the blob name of a circuit's verification
// key written at finalization.
func VerificationKeyFilename(prefix string) string {
	return prefix + "_verifier.key"
}

// VerificationKeyStoragePath returns the canonical object key of a circuit's
// verification key.
func VerificationKeyStoragePath(prefix, filename string) string {
	return path.Join("circuits", prefix, "verification_key", filename)
}

// VerifierContractFilename returns the blob name of a circuit's Solidity
// verifier written at finalization.
func VerifierContractFilename(prefix string) string {
	return prefix + "_verifier.sol"
}

// VerifierContractStoragePath returns the canonical object key of a circuit's
// Solidity verifier contract.
func VerifierContractStoragePath(prefix, filename string) string {
	return path.Join("circuits", prefix, "verifier_contract", filename)
}

// PotStoragePath returns the canonical object key of a powers-of-tau file.
func PotStoragePath(filename string) string {
	return path.Join("pot", filename)
}

// R1CSStoragePath returns the canonical object key of a circuit's constraint
// system artifact.
func R1CSStoragePath(prefix, filename string) string {
	return path.Join("circuits", prefix, filename)
}

// BucketName returns the storage bucket bound to a ceremony prefix.
func BucketName(ceremonyPrefix, postfix string) string {
	return ceremonyPrefix + postfix
}

// CeremonyPrefixFromBucket extracts the ceremony prefix out of a bucket name,
// reporting whether the bucket follows the configured naming convention.
func CeremonyPrefixFromBucket(bucket, postfix string) (string, bool) {
	if postfix == "" {
		return bucket, bucket != ""
	}
	prefix, found := strings.CutSuffix(bucket, postfix)
	if !found || prefix == "" {
		return "", false
	}
	return prefix, true
}
