package types

import (
	"testing"

	"github.com/zkmpc/ceremonyd/testing/assert"
)

func TestFormatZkeyIndex(t *testing.T) {
	tests := []struct {
		index uint64
		want  string
	}{
		{0, "00000"},
		{1, "00001"},
		{42, "00042"},
		{12345, "12345"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatZkeyIndex(tt.index))
	}
}

func TestZkeyStoragePath(t *testing.T) {
	assert.Equal(t, "circuits/mul2/zkeys/mul2_00001.zkey", ZkeyStoragePath("mul2", FormatZkeyIndex(1)))
	assert.Equal(t, "circuits/mul2/zkeys/mul2_final.zkey", ZkeyStoragePath("mul2", FinalZkeyIndex))
	assert.Equal(t, "circuits/mul2/zkeys/mul2_00000.zkey", ZkeyStoragePath("mul2", GenesisZkeyIndex))
}

func TestTranscriptStoragePath(t *testing.T) {
	name := TranscriptFilename("mul2", "00003", "alice")
	assert.Equal(t, "mul2_00003_alice_verification_transcript.log", name)
	assert.Equal(t, "circuits/mul2/transcripts/"+name, TranscriptStoragePath("mul2", name))
}

func TestFinalizationArtifactPaths(t *testing.T) {
	assert.Equal(t, "circuits/mul2/verification_key/mul2_verifier.key",
		VerificationKeyStoragePath("mul2", VerificationKeyFilename("mul2")))
	assert.Equal(t, "circuits/mul2/verifier_contract/mul2_verifier.sol",
		VerifierContractStoragePath("mul2", VerifierContractFilename("mul2")))
	assert.Equal(t, "pot/powersOfTau28_hez_final_10.ptau", PotStoragePath("powersOfTau28_hez_final_10.ptau"))
	assert.Equal(t, "circuits/mul2/mul2.r1cs", R1CSStoragePath("mul2", "mul2.r1cs"))
}

func TestCeremonyPrefixFromBucket(t *testing.T) {
	prefix, ok := CeremonyPrefixFromBucket("grothfest-ph2-ceremony", "-ph2-ceremony")
	assert.Equal(t, true, ok)
	assert.Equal(t, "grothfest", prefix)

	_, ok = CeremonyPrefixFromBucket("unrelated-bucket", "-ph2-ceremony")
	assert.Equal(t, false, ok)

	_, ok = CeremonyPrefixFromBucket("-ph2-ceremony", "-ph2-ceremony")
	assert.Equal(t, false, ok)
}

func TestNextStep(t *testing.T) {
	next, ok := NextStep(StepDownloading)
	assert.Equal(t, true, ok)
	assert.Equal(t, StepComputing, next)

	next, ok = NextStep(StepVerifying)
	assert.Equal(t, true, ok)
	assert.Equal(t, StepCompleted, next)

	_, ok = NextStep(StepCompleted)
	assert.Equal(t, false, ok)

	_, ok = NextStep(ContributionStep("BOGUS"))
	assert.Equal(t, false, ok)
}

func TestPendingContribution(t *testing.T) {
	p := &Participant{Contributions: []ContributionRef{
		{Hash: "0xaa", Doc: "contribution-1"},
		{Hash: "0xbb", ComputationTime: 1200},
	}}
	assert.Equal(t, 1, p.PendingContribution())

	p.Contributions[1].Doc = "contribution-2"
	assert.Equal(t, -1, p.PendingContribution())

	empty := &Participant{}
	assert.Equal(t, -1, empty.PendingContribution())
}
