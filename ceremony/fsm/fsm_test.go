package fsm

import (
	"testing"

	"github.com/zkmpc/ceremonyd/ceremony/errs"
	"github.com/zkmpc/ceremonyd/ceremony/types"
	"github.com/zkmpc/ceremonyd/testing/assert"
	"github.com/zkmpc/ceremonyd/testing/require"
)

func openedCeremony() *types.Ceremony {
	return &types.Ceremony{ID: "c1", State: types.CeremonyOpened}
}

func TestAdmit_FirstTime(t *testing.T) {
	res, err := Admit(openedCeremony(), nil, "alice", false)
	require.NoError(t, err)
	require.NotNil(t, res.Participant)
	assert.Equal(t, true, res.Created)
	assert.Equal(t, true, res.CanContribute)
	assert.Equal(t, types.StatusWaiting, res.Participant.Status)
	assert.Equal(t, types.StepDownloading, res.Participant.Step)
	assert.Equal(t, 0, res.Participant.Progress)
}

func TestAdmit_SecondTimeIsIdempotent(t *testing.T) {
	first, err := Admit(openedCeremony(), nil, "alice", false)
	require.NoError(t, err)

	second, err := Admit(openedCeremony(), first.Participant, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, true, second.CanContribute)
	// No rewrite needed; the document stays as created.
	assert.Equal(t, (*types.Participant)(nil), second.Participant)
}

func TestAdmit_ClosedCeremonyRejected(t *testing.T) {
	c := &types.Ceremony{ID: "c1", State: types.CeremonyClosed}
	_, err := Admit(c, nil, "alice", false)
	assert.ErrorIs(t, err, errs.ErrFailedPrecondition)
}

func TestAdmit_DoneCannotContribute(t *testing.T) {
	p := &types.Participant{UserID: "alice", Status: types.StatusDone}
	res, err := Admit(openedCeremony(), p, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, false, res.CanContribute)
	assert.Equal(t, (*types.Participant)(nil), res.Participant)
}

func TestAdmit_TimedoutWithLiveTimeout(t *testing.T) {
	p := &types.Participant{UserID: "carol", Status: types.StatusTimedout, Progress: 1}
	res, err := Admit(openedCeremony(), p, "carol", true)
	require.NoError(t, err)
	assert.Equal(t, false, res.CanContribute)
	assert.Equal(t, (*types.Participant)(nil), res.Participant)
}

func TestAdmit_TimedoutExhumedAfterExpiry(t *testing.T) {
	p := &types.Participant{
		UserID:   "carol",
		Status:   types.StatusTimedout,
		Step:     types.StepComputing,
		Progress: 1,
		TempData: types.TempContributionData{UploadID: "stale"},
	}
	res, err := Admit(openedCeremony(), p, "carol", false)
	require.NoError(t, err)
	require.NotNil(t, res.Participant)
	assert.Equal(t, true, res.CanContribute)
	assert.Equal(t, types.StatusExhumed, res.Participant.Status)
	assert.Equal(t, types.StepDownloading, res.Participant.Step)
	assert.Equal(t, 1, res.Participant.Progress)
	assert.DeepEqual(t, types.TempContributionData{}, res.Participant.TempData)
	// The loaded document is not aliased.
	assert.Equal(t, types.StatusTimedout, p.Status)
}

func TestAdvanceCircuit(t *testing.T) {
	p := &types.Participant{Status: types.StatusWaiting}
	require.NoError(t, AdvanceCircuit(p, 2))
	assert.Equal(t, types.StatusReady, p.Status)
	assert.Equal(t, 1, p.Progress)

	// Not permitted while READY.
	assert.ErrorIs(t, AdvanceCircuit(p, 2), errs.ErrFailedPrecondition)

	p.Status = types.StatusContributed
	p.Step = types.StepCompleted
	require.NoError(t, AdvanceCircuit(p, 2))
	assert.Equal(t, 2, p.Progress)

	// Out of circuits.
	p.Status = types.StatusContributed
	assert.ErrorIs(t, AdvanceCircuit(p, 2), errs.ErrFailedPrecondition)
}

func TestAdvanceStep_WalksAllStepsThenRejects(t *testing.T) {
	const now = int64(42_000)
	p := &types.Participant{Status: types.StatusContributing, Step: types.StepDownloading}

	want := []types.ContributionStep{
		types.StepComputing,
		types.StepUploading,
		types.StepVerifying,
		types.StepCompleted,
	}
	for _, expected := range want {
		got, err := AdvanceStep(p, now)
		require.NoError(t, err)
		assert.Equal(t, expected, got)
	}
	assert.Equal(t, now, p.VerificationStartedAt)

	_, err := AdvanceStep(p, now)
	assert.ErrorIs(t, err, errs.ErrFailedPrecondition)
}

func TestAdvanceStep_RequiresContributing(t *testing.T) {
	p := &types.Participant{Status: types.StatusWaiting, Step: types.StepDownloading}
	_, err := AdvanceStep(p, 0)
	assert.ErrorIs(t, err, errs.ErrFailedPrecondition)
}

func TestRecordContribution(t *testing.T) {
	p := &types.Participant{Status: types.StatusContributing, Step: types.StepComputing}
	require.NoError(t, RecordContribution(p, false, "0xh1", 120000))
	require.Equal(t, 1, len(p.Contributions))
	assert.Equal(t, "0xh1", p.Contributions[0].Hash)
	assert.Equal(t, int64(120000), p.TempData.ContributionComputationTime)

	// A second pending entry is rejected.
	assert.ErrorIs(t, RecordContribution(p, false, "0xh2", 1), errs.ErrFailedPrecondition)

	// Wrong step.
	q := &types.Participant{Status: types.StatusContributing, Step: types.StepUploading}
	assert.ErrorIs(t, RecordContribution(q, false, "0xh1", 1), errs.ErrFailedPrecondition)

	// Coordinator during finalization bypasses the step guard.
	f := &types.Participant{Status: types.StatusFinalizing}
	require.NoError(t, RecordContribution(f, true, "0xfinal", 9000))
}

func TestMultipartUploadTracking(t *testing.T) {
	p := &types.Participant{Status: types.StatusContributing, Step: types.StepUploading,
		TempData: types.TempContributionData{Chunks: []types.Chunk{{ETag: "old", PartNumber: 1}}}}

	require.NoError(t, SetMultipartUpload(p, false, "upload-1"))
	assert.Equal(t, "upload-1", p.TempData.UploadID)
	assert.Equal(t, 0, len(p.TempData.Chunks))

	require.NoError(t, AppendChunk(p, false, types.Chunk{ETag: "e1", PartNumber: 1}))
	require.NoError(t, AppendChunk(p, false, types.Chunk{ETag: "e2", PartNumber: 2}))
	assert.Equal(t, 2, len(p.TempData.Chunks))

	assert.ErrorIs(t, AppendChunk(p, false, types.Chunk{}), errs.ErrInvalidArgument)
	assert.ErrorIs(t, SetMultipartUpload(p, false, ""), errs.ErrInvalidArgument)

	q := &types.Participant{Status: types.StatusContributing, Step: types.StepComputing}
	assert.ErrorIs(t, SetMultipartUpload(q, false, "upload-2"), errs.ErrFailedPrecondition)
}

func TestResume(t *testing.T) {
	p := &types.Participant{Status: types.StatusExhumed, Progress: 2, Step: types.StepDownloading}
	require.NoError(t, Resume(p))
	assert.Equal(t, types.StatusReady, p.Status)
	assert.Equal(t, 2, p.Progress)

	assert.ErrorIs(t, Resume(p), errs.ErrFailedPrecondition)
}

func TestFinalizationTransitions(t *testing.T) {
	p := &types.Participant{Status: types.StatusDone, Progress: 3}

	// Ceremony must be closed.
	assert.ErrorIs(t, PrepareFinalization(p, types.CeremonyOpened, 3), errs.ErrFailedPrecondition)
	// Progress must cover all circuits.
	assert.ErrorIs(t, PrepareFinalization(p, types.CeremonyClosed, 4), errs.ErrFailedPrecondition)

	require.NoError(t, PrepareFinalization(p, types.CeremonyClosed, 3))
	assert.Equal(t, types.StatusFinalizing, p.Status)

	require.NoError(t, CompleteFinalization(p, types.CeremonyClosed))
	assert.Equal(t, types.StatusFinalized, p.Status)

	assert.ErrorIs(t, CompleteFinalization(p, types.CeremonyClosed), errs.ErrFailedPrecondition)
}
