package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/zkmpc/ceremonyd/ceremony/types"
	"github.com/zkmpc/ceremonyd/db"
	"github.com/zkmpc/ceremonyd/testing/assert"
	"github.com/zkmpc/ceremonyd/testing/require"
	"github.com/zkmpc/ceremonyd/time/clock"
)

func setupSweeper(t *testing.T) (*Service, db.Database, *clock.Simulated) {
	c := clock.NewSimulated(time.UnixMilli(1_000_000))
	store, err := db.NewDatabase(context.Background(), t.TempDir(), c)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	s := New(context.Background(), &ServiceConfig{Database: store, Clock: c})
	return s, store, c
}

func seedFixedCeremony(t *testing.T, store db.Database) {
	b := store.NewBatch()
	b.SaveCeremony(&types.Ceremony{
		ID: "c1", Prefix: "test", State: types.CeremonyOpened,
		TimeoutType: types.TimeoutFixed, Penalty: 10,
		EndDate: 1_000_000 + 90*24*60*60_000,
	})
	require.NoError(t, store.ApplyBatch(context.Background(), b))
}

func TestSweeper_FixedDeadlineEvictsAndPromotes(t *testing.T) {
	s, store, c := setupSweeper(t)
	ctx := context.Background()
	seedFixedCeremony(t, store)

	start := clock.Millis(c.Now())
	b := store.NewBatch()
	b.SaveCircuit(&types.Circuit{
		ID: "k1", CeremonyID: "c1", SequencePosition: 1,
		Timeouts: types.TimeoutParams{FixedTimeWindow: 5},
		WaitingQueue: types.WaitingQueue{
			Contributors:       []string{"alice", "bob"},
			CurrentContributor: "alice",
		},
	})
	b.SaveParticipant(&types.Participant{
		UserID: "alice", CeremonyID: "c1",
		Status: types.StatusContributing, Step: types.StepComputing,
		Progress: 1, ContributionStartedAt: start,
		Contributions: []types.ContributionRef{{Hash: "pending"}},
	})
	b.SaveParticipant(&types.Participant{
		UserID: "bob", CeremonyID: "c1",
		Status: types.StatusWaiting, Progress: 1,
	})
	require.NoError(t, store.ApplyBatch(ctx, b))

	// Inside the 5 minute window nothing happens.
	c.Advance(4 * time.Minute)
	require.NoError(t, s.Sweep(ctx))
	circuit, err := store.Circuit(ctx, "c1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "alice", circuit.WaitingQueue.CurrentContributor)

	c.Advance(2 * time.Minute)
	require.NoError(t, s.Sweep(ctx))

	circuit, err = store.Circuit(ctx, "c1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "bob", circuit.WaitingQueue.CurrentContributor)
	assert.Equal(t, uint64(1), circuit.WaitingQueue.FailedContributions)

	alice, err := store.Participant(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusTimedout, alice.Status)
	assert.Equal(t, 0, len(alice.Contributions))

	bob, err := store.Participant(ctx, "c1", "bob")
	require.NoError(t, err)
	assert.Equal(t, types.StatusContributing, bob.Status)
	assert.Equal(t, types.StepDownloading, bob.Step)

	now := clock.Millis(c.Now())
	active, err := store.HasActiveTimeout(ctx, "c1", "alice", now)
	require.NoError(t, err)
	assert.Equal(t, true, active)
	active, err = store.HasActiveTimeout(ctx, "c1", "alice", now+10*60_000+1)
	require.NoError(t, err)
	assert.Equal(t, false, active)
}

func TestSweeper_DynamicFirstContributorIsImmune(t *testing.T) {
	s, store, c := setupSweeper(t)
	ctx := context.Background()

	b := store.NewBatch()
	b.SaveCeremony(&types.Ceremony{
		ID: "c1", Prefix: "test", State: types.CeremonyOpened,
		TimeoutType: types.TimeoutDynamic, Penalty: 10,
		EndDate: 1_000_000 + 90*24*60*60_000,
	})
	b.SaveCircuit(&types.Circuit{
		ID: "k1", CeremonyID: "c1", SequencePosition: 1,
		Timeouts: types.TimeoutParams{DynamicThreshold: 100},
		WaitingQueue: types.WaitingQueue{
			Contributors:       []string{"alice"},
			CurrentContributor: "alice",
		},
	})
	b.SaveParticipant(&types.Participant{
		UserID: "alice", CeremonyID: "c1",
		Status: types.StatusContributing, Step: types.StepComputing,
		Progress: 1, ContributionStartedAt: clock.Millis(c.Now()),
	})
	require.NoError(t, store.ApplyBatch(ctx, b))

	// No completed contribution means no average to derive a deadline from.
	c.Advance(24 * time.Hour)
	require.NoError(t, s.Sweep(ctx))
	circuit, err := store.Circuit(ctx, "c1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "alice", circuit.WaitingQueue.CurrentContributor)

	// Once an average exists the threshold applies: 10m avg + 100% = 20m.
	circuit.WaitingQueue.CompletedContributions = 1
	circuit.AvgTimings.FullContribution = 10 * 60_000
	b = store.NewBatch()
	b.SaveCircuit(circuit)
	alice, err := store.Participant(ctx, "c1", "alice")
	require.NoError(t, err)
	alice.ContributionStartedAt = clock.Millis(c.Now())
	b.SaveParticipant(alice)
	require.NoError(t, store.ApplyBatch(ctx, b))

	c.Advance(21 * time.Minute)
	require.NoError(t, s.Sweep(ctx))
	circuit, err = store.Circuit(ctx, "c1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "", circuit.WaitingQueue.CurrentContributor)
}

func TestSweeper_VerificationOverrunEvictsRegardlessOfMechanism(t *testing.T) {
	s, store, c := setupSweeper(t)
	ctx := context.Background()

	b := store.NewBatch()
	b.SaveCeremony(&types.Ceremony{
		ID: "c1", Prefix: "test", State: types.CeremonyOpened,
		TimeoutType: types.TimeoutDynamic, Penalty: 5,
		EndDate: 1_000_000 + 90*24*60*60_000,
	})
	b.SaveCircuit(&types.Circuit{
		ID: "k1", CeremonyID: "c1", SequencePosition: 1,
		WaitingQueue: types.WaitingQueue{
			Contributors:       []string{"alice"},
			CurrentContributor: "alice",
		},
	})
	b.SaveParticipant(&types.Participant{
		UserID: "alice", CeremonyID: "c1",
		Status: types.StatusContributing, Step: types.StepVerifying,
		Progress: 1, VerificationStartedAt: clock.Millis(c.Now()),
	})
	require.NoError(t, store.ApplyBatch(ctx, b))

	c.Advance(58 * time.Minute)
	require.NoError(t, s.Sweep(ctx))
	circuit, err := store.Circuit(ctx, "c1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "alice", circuit.WaitingQueue.CurrentContributor)

	c.Advance(2 * time.Minute)
	require.NoError(t, s.Sweep(ctx))
	circuit, err = store.Circuit(ctx, "c1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "", circuit.WaitingQueue.CurrentContributor)

	timeouts, err := store.Timeouts(ctx, "c1", "alice")
	require.NoError(t, err)
	require.Equal(t, 1, len(timeouts))
	assert.Equal(t, types.TimeoutBlockingVerification, timeouts[0].Type)
}

func TestSweeper_CeremonyPastEndDateIsLeftToLifecycle(t *testing.T) {
	s, store, c := setupSweeper(t)
	ctx := context.Background()

	b := store.NewBatch()
	b.SaveCeremony(&types.Ceremony{
		ID: "c1", Prefix: "test", State: types.CeremonyOpened,
		TimeoutType: types.TimeoutFixed, Penalty: 10,
		EndDate: clock.Millis(c.Now()) + 30*60_000,
	})
	b.SaveCircuit(&types.Circuit{
		ID: "k1", CeremonyID: "c1", SequencePosition: 1,
		Timeouts: types.TimeoutParams{FixedTimeWindow: 1},
		WaitingQueue: types.WaitingQueue{
			Contributors:       []string{"alice"},
			CurrentContributor: "alice",
		},
	})
	b.SaveParticipant(&types.Participant{
		UserID: "alice", CeremonyID: "c1",
		Status: types.StatusContributing, Step: types.StepComputing,
		Progress: 1, ContributionStartedAt: clock.Millis(c.Now()),
	})
	require.NoError(t, store.ApplyBatch(ctx, b))

	// Both the contributor deadline and the ceremony end date pass; closing
	// the ceremony is the lifecycle cron's job, not an eviction.
	c.Advance(time.Hour)
	require.NoError(t, s.Sweep(ctx))
	circuit, err := store.Circuit(ctx, "c1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "alice", circuit.WaitingQueue.CurrentContributor)
	timeouts, err := store.Timeouts(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, len(timeouts))
}

func TestSweeper_ClosedCeremonyIsIgnored(t *testing.T) {
	s, store, c := setupSweeper(t)
	ctx := context.Background()

	b := store.NewBatch()
	b.SaveCeremony(&types.Ceremony{
		ID: "c1", Prefix: "test", State: types.CeremonyClosed,
		TimeoutType: types.TimeoutFixed, Penalty: 10,
	})
	b.SaveCircuit(&types.Circuit{
		ID: "k1", CeremonyID: "c1", SequencePosition: 1,
		Timeouts: types.TimeoutParams{FixedTimeWindow: 1},
		WaitingQueue: types.WaitingQueue{
			Contributors:       []string{"alice"},
			CurrentContributor: "alice",
		},
	})
	b.SaveParticipant(&types.Participant{
		UserID: "alice", CeremonyID: "c1",
		Status: types.StatusContributing, Step: types.StepComputing,
		Progress: 1, ContributionStartedAt: clock.Millis(c.Now()),
	})
	require.NoError(t, store.ApplyBatch(ctx, b))

	c.Advance(time.Hour)
	require.NoError(t, s.Sweep(ctx))
	circuit, err := store.Circuit(ctx, "c1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "alice", circuit.WaitingQueue.CurrentContributor)
}
