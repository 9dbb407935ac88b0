package kv

import (
	"context"
	"testing"
	"time"

	"github.com/zkmpc/ceremonyd/ceremony/types"
	"github.com/zkmpc/ceremonyd/db/iface"
	"github.com/zkmpc/ceremonyd/testing/assert"
	"github.com/zkmpc/ceremonyd/testing/require"
	"github.com/zkmpc/ceremonyd/time/clock"
)

func setupDB(t *testing.T) (*Store, *clock.Simulated) {
	c := clock.NewSimulated(time.UnixMilli(1_000_000))
	store, err := NewKVStore(context.Background(), t.TempDir(), &Config{Clock: c})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store, c
}

func TestStore_CeremonyRoundTrip(t *testing.T) {
	store, _ := setupDB(t)
	ctx := context.Background()

	got, err := store.Ceremony(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, (*types.Ceremony)(nil), got)

	b := store.NewBatch()
	b.SaveCeremony(&types.Ceremony{ID: "c1", Prefix: "groth16-test", State: types.CeremonyOpened})
	require.NoError(t, store.ApplyBatch(ctx, b))

	got, err = store.Ceremony(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "groth16-test", got.Prefix)
	assert.Equal(t, int64(1_000_000), got.LastUpdated)

	byPrefix, err := store.CeremonyByPrefix(ctx, "groth16-test")
	require.NoError(t, err)
	require.NotNil(t, byPrefix)
	assert.Equal(t, "c1", byPrefix.ID)

	opened, err := store.CeremoniesInState(ctx, types.CeremonyOpened)
	require.NoError(t, err)
	assert.Equal(t, 1, len(opened))
	closed, err := store.CeremoniesInState(ctx, types.CeremonyClosed)
	require.NoError(t, err)
	assert.Equal(t, 0, len(closed))
}

func TestStore_CircuitsOrderedBySequencePosition(t *testing.T) {
	store, _ := setupDB(t)
	ctx := context.Background()

	b := store.NewBatch()
	b.SaveCircuit(&types.Circuit{ID: "k2", CeremonyID: "c1", SequencePosition: 2})
	b.SaveCircuit(&types.Circuit{ID: "k1", CeremonyID: "c1", SequencePosition: 1})
	b.SaveCircuit(&types.Circuit{ID: "other", CeremonyID: "c2", SequencePosition: 1})
	require.NoError(t, store.ApplyBatch(ctx, b))

	circuits, err := store.Circuits(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 2, len(circuits))
	assert.Equal(t, "k1", circuits[0].ID)
	assert.Equal(t, "k2", circuits[1].ID)

	at, err := store.CircuitAtPosition(ctx, "c1", 2)
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.Equal(t, "k2", at.ID)

	none, err := store.CircuitAtPosition(ctx, "c1", 3)
	require.NoError(t, err)
	assert.Equal(t, (*types.Circuit)(nil), none)
}

func TestStore_GuardedWriteConflictAbortsWholeBatch(t *testing.T) {
	store, c := setupDB(t)
	ctx := context.Background()

	b := store.NewBatch()
	b.SaveCircuit(&types.Circuit{ID: "k1", CeremonyID: "c1", SequencePosition: 1})
	require.NoError(t, store.ApplyBatch(ctx, b))

	circuit, err := store.Circuit(ctx, "c1", "k1")
	require.NoError(t, err)
	stale := circuit.LastUpdated

	// A concurrent writer bumps the circuit.
	c.Advance(time.Second)
	b = store.NewBatch()
	circuit.WaitingQueue.CompletedContributions = 1
	b.SaveCircuitGuarded(circuit, stale)
	require.NoError(t, store.ApplyBatch(ctx, b))

	// Replaying against the stale token must fail and leave the participant
	// written in the same batch absent.
	rewrite := *circuit
	rewrite.WaitingQueue.CompletedContributions = 99
	b = store.NewBatch()
	b.SaveCircuitGuarded(&rewrite, stale)
	b.SaveParticipant(&types.Participant{UserID: "alice", CeremonyID: "c1"})
	err = store.ApplyBatch(ctx, b)
	require.ErrorIs(t, err, ErrConflict)

	got, err := store.Circuit(ctx, "c1", "k1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.WaitingQueue.CompletedContributions)
	p, err := store.Participant(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, (*types.Participant)(nil), p)
}

func TestStore_ParticipantFeedDeliversBeforeAndAfter(t *testing.T) {
	store, _ := setupDB(t)
	ctx := context.Background()

	ch := make(chan iface.ParticipantChange, 4)
	sub := store.SubscribeParticipantChanges(ch)
	defer sub.Unsubscribe()

	b := store.NewBatch()
	b.SaveParticipant(&types.Participant{UserID: "alice", CeremonyID: "c1", Status: types.StatusWaiting})
	require.NoError(t, store.ApplyBatch(ctx, b))

	change := <-ch
	assert.Equal(t, "c1", change.CeremonyID)
	assert.Equal(t, (*types.Participant)(nil), change.Before)
	assert.Equal(t, types.StatusWaiting, change.After.Status)

	updated := *change.After
	updated.Status = types.StatusReady
	updated.Progress = 1
	b = store.NewBatch()
	b.SaveParticipantGuarded(&updated, change.After.LastUpdated)
	require.NoError(t, store.ApplyBatch(ctx, b))

	change = <-ch
	require.NotNil(t, change.Before)
	assert.Equal(t, types.StatusWaiting, change.Before.Status)
	assert.Equal(t, types.StatusReady, change.After.Status)
}

func TestStore_ApplyBatchDoesNotBlockOnSlowSubscribers(t *testing.T) {
	store, _ := setupDB(t)
	ctx := context.Background()

	// Unbuffered and not yet drained: a synchronous feed send would park
	// ApplyBatch here. The scheduler writes from inside its own subscription
	// loop, so the commit path must never wait for subscribers.
	ch := make(chan iface.ParticipantChange)
	sub := store.SubscribeParticipantChanges(ch)
	defer sub.Unsubscribe()

	done := make(chan error, 1)
	go func() {
		b := store.NewBatch()
		b.SaveParticipant(&types.Participant{UserID: "alice", CeremonyID: "c1", Status: types.StatusWaiting})
		done <- store.ApplyBatch(ctx, b)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ApplyBatch blocked on an undrained subscriber")
	}

	// The change still arrives once the subscriber drains.
	select {
	case change := <-ch:
		assert.Equal(t, "alice", change.After.UserID)
	case <-time.After(5 * time.Second):
		t.Fatal("change event was never delivered")
	}
}

func TestStore_ContributionFeedFiresOnCreationOnly(t *testing.T) {
	store, _ := setupDB(t)
	ctx := context.Background()

	ch := make(chan iface.ContributionCreated, 2)
	sub := store.SubscribeContributions(ch)
	defer sub.Unsubscribe()

	doc := &types.Contribution{ID: "x1", CeremonyID: "c1", CircuitID: "k1", ZkeyIndex: "00001", Valid: true}
	b := store.NewBatch()
	b.SaveContribution(doc)
	require.NoError(t, store.ApplyBatch(ctx, b))

	ev := <-ch
	assert.Equal(t, "00001", ev.Contribution.ZkeyIndex)

	// Rewrites of an existing contribution stay silent.
	b = store.NewBatch()
	b.SaveContribution(doc)
	require.NoError(t, store.ApplyBatch(ctx, b))
	select {
	case <-ch:
		t.Fatal("unexpected event for contribution update")
	default:
	}

	byIndex, err := store.ContributionByZkeyIndex(ctx, "c1", "k1", "00001")
	require.NoError(t, err)
	require.NotNil(t, byIndex)
	assert.Equal(t, true, byIndex.Valid)
}

func TestStore_HasActiveTimeout(t *testing.T) {
	store, _ := setupDB(t)
	ctx := context.Background()

	b := store.NewBatch()
	b.SaveTimeout(&types.Timeout{
		ID: "t1", CeremonyID: "c1", ParticipantID: "carol",
		Type: types.TimeoutBlockingContribution, StartDate: 1_000, EndDate: 61_000,
	})
	require.NoError(t, store.ApplyBatch(ctx, b))

	active, err := store.HasActiveTimeout(ctx, "c1", "carol", 60_000)
	require.NoError(t, err)
	assert.Equal(t, true, active)

	active, err = store.HasActiveTimeout(ctx, "c1", "carol", 61_001)
	require.NoError(t, err)
	assert.Equal(t, false, active)
}
