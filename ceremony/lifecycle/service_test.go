package lifecycle

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

func TestLifecycle_AdvancesCeremoniesAlongTheirCalendar(t *testing.T) {
	c := clock.NewSimulated(time.UnixMilli(1_000_000))
	store, err := db.NewDatabase(context.Background(), t.TempDir(), c)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	s := New(context.Background(), &ServiceConfig{Database: store, Clock: c})
	ctx := context.Background()

	now := clock.Millis(c.Now())
	b := store.NewBatch()
	b.SaveCeremony(&types.Ceremony{
		ID: "due", State: types.CeremonyScheduled,
		StartDate: now - 1, EndDate: now + 3_600_000,
	})
	b.SaveCeremony(&types.Ceremony{
		ID: "future", State: types.CeremonyScheduled,
		StartDate: now + 3_600_000, EndDate: now + 7_200_000,
	})
	b.SaveCeremony(&types.Ceremony{
		ID: "expired", State: types.CeremonyOpened,
		StartDate: now - 7_200_000, EndDate: now - 1,
	})
	require.NoError(t, store.ApplyBatch(ctx, b))

	require.NoError(t, s.Advance(ctx))

	due, err := store.Ceremony(ctx, "due")
	require.NoError(t, err)
	assert.Equal(t, types.CeremonyOpened, due.State)
	future, err := store.Ceremony(ctx, "future")
	require.NoError(t, err)
	assert.Equal(t, types.CeremonyScheduled, future.State)
	expired, err := store.Ceremony(ctx, "expired")
	require.NoError(t, err)
	assert.Equal(t, types.CeremonyClosed, expired.State)

	// The next pass closes what the previous one opened, once due.
	c.Advance(2 * time.Hour)
	require.NoError(t, s.Advance(ctx))
	due, err = store.Ceremony(ctx, "due")
	require.NoError(t, err)
	assert.Equal(t, types.CeremonyClosed, due.State)
}
