package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rateio-engine/rateio"
	"github.com/warp/rateio-engine/store/sqlite"
)

func newStore(t *testing.T, opts ...sqlite.Option) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, store *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	for _, sub := range []rateio.Subscriber{
		{ID: "sub-a", DisplayName: "Padaria Central", GridUnitID: "UC-001", ContractedConsumptionKwh: decimal.NewFromInt(300)},
		{ID: "sub-b", DisplayName: "Mercado Bom Preço", GridUnitID: "UC-002"},
		{ID: "sub-c", DisplayName: "Escola Municipal", GridUnitID: "UC-003"},
	} {
		require.NoError(t, store.SaveSubscriber(ctx, sub))
	}
	require.NoError(t, store.SaveGenerator(ctx, rateio.Generator{
		ID:                    "gen-1",
		Nickname:              "Usina Norte",
		GridOperatorID:        "CEMIG-42",
		ExpectedGenerationKwh: decimal.RequireFromString("1000.50"),
		LinkedSubscriberIDs:   []rateio.SubscriberID{"sub-c", "sub-a"},
	}))
}

func record(period string, createdAt time.Time) rateio.Record {
	return rateio.Record{
		GeneratorID:      "gen-1",
		Mode:             rateio.ModePercentage,
		Period:           period,
		CreatedAt:        createdAt,
		TotalExpectedKwh: decimal.RequireFromString("1000.50"),
		Results: []rateio.Result{
			{SubscriberID: "sub-c", DisplayName: "Escola Municipal", AllocatedKwh: decimal.RequireFromString("600.30"), RawValue: decimal.NewFromInt(60)},
			{SubscriberID: "sub-a", DisplayName: "Padaria Central", AllocatedKwh: decimal.RequireFromString("400.20"), RawValue: decimal.NewFromInt(40)},
		},
		LeftoverKwh: decimal.Zero,
		Status:      rateio.StatusValid,
	}
}

// =============================================================================
// GENERATORS & SUBSCRIBERS
// =============================================================================

func TestStore_GeneratorRoundTrip(t *testing.T) {
	store := newStore(t)
	seed(t, store)

	g, err := store.GetGenerator(context.Background(), "gen-1")
	require.NoError(t, err)
	assert.Equal(t, "Usina Norte", g.Nickname)
	assert.Equal(t, "CEMIG-42", g.GridOperatorID)
	assert.True(t, g.ExpectedGenerationKwh.Equal(decimal.RequireFromString("1000.5")))
	assert.Equal(t, []rateio.SubscriberID{"sub-c", "sub-a"}, g.LinkedSubscriberIDs)
}

func TestStore_GeneratorNotFound(t *testing.T) {
	store := newStore(t)

	_, err := store.GetGenerator(context.Background(), "missing")
	assert.ErrorIs(t, err, rateio.ErrGeneratorNotFound)

	_, err = store.GetEligibleSubscribers(context.Background(), "missing")
	assert.ErrorIs(t, err, rateio.ErrGeneratorNotFound)
}

func TestStore_EligibleSubscribersInLinkOrder(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	require.NoError(t, store.LinkSubscriber(ctx, "gen-1", "sub-b"))
	// Linking twice is a no-op
	require.NoError(t, store.LinkSubscriber(ctx, "gen-1", "sub-b"))

	subs, err := store.GetEligibleSubscribers(ctx, "gen-1")
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, rateio.SubscriberID("sub-c"), subs[0].ID)
	assert.Equal(t, rateio.SubscriberID("sub-a"), subs[1].ID)
	assert.Equal(t, rateio.SubscriberID("sub-b"), subs[2].ID)
	assert.Equal(t, "UC-001", subs[1].GridUnitID)
	assert.True(t, subs[1].ContractedConsumptionKwh.Equal(decimal.NewFromInt(300)))
}

func TestStore_LinkUnknownSubscriber(t *testing.T) {
	store := newStore(t)
	seed(t, store)

	err := store.LinkSubscriber(context.Background(), "gen-1", "ghost")
	assert.ErrorIs(t, err, rateio.ErrSubscriberNotFound)

	err = store.LinkSubscriber(context.Background(), "ghost", "sub-a")
	assert.ErrorIs(t, err, rateio.ErrGeneratorNotFound)
}

func TestStore_UpdateExpectedGeneration(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	require.NoError(t, store.UpdateExpectedGeneration(ctx, "gen-1", decimal.NewFromInt(750)))
	g, err := store.GetGenerator(ctx, "gen-1")
	require.NoError(t, err)
	assert.True(t, g.ExpectedGenerationKwh.Equal(decimal.NewFromInt(750)))

	err = store.UpdateExpectedGeneration(ctx, "ghost", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, rateio.ErrGeneratorNotFound)
}

func TestStore_ListGeneratorsAndSubscribers(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	gens, err := store.ListGenerators(ctx)
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Len(t, gens[0].LinkedSubscriberIDs, 2)

	subs, err := store.ListSubscribers(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, "Escola Municipal", subs[0].DisplayName)

	_, err = store.GetSubscriber(ctx, "ghost")
	assert.ErrorIs(t, err, rateio.ErrSubscriberNotFound)
}

// =============================================================================
// ALLOCATION RECORDS
// =============================================================================

func TestStore_SaveAndGetRecord(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	id, err := store.SaveAllocationRecord(ctx, record("2026-03", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := store.GetAllocationRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, rateio.ModePercentage, rec.Mode)
	assert.Equal(t, "2026-03", rec.Period)
	assert.Equal(t, rateio.StatusValid, rec.Status)
	assert.True(t, rec.CreatedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	require.Len(t, rec.Results, 2)
	assert.Equal(t, rateio.SubscriberID("sub-c"), rec.Results[0].SubscriberID)
	assert.Equal(t, "600.30", rec.Results[0].AllocatedKwh.StringFixed(2))
	assert.True(t, rec.Results[1].RawValue.Equal(decimal.NewFromInt(40)))
	assert.True(t, rec.Reconciles())
}

func TestStore_RecordNotFound(t *testing.T) {
	store := newStore(t)
	_, err := store.GetAllocationRecord(context.Background(), "nope")
	assert.ErrorIs(t, err, rateio.ErrRecordNotFound)
}

func TestStore_SaveRecordUnknownGenerator(t *testing.T) {
	store := newStore(t)
	rec := record("", time.Now())
	rec.GeneratorID = "ghost"

	_, err := store.SaveAllocationRecord(context.Background(), rec)
	assert.ErrorIs(t, err, rateio.ErrGeneratorNotFound)
}

func TestStore_HistoryNewestFirst(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first, err := store.SaveAllocationRecord(ctx, record("2026-01", base))
	require.NoError(t, err)
	second, err := store.SaveAllocationRecord(ctx, record("2026-02", base.Add(500*time.Millisecond)))
	require.NoError(t, err)
	third, err := store.SaveAllocationRecord(ctx, record("2026-03", base.Add(time.Second)))
	require.NoError(t, err)

	history, err := store.ListAllocationHistory(ctx, "gen-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, third, history[0].ID)
	assert.Equal(t, second, history[1].ID)
	assert.Equal(t, first, history[2].ID)
	assert.Len(t, history[0].Results, 2)
}

func TestStore_HistoryEmpty(t *testing.T) {
	store := newStore(t)
	seed(t, store)

	history, err := store.ListAllocationHistory(context.Background(), "gen-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStore_SnapshotSurvivesGeneratorEdit(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	id, err := store.SaveAllocationRecord(ctx, record("", time.Now()))
	require.NoError(t, err)
	require.NoError(t, store.UpdateExpectedGeneration(ctx, "gen-1", decimal.NewFromInt(5)))

	rec, err := store.GetAllocationRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "1000.50", rec.TotalExpectedKwh.StringFixed(2))
}

func TestStore_UniquePeriod(t *testing.T) {
	store := newStore(t, sqlite.WithUniquePeriod())
	seed(t, store)
	ctx := context.Background()

	_, err := store.SaveAllocationRecord(ctx, record("2026-03", time.Now()))
	require.NoError(t, err)

	_, err = store.SaveAllocationRecord(ctx, record("2026-03", time.Now()))
	assert.ErrorIs(t, err, rateio.ErrDuplicatePeriod)

	// Unlabelled records are never constrained
	_, err = store.SaveAllocationRecord(ctx, record("", time.Now()))
	require.NoError(t, err)
	_, err = store.SaveAllocationRecord(ctx, record("", time.Now()))
	require.NoError(t, err)

	history, err := store.ListAllocationHistory(ctx, "gen-1")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestStore_DuplicatePeriodAllowedByDefault(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	_, err := store.SaveAllocationRecord(ctx, record("2026-03", time.Now()))
	require.NoError(t, err)
	_, err = store.SaveAllocationRecord(ctx, record("2026-03", time.Now()))
	require.NoError(t, err)
}

func TestStore_Reset(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()
	_, err := store.SaveAllocationRecord(ctx, record("", time.Now()))
	require.NoError(t, err)

	require.NoError(t, store.Reset(ctx))

	gens, err := store.ListGenerators(ctx)
	require.NoError(t, err)
	assert.Empty(t, gens)
	subs, err := store.ListSubscribers(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

// =============================================================================
// BUILDER INTEGRATION
// =============================================================================

func TestStore_BuilderEndToEnd(t *testing.T) {
	// GIVEN: a generator with two linked subscribers in SQLite
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()
	builder := rateio.NewBuilder(store, zerolog.Nop())

	// WHEN: a 33.33 / 66.67 split is submitted
	id, err := builder.BuildAndSubmit(ctx, "gen-1", rateio.ModePercentage, []rateio.Entry{
		{SubscriberID: "sub-a", RawValue: decimal.RequireFromString("33.33")},
		{SubscriberID: "sub-c", RawValue: decimal.RequireFromString("66.67")},
	})
	require.NoError(t, err)

	// THEN: the persisted record reconciles and carries display data
	rec, err := store.GetAllocationRecord(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.Reconciles())
	assert.Equal(t, "Padaria Central", rec.Results[0].DisplayName)
	assert.Equal(t, "UC-001", rec.Results[0].GridUnitID)

	// AND: an unlinked subscriber is rejected before anything is written
	_, err = builder.BuildAndSubmit(ctx, "gen-1", rateio.ModePercentage, []rateio.Entry{
		{SubscriberID: "sub-b", RawValue: decimal.NewFromInt(100)},
	})
	assert.ErrorIs(t, err, rateio.ErrValidationFailed)

	history, err := store.ListAllocationHistory(ctx, "gen-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
