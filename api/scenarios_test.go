/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Subscribers and generators are created
	- Eligibility links are in place
	- Seeded history reconciles

These tests ensure scenarios work correctly and can be used as integration tests.
*/
package api

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rateio-engine/store/sqlite"
)

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewHandler(store, nil, zerolog.Nop())
}

func TestScenario_Condominio(t *testing.T) {
	// GIVEN: Condominium scenario
	// WHEN: Loading the scenario
	// THEN: Four subscribers, one plant, two reconciled records, newest first
	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.loadCondominioScenario(ctx))

	subs, err := h.Store.GetEligibleSubscribers(ctx, "gen-condominio")
	require.NoError(t, err)
	assert.Len(t, subs, 4)

	history, err := h.Store.ListAllocationHistory(ctx, "gen-condominio")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2026-02", history[0].Period)
	assert.Equal(t, "1000.00", history[0].TotalExpectedKwh.StringFixed(2))
	assert.Equal(t, "1160.00", history[1].TotalExpectedKwh.StringFixed(2))

	for _, rec := range history {
		assert.True(t, rec.Reconciles(), rec.Period)
	}

	got := map[string]string{}
	for _, r := range history[1].Results {
		got[string(r.SubscriberID)] = r.AllocatedKwh.StringFixed(2)
	}
	assert.Equal(t, map[string]string{
		"sub-101": "290.00", "sub-102": "290.00", "sub-201": "406.00", "sub-areas": "174.00",
	}, got)
}

func TestScenario_Cooperativa(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.loadCooperativaScenario(ctx))

	history, err := h.Store.ListAllocationHistory(ctx, "gen-cooperativa")
	require.NoError(t, err)
	require.Len(t, history, 1)

	rec := history[0]
	require.Len(t, rec.Results, 3)
	assert.Equal(t, "sub-posto", string(rec.Results[0].SubscriberID))
	assert.Equal(t, "4800.00", rec.Results[0].AllocatedKwh.StringFixed(2))
	assert.True(t, rec.Results[1].AllocatedKwh.IsZero())
	assert.True(t, rec.Results[2].AllocatedKwh.IsZero())
	assert.True(t, rec.LeftoverKwh.IsZero())
}

func TestScenario_Eligibility(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.loadEligibilityScenario(ctx))

	gens, err := h.Store.ListGenerators(ctx)
	require.NoError(t, err)
	assert.Len(t, gens, 2)

	norte, err := h.Store.GetGenerator(ctx, "gen-norte")
	require.NoError(t, err)
	assert.True(t, norte.IsLinked("sub-farmacia"))
	assert.False(t, norte.IsLinked("sub-oficina"))

	sul, err := h.Store.GetGenerator(ctx, "gen-sul")
	require.NoError(t, err)
	assert.True(t, sul.IsLinked("sub-farmacia"))
	assert.False(t, sul.IsLinked("sub-padaria"))
}

func TestScenario_LoadReplacesPreviousData(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.loadCondominioScenario(ctx))
	require.NoError(t, h.reset(ctx))
	require.NoError(t, h.loadCooperativaScenario(ctx))

	gens, err := h.Store.ListGenerators(ctx)
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Equal(t, "gen-cooperativa", string(gens[0].ID))
}
