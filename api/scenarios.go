/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates subscribers, generators and
	eligibility links, and may submit rateios through the builder so the
	reporting view has history.

AVAILABLE SCENARIOS:

	condominio-solar:    One plant, four subscribers, percentage history
	cooperativa-rural:   Priority waterfall with non-contiguous ranks
	elegibilidade:       Two plants sharing a subscriber pool, partial links

HOW SCENARIOS WORK:
 1. Reset database (clear all data) and drop cached history
 2. Create subscribers
 3. Create generators with their links
 4. Optionally submit rateios via the builder

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "condominio-solar"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/rateio-engine/rateio"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "condominio-solar",
		Name:        "Condomínio Solar",
		Description: "One plant split by percentage among four subscribers, with two months of history",
		Category:    "percentage",
	},
	{
		ID:          "cooperativa-rural",
		Name:        "Cooperativa Rural",
		Description: "Priority waterfall: the lowest rank takes the whole pool",
		Category:    "priority",
	},
	{
		ID:          "elegibilidade",
		Name:        "Elegibilidade Parcial",
		Description: "Two plants, five subscribers, only some linked to each plant",
		Category:    "percentage",
	},
}

// historyInvalidator is implemented by repositories that cache history.
type historyInvalidator interface {
	Invalidate(ctx context.Context, id rateio.GeneratorID)
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var loader func(context.Context) error
	switch req.ScenarioID {
	case "condominio-solar":
		loader = h.loadCondominioScenario
	case "cooperativa-rural":
		loader = h.loadCooperativaScenario
	case "elegibilidade":
		loader = h.loadEligibilityScenario
	default:
		writeErrorCode(w, http.StatusBadRequest, "Unknown scenario", "invalid_input", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := loader(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	h.Logger.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// reset clears the store and any cached history for the old generators.
func (h *Handler) reset(ctx context.Context) error {
	generators, err := h.Store.ListGenerators(ctx)
	if err != nil {
		return err
	}
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	if inv, ok := h.Repo.(historyInvalidator); ok {
		for _, g := range generators {
			inv.Invalidate(ctx, g.ID)
		}
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func kwh(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (h *Handler) saveSubscribers(ctx context.Context, subs ...rateio.Subscriber) error {
	for _, s := range subs {
		if err := h.Store.SaveSubscriber(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// submit persists a demo rateio through the builder.
func (h *Handler) submit(ctx context.Context, genID rateio.GeneratorID, mode rateio.Mode, period string, values map[rateio.SubscriberID]string, order ...rateio.SubscriberID) error {
	d := rateio.NewDraft(genID, mode)
	d.Period = period
	for _, id := range order {
		if err := d.Set(id, kwh(values[id])); err != nil {
			return err
		}
	}
	_, err := h.Builder.Submit(ctx, d)
	return err
}

func (h *Handler) loadCondominioScenario(ctx context.Context) error {
	if err := h.saveSubscribers(ctx,
		rateio.Subscriber{ID: "sub-101", DisplayName: "Apartamento 101", GridUnitID: "UC-3001", ContractedConsumptionKwh: kwh("320")},
		rateio.Subscriber{ID: "sub-102", DisplayName: "Apartamento 102", GridUnitID: "UC-3002", ContractedConsumptionKwh: kwh("280")},
		rateio.Subscriber{ID: "sub-201", DisplayName: "Apartamento 201", GridUnitID: "UC-3003", ContractedConsumptionKwh: kwh("410")},
		rateio.Subscriber{ID: "sub-areas", DisplayName: "Áreas Comuns", GridUnitID: "UC-3000", ContractedConsumptionKwh: kwh("150")},
	); err != nil {
		return err
	}

	gen := rateio.Generator{
		ID:                    "gen-condominio",
		Nickname:              "Usina do Condomínio",
		GridOperatorID:        "CEMIG-7781",
		ExpectedGenerationKwh: kwh("1160.00"),
		LinkedSubscriberIDs:   []rateio.SubscriberID{"sub-101", "sub-102", "sub-201", "sub-areas"},
	}
	if err := h.Store.SaveGenerator(ctx, gen); err != nil {
		return err
	}

	order := gen.LinkedSubscriberIDs
	if err := h.submit(ctx, gen.ID, rateio.ModePercentage, "2026-01", map[rateio.SubscriberID]string{
		"sub-101": "25", "sub-102": "25", "sub-201": "35", "sub-areas": "15",
	}, order...); err != nil {
		return err
	}

	// Thirds exercise the largest-remainder pass.
	if err := h.Store.UpdateExpectedGeneration(ctx, gen.ID, kwh("1000.00")); err != nil {
		return err
	}
	return h.submit(ctx, gen.ID, rateio.ModePercentage, "2026-02", map[rateio.SubscriberID]string{
		"sub-101": "33.33", "sub-102": "33.33", "sub-201": "33.34", "sub-areas": "0",
	}, order...)
}

func (h *Handler) loadCooperativaScenario(ctx context.Context) error {
	if err := h.saveSubscribers(ctx,
		rateio.Subscriber{ID: "sub-laticinio", DisplayName: "Laticínio Vale Verde", GridUnitID: "UC-8101", ContractedConsumptionKwh: kwh("5400")},
		rateio.Subscriber{ID: "sub-escola", DisplayName: "Escola Rural", GridUnitID: "UC-8102", ContractedConsumptionKwh: kwh("900")},
		rateio.Subscriber{ID: "sub-posto", DisplayName: "Posto de Saúde", GridUnitID: "UC-8103", ContractedConsumptionKwh: kwh("650")},
	); err != nil {
		return err
	}

	gen := rateio.Generator{
		ID:                    "gen-cooperativa",
		Nickname:              "Usina Cooperativa",
		GridOperatorID:        "ENERGISA-220",
		ExpectedGenerationKwh: kwh("4800.00"),
		LinkedSubscriberIDs:   []rateio.SubscriberID{"sub-laticinio", "sub-escola", "sub-posto"},
	}
	if err := h.Store.SaveGenerator(ctx, gen); err != nil {
		return err
	}

	return h.submit(ctx, gen.ID, rateio.ModePriority, "2026-01", map[rateio.SubscriberID]string{
		"sub-posto": "1", "sub-escola": "5", "sub-laticinio": "10",
	}, "sub-laticinio", "sub-escola", "sub-posto")
}

func (h *Handler) loadEligibilityScenario(ctx context.Context) error {
	if err := h.saveSubscribers(ctx,
		rateio.Subscriber{ID: "sub-padaria", DisplayName: "Padaria Central", GridUnitID: "UC-1001"},
		rateio.Subscriber{ID: "sub-mercado", DisplayName: "Mercado Bom Preço", GridUnitID: "UC-1002"},
		rateio.Subscriber{ID: "sub-farmacia", DisplayName: "Farmácia Popular", GridUnitID: "UC-1003"},
		rateio.Subscriber{ID: "sub-oficina", DisplayName: "Oficina Mecânica", GridUnitID: "UC-1004"},
		rateio.Subscriber{ID: "sub-igreja", DisplayName: "Paróquia São José", GridUnitID: "UC-1005"},
	); err != nil {
		return err
	}

	if err := h.Store.SaveGenerator(ctx, rateio.Generator{
		ID:                    "gen-norte",
		Nickname:              "Usina Norte",
		GridOperatorID:        "CPFL-001",
		ExpectedGenerationKwh: kwh("2500.00"),
		LinkedSubscriberIDs:   []rateio.SubscriberID{"sub-padaria", "sub-mercado", "sub-farmacia"},
	}); err != nil {
		return err
	}
	return h.Store.SaveGenerator(ctx, rateio.Generator{
		ID:                    "gen-sul",
		Nickname:              "Usina Sul",
		GridOperatorID:        "CPFL-002",
		ExpectedGenerationKwh: kwh("1800.00"),
		LinkedSubscriberIDs:   []rateio.SubscriberID{"sub-farmacia", "sub-oficina", "sub-igreja"},
	})
}
