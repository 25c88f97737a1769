/*
handlers.go - HTTP API handlers for the rateio engine

PURPOSE:
  Exposes the allocation engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the rateio builder.

ENDPOINTS:
  Health:
    GET    /api/health                                  Liveness + DB ping

  Generators:
    GET    /api/generators                              List generators
    POST   /api/generators                              Create or replace generator
    GET    /api/generators/{id}                         Get generator
    PATCH  /api/generators/{id}                         Edit expected generation
    GET    /api/generators/{id}/subscribers             Eligible subscribers
    POST   /api/generators/{id}/subscribers/{subID}     Link subscriber

  Subscribers:
    GET    /api/subscribers                             List subscribers
    POST   /api/subscribers                             Create or replace subscriber

  Rateios:
    POST   /api/generators/{id}/rateios/validate        Validate only
    POST   /api/generators/{id}/rateios/preview         Validate + compute, no write
    POST   /api/generators/{id}/rateios                 Submit
    GET    /api/generators/{id}/rateios                 History, newest first

  Scenarios:
    GET    /api/scenarios                               List demo scenarios
    POST   /api/scenarios/load                          Load a demo scenario

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Admin reads and writes (generators, subscribers, links)
  - Repo: What the builder reads and writes through (Store, or the Redis
    history cache wrapping it)
  - Builder: Validation, calculation and persistence

ERROR HANDLING:
  Errors are returned as JSON ErrorResponse with appropriate HTTP status:
  - 400: Malformed body or unparseable values
  - 404: Generator, subscriber or record not found
  - 409: Generator changed during submission, duplicate period
  - 422: Validation failed (details carries the issues)
  - 503: Repository unavailable, retry later
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/rateio-engine/factory"
	"github.com/warp/rateio-engine/rateio"
	"github.com/warp/rateio-engine/store/sqlite"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Repo    rateio.Repository
	Builder *rateio.Builder
	Logger  zerolog.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. repo may wrap store (e.g. with a
// cache); nil uses store directly.
func NewHandler(store *sqlite.Store, repo rateio.Repository, logger zerolog.Logger) *Handler {
	if repo == nil {
		repo = store
	}
	return &Handler{
		Store:   store,
		Repo:    repo,
		Builder: rateio.NewBuilder(repo, logger),
		Logger:  logger,
	}
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports liveness and database reachability.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unreachable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// GENERATOR HANDLERS
// =============================================================================

// ListGenerators returns all generators.
func (h *Handler) ListGenerators(w http.ResponseWriter, r *http.Request) {
	generators, err := h.Store.ListGenerators(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list generators", err)
		return
	}

	dtos := make([]GeneratorDTO, len(generators))
	for i, g := range generators {
		dtos[i] = toGeneratorDTO(g)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateGenerator creates or replaces a generator.
// POST /api/generators
func (h *Handler) CreateGenerator(w http.ResponseWriter, r *http.Request) {
	var req CreateGeneratorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" || strings.TrimSpace(req.Nickname) == "" {
		writeErrorCode(w, http.StatusBadRequest, "id and nickname are required", "invalid_input", nil)
		return
	}
	kwh, ok := parseKwh(w, req.ExpectedGenerationKwh, "expected_generation_kwh")
	if !ok {
		return
	}

	g := rateio.Generator{
		ID:                    rateio.GeneratorID(req.ID),
		Nickname:              strings.TrimSpace(req.Nickname),
		GridOperatorID:        strings.TrimSpace(req.GridOperatorID),
		ExpectedGenerationKwh: kwh,
	}
	for _, id := range req.LinkedSubscriberIDs {
		g.LinkedSubscriberIDs = append(g.LinkedSubscriberIDs, rateio.SubscriberID(id))
	}

	ctx := r.Context()
	if err := h.Store.SaveGenerator(ctx, g); err != nil {
		writeEngineError(w, "Failed to save generator", err)
		return
	}
	saved, err := h.Store.GetGenerator(ctx, g.ID)
	if err != nil {
		writeEngineError(w, "Failed to load generator", err)
		return
	}
	writeJSON(w, http.StatusCreated, toGeneratorDTO(saved))
}

// GetGenerator returns one generator.
func (h *Handler) GetGenerator(w http.ResponseWriter, r *http.Request) {
	g, err := h.Store.GetGenerator(r.Context(), generatorID(r))
	if err != nil {
		writeEngineError(w, "Failed to get generator", err)
		return
	}
	writeJSON(w, http.StatusOK, toGeneratorDTO(g))
}

// UpdateGenerator edits the expected generation. Records already saved
// keep their snapshot.
// PATCH /api/generators/{id}
func (h *Handler) UpdateGenerator(w http.ResponseWriter, r *http.Request) {
	var req UpdateGeneratorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	kwh, ok := parseKwh(w, req.ExpectedGenerationKwh, "expected_generation_kwh")
	if !ok {
		return
	}

	ctx := r.Context()
	id := generatorID(r)
	if err := h.Store.UpdateExpectedGeneration(ctx, id, kwh); err != nil {
		writeEngineError(w, "Failed to update generator", err)
		return
	}
	g, err := h.Store.GetGenerator(ctx, id)
	if err != nil {
		writeEngineError(w, "Failed to load generator", err)
		return
	}
	h.Logger.Info().
		Str("generator_id", string(id)).
		Str("expected_generation_kwh", kwhString(kwh)).
		Msg("expected generation updated")
	writeJSON(w, http.StatusOK, toGeneratorDTO(g))
}

// ListEligibleSubscribers returns the subscribers linked to a generator.
// GET /api/generators/{id}/subscribers
func (h *Handler) ListEligibleSubscribers(w http.ResponseWriter, r *http.Request) {
	subs, err := h.Store.GetEligibleSubscribers(r.Context(), generatorID(r))
	if err != nil {
		writeEngineError(w, "Failed to get subscribers", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriberDTOs(subs))
}

// LinkSubscriber makes a subscriber eligible for a generator.
// POST /api/generators/{id}/subscribers/{subscriberID}
func (h *Handler) LinkSubscriber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := generatorID(r)
	subID := rateio.SubscriberID(chi.URLParam(r, "subscriberID"))

	if err := h.Store.LinkSubscriber(ctx, id, subID); err != nil {
		writeEngineError(w, "Failed to link subscriber", err)
		return
	}
	g, err := h.Store.GetGenerator(ctx, id)
	if err != nil {
		writeEngineError(w, "Failed to load generator", err)
		return
	}
	writeJSON(w, http.StatusOK, toGeneratorDTO(g))
}

// =============================================================================
// SUBSCRIBER HANDLERS
// =============================================================================

// ListSubscribers returns all subscribers.
func (h *Handler) ListSubscribers(w http.ResponseWriter, r *http.Request) {
	subs, err := h.Store.ListSubscribers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list subscribers", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriberDTOs(subs))
}

// CreateSubscriber creates or replaces a subscriber.
// POST /api/subscribers
func (h *Handler) CreateSubscriber(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriberRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" || strings.TrimSpace(req.DisplayName) == "" {
		writeErrorCode(w, http.StatusBadRequest, "id and display_name are required", "invalid_input", nil)
		return
	}

	contracted := decimal.Zero
	if req.ContractedConsumptionKwh != "" {
		var ok bool
		if contracted, ok = parseKwh(w, req.ContractedConsumptionKwh, "contracted_consumption_kwh"); !ok {
			return
		}
	}

	sub := rateio.Subscriber{
		ID:                       rateio.SubscriberID(req.ID),
		DisplayName:              strings.TrimSpace(req.DisplayName),
		GridUnitID:               strings.TrimSpace(req.GridUnitID),
		ContractedConsumptionKwh: contracted,
	}
	if err := h.Store.SaveSubscriber(r.Context(), sub); err != nil {
		writeEngineError(w, "Failed to save subscriber", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubscriberDTO(sub))
}

// =============================================================================
// RATEIO HANDLERS
// =============================================================================

// ValidateRateio checks a proposed rateio without computing it.
// POST /api/generators/{id}/rateios/validate
func (h *Handler) ValidateRateio(w http.ResponseWriter, r *http.Request) {
	d, ok := h.readDraft(w, r)
	if !ok {
		return
	}
	res, err := h.Builder.Validate(r.Context(), d.GeneratorID, d.Mode, d.Entries())
	if err != nil {
		writeEngineError(w, "Failed to validate rateio", err)
		return
	}
	writeJSON(w, http.StatusOK, toValidationDTO(res))
}

// PreviewRateio computes the record a submission would persist.
// POST /api/generators/{id}/rateios/preview
func (h *Handler) PreviewRateio(w http.ResponseWriter, r *http.Request) {
	d, ok := h.readDraft(w, r)
	if !ok {
		return
	}
	rec, res, err := h.Builder.Preview(r.Context(), d)
	if err != nil {
		writeEngineError(w, "Failed to preview rateio", err)
		return
	}
	writeJSON(w, http.StatusOK, PreviewResponse{
		Record:     toRecordDTO(rec),
		Validation: toValidationDTO(res),
	})
}

// SubmitRateio validates, computes and persists a rateio.
// POST /api/generators/{id}/rateios
func (h *Handler) SubmitRateio(w http.ResponseWriter, r *http.Request) {
	d, ok := h.readDraft(w, r)
	if !ok {
		return
	}
	id, err := h.Builder.Submit(r.Context(), d)
	if err != nil {
		writeEngineError(w, "Failed to submit rateio", err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmitResponse{
		ID:       string(id),
		Warnings: toIssueDTOs(d.Warnings()),
	})
}

// ListRateios returns the generator's allocation history.
// GET /api/generators/{id}/rateios
func (h *Handler) ListRateios(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := generatorID(r)

	if _, err := h.Repo.GetGenerator(ctx, id); err != nil {
		writeEngineError(w, "Failed to get generator", err)
		return
	}
	records, err := h.Repo.ListAllocationHistory(ctx, id)
	if err != nil {
		writeEngineError(w, "Failed to list rateios", err)
		return
	}

	dtos := make([]RecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, HistoryResponse{GeneratorID: string(id), Records: dtos})
}

func (h *Handler) readDraft(w http.ResponseWriter, r *http.Request) (*rateio.Draft, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "Invalid request body", "invalid_input", err)
		return nil, false
	}
	d, err := factory.ParseDraft(generatorID(r), body)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "Invalid rateio", "invalid_input", err)
		return nil, false
	}
	return d, true
}

// =============================================================================
// HELPERS
// =============================================================================

func generatorID(r *http.Request) rateio.GeneratorID {
	return rateio.GeneratorID(chi.URLParam(r, "id"))
}

func toSubscriberDTOs(subs []rateio.Subscriber) []SubscriberDTO {
	dtos := make([]SubscriberDTO, len(subs))
	for i, s := range subs {
		dtos[i] = toSubscriberDTO(s)
	}
	return dtos
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "Invalid request body", "invalid_input", err)
		return false
	}
	return true
}

// parseKwh reads a non-negative energy amount.
func parseKwh(w http.ResponseWriter, v factory.Value, field string) (decimal.Decimal, bool) {
	d, err := factory.ParseValue(string(v))
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "Invalid "+field, "invalid_input", err)
		return decimal.Zero, false
	}
	if d.IsNegative() {
		writeErrorCode(w, http.StatusBadRequest, field+" must not be negative", "invalid_input", nil)
		return decimal.Zero, false
	}
	return d, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	writeErrorCode(w, status, message, "", err)
}

func writeErrorCode(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine and store errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	var (
		vf *rateio.ValidationFailedError
		gm *rateio.GeneratorMutationError
	)
	switch {
	case errors.As(err, &vf):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   message,
			Code:    "validation_failed",
			Details: toIssueDTOs(vf.Issues),
		})
	case rateio.IsNotFound(err):
		writeErrorCode(w, http.StatusNotFound, message, "not_found", err)
	case errors.As(err, &gm):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: message,
			Code:  "generator_changed",
			Details: map[string]string{
				"generator_id":   string(gm.GeneratorID),
				"confirmed_kwh":  kwhString(gm.Snapshot),
				"current_kwh":    kwhString(gm.Current),
				"retry_guidance": "reload the generator and confirm the new expected generation",
			},
		})
	case errors.Is(err, rateio.ErrDuplicatePeriod):
		writeErrorCode(w, http.StatusConflict, message, "duplicate_period", err)
	case errors.Is(err, rateio.ErrDraftClosed):
		writeErrorCode(w, http.StatusConflict, message, "draft_closed", err)
	case rateio.IsRetryable(err):
		writeErrorCode(w, http.StatusServiceUnavailable, message, "repository_unavailable", err)
	case errors.Is(err, factory.ErrInvalidValue):
		writeErrorCode(w, http.StatusBadRequest, message, "invalid_input", err)
	default:
		writeErrorCode(w, http.StatusInternalServerError, message, "internal", err)
	}
}
