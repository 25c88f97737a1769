/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external API contract. Every kWh and raw
  value crosses the wire as a fixed two-decimal string so clients never
  round through float64.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Generator:
    GeneratorDTO, CreateGeneratorRequest, UpdateGeneratorRequest

  Subscriber:
    SubscriberDTO, CreateSubscriberRequest

  Rateio:
    factory.DraftJSON (request body), ValidationDTO, IssueDTO,
    RecordDTO, ResultDTO, PreviewResponse, SubmitResponse, HistoryResponse

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and in rateio.Validate, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/entries.go: DraftJSON and Value
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/rateio-engine/factory"
	"github.com/warp/rateio-engine/rateio"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// GeneratorDTO represents a generator in API responses.
type GeneratorDTO struct {
	ID                    string   `json:"id"`
	Nickname              string   `json:"nickname"`
	GridOperatorID        string   `json:"grid_operator_id,omitempty"`
	ExpectedGenerationKwh string   `json:"expected_generation_kwh"`
	LinkedSubscriberIDs   []string `json:"linked_subscriber_ids"`
}

// CreateGeneratorRequest is the request to create or replace a generator.
type CreateGeneratorRequest struct {
	ID                    string        `json:"id"`
	Nickname              string        `json:"nickname"`
	GridOperatorID        string        `json:"grid_operator_id"`
	ExpectedGenerationKwh factory.Value `json:"expected_generation_kwh"`
	LinkedSubscriberIDs   []string      `json:"linked_subscriber_ids"`
}

// UpdateGeneratorRequest edits the expected generation.
type UpdateGeneratorRequest struct {
	ExpectedGenerationKwh factory.Value `json:"expected_generation_kwh"`
}

// SubscriberDTO represents a subscriber in API responses.
type SubscriberDTO struct {
	ID                       string `json:"id"`
	DisplayName              string `json:"display_name"`
	GridUnitID               string `json:"grid_unit_id,omitempty"`
	ContractedConsumptionKwh string `json:"contracted_consumption_kwh"`
}

// CreateSubscriberRequest is the request to create or replace a subscriber.
type CreateSubscriberRequest struct {
	ID                       string        `json:"id"`
	DisplayName              string        `json:"display_name"`
	GridUnitID               string        `json:"grid_unit_id"`
	ContractedConsumptionKwh factory.Value `json:"contracted_consumption_kwh"`
}

// IssueDTO is one validation finding.
type IssueDTO struct {
	Code         string `json:"code"`
	SubscriberID string `json:"subscriber_id,omitempty"`
	Message      string `json:"message"`
}

// ValidationDTO mirrors rateio.ValidationResult.
type ValidationDTO struct {
	Valid    bool       `json:"valid"`
	Errors   []IssueDTO `json:"errors"`
	Warnings []IssueDTO `json:"warnings"`
}

// ResultDTO is one subscriber's allocation.
type ResultDTO struct {
	SubscriberID string `json:"subscriber_id"`
	DisplayName  string `json:"display_name,omitempty"`
	GridUnitID   string `json:"grid_unit_id,omitempty"`
	AllocatedKwh string `json:"allocated_kwh"`
	RawValue     string `json:"raw_value"`
}

// RecordDTO is an allocation record as shown in the reporting view.
type RecordDTO struct {
	ID               string      `json:"id,omitempty"`
	GeneratorID      string      `json:"generator_id"`
	Mode             string      `json:"mode"`
	Period           string      `json:"period,omitempty"`
	Status           string      `json:"status"`
	CreatedAt        string      `json:"created_at"`
	TotalExpectedKwh string      `json:"total_expected_kwh"`
	AllocatedKwh     string      `json:"allocated_kwh"`
	LeftoverKwh      string      `json:"leftover_kwh"`
	Results          []ResultDTO `json:"results"`
}

// PreviewResponse is returned by the preview endpoint.
type PreviewResponse struct {
	Record     RecordDTO     `json:"record"`
	Validation ValidationDTO `json:"validation"`
}

// SubmitResponse is returned when a rateio is persisted.
type SubmitResponse struct {
	ID       string     `json:"id"`
	Warnings []IssueDTO `json:"warnings"`
}

// HistoryResponse lists a generator's records, newest first.
type HistoryResponse struct {
	GeneratorID string      `json:"generator_id"`
	Records     []RecordDTO `json:"records"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"` // "percentage" or "priority"
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func kwhString(d decimal.Decimal) string {
	return d.StringFixed(rateio.Scale)
}

func toGeneratorDTO(g rateio.Generator) GeneratorDTO {
	ids := make([]string, len(g.LinkedSubscriberIDs))
	for i, id := range g.LinkedSubscriberIDs {
		ids[i] = string(id)
	}
	return GeneratorDTO{
		ID:                    string(g.ID),
		Nickname:              g.Nickname,
		GridOperatorID:        g.GridOperatorID,
		ExpectedGenerationKwh: kwhString(g.ExpectedGenerationKwh),
		LinkedSubscriberIDs:   ids,
	}
}

func toSubscriberDTO(s rateio.Subscriber) SubscriberDTO {
	return SubscriberDTO{
		ID:                       string(s.ID),
		DisplayName:              s.DisplayName,
		GridUnitID:               s.GridUnitID,
		ContractedConsumptionKwh: kwhString(s.ContractedConsumptionKwh),
	}
}

func toIssueDTOs(issues []rateio.Issue) []IssueDTO {
	out := make([]IssueDTO, len(issues))
	for i, is := range issues {
		out[i] = IssueDTO{
			Code:         string(is.Code),
			SubscriberID: string(is.SubscriberID),
			Message:      is.Message,
		}
	}
	return out
}

func toValidationDTO(res rateio.ValidationResult) ValidationDTO {
	return ValidationDTO{
		Valid:    res.Valid,
		Errors:   toIssueDTOs(res.Errors),
		Warnings: toIssueDTOs(res.Warnings),
	}
}

func toRecordDTO(rec rateio.Record) RecordDTO {
	results := make([]ResultDTO, len(rec.Results))
	for i, r := range rec.Results {
		results[i] = ResultDTO{
			SubscriberID: string(r.SubscriberID),
			DisplayName:  r.DisplayName,
			GridUnitID:   r.GridUnitID,
			AllocatedKwh: kwhString(r.AllocatedKwh),
			RawValue:     kwhString(r.RawValue),
		}
	}
	return RecordDTO{
		ID:               string(rec.ID),
		GeneratorID:      string(rec.GeneratorID),
		Mode:             string(rec.Mode),
		Period:           rec.Period,
		Status:           string(rec.Status),
		CreatedAt:        rec.CreatedAt.UTC().Format(time.RFC3339),
		TotalExpectedKwh: kwhString(rec.TotalExpectedKwh),
		AllocatedKwh:     kwhString(rec.AllocatedKwh()),
		LeftoverKwh:      kwhString(rec.LeftoverKwh),
		Results:          results,
	}
}
