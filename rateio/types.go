/*
Package rateio provides the energy allocation (rateio) engine.

PURPOSE:
  A generator (solar plant) produces an expected amount of energy per period.
  That energy is apportioned among the subscribers linked to the generator,
  either by fixed percentage shares or by strict priority order. This package
  validates a proposed apportionment, computes the kWh each subscriber gets,
  and turns the result into an immutable allocation record.

KEY CONCEPTS IN THIS FILE (types.go):
  - Generator / Subscriber: read-only views of the external records
  - Mode: how raw entry values are interpreted (percentage or priority)
  - Entry: one operator-supplied value per selected subscriber
  - Result: computed kWh for one subscriber
  - Record: the persisted snapshot of a whole rateio

DESIGN PRINCIPLES:
  1. Immutability: Records are never modified, corrections create new ones
  2. Precision: Uses decimal.Decimal, fixed at Scale decimal places
  3. Type Safety: Distinct ID types for generators, subscribers and records
  4. Reconciliation: sum(results) + leftover == total, exactly

USAGE:
  res := rateio.Validate(rateio.ModePercentage, entries, generator)
  if !res.Valid {
      // show res.Errors to the operator
  }
  dist, err := rateio.Distribute(rateio.ModePercentage, entries, generator.ExpectedGenerationKwh)

SEE ALSO:
  - validate.go: Validation rules
  - distribute.go: Distribution calculator
  - builder.go: Orchestrator and draft state machine
  - repository.go: Persistence contract
*/
package rateio

import (
	"time"

	"github.com/shopspring/decimal"
)

// Scale is the fixed number of decimal places used for energy amounts.
const Scale int32 = 2

// Unit is the smallest representable energy amount (0.01 kWh).
var Unit = decimal.New(1, -Scale)

var hundred = decimal.NewFromInt(100)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type GeneratorID string
type SubscriberID string
type RecordID string

// =============================================================================
// EXTERNAL RECORDS - Read-only views
// =============================================================================

// Generator is a power plant whose expected output is apportioned.
type Generator struct {
	ID                    GeneratorID
	Nickname              string
	GridOperatorID        string
	ExpectedGenerationKwh decimal.Decimal

	// Subscribers eligible for allocation against this generator.
	LinkedSubscriberIDs []SubscriberID
}

// IsLinked reports whether the subscriber is eligible for this generator.
func (g Generator) IsLinked(id SubscriberID) bool {
	for _, linked := range g.LinkedSubscriberIDs {
		if linked == id {
			return true
		}
	}
	return false
}

// Subscriber is an account entitled to a share of a generator's output.
// DisplayName and GridUnitID are carried into results for audit only.
type Subscriber struct {
	ID                       SubscriberID
	DisplayName              string
	GridUnitID               string
	ContractedConsumptionKwh decimal.Decimal // informational, never a cap
}

// =============================================================================
// MODE
// =============================================================================

type Mode string

const (
	ModePercentage Mode = "percentage"
	ModePriority   Mode = "priority"
)

func (m Mode) IsValid() bool {
	return m == ModePercentage || m == ModePriority
}

// ParseMode converts user input into a Mode. Unknown values are returned
// as-is so validation can report them as UnknownMode.
func ParseMode(s string) Mode {
	switch s {
	case "percentage", "percent", "porcentagem", "%":
		return ModePercentage
	case "priority", "prioridade":
		return ModePriority
	default:
		return Mode(s)
	}
}

// =============================================================================
// ENTRY / RESULT
// =============================================================================

// Entry is the operator input for one selected subscriber.
//
// Under ModePercentage RawValue is a percent in [0, 100].
// Under ModePriority RawValue is a positive whole rank, lower served first.
type Entry struct {
	SubscriberID SubscriberID
	RawValue     decimal.Decimal
}

// Result is the computed allocation for one subscriber.
type Result struct {
	SubscriberID SubscriberID
	DisplayName  string
	GridUnitID   string
	AllocatedKwh decimal.Decimal
	RawValue     decimal.Decimal // original percentage or priority, for audit
}

// =============================================================================
// RECORD - Immutable allocation snapshot
// =============================================================================

type Status string

const (
	StatusValid    Status = "valid"
	StatusRejected Status = "rejected" // transient, never persisted
)

// Record is the persisted outcome of a rateio.
//
// INVARIANTS:
//   - Built only from entries that passed validation.
//   - sum(Results.AllocatedKwh) + LeftoverKwh == TotalExpectedKwh.
//   - TotalExpectedKwh is a snapshot; later generator edits don't touch it.
type Record struct {
	ID               RecordID // assigned by the repository
	GeneratorID      GeneratorID
	Mode             Mode
	Period           string // optional "YYYY-MM" label
	CreatedAt        time.Time
	TotalExpectedKwh decimal.Decimal
	Results          []Result
	LeftoverKwh      decimal.Decimal
	Status           Status
}

// AllocatedKwh sums the kWh assigned to subscribers.
func (r Record) AllocatedKwh() decimal.Decimal {
	sum := decimal.Zero
	for _, res := range r.Results {
		sum = sum.Add(res.AllocatedKwh)
	}
	return sum
}

// Reconciles reports whether results plus leftover equal the snapshot total.
func (r Record) Reconciles() bool {
	return r.AllocatedKwh().Add(r.LeftoverKwh).Equal(r.TotalExpectedKwh)
}

// Quantize rounds an energy amount to Scale places, half away from zero.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}
