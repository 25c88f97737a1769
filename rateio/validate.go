/*
validate.go - Consistency rules for a proposed rateio

PURPOSE:
  Decide whether (mode, entries, generator) is acceptable before any kWh
  math runs. Rules collect every problem at once so the operator can fix
  all offending rows in one pass.

RULES (both modes):
  EmptySelection         no entries
  DuplicateSubscriber    same subscriber twice
  SubscriberNotEligible  subscriber not linked to the generator
  UnknownMode            mode is neither percentage nor priority
  NegativeGeneration     generator expects < 0 kWh

PERCENTAGE:
  OutOfRange             value < 0 or > 100
  PercentageSumMismatch  sum outside [99.99, 100.01], never normalized
  ZeroPercentage         warning only, a 0% participant is allowed

PRIORITY:
  InvalidPriority        not a positive whole number
  DuplicatePriority      two entries share a rank
*/
package rateio

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SumTolerance is the accepted deviation of the percentage sum from 100.
var SumTolerance = decimal.New(1, -2)

// =============================================================================
// ISSUES
// =============================================================================

type IssueCode string

const (
	CodeEmptySelection        IssueCode = "EmptySelection"
	CodeDuplicateSubscriber   IssueCode = "DuplicateSubscriber"
	CodeSubscriberNotEligible IssueCode = "SubscriberNotEligible"
	CodeOutOfRange            IssueCode = "OutOfRange"
	CodePercentageSumMismatch IssueCode = "PercentageSumMismatch"
	CodeInvalidPriority       IssueCode = "InvalidPriority"
	CodeDuplicatePriority     IssueCode = "DuplicatePriority"
	CodeUnknownMode           IssueCode = "UnknownMode"
	CodeNegativeGeneration    IssueCode = "NegativeGeneration"

	// Warnings
	CodeZeroPercentage IssueCode = "ZeroPercentage"
)

// Issue is one validation finding. SubscriberID is empty for set-level issues.
type Issue struct {
	Code         IssueCode
	SubscriberID SubscriberID
	Message      string
}

func (i Issue) String() string {
	if i.SubscriberID == "" {
		return fmt.Sprintf("%s: %s", i.Code, i.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", i.Code, i.SubscriberID, i.Message)
}

// ValidationResult is the outcome of Validate. Valid is false iff Errors is non-empty.
type ValidationResult struct {
	Valid    bool
	Errors   []Issue
	Warnings []Issue
}

// Has reports whether an error with the given code was produced.
func (r ValidationResult) Has(code IssueCode) bool {
	for _, is := range r.Errors {
		if is.Code == code {
			return true
		}
	}
	return false
}

// HasWarning reports whether a warning with the given code was produced.
func (r ValidationResult) HasWarning(code IssueCode) bool {
	for _, is := range r.Warnings {
		if is.Code == code {
			return true
		}
	}
	return false
}

// =============================================================================
// VALIDATE
// =============================================================================

// Validate checks a proposed entry set against the generator. Pure.
func Validate(mode Mode, entries []Entry, generator Generator) ValidationResult {
	v := &validator{}

	if !mode.IsValid() {
		v.fail(CodeUnknownMode, "", fmt.Sprintf("unknown allocation mode %q", mode))
	}
	if generator.ExpectedGenerationKwh.IsNegative() {
		v.fail(CodeNegativeGeneration, "", fmt.Sprintf("generator %s expects %s kWh",
			generator.ID, generator.ExpectedGenerationKwh.String()))
	}
	if len(entries) == 0 {
		v.fail(CodeEmptySelection, "", "select at least one subscriber")
		return v.result()
	}

	seen := make(map[SubscriberID]bool, len(entries))
	for _, e := range entries {
		if seen[e.SubscriberID] {
			v.fail(CodeDuplicateSubscriber, e.SubscriberID, "subscriber selected more than once")
			continue
		}
		seen[e.SubscriberID] = true
		if !generator.IsLinked(e.SubscriberID) {
			v.fail(CodeSubscriberNotEligible, e.SubscriberID,
				fmt.Sprintf("subscriber is not linked to generator %s", generator.ID))
		}
	}

	switch mode {
	case ModePercentage:
		v.percentage(entries)
	case ModePriority:
		v.priority(entries)
	}
	return v.result()
}

type validator struct {
	errors   []Issue
	warnings []Issue
}

func (v *validator) fail(code IssueCode, id SubscriberID, msg string) {
	v.errors = append(v.errors, Issue{Code: code, SubscriberID: id, Message: msg})
}

func (v *validator) warn(code IssueCode, id SubscriberID, msg string) {
	v.warnings = append(v.warnings, Issue{Code: code, SubscriberID: id, Message: msg})
}

func (v *validator) result() ValidationResult {
	return ValidationResult{Valid: len(v.errors) == 0, Errors: v.errors, Warnings: v.warnings}
}

func (v *validator) percentage(entries []Entry) {
	sum := decimal.Zero
	for _, e := range entries {
		if e.RawValue.IsNegative() || e.RawValue.GreaterThan(hundred) {
			v.fail(CodeOutOfRange, e.SubscriberID,
				fmt.Sprintf("percentage %s is outside [0, 100]", e.RawValue.String()))
		}
		if e.RawValue.IsZero() {
			v.warn(CodeZeroPercentage, e.SubscriberID, "subscriber participates with 0%")
		}
		sum = sum.Add(e.RawValue)
	}
	if !percentSumAccepted(sum) {
		v.fail(CodePercentageSumMismatch, "",
			fmt.Sprintf("percentages sum to %s, expected 100", sum.String()))
	}
}

func (v *validator) priority(entries []Entry) {
	ranks := make(map[string]SubscriberID, len(entries))
	for _, e := range entries {
		if !isPositiveWhole(e.RawValue) {
			v.fail(CodeInvalidPriority, e.SubscriberID,
				fmt.Sprintf("priority %s is not a positive whole number", e.RawValue.String()))
			continue
		}
		key := e.RawValue.Truncate(0).String()
		if first, dup := ranks[key]; dup {
			v.fail(CodeDuplicatePriority, e.SubscriberID,
				fmt.Sprintf("priority %s already used by %s", key, first))
			continue
		}
		ranks[key] = e.SubscriberID
	}
}

func percentSumAccepted(sum decimal.Decimal) bool {
	return sum.Sub(hundred).Abs().LessThanOrEqual(SumTolerance)
}

func isPositiveWhole(d decimal.Decimal) bool {
	return d.IsPositive() && d.IsInteger()
}
