/*
Package factory converts operator input into rateio drafts.

PURPOSE:
  The dispatcher screen and the HTTP API send values as text, in the
  operator's locale. The factory normalizes them into decimals and builds a
  rateio.Draft the builder can submit.

ACCEPTED VALUE FORMS:
  "33.33"   decimal point
  "33,33"   decimal comma
  "50%"     trailing percent sign
  " 2 "     surrounding whitespace
  42        bare JSON number

  Thousands separators are NOT accepted: "1.000,50" is an error.
  Neither is exponent notation ("1e3"), nor more than maxDigits digits.

JSON SCHEMA:
  {
    "mode": "percentage",
    "period": "2026-03",
    "confirmed_kwh": "1000.00",
    "entries": [
      {"subscriber_id": "sub-a", "value": "60"},
      {"subscriber_id": "sub-b", "value": "40%"}
    ]
  }

USAGE:
  draft, err := factory.ParseDraft("gen-1", body)
  if err != nil {
      var pe *factory.ParseError
      errors.As(err, &pe) // pe.Index, pe.Input
  }
  id, err := builder.Submit(ctx, draft)
*/
package factory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/rateio-engine/rateio"
)

// ErrInvalidValue is matched by every ParseError.
var ErrInvalidValue = errors.New("invalid entry value")

// ParseError reports input that could not be read as a number.
// Index is the entry position, or -1 for a standalone value.
type ParseError struct {
	Index int
	Field string
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	field := e.Field
	if field == "" {
		field = "value"
	}
	if e.Index >= 0 {
		return fmt.Sprintf("entries[%d].%s: cannot parse %q", e.Index, field, e.Input)
	}
	return fmt.Sprintf("%s: cannot parse %q", field, e.Input)
}

func (e *ParseError) Unwrap() error { return ErrInvalidValue }

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// Value is a number that may arrive as a JSON string or a JSON number.
type Value string

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Value(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*v = ""
		return nil
	}
	*v = Value(b)
	return nil
}

// EntryInput is one row of operator input.
type EntryInput struct {
	SubscriberID string `json:"subscriber_id"`
	Value        Value  `json:"value"`
}

// DraftJSON is the JSON representation of a rateio submission.
type DraftJSON struct {
	Mode         string       `json:"mode"`
	Period       string       `json:"period,omitempty"`
	ConfirmedKwh *Value       `json:"confirmed_kwh,omitempty"`
	Entries      []EntryInput `json:"entries"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseValue reads an operator-entered number.
func ParseValue(s string) (decimal.Decimal, error) {
	in := s
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	if s == "" {
		return decimal.Zero, &ParseError{Index: -1, Input: in}
	}
	if strings.Count(s, ",") > 1 || (strings.Contains(s, ",") && strings.Contains(s, ".")) {
		return decimal.Zero, &ParseError{Index: -1, Input: in}
	}
	s = strings.Replace(s, ",", ".", 1)
	if !isPlainDecimal(s) {
		return decimal.Zero, &ParseError{Index: -1, Input: in}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ParseError{Index: -1, Input: in, Err: err}
	}
	return d, nil
}

// maxDigits bounds the digits of a single value. Far above any real kWh
// figure or percentage.
const maxDigits = 24

// isPlainDecimal reports whether s is an optionally signed run of digits
// with at most one decimal point.
func isPlainDecimal(s string) bool {
	if s != "" && (s[0] == '-' || s[0] == '+') {
		s = s[1:]
	}
	digits, points := 0, 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
			points++
		default:
			return false
		}
	}
	return digits > 0 && digits <= maxDigits && points <= 1
}

// ParseEntries converts input rows into engine entries, keeping their order.
// The first failing row is reported with its index. Range and duplicate
// checks are left to rateio.Validate.
func ParseEntries(inputs []EntryInput) ([]rateio.Entry, error) {
	entries := make([]rateio.Entry, 0, len(inputs))
	for i, in := range inputs {
		id := strings.TrimSpace(in.SubscriberID)
		if id == "" {
			return nil, &ParseError{Index: i, Field: "subscriber_id", Input: in.SubscriberID}
		}
		d, err := ParseValue(string(in.Value))
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.Index = i
			}
			return nil, err
		}
		entries = append(entries, rateio.Entry{SubscriberID: rateio.SubscriberID(id), RawValue: d})
	}
	return entries, nil
}

// FromJSON builds a draft for the generator from decoded input.
func FromJSON(generatorID rateio.GeneratorID, dj DraftJSON) (*rateio.Draft, error) {
	entries, err := ParseEntries(dj.Entries)
	if err != nil {
		return nil, err
	}

	d := rateio.NewDraft(generatorID, rateio.ParseMode(strings.ToLower(strings.TrimSpace(dj.Mode))))
	d.Period = strings.TrimSpace(dj.Period)
	if dj.ConfirmedKwh != nil && *dj.ConfirmedKwh != "" {
		kwh, err := ParseValue(string(*dj.ConfirmedKwh))
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.Field = "confirmed_kwh"
			}
			return nil, err
		}
		d.ConfirmedKwh = &kwh
	}
	if err := d.Replace(entries); err != nil {
		return nil, err
	}
	return d, nil
}

// ParseDraft parses a JSON submission body.
func ParseDraft(generatorID rateio.GeneratorID, body []byte) (*rateio.Draft, error) {
	var dj DraftJSON
	if err := json.Unmarshal(body, &dj); err != nil {
		return nil, fmt.Errorf("failed to parse rateio JSON: %w", err)
	}
	return FromJSON(generatorID, dj)
}
