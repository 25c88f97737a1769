/*
distribute.go - Turns validated entries into kWh per subscriber

PERCENTAGE MODE (largest remainder):
  1. exact_i    = total * pct_i / 100
  2. floor_i    = exact_i rounded down to Scale
  3. residual   = total - sum(floor_i), counted in units of 0.01 kWh
  4. residual > 0: hand out one unit each by remainder (exact - floor)
     descending, ties by input order. More units than entries can only
     happen inside the sum tolerance; those are split by share first and
     the rest goes by largest fraction.
  5. residual < 0 (percentages summed slightly above 100): take back the
     same way, remainder ascending, ties by later input first, never
     below zero.
  Entries at 0% never take part in the residual pass.

  EXAMPLE: total 10, [33.33, 33.33, 33.34]
    exact   3.333  3.333  3.334
    floor   3.33   3.33   3.33    (sum 9.99, residual 1 unit)
    result  3.33   3.33   3.34

PRIORITY MODE (waterfall):
  Entries sorted by rank ascending. The first rank takes the whole pool,
  everyone after the pool is empty receives 0.

Leftover is zero in both modes. The calculator does not know the
generator's links: callers must run Validate first.
*/
package rateio

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Distribution is the calculator output.
type Distribution struct {
	TotalKwh    decimal.Decimal
	Results     []Result
	LeftoverKwh decimal.Decimal
}

// Distribute computes the allocation for validated entries.
// Returns *PreconditionError if the input could never have passed validation.
func Distribute(mode Mode, entries []Entry, totalKwh decimal.Decimal) (Distribution, error) {
	if err := checkPreconditions(mode, entries, totalKwh); err != nil {
		return Distribution{}, err
	}

	total := Quantize(totalKwh)
	var results []Result
	switch mode {
	case ModePercentage:
		results = distributePercentage(entries, total)
	case ModePriority:
		results = distributePriority(entries, total)
	}

	allocated := decimal.Zero
	for _, r := range results {
		allocated = allocated.Add(r.AllocatedKwh)
	}
	return Distribution{
		TotalKwh:    total,
		Results:     results,
		LeftoverKwh: total.Sub(allocated),
	}, nil
}

// =============================================================================
// PERCENTAGE
// =============================================================================

func distributePercentage(entries []Entry, total decimal.Decimal) []Result {
	n := len(entries)
	alloc := make([]decimal.Decimal, n)
	remainder := make([]decimal.Decimal, n)

	floored := decimal.Zero
	for i, e := range entries {
		exact := total.Mul(e.RawValue).Div(hundred)
		alloc[i] = exact.RoundFloor(Scale)
		remainder[i] = exact.Sub(alloc[i])
		floored = floored.Add(alloc[i])
	}

	units := total.Sub(floored).Shift(Scale).IntPart()
	switch {
	case units > 0:
		order := withShare(byRemainder(remainder, true), entries)
		var give []int64
		if units <= int64(len(order)) {
			give = make([]int64, n)
			for _, i := range order[:units] {
				give[i] = 1
			}
		} else {
			give = proportional(units, entries, order)
		}
		for i, g := range give {
			alloc[i] = alloc[i].Add(Unit.Mul(decimal.NewFromInt(g)))
		}
	case units < 0:
		order := withShare(byRemainder(remainder, false), entries)
		take := -units
		if take > int64(len(order)) {
			for i, g := range proportional(take, entries, order) {
				held := alloc[i].Shift(Scale).IntPart()
				if g > held {
					g = held
				}
				alloc[i] = alloc[i].Sub(Unit.Mul(decimal.NewFromInt(g)))
				take -= g
			}
		}
		for take > 0 {
			progressed := false
			for _, i := range order {
				if take == 0 {
					break
				}
				if alloc[i].IsPositive() {
					alloc[i] = alloc[i].Sub(Unit)
					take--
					progressed = true
				}
			}
			if !progressed {
				break
			}
		}
	}

	results := make([]Result, n)
	for i, e := range entries {
		results[i] = Result{SubscriberID: e.SubscriberID, AllocatedKwh: alloc[i], RawValue: e.RawValue}
	}
	return results
}

// withShare drops entries with a 0% share from a residual order.
func withShare(order []int, entries []Entry) []int {
	out := order[:0]
	for _, i := range order {
		if entries[i].RawValue.IsPositive() {
			out = append(out, i)
		}
	}
	return out
}

// proportional splits units across the ordered entries by their share.
// Each entry gets the whole part of units*share/sum; the units still left
// (fewer than len(order)) go one each by largest fraction, order breaking ties.
func proportional(units int64, entries []Entry, order []int) []int64 {
	give := make([]int64, len(entries))
	sum := decimal.Zero
	for _, i := range order {
		sum = sum.Add(entries[i].RawValue)
	}
	if !sum.IsPositive() {
		return give
	}

	u := decimal.NewFromInt(units)
	frac := make([]decimal.Decimal, len(entries))
	rest := units
	for _, i := range order {
		q, r := u.Mul(entries[i].RawValue).QuoRem(sum, 0)
		give[i] = q.IntPart()
		frac[i] = r
		rest -= give[i]
	}

	byFrac := append([]int(nil), order...)
	sort.SliceStable(byFrac, func(a, b int) bool {
		return frac[byFrac[a]].GreaterThan(frac[byFrac[b]])
	})
	for _, i := range byFrac {
		if rest <= 0 {
			break
		}
		give[i]++
		rest--
	}
	return give
}

// byRemainder returns entry indices ordered for residual distribution.
// Descending: largest remainder first, earlier input wins ties.
// Ascending: smallest remainder first, later input wins ties.
func byRemainder(remainder []decimal.Decimal, descending bool) []int {
	order := make([]int, len(remainder))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := remainder[order[a]], remainder[order[b]]
		if descending {
			return ra.GreaterThan(rb)
		}
		if ra.Equal(rb) {
			return order[a] > order[b]
		}
		return ra.LessThan(rb)
	})
	return order
}

// =============================================================================
// PRIORITY
// =============================================================================

func distributePriority(entries []Entry, total decimal.Decimal) []Result {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].RawValue.LessThan(sorted[b].RawValue)
	})

	pool := total
	results := make([]Result, len(sorted))
	for i, e := range sorted {
		// Waterfall without caps: the first subscriber drains the pool.
		take := pool
		pool = pool.Sub(take)
		results[i] = Result{SubscriberID: e.SubscriberID, AllocatedKwh: take, RawValue: e.RawValue}
	}
	return results
}

// =============================================================================
// PRECONDITIONS
// =============================================================================

func checkPreconditions(mode Mode, entries []Entry, total decimal.Decimal) error {
	fail := func(format string, args ...any) error {
		return &PreconditionError{Mode: mode, Reason: fmt.Sprintf(format, args...)}
	}

	if !mode.IsValid() {
		return fail("unknown mode")
	}
	if len(entries) == 0 {
		return fail("no entries")
	}
	if total.IsNegative() {
		return fail("negative total %s", total.String())
	}

	seen := make(map[SubscriberID]bool, len(entries))
	for _, e := range entries {
		if seen[e.SubscriberID] {
			return fail("duplicate subscriber %s", e.SubscriberID)
		}
		seen[e.SubscriberID] = true
	}

	switch mode {
	case ModePercentage:
		sum := decimal.Zero
		for _, e := range entries {
			if e.RawValue.IsNegative() || e.RawValue.GreaterThan(hundred) {
				return fail("percentage %s out of range", e.RawValue.String())
			}
			sum = sum.Add(e.RawValue)
		}
		if !percentSumAccepted(sum) {
			return fail("percentages sum to %s", sum.String())
		}
	case ModePriority:
		ranks := make(map[string]bool, len(entries))
		for _, e := range entries {
			if !isPositiveWhole(e.RawValue) {
				return fail("priority %s is not a positive whole number", e.RawValue.String())
			}
			key := e.RawValue.Truncate(0).String()
			if ranks[key] {
				return fail("duplicate priority %s", key)
			}
			ranks[key] = true
		}
	}
	return nil
}
