/*
builder.go - Rateio orchestration and the draft lifecycle

PURPOSE:
  The only component with side effects. It reads the generator and its
  eligible subscribers, validates the operator's entries, computes the
  distribution, snapshots the result and hands it to the repository.

DRAFT STATE MACHINE:
  ┌────────────┐ Submit ┌────────────┐ invalid ┌──────────┐
  │ Collecting │──────▶ │ Validating │───────▶ │ Rejected │──┐ edit / resubmit
  └────────────┘        └────────────┘         └──────────┘  │
        ▲                     │ valid                        │
        │                     ▼                              │
        │               ┌──────────┐  write ok  ┌───────────┐ │
        │               │ Computed │──────────▶ │ Persisted │ │ (terminal)
        │               └──────────┘            └───────────┘ │
        │                     │ write/read error              │
        │                     ▼                               │
        │               ┌──────────┐                          │
        └────────────── │  Failed  │ ◀────────────────────────┘
           edit/retry   └──────────┘

ORDERING:
  read generator -> read eligible -> validate -> compute -> re-read
  generator -> save. Nothing is reordered. Cancellation is honoured until
  the save starts; the save itself runs on a non-cancellable context.

CONCURRENT EDITS:
  The generator is read twice. If ExpectedGenerationKwh moved between the
  reads (or differs from the value the operator confirmed on screen) the
  submission fails with ErrConcurrentGeneratorMutation and nothing is
  written.

EXAMPLE:
  b := rateio.NewBuilder(repo, logger)
  id, err := b.BuildAndSubmit(ctx, "gen-1", rateio.ModePriority, entries)
*/
package rateio

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// DRAFT - Operator session state
// =============================================================================

type State string

const (
	StateCollecting State = "collecting"
	StateValidating State = "validating"
	StateRejected   State = "rejected"
	StateComputed   State = "computed"
	StatePersisted  State = "persisted"
	StateFailed     State = "failed"
)

// Draft collects entries for one generator before submission.
// A Draft is not safe for concurrent use.
type Draft struct {
	GeneratorID GeneratorID
	Mode        Mode
	Period      string

	// ConfirmedKwh is the expected generation the operator saw when
	// assembling the draft. Nil skips the check.
	ConfirmedKwh *decimal.Decimal

	entries  []Entry
	state    State
	issues   []Issue
	warnings []Issue
	recordID RecordID
	lastErr  error
}

func NewDraft(generatorID GeneratorID, mode Mode) *Draft {
	return &Draft{GeneratorID: generatorID, Mode: mode, state: StateCollecting}
}

// Set adds or replaces the value for a subscriber. A replaced entry keeps
// its position.
func (d *Draft) Set(id SubscriberID, raw decimal.Decimal) error {
	if err := d.edit(); err != nil {
		return err
	}
	for i := range d.entries {
		if d.entries[i].SubscriberID == id {
			d.entries[i].RawValue = raw
			return nil
		}
	}
	d.entries = append(d.entries, Entry{SubscriberID: id, RawValue: raw})
	return nil
}

// Replace swaps in a whole selection. Duplicates are kept so validation can
// report them.
func (d *Draft) Replace(entries []Entry) error {
	if err := d.edit(); err != nil {
		return err
	}
	d.entries = append([]Entry(nil), entries...)
	return nil
}

// Remove drops a subscriber from the selection.
func (d *Draft) Remove(id SubscriberID) error {
	if err := d.edit(); err != nil {
		return err
	}
	for i := range d.entries {
		if d.entries[i].SubscriberID == id {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (d *Draft) edit() error {
	if d.state == StatePersisted {
		return ErrDraftClosed
	}
	d.state = StateCollecting
	return nil
}

// Entries returns a copy of the current selection.
func (d *Draft) Entries() []Entry {
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

func (d *Draft) State() State       { return d.state }
func (d *Draft) Errors() []Issue    { return d.issues }
func (d *Draft) Warnings() []Issue  { return d.warnings }
func (d *Draft) RecordID() RecordID { return d.recordID }
func (d *Draft) Err() error         { return d.lastErr }

// =============================================================================
// BUILDER
// =============================================================================

// Builder orchestrates validation, calculation and persistence.
// It holds no per-submission state and may be shared.
type Builder struct {
	Repository Repository
	Clock      func() time.Time
	Logger     zerolog.Logger
}

func NewBuilder(repo Repository, logger zerolog.Logger) *Builder {
	return &Builder{Repository: repo, Logger: logger}
}

func (b *Builder) now() time.Time {
	if b.Clock != nil {
		return b.Clock().UTC()
	}
	return time.Now().UTC()
}

// BuildAndSubmit validates, computes and persists a rateio in one call.
func (b *Builder) BuildAndSubmit(ctx context.Context, generatorID GeneratorID, mode Mode, entries []Entry) (RecordID, error) {
	d := NewDraft(generatorID, mode)
	d.entries = append(d.entries, entries...)
	return b.Submit(ctx, d)
}

// Validate runs the validation rules against current repository data
// without computing or persisting anything.
func (b *Builder) Validate(ctx context.Context, generatorID GeneratorID, mode Mode, entries []Entry) (ValidationResult, error) {
	gen, subs, err := b.load(ctx, generatorID)
	if err != nil {
		return ValidationResult{}, err
	}
	return Validate(mode, entries, eligibleView(gen, subs)), nil
}

// Preview validates and computes the draft and returns the record it would
// persist. A rejected draft yields a StatusRejected record and the
// validation result; err is reserved for infrastructure failures.
func (b *Builder) Preview(ctx context.Context, d *Draft) (Record, ValidationResult, error) {
	rec, res, _, err := b.prepare(ctx, d)
	if errors.Is(err, ErrValidationFailed) {
		return rec, res, nil
	}
	return rec, res, err
}

// Submit drives the draft through the state machine.
func (b *Builder) Submit(ctx context.Context, d *Draft) (RecordID, error) {
	if d.state == StatePersisted {
		return d.recordID, ErrDraftClosed
	}
	d.state = StateValidating
	d.issues, d.warnings, d.lastErr = nil, nil, nil

	log := b.Logger.With().Str("generator_id", string(d.GeneratorID)).Str("mode", string(d.Mode)).Logger()

	rec, res, gen, err := b.prepare(ctx, d)
	d.warnings = res.Warnings
	if err != nil {
		var vf *ValidationFailedError
		if errors.As(err, &vf) {
			d.state = StateRejected
			d.issues = vf.Issues
			log.Info().Strs("codes", issueCodes(vf.Issues)).Msg("rateio rejected")
			return "", b.fail(d, err, StateRejected)
		}
		if errors.Is(err, ErrPreconditionViolated) {
			log.Error().Err(err).Msg("calculator invoked on invalid input")
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", b.fail(d, err, StateCollecting)
		}
		log.Warn().Err(err).Msg("rateio failed before persistence")
		return "", b.fail(d, err, StateFailed)
	}
	d.state = StateComputed

	// Snapshot: the generator must still match what was computed against.
	current, err := b.Repository.GetGenerator(ctx, d.GeneratorID)
	if err != nil {
		err = wrapRepo("get generator", err)
		log.Warn().Err(err).Msg("generator re-read failed")
		return "", b.fail(d, err, StateFailed)
	}
	if !Quantize(current.ExpectedGenerationKwh).Equal(Quantize(gen.ExpectedGenerationKwh)) {
		err := &GeneratorMutationError{
			GeneratorID: d.GeneratorID,
			Snapshot:    rec.TotalExpectedKwh,
			Current:     Quantize(current.ExpectedGenerationKwh),
		}
		log.Warn().Err(err).Msg("generator changed during submission")
		return "", b.fail(d, err, StateFailed)
	}

	if err := ctx.Err(); err != nil {
		return "", b.fail(d, err, StateCollecting)
	}

	// Once the write starts it runs to completion.
	id, err := b.Repository.SaveAllocationRecord(context.WithoutCancel(ctx), rec)
	if err != nil {
		err = wrapRepo("save allocation record", err)
		log.Warn().Err(err).Msg("allocation record not saved")
		return "", b.fail(d, err, StateFailed)
	}

	d.state = StatePersisted
	d.recordID = id
	log.Info().
		Str("record_id", string(id)).
		Str("total_kwh", rec.TotalExpectedKwh.StringFixed(Scale)).
		Int("subscribers", len(rec.Results)).
		Msg("rateio persisted")
	return id, nil
}

func (b *Builder) fail(d *Draft, err error, state State) error {
	d.state = state
	d.lastErr = err
	return err
}

// prepare runs read -> validate -> compute and builds the unsaved record.
func (b *Builder) prepare(ctx context.Context, d *Draft) (Record, ValidationResult, Generator, error) {
	gen, subs, err := b.load(ctx, d.GeneratorID)
	if err != nil {
		return Record{}, ValidationResult{}, Generator{}, err
	}

	if d.ConfirmedKwh != nil && !Quantize(*d.ConfirmedKwh).Equal(Quantize(gen.ExpectedGenerationKwh)) {
		return Record{}, ValidationResult{}, gen, &GeneratorMutationError{
			GeneratorID: d.GeneratorID,
			Snapshot:    Quantize(*d.ConfirmedKwh),
			Current:     Quantize(gen.ExpectedGenerationKwh),
		}
	}

	rec := Record{
		GeneratorID:      d.GeneratorID,
		Mode:             d.Mode,
		Period:           d.Period,
		CreatedAt:        b.now(),
		TotalExpectedKwh: Quantize(gen.ExpectedGenerationKwh),
		LeftoverKwh:      decimal.Zero,
	}

	res := Validate(d.Mode, d.entries, eligibleView(gen, subs))
	if !res.Valid {
		rec.Status = StatusRejected
		return rec, res, gen, &ValidationFailedError{Issues: res.Errors}
	}

	dist, err := Distribute(d.Mode, d.entries, gen.ExpectedGenerationKwh)
	if err != nil {
		return Record{}, res, gen, err
	}

	byID := make(map[SubscriberID]Subscriber, len(subs))
	for _, s := range subs {
		byID[s.ID] = s
	}
	for i := range dist.Results {
		s := byID[dist.Results[i].SubscriberID]
		dist.Results[i].DisplayName = s.DisplayName
		dist.Results[i].GridUnitID = s.GridUnitID
	}

	rec.Results = dist.Results
	rec.TotalExpectedKwh = dist.TotalKwh
	rec.LeftoverKwh = dist.LeftoverKwh
	rec.Status = StatusValid
	return rec, res, gen, nil
}

func (b *Builder) load(ctx context.Context, id GeneratorID) (Generator, []Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return Generator{}, nil, err
	}
	gen, err := b.Repository.GetGenerator(ctx, id)
	if err != nil {
		return Generator{}, nil, wrapRepo("get generator", err)
	}
	subs, err := b.Repository.GetEligibleSubscribers(ctx, id)
	if err != nil {
		return Generator{}, nil, wrapRepo("get eligible subscribers", err)
	}
	return gen, subs, nil
}

// eligibleView replaces the generator's links with the repository's
// eligible set, which is authoritative at computation time.
func eligibleView(gen Generator, subs []Subscriber) Generator {
	ids := make([]SubscriberID, len(subs))
	for i, s := range subs {
		ids[i] = s.ID
	}
	gen.LinkedSubscriberIDs = ids
	return gen
}

func wrapRepo(op string, err error) error {
	switch {
	case errors.Is(err, ErrGeneratorNotFound),
		errors.Is(err, ErrDuplicatePeriod),
		errors.Is(err, ErrRepositoryUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &RepositoryError{Op: op, Err: err}
}

func issueCodes(issues []Issue) []string {
	codes := make([]string, len(issues))
	for i, is := range issues {
		codes[i] = string(is.Code)
	}
	return codes
}
