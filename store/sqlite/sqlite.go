/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements rateio.Repository plus the generator/subscriber admin
  operations the API needs. In production the same patterns apply to
  PostgreSQL with minor dialect changes.

APPEND-ONLY ENFORCEMENT:
  Allocation records are immutable:
  - No UPDATE statements on allocation_records / allocation_results
  - No DELETE statements outside Reset (dev/demo only)
  - A record and its result rows are written in one SQL transaction

KEY TABLES:
  generators:            Plant metadata and current expected generation
  subscribers:           Customer accounts
  generator_subscribers: Eligibility links (rowid keeps link order)
  allocation_records:    Immutable rateio headers
  allocation_results:    One row per subscriber in a record, by position

DECIMALS:
  kWh values are stored as TEXT and parsed with shopspring/decimal so no
  precision is lost to REAL columns.

UNIQUE PERIOD:
  WithUniquePeriod() adds a partial unique index on (generator_id, period)
  so at most one record exists per generator and labelled period.

USAGE:
  store, err := sqlite.New("./data/rateio.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  builder := rateio.NewBuilder(store, logger)

SEE ALSO:
  - rateio/repository.go: Interface definition
  - rateio/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/rateio-engine/rateio"
)

// Store implements rateio.Repository using SQLite.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	uniquePeriod bool
}

var _ rateio.Repository = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithUniquePeriod enforces at most one record per (generator, period).
func WithUniquePeriod() Option {
	return func(s *Store) { s.uniquePeriod = true }
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS generators (
		id TEXT PRIMARY KEY,
		nickname TEXT NOT NULL,
		grid_operator_id TEXT,
		expected_generation_kwh TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subscribers (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		grid_unit_id TEXT,
		contracted_consumption_kwh TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS generator_subscribers (
		generator_id TEXT NOT NULL REFERENCES generators(id),
		subscriber_id TEXT NOT NULL REFERENCES subscribers(id),
		linked_at TEXT NOT NULL,
		UNIQUE(generator_id, subscriber_id)
	);

	CREATE INDEX IF NOT EXISTS idx_generator_subscribers_generator
		ON generator_subscribers(generator_id);

	-- Allocation records (append-only)
	CREATE TABLE IF NOT EXISTS allocation_records (
		id TEXT PRIMARY KEY,
		generator_id TEXT NOT NULL REFERENCES generators(id),
		mode TEXT NOT NULL,
		period TEXT NOT NULL DEFAULT '',
		total_expected_kwh TEXT NOT NULL,
		leftover_kwh TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- History lookups (hot path for the reporting view)
	CREATE INDEX IF NOT EXISTS idx_allocation_records_generator_created
		ON allocation_records(generator_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS allocation_results (
		record_id TEXT NOT NULL REFERENCES allocation_records(id),
		position INTEGER NOT NULL,
		subscriber_id TEXT NOT NULL,
		display_name TEXT,
		grid_unit_id TEXT,
		allocated_kwh TEXT NOT NULL,
		raw_value TEXT NOT NULL,
		PRIMARY KEY (record_id, position),
		UNIQUE(record_id, subscriber_id)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if s.uniquePeriod {
		_, err := s.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_allocation_records_unique_period
			ON allocation_records(generator_id, period) WHERE period <> ''`)
		return err
	}
	return nil
}

// =============================================================================
// REPOSITORY (rateio.Repository interface)
// =============================================================================

// GetGenerator returns a generator with its linked subscriber ids.
func (s *Store) GetGenerator(ctx context.Context, id rateio.GeneratorID) (rateio.Generator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		g        rateio.Generator
		operator sql.NullString
		expected string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, nickname, grid_operator_id, expected_generation_kwh
		FROM generators WHERE id = ?`, id,
	).Scan(&g.ID, &g.Nickname, &operator, &expected)
	if errors.Is(err, sql.ErrNoRows) {
		return rateio.Generator{}, rateio.ErrGeneratorNotFound
	}
	if err != nil {
		return rateio.Generator{}, fmt.Errorf("failed to get generator: %w", err)
	}
	g.GridOperatorID = operator.String
	g.ExpectedGenerationKwh = parseDecimal(expected)

	rows, err := s.db.QueryContext(ctx, `
		SELECT subscriber_id FROM generator_subscribers
		WHERE generator_id = ? ORDER BY rowid ASC`, id)
	if err != nil {
		return rateio.Generator{}, fmt.Errorf("failed to load links: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var subID rateio.SubscriberID
		if err := rows.Scan(&subID); err != nil {
			return rateio.Generator{}, fmt.Errorf("failed to scan link: %w", err)
		}
		g.LinkedSubscriberIDs = append(g.LinkedSubscriberIDs, subID)
	}
	return g, rows.Err()
}

// GetEligibleSubscribers returns the generator's linked subscribers in link order.
func (s *Store) GetEligibleSubscribers(ctx context.Context, genID rateio.GeneratorID) ([]rateio.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exists, err := s.generatorExists(ctx, s.db, genID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, rateio.ErrGeneratorNotFound
	}

	return s.querySubscribers(ctx, `
		SELECT s.id, s.display_name, s.grid_unit_id, s.contracted_consumption_kwh
		FROM generator_subscribers gs
		JOIN subscribers s ON s.id = gs.subscriber_id
		WHERE gs.generator_id = ?
		ORDER BY gs.rowid ASC`, genID)
}

// SaveAllocationRecord writes a record and its results atomically.
func (s *Store) SaveAllocationRecord(ctx context.Context, rec rateio.Record) (rateio.RecordID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	exists, err := s.generatorExists(ctx, sqlTx, rec.GeneratorID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", rateio.ErrGeneratorNotFound
	}

	id := rateio.RecordID(uuid.NewString())
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO allocation_records
		(id, generator_id, mode, period, total_expected_kwh, leftover_kwh, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		rec.GeneratorID,
		rec.Mode,
		rec.Period,
		rec.TotalExpectedKwh.String(),
		rec.LeftoverKwh.String(),
		rec.Status,
		formatTime(createdAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "period") {
			return "", rateio.ErrDuplicatePeriod
		}
		return "", fmt.Errorf("failed to insert allocation record: %w", err)
	}

	stmt, err := sqlTx.PrepareContext(ctx, `
		INSERT INTO allocation_results
		(record_id, position, subscriber_id, display_name, grid_unit_id, allocated_kwh, raw_value)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range rec.Results {
		if _, err := stmt.ExecContext(ctx, id, i, r.SubscriberID, r.DisplayName, r.GridUnitID,
			r.AllocatedKwh.String(), r.RawValue.String()); err != nil {
			return "", fmt.Errorf("failed to insert allocation result: %w", err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit allocation record: %w", err)
	}
	return id, nil
}

// ListAllocationHistory returns the generator's records, newest first.
func (s *Store) ListAllocationHistory(ctx context.Context, genID rateio.GeneratorID) ([]rateio.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.queryRecords(ctx, `
		SELECT id, generator_id, mode, period, total_expected_kwh, leftover_kwh, status, created_at
		FROM allocation_records
		WHERE generator_id = ?
		ORDER BY created_at DESC, rowid DESC`, genID)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Results, err = s.loadResults(ctx, records[i].ID); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// GetAllocationRecord returns one record by id.
func (s *Store) GetAllocationRecord(ctx context.Context, id rateio.RecordID) (rateio.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.queryRecords(ctx, `
		SELECT id, generator_id, mode, period, total_expected_kwh, leftover_kwh, status, created_at
		FROM allocation_records WHERE id = ?`, id)
	if err != nil {
		return rateio.Record{}, err
	}
	if len(records) == 0 {
		return rateio.Record{}, rateio.ErrRecordNotFound
	}
	rec := records[0]
	if rec.Results, err = s.loadResults(ctx, rec.ID); err != nil {
		return rateio.Record{}, err
	}
	return rec, nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]rateio.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocation records: %w", err)
	}
	defer rows.Close()

	var records []rateio.Record
	for rows.Next() {
		var (
			rec       rateio.Record
			total     string
			leftover  string
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.GeneratorID, &rec.Mode, &rec.Period,
			&total, &leftover, &rec.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation record: %w", err)
		}
		rec.TotalExpectedKwh = parseDecimal(total)
		rec.LeftoverKwh = parseDecimal(leftover)
		rec.CreatedAt = parseTime(createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) loadResults(ctx context.Context, id rateio.RecordID) ([]rateio.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subscriber_id, display_name, grid_unit_id, allocated_kwh, raw_value
		FROM allocation_results
		WHERE record_id = ?
		ORDER BY position ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocation results: %w", err)
	}
	defer rows.Close()

	var results []rateio.Result
	for rows.Next() {
		var (
			r         rateio.Result
			name      sql.NullString
			unit      sql.NullString
			allocated string
			raw       string
		)
		if err := rows.Scan(&r.SubscriberID, &name, &unit, &allocated, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan allocation result: %w", err)
		}
		r.DisplayName = name.String
		r.GridUnitID = unit.String
		r.AllocatedKwh = parseDecimal(allocated)
		r.RawValue = parseDecimal(raw)
		results = append(results, r)
	}
	return results, rows.Err()
}

// =============================================================================
// GENERATOR ADMIN
// =============================================================================

// SaveGenerator inserts or updates a generator and adds any listed links.
func (s *Store) SaveGenerator(ctx context.Context, g rateio.Generator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	now := formatTime(time.Now())
	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO generators (id, nickname, grid_operator_id, expected_generation_kwh, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			nickname = excluded.nickname,
			grid_operator_id = excluded.grid_operator_id,
			expected_generation_kwh = excluded.expected_generation_kwh,
			updated_at = excluded.updated_at`,
		g.ID, g.Nickname, nullString(g.GridOperatorID), g.ExpectedGenerationKwh.String(), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save generator: %w", err)
	}

	for _, subID := range g.LinkedSubscriberIDs {
		if err := linkTx(ctx, sqlTx, g.ID, subID); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

// ListGenerators returns all generators ordered by nickname.
func (s *Store) ListGenerators(ctx context.Context) ([]rateio.Generator, error) {
	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM generators ORDER BY nickname ASC, id ASC`)
	if err != nil {
		s.mu.RUnlock()
		return nil, fmt.Errorf("failed to list generators: %w", err)
	}
	var ids []rateio.GeneratorID
	for rows.Next() {
		var id rateio.GeneratorID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, fmt.Errorf("failed to scan generator: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	s.mu.RUnlock()

	generators := make([]rateio.Generator, 0, len(ids))
	for _, id := range ids {
		g, err := s.GetGenerator(ctx, id)
		if err != nil {
			return nil, err
		}
		generators = append(generators, g)
	}
	return generators, nil
}

// UpdateExpectedGeneration edits the generator's expected output.
// Existing allocation records keep their snapshot.
func (s *Store) UpdateExpectedGeneration(ctx context.Context, id rateio.GeneratorID, kwh decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE generators SET expected_generation_kwh = ?, updated_at = ? WHERE id = ?`,
		kwh.String(), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update generator: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rateio.ErrGeneratorNotFound
	}
	return nil
}

// LinkSubscriber makes a subscriber eligible for a generator. Idempotent.
func (s *Store) LinkSubscriber(ctx context.Context, genID rateio.GeneratorID, subID rateio.SubscriberID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := linkTx(ctx, sqlTx, genID, subID); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func linkTx(ctx context.Context, tx *sql.Tx, genID rateio.GeneratorID, subID rateio.SubscriberID) error {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM generators WHERE id = ?`, genID).Scan(&n); err != nil {
		return fmt.Errorf("failed to check generator: %w", err)
	}
	if n == 0 {
		return rateio.ErrGeneratorNotFound
	}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscribers WHERE id = ?`, subID).Scan(&n); err != nil {
		return fmt.Errorf("failed to check subscriber: %w", err)
	}
	if n == 0 {
		return rateio.ErrSubscriberNotFound
	}
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO generator_subscribers (generator_id, subscriber_id, linked_at)
		VALUES (?, ?, ?)`, genID, subID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to link subscriber: %w", err)
	}
	return nil
}

func (s *Store) generatorExists(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, id rateio.GeneratorID) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM generators WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check generator: %w", err)
	}
	return n > 0, nil
}

// =============================================================================
// SUBSCRIBER ADMIN
// =============================================================================

// SaveSubscriber inserts or updates a subscriber.
func (s *Store) SaveSubscriber(ctx context.Context, sub rateio.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscribers (id, display_name, grid_unit_id, contracted_consumption_kwh, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			grid_unit_id = excluded.grid_unit_id,
			contracted_consumption_kwh = excluded.contracted_consumption_kwh`,
		sub.ID, sub.DisplayName, nullString(sub.GridUnitID), sub.ContractedConsumptionKwh.String(),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save subscriber: %w", err)
	}
	return nil
}

// GetSubscriber returns ErrSubscriberNotFound for unknown ids.
func (s *Store) GetSubscriber(ctx context.Context, id rateio.SubscriberID) (rateio.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs, err := s.querySubscribers(ctx, `
		SELECT id, display_name, grid_unit_id, contracted_consumption_kwh
		FROM subscribers WHERE id = ?`, id)
	if err != nil {
		return rateio.Subscriber{}, err
	}
	if len(subs) == 0 {
		return rateio.Subscriber{}, rateio.ErrSubscriberNotFound
	}
	return subs[0], nil
}

// ListSubscribers returns all subscribers ordered by name.
func (s *Store) ListSubscribers(ctx context.Context) ([]rateio.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySubscribers(ctx, `
		SELECT id, display_name, grid_unit_id, contracted_consumption_kwh
		FROM subscribers ORDER BY display_name ASC, id ASC`)
}

func (s *Store) querySubscribers(ctx context.Context, query string, args ...any) ([]rateio.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscribers: %w", err)
	}
	defer rows.Close()

	subs := []rateio.Subscriber{}
	for rows.Next() {
		var (
			sub        rateio.Subscriber
			unit       sql.NullString
			contracted string
		)
		if err := rows.Scan(&sub.ID, &sub.DisplayName, &unit, &contracted); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber: %w", err)
		}
		sub.GridUnitID = unit.String
		sub.ContractedConsumptionKwh = parseDecimal(contracted)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data. Dev/demo only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"allocation_results", "allocation_records", "generator_subscribers", "subscribers", "generators"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Fixed width so TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
