// Package store provides rateio.Repository implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/rateio-engine/rateio"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	generators  map[rateio.GeneratorID]rateio.Generator
	subscribers map[rateio.SubscriberID]rateio.Subscriber
	records     map[rateio.GeneratorID][]rateio.Record
	periods     map[periodKey]bool

	// UniquePeriod rejects a second record for the same (generator, period).
	UniquePeriod bool
}

type periodKey struct {
	GeneratorID rateio.GeneratorID
	Period      string
}

var _ rateio.Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		generators:  make(map[rateio.GeneratorID]rateio.Generator),
		subscribers: make(map[rateio.SubscriberID]rateio.Subscriber),
		records:     make(map[rateio.GeneratorID][]rateio.Record),
		periods:     make(map[periodKey]bool),
	}
}

// PutGenerator inserts or replaces a generator.
func (m *Memory) PutGenerator(g rateio.Generator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g.LinkedSubscriberIDs = append([]rateio.SubscriberID(nil), g.LinkedSubscriberIDs...)
	m.generators[g.ID] = g
}

// PutSubscriber inserts or replaces a subscriber.
func (m *Memory) PutSubscriber(s rateio.Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[s.ID] = s
}

// Link makes a subscriber eligible for a generator.
func (m *Memory) Link(genID rateio.GeneratorID, subID rateio.SubscriberID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.generators[genID]
	if !ok {
		return rateio.ErrGeneratorNotFound
	}
	if !g.IsLinked(subID) {
		g.LinkedSubscriberIDs = append(g.LinkedSubscriberIDs, subID)
		m.generators[genID] = g
	}
	return nil
}

// SetExpectedGeneration edits a generator's expected output.
func (m *Memory) SetExpectedGeneration(genID rateio.GeneratorID, kwh decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.generators[genID]
	if !ok {
		return rateio.ErrGeneratorNotFound
	}
	g.ExpectedGenerationKwh = kwh
	m.generators[genID] = g
	return nil
}

func (m *Memory) GetGenerator(_ context.Context, id rateio.GeneratorID) (rateio.Generator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.generators[id]
	if !ok {
		return rateio.Generator{}, rateio.ErrGeneratorNotFound
	}
	g.LinkedSubscriberIDs = append([]rateio.SubscriberID(nil), g.LinkedSubscriberIDs...)
	return g, nil
}

// GetEligibleSubscribers returns linked subscribers that exist, in link order.
func (m *Memory) GetEligibleSubscribers(_ context.Context, genID rateio.GeneratorID) ([]rateio.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.generators[genID]
	if !ok {
		return nil, rateio.ErrGeneratorNotFound
	}
	subs := make([]rateio.Subscriber, 0, len(g.LinkedSubscriberIDs))
	for _, id := range g.LinkedSubscriberIDs {
		if s, ok := m.subscribers[id]; ok {
			subs = append(subs, s)
		}
	}
	return subs, nil
}

// SaveAllocationRecord appends a record. Append-only.
func (m *Memory) SaveAllocationRecord(_ context.Context, rec rateio.Record) (rateio.RecordID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.generators[rec.GeneratorID]; !ok {
		return "", rateio.ErrGeneratorNotFound
	}
	pk := periodKey{GeneratorID: rec.GeneratorID, Period: rec.Period}
	if m.UniquePeriod && rec.Period != "" && m.periods[pk] {
		return "", rateio.ErrDuplicatePeriod
	}

	rec.ID = rateio.RecordID(uuid.NewString())
	rec.Results = append([]rateio.Result(nil), rec.Results...)
	m.records[rec.GeneratorID] = append(m.records[rec.GeneratorID], rec)
	if rec.Period != "" {
		m.periods[pk] = true
	}
	return rec.ID, nil
}

// ListAllocationHistory returns records newest first.
func (m *Memory) ListAllocationHistory(_ context.Context, genID rateio.GeneratorID) ([]rateio.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.records[genID]
	out := make([]rateio.Record, len(src))
	for i, rec := range src {
		rec.Results = append([]rateio.Result(nil), rec.Results...)
		out[len(src)-1-i] = rec
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
