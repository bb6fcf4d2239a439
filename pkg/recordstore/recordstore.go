// Copyright 2018-2026 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package recordstore persists the (version, body, extras) triple that
// pkg/docrecord serializes to and loads from, one row per document, behind
// one Store interface with an in-memory backend for tests and a
// SQLite-backed one for real persistence.
package recordstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cs3org/revsync/pkg/syncerrors"
)

// Record is exactly the persistent triple docrecord.Record.Serialize /
// docrecord.Load exchange with storage, plus the store's own bookkeeping
// columns.
type Record struct {
	DocID     string
	Version   []byte
	Body      []byte
	Extras    []byte
	Sequence  uint64
	ExpiresAt *time.Time
}

// Store is the storage-backend interface every recordstore implementation
// satisfies.
type Store interface {
	Get(ctx context.Context, docID string) (Record, error)
	// Put writes rec, compare-and-swapping against expectedSequence: it
	// must match the Sequence currently stored for rec.DocID, or be 0 when
	// no record exists yet, otherwise Put returns syncerrors.Conflict and
	// leaves durable state untouched. This
	// backs docrecord's Save contract against a CAS-capable store.
	Put(ctx context.Context, rec Record, expectedSequence uint64) error
	Delete(ctx context.Context, docID string) error
	// Enumerate returns records with Sequence > sinceSequence, ordered by
	// Sequence ascending, at most limit of them (0 means no limit). This is
	// the pusher's scan primitive.
	Enumerate(ctx context.Context, sinceSequence uint64, limit int) ([]Record, error)
	// EnumerateExpired returns the IDs of documents whose ExpiresAt is
	// non-nil and has passed asOf, backing the TTL-expiry sweep.
	EnumerateExpired(ctx context.Context, asOf time.Time) ([]string, error)
	// HighestSequence returns the greatest Sequence stored, for
	// allocating the next one.
	HighestSequence(ctx context.Context) (uint64, error)
	Close() error
}

// Memory is an in-process Store backed by a map, for tests and for the
// loopback transport's local side.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{records: map[string]Record{}}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, docID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[docID]
	if !ok {
		return Record{}, syncerrors.NotFound(docID)
	}
	return rec, nil
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, rec Record, expectedSequence uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[rec.DocID]; ok {
		if existing.Sequence != expectedSequence {
			return syncerrors.Conflict(rec.DocID)
		}
	} else if expectedSequence != 0 {
		return syncerrors.Conflict(rec.DocID)
	}
	m.records[rec.DocID] = rec
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, docID)
	return nil
}

// Enumerate implements Store.
func (m *Memory) Enumerate(_ context.Context, sinceSequence uint64, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		if rec.Sequence > sinceSequence {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EnumerateExpired implements Store.
func (m *Memory) EnumerateExpired(_ context.Context, asOf time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, rec := range m.records {
		if rec.ExpiresAt != nil && rec.ExpiresAt.Before(asOf) {
			out = append(out, id)
		}
	}
	return out, nil
}

// HighestSequence implements Store.
func (m *Memory) HighestSequence(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var max uint64
	for _, rec := range m.records {
		if rec.Sequence > max {
			max = rec.Sequence
		}
	}
	return max, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
