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

// Package checkpoint implements the durable cursor pairing
// (local sequence, remote opaque cursor) per replicated (collection, peer)
// scope. Saves are coalesced with a debounce window and deduplicated with
// singleflight so that a burst of progress acknowledgements produces at
// most one pending write per key.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cs3org/revsync/pkg/syncerrors"
	"github.com/cs3org/revsync/pkg/synclog"
)

var log = synclog.New("checkpoint")

// DefaultDebounce is the default coalescing window.
const DefaultDebounce = 500 * time.Millisecond

// Checkpoint is the durable tuple for one (collection, peer) scope.
type Checkpoint struct {
	Local           uint64
	Remote          []byte
	CollectionUUIDs []string
}

// Store persists Checkpoints, one row per ID. A reserved "checkpoints"
// keyspace on the active side and a "peer checkpoints" keyspace on the
// passive side are both just distinct Store instances.
type Store interface {
	Get(ctx context.Context, id string) (Checkpoint, bool, error)
	Put(ctx context.Context, id string, cp Checkpoint) error
}

// ID computes the checkpoint document's ID: a deterministic hash of the
// local database UUID, the remote URL (or configured stable ID), and the
// collection path.
func ID(localDBUUID, remoteStableID, collectionPath string) string {
	h := sha256.New()
	h.Write([]byte(localDBUUID))
	h.Write([]byte{0})
	h.Write([]byte(remoteStableID))
	h.Write([]byte{0})
	h.Write([]byte(collectionPath))
	return "cp-" + hex.EncodeToString(h.Sum(nil))[:32]
}

// Memory is an in-process Store, used by tests and the loopback transport.
type Memory struct {
	mu sync.RWMutex
	m  map[string]Checkpoint
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory { return &Memory{m: map[string]Checkpoint{}} }

// Get implements Store.
func (m *Memory) Get(_ context.Context, id string) (Checkpoint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.m[id]
	return cp, ok, nil
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, id string, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[id] = cp
	return nil
}

// entry is the in-memory cached state for one checkpoint ID, plus its
// dirty/timer bookkeeping for the debounced save.
type entry struct {
	cp    Checkpoint
	dirty bool
	timer *time.Timer
}

// Checkpointer manages the cached + debounced-durable checkpoint state for
// every (collection, peer) scope a replicator session touches.
type Checkpointer struct {
	store    Store
	debounce time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	sf singleflight.Group
}

// New returns a Checkpointer backed by store, saving dirty entries after
// debounce of inactivity (DefaultDebounce if debounce <= 0).
func New(store Store, debounce time.Duration) *Checkpointer {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Checkpointer{store: store, debounce: debounce, entries: map[string]*entry{}}
}

// Load fetches (and caches) the checkpoint for id, reading through to the
// store on first access.
func (c *Checkpointer) Load(ctx context.Context, id string) (Checkpoint, error) {
	c.mu.Lock()
	if e, ok := c.entries[id]; ok {
		cp := e.cp
		c.mu.Unlock()
		return cp, nil
	}
	c.mu.Unlock()

	cp, ok, err := c.store.Get(ctx, id)
	if err != nil {
		return Checkpoint{}, err
	}
	c.mu.Lock()
	if e, already := c.entries[id]; already {
		defer c.mu.Unlock()
		return e.cp, nil
	}
	c.entries[id] = &entry{cp: cp}
	c.mu.Unlock()
	if !ok {
		return Checkpoint{}, syncerrors.NotFound(id)
	}
	return cp, nil
}

// Get returns the cached checkpoint without touching the store; the zero
// value and false if nothing has been loaded yet for id.
func (c *Checkpointer) Get(id string) (Checkpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return Checkpoint{}, false
	}
	return e.cp, true
}

// ValidateCollectionUUIDs pins uuids on first checkpoint, or checks them
// against the pinned set on subsequent calls; a mismatch is reported so the
// caller can Reset.
func (c *Checkpointer) ValidateCollectionUUIDs(id string, uuids []string) (ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[id]
	if e == nil {
		e = &entry{}
		c.entries[id] = e
	}
	if len(e.cp.CollectionUUIDs) == 0 {
		e.cp.CollectionUUIDs = append([]string(nil), uuids...)
		e.dirty = true
		return true
	}
	if len(e.cp.CollectionUUIDs) != len(uuids) {
		return false
	}
	for i := range uuids {
		if e.cp.CollectionUUIDs[i] != uuids[i] {
			return false
		}
	}
	return true
}

// AdvanceLocal records progress through local sequence seq. Checkpoints
// never regress: seq lower than the current value is ignored.
// Callers must only call this once every rev with sequence <= seq has been
// applied and its transaction committed.
func (c *Checkpointer) AdvanceLocal(id string, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(id)
	if seq > e.cp.Local {
		e.cp.Local = seq
		e.dirty = true
		c.scheduleLocked(id, e)
	}
}

// SetRemoteCursor records the peer's opaque progress cursor.
func (c *Checkpointer) SetRemoteCursor(id string, remote []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(id)
	e.cp.Remote = append([]byte(nil), remote...)
	e.dirty = true
	c.scheduleLocked(id, e)
}

// Reset discards both local and remote progress for id. The caller is expected to
// subsequently re-scan the local record store from sequence 0.
func (c *Checkpointer) Reset(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(id)
	e.cp = Checkpoint{CollectionUUIDs: e.cp.CollectionUUIDs}
	e.dirty = true
	c.scheduleLocked(id, e)
	log.Debug().Str("id", id).Msg("checkpoint reset")
}

func (c *Checkpointer) entryLocked(id string) *entry {
	e, ok := c.entries[id]
	if !ok {
		e = &entry{}
		c.entries[id] = e
	}
	return e
}

// scheduleLocked arms (or re-arms) the debounce timer for id. Must be
// called with c.mu held.
func (c *Checkpointer) scheduleLocked(id string, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(c.debounce, func() {
		if err := c.Save(context.Background(), id); err != nil {
			log.Error().Err(err).Str("id", id).Msg("debounced checkpoint save failed")
		}
	})
}

// Save flushes id's dirty state synchronously, deduplicating concurrent
// callers (the debounce timer firing at the same moment as an explicit
// Stop-triggered flush) through singleflight so only one write happens.
func (c *Checkpointer) Save(ctx context.Context, id string) error {
	_, err, _ := c.sf.Do(id, func() (interface{}, error) {
		c.mu.Lock()
		e, ok := c.entries[id]
		if !ok || !e.dirty {
			c.mu.Unlock()
			return nil, nil
		}
		cp := e.cp
		e.dirty = false
		c.mu.Unlock()

		return nil, c.store.Put(ctx, id, cp)
	})
	return err
}

// FlushAll synchronously saves every dirty entry, used on normal stop.
func (c *Checkpointer) FlushAll(ctx context.Context) error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.entries))
	for id, e := range c.entries {
		if e.dirty {
			ids = append(ids, id)
		}
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	c.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := c.Save(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return syncerrors.Join(errs...)
}
