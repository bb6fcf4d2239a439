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

package replication

import (
	"context"

	"github.com/cs3org/revsync/pkg/docrecord"
	"github.com/cs3org/revsync/pkg/hlc"
	"github.com/cs3org/revsync/pkg/recordstore"
	"github.com/cs3org/revsync/pkg/revid"
	"github.com/cs3org/revsync/pkg/revtree"
	"github.com/cs3org/revsync/pkg/syncerrors"
	"github.com/cs3org/revsync/pkg/versionvector"
)

// changeEntry is what the pusher's enumeration step produces per local
// document.
type changeEntry struct {
	DocID    string
	RevID    revid.RevID
	History  []revid.RevID // ancestor-first after RevID, for proposeChanges
	Sequence uint64
	Deleted  bool
}

// localStore adapts recordstore.Store + pkg/docrecord into the narrow
// surface the pusher and puller actors need, so neither has to know about
// serialization or CAS retry directly. It is the one place in pkg/replication
// grounded on docrecord's Load/Serialize contract and recordstore's
// Enumerate/Put CAS discipline together.
type localStore struct {
	backend    recordstore.Store
	source     revid.SourceID
	pruneDepth int
	clock      *hlc.Clock
}

func newLocalStore(backend recordstore.Store, source revid.SourceID, pruneDepth int, clock *hlc.Clock) *localStore {
	return &localStore{backend: backend, source: source, pruneDepth: pruneDepth, clock: clock}
}

func (s *localStore) load(ctx context.Context, docID string) (*docrecord.Record, uint64, error) {
	rec, err := s.backend.Get(ctx, docID)
	if err != nil {
		return nil, 0, err
	}
	dr, err := docrecord.Load(docID, rec.Version, rec.Body, rec.Extras, s.source, s.pruneDepth)
	if err != nil {
		return nil, 0, err
	}
	return dr, rec.Sequence, nil
}

func (s *localStore) save(ctx context.Context, dr *docrecord.Record, expectedSequence, newSequence uint64) error {
	version, body, extras, err := dr.Serialize()
	if err != nil {
		return err
	}
	rec := recordstore.Record{DocID: dr.DocID, Version: version, Body: body, Extras: extras, Sequence: newSequence}
	return s.backend.Put(ctx, rec, expectedSequence)
}

// enumerate lists local changes since sinceSequence, in sequence order,
// ready to offer to a puller.
func (s *localStore) enumerate(ctx context.Context, sinceSequence uint64, limit int) ([]changeEntry, error) {
	recs, err := s.backend.Enumerate(ctx, sinceSequence, limit)
	if err != nil {
		return nil, err
	}
	out := make([]changeEntry, 0, len(recs))
	for _, rec := range recs {
		dr, err := docrecord.Load(rec.DocID, rec.Version, rec.Body, rec.Extras, s.source, s.pruneDepth)
		if err != nil {
			return nil, err
		}
		cur, err := dr.CurrentRevision()
		if err != nil {
			continue // tombstone with no surviving leaf; nothing to offer
		}
		entry := changeEntry{DocID: rec.DocID, RevID: cur.RevID, Sequence: rec.Sequence, Deleted: cur.Flags&docrecord.FlagDeleted != 0}
		if dr.Mode() == docrecord.ModeTree {
			entry.History = historyOf(dr.Tree(), cur.RevID)
		}
		out = append(out, entry)
	}
	return out, nil
}

// historyOf walks parent links from id's node back to the root, ancestor
// order, for a proposeChanges offer.
func historyOf(tree *revtree.Tree, id revid.RevID) []revid.RevID {
	idx, ok := tree.IndexOf(id)
	if !ok {
		return nil
	}
	var out []revid.RevID
	for {
		rev := tree.Rev(idx)
		out = append(out, rev.RevID)
		if rev.Parent < 0 {
			break
		}
		idx = rev.Parent
	}
	return out
}

// revisionBody returns the body stored for a specific rev of docID, used by
// the pusher to answer a "send full body" decision for a rev that isn't
// necessarily the document's current one (tree mode keeps a body per node;
// vector mode only ever has one live body, the current one).
func (s *localStore) revisionBody(ctx context.Context, docID string, id revid.RevID) ([]byte, bool, error) {
	dr, _, err := s.load(ctx, docID)
	if err != nil {
		return nil, false, err
	}
	if dr.Mode() == docrecord.ModeTree {
		idx, ok := dr.Tree().IndexOf(id)
		if !ok {
			return nil, false, nil
		}
		return dr.Tree().Rev(idx).Body, true, nil
	}
	cur, err := dr.CurrentRevision()
	if err != nil || !cur.RevID.Equal(id) {
		return nil, false, nil
	}
	return cur.Body, true, nil
}

// revisionVector returns the full version vector behind a vector-mode
// document's current revision, for attaching to an outgoing rev message so
// the receiving peer can run a real vector comparison rather than a
// single-entry approximation synthesized from the bare revID.
func (s *localStore) revisionVector(ctx context.Context, docID string) (versionvector.Vector, bool, error) {
	dr, _, err := s.load(ctx, docID)
	if err != nil {
		return versionvector.Vector{}, false, err
	}
	if dr.Mode() != docrecord.ModeVector {
		return versionvector.Vector{}, false, nil
	}
	return dr.Vector(), true, nil
}

// legacyRevID returns the digest-style revID bridged onto a vector-mode
// document, if any, so a pusher can offer it to remotes that only
// understand the legacy form.
func (s *localStore) legacyRevID(ctx context.Context, docID string) (revid.RevID, bool, error) {
	dr, _, err := s.load(ctx, docID)
	if err != nil {
		return revid.RevID{}, false, err
	}
	id, ok := dr.LegacyRevID()
	return id, ok, nil
}

// purge deletes docID from the backend outright, for the autoPurge revoked-
// access path: unlike a tombstone insert, nothing about
// the document survives locally.
func (s *localStore) purge(ctx context.Context, docID string) error {
	return s.backend.Delete(ctx, docID)
}

// markRejected records that a pushed revision was rejected by the peer,
// so the next enumeration pass doesn't keep re-offering it.
// A no-op for vector-mode documents, which have no offer/reject handshake.
func (s *localStore) markRejected(ctx context.Context, docID string, id revid.RevID) error {
	for attempt := 0; attempt < 2; attempt++ {
		dr, seq, err := s.load(ctx, docID)
		if err != nil {
			return err
		}
		if dr.Mode() != docrecord.ModeTree {
			return nil
		}
		idx, ok := dr.Tree().IndexOf(id)
		if !ok {
			return nil
		}
		dr.Tree().MarkRejected(idx)
		if err := s.save(ctx, dr, seq, seq); err != nil {
			if isConflict(err) && attempt == 0 {
				continue
			}
			return err
		}
		return nil
	}
	return syncerrors.Conflict(docID)
}

// markSyncedToRemote1 flips the cheap Synced bit after a successful push to
// remote 1, instead of rewriting the remote-revision table on
// every push.
func (s *localStore) markSyncedToRemote1(ctx context.Context, docID string) error {
	for attempt := 0; attempt < 2; attempt++ {
		dr, seq, err := s.load(ctx, docID)
		if err != nil {
			return err
		}
		dr.MarkSyncedToRemote1()
		if err := s.save(ctx, dr, seq, seq); err != nil {
			if isConflict(err) && attempt == 0 {
				continue
			}
			return err
		}
		return nil
	}
	return syncerrors.Conflict(docID)
}

// applyIncoming inserts a remote's rev (with ancestor history, newest
// first) into docID's record, allocating newSequence on success. Retries
// once against a freshly-reloaded record if the CAS write loses a race,
// matching the "retry with a fresh sequence" discipline recordstore.Put's
// CAS contract implies.
func (s *localStore) applyIncoming(ctx context.Context, docID string, history []revid.RevID, body []byte, deleted bool, legacy *revid.RevID, allocSeq func() uint64) (revtree.InsertResult, error) {
	for attempt := 0; attempt < 2; attempt++ {
		dr, seq, err := s.load(ctx, docID)
		expectedSeq := seq
		if err != nil {
			if !isNotFound(err) {
				return 0, err
			}
			dr = docrecord.NewTreeRecord(docID, s.pruneDepth)
			expectedSeq = 0
		}

		var flags revtree.Flags
		if deleted {
			flags |= revtree.FlagDeleted
		}
		_, result, err := dr.Tree().InsertHistory(history, body, flags, true)
		if err != nil {
			return result, err
		}
		if legacy != nil {
			_ = dr.SetLegacyRevID(*legacy)
		}

		newSeq := allocSeq()
		if err := s.save(ctx, dr, expectedSeq, newSeq); err != nil {
			if isConflict(err) && attempt == 0 {
				continue
			}
			return result, err
		}
		return result, nil
	}
	return 0, syncerrors.Conflict(docID)
}

// applyIncomingVector adopts a remote's version vector into docID's record
// (creating it fresh in vector mode if it doesn't yet exist) via
// docrecord.Record's AdoptRemoteVector, reporting how the conflict policy
// resolved it so the puller can surface a no-winner conflict. The single
// connected peer is remote 1, same as the Synced bit's convention.
func (s *localStore) applyIncomingVector(ctx context.Context, docID string, remote versionvector.Vector, body []byte, deleted bool, legacy *revid.RevID, allocSeq func() uint64) (docrecord.AdoptOutcome, error) {
	for attempt := 0; attempt < 2; attempt++ {
		dr, seq, err := s.load(ctx, docID)
		expectedSeq := seq
		if err != nil {
			if !isNotFound(err) {
				return 0, err
			}
			dr = docrecord.NewVectorRecord(docID, s.source)
			expectedSeq = 0
		}

		_, outcome, err := dr.AdoptRemoteVector(docrecord.RemoteID(1), remote, body, deleted)
		if err != nil {
			return outcome, err
		}
		if legacy != nil {
			_ = dr.SetLegacyRevID(*legacy)
		}

		newSeq := allocSeq()
		if err := s.save(ctx, dr, expectedSeq, newSeq); err != nil {
			if isConflict(err) && attempt == 0 {
				continue
			}
			return outcome, err
		}
		return outcome, nil
	}
	return 0, syncerrors.Conflict(docID)
}
