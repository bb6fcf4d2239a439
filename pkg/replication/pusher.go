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
	"strconv"
	"sync"

	"github.com/cs3org/revsync/pkg/blobstore"
	"github.com/cs3org/revsync/pkg/checkpoint"
	"github.com/cs3org/revsync/pkg/revid"
	"github.com/cs3org/revsync/pkg/structvalue"
	"github.com/cs3org/revsync/pkg/syncmetrics"
	"github.com/cs3org/revsync/pkg/transport"
)

// pusherExtras bundles the review-driven additions to pusher's behavior
// (blob proving, property encryption, filtering, docs-ended reporting) so
// newPusher's signature doesn't grow one positional parameter per feature.
type pusherExtras struct {
	blobStore        blobstore.Store
	proveAttachments bool
	encryptor        Encryptor
	filter           func(docID string, revID revid.RevID, deleted bool, body []byte) bool
	onDocsEnded      func(DocEnded)
}

// pusher is the actor that offers local changes to a peer and sends the
// revisions the peer asks for. It runs entirely inside its
// own mailbox except for the blocking transport.Send calls, which are
// dispatched onto plain goroutines that post their result back.
type pusher struct {
	mb          *mailbox
	store       *localStore
	cp          *checkpoint.Checkpointer
	cpID        string
	t           transport.Transport
	remoteName  string
	batchSize   int
	maxInFlight int
	onStatus    func(Status)
	extras      pusherExtras

	running bool
}

func newPusher(store *localStore, cp *checkpoint.Checkpointer, cpID string, t transport.Transport, remoteName string, onStatus func(Status), extras pusherExtras) *pusher {
	return &pusher{
		mb: newMailbox(64), store: store, cp: cp, cpID: cpID, t: t, remoteName: remoteName,
		batchSize: 200, maxInFlight: 20, onStatus: onStatus, extras: extras,
	}
}

// start kicks off the enumerate/offer/send loop. Safe to call more than
// once; a second call while already running is a no-op.
func (p *pusher) start(ctx context.Context) {
	p.mb.post(func() {
		if p.running {
			return
		}
		p.running = true
		p.runBatch(ctx)
	})
}

// handleSubChanges answers a peer's subChanges request: we simply begin (or
// continue) our own push loop, since our enumeration cursor already lives
// in our own checkpoint rather than the request. A subChanges request thus
// behaves as a wake-up signal.
func (p *pusher) handleSubChanges(ctx context.Context, _ *transport.Message) *transport.Message {
	p.start(ctx)
	return nil
}

func (p *pusher) stop() { p.mb.stop() }

func (p *pusher) runBatch(ctx context.Context) {
	cpVal, _ := p.cp.Get(p.cpID)
	entries, err := p.store.enumerate(ctx, cpVal.Local, p.batchSize)
	if err != nil {
		p.report(Status{Level: StateOffline, Err: err, WillRetry: true})
		return
	}
	if len(entries) == 0 {
		p.running = false
		p.report(Status{Level: StateIdle})
		return
	}

	rows := make([]changeRow, len(entries))
	for i, e := range entries {
		rows[i] = changeRow{Sequence: e.Sequence, DocID: e.DocID, RevID: e.RevID.Format(), Deleted: e.Deleted, History: formatHistory(e.History)}
	}
	body, err := encodeChangeRows(rows)
	if err != nil {
		p.report(Status{Level: StateOffline, Err: err})
		return
	}

	p.report(Status{Level: StateBusy, Progress: Progress{DocsTotal: uint64(len(entries))}})

	go func() {
		resp, err := p.t.Send(ctx, newRequest(profileProposeChanges, nil, body))
		p.mb.post(func() { p.handleChangesResponse(ctx, entries, resp, err) })
	}()
}

func (p *pusher) handleChangesResponse(ctx context.Context, entries []changeEntry, resp *transport.Message, err error) {
	if err != nil {
		p.report(Status{Level: StateOffline, Err: err, WillRetry: true})
		return
	}
	if resp.IsError() {
		p.report(Status{Level: StateOffline, Err: responseError(resp), WillRetry: true})
		return
	}
	decisions, err := decodeDecisions(resp.Body)
	if err != nil {
		p.report(Status{Level: StateOffline, Err: err})
		return
	}

	go func() {
		var wg sync.WaitGroup
		sem := make(chan struct{}, p.maxInFlight)
		var mu sync.Mutex
		var firstErr error
		var completed uint64

		for i, e := range entries {
			if i >= len(decisions) || decisions[i] == nil {
				continue
			}
			e, dec := e, *decisions[i]
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				if err := p.sendRev(ctx, e, dec); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				} else {
					mu.Lock()
					completed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		p.mb.post(func() { p.batchDone(ctx, entries, firstErr) })
	}()
}

func (p *pusher) batchDone(ctx context.Context, entries []changeEntry, err error) {
	if err != nil {
		p.report(Status{Level: StateOffline, Err: err, WillRetry: true})
		return
	}
	last := entries[len(entries)-1].Sequence
	p.cp.AdvanceLocal(p.cpID, last)
	_ = p.cp.Save(ctx, p.cpID)
	p.report(Status{Level: StateBusy, Progress: Progress{DocsCompleted: uint64(len(entries))}})

	if len(entries) == p.batchSize {
		p.runBatch(ctx)
		return
	}
	p.running = false
	p.report(Status{Level: StateIdle})
}

// sendRev sends one document's revision, choosing a delta body when the
// peer named an ancestor it already has and the delta comes out strictly
// smaller than the full body.
func (p *pusher) sendRev(ctx context.Context, e changeEntry, ancestorDecision string) error {
	body, found, err := p.store.revisionBody(ctx, e.DocID, e.RevID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	if p.extras.filter != nil && !p.extras.filter(e.DocID, e.RevID, e.Deleted, body) {
		p.reportDocEnded(DocEnded{DocID: e.DocID, RevID: e.RevID, Push: true, Kind: DocEndedFiltered})
		return nil
	}

	props := map[string]string{propID: e.DocID, propRev: e.RevID.Format(), propSequence: strconv.FormatUint(e.Sequence, 10)}
	if e.Deleted {
		props[propDeleted] = "1"
	}
	if len(e.History) > 1 {
		props[propHistory] = joinHistory(formatHistory(e.History))
	}
	if vec, ok, verr := p.store.revisionVector(ctx, e.DocID); verr == nil && ok {
		props["vector"] = vec.Format()
		if legacy, hasLegacy, lerr := p.store.legacyRevID(ctx, e.DocID); lerr == nil && hasLegacy {
			props["legacyRev"] = legacy.Format()
		}
	}

	payload := body
	if ancestorDecision != "" {
		if ancestorID, perr := revid.Parse(ancestorDecision); perr == nil {
			if ancestorBody, aok, aerr := p.store.revisionBody(ctx, e.DocID, ancestorID); aerr == nil && aok {
				if delta, ok := tryDelta(ancestorBody, body); ok {
					payload = delta
					props[propDeltaSrc] = ancestorDecision
				}
			}
		}
	}

	if p.extras.proveAttachments {
		checkBlobsProven(ctx, p.extras.blobStore, p.t, payload)
	}

	payload, err = encryptOutgoing(e.DocID, payload, p.extras.encryptor)
	if err != nil {
		p.reportDocEnded(DocEnded{DocID: e.DocID, RevID: e.RevID, Push: true, Kind: DocEndedError, Err: err})
		return err
	}

	resp, err := p.t.Send(ctx, newRequest(profileRev, props, payload))
	if err != nil {
		return err
	}
	if resp != nil && resp.IsError() {
		syncmetrics.RecordConflict(ctx, p.remoteName)
		if rerr := p.store.markRejected(ctx, e.DocID, e.RevID); rerr != nil {
			log.Warn().Err(rerr).Str("doc", e.DocID).Msg("failed to record push rejection")
		}
		p.reportDocEnded(DocEnded{DocID: e.DocID, RevID: e.RevID, Push: true, Kind: DocEndedRejected, Err: responseError(resp)})
		return nil // peer rejected this rev; don't fail the whole batch over it
	}

	mode := "tree"
	if len(e.History) == 0 {
		mode = "vector"
	}
	syncmetrics.RecordRevSent(ctx, p.remoteName, mode)
	syncmetrics.RecordBytesOut(ctx, p.remoteName, int64(len(payload)))
	if serr := p.store.markSyncedToRemote1(ctx, e.DocID); serr != nil {
		log.Warn().Err(serr).Str("doc", e.DocID).Msg("failed to mark document synced")
	}
	p.reportDocEnded(DocEnded{DocID: e.DocID, RevID: e.RevID, Push: true, Kind: DocEndedOK})
	return nil
}

func (p *pusher) reportDocEnded(ev DocEnded) {
	if p.extras.onDocsEnded != nil {
		p.extras.onDocsEnded(ev)
	}
}

// tryDelta produces a delta body when it structurally diffs smaller than
// the full body; both bodies are expected to be structvalue-encoded.
func tryDelta(ancestorBody, currentBody []byte) ([]byte, bool) {
	ancVal, err := decodeBody(ancestorBody)
	if err != nil {
		return nil, false
	}
	curVal, err := decodeBody(currentBody)
	if err != nil {
		return nil, false
	}
	delta, ok := Diff(ancVal, curVal)
	if !ok {
		return nil, false
	}
	enc := structvalue.NewEncoder()
	if _, err := enc.Encode(delta); err != nil {
		return nil, false
	}
	encoded := enc.Bytes()
	if len(encoded) >= len(currentBody) {
		return nil, false
	}
	return encoded, true
}

func decodeBody(b []byte) (structvalue.Value, error) {
	dec := structvalue.NewDecoder(b, nil)
	return dec.Decode()
}

func formatHistory(ids []revid.RevID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Format()
	}
	return out
}

func (p *pusher) report(s Status) {
	if p.onStatus != nil {
		p.onStatus(s)
	}
}
