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

	"github.com/cs3org/revsync/pkg/blobstore"
	"github.com/cs3org/revsync/pkg/checkpoint"
	"github.com/cs3org/revsync/pkg/docrecord"
	"github.com/cs3org/revsync/pkg/revid"
	"github.com/cs3org/revsync/pkg/revtree"
	"github.com/cs3org/revsync/pkg/structvalue"
	"github.com/cs3org/revsync/pkg/syncerrors"
	"github.com/cs3org/revsync/pkg/syncmetrics"
	"github.com/cs3org/revsync/pkg/transport"
	"github.com/cs3org/revsync/pkg/versionvector"
)

// pullerExtras bundles the review-driven additions to puller's behavior
// (blob resolution, property decryption, auto-purge, filtering, docs-ended
// reporting), for the same reason pusherExtras exists.
type pullerExtras struct {
	blobStore    blobstore.Store
	decryptor    Decryptor
	noDecryption bool
	autoPurge    bool
	filter       func(docID string, revID revid.RevID, deleted bool, body []byte) bool
	onDocsEnded  func(DocEnded)
}

// puller is the actor that asks a peer to start sending changes, decides
// which offered revisions it needs, and applies the ones it requests. It
// is purely reactive after start(): the transport's dispatcher
// routes incoming changes/proposeChanges/rev requests to its handlers.
type puller struct {
	mb         *mailbox
	store      *localStore
	cp         *checkpoint.Checkpointer
	cpID       string
	t          transport.Transport
	remoteName string
	allocSeq   func() uint64
	onStatus   func(Status)
	onConflict func(docID string)
	extras     pullerExtras
}

func newPuller(store *localStore, cp *checkpoint.Checkpointer, cpID string, t transport.Transport, remoteName string, allocSeq func() uint64, onStatus func(Status), onConflict func(string), extras pullerExtras) *puller {
	return &puller{
		mb: newMailbox(64), store: store, cp: cp, cpID: cpID, t: t, remoteName: remoteName,
		allocSeq: allocSeq, onStatus: onStatus, onConflict: onConflict, extras: extras,
	}
}

func (p *puller) stop() { p.mb.stop() }

// start sends subChanges announcing how far into the peer's sequence space
// we've already pulled (our own Remote cursor, opaque to us but meaningful
// to the peer).
func (p *puller) start(ctx context.Context) {
	cpVal, _ := p.cp.Get(p.cpID)
	props := map[string]string{propSince: string(cpVal.Remote)}
	go func() {
		resp, err := p.t.Send(ctx, newRequest(profileSubChanges, props, nil))
		if err != nil {
			p.report(Status{Level: StateOffline, Err: err, WillRetry: true})
			return
		}
		if resp != nil && resp.IsError() {
			p.report(Status{Level: StateOffline, Err: responseError(resp), WillRetry: true})
		}
	}()
}

// handleChanges and handleRev are registered as transport.Handlers, which
// must return synchronously, but the work they do must still run inside the
// puller's own mailbox to preserve single-threaded run-to-completion over
// this document set even when the peer's pusher fires many
// concurrent rev sends. Each posts its real work and blocks on the result.
func (p *puller) handleChanges(ctx context.Context, req *transport.Message) *transport.Message {
	result := make(chan *transport.Message, 1)
	p.mb.post(func() { result <- p.doHandleChanges(ctx, req) })
	return <-result
}

func (p *puller) handleRev(ctx context.Context, req *transport.Message) *transport.Message {
	result := make(chan *transport.Message, 1)
	p.mb.post(func() { result <- p.doHandleRev(ctx, req) })
	return <-result
}

func (p *puller) doHandleChanges(ctx context.Context, req *transport.Message) *transport.Message {
	rows, err := decodeChangeRows(req.Body)
	if err != nil {
		return errorMessage(err)
	}

	decisions := make([]*string, len(rows))
	for i, r := range rows {
		revID, perr := revid.Parse(r.RevID)
		if perr != nil {
			continue
		}
		if _, have, _ := p.store.revisionBody(ctx, r.DocID, revID); have {
			continue
		}
		decision := ""
		for _, anc := range r.History {
			if anc == r.RevID {
				continue
			}
			if ancID, aerr := revid.Parse(anc); aerr == nil {
				if _, have, _ := p.store.revisionBody(ctx, r.DocID, ancID); have {
					decision = anc
					break
				}
			}
		}
		d := decision
		decisions[i] = &d
	}

	body, err := encodeDecisions(decisions)
	if err != nil {
		return errorMessage(err)
	}
	return &transport.Message{Body: body}
}

// doHandleRev applies a pushed revision: reconstructing the body from a
// delta if one was sent, then inserting it via the tree-mode history path or
// the vector-mode merge path depending on what the rev's properties
// describe.
func (p *puller) doHandleRev(ctx context.Context, req *transport.Message) *transport.Message {
	docID := req.Properties[propID]
	revStr := req.Properties[propRev]
	deleted := req.Properties[propDeleted] == "1"
	deltaSrc := req.Properties[propDeltaSrc]
	body := req.Body
	revID, _ := revid.Parse(revStr)

	// A purge notification
	// removes the document outright when autoPurge is on; otherwise it's
	// treated as an ordinary tombstone so a relay with no purge policy still
	// ends up with a deleted record rather than silently dropping the rev.
	if req.Properties[propPurged] == "1" {
		if p.extras.autoPurge {
			if err := p.store.purge(ctx, docID); err != nil {
				return errorMessage(err)
			}
			p.reportDocEnded(DocEnded{DocID: docID, RevID: revID, Push: false, Kind: DocEndedPurge})
			return nil
		}
		deleted = true
	}

	if deltaSrc != "" {
		ancestorID, perr := revid.Parse(deltaSrc)
		if perr != nil {
			return errorMessage(perr)
		}
		ancestorBody, ok, aerr := p.store.revisionBody(ctx, docID, ancestorID)
		if aerr != nil {
			return errorMessage(aerr)
		}
		if !ok {
			return errorMessage(syncerrors.CorruptData("delta ancestor missing, resend full body"))
		}
		ancVal, err := decodeBody(ancestorBody)
		if err != nil {
			return errorMessage(err)
		}
		deltaVal, err := decodeBody(body)
		if err != nil {
			return errorMessage(err)
		}
		deltaDict, ok := deltaVal.(*structvalue.Dict)
		if !ok {
			return errorMessage(syncerrors.CorruptData("delta body is not a dict"))
		}
		patched, err := Apply(ancVal, deltaDict)
		if err != nil {
			return errorMessage(err)
		}
		enc := structvalue.NewEncoder()
		if _, err := enc.Encode(patched); err != nil {
			return errorMessage(err)
		}
		body = enc.Bytes()
	}

	if p.extras.filter != nil && !p.extras.filter(docID, revID, deleted, body) {
		p.reportDocEnded(DocEnded{DocID: docID, RevID: revID, Push: false, Kind: DocEndedFiltered})
		return errorMessage(syncerrors.New(syncerrors.DomainLiteCore, 403, "rejected by pull filter"))
	}

	body, derr := decryptIncoming(docID, body, p.extras.decryptor, p.extras.noDecryption)
	if derr != nil {
		p.reportDocEnded(DocEnded{DocID: docID, RevID: revID, Push: false, Kind: DocEndedError, Err: derr})
		return errorMessage(derr)
	}

	// Blob references must resolve before the revision commits locally, so
	// a reader never observes a document whose
	// attachments aren't yet fetched.
	if berr := resolveBlobs(ctx, p.extras.blobStore, p.t, docID, body); berr != nil {
		p.reportDocEnded(DocEnded{DocID: docID, RevID: revID, Push: false, Kind: DocEndedError, Err: berr})
		return errorMessage(berr)
	}

	kind := DocEndedOK
	var err error
	if vecStr := req.Properties["vector"]; vecStr != "" {
		vec, verr := versionvector.Parse(vecStr)
		if verr != nil {
			return errorMessage(verr)
		}
		var legacy *revid.RevID
		if legacyStr := req.Properties["legacyRev"]; legacyStr != "" {
			if id, lerr := revid.Parse(legacyStr); lerr == nil {
				legacy = &id
			}
		}
		var outcome docrecord.AdoptOutcome
		outcome, err = p.store.applyIncomingVector(ctx, docID, vec, body, deleted, legacy, p.allocSeq)
		if err == nil && outcome == docrecord.AdoptConflict {
			kind = DocEndedConflict
		}
	} else {
		history := splitHistory(req.Properties[propHistory])
		if len(history) == 0 {
			history = []string{revStr}
		}
		ids := make([]revid.RevID, len(history))
		for i, h := range history {
			id, perr := revid.Parse(h)
			if perr != nil {
				return errorMessage(perr)
			}
			ids[i] = id
		}
		var result revtree.InsertResult
		result, err = p.store.applyIncoming(ctx, docID, ids, body, deleted, nil, p.allocSeq)
		if err == nil && result == revtree.ResultConflict {
			kind = DocEndedConflict
		}
	}
	if err != nil {
		p.reportDocEnded(DocEnded{DocID: docID, RevID: revID, Push: false, Kind: DocEndedError, Err: err})
		return errorMessage(err)
	}
	if kind == DocEndedConflict {
		syncmetrics.RecordConflict(ctx, p.remoteName)
		if p.onConflict != nil {
			p.onConflict(docID)
		}
	}

	syncmetrics.RecordRevReceived(ctx, p.remoteName, bodyMode(req))
	syncmetrics.RecordBytesIn(ctx, p.remoteName, int64(len(req.Body)))
	p.reportDocEnded(DocEnded{DocID: docID, RevID: revID, Push: false, Kind: kind})
	return nil
}

func (p *puller) reportDocEnded(ev DocEnded) {
	if p.extras.onDocsEnded != nil {
		p.extras.onDocsEnded(ev)
	}
}

func bodyMode(req *transport.Message) string {
	if req.Properties["vector"] != "" {
		return "vector"
	}
	return "tree"
}

func (p *puller) report(s Status) {
	if p.onStatus != nil {
		p.onStatus(s)
	}
}
