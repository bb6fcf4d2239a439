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

// Package replication implements the replication engine that
// drives a bidirectional document exchange with one peer over a
// pkg/transport.Transport, using one pusher actor and one puller actor
// sharing a pkg/checkpoint.Checkpointer. Actors are single-threaded and
// run-to-completion: every actor drains
// its own mailbox one closure at a time, and anything that could re-enter
// an actor is posted to it, never called inline.
package replication

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cs3org/revsync/pkg/blobstore"
	"github.com/cs3org/revsync/pkg/checkpoint"
	"github.com/cs3org/revsync/pkg/hlc"
	"github.com/cs3org/revsync/pkg/recordstore"
	"github.com/cs3org/revsync/pkg/revid"
	"github.com/cs3org/revsync/pkg/syncerrors"
	"github.com/cs3org/revsync/pkg/synclog"
	"github.com/cs3org/revsync/pkg/transport"
)

var log = synclog.New("replication")

// Options configures a Replicator. Transport, LocalStore and Checkpointer
// are required; the rest have workable defaults.
type Options struct {
	Transport    transport.Transport
	LocalStore   recordstore.Store
	Source       revid.SourceID
	PruneDepth   int
	Clock        *hlc.Clock
	Checkpointer *checkpoint.Checkpointer
	CheckpointID string
	RemoteName   string
	Continuous   bool

	RetryBase        time.Duration
	RetryMaxInterval time.Duration

	// BlobStore, if set, answers getAttachment/proveAttachment requests
	// from the peer and backs this side's own blob resolution on pull.
	// ProveAttachments gates
	// whether the pusher challenges the peer before sending a revision
	// that references blobs already likely present on the far side.
	BlobStore        blobstore.Store
	ProveAttachments bool

	// Encryptor/Decryptor implement the property-level encryption hook.
	// NoDecryption leaves encrypted properties
	// untouched on receipt instead of requiring a Decryptor, for a relay
	// process with no key material.
	Encryptor    Encryptor
	Decryptor    Decryptor
	NoDecryption bool

	// AutoPurge, when true, removes a document entirely from the local
	// store on receiving a purge notification instead of leaving a
	// tombstone.
	AutoPurge bool

	// PushFilter/PullFilter, if set, are consulted before sending or
	// accepting each revision. A PushFilter returning false skips the send
	// without contacting the peer; a PullFilter returning false answers with
	// an error-flagged 403 response. Both report DocEndedFiltered.
	PushFilter func(docID string, revID revid.RevID, deleted bool, body []byte) bool
	PullFilter func(docID string, revID revid.RevID, deleted bool, body []byte) bool

	OnStatus func(Status)
	// OnConflict is a convenience hook invoked with the docID whenever a
	// pulled revision lands as a conflict; the same event is also reported
	// through OnDocsEnded with DocEndedConflict, which is the full-fidelity
	// channel.
	OnConflict  func(docID string)
	OnDocsEnded func(DocEnded)
}

func (o *Options) setDefaults() {
	if o.PruneDepth == 0 {
		o.PruneDepth = 1000
	}
	if o.Clock == nil {
		o.Clock = hlc.New()
	}
	if o.RemoteName == "" {
		o.RemoteName = "peer"
	}
	if o.RetryBase == 0 {
		o.RetryBase = time.Second
	}
	if o.RetryMaxInterval == 0 {
		o.RetryMaxInterval = 5 * time.Minute
	}
}

// Replicator is the root actor for one peer connection. It
// owns the single request dispatcher a Transport supports, routing by
// message profile to the pusher, the puller, or the checkpoint server.
type Replicator struct {
	mb   *mailbox
	opts Options

	pusher   *pusher
	puller   *puller
	cpServer *checkpointServer

	seq      atomic.Uint64
	state    State
	failures int
	retryer  *time.Timer
}

// New constructs a Replicator wired to the given peer connection. Call
// Start to begin exchanging messages.
func New(opts Options) *Replicator {
	opts.setDefaults()

	store := newLocalStore(opts.LocalStore, opts.Source, opts.PruneDepth, opts.Clock)
	r := &Replicator{mb: newMailbox(32), opts: opts, state: StateStopped}

	r.pusher = newPusher(store, opts.Checkpointer, opts.CheckpointID, opts.Transport, opts.RemoteName, r.relayStatus, pusherExtras{
		blobStore:        opts.BlobStore,
		proveAttachments: opts.ProveAttachments,
		encryptor:        opts.Encryptor,
		filter:           opts.PushFilter,
		onDocsEnded:      opts.OnDocsEnded,
	})
	r.puller = newPuller(store, opts.Checkpointer, opts.CheckpointID, opts.Transport, opts.RemoteName, r.allocSequence, r.relayStatus, opts.OnConflict, pullerExtras{
		blobStore:    opts.BlobStore,
		decryptor:    opts.Decryptor,
		noDecryption: opts.NoDecryption,
		autoPurge:    opts.AutoPurge,
		filter:       opts.PullFilter,
		onDocsEnded:  opts.OnDocsEnded,
	})
	r.cpServer = newCheckpointServer(checkpointStoreAdapter{opts.Checkpointer})

	opts.Transport.OnRequest(r.dispatch)
	opts.Transport.OnClose(r.handleClose)
	return r
}

// Start transitions Stopped -> Connecting -> Idle/Busy and kicks off the
// puller's subChanges announcement and the pusher's enumeration loop.
func (r *Replicator) Start(ctx context.Context) {
	r.mb.post(func() {
		if r.state != StateStopped && r.state != StateOffline {
			return
		}
		r.setState(StateConnecting)

		highest, err := r.opts.LocalStore.HighestSequence(ctx)
		if err != nil {
			r.scheduleRetry(ctx, err)
			return
		}
		r.seq.Store(highest)

		r.setState(StateIdle)
		r.puller.start(ctx)
		r.pusher.start(ctx)
	})
}

// Push nudges the pusher to re-enumerate local changes immediately, for a
// caller that knows new local writes landed and doesn't want to wait for the
// peer's next subChanges wake-up. A no-op once Stop has been called.
func (r *Replicator) Push(ctx context.Context) {
	r.mb.post(func() {
		if r.state == StateStopped || r.state == StateStopping {
			return
		}
		r.pusher.start(ctx)
	})
}

// Stop transitions to Stopping, flushes checkpoints synchronously, then
// Stopped. Idempotent.
func (r *Replicator) Stop(ctx context.Context) {
	done := make(chan struct{})
	r.mb.post(func() {
		defer close(done)
		if r.state == StateStopped {
			return
		}
		r.setState(StateStopping)
		if r.retryer != nil {
			r.retryer.Stop()
		}
		if err := r.opts.Checkpointer.FlushAll(ctx); err != nil {
			log.Warn().Err(err).Msg("checkpoint flush on stop failed")
		}
		r.pusher.stop()
		r.puller.stop()
		r.setState(StateStopped)
	})
	<-done
}

// allocSequence hands out the next local store sequence number for a
// document the puller is about to write, monotonically increasing across
// the lifetime of this Replicator.
func (r *Replicator) allocSequence() uint64 { return r.seq.Add(1) }

// dispatch is the single handler the Transport invokes for every
// peer-initiated request, routed by BLIP profile name.
func (r *Replicator) dispatch(ctx context.Context, req *transport.Message) *transport.Message {
	switch req.Profile {
	case profileGetCheckpoint:
		return r.cpServer.handleGetCheckpoint(ctx, req)
	case profileSetCheckpoint:
		return r.cpServer.handleSetCheckpoint(ctx, req)
	case profileSubChanges:
		return r.pusher.handleSubChanges(ctx, req)
	case profileChanges, profileProposeChanges:
		return r.puller.handleChanges(ctx, req)
	case profileRev:
		return r.puller.handleRev(ctx, req)
	case profileGetAttachment:
		return r.handleGetAttachment(ctx, req)
	case profileProveAttachment:
		return r.handleProveAttachment(ctx, req)
	default:
		return errorMessage(syncerrors.New(syncerrors.DomainLiteCore, 400, "unknown profile: "+req.Profile))
	}
}

func (r *Replicator) handleClose(code int, reason string) {
	r.mb.post(func() {
		if r.state == StateStopped || r.state == StateStopping {
			return
		}
		if reason == "" {
			reason = "connection closed"
		}
		r.scheduleRetry(context.Background(), syncerrors.New(syncerrors.DomainNetwork, code, reason))
	})
}

func (r *Replicator) scheduleRetry(ctx context.Context, err error) {
	r.failures++
	r.setStateWithErr(StateOffline, err, true)
	if !r.opts.Continuous {
		return
	}
	delay := retryDelay(r.opts.RetryBase, r.opts.RetryMaxInterval, r.failures)
	r.retryer = time.AfterFunc(delay, func() { r.Start(ctx) })
}

// relayStatus is called from pusher/puller goroutines (never the
// Replicator's own mailbox), so it posts rather than mutating state inline.
func (r *Replicator) relayStatus(s Status) {
	r.mb.post(func() {
		if s.Err == nil {
			r.failures = 0
		}
		r.setStateFull(s)
	})
}

func (r *Replicator) setState(level State) { r.setStateFull(Status{Level: level}) }

func (r *Replicator) setStateWithErr(level State, err error, willRetry bool) {
	r.setStateFull(Status{Level: level, Err: err, WillRetry: willRetry})
}

func (r *Replicator) setStateFull(s Status) {
	r.state = s.Level
	if r.opts.OnStatus != nil {
		r.opts.OnStatus(s)
	}
}

type checkpointStoreAdapter struct{ c *checkpoint.Checkpointer }

func (a checkpointStoreAdapter) Get(ctx context.Context, id string) (checkpoint.Checkpoint, bool, error) {
	cp, err := a.c.Load(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return checkpoint.Checkpoint{}, false, nil
		}
		return checkpoint.Checkpoint{}, false, err
	}
	return cp, true, nil
}

func (a checkpointStoreAdapter) Put(ctx context.Context, id string, cp checkpoint.Checkpoint) error {
	a.c.SetRemoteCursor(id, cp.Remote)
	return a.c.Save(ctx, id)
}
