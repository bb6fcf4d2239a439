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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cs3org/revsync/pkg/checkpoint"
	"github.com/cs3org/revsync/pkg/docrecord"
	"github.com/cs3org/revsync/pkg/hlc"
	"github.com/cs3org/revsync/pkg/recordstore"
	"github.com/cs3org/revsync/pkg/revid"
	"github.com/cs3org/revsync/pkg/structvalue"
	"github.com/cs3org/revsync/pkg/transport"
	"github.com/cs3org/revsync/pkg/versionvector"
)

func encodeTestBody(t *testing.T, fields map[string]structvalue.Value) []byte {
	t.Helper()
	enc := structvalue.NewEncoder()
	_, err := enc.Encode(structvalue.NewDict(fields))
	require.NoError(t, err)
	return enc.Bytes()
}

func newTestReplicatorPair(t *testing.T, continuous bool) (a, b *Replicator, aStore, bStore *recordstore.Memory) {
	t.Helper()
	aStore, bStore = recordstore.NewMemory(), recordstore.NewMemory()
	ta, tb := transport.NewLoopbackPair()

	clockA, clockB := hlc.New(), hlc.New()
	var srcA, srcB revid.SourceID
	srcA[0], srcB[0] = 1, 2

	a = New(Options{
		Transport: ta, LocalStore: aStore, Source: srcA, Clock: clockA,
		Checkpointer: checkpoint.New(checkpoint.NewMemory(), time.Millisecond),
		CheckpointID: "cp-a-to-b", RemoteName: "b", Continuous: continuous,
	})
	b = New(Options{
		Transport: tb, LocalStore: bStore, Source: srcB, Clock: clockB,
		Checkpointer: checkpoint.New(checkpoint.NewMemory(), time.Millisecond),
		CheckpointID: "cp-b-to-a", RemoteName: "a", Continuous: continuous,
	})
	return a, b, aStore, bStore
}

func putTreeDoc(t *testing.T, ctx context.Context, store *recordstore.Memory, docID string, body []byte) {
	t.Helper()
	dr := docrecord.NewTreeRecord(docID, 1000)
	_, err := dr.SetCurrentRevision(hlc.New(), body, false)
	require.NoError(t, err)
	version, b, extras, err := dr.Serialize()
	require.NoError(t, err)
	seq, err := store.HighestSequence(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, recordstore.Record{DocID: docID, Version: version, Body: b, Extras: extras, Sequence: seq + 1}, 0))
}

// TestReplicatorPushesNewDocument covers a one-shot push of one tree-mode
// document from A to B: A offers it via proposeChanges, B decides it needs
// the full body, A sends a rev, B applies it.
func TestReplicatorPushesNewDocument(t *testing.T) {
	ctx := context.Background()
	a, b, aStore, bStore := newTestReplicatorPair(t, false)
	defer a.Stop(ctx)
	defer b.Stop(ctx)

	body := encodeTestBody(t, map[string]structvalue.Value{"title": "hello"})
	putTreeDoc(t, ctx, aStore, "doc1", body)

	b.Start(ctx)
	a.Start(ctx)

	require.Eventually(t, func() bool {
		_, err := bStore.Get(ctx, "doc1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	rec, err := bStore.Get(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, body, rec.Body)
}

// TestReplicatorIncrementalPush: after an initial batch is fully pushed, a second document added later is
// picked up on the next pusher wake-up without resending the first.
func TestReplicatorIncrementalPush(t *testing.T) {
	ctx := context.Background()
	a, b, aStore, bStore := newTestReplicatorPair(t, false)
	defer a.Stop(ctx)
	defer b.Stop(ctx)

	putTreeDoc(t, ctx, aStore, "doc1", encodeTestBody(t, map[string]structvalue.Value{"n": int64(1)}))

	b.Start(ctx)
	a.Start(ctx)
	require.Eventually(t, func() bool {
		_, err := bStore.Get(ctx, "doc1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	putTreeDoc(t, ctx, aStore, "doc2", encodeTestBody(t, map[string]structvalue.Value{"n": int64(2)}))
	a.Push(ctx) // nudge the pusher to re-enumerate now that doc2 landed

	require.Eventually(t, func() bool {
		_, err := bStore.Get(ctx, "doc2")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

// TestReplicatorVectorModeTieBreak covers vector mode's conflict policy
// when the tie-break has a winner: two independent writers advance the same
// document, the strictly later write wins on both sides, and the losing
// revision stays visible as the remote's sibling entry.
func TestReplicatorVectorModeTieBreak(t *testing.T) {
	clock := hlc.New()
	var srcA, srcB revid.SourceID
	srcA[0], srcB[0] = 1, 2

	bodyV1 := encodeTestBody(t, map[string]structvalue.Value{"v": int64(1)})
	drA := docrecord.NewVectorRecord("doc1", srcA)
	_, err := drA.SetCurrentRevision(clock, bodyV1, false)
	require.NoError(t, err)

	drB := docrecord.NewVectorRecord("doc1", srcB)
	_, outcome, err := drB.AdoptRemoteVector(docrecord.RemoteID(1), drA.Vector(), bodyV1, false)
	require.NoError(t, err)
	require.Equal(t, docrecord.AdoptFastForward, outcome)

	bodyB := encodeTestBody(t, map[string]structvalue.Value{"v": int64(2), "from": "b"})
	_, err = drB.SetCurrentRevision(clock, bodyB, false)
	require.NoError(t, err)

	bodyA := encodeTestBody(t, map[string]structvalue.Value{"v": int64(3), "from": "a"})
	_, err = drA.SetCurrentRevision(clock, bodyA, false)
	require.NoError(t, err)

	require.Equal(t, versionvector.Conflicting, drA.Vector().CompareTo(drB.Vector()))

	// A's write drew the later clock reading, so pulling B's revision into
	// A keeps A's revision current; B's stays visible as the sibling.
	_, outcome, err = drA.AdoptRemoteVector(docrecord.RemoteID(1), drB.Vector(), bodyB, false)
	require.NoError(t, err)
	require.Equal(t, docrecord.AdoptKeptLocal, outcome)
	cur, err := drA.CurrentRevision()
	require.NoError(t, err)
	require.Equal(t, bodyA, cur.Body)
	remote, ok := drA.RemoteRevision(docrecord.RemoteID(1))
	require.True(t, ok)
	require.Equal(t, bodyB, remote.Body)

	// The symmetric pull converges B onto A's revision.
	_, outcome, err = drB.AdoptRemoteVector(docrecord.RemoteID(1), drA.Vector(), bodyA, false)
	require.NoError(t, err)
	require.Equal(t, docrecord.AdoptKeptIncoming, outcome)
	curB, err := drB.CurrentRevision()
	require.NoError(t, err)
	require.Equal(t, bodyA, curB.Body)
}

// TestReplicatorVectorModeConflictAndResolve covers the no-winner case: two
// writes that raced to the same logical time on different sources flag the
// document Conflicted with both revisions kept, the conflict survives a
// save/load round trip, and ResolveConflict writes a merge revision that
// dominates the sibling and clears the flag.
func TestReplicatorVectorModeConflictAndResolve(t *testing.T) {
	var srcA, srcB revid.SourceID
	srcA[0], srcB[0] = 1, 2

	localVec, err := versionvector.New([]versionvector.Version{{Source: srcA, LogicalTime: 2}}, 1)
	require.NoError(t, err)
	remoteVec, err := versionvector.New([]versionvector.Version{
		{Source: srcB, LogicalTime: 2}, {Source: srcA, LogicalTime: 1},
	}, 1)
	require.NoError(t, err)

	bodyA := encodeTestBody(t, map[string]structvalue.Value{"db": "A2"})
	versionField := append([]byte{0}, []byte(localVec.Format())...)
	drA, err := docrecord.Load("x", versionField, bodyA, nil, srcA, 1000)
	require.NoError(t, err)

	bodyB := encodeTestBody(t, map[string]structvalue.Value{"db": "B2"})
	curID, outcome, err := drA.AdoptRemoteVector(docrecord.RemoteID(1), remoteVec, bodyB, false)
	require.NoError(t, err)
	require.Equal(t, docrecord.AdoptConflict, outcome)
	require.NotZero(t, drA.Flags&docrecord.FlagConflicted)

	cur, err := drA.CurrentRevision()
	require.NoError(t, err)
	require.True(t, cur.RevID.Equal(curID))
	require.Equal(t, bodyA, cur.Body)
	remote, ok := drA.RemoteRevision(docrecord.RemoteID(1))
	require.True(t, ok)
	require.Equal(t, bodyB, remote.Body)

	vf, body, extras, err := drA.Serialize()
	require.NoError(t, err)
	loaded, err := docrecord.Load("x", vf, body, extras, srcA, 1000)
	require.NoError(t, err)
	require.NotZero(t, loaded.Flags&docrecord.FlagConflicted)
	reloadedRemote, ok := loaded.RemoteRevision(docrecord.RemoteID(1))
	require.True(t, ok)
	require.Equal(t, bodyB, reloadedRemote.Body)

	merged := encodeTestBody(t, map[string]structvalue.Value{"db": "merged"})
	mergedID, err := loaded.ResolveConflict(hlc.New(), merged, false)
	require.NoError(t, err)
	require.Zero(t, loaded.Flags&docrecord.FlagConflicted)
	require.Equal(t, versionvector.Newer, loaded.Vector().CompareTo(remoteVec))
	cur2, err := loaded.CurrentRevision()
	require.NoError(t, err)
	require.True(t, cur2.RevID.Equal(mergedID))
	require.Equal(t, merged, cur2.Body)
}

// TestCheckpointExchangeRoundTrip exercises getCheckpoint/setCheckpoint
// directly against a checkpointServer, including the 404-then-set path and
// a rev-mismatch conflict.
func TestCheckpointExchangeRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemory()
	srv := newCheckpointServer(store)

	resp := srv.handleGetCheckpoint(ctx, &transport.Message{Properties: map[string]string{propClient: "peerX"}})
	require.True(t, resp.IsError())
	require.Equal(t, "404", resp.Properties["Error-Code"])

	setResp := srv.handleSetCheckpoint(ctx, &transport.Message{Properties: map[string]string{propClient: "peerX"}, Body: []byte("cursor-1")})
	require.False(t, setResp.IsError())
	rev1 := setResp.Properties[propRev]
	require.NotEmpty(t, rev1)

	getResp := srv.handleGetCheckpoint(ctx, &transport.Message{Properties: map[string]string{propClient: "peerX"}})
	require.False(t, getResp.IsError())
	require.Equal(t, []byte("cursor-1"), getResp.Body)
	require.Equal(t, rev1, getResp.Properties[propRev])

	conflictResp := srv.handleSetCheckpoint(ctx, &transport.Message{
		Properties: map[string]string{propClient: "peerX", propRev: "stale"}, Body: []byte("cursor-2"),
	})
	require.True(t, conflictResp.IsError())
	require.Equal(t, "409", conflictResp.Properties["Error-Code"])
}

// TestDeltaDiffApplyRoundTrip checks Diff/Apply on nested dicts, including a
// changed nested field, a removed top-level field and an added one.
func TestDeltaDiffApplyRoundTrip(t *testing.T) {
	ancestor := structvalue.NewDict(map[string]structvalue.Value{
		"title": "old",
		"meta":  structvalue.NewDict(map[string]structvalue.Value{"author": "alice", "draft": true}),
		"gone":  "bye",
	})
	current := structvalue.NewDict(map[string]structvalue.Value{
		"title": "new",
		"meta":  structvalue.NewDict(map[string]structvalue.Value{"author": "alice", "draft": false}),
		"added": "hi",
	})

	delta, ok := Diff(ancestor, current)
	require.True(t, ok)

	patched, err := Apply(ancestor, delta)
	require.NoError(t, err)
	require.True(t, structvalue.Equal(current, patched))
}
