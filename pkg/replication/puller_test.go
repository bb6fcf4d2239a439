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

	"github.com/stretchr/testify/require"

	"github.com/cs3org/revsync/pkg/docrecord"
	"github.com/cs3org/revsync/pkg/hlc"
	"github.com/cs3org/revsync/pkg/recordstore"
	"github.com/cs3org/revsync/pkg/revid"
	"github.com/cs3org/revsync/pkg/structvalue"
	"github.com/cs3org/revsync/pkg/transport"
	"github.com/cs3org/revsync/pkg/versionvector"
)

func newTestPuller(store *localStore, extras pullerExtras) *puller {
	return newPuller(store, nil, "", nil, "peer", func() uint64 { return 1 }, nil, nil, extras)
}

// TestDoHandleRevAutoPurge: a rev carrying the
// purged property removes the document outright when AutoPurge is set,
// rather than inserting a tombstone, and reports DocEndedPurge.
func TestDoHandleRevAutoPurge(t *testing.T) {
	ctx := context.Background()
	backend := recordstore.NewMemory()
	var source revid.SourceID
	source[0] = 1
	store := newLocalStore(backend, source, 1000, hlc.New())

	dr := docrecord.NewTreeRecord("doc1", 1000)
	_, err := dr.SetCurrentRevision(hlc.New(), encodeTestBody(t, map[string]structvalue.Value{"a": int64(1)}), false)
	require.NoError(t, err)
	require.NoError(t, store.save(ctx, dr, 0, 1))

	var ended []DocEnded
	p := newTestPuller(store, pullerExtras{
		autoPurge:   true,
		onDocsEnded: func(ev DocEnded) { ended = append(ended, ev) },
	})

	resp := p.doHandleRev(ctx, &transport.Message{Properties: map[string]string{
		propID: "doc1", propRev: "1-abcd", propPurged: "1",
	}})
	require.Nil(t, resp)

	_, err = backend.Get(ctx, "doc1")
	require.Error(t, err)

	require.Len(t, ended, 1)
	require.Equal(t, DocEndedPurge, ended[0].Kind)
}

// TestDoHandleRevPullFilterRejects: a
// filter that rejects an incoming rev responds with an error instead of
// inserting it, and reports DocEndedFiltered.
func TestDoHandleRevPullFilterRejects(t *testing.T) {
	ctx := context.Background()
	backend := recordstore.NewMemory()
	var source revid.SourceID
	source[0] = 1
	store := newLocalStore(backend, source, 1000, hlc.New())

	var ended []DocEnded
	p := newTestPuller(store, pullerExtras{
		filter:      func(string, revid.RevID, bool, []byte) bool { return false },
		onDocsEnded: func(ev DocEnded) { ended = append(ended, ev) },
	})

	body := encodeTestBody(t, map[string]structvalue.Value{"a": int64(1)})
	resp := p.doHandleRev(ctx, &transport.Message{
		Properties: map[string]string{propID: "doc1", propRev: "1-abcd"},
		Body:       body,
	})
	require.NotNil(t, resp)
	require.True(t, resp.IsError())
	require.Equal(t, "403", resp.Properties["Error-Code"])

	_, err := backend.Get(ctx, "doc1")
	require.Error(t, err)

	require.Len(t, ended, 1)
	require.Equal(t, DocEndedFiltered, ended[0].Kind)
}

// TestDoHandleRevTreeConflictReported: an incoming revision that lands as a
// sibling branch with no common ancestor is stored, but the document ends
// with kind DocEndedConflict and the OnConflict hook fires.
func TestDoHandleRevTreeConflictReported(t *testing.T) {
	ctx := context.Background()
	backend := recordstore.NewMemory()
	var source revid.SourceID
	source[0] = 1
	store := newLocalStore(backend, source, 1000, hlc.New())

	dr := docrecord.NewTreeRecord("doc1", 1000)
	_, err := dr.SetCurrentRevision(hlc.New(), encodeTestBody(t, map[string]structvalue.Value{"a": int64(1)}), false)
	require.NoError(t, err)
	require.NoError(t, store.save(ctx, dr, 0, 1))

	var ended []DocEnded
	var conflicted []string
	p := newTestPuller(store, pullerExtras{
		onDocsEnded: func(ev DocEnded) { ended = append(ended, ev) },
	})
	p.onConflict = func(docID string) { conflicted = append(conflicted, docID) }

	resp := p.doHandleRev(ctx, &transport.Message{
		Properties: map[string]string{propID: "doc1", propRev: "1-beef"},
		Body:       encodeTestBody(t, map[string]structvalue.Value{"a": int64(2)}),
	})
	require.Nil(t, resp)

	require.Len(t, ended, 1)
	require.Equal(t, DocEndedConflict, ended[0].Kind)
	require.Equal(t, []string{"doc1"}, conflicted)
}

// TestDoHandleRevVectorConflictReported: two writes that raced to the same
// logical time on different sources land as a flagged conflict: the puller
// keeps the local revision current, stores the incoming one as the peer's
// sibling, and reports DocEndedConflict.
func TestDoHandleRevVectorConflictReported(t *testing.T) {
	ctx := context.Background()
	backend := recordstore.NewMemory()
	var srcA, srcB revid.SourceID
	srcA[0], srcB[0] = 1, 2
	store := newLocalStore(backend, srcA, 1000, hlc.New())

	localVec, err := versionvector.New([]versionvector.Version{{Source: srcA, LogicalTime: 2}}, 1)
	require.NoError(t, err)
	bodyA := encodeTestBody(t, map[string]structvalue.Value{"db": "A2"})
	require.NoError(t, backend.Put(ctx, recordstore.Record{
		DocID:    "x",
		Version:  append([]byte{0}, []byte(localVec.Format())...),
		Body:     bodyA,
		Sequence: 1,
	}, 0))

	remoteVec, err := versionvector.New([]versionvector.Version{
		{Source: srcB, LogicalTime: 2}, {Source: srcA, LogicalTime: 1},
	}, 1)
	require.NoError(t, err)

	var ended []DocEnded
	p := newTestPuller(store, pullerExtras{
		onDocsEnded: func(ev DocEnded) { ended = append(ended, ev) },
	})

	bodyB := encodeTestBody(t, map[string]structvalue.Value{"db": "B2"})
	resp := p.doHandleRev(ctx, &transport.Message{
		Properties: map[string]string{
			propID: "x", propRev: revid.NewVersion(srcB, 2).Format(), "vector": remoteVec.Format(),
		},
		Body: bodyB,
	})
	require.Nil(t, resp)

	require.Len(t, ended, 1)
	require.Equal(t, DocEndedConflict, ended[0].Kind)

	dr, _, err := store.load(ctx, "x")
	require.NoError(t, err)
	require.NotZero(t, dr.Flags&docrecord.FlagConflicted)
	cur, err := dr.CurrentRevision()
	require.NoError(t, err)
	require.Equal(t, bodyA, cur.Body)
	remote, ok := dr.RemoteRevision(docrecord.RemoteID(1))
	require.True(t, ok)
	require.Equal(t, bodyB, remote.Body)
}

// TestDoHandleRevDecryptsEncryptedProperty covers the receive-side half of
// the property encryption hook: an encrypted$ property in the incoming body
// is reinstated under its plain name before the revision is stored.
func TestDoHandleRevDecryptsEncryptedProperty(t *testing.T) {
	ctx := context.Background()
	backend := recordstore.NewMemory()
	var source revid.SourceID
	source[0] = 1
	store := newLocalStore(backend, source, 1000, hlc.New())

	plainBody := encodeTestBody(t, map[string]structvalue.Value{
		"ssn": structvalue.NewDict(map[string]structvalue.Value{
			"@type": "Encryptable",
			"value": "123-45-6789",
		}),
	})
	encrypted, err := encryptOutgoing("doc1", plainBody, xorEncryptor)
	require.NoError(t, err)

	p := newTestPuller(store, pullerExtras{decryptor: xorDecryptor})

	resp := p.doHandleRev(ctx, &transport.Message{
		Properties: map[string]string{propID: "doc1", propRev: "1-abcd"},
		Body:       encrypted,
	})
	require.Nil(t, resp)

	rec, err := backend.Get(ctx, "doc1")
	require.NoError(t, err)
	dr, err := docrecord.Load("doc1", rec.Version, rec.Body, rec.Extras, source, 1000)
	require.NoError(t, err)
	cur, err := dr.CurrentRevision()
	require.NoError(t, err)

	val, err := decodeBody(cur.Body)
	require.NoError(t, err)
	dict := val.(*structvalue.Dict)
	ssn, ok := dict.Get("ssn")
	require.True(t, ok)
	require.Equal(t, "123-45-6789", ssn)
}
