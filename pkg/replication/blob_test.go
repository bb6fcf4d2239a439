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
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // matches verifyDigest's content-addressing scheme
	"encoding/hex"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cs3org/revsync/pkg/blobstore"
	"github.com/cs3org/revsync/pkg/recordstore"
	"github.com/cs3org/revsync/pkg/revid"
	"github.com/cs3org/revsync/pkg/structvalue"
	"github.com/cs3org/revsync/pkg/transport"
)

func digestOf(content []byte) string {
	sum := sha1.Sum(content) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func newBlobPeer(t *testing.T, tr transport.Transport, store blobstore.Store) *Replicator {
	t.Helper()
	var src revid.SourceID
	src[0] = 9
	return New(Options{
		Transport: tr, LocalStore: recordstore.NewMemory(), Source: src, BlobStore: store,
	})
}

// TestResolveBlobsFetchesAndVerifies: a body
// referencing a blob digest not yet present locally is fetched from the
// peer via getAttachment, its content verified against the digest, and
// written into the local blob store before the revision would commit.
func TestResolveBlobsFetchesAndVerifies(t *testing.T) {
	ctx := context.Background()
	ta, tb := transport.NewLoopbackPair()

	content := []byte("attachment bytes")
	digest := digestOf(content)

	serverStore, err := blobstore.NewLocalDisk(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, serverStore.Upload(ctx, digest, bytes.NewReader(content)))
	newBlobPeer(t, tb, serverStore)

	clientStore, err := blobstore.NewLocalDisk(t.TempDir())
	require.NoError(t, err)

	body := encodeTestBody(t, map[string]structvalue.Value{
		"attachment": structvalue.NewDict(map[string]structvalue.Value{
			"@type":  blobRefType,
			"digest": digest,
		}),
	})

	require.NoError(t, resolveBlobs(ctx, clientStore, ta, "doc1", body))

	r, err := clientStore.Download(ctx, digest)
	require.NoError(t, err)
	defer r.Close() //nolint:errcheck
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

// TestResolveBlobsAlreadyPresent is a no-op: no getAttachment round trip
// happens when the digest is already in the local blob store.
func TestResolveBlobsAlreadyPresent(t *testing.T) {
	ctx := context.Background()
	ta, _ := transport.NewLoopbackPair() // peer has no handler registered

	content := []byte("already have this")
	digest := digestOf(content)

	clientStore, err := blobstore.NewLocalDisk(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, clientStore.Upload(ctx, digest, bytes.NewReader(content)))

	body := encodeTestBody(t, map[string]structvalue.Value{
		"attachment": structvalue.NewDict(map[string]structvalue.Value{
			"@type":  blobRefType,
			"digest": digest,
		}),
	})

	require.NoError(t, resolveBlobs(ctx, clientStore, ta, "doc1", body))
}

// TestResolveBlobsDigestMismatchRejected refuses to write fetched content
// whose SHA-1 doesn't match the digest it was referenced by.
func TestResolveBlobsDigestMismatchRejected(t *testing.T) {
	ctx := context.Background()
	ta, tb := transport.NewLoopbackPair()

	realContent := []byte("real content")
	claimedDigest := digestOf([]byte("something else entirely"))

	serverStore, err := blobstore.NewLocalDisk(t.TempDir())
	require.NoError(t, err)
	// Upload under the claimed (wrong) digest so getAttachment answers with
	// mismatching content, the way a corrupt or malicious peer would.
	require.NoError(t, serverStore.Upload(ctx, claimedDigest, bytes.NewReader(realContent)))
	newBlobPeer(t, tb, serverStore)

	clientStore, err := blobstore.NewLocalDisk(t.TempDir())
	require.NoError(t, err)

	body := encodeTestBody(t, map[string]structvalue.Value{
		"attachment": structvalue.NewDict(map[string]structvalue.Value{
			"@type":  blobRefType,
			"digest": claimedDigest,
		}),
	})

	err = resolveBlobs(ctx, clientStore, ta, "doc1", body)
	require.Error(t, err)

	_, derr := clientStore.Download(ctx, claimedDigest)
	require.Error(t, derr)
}

// TestScanBlobDigestsFindsNestedReferences walks into nested dicts and
// arrays and de-duplicates repeated digests.
func TestScanBlobDigestsFindsNestedReferences(t *testing.T) {
	val := structvalue.NewDict(map[string]structvalue.Value{
		"photo": structvalue.NewDict(map[string]structvalue.Value{"@type": blobRefType, "digest": "abc"}),
		"nested": structvalue.NewDict(map[string]structvalue.Value{
			"thumb": structvalue.NewDict(map[string]structvalue.Value{"@type": blobRefType, "digest": "abc"}),
		}),
		"gallery": structvalue.NewArray([]structvalue.Value{
			structvalue.NewDict(map[string]structvalue.Value{"@type": blobRefType, "digest": "def"}),
		}),
	})
	digests := scanBlobDigests(val)
	require.ElementsMatch(t, []string{"abc", "def"}, digests)
}
