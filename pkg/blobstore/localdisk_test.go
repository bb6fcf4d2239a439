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

package blobstore_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs3org/revsync/pkg/blobstore"
	"github.com/cs3org/revsync/pkg/syncerrors"
)

func TestLocalDiskUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := blobstore.NewLocalDisk(t.TempDir())
	require.NoError(t, err)

	data := []byte("1234567890")
	require.NoError(t, store.Upload(ctx, "foo", bytes.NewReader(data)))

	r, err := store.Download(ctx, "foo")
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestLocalDiskDownloadMissingIsNotFound(t *testing.T) {
	store, err := blobstore.NewLocalDisk(t.TempDir())
	require.NoError(t, err)

	_, err = store.Download(context.Background(), "missing")
	var nf syncerrors.NotFound
	assert.ErrorAs(t, err, &nf)
}

func TestLocalDiskDelete(t *testing.T) {
	ctx := context.Background()
	store, err := blobstore.NewLocalDisk(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Upload(ctx, "foo", bytes.NewReader([]byte("x"))))
	require.NoError(t, store.Delete(ctx, "foo"))

	_, err = store.Download(ctx, "foo")
	var nf syncerrors.NotFound
	assert.ErrorAs(t, err, &nf)
}
