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

package recordstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs3org/revsync/pkg/recordstore"
	"github.com/cs3org/revsync/pkg/syncerrors"
)

func TestMemoryPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := recordstore.NewMemory()

	rec := recordstore.Record{DocID: "doc1", Body: []byte("hi"), Sequence: 1}
	require.NoError(t, store.Put(ctx, rec, 0))

	got, err := store.Get(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, rec.Body, got.Body)
}

func TestMemoryPutConflict(t *testing.T) {
	ctx := context.Background()
	store := recordstore.NewMemory()

	require.NoError(t, store.Put(ctx, recordstore.Record{DocID: "doc1", Sequence: 1}, 0))

	// Wrong expected sequence is rejected without mutating durable state.
	err := store.Put(ctx, recordstore.Record{DocID: "doc1", Sequence: 2}, 0)
	var conflict syncerrors.Conflict
	require.ErrorAs(t, err, &conflict)

	got, err := store.Get(ctx, "doc1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Sequence)

	// Correct expected sequence advances the record.
	require.NoError(t, store.Put(ctx, recordstore.Record{DocID: "doc1", Sequence: 2}, 1))
	got, err = store.Get(ctx, "doc1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Sequence)
}

func TestMemoryEnumerateOrdersBySequence(t *testing.T) {
	ctx := context.Background()
	store := recordstore.NewMemory()
	require.NoError(t, store.Put(ctx, recordstore.Record{DocID: "a", Sequence: 3}, 0))
	require.NoError(t, store.Put(ctx, recordstore.Record{DocID: "b", Sequence: 7}, 0))
	require.NoError(t, store.Put(ctx, recordstore.Record{DocID: "c", Sequence: 5}, 0))

	got, err := store.Enumerate(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "c", "b"}, []string{got[0].DocID, got[1].DocID, got[2].DocID})

	got, err = store.Enumerate(ctx, 3, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].DocID)
}

func TestMemoryGetMissingIsNotFound(t *testing.T) {
	store := recordstore.NewMemory()
	_, err := store.Get(context.Background(), "nope")
	var nf syncerrors.NotFound
	assert.ErrorAs(t, err, &nf)
}

func TestMemoryEnumerateExpired(t *testing.T) {
	ctx := context.Background()
	store := recordstore.NewMemory()

	past := time.Unix(0, 0)
	future := time.Now().Add(time.Hour)
	require.NoError(t, store.Put(ctx, recordstore.Record{DocID: "expired", ExpiresAt: &past}, 0))
	require.NoError(t, store.Put(ctx, recordstore.Record{DocID: "fresh", ExpiresAt: &future}, 0))
	require.NoError(t, store.Put(ctx, recordstore.Record{DocID: "noexpiry"}, 0))

	expired, err := store.EnumerateExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"expired"}, expired)
}

func TestMemoryHighestSequence(t *testing.T) {
	ctx := context.Background()
	store := recordstore.NewMemory()
	require.NoError(t, store.Put(ctx, recordstore.Record{DocID: "a", Sequence: 3}, 0))
	require.NoError(t, store.Put(ctx, recordstore.Record{DocID: "b", Sequence: 7}, 0))
	require.NoError(t, store.Put(ctx, recordstore.Record{DocID: "c", Sequence: 5}, 0))

	max, err := store.HighestSequence(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 7, max)
}
