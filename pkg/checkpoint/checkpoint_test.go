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

package checkpoint_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs3org/revsync/pkg/checkpoint"
)

func TestIDIsDeterministic(t *testing.T) {
	a := checkpoint.ID("db-uuid", "wss://peer/db", "default")
	b := checkpoint.ID("db-uuid", "wss://peer/db", "default")
	assert.Equal(t, a, b)

	c := checkpoint.ID("db-uuid", "wss://peer/db", "other-collection")
	assert.NotEqual(t, a, c)
}

func TestAdvanceLocalNeverRegresses(t *testing.T) {
	c := checkpoint.New(checkpoint.NewMemory(), time.Hour)
	c.AdvanceLocal("x", 10)
	c.AdvanceLocal("x", 3) // ignored, would regress
	cp, ok := c.Get("x")
	require.True(t, ok)
	assert.EqualValues(t, 10, cp.Local)

	c.AdvanceLocal("x", 42)
	cp, _ = c.Get("x")
	assert.EqualValues(t, 42, cp.Local)
}

func TestFlushAllPersistsDirtyEntries(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemory()
	c := checkpoint.New(store, time.Hour) // debounce far longer than the test

	c.AdvanceLocal("a", 5)
	c.SetRemoteCursor("a", []byte("cursor-1"))

	require.NoError(t, c.FlushAll(ctx))

	cp, ok, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 5, cp.Local)
	assert.Equal(t, []byte("cursor-1"), cp.Remote)
}

func TestDebouncedSaveFiresAfterWindow(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemory()
	c := checkpoint.New(store, 20*time.Millisecond)

	c.AdvanceLocal("a", 7)

	_, ok, _ := store.Get(ctx, "a")
	assert.False(t, ok, "should not be durable before the debounce window elapses")

	require.Eventually(t, func() bool {
		cp, ok, _ := store.Get(ctx, "a")
		return ok && cp.Local == 7
	}, time.Second, 5*time.Millisecond)
}

func TestResetDiscardsProgressButKeepsPinnedUUIDs(t *testing.T) {
	c := checkpoint.New(checkpoint.NewMemory(), time.Hour)
	require.True(t, c.ValidateCollectionUUIDs("a", []string{"u1", "u2"}))
	c.AdvanceLocal("a", 100)
	c.SetRemoteCursor("a", []byte("cur"))

	c.Reset("a")

	cp, ok := c.Get("a")
	require.True(t, ok)
	assert.Zero(t, cp.Local)
	assert.Nil(t, cp.Remote)
	assert.Equal(t, []string{"u1", "u2"}, cp.CollectionUUIDs)
}

func TestValidateCollectionUUIDsDetectsMismatch(t *testing.T) {
	c := checkpoint.New(checkpoint.NewMemory(), time.Hour)
	assert.True(t, c.ValidateCollectionUUIDs("a", []string{"u1"}))
	assert.True(t, c.ValidateCollectionUUIDs("a", []string{"u1"}))
	assert.False(t, c.ValidateCollectionUUIDs("a", []string{"u2"}))
}

func TestLoadNotFoundWhenNeverWritten(t *testing.T) {
	c := checkpoint.New(checkpoint.NewMemory(), time.Hour)
	_, err := c.Load(context.Background(), "never-seen")
	assert.Error(t, err)
}
