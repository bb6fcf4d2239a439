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

package revtree_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs3org/revsync/pkg/revid"
	"github.com/cs3org/revsync/pkg/revtree"
)

func digest(t *testing.T, ascii string) revid.RevID {
	t.Helper()
	r, err := revid.Parse(ascii)
	require.NoError(t, err)
	return r
}

func TestInsertRootThenChild(t *testing.T) {
	tree := revtree.NewTree(100)
	root := digest(t, "1-aaaa")
	res, err := tree.Insert(root, []byte(`{"a":1}`), 0, nil, false)
	require.NoError(t, err)
	assert.Equal(t, revtree.Inserted, res)

	child := digest(t, "2-bbbb")
	res, err = tree.Insert(child, []byte(`{"a":2}`), 0, &root, false)
	require.NoError(t, err)
	assert.Equal(t, revtree.Inserted, res)

	cur, ok := tree.CurrentIndex()
	require.True(t, ok)
	assert.True(t, tree.Rev(cur).RevID.Equal(child))

	rootIdx, ok := tree.IndexOf(root)
	require.True(t, ok)
	assert.False(t, tree.Rev(rootIdx).IsLeaf())
}

func TestInsertSecondChildIsConflict(t *testing.T) {
	tree := revtree.NewTree(100)
	root := digest(t, "1-aaaa")
	_, err := tree.Insert(root, []byte(`{}`), 0, nil, false)
	require.NoError(t, err)

	childA := digest(t, "2-bbbb")
	_, err = tree.Insert(childA, []byte(`{}`), 0, &root, false)
	require.NoError(t, err)

	childB := digest(t, "2-cccc")
	res, err := tree.Insert(childB, []byte(`{}`), 0, &root, true)
	require.NoError(t, err)
	assert.Equal(t, revtree.ResultConflict, res)
	idx, _ := tree.IndexOf(childB)
	assert.True(t, tree.Rev(idx).IsConflict())
}

func TestCurrentRevisionHighestRevIDTieBreak(t *testing.T) {
	tree := revtree.NewTree(100)
	root := digest(t, "1-aaaa")
	_, err := tree.Insert(root, []byte(`{}`), 0, nil, false)
	require.NoError(t, err)

	a := digest(t, "2-aaaa")
	_, err = tree.Insert(a, []byte(`{}`), 0, &root, false)
	require.NoError(t, err)
	b := digest(t, "2-bbbb")
	_, err = tree.Insert(b, []byte(`{}`), 0, &root, true)
	require.NoError(t, err)

	cur, _ := tree.CurrentIndex()
	assert.True(t, tree.Rev(cur).RevID.Equal(a)) // b was inserted as a conflict branch; non-conflict outranks the higher revID
}

func TestInsertHistoryFindsCommonAncestor(t *testing.T) {
	tree := revtree.NewTree(100)
	r1 := digest(t, "1-aaaa")
	r2 := digest(t, "2-bbbb")
	_, err := tree.Insert(r1, []byte(`{}`), 0, nil, false)
	require.NoError(t, err)
	_, err = tree.Insert(r2, []byte(`{}`), 0, &r1, false)
	require.NoError(t, err)

	r3 := digest(t, "3-cccc")
	r4 := digest(t, "4-dddd")
	// leaf-first history: r4 is new leaf, r4's parent is r3, r3's parent is r2 (already known).
	history := []revid.RevID{r4, r3, r2}
	ancestorIdx, res, err := tree.InsertHistory(history, []byte(`{"v":4}`), 0, false)
	require.NoError(t, err)
	assert.Equal(t, revtree.Inserted, res)
	assert.Equal(t, 2, ancestorIdx)

	cur, _ := tree.CurrentIndex()
	assert.True(t, tree.Rev(cur).RevID.Equal(r4))
}

func TestPruneRespectsKeepBodyAndRemoteCursor(t *testing.T) {
	tree := revtree.NewTree(2)
	prev := digest(t, "1-0001")
	_, err := tree.Insert(prev, []byte(`{}`), 0, nil, false)
	require.NoError(t, err)

	var pinnedIdx int
	for g := 2; g <= 6; g++ {
		id := digest(t, generationRevID(g))
		flags := revtree.Flags(0)
		if g == 3 {
			flags = revtree.FlagKeepBody
		}
		_, err := tree.Insert(id, []byte(`{}`), flags, &prev, false)
		require.NoError(t, err)
		if g == 3 {
			idx, _ := tree.IndexOf(id)
			pinnedIdx = idx
		}
		prev = id
	}

	tree.Prune(2)
	// the KeepBody rev at generation 3 must survive despite being deep.
	_, stillThere := tree.IndexOf(digest(t, generationRevID(3)))
	assert.True(t, stillThere)
	assert.GreaterOrEqual(t, pinnedIdx, 0)
}

func generationRevID(gen int) string {
	digits := "0123456789abcdef"
	return string(rune('0'+gen%10)) + "-" + string(digits[gen%16]) + "eee"
}

func TestGenerateDigestRevIDMatchesGenerationChain(t *testing.T) {
	parent := digest(t, "1-aaaa")
	child, err := revtree.GenerateDigestRevID(&parent, false, []byte(`{"x":1}`))
	require.NoError(t, err)
	assert.EqualValues(t, 2, child.Generation())

	childAgain, err := revtree.GenerateDigestRevID(&parent, false, []byte(`{"x":1}`))
	require.NoError(t, err)
	assert.True(t, child.Equal(childAgain), "digest generation must be deterministic")

	childDeleted, err := revtree.GenerateDigestRevID(&parent, true, []byte(`{"x":1}`))
	require.NoError(t, err)
	assert.False(t, child.Equal(childDeleted), "deleted flag must affect the digest")
}
