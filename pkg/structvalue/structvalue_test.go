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

package structvalue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs3org/revsync/pkg/structvalue"
)

func TestEqualPointerFastPath(t *testing.T) {
	shared := structvalue.NewDict(map[string]structvalue.Value{"a": int64(1)})
	outerA := structvalue.NewDict(map[string]structvalue.Value{"shared": shared})
	outerB := structvalue.NewDict(map[string]structvalue.Value{"shared": shared})
	assert.True(t, structvalue.Equal(outerA, outerB))
}

func TestEqualStructural(t *testing.T) {
	a := structvalue.NewDict(map[string]structvalue.Value{"x": int64(1), "y": "hi"})
	b := structvalue.NewDict(map[string]structvalue.Value{"x": int64(1), "y": "hi"})
	assert.True(t, structvalue.Equal(a, b))

	c := structvalue.NewDict(map[string]structvalue.Value{"x": int64(2), "y": "hi"})
	assert.False(t, structvalue.Equal(a, c))
}

func TestDeepIteratePreOrder(t *testing.T) {
	arr := structvalue.NewArray([]structvalue.Value{int64(1), int64(2)})
	d := structvalue.NewDict(map[string]structvalue.Value{"list": arr, "n": int64(9)})

	var paths []string
	structvalue.DeepIterate(d, func(path string, v structvalue.Value) bool {
		paths = append(paths, path)
		return true
	})
	assert.Contains(t, paths, "")
	assert.Contains(t, paths, "list")
	assert.Contains(t, paths, "list[0]")
	assert.Contains(t, paths, "n")
}

func TestEncoderDedupesRepeatedSubtree(t *testing.T) {
	shared := structvalue.NewDict(map[string]structvalue.Value{"k": "v"})
	doc := structvalue.NewDict(map[string]structvalue.Value{
		"first":  shared,
		"second": shared,
	})

	enc := structvalue.NewEncoder()
	_, err := enc.Encode(doc)
	require.NoError(t, err)

	plain := structvalue.NewEncoder()
	bigDoc := structvalue.NewDict(map[string]structvalue.Value{
		"first":  structvalue.NewDict(map[string]structvalue.Value{"k": "v", "padding": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}),
		"second": structvalue.NewDict(map[string]structvalue.Value{"k2": "v2", "padding2": "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"}),
	})
	_, err = plain.Encode(bigDoc)
	require.NoError(t, err)

	// Repeats that first appear inside a single Encode call are written in
	// full (see dedupNative), so this bounds the repeated-dict doc's size by
	// that of a doc with two larger, padded nested dicts.
	assert.LessOrEqual(t, len(enc.Bytes()), len(plain.Bytes()))
}

func TestAdoptBodyCrossSegmentPointer(t *testing.T) {
	shared := structvalue.NewDict(map[string]structvalue.Value{
		"k":       "v",
		"padding": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	})

	bodyEnc := structvalue.NewEncoder()
	_, err := bodyEnc.Encode(shared)
	require.NoError(t, err)
	body := bodyEnc.Bytes()

	// A fresh encoder adopts the already-encoded body without re-encoding
	// it; a value nested inside a later segment that matches the body's
	// root is written as a back-reference.
	enc := structvalue.NewEncoder()
	require.NoError(t, enc.AdoptBody(body))
	outer := structvalue.NewDict(map[string]structvalue.Value{"entry": shared, "n": int64(1)})
	_, err = enc.Encode(outer)
	require.NoError(t, err)
	extras := enc.Bytes()
	assert.Less(t, len(extras), len(body))

	dec := structvalue.NewDecoder(extras, body)
	decoded, err := dec.Decode()
	require.NoError(t, err)
	got, ok := decoded.(*structvalue.Dict)
	require.True(t, ok)
	entry, ok := got.Get("entry")
	require.True(t, ok)
	assert.True(t, structvalue.Equal(entry, shared))
}

func TestSnipAndCrossSegmentPointer(t *testing.T) {
	shared := structvalue.NewDict(map[string]structvalue.Value{"remote": int64(1), "rev": "3-abc"})

	enc := structvalue.NewEncoder()
	_, err := enc.Encode(shared)
	require.NoError(t, err)
	body := enc.Snip()

	extrasOffset, err := enc.Encode(shared)
	require.NoError(t, err)
	extras := enc.Bytes()

	dec := structvalue.NewDecoder(extras, body)
	decoded, err := dec.Decode()
	require.NoError(t, err)
	assert.True(t, structvalue.Equal(decoded, shared))
	assert.GreaterOrEqual(t, extrasOffset, int64(0))
}
