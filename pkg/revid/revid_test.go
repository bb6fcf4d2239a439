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

package revid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs3org/revsync/pkg/revid"
	"github.com/cs3org/revsync/pkg/syncerrors"
)

func TestParseDigestValid(t *testing.T) {
	r, err := revid.Parse("12-cafebabe")
	require.NoError(t, err)
	assert.Equal(t, revid.FormDigest, r.Form())
	assert.EqualValues(t, 12, r.Generation())
	assert.Equal(t, "12-cafebabe", r.Format())
}

func TestParseDigestBoundaries(t *testing.T) {
	cases := []string{"0-aa", "1-", "1-AB", "1-aB", "1-zz", "garbage"}
	for _, c := range cases {
		_, err := revid.Parse(c)
		assert.Errorf(t, err, "expected error for %q", c)
		var bad syncerrors.BadRevisionID
		assert.ErrorAs(t, err, &bad)
	}
}

func TestParseVersionValid(t *testing.T) {
	src := revid.SourceID{}
	for i := range src {
		src[i] = byte(i)
	}
	v := revid.NewVersion(src, 0x1a2b)
	ascii := v.Format()
	parsed, err := revid.Parse(ascii)
	require.NoError(t, err)
	assert.Equal(t, revid.FormVersion, parsed.Form())
	assert.True(t, parsed.Equal(v))
}

func TestBinaryFormDiscriminator(t *testing.T) {
	d, err := revid.NewDigest(3, []byte{0x01, 0x02})
	require.NoError(t, err)
	assert.False(t, revid.IsBinaryVersionForm(d.BinaryEncode()))

	v := revid.NewVersion(revid.SourceID{1, 2, 3}, 99)
	assert.True(t, revid.IsBinaryVersionForm(v.BinaryEncode()))

	roundTripped, err := revid.BinaryDecode(v.BinaryEncode())
	require.NoError(t, err)
	assert.True(t, roundTripped.Equal(v))
}

func TestDigestAndVersionNeverEqual(t *testing.T) {
	d, err := revid.NewDigest(1, []byte{0xaa})
	require.NoError(t, err)
	v := revid.NewVersion(revid.SourceID{}, 1)
	assert.False(t, d.Equal(v))
}

func TestCompareDigestByGenerationThenBytes(t *testing.T) {
	a, _ := revid.NewDigest(1, []byte{0x01})
	b, _ := revid.NewDigest(2, []byte{0x00})
	assert.Negative(t, revid.Compare(a, b))

	c, _ := revid.NewDigest(1, []byte{0x02})
	assert.Negative(t, revid.Compare(a, c))
}

func TestCompareVersionByAscendingTime(t *testing.T) {
	a := revid.NewVersion(revid.SourceID{1}, 5)
	b := revid.NewVersion(revid.SourceID{2}, 10)
	assert.Negative(t, revid.Compare(a, b))
}
