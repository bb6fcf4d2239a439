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

package hlc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNowStrictlyIncreasing(t *testing.T) {
	fixed := time.UnixMilli(1000)
	c := newWithClock(func() time.Time { return fixed })

	prev := c.Now()
	for i := 0; i < 1000; i++ {
		next := c.Now()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestNowAdvancesWithWallTime(t *testing.T) {
	ms := int64(1000)
	c := newWithClock(func() time.Time { return time.UnixMilli(ms) })
	a := c.Now()
	ms = 2000
	b := c.Now()
	assert.Greater(t, b, a)
}

func TestUpdateAdvancesPastObserved(t *testing.T) {
	fixed := time.UnixMilli(1000)
	c := newWithClock(func() time.Time { return fixed })

	observed := c.Now() + 5000
	c.Update(observed)
	next := c.Now()
	assert.Greater(t, next, observed)
}

func TestConcurrentNowNeverCollides(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	results := make(chan uint64, 2000)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				results <- c.Now()
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[uint64]bool{}
	for v := range results {
		assert.False(t, seen[v], "duplicate tick %d", v)
		seen[v] = true
	}
}
