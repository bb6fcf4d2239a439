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

// Package hlc implements the small hybrid logical clock abstraction that
// version vectors depend on: a monotonic counter that fuses
// coarse wall-clock time with a per-process sequence so it keeps advancing
// even across clock skew or repeated calls within the same millisecond.
//
// The encoding packs wall-time milliseconds in the high 44 bits and a
// sequence counter in the low 20 bits, giving ~1M distinct ticks per
// millisecond; past that the counter carries into the millisecond bits and
// the clock runs ahead of wall time until real time catches up.
package hlc

import (
	"sync"
	"time"
)

const counterBits = 20
const counterMask = (1 << counterBits) - 1

// Clock is a monotonic, skew-tolerant logical clock shared across a
// process. The zero value is not usable; use New.
type Clock struct {
	mu   sync.Mutex
	last uint64
	now  func() time.Time
}

// New returns a Clock driven by wall-clock time.
func New() *Clock {
	return &Clock{now: time.Now}
}

// newWithClock is used by tests to control wall time deterministically.
func newWithClock(now func() time.Time) *Clock {
	return &Clock{now: now}
}

func pack(millis int64, counter uint64) uint64 {
	return uint64(millis)<<counterBits | (counter & counterMask)
}

// Now returns a value strictly greater than every value previously returned
// by this Clock and every value passed to Update.
func (c *Clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := uint64(c.now().UnixMilli()) << counterBits
	if wall > c.last {
		c.last = wall
	} else {
		c.last++
	}
	return c.last
}

// Update folds an observed time (e.g. from a peer's version vector) into the
// clock so that subsequent Now() calls stay ahead of it too.
func (c *Clock) Update(observed uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if observed >= c.last {
		c.last = observed + 1
	}
}
