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

import "sync"

// mailbox is the run-to-completion actor primitive: a single goroutine drains a FIFO queue of closures one at a time, so an
// actor is never concurrently executing two handlers and never needs
// internal locking for its own state. Posting from inside a handler (an
// actor re-entering itself or another actor) goes through the buffered
// queue, so it only blocks while the mailbox already holds depth pending
// closures; a callback that could re-enter an actor is always posted,
// never called inline.
type mailbox struct {
	queue    chan func()
	done     chan struct{}
	stopOnce sync.Once
}

// newMailbox starts an actor's dispatch loop with the given mailbox depth.
func newMailbox(depth int) *mailbox {
	if depth <= 0 {
		depth = 256
	}
	m := &mailbox{queue: make(chan func(), depth), done: make(chan struct{})}
	go m.run()
	return m
}

func (m *mailbox) run() {
	for {
		select {
		case fn := <-m.queue:
			fn()
		case <-m.done:
			// Drain whatever was already queued so a Stop doesn't strand
			// posted cleanup work, then exit.
			for {
				select {
				case fn := <-m.queue:
					fn()
				default:
					return
				}
			}
		}
	}
}

// post enqueues fn for later, FIFO, execution. Safe to call from any
// goroutine, including from within the actor's own handler (re-entrance is
// always scheduled, never direct).
func (m *mailbox) post(fn func()) {
	select {
	case m.queue <- fn:
	case <-m.done:
	}
}

// stop terminates the dispatch loop after draining already-queued work.
// Idempotent is idempotent and thread-safe").
func (m *mailbox) stop() {
	m.stopOnce.Do(func() { close(m.done) })
}
