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
	"time"

	"github.com/cs3org/revsync/pkg/revid"
)

// State is one of the Replicator root actor's states.
type State int

// The six replicator states.
const (
	StateStopped State = iota
	StateOffline
	StateConnecting
	StateIdle
	StateBusy
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateOffline:
		return "Offline"
	case StateConnecting:
		return "Connecting"
	case StateIdle:
		return "Idle"
	case StateBusy:
		return "Busy"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// Progress summarizes push/pull work completed vs. outstanding, carried on
// Status.
type Progress struct {
	DocsCompleted uint64
	DocsTotal     uint64
	Done          uint64
	Total         uint64
}

// Status is the callback payload delivered on every state or progress
// change.
type Status struct {
	Level    State
	Progress Progress
	Err      error

	WillRetry     bool
	HostReachable bool
	Suspended     bool
}

// DocEndedKind classifies why one document's replication finished.
type DocEndedKind int

// The kinds a DocEnded event can report.
const (
	DocEndedOK DocEndedKind = iota
	DocEndedError
	DocEndedRejected
	DocEndedFiltered
	DocEndedPurge
	// DocEndedConflict: the revision was stored, but it landed as a
	// conflict branch (tree mode) or an unresolvable concurrent write
	// (vector mode) and the document is now flagged Conflicted.
	DocEndedConflict
)

func (k DocEndedKind) String() string {
	switch k {
	case DocEndedOK:
		return "OK"
	case DocEndedError:
		return "Error"
	case DocEndedRejected:
		return "Rejected"
	case DocEndedFiltered:
		return "Filtered"
	case DocEndedPurge:
		return "Purge"
	case DocEndedConflict:
		return "Conflict"
	default:
		return "Unknown"
	}
}

// DocEnded is delivered to Options.OnDocsEnded once per document as its push
// or pull outcome becomes final.
type DocEnded struct {
	DocID string
	RevID revid.RevID
	Push  bool // true for an offered-by-us revision, false for a received one
	Kind  DocEndedKind
	Err   error
}

// retryDelay computes the reconnect backoff:
// min(2^n * base, maxRetryInterval), n = consecutive failure count.
func retryDelay(base, maxInterval time.Duration, failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	d := base
	for i := 0; i < failures && d < maxInterval; i++ {
		d *= 2
		if d <= 0 { // overflow guard
			return maxInterval
		}
	}
	if d > maxInterval {
		d = maxInterval
	}
	return d
}
