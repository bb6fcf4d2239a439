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

// Package versionvector implements an ordered set of (sourceID,
// logicalTime) entries supporting comparison, merge and delta operations.
package versionvector

import (
	"fmt"
	"strings"

	"github.com/cs3org/revsync/pkg/hlc"
	"github.com/cs3org/revsync/pkg/revid"
	"github.com/cs3org/revsync/pkg/syncerrors"
)

// Version is a single (sourceID, logicalTime) element.
type Version struct {
	Source      revid.SourceID
	LogicalTime uint64
}

// Comparison is the result of comparing two vectors.
type Comparison int

// The four possible comparison outcomes.
const (
	Same Comparison = iota
	Older
	Newer
	Conflicting
)

func (c Comparison) String() string {
	switch c {
	case Same:
		return "Same"
	case Older:
		return "Older"
	case Newer:
		return "Newer"
	case Conflicting:
		return "Conflicting"
	default:
		return "Unknown"
	}
}

// Vector is an ordered sequence of Versions. At most one Version exists per
// source; the first nCurrent entries are "current or merged", the remainder
// are ancestors.
type Vector struct {
	entries  []Version
	nCurrent int
}

// New builds a Vector from already-ordered entries, with the given count of
// leading current/merged entries.
func New(entries []Version, nCurrent int) (Vector, error) {
	seen := map[revid.SourceID]bool{}
	for _, e := range entries {
		if seen[e.Source] {
			return Vector{}, syncerrors.BadRevisionID("duplicate source in version vector")
		}
		seen[e.Source] = true
	}
	if nCurrent < 1 && len(entries) > 0 {
		return Vector{}, syncerrors.BadRevisionID("nCurrent must be >= 1 for a non-empty vector")
	}
	if nCurrent > len(entries) {
		nCurrent = len(entries)
	}
	cp := make([]Version, len(entries))
	copy(cp, entries)
	return Vector{entries: cp, nCurrent: nCurrent}, nil
}

// Entries returns a copy of the vector's entries in order.
func (v Vector) Entries() []Version {
	cp := make([]Version, len(v.entries))
	copy(cp, v.entries)
	return cp
}

// NCurrent returns the number of leading current/merged entries.
func (v Vector) NCurrent() int { return v.nCurrent }

// Len returns the number of entries.
func (v Vector) Len() int { return len(v.entries) }

// timeFor returns the logical time for source, and whether it was present.
func (v Vector) timeFor(source revid.SourceID) (uint64, bool) {
	for _, e := range v.entries {
		if e.Source == source {
			return e.LogicalTime, true
		}
	}
	return 0, false
}

// AddNewVersion consults clock to obtain a logicalTime strictly greater than
// any time already recorded for source, then prepends/updates that Version
// and resets nCurrent to 1.
func (v Vector) AddNewVersion(clock *hlc.Clock, source revid.SourceID) Vector {
	now := clock.Now()
	if existing, ok := v.timeFor(source); ok && existing >= now {
		clock.Update(existing)
		now = clock.Now()
	}

	entries := make([]Version, 0, len(v.entries)+1)
	entries = append(entries, Version{Source: source, LogicalTime: now})
	for _, e := range v.entries {
		if e.Source != source {
			entries = append(entries, e)
		}
	}
	return Vector{entries: entries, nCurrent: 1}
}

// Merge produces a vector where every source in a or b is present with the
// max of the two times. The two pre-merge current Versions are placed at
// the front (nCurrent=2) before a fresh (me, now) Version is prepended and
// becomes current on its own (nCurrent=1). Merge is commutative modulo
// Version order, i.e. a.Merge(b, clock, me).CompareTo(b.Merge(a, clock, me)) == Same.
func Merge(a, b Vector, clock *hlc.Clock, me revid.SourceID) Vector {
	maxTimes := map[revid.SourceID]uint64{}
	var order []revid.SourceID
	addAll := func(v Vector) {
		for _, e := range v.entries {
			if _, ok := maxTimes[e.Source]; !ok {
				order = append(order, e.Source)
			}
			if e.LogicalTime > maxTimes[e.Source] {
				maxTimes[e.Source] = e.LogicalTime
			}
		}
	}
	addAll(a)
	addAll(b)

	aCur, aOK := a.currentVersion()
	bCur, bOK := b.currentVersion()

	merged := make([]Version, 0, len(order)+1)
	seen := map[revid.SourceID]bool{}
	if aOK {
		merged = append(merged, Version{Source: aCur.Source, LogicalTime: maxTimes[aCur.Source]})
		seen[aCur.Source] = true
	}
	if bOK && !seen[bCur.Source] {
		merged = append(merged, Version{Source: bCur.Source, LogicalTime: maxTimes[bCur.Source]})
		seen[bCur.Source] = true
	}
	for _, s := range order {
		if !seen[s] {
			merged = append(merged, Version{Source: s, LogicalTime: maxTimes[s]})
			seen[s] = true
		}
	}

	nCurrent := 0
	if aOK {
		nCurrent++
	}
	if bOK && bCur.Source != aCur.Source {
		nCurrent++
	}
	if nCurrent == 0 {
		nCurrent = 1
	}

	result := Vector{entries: merged, nCurrent: nCurrent}
	return result.AddNewVersion(clock, me)
}

func (v Vector) currentVersion() (Version, bool) {
	if v.nCurrent < 1 || len(v.entries) == 0 {
		return Version{}, false
	}
	return v.entries[0], true
}

// CompareTo compares two vectors componentwise by per-source timestamp.
func (v Vector) CompareTo(other Vector) Comparison {
	if v.sameMultiset(other) {
		return Same
	}

	selfLE := true
	selfLT := false
	otherLE := true
	otherLT := false

	sources := map[revid.SourceID]bool{}
	for _, e := range v.entries {
		sources[e.Source] = true
	}
	for _, e := range other.entries {
		sources[e.Source] = true
	}

	for s := range sources {
		myT, myOK := v.timeFor(s)
		otherT, otherOK := other.timeFor(s)
		if !myOK {
			myT = 0
		}
		if !otherOK {
			otherT = 0
		}
		if myT > otherT {
			selfLE = false
		}
		if myT < otherT {
			selfLT = true
		}
		if otherT > myT {
			otherLE = false
		}
		if otherT < myT {
			otherLT = true
		}
	}

	switch {
	case selfLE && selfLT:
		return Older
	case otherLE && otherLT:
		return Newer
	default:
		return Conflicting
	}
}

func (v Vector) sameMultiset(other Vector) bool {
	if len(v.entries) != len(other.entries) {
		return false
	}
	for _, e := range v.entries {
		t, ok := other.timeFor(e.Source)
		if !ok || t != e.LogicalTime {
			return false
		}
	}
	return true
}

// DeltaFrom returns (d, true) such that base.Apply(d) == v, iff v >= base
// (v.CompareTo(base) is Same or Newer). Otherwise returns (zero, false).
func (v Vector) DeltaFrom(base Vector) (Vector, bool) {
	cmp := v.CompareTo(base)
	if cmp != Same && cmp != Newer {
		return Vector{}, false
	}
	var delta []Version
	for _, e := range v.entries {
		baseT, ok := base.timeFor(e.Source)
		if !ok || baseT != e.LogicalTime {
			delta = append(delta, e)
		}
	}
	n := v.nCurrent
	if n > len(delta) {
		n = len(delta)
	}
	if len(delta) == 0 {
		return Vector{}, true
	}
	if n < 1 {
		n = 1
	}
	return Vector{entries: delta, nCurrent: n}, true
}

// Apply adds/overwrites each of delta's Versions onto v; sources absent from
// delta are untouched. The result's current Version is delta's, if any.
func (v Vector) Apply(delta Vector) Vector {
	merged := map[revid.SourceID]uint64{}
	var order []revid.SourceID
	for _, e := range v.entries {
		merged[e.Source] = e.LogicalTime
		order = append(order, e.Source)
	}
	for _, e := range delta.entries {
		if _, ok := merged[e.Source]; !ok {
			order = append(order, e.Source)
		}
		merged[e.Source] = e.LogicalTime
	}

	// Current entries from delta come first, in delta's order; then the
	// remaining previously-known sources in their original order.
	var out []Version
	seen := map[revid.SourceID]bool{}
	for i := 0; i < delta.nCurrent; i++ {
		s := delta.entries[i].Source
		out = append(out, Version{Source: s, LogicalTime: merged[s]})
		seen[s] = true
	}
	for _, s := range order {
		if !seen[s] {
			out = append(out, Version{Source: s, LogicalTime: merged[s]})
			seen[s] = true
		}
	}
	nCurrent := delta.nCurrent
	if nCurrent < 1 {
		nCurrent = 1
	}
	if nCurrent > len(out) {
		nCurrent = len(out)
	}
	return Vector{entries: out, nCurrent: nCurrent}
}

// Prune drops oldest non-current, non-merged Versions (i.e. entries at index
// >= nCurrent) until count <= maxCount or all remaining ancestor entries
// have LogicalTime >= before.
func (v Vector) Prune(maxCount int, before uint64) Vector {
	if len(v.entries) <= maxCount {
		return v
	}
	head := v.entries[:v.nCurrent]
	tail := v.entries[v.nCurrent:]

	// Oldest-first within the ancestor tail is assumed to be the trailing
	// entries; drop from the end while over budget and still "before".
	kept := make([]Version, len(tail))
	copy(kept, tail)
	for len(head)+len(kept) > maxCount && len(kept) > 0 {
		last := kept[len(kept)-1]
		if last.LogicalTime >= before {
			break
		}
		kept = kept[:len(kept)-1]
	}
	out := append(append([]Version{}, head...), kept...)
	return Vector{entries: out, nCurrent: v.nCurrent}
}

// Format renders "v1, v2, v3; v4, v5": current/merged entries, a ';', then
// ancestors, each Version as "hextime@base64source".
func (v Vector) Format() string {
	parts := make([]string, len(v.entries))
	for i, e := range v.entries {
		rv := revid.NewVersion(e.Source, e.LogicalTime)
		parts[i] = rv.Format()
	}
	cur := strings.Join(parts[:v.nCurrent], ", ")
	anc := strings.Join(parts[v.nCurrent:], ", ")
	if anc == "" {
		return cur
	}
	return fmt.Sprintf("%s; %s", cur, anc)
}

// String implements fmt.Stringer.
func (v Vector) String() string { return v.Format() }

// Parse parses the ASCII form produced by Format.
func Parse(s string) (Vector, error) {
	if s == "" {
		return Vector{}, nil
	}
	var curPart, ancPart string
	if idx := strings.IndexByte(s, ';'); idx >= 0 {
		curPart = s[:idx]
		ancPart = s[idx+1:]
	} else {
		curPart = s
	}

	parseList := func(list string) ([]Version, error) {
		list = strings.TrimSpace(list)
		if list == "" {
			return nil, nil
		}
		var out []Version
		for _, tok := range strings.Split(list, ",") {
			tok = strings.TrimSpace(tok)
			rv, err := revid.Parse(tok)
			if err != nil {
				return nil, err
			}
			if rv.Form() != revid.FormVersion {
				return nil, syncerrors.BadRevisionID("version vector entry is not version-form: " + tok)
			}
			out = append(out, Version{Source: rv.Source(), LogicalTime: rv.LogicalTime()})
		}
		return out, nil
	}

	cur, err := parseList(curPart)
	if err != nil {
		return Vector{}, err
	}
	anc, err := parseList(ancPart)
	if err != nil {
		return Vector{}, err
	}
	return New(append(cur, anc...), len(cur))
}
