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

// Package revtree implements the DAG of revisions for one
// document. Revs are held in a flat arena (a slice) and reference each
// other by index rather than pointer, which lets prune rewrite parent links by just patching integers, with no lifetime or
// aliasing concerns.
package revtree

import (
	"crypto/sha1" //nolint:gosec // protocol-mandated legacy digest, not a security primitive
	"encoding/json"
	"sort"

	"github.com/cs3org/revsync/pkg/revid"
	"github.com/cs3org/revsync/pkg/syncerrors"
)

// Flags are per-Rev state bits.
type Flags uint16

// Rev flag bits.
const (
	FlagLeaf Flags = 1 << iota
	FlagDeleted
	FlagHasAttachments
	FlagNew
	FlagKeepBody
	FlagConflict
	FlagClosed
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// noParent marks the root-level "no parent" index.
const noParent = -1

// Rev is one node in the tree. It lives inside Tree.revs and is addressed by
// index; Parent is -1 for a root.
type Rev struct {
	Parent   int
	RevID    revid.RevID
	Sequence uint64
	Body     []byte
	Flags    Flags
}

// IsLeaf reports whether this Rev currently has no children.
func (r Rev) IsLeaf() bool { return r.Flags.has(FlagLeaf) }

// IsDeleted reports the tombstone bit.
func (r Rev) IsDeleted() bool { return r.Flags.has(FlagDeleted) }

// IsConflict reports the conflict-branch bit.
func (r Rev) IsConflict() bool { return r.Flags.has(FlagConflict) }

// IsClosed reports whether this branch has been explicitly closed (no more
// writes accepted on it, but it is kept for history/conflict display).
func (r Rev) IsClosed() bool { return r.Flags.has(FlagClosed) }

// HasKeepBody reports whether this rev is pinned against pruning because its
// body must stay available (e.g. offline-created conflict winner).
func (r Rev) HasKeepBody() bool { return r.Flags.has(FlagKeepBody) }

// RemoteID names a replication peer from a document's perspective; 0 means
// "local".
type RemoteID int

// LocalRemoteID is the sentinel for "the local side", never an actual peer.
const LocalRemoteID RemoteID = 0

// InsertResult classifies the outcome of Insert/InsertHistory with
// HTTP-style status codes.
type InsertResult int

// Possible insertion outcomes.
const (
	Existing InsertResult = 200
	Inserted InsertResult = 201
	ResultConflict InsertResult = 409
	BadHistory InsertResult = 400
)

// Tree is the revision DAG for a single document.
type Tree struct {
	revs     []Rev
	byRevID  map[string]int // RevID.Format() -> index
	remotes  map[RemoteID]int
	rejected []int
	maxDepth int // prune horizon, used to tolerate "generation gaps" past it
}

// NewTree returns an empty tree with the given prune-depth horizon used for
// the "generation gap tolerance past the prune depth" rule in Insert.
func NewTree(maxDepth int) *Tree {
	return &Tree{
		byRevID: map[string]int{},
		remotes: map[RemoteID]int{},
		maxDepth: maxDepth,
	}
}

func (t *Tree) indexOf(id revid.RevID) (int, bool) {
	idx, ok := t.byRevID[id.Format()]
	return idx, ok
}

func (t *Tree) depthOf(idx int) int {
	d := 0
	for idx != noParent {
		d++
		idx = t.revs[idx].Parent
	}
	return d
}

// Insert adds a single revision. parentID names the parent Rev, or is nil
// for none (only legal on an empty tree, or when allowConflict=true).
func (t *Tree) Insert(id revid.RevID, body []byte, flags Flags, parentID *revid.RevID, allowConflict bool) (InsertResult, error) {
	if _, exists := t.indexOf(id); exists {
		return Existing, nil
	}

	parentIdx := noParent
	if parentID != nil {
		idx, ok := t.indexOf(*parentID)
		if !ok {
			return BadHistory, syncerrors.BadHistory("parent revision not found")
		}
		parentIdx = idx
	} else if len(t.revs) > 0 && !allowConflict {
		return BadHistory, syncerrors.BadHistory("missing parent on non-empty tree")
	}

	if parentIdx != noParent {
		parent := t.revs[parentIdx]
		if parent.RevID.Form() == revid.FormDigest && id.Form() == revid.FormDigest {
			wantGen := parent.RevID.Generation() + 1
			if id.Generation() != wantGen {
				depth := t.depthOf(parentIdx)
				if depth <= t.maxDepth {
					return BadHistory, syncerrors.BadHistory("generation gap before prune horizon")
				}
				// Gap tolerated past the prune horizon.
			}
		}
	}

	result := Inserted
	newFlags := flags | FlagLeaf | FlagNew
	if parentIdx != noParent && t.hasAnyChildren(parentIdx) {
		newFlags |= FlagConflict
		result = ResultConflict
	} else if parentIdx == noParent && len(t.revs) > 0 {
		// A second root (only reachable with allowConflict) is a sibling
		// branch with no common ancestor: a conflict like any other.
		newFlags |= FlagConflict
		result = ResultConflict
	}

	t.revs = append(t.revs, Rev{
		Parent:   parentIdx,
		RevID:    id,
		Body:     body,
		Flags:    newFlags,
	})
	newIdx := len(t.revs) - 1
	t.byRevID[id.Format()] = newIdx

	if parentIdx != noParent {
		t.revs[parentIdx].Flags &^= FlagLeaf
	}

	return result, nil
}

func (t *Tree) childrenOf(idx int) []int {
	var out []int
	for i, r := range t.revs {
		if r.Parent == idx {
			out = append(out, i)
		}
	}
	return out
}

func (t *Tree) hasAnyChildren(idx int) bool {
	return len(t.childrenOf(idx)) > 0
}

// InsertHistory inserts remote history: revs[0] is the new leaf, revs[i] is
// the parent of revs[i-1]. It walks descending until a common ancestor
// already in the tree is found, inserting bodiless intermediate revs up to
// the new leaf (which carries body). Returns the index into revs of the
// common ancestor, or an error with ResultConflict/BadHistory semantics.
func (t *Tree) InsertHistory(revs []revid.RevID, body []byte, flags Flags, allowConflict bool) (commonAncestor int, result InsertResult, err error) {
	if len(revs) == 0 {
		return -1, BadHistory, syncerrors.BadHistory("empty history")
	}

	commonAncestor = -1
	for i, id := range revs {
		if _, exists := t.indexOf(id); exists {
			commonAncestor = i
			break
		}
	}
	if commonAncestor == -1 {
		commonAncestor = len(revs)
	}
	if commonAncestor == 0 {
		return 0, Existing, nil
	}

	// Insert from the common ancestor down to the leaf (descending index,
	// ascending generation/age).
	var parentID *revid.RevID
	if commonAncestor < len(revs) {
		p := revs[commonAncestor]
		parentID = &p
	}

	for i := commonAncestor - 1; i >= 0; i-- {
		isLeaf := i == 0
		var b []byte
		var flagsForRev Flags
		if isLeaf {
			b = body
			flagsForRev = flags
		}
		id := revs[i]
		res, insErr := t.Insert(id, b, flagsForRev, parentID, allowConflict && isLeaf)
		if insErr != nil {
			return commonAncestor, res, insErr
		}
		if res == ResultConflict && !isLeaf {
			return commonAncestor, BadHistory, syncerrors.BadHistory("conflict on non-leaf history entry")
		}
		result = res
		idCopy := id
		parentID = &idCopy
	}

	return commonAncestor, result, nil
}

// SetRemote records (or clears, if idx<0) the given remote's cursor Rev.
func (t *Tree) SetRemote(remote RemoteID, idx int) {
	if idx < 0 {
		delete(t.remotes, remote)
		return
	}
	t.remotes[remote] = idx
}

// Remote returns the index of the Rev the given remote last acknowledged,
// or (-1, false).
func (t *Tree) Remote(remote RemoteID) (int, bool) {
	idx, ok := t.remotes[remote]
	return idx, ok
}

// MarkRejected records that a remote refused the push of the Rev at idx; it
// persists across save/load so the replicator does not retry it.
func (t *Tree) MarkRejected(idx int) {
	for _, r := range t.rejected {
		if r == idx {
			return
		}
	}
	t.rejected = append(t.rejected, idx)
}

// Rejected returns the indices of revs the remote has refused.
func (t *Tree) Rejected() []int {
	cp := make([]int, len(t.rejected))
	copy(cp, t.rejected)
	return cp
}

// Remotes returns a copy of the remote-cursor table.
func (t *Tree) Remotes() map[RemoteID]int {
	cp := make(map[RemoteID]int, len(t.remotes))
	for k, v := range t.remotes {
		cp[k] = v
	}
	return cp
}

// LoadRevs replaces the tree's arena with a previously-serialized one,
// rebuilding the RevID index. revs must already carry correct Parent
// indices and Flags (including FlagLeaf) as produced by a prior read of the
// tree's own state, e.g. across a save/load round trip.
func (t *Tree) LoadRevs(revs []Rev, remotes map[RemoteID]int, rejected []int) {
	t.revs = make([]Rev, len(revs))
	copy(t.revs, revs)

	t.byRevID = map[string]int{}
	for i, r := range t.revs {
		t.byRevID[r.RevID.Format()] = i
	}

	t.remotes = map[RemoteID]int{}
	for k, v := range remotes {
		t.remotes[k] = v
	}

	t.rejected = append([]int{}, rejected...)
}

// Rev returns the Rev at idx.
func (t *Tree) Rev(idx int) Rev { return t.revs[idx] }

// Len returns the number of Revs in the tree.
func (t *Tree) Len() int { return len(t.revs) }

// IndexOf looks up a RevID's index.
func (t *Tree) IndexOf(id revid.RevID) (int, bool) { return t.indexOf(id) }

// leafIndices returns the index of every current leaf Rev.
func (t *Tree) leafIndices() []int {
	var out []int
	for i, r := range t.revs {
		if r.Flags.has(FlagLeaf) {
			out = append(out, i)
		}
	}
	return out
}

// CurrentIndex selects the tree's current revision by a deterministic
// sort: leaf > non-leaf, non-conflict > conflict, live >
// deleted > closed, then highest RevID.
func (t *Tree) CurrentIndex() (int, bool) {
	if len(t.revs) == 0 {
		return -1, false
	}
	candidates := make([]int, len(t.revs))
	for i := range t.revs {
		candidates[i] = i
	}
	sort.Slice(candidates, func(i, j int) bool {
		return t.less(candidates[j], candidates[i]) // descending priority
	})
	return candidates[0], true
}

// less reports whether rev a sorts strictly before rev b in priority
// (a has lower priority than b).
func (t *Tree) less(a, b int) bool {
	ra, rb := t.revs[a], t.revs[b]

	aLeaf, bLeaf := ra.Flags.has(FlagLeaf), rb.Flags.has(FlagLeaf)
	if aLeaf != bLeaf {
		return bLeaf
	}
	aConflict, bConflict := ra.Flags.has(FlagConflict), rb.Flags.has(FlagConflict)
	if aConflict != bConflict {
		return aConflict
	}
	aLive := lifeRank(ra)
	bLive := lifeRank(rb)
	if aLive != bLive {
		return aLive > bLive // lower rank number = higher priority
	}
	return revid.Compare(ra.RevID, rb.RevID) < 0
}

func lifeRank(r Rev) int {
	switch {
	case r.Flags.has(FlagClosed):
		return 2
	case r.Flags.has(FlagDeleted):
		return 1
	default:
		return 0
	}
}

// Prune marks as purged any rev at depth > maxDepth that is not a remote
// cursor and lacks KeepBody, then rewrites parent pointers past purged
// ancestors so surviving revs still chain correctly. Returns the number of
// revs purged.
func (t *Tree) Prune(maxDepth int) int {
	purged := map[int]bool{}
	pinned := map[int]bool{}
	for _, idx := range t.remotes {
		pinned[idx] = true
	}

	for _, leaf := range t.leafIndices() {
		depth := 0
		idx := leaf
		for idx != noParent {
			depth++
			if depth > maxDepth && !pinned[idx] && !t.revs[idx].HasKeepBody() {
				purged[idx] = true
			}
			idx = t.revs[idx].Parent
		}
	}

	if len(purged) == 0 {
		return 0
	}

	for i := range t.revs {
		p := t.revs[i].Parent
		for p != noParent && purged[p] {
			p = t.revs[p].Parent
		}
		t.revs[i].Parent = p
	}

	t.compactHistory(purged)
	return len(purged)
}

// CompactHistory rewrites the arena to drop the given purged indices while
// fixing up every remaining parent pointer, RemoteID, and rejected-index
// reference to the new positions. It is the "rewrite parent pointers past
// purged revs" compaction pass as its own callable unit, so pruning
// policy changes (e.g. a batched GC pass) can reuse it without re-deriving
// the purge set.
func (t *Tree) CompactHistory(purge []int) {
	set := map[int]bool{}
	for _, p := range purge {
		set[p] = true
	}
	t.compactHistory(set)
}

func (t *Tree) compactHistory(purged map[int]bool) {
	remap := make([]int, len(t.revs))
	newRevs := make([]Rev, 0, len(t.revs)-len(purged))
	for i, r := range t.revs {
		if purged[i] {
			remap[i] = -1
			continue
		}
		remap[i] = len(newRevs)
		newRevs = append(newRevs, r)
	}
	for i := range newRevs {
		if newRevs[i].Parent != noParent {
			newRevs[i].Parent = remap[newRevs[i].Parent]
		}
	}
	t.revs = newRevs

	t.byRevID = map[string]int{}
	for i, r := range t.revs {
		t.byRevID[r.RevID.Format()] = i
	}

	for remote, idx := range t.remotes {
		t.remotes[remote] = remap[idx]
	}
	var newRejected []int
	for _, idx := range t.rejected {
		if remap[idx] >= 0 {
			newRejected = append(newRejected, remap[idx])
		}
	}
	t.rejected = newRejected
}

// GenerateDigestRevID computes the legacy tree-mode revID for a new child of
// parent: generation = parent.generation+1, digest =
// SHA-1(len(parent)||parent||deletedFlag||canonical-JSON(body)).
func GenerateDigestRevID(parent *revid.RevID, deleted bool, body []byte) (revid.RevID, error) {
	gen := uint32(1)
	var parentAscii string
	if parent != nil {
		gen = parent.Generation() + 1
		parentAscii = parent.Format()
	}

	canon, err := canonicalJSON(body)
	if err != nil {
		return revid.RevID{}, syncerrors.Wrap(syncerrors.DomainFleece, 0, err)
	}

	h := sha1.New() //nolint:gosec
	var lenByte [1]byte
	lenByte[0] = byte(len(parentAscii))
	h.Write(lenByte[:])
	h.Write([]byte(parentAscii))
	if deleted {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(canon)

	return revid.NewDigest(gen, h.Sum(nil))
}

// canonicalJSON produces a stable byte representation of an arbitrary body
// for digest purposes: decode then re-encode with sorted map keys, which is
// encoding/json's default behavior for map[string]interface{}.
func canonicalJSON(body []byte) ([]byte, error) {
	var v interface{}
	if len(body) == 0 {
		return []byte{}, nil
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
