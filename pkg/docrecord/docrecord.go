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

// Package docrecord implements the per-document persistent
// object. A Record is a tagged union over two versioning modes chosen once,
// at first write, and stable for the record's lifetime: Tree mode stores a full revtree.Tree,
// Vector mode stores a versionvector.Vector plus a per-remote revision
// table. Cross-mode operations are rejected by construction.
package docrecord

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/cs3org/revsync/pkg/hlc"
	"github.com/cs3org/revsync/pkg/revid"
	"github.com/cs3org/revsync/pkg/revtree"
	"github.com/cs3org/revsync/pkg/structvalue"
	"github.com/cs3org/revsync/pkg/syncerrors"
	"github.com/cs3org/revsync/pkg/versionvector"
)

// Mode is the versioning mode a Record is locked into for its lifetime.
type Mode int

// The two versioning modes.
const (
	ModeTree Mode = iota
	ModeVector
)

// RemoteID names a replication peer; 0 means local. Reuses revtree's type so
// tree-mode remote cursors and vector-mode remote revisions share one
// vocabulary.
type RemoteID = revtree.RemoteID

// LocalRemoteID is the sentinel meaning "the local side".
const LocalRemoteID = revtree.LocalRemoteID

// Flags are document-level flags, distinct from per-Rev flags.
type Flags uint16

// Document-level flag bits.
const (
	FlagDeleted Flags = 1 << iota
	FlagConflicted
	FlagHasAttachments
	// FlagSynced is the "Synced" shortcut bit: when set, the
	// core synthesizes remoteRevision(1) = currentRevision() on next load
	// instead of rewriting the remote-revision array, then clears the bit
	// in memory.
	FlagSynced
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// Revision is a (body, revID, flags) tuple as returned by CurrentRevision
// and RemoteRevision.
type Revision struct {
	Body  []byte
	RevID revid.RevID
	Flags Flags
}

// remoteVectorEntry is the vector-mode per-remote record: a revision plus
// the vector that produced it, so conflict comparisons don't need to
// re-derive a Vector from a bare RevID.
type remoteVectorEntry struct {
	revision Revision
	vector   versionvector.Vector
}

// Record is the per-document persistent object.
type Record struct {
	DocID    string
	Sequence uint64
	Flags    Flags

	mode Mode

	// Tree mode.
	tree *revtree.Tree

	// Vector mode.
	vector       versionvector.Vector
	currentBody  []byte
	currentRevID revid.RevID
	hasCurrent   bool
	remotesVec   map[RemoteID]remoteVectorEntry

	// Legacy interop bridge: the last
	// digest-style revID a vector-mode document reported, stored under the
	// reserved extras key "-".
	legacyRevID *revid.RevID

	source revid.SourceID // this device's source id, for vector-mode writes
}

// NewTreeRecord creates a brand-new tree-mode Record with an empty tree.
func NewTreeRecord(docID string, pruneDepth int) *Record {
	return &Record{DocID: docID, mode: ModeTree, tree: revtree.NewTree(pruneDepth)}
}

// NewVectorRecord creates a brand-new vector-mode Record.
func NewVectorRecord(docID string, source revid.SourceID) *Record {
	return &Record{DocID: docID, mode: ModeVector, source: source, remotesVec: map[RemoteID]remoteVectorEntry{}}
}

// Mode reports which versioning mode this Record is locked into.
func (r *Record) Mode() Mode { return r.mode }

// Tree returns the underlying revision tree. Panics if Mode() != ModeTree.
func (r *Record) Tree() *revtree.Tree {
	r.requireMode(ModeTree)
	return r.tree
}

// Vector returns the current version vector. Panics if Mode() != ModeVector.
func (r *Record) Vector() versionvector.Vector {
	r.requireMode(ModeVector)
	return r.vector
}

func (r *Record) requireMode(want Mode) {
	if r.mode != want {
		panic(syncerrors.BadRevisionID("operation not valid for this Record's versioning mode"))
	}
}

// CurrentRevision returns the document's current (body, revID, flags).
func (r *Record) CurrentRevision() (Revision, error) {
	switch r.mode {
	case ModeTree:
		idx, ok := r.tree.CurrentIndex()
		if !ok {
			return Revision{}, syncerrors.NotFound(r.DocID)
		}
		rev := r.tree.Rev(idx)
		return Revision{Body: rev.Body, RevID: rev.RevID, Flags: treeFlagsToDocFlags(rev.Flags)}, nil
	case ModeVector:
		if !r.hasCurrent {
			return Revision{}, syncerrors.NotFound(r.DocID)
		}
		return Revision{Body: r.currentBody, RevID: r.currentRevID, Flags: r.Flags}, nil
	default:
		return Revision{}, syncerrors.BadRevisionID("unknown mode")
	}
}

func treeFlagsToDocFlags(f revtree.Flags) Flags {
	var out Flags
	if f&revtree.FlagDeleted != 0 {
		out |= FlagDeleted
	}
	if f&revtree.FlagConflict != 0 {
		out |= FlagConflicted
	}
	if f&revtree.FlagHasAttachments != 0 {
		out |= FlagHasAttachments
	}
	return out
}

// RemoteRevision returns the given remote's last-known revision. remote=0
// aliases the current revision.
func (r *Record) RemoteRevision(remote RemoteID) (Revision, bool) {
	if remote == LocalRemoteID {
		rev, err := r.CurrentRevision()
		return rev, err == nil
	}

	switch r.mode {
	case ModeTree:
		idx, ok := r.tree.Remote(remote)
		if !ok {
			return Revision{}, false
		}
		rev := r.tree.Rev(idx)
		return Revision{Body: rev.Body, RevID: rev.RevID, Flags: treeFlagsToDocFlags(rev.Flags)}, true
	case ModeVector:
		entry, ok := r.remotesVec[remote]
		return entry.revision, ok
	default:
		return Revision{}, false
	}
}

// SetRemoteRevision records remote's last-known revision, or clears it if
// rev is nil.
func (r *Record) SetRemoteRevision(remote RemoteID, rev *Revision) error {
	if remote == LocalRemoteID {
		return syncerrors.BadRevisionID("cannot set remote 0 (local) directly")
	}
	switch r.mode {
	case ModeTree:
		if rev == nil {
			r.tree.SetRemote(remote, -1)
			return nil
		}
		idx, ok := r.tree.IndexOf(rev.RevID)
		if !ok {
			return syncerrors.NotFound("remote revision not present in tree")
		}
		r.tree.SetRemote(remote, idx)
		return nil
	case ModeVector:
		if rev == nil {
			delete(r.remotesVec, remote)
			return nil
		}
		if rev.RevID.Form() != revid.FormVersion {
			return syncerrors.BadRevisionID("vector-mode remote revision must be version-form")
		}
		vec, err := versionvector.New([]versionvector.Version{{Source: rev.RevID.Source(), LogicalTime: rev.RevID.LogicalTime()}}, 1)
		if err != nil {
			return err
		}
		r.remotesVec[remote] = remoteVectorEntry{revision: *rev, vector: vec}
		return nil
	default:
		return syncerrors.BadRevisionID("unknown mode")
	}
}

// SetCurrentRevision sets the document's current revision. In vector mode
// this calls addNewVersion on the clock; in tree mode it inserts the given
// body as a new child of the current leaf.
func (r *Record) SetCurrentRevision(clock *hlc.Clock, body []byte, deleted bool) (revid.RevID, error) {
	switch r.mode {
	case ModeTree:
		cur, err := r.CurrentRevision()
		var parent *revid.RevID
		if err == nil {
			p := cur.RevID
			parent = &p
		}
		newID, err := revtree.GenerateDigestRevID(parent, deleted, body)
		if err != nil {
			return revid.RevID{}, err
		}
		var flags revtree.Flags
		if deleted {
			flags |= revtree.FlagDeleted
		}
		flags |= revtree.FlagNew
		if _, err := r.tree.Insert(newID, body, flags, parent, false); err != nil {
			return revid.RevID{}, err
		}
		return newID, nil
	case ModeVector:
		r.vector = r.vector.AddNewVersion(clock, r.source)
		entries := r.vector.Entries()
		newID := revid.NewVersion(entries[0].Source, entries[0].LogicalTime)
		r.currentRevID = newID
		r.currentBody = body
		r.hasCurrent = true
		if deleted {
			r.Flags |= FlagDeleted
		} else {
			r.Flags &^= FlagDeleted
		}
		return newID, nil
	default:
		return revid.RevID{}, syncerrors.BadRevisionID("unknown mode")
	}
}

// AdoptOutcome classifies what AdoptRemoteVector did with an incoming
// revision.
type AdoptOutcome int

// The possible adoption outcomes.
const (
	// AdoptNoop: the incoming vector was the same as, or older than, ours.
	AdoptNoop AdoptOutcome = iota
	// AdoptFastForward: the incoming vector dominated ours and was adopted
	// wholesale along with its body.
	AdoptFastForward
	// AdoptKeptIncoming: the vectors conflicted and the incoming side won
	// the tie-break; its version and body are now current.
	AdoptKeptIncoming
	// AdoptKeptLocal: the vectors conflicted and the local side won the
	// tie-break; the current revision is unchanged.
	AdoptKeptLocal
	// AdoptConflict: the vectors conflicted with no tie-break winner. The
	// local revision stays current, the incoming one is kept as the
	// remote's sibling revision, and the record is flagged Conflicted
	// until ResolveConflict writes a dominating merge.
	AdoptConflict
)

// AdoptRemoteVector applies an incoming remote version vector to a
// vector-mode Record, implementing vector mode's conflict policy (as
// opposed to tree mode's always-flagged sibling branches). The incoming
// revision is always recorded as remote from's last-known revision, so both
// sides of a conflict stay visible via RemoteRevision. A remote that is the
// same or older is otherwise a no-op; a strictly newer one fast-forwards
// r's vector and body; conflicting vectors are tie-broken on their current
// versions' logical times, with the strictly later write winning. Equal
// times are not decided by comparing source IDs: an arbitrary ordering
// there would silently drop one side's write, so the document is flagged
// Conflicted instead and both revisions kept until ResolveConflict.
func (r *Record) AdoptRemoteVector(from RemoteID, remote versionvector.Vector, body []byte, deleted bool) (revid.RevID, AdoptOutcome, error) {
	r.requireMode(ModeVector)

	incoming := remote.Entries()
	if len(incoming) == 0 {
		return revid.RevID{}, AdoptNoop, syncerrors.BadRevisionID("empty incoming version vector")
	}
	inRev := Revision{
		Body:  body,
		RevID: revid.NewVersion(incoming[0].Source, incoming[0].LogicalTime),
	}
	if deleted {
		inRev.Flags |= FlagDeleted
	}
	if from != LocalRemoteID {
		r.remotesVec[from] = remoteVectorEntry{revision: inRev, vector: remote}
	}

	adopt := func() {
		r.vector = remote
		r.currentRevID = inRev.RevID
		r.currentBody = body
		r.hasCurrent = true
		if deleted {
			r.Flags |= FlagDeleted
		} else {
			r.Flags &^= FlagDeleted
		}
	}

	if !r.hasCurrent {
		adopt()
		return inRev.RevID, AdoptFastForward, nil
	}

	switch r.vector.CompareTo(remote) {
	case versionvector.Same, versionvector.Newer:
		return r.currentRevID, AdoptNoop, nil
	case versionvector.Older:
		adopt()
		return inRev.RevID, AdoptFastForward, nil
	}

	local := r.vector.Entries()[0]
	switch {
	case incoming[0].LogicalTime > local.LogicalTime:
		adopt()
		return inRev.RevID, AdoptKeptIncoming, nil
	case local.LogicalTime > incoming[0].LogicalTime:
		return r.currentRevID, AdoptKeptLocal, nil
	default:
		r.Flags |= FlagConflicted
		return r.currentRevID, AdoptConflict, nil
	}
}

// ResolveConflict writes a merge revision that dominates every conflicting
// sibling: the vector becomes the merge of the local vector with each
// conflicting remote entry's vector (folding in a fresh local version,
// which becomes the sole current entry), body becomes the resolved body,
// and the Conflicted flag is cleared in the same mutation, so a save
// persists either the whole resolution or none of it.
func (r *Record) ResolveConflict(clock *hlc.Clock, body []byte, deleted bool) (revid.RevID, error) {
	r.requireMode(ModeVector)

	merged := r.vector
	for _, entry := range r.remotesVec {
		if merged.CompareTo(entry.vector) == versionvector.Conflicting {
			merged = versionvector.Merge(merged, entry.vector, clock, r.source)
		}
	}
	if merged.CompareTo(r.vector) == versionvector.Same {
		merged = merged.AddNewVersion(clock, r.source)
	}

	r.vector = merged
	entries := r.vector.Entries()
	r.currentRevID = revid.NewVersion(entries[0].Source, entries[0].LogicalTime)
	r.currentBody = body
	r.hasCurrent = true
	if deleted {
		r.Flags |= FlagDeleted
	} else {
		r.Flags &^= FlagDeleted
	}
	r.Flags &^= FlagConflicted
	return r.currentRevID, nil
}

// LegacyRevID returns the bridged digest-style revID a vector-mode document
// reports to digest-only peers, if any has been set.
func (r *Record) LegacyRevID() (revid.RevID, bool) {
	if r.legacyRevID == nil {
		return revid.RevID{}, false
	}
	return *r.legacyRevID, true
}

// SetLegacyRevID records the digest-style revID that bridges to legacy
// peers, stored under the reserved extras key "-".
func (r *Record) SetLegacyRevID(id revid.RevID) error {
	if id.Form() != revid.FormDigest {
		return syncerrors.BadRevisionID("legacy revision id must be digest-form")
	}
	r.legacyRevID = &id
	return nil
}

// MarkSyncedToRemote1 records that the current revision was just
// successfully pushed to remote 1, the cheap way: a
// single bit flip instead of rewriting the remote-revision table. The next
// Load synthesizes remoteRevision(1) = currentRevision() from the bit and
// clears it, so the explicit entry only ever gets materialized once it's
// actually needed (e.g. by a conflict comparison).
func (r *Record) MarkSyncedToRemote1() {
	r.Flags |= FlagSynced
}

// synthesizeSynced implements the load-time half of the Synced bit: if
// FlagSynced is set, remoteRevision(1) is recorded as equal to
// currentRevision() and the bit is cleared in memory. A document with no
// current revision (a tombstone with nothing to point remote 1 at) leaves
// the bit untouched.
func (r *Record) synthesizeSynced() {
	if !r.Flags.has(FlagSynced) {
		return
	}
	cur, err := r.CurrentRevision()
	if err != nil {
		return
	}
	_ = r.SetRemoteRevision(RemoteID(1), &cur)
	r.Flags &^= FlagSynced
}

// classify inspects the leading byte of a record's stored "version" field to
// pick Tree vs Vector mode on load.
func classify(versionField []byte) Mode {
	if revid.IsBinaryVersionForm(versionField) {
		return ModeVector
	}
	return ModeTree
}

// IsLegacyRevTree reports whether body looks like a self-contained legacy
// revision tree blob (the tree codec's size-prefixed record format with a
// terminating zero-size marker), used to detect documents written before
// the body/extras split existed. A conforming blob is a sequence of
// varint-length-prefixed chunks terminated by a zero-length chunk.
func IsLegacyRevTree(body []byte) bool {
	i := 0
	chunks := 0
	for i < len(body) {
		n, shift := 0, 0
		start := i
		for {
			if i >= len(body) {
				return false
			}
			b := body[i]
			i++
			n |= int(b&0x7f) << shift
			if b&0x80 == 0 {
				break
			}
			shift += 7
		}
		if n == 0 {
			return i == len(body) || chunks > 0
		}
		if i == start {
			return false
		}
		i += n
		chunks++
		if i > len(body) {
			return false
		}
	}
	return false
}

// remoteToValue renders a remote's revision as a structvalue.Dict entry used
// inside the vector-mode remote-revision array. A body that decodes as a
// self-contained structvalue segment is embedded as its decoded value, so
// the encoder can replace it with a back-reference when it matches the
// current body; anything else (a legacy raw blob) stays opaque bytes.
func remoteToValue(remote RemoteID, entry remoteVectorEntry) *structvalue.Dict {
	var bodyVal structvalue.Value = entry.revision.Body
	if v, err := structvalue.DecodeWhole(entry.revision.Body); err == nil {
		switch v.(type) {
		case *structvalue.Dict, *structvalue.Array:
			bodyVal = v
		}
		// A scalar stays opaque bytes: unwrapping it would lose the
		// original framing on reload.
	}
	return structvalue.NewDict(map[string]structvalue.Value{
		"remote": int64(remote),
		"rev":    entry.revision.RevID.Format(),
		"vector": entry.vector.Format(),
		"body":   bodyVal,
		"flags":  int64(entry.revision.Flags),
	})
}

// Serialize renders the record's persistent triple: a version field (empty
// for tree mode, a leading-zero-byte vector ASCII string for vector mode, so
// a future Load can classify it again), the current revision's body, and an
// extras blob holding whichever ancillary state the mode needs; the whole
// tree arena for tree mode, or the remote-revision table and legacy bridge
// for vector mode.
func (r *Record) Serialize() (versionField, body, extras []byte, err error) {
	switch r.mode {
	case ModeTree:
		return r.serializeTree()
	case ModeVector:
		return r.serializeVector()
	default:
		return nil, nil, nil, syncerrors.BadRevisionID("unknown mode")
	}
}

func (r *Record) serializeTree() (versionField, body, extras []byte, err error) {
	if cur, cerr := r.CurrentRevision(); cerr == nil {
		body = cur.Body
	}

	revsArr := make([]structvalue.Value, r.tree.Len())
	for i := 0; i < r.tree.Len(); i++ {
		revsArr[i] = revToValue(r.tree.Rev(i))
	}
	remotesMap := map[string]structvalue.Value{}
	for remote, idx := range r.tree.Remotes() {
		remotesMap[strconv.Itoa(int(remote))] = int64(idx)
	}
	rejected := r.tree.Rejected()
	rejectedArr := make([]structvalue.Value, len(rejected))
	for i, idx := range rejected {
		rejectedArr[i] = int64(idx)
	}

	root := structvalue.NewDict(map[string]structvalue.Value{
		"revs":     structvalue.NewArray(revsArr),
		"remotes":  structvalue.NewDict(remotesMap),
		"rejected": structvalue.NewArray(rejectedArr),
		"flags":    int64(r.Flags),
	})

	enc := structvalue.NewEncoder()
	if _, err := enc.Encode(root); err != nil {
		return nil, nil, nil, err
	}
	return nil, body, enc.Bytes(), nil
}

func (r *Record) serializeVector() (versionField, body, extras []byte, err error) {
	versionField = append([]byte{0}, []byte(r.vector.Format())...)
	body = r.currentBody

	enc := structvalue.NewEncoder()
	if r.hasCurrent && len(body) > 0 {
		// Best effort: a body that is a self-contained encoded value becomes
		// the extras encoder's extern segment, so a remote entry holding the
		// same body (the common case right after a sync) is written as a
		// back-reference into body instead of a second copy. A body in some
		// other format is left alone and the extras stay self-contained.
		_ = enc.AdoptBody(body)
	}

	ids := make([]RemoteID, 0, len(r.remotesVec))
	for remote := range r.remotesVec {
		ids = append(ids, remote)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	remotesArr := make([]structvalue.Value, 0, len(ids))
	for _, remote := range ids {
		remotesArr = append(remotesArr, remoteToValue(remote, r.remotesVec[remote]))
	}
	fields := map[string]structvalue.Value{
		"remotes": structvalue.NewArray(remotesArr),
		"flags":   int64(r.Flags),
	}
	if r.legacyRevID != nil {
		fields["-"] = r.legacyRevID.Format()
	}

	if _, err := enc.Encode(structvalue.NewDict(fields)); err != nil {
		return nil, nil, nil, err
	}
	return versionField, body, enc.Bytes(), nil
}

// Load rebuilds a Record from a previously-Serialize'd triple, classifying
// the mode from versionField's leading byte.
func Load(docID string, versionField, body, extras []byte, source revid.SourceID, pruneDepth int) (*Record, error) {
	if classify(versionField) == ModeVector {
		return loadVector(docID, versionField, body, extras, source)
	}
	return loadTree(docID, body, extras, pruneDepth)
}

func loadVector(docID string, versionField, body, extras []byte, source revid.SourceID) (*Record, error) {
	vec, err := versionvector.Parse(string(versionField[1:]))
	if err != nil {
		return nil, err
	}

	r := NewVectorRecord(docID, source)
	r.vector = vec
	if entries := vec.Entries(); len(entries) > 0 {
		r.currentRevID = revid.NewVersion(entries[0].Source, entries[0].LogicalTime)
		r.currentBody = body
		r.hasCurrent = true
	}

	if len(extras) == 0 {
		return r, nil
	}

	root, err := decodeRoot(extras, body)
	if err != nil {
		return nil, err
	}

	if remotesVal, ok := root.Get("remotes"); ok {
		arr, ok := remotesVal.(*structvalue.Array)
		if !ok {
			return nil, syncerrors.CorruptData("malformed vector-mode remotes")
		}
		for _, item := range arr.Items() {
			entryDict, ok := item.(*structvalue.Dict)
			if !ok {
				return nil, syncerrors.CorruptData("malformed vector-mode remote entry")
			}
			remote, entry, err := valueToRemoteEntry(entryDict)
			if err != nil {
				return nil, err
			}
			r.remotesVec[remote] = entry
		}
	}
	if legacyVal, ok := root.Get("-"); ok {
		s, _ := legacyVal.(string)
		id, err := revid.Parse(s)
		if err != nil {
			return nil, err
		}
		r.legacyRevID = &id
	}
	if flagsVal, ok := root.Get("flags"); ok {
		r.Flags = Flags(toInt64(flagsVal))
	}
	r.synthesizeSynced()
	return r, nil
}

// loadTree rebuilds a tree-mode Record. body is unused: the current
// revision's body already lives inside the restored tree arena (each Rev
// carries its own Body), so the separate body slot is only a convenience
// for callers that want it without walking the tree.
func loadTree(docID string, body, extras []byte, pruneDepth int) (*Record, error) {
	tree := revtree.NewTree(pruneDepth)
	r := &Record{DocID: docID, mode: ModeTree, tree: tree}
	if len(extras) > 0 {
		root, err := decodeRoot(extras, nil)
		if err != nil {
			return nil, err
		}
		if err := populateTree(tree, root); err != nil {
			return nil, err
		}
		if flagsVal, ok := root.Get("flags"); ok {
			r.Flags = Flags(toInt64(flagsVal))
		}
	}
	r.synthesizeSynced()
	return r, nil
}

// decodeRoot decodes an extras segment, with body as its extern segment so
// back-references into the current revision's bytes resolve (vector mode;
// tree mode passes nil, its extras never point outward).
func decodeRoot(extras, body []byte) (*structvalue.Dict, error) {
	dec := structvalue.NewDecoder(extras, body)
	val, err := dec.Decode()
	if err != nil {
		return nil, err
	}
	root, ok := val.(*structvalue.Dict)
	if !ok {
		return nil, syncerrors.CorruptData("malformed extras: expected a dict")
	}
	return root, nil
}

func populateTree(tree *revtree.Tree, root *structvalue.Dict) error {
	revsVal, _ := root.Get("revs")
	revsArr, ok := revsVal.(*structvalue.Array)
	if !ok {
		return syncerrors.CorruptData("malformed tree-mode extras: missing revs")
	}
	revs := make([]revtree.Rev, 0, revsArr.Len())
	for _, item := range revsArr.Items() {
		d, ok := item.(*structvalue.Dict)
		if !ok {
			return syncerrors.CorruptData("malformed rev entry")
		}
		rev, err := valueToRev(d)
		if err != nil {
			return err
		}
		revs = append(revs, rev)
	}

	remotes := map[revtree.RemoteID]int{}
	if remotesVal, ok := root.Get("remotes"); ok {
		rd, ok := remotesVal.(*structvalue.Dict)
		if !ok {
			return syncerrors.CorruptData("malformed tree-mode remotes")
		}
		for _, k := range rd.Keys() {
			v, _ := rd.Get(k)
			n, err := strconv.Atoi(k)
			if err != nil {
				return syncerrors.CorruptData(fmt.Sprintf("malformed remote id %q", k))
			}
			remotes[revtree.RemoteID(n)] = int(toInt64(v))
		}
	}

	var rejected []int
	if rejVal, ok := root.Get("rejected"); ok {
		ra, ok := rejVal.(*structvalue.Array)
		if !ok {
			return syncerrors.CorruptData("malformed tree-mode rejected list")
		}
		for _, item := range ra.Items() {
			rejected = append(rejected, int(toInt64(item)))
		}
	}

	tree.LoadRevs(revs, remotes, rejected)
	return nil
}

func revToValue(rev revtree.Rev) *structvalue.Dict {
	return structvalue.NewDict(map[string]structvalue.Value{
		"parent": int64(rev.Parent),
		"rev":    rev.RevID.Format(),
		"seq":    int64(rev.Sequence),
		"body":   rev.Body,
		"flags":  int64(rev.Flags),
	})
}

func valueToRev(d *structvalue.Dict) (revtree.Rev, error) {
	revVal, _ := d.Get("rev")
	revStr, _ := revVal.(string)
	id, err := revid.Parse(revStr)
	if err != nil {
		return revtree.Rev{}, err
	}

	parentVal, _ := d.Get("parent")
	seqVal, _ := d.Get("seq")
	bodyVal, _ := d.Get("body")
	flagsVal, _ := d.Get("flags")
	bodyBytes, _ := bodyVal.([]byte)

	return revtree.Rev{
		Parent:   int(toInt64(parentVal)),
		RevID:    id,
		Sequence: uint64(toInt64(seqVal)),
		Body:     bodyBytes,
		Flags:    revtree.Flags(toInt64(flagsVal)),
	}, nil
}

func valueToRemoteEntry(d *structvalue.Dict) (RemoteID, remoteVectorEntry, error) {
	revVal, _ := d.Get("rev")
	revStr, _ := revVal.(string)
	id, err := revid.Parse(revStr)
	if err != nil {
		return 0, remoteVectorEntry{}, err
	}

	remoteVal, _ := d.Get("remote")
	bodyVal, _ := d.Get("body")
	flagsVal, _ := d.Get("flags")

	// The body comes back either as opaque bytes (a legacy raw blob) or as
	// the decoded value it was embedded as, possibly resolved from a
	// back-reference into the record's body segment; re-encode the latter.
	var bodyBytes []byte
	switch bv := bodyVal.(type) {
	case []byte:
		bodyBytes = bv
	case *structvalue.Dict, *structvalue.Array:
		enc := structvalue.NewEncoder()
		if _, err := enc.Encode(bv); err != nil {
			return 0, remoteVectorEntry{}, err
		}
		bodyBytes = enc.Bytes()
	}

	// Older records carry only the bare revID; synthesize a single-entry
	// vector for those so conflict comparisons still work, degraded.
	vec, err := versionvector.New([]versionvector.Version{{Source: id.Source(), LogicalTime: id.LogicalTime()}}, 1)
	if err != nil {
		return 0, remoteVectorEntry{}, err
	}
	if vecVal, ok := d.Get("vector"); ok {
		if s, ok := vecVal.(string); ok {
			parsed, perr := versionvector.Parse(s)
			if perr != nil {
				return 0, remoteVectorEntry{}, perr
			}
			vec = parsed
		}
	}

	remote := RemoteID(toInt64(remoteVal))
	entry := remoteVectorEntry{
		revision: Revision{Body: bodyBytes, RevID: id, Flags: Flags(toInt64(flagsVal))},
		vector:   vec,
	}
	return remote, entry, nil
}

// toInt64 normalizes the handful of integer shapes msgpack may hand back for
// a decoded integer value.
func toInt64(v structvalue.Value) int64 {
	switch tv := v.(type) {
	case int64:
		return tv
	case uint64:
		return int64(tv)
	case int8:
		return int64(tv)
	case int16:
		return int64(tv)
	case int32:
		return int64(tv)
	case uint8:
		return int64(tv)
	case uint16:
		return int64(tv)
	case uint32:
		return int64(tv)
	case int:
		return int64(tv)
	default:
		return 0
	}
}
