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

// Package revid implements parsing and formatting of revision
// identifiers in both digest form ("12-cafebabe...") and version form
// ("1a2b@" followed by the base64 of a 20-byte source ID).
package revid

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/cs3org/revsync/pkg/syncerrors"
)

// SourceIDLen is the fixed length of a version-form source identifier.
const SourceIDLen = 20

// Form distinguishes the two disjoint shapes a RevID can take.
type Form int

// The two forms. Conversion between them is forbidden by construction.
const (
	// FormDigest is the legacy "gen-hex" shape.
	FormDigest Form = iota
	// FormVersion is the "time@source" shape.
	FormVersion
)

// SourceID is the 20-byte opaque identifier of a replication participant.
type SourceID [SourceIDLen]byte

// LocalSource is the sentinel SourceID meaning "this device"; it is never
// sent on the wire in its sentinel form, since a peer always substitutes its
// real source ID before transmitting.
var LocalSource = SourceID{}

// IsLocal reports whether s is the sentinel "this device" value.
func (s SourceID) IsLocal() bool { return s == LocalSource }

// RevID is a parsed revision identifier. Exactly one of the digest fields or
// the version fields is meaningful, selected by Form.
type RevID struct {
	form Form

	// Digest form.
	generation uint32
	digest     []byte

	// Version form.
	source      SourceID
	logicalTime uint64
}

// Form reports which shape this RevID holds.
func (r RevID) Form() Form { return r.form }

// Generation returns the digest-form generation. Panics if called on a
// version-form RevID; callers must check Form() first.
func (r RevID) Generation() uint32 {
	if r.form != FormDigest {
		panic("revid: Generation called on version-form RevID")
	}
	return r.generation
}

// Digest returns the digest-form raw digest bytes.
func (r RevID) Digest() []byte {
	if r.form != FormDigest {
		panic("revid: Digest called on version-form RevID")
	}
	return r.digest
}

// Source returns the version-form source ID.
func (r RevID) Source() SourceID {
	if r.form != FormVersion {
		panic("revid: Source called on digest-form RevID")
	}
	return r.source
}

// LogicalTime returns the version-form logical time.
func (r RevID) LogicalTime() uint64 {
	if r.form != FormVersion {
		panic("revid: LogicalTime called on digest-form RevID")
	}
	return r.logicalTime
}

// NewDigest constructs a digest-form RevID.
func NewDigest(generation uint32, digest []byte) (RevID, error) {
	if generation < 1 {
		return RevID{}, syncerrors.BadRevisionID("generation must be >= 1")
	}
	if len(digest) == 0 {
		return RevID{}, syncerrors.BadRevisionID("empty digest")
	}
	d := make([]byte, len(digest))
	copy(d, digest)
	return RevID{form: FormDigest, generation: generation, digest: d}, nil
}

// NewVersion constructs a version-form RevID.
func NewVersion(source SourceID, logicalTime uint64) RevID {
	return RevID{form: FormVersion, source: source, logicalTime: logicalTime}
}

// Parse accepts "N-hex" (N >= 1, hex lowercase even-length) or
// "HEX@BASE64" (HEX fits in u64, BASE64 decodes to 20 bytes). Anything else,
// including mixed-case hex, is rejected.
func Parse(ascii string) (RevID, error) {
	if at := strings.IndexByte(ascii, '@'); at >= 0 {
		return parseVersion(ascii, at)
	}
	if dash := strings.IndexByte(ascii, '-'); dash >= 0 {
		return parseDigest(ascii, dash)
	}
	return RevID{}, syncerrors.BadRevisionID(fmt.Sprintf("unrecognized revision id %q", ascii))
}

func parseDigest(ascii string, dash int) (RevID, error) {
	genPart := ascii[:dash]
	hexPart := ascii[dash+1:]

	gen, err := strconv.ParseUint(genPart, 10, 32)
	if err != nil || gen < 1 {
		return RevID{}, syncerrors.BadRevisionID(fmt.Sprintf("bad generation in %q", ascii))
	}
	if len(hexPart) == 0 || len(hexPart)%2 != 0 {
		return RevID{}, syncerrors.BadRevisionID(fmt.Sprintf("bad digest length in %q", ascii))
	}
	for _, c := range hexPart {
		isLowerHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
		if !isLowerHex {
			return RevID{}, syncerrors.BadRevisionID(fmt.Sprintf("non-lowercase-hex digest in %q", ascii))
		}
	}
	digest, err := hex.DecodeString(hexPart)
	if err != nil {
		return RevID{}, syncerrors.BadRevisionID(fmt.Sprintf("bad hex digest in %q", ascii))
	}
	return NewDigest(uint32(gen), digest)
}

func parseVersion(ascii string, at int) (RevID, error) {
	hexTime := ascii[:at]
	b64Source := ascii[at+1:]

	t, err := strconv.ParseUint(hexTime, 16, 64)
	if err != nil {
		return RevID{}, syncerrors.BadRevisionID(fmt.Sprintf("bad logical time in %q", ascii))
	}
	raw, err := base64.StdEncoding.DecodeString(b64Source)
	if err != nil || len(raw) != SourceIDLen {
		return RevID{}, syncerrors.BadRevisionID(fmt.Sprintf("bad source id in %q", ascii))
	}
	var src SourceID
	copy(src[:], raw)
	return NewVersion(src, t), nil
}

// Format renders ascii text, stable across processes.
func (r RevID) Format() string {
	switch r.form {
	case FormDigest:
		return fmt.Sprintf("%d-%s", r.generation, hex.EncodeToString(r.digest))
	case FormVersion:
		return fmt.Sprintf("%x@%s", r.logicalTime, base64.StdEncoding.EncodeToString(r.source[:]))
	default:
		return ""
	}
}

// String implements fmt.Stringer for debug output and logging.
func (r RevID) String() string { return r.Format() }

// BinaryEncode writes the binary form. The version form always begins with
// a single zero byte, distinguishing it from a tree-format revision list
// (which a digest-form RevID's binary encoding never starts with, since its
// first byte is a non-zero generation varint).
func (r RevID) BinaryEncode() []byte {
	switch r.form {
	case FormDigest:
		buf := make([]byte, 0, 1+binary.MaxVarintLen32+len(r.digest))
		var genBuf [binary.MaxVarintLen32]byte
		n := binary.PutUvarint(genBuf[:], uint64(r.generation))
		buf = append(buf, genBuf[:n]...)
		buf = append(buf, r.digest...)
		return buf
	case FormVersion:
		buf := make([]byte, 0, 1+8+SourceIDLen)
		buf = append(buf, 0) // leading zero byte marks version form
		var timeBuf [8]byte
		binary.BigEndian.PutUint64(timeBuf[:], r.logicalTime)
		buf = append(buf, timeBuf[:]...)
		buf = append(buf, r.source[:]...)
		return buf
	default:
		return nil
	}
}

// BinaryDecode parses the output of BinaryEncode.
func BinaryDecode(b []byte) (RevID, error) {
	if len(b) == 0 {
		return RevID{}, syncerrors.BadRevisionID("empty binary revision id")
	}
	if b[0] == 0 {
		if len(b) != 1+8+SourceIDLen {
			return RevID{}, syncerrors.BadRevisionID("malformed binary version-form revision id")
		}
		t := binary.BigEndian.Uint64(b[1:9])
		var src SourceID
		copy(src[:], b[9:])
		return NewVersion(src, t), nil
	}
	gen, n := binary.Uvarint(b)
	if n <= 0 {
		return RevID{}, syncerrors.BadRevisionID("malformed binary digest-form revision id")
	}
	return NewDigest(uint32(gen), b[n:])
}

// IsBinaryVersionForm classifies a byte blob as "version/vector form" (true)
// vs "tree-format revision list" (false) by inspecting the leading byte,
// without fully decoding it. Used by the pkg/docrecord loader.
func IsBinaryVersionForm(b []byte) bool {
	return len(b) > 0 && b[0] == 0
}

// Equal reports whether a and b are the same form and value. Digest and
// version forms are never equal, even if one were bit-coincidentally
// reproducible as the other's encoding.
func (r RevID) Equal(o RevID) bool {
	if r.form != o.form {
		return false
	}
	switch r.form {
	case FormDigest:
		return r.generation == o.generation && bytes.Equal(r.digest, o.digest)
	case FormVersion:
		return r.source == o.source && r.logicalTime == o.logicalTime
	default:
		return false
	}
}

// Compare implements the total order used for leaf-selection tie-break.
// Digest-form compares by generation then raw digest bytes; version-form
// compares by ascending logical time. A digest and a version RevID are
// incomparable; Compare panics if asked to compare across forms since every
// caller in this module already checks Form() equality first.
func Compare(a, b RevID) int {
	if a.form != b.form {
		panic("revid: Compare called across forms")
	}
	switch a.form {
	case FormDigest:
		if a.generation != b.generation {
			if a.generation < b.generation {
				return -1
			}
			return 1
		}
		return bytes.Compare(a.digest, b.digest)
	case FormVersion:
		switch {
		case a.logicalTime < b.logicalTime:
			return -1
		case a.logicalTime > b.logicalTime:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}
