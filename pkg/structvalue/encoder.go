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

package structvalue

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// pointerExtID is the msgpack extension type code used for back-references.
const pointerExtID = 0x50

// Pointer is a back-reference to an already-encoded subtree, either inside
// the current output (InBody=false) or inside the snipped "body" region
// (InBody=true). It is what makes the de-duplicating encoder able to shrink
// documents with heavy remote-state overlap.
type Pointer struct {
	Offset int64
	InBody bool
}

func init() {
	msgpack.RegisterExt(pointerExtID, (*Pointer)(nil))
}

// MarshalMsgpack implements msgpack.CustomEncoder.
func (p *Pointer) MarshalMsgpack() ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeBool(p.InBody); err != nil {
		return nil, err
	}
	if err := enc.EncodeInt64(p.Offset); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalMsgpack implements msgpack.CustomDecoder.
func (p *Pointer) UnmarshalMsgpack(data []byte) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	inBody, err := dec.DecodeBool()
	if err != nil {
		return err
	}
	offset, err := dec.DecodeInt64()
	if err != nil {
		return err
	}
	p.InBody, p.Offset = inBody, offset
	return nil
}

// Encoder is a de-duplicating structured-value encoder: repeated subtrees are written once and referenced by
// Pointer thereafter, and the stream may be "snipped" mid-way so that a
// later region (extras) can point back into an earlier, already-finalized
// region (body).
type Encoder struct {
	buf  bytes.Buffer
	seen map[string]Pointer
}

// NewEncoder returns a ready-to-use Encoder.
func NewEncoder() *Encoder {
	return &Encoder{seen: map[string]Pointer{}}
}

// marshalSorted is the one marshal path every segment byte goes through: map
// keys are sorted so that the same value always produces the same bytes, and
// therefore the same fingerprint and the same pointer offsets across
// serializations.
func marshalSorted(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fingerprint(v Value) (string, error) {
	b, err := marshalSorted(toNative(v))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Encode appends v to the stream. A dict or array equal to a value passed to
// an earlier top-level Encode call (in this segment or, after Snip, in the
// body segment) or to an adopted body's root is written as a Pointer, both
// when it is v itself and when it is nested inside v; subtrees that were
// only nested inside an earlier value are not recorded. Returns the byte offset
// within the *current* segment at which the value (or the pointer standing
// in for it) was written.
func (e *Encoder) Encode(v Value) (int64, error) {
	offset := int64(e.buf.Len())

	switch v.(type) {
	case *Dict, *Array:
		fp, err := fingerprint(v)
		if err != nil {
			return 0, err
		}
		if ptr, ok := e.seen[fp]; ok {
			b, err := msgpack.Marshal(&ptr)
			if err != nil {
				return 0, err
			}
			e.buf.Write(b)
			return offset, nil
		}
		native, err := e.dedupNative(v)
		if err != nil {
			return 0, err
		}
		b, err := marshalSorted(native)
		if err != nil {
			return 0, err
		}
		e.buf.Write(b)
		e.seen[fp] = Pointer{Offset: offset}
		return offset, nil
	default:
		b, err := marshalSorted(v)
		if err != nil {
			return 0, err
		}
		e.buf.Write(b)
		return offset, nil
	}
}

// dedupNative renders v for marshaling, substituting a Pointer for every
// nested dict/array whose fingerprint matches an already-encoded subtree.
// Only containers with a known offset (previous top-level Encode calls and
// the adopted/snipped body) are substituted; duplicates first appearing
// inside v itself are written in full, since their offsets aren't known
// until the whole value is marshaled.
func (e *Encoder) dedupNative(v Value) (interface{}, error) {
	switch tv := v.(type) {
	case *Dict:
		m := make(map[string]interface{}, tv.Len())
		for _, k := range tv.Keys() {
			child, _ := tv.Get(k)
			cn, err := e.childNative(child)
			if err != nil {
				return nil, err
			}
			m[k] = cn
		}
		return m, nil
	case *Array:
		items := tv.Items()
		out := make([]interface{}, len(items))
		for i, item := range items {
			cn, err := e.childNative(item)
			if err != nil {
				return nil, err
			}
			out[i] = cn
		}
		return out, nil
	default:
		return v, nil
	}
}

func (e *Encoder) childNative(v Value) (interface{}, error) {
	switch v.(type) {
	case *Dict, *Array:
		fp, err := fingerprint(v)
		if err != nil {
			return nil, err
		}
		if ptr, ok := e.seen[fp]; ok {
			p := ptr
			return &p, nil
		}
		return e.dedupNative(v)
	default:
		return v, nil
	}
}

// Snip finalizes everything written so far as a self-contained "body"
// segment, returns its bytes, and resets the encoder to begin a new segment
// ("extras") whose Encode calls may still dedup against the values encoded
// at top level before the Snip, via Pointer{InBody: true}.
func (e *Encoder) Snip() []byte {
	body := make([]byte, e.buf.Len())
	copy(body, e.buf.Bytes())

	for fp, ptr := range e.seen {
		ptr.InBody = true
		e.seen[fp] = ptr
	}
	e.buf.Reset()
	return body
}

// AdoptBody registers an already-encoded, self-contained body segment as
// this encoder's snipped region without re-encoding it: subsequent Encode
// calls dedup the body's root value as Pointer{InBody: true, Offset: 0},
// and the body's bytes stay exactly as the caller stored them. The segment
// must decode as exactly one value.
func (e *Encoder) AdoptBody(body []byte) error {
	v, err := DecodeWhole(body)
	if err != nil {
		return err
	}
	fp, err := fingerprint(v)
	if err != nil {
		return err
	}
	e.seen[fp] = Pointer{Offset: 0, InBody: true}
	return nil
}

// Bytes returns the bytes written to the current (post-Snip, if called)
// segment.
func (e *Encoder) Bytes() []byte {
	cp := make([]byte, e.buf.Len())
	copy(cp, e.buf.Bytes())
	return cp
}

// Decoder resolves a segment encoded by Encoder, following Pointers into an
// "extern" body segment when told that body is the extern data of extras.
type Decoder struct {
	body   []byte
	extern []byte
}

// NewDecoder builds a Decoder for a segment whose bytes are in extern,
// optionally with access to a separate body segment for InBody pointers.
func NewDecoder(extern, body []byte) *Decoder {
	return &Decoder{extern: extern, body: body}
}

// Decode parses the full segment as a single top-level value.
func (d *Decoder) Decode() (Value, error) {
	return d.decodeAt(d.extern, 0)
}

func (d *Decoder) decodeAt(segment []byte, offset int64) (Value, error) {
	if offset < 0 || offset > int64(len(segment)) {
		return nil, fmt.Errorf("structvalue: offset %d out of range", offset)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(segment[offset:]))
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return d.resolve(raw)
}

// resolve converts a raw decoded msgpack value into a Value, dereferencing
// Pointers wherever they appear, including nested inside containers.
func (d *Decoder) resolve(native interface{}) (Value, error) {
	switch tv := native.(type) {
	case *Pointer:
		return d.deref(*tv)
	case Pointer:
		return d.deref(tv)
	case map[string]interface{}:
		m := make(map[string]Value, len(tv))
		for k, val := range tv {
			rv, err := d.resolve(val)
			if err != nil {
				return nil, err
			}
			m[k] = rv
		}
		return NewDict(m), nil
	case []interface{}:
		items := make([]Value, len(tv))
		for i, val := range tv {
			rv, err := d.resolve(val)
			if err != nil {
				return nil, err
			}
			items[i] = rv
		}
		return NewArray(items), nil
	default:
		return native, nil
	}
}

func (d *Decoder) deref(p Pointer) (Value, error) {
	seg := d.extern
	if p.InBody {
		seg = d.body
	}
	return d.decodeAt(seg, p.Offset)
}

// DecodeWhole decodes b as exactly one self-contained value, rejecting
// trailing bytes. Callers use it to recognize an already-encoded segment
// before cross-referencing it from another segment.
func DecodeWhole(b []byte) (Value, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	var trailing interface{}
	if err := dec.Decode(&trailing); err != io.EOF {
		return nil, fmt.Errorf("structvalue: trailing data after value")
	}
	d := &Decoder{extern: b}
	return d.resolve(raw)
}

func toNative(v Value) interface{} {
	switch tv := v.(type) {
	case *Dict:
		m := make(map[string]interface{}, tv.Len())
		for _, k := range tv.Keys() {
			child, _ := tv.Get(k)
			m[k] = toNative(child)
		}
		return m
	case *Array:
		items := tv.Items()
		out := make([]interface{}, len(items))
		for i, item := range items {
			out[i] = toNative(item)
		}
		return out
	default:
		return v
	}
}

