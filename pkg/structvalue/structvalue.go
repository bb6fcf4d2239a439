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

// Package structvalue is the structured-value codec the replication
// engine and document records encode their bodies with. It provides
// immutable Dict
// and Array value types keyed by plain strings (there is no shared-keys
// table), an equals-by-value comparison with a pointer-identity fast path
// for shared subtrees, and a deep pre-order iterator.
//
// Values are encoded on the wire with github.com/vmihailenco/msgpack/v5.
package structvalue

import (
	"fmt"
)

// Value is any structured value: nil, bool, int64, float64, string, []byte,
// *Dict, or *Array.
type Value interface{}

// Dict is an immutable ordered key/value map. NewDict copies its input map,
// so only a reused *Dict pointer takes the Equal identity fast path.
type Dict struct {
	keys   []string
	values map[string]Value
}

// NewDict builds a Dict from a map, fixing key iteration order by sorting so
// encoding is deterministic.
func NewDict(m map[string]Value) *Dict {
	d := &Dict{values: make(map[string]Value, len(m))}
	for k, v := range m {
		d.keys = append(d.keys, k)
		d.values[k] = v
	}
	sortStrings(d.keys)
	return d
}

// Get returns the value for key, and whether it was present.
func (d *Dict) Get(key string) (Value, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the dict's keys in deterministic order.
func (d *Dict) Keys() []string {
	if d == nil {
		return nil
	}
	cp := make([]string, len(d.keys))
	copy(cp, d.keys)
	return cp
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// WithSet returns a new Dict equal to d but with key set to value (a
// mutable-variant operation expressed as copy-on-write, so no separate
// mutable builder type is needed).
func (d *Dict) WithSet(key string, value Value) *Dict {
	m := map[string]Value{}
	for _, k := range d.Keys() {
		v, _ := d.Get(k)
		m[k] = v
	}
	m[key] = value
	return NewDict(m)
}

// WithDeleted returns a new Dict equal to d but without key.
func (d *Dict) WithDeleted(key string) *Dict {
	m := map[string]Value{}
	for _, k := range d.Keys() {
		if k == key {
			continue
		}
		v, _ := d.Get(k)
		m[k] = v
	}
	return NewDict(m)
}

// Array is an immutable ordered list of values.
type Array struct {
	items []Value
}

// NewArray builds an Array from a slice.
func NewArray(items []Value) *Array {
	cp := make([]Value, len(items))
	copy(cp, items)
	return &Array{items: cp}
}

// Len returns the number of elements.
func (a *Array) Len() int {
	if a == nil {
		return 0
	}
	return len(a.items)
}

// At returns the element at i.
func (a *Array) At(i int) Value { return a.items[i] }

// Items returns a copy of the underlying slice.
func (a *Array) Items() []Value {
	cp := make([]Value, len(a.items))
	copy(cp, a.items)
	return cp
}

// Equal compares two values by content, with a pointer-identity fast path:
// if a and b are the same *Dict or *Array pointer (e.g. both are the
// unmodified shared subtree produced by a WithSet copy-on-write elsewhere),
// equality is decided in O(1) without walking the tree.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case *Dict:
		bv, ok := b.(*Dict)
		if !ok {
			return false
		}
		if av == bv {
			return true
		}
		if av.Len() != bv.Len() {
			return false
		}
		for _, k := range av.Keys() {
			bval, ok := bv.Get(k)
			if !ok {
				return false
			}
			aval, _ := av.Get(k)
			if !Equal(aval, bval) {
				return false
			}
		}
		return true
	case *Array:
		bv, ok := b.(*Array)
		if !ok {
			return false
		}
		if av == bv {
			return true
		}
		if av.Len() != bv.Len() {
			return false
		}
		for i := 0; i < av.Len(); i++ {
			if !Equal(av.At(i), bv.At(i)) {
				return false
			}
		}
		return true
	case []byte:
		bv, ok := b.([]byte)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// VisitFunc is called by DeepIterate for every value in pre-order,
// including intermediate Dicts/Arrays, with the dotted path from the root
// ("" for the root itself).
type VisitFunc func(path string, v Value) (descend bool)

// DeepIterate walks every value in v's tree in pre-order.
func DeepIterate(v Value, visit VisitFunc) {
	deepIterate("", v, visit)
}

func deepIterate(path string, v Value, visit VisitFunc) {
	if !visit(path, v) {
		return
	}
	switch tv := v.(type) {
	case *Dict:
		for _, k := range tv.Keys() {
			child, _ := tv.Get(k)
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			deepIterate(childPath, child, visit)
		}
	case *Array:
		for i, item := range tv.Items() {
			childPath := fmt.Sprintf("%s[%d]", path, i)
			deepIterate(childPath, item, visit)
		}
	}
}

func sortStrings(s []string) {
	// small-n insertion sort; dict key counts in document bodies are small
	// and this avoids pulling in sort for a handful of comparisons per call.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
