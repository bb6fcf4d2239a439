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
	"github.com/cs3org/revsync/pkg/structvalue"
	"github.com/cs3org/revsync/pkg/syncerrors"
)

// deltaSetKey/deltaDelKey are the two reserved keys a delta dict carries:
// changed-or-added entries (recursively diffed for nested dicts) and
// deleted keys. This is a JSON-Patch-like structural diff over the
// structvalue tree rather than the raw wire bytes, kept flat
// per dict level; arrays are replaced wholesale rather than element-diffed.
const (
	deltaSetKey = "$set"
	deltaDelKey = "$del"
)

// Diff produces a delta such that Apply(ancestor, delta) reproduces
// current, or ok=false if ancestor/current aren't both dicts (the only
// shape this structural differ handles; anything else falls back to a full
// body).
func Diff(ancestor, current structvalue.Value) (delta *structvalue.Dict, ok bool) {
	aDict, aOK := ancestor.(*structvalue.Dict)
	cDict, cOK := current.(*structvalue.Dict)
	if !aOK || !cOK {
		return nil, false
	}
	return diffDicts(aDict, cDict), true
}

func diffDicts(a, c *structvalue.Dict) *structvalue.Dict {
	set := map[string]structvalue.Value{}
	var del []structvalue.Value

	for _, k := range c.Keys() {
		cv, _ := c.Get(k)
		av, existed := a.Get(k)
		if !existed {
			set[k] = cv
			continue
		}
		if structvalue.Equal(av, cv) {
			continue
		}
		aSub, aIsDict := av.(*structvalue.Dict)
		cSub, cIsDict := cv.(*structvalue.Dict)
		if aIsDict && cIsDict {
			set[k] = diffDicts(aSub, cSub)
			continue
		}
		set[k] = cv
	}
	for _, k := range a.Keys() {
		if _, stillPresent := c.Get(k); !stillPresent {
			del = append(del, k)
		}
	}

	fields := map[string]structvalue.Value{}
	if len(set) > 0 {
		fields[deltaSetKey] = structvalue.NewDict(set)
	}
	if len(del) > 0 {
		fields[deltaDelKey] = structvalue.NewArray(del)
	}
	return structvalue.NewDict(fields)
}

// Size reports an approximate encoded size, used by the pusher to decide
// whether a delta is "strictly smaller than the full body".
func Size(v structvalue.Value) (int, error) {
	enc := structvalue.NewEncoder()
	if _, err := enc.Encode(v); err != nil {
		return 0, err
	}
	return len(enc.Bytes()), nil
}

// Apply reconstructs the current value from ancestor plus delta. Returns
// CorruptData if ancestor isn't a dict or delta references a nested dict
// diff against a non-dict ancestor field; the puller must treat that as
// "ancestor missing or delta malformed" and request the full body instead.
func Apply(ancestor structvalue.Value, delta *structvalue.Dict) (structvalue.Value, error) {
	aDict, ok := ancestor.(*structvalue.Dict)
	if !ok {
		return nil, syncerrors.CorruptData("delta applied against non-dict ancestor")
	}
	return applyDict(aDict, delta)
}

func applyDict(a *structvalue.Dict, delta *structvalue.Dict) (*structvalue.Dict, error) {
	result := a

	if delVal, ok := delta.Get(deltaDelKey); ok {
		delArr, ok := delVal.(*structvalue.Array)
		if !ok {
			return nil, syncerrors.CorruptData("malformed delta $del")
		}
		for _, item := range delArr.Items() {
			key, ok := item.(string)
			if !ok {
				return nil, syncerrors.CorruptData("malformed delta $del entry")
			}
			result = result.WithDeleted(key)
		}
	}

	if setVal, ok := delta.Get(deltaSetKey); ok {
		setDict, ok := setVal.(*structvalue.Dict)
		if !ok {
			return nil, syncerrors.CorruptData("malformed delta $set")
		}
		for _, k := range setDict.Keys() {
			v, _ := setDict.Get(k)
			if nestedDelta, isDict := v.(*structvalue.Dict); isDict && isDeltaShape(nestedDelta) {
				existing, has := result.Get(k)
				existingDict, existingIsDict := existing.(*structvalue.Dict)
				if !has || !existingIsDict {
					return nil, syncerrors.CorruptData("nested delta against non-dict ancestor field: " + k)
				}
				merged, err := applyDict(existingDict, nestedDelta)
				if err != nil {
					return nil, err
				}
				result = result.WithSet(k, merged)
				continue
			}
			result = result.WithSet(k, v)
		}
	}

	return result, nil
}

// isDeltaShape heuristically distinguishes "this dict is itself a nested
// delta" from "this dict is a genuinely new/replaced value that happens to
// be a dict" by checking it only carries the two reserved delta keys.
func isDeltaShape(d *structvalue.Dict) bool {
	for _, k := range d.Keys() {
		if k != deltaSetKey && k != deltaDelKey {
			return false
		}
	}
	return d.Len() > 0
}
