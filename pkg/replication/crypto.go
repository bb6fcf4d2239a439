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
	"strings"

	"github.com/cs3org/revsync/pkg/structvalue"
	"github.com/cs3org/revsync/pkg/syncerrors"
)

// encryptedPrefix marks a property that has been replaced by its ciphertext
// form on the wire, using the "encrypted$propertyName" key convention.
const encryptedPrefix = "encrypted$"

// Encryptor transforms one cleartext property value into ciphertext plus an
// opaque key identifier, called once per "Encryptable" property found in an
// outgoing revision body.
type Encryptor func(docID, property string, cleartext []byte) (ciphertext []byte, keyID string, err error)

// Decryptor reverses Encryptor on the receiving side.
type Decryptor func(docID, property string, ciphertext []byte, keyID string) (cleartext []byte, err error)

// encryptOutgoing scans body for {"@type":"Encryptable","value":...} dict
// entries and replaces each with an "encrypted$<property>" entry holding the
// encryptor's ciphertext, leaving every other property untouched. It
// surfaces a protocol error if an Encryptable property is found but no
// Encryptor callback was configured, rather than silently shipping
// cleartext.
func encryptOutgoing(docID string, body []byte, enc Encryptor) ([]byte, error) {
	val, err := decodeBody(body)
	if err != nil {
		return nil, err
	}
	dict, ok := val.(*structvalue.Dict)
	if !ok {
		return body, nil
	}
	out, changed, err := transformEncryptable(docID, dict, enc)
	if err != nil {
		return nil, err
	}
	if !changed {
		return body, nil
	}
	e := structvalue.NewEncoder()
	if _, err := e.Encode(out); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

func transformEncryptable(docID string, d *structvalue.Dict, enc Encryptor) (*structvalue.Dict, bool, error) {
	out := d
	changed := false
	for _, key := range d.Keys() {
		v, _ := d.Get(key)
		switch tv := v.(type) {
		case *structvalue.Dict:
			if isEncryptable(tv) {
				if enc == nil {
					return nil, false, syncerrors.New(syncerrors.DomainLiteCore, 453, "encryptable property present but no Encryptor configured: "+key)
				}
				cleartext, _ := tv.Get("value")
				plain, perr := toBytes(cleartext)
				if perr != nil {
					return nil, false, perr
				}
				ciphertext, keyID, eerr := enc(docID, key, plain)
				if eerr != nil {
					return nil, false, eerr
				}
				out = out.WithDeleted(key).WithSet(encryptedPrefix+key, structvalue.NewDict(map[string]structvalue.Value{
					"ciphertext": ciphertext,
					"keyID":      keyID,
				}))
				changed = true
				continue
			}
			nested, nchanged, err := transformEncryptable(docID, tv, enc)
			if err != nil {
				return nil, false, err
			}
			if nchanged {
				out = out.WithSet(key, nested)
				changed = true
			}
		case *structvalue.Array:
			nested, nchanged, err := transformEncryptableArray(docID, tv, enc)
			if err != nil {
				return nil, false, err
			}
			if nchanged {
				out = out.WithSet(key, nested)
				changed = true
			}
		}
	}
	return out, changed, nil
}

func transformEncryptableArray(docID string, a *structvalue.Array, enc Encryptor) (*structvalue.Array, bool, error) {
	items := a.Items()
	changed := false
	for i, item := range items {
		if d, ok := item.(*structvalue.Dict); ok {
			nested, nchanged, err := transformEncryptable(docID, d, enc)
			if err != nil {
				return nil, false, err
			}
			if nchanged {
				items[i] = nested
				changed = true
			}
		}
	}
	if !changed {
		return a, false, nil
	}
	return structvalue.NewArray(items), true, nil
}

func isEncryptable(d *structvalue.Dict) bool {
	t, ok := d.Get("@type")
	s, _ := t.(string)
	return ok && s == "Encryptable"
}

// decryptIncoming reverses encryptOutgoing: every "encrypted$<property>"
// entry is replaced by a plain "<property>" entry holding the decryptor's
// cleartext as a string. When noDecryption is set, encrypted entries are left exactly as
// received. Otherwise a missing Decryptor
// with an encrypted property present is a protocol error.
func decryptIncoming(docID string, body []byte, dec Decryptor, noDecryption bool) ([]byte, error) {
	val, err := decodeBody(body)
	if err != nil {
		return nil, err
	}
	dict, ok := val.(*structvalue.Dict)
	if !ok {
		return body, nil
	}
	out, changed, err := transformEncrypted(docID, dict, dec, noDecryption)
	if err != nil {
		return nil, err
	}
	if !changed {
		return body, nil
	}
	e := structvalue.NewEncoder()
	if _, err := e.Encode(out); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

func transformEncrypted(docID string, d *structvalue.Dict, dec Decryptor, noDecryption bool) (*structvalue.Dict, bool, error) {
	out := d
	changed := false
	for _, key := range d.Keys() {
		v, _ := d.Get(key)
		if strings.HasPrefix(key, encryptedPrefix) {
			if noDecryption {
				continue
			}
			entry, ok := v.(*structvalue.Dict)
			if !ok {
				return nil, false, syncerrors.CorruptData("malformed encrypted property: " + key)
			}
			if dec == nil {
				return nil, false, syncerrors.New(syncerrors.DomainLiteCore, 453, "encrypted property present but no Decryptor configured: "+key)
			}
			ciphertext, _ := entry.Get("ciphertext")
			keyID, _ := entry.Get("keyID")
			ct, cerr := toBytes(ciphertext)
			if cerr != nil {
				return nil, false, cerr
			}
			kid, _ := keyID.(string)
			property := strings.TrimPrefix(key, encryptedPrefix)
			cleartext, derr := dec(docID, property, ct, kid)
			if derr != nil {
				return nil, false, derr
			}
			out = out.WithDeleted(key).WithSet(property, string(cleartext))
			changed = true
			continue
		}
		if nested, ok := v.(*structvalue.Dict); ok {
			ntv, nchanged, err := transformEncrypted(docID, nested, dec, noDecryption)
			if err != nil {
				return nil, false, err
			}
			if nchanged {
				out = out.WithSet(key, ntv)
				changed = true
			}
		}
		if arr, ok := v.(*structvalue.Array); ok {
			items, achanged := arr.Items(), false
			for i, item := range items {
				if nested, isDict := item.(*structvalue.Dict); isDict {
					ntv, nchanged, err := transformEncrypted(docID, nested, dec, noDecryption)
					if err != nil {
						return nil, false, err
					}
					items[i], achanged = ntv, achanged || nchanged
				}
			}
			if achanged {
				out, changed = out.WithSet(key, structvalue.NewArray(items)), true
			}
		}
	}
	return out, changed, nil
}

func toBytes(v structvalue.Value) ([]byte, error) {
	switch tv := v.(type) {
	case []byte:
		return tv, nil
	case string:
		return []byte(tv), nil
	case nil:
		return nil, nil
	default:
		return nil, syncerrors.CorruptData("encryptable value is neither bytes nor string")
	}
}
