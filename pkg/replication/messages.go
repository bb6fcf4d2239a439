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
	"strconv"
	"strings"

	"github.com/cs3org/revsync/pkg/structvalue"
	"github.com/cs3org/revsync/pkg/syncerrors"
	"github.com/cs3org/revsync/pkg/transport"
)

// BLIP profile names exchanged between replicator peers.
const (
	profileGetCheckpoint   = "getCheckpoint"
	profileSetCheckpoint   = "setCheckpoint"
	profileSubChanges      = "subChanges"
	profileChanges         = "changes"
	profileProposeChanges  = "proposeChanges"
	profileRev             = "rev"
	profileNoRev           = "norev"
	profileGetAttachment   = "getAttachment"
	profileProveAttachment = "proveAttachment"
)

// Message property keys.
const (
	propClient   = "client"
	propRev      = "rev"
	propID       = "id"
	propSequence = "sequence"
	propDeleted  = "deleted"
	propHistory  = "history"
	propDeltaSrc = "deltaSrc"
	propDigest   = "digest"
	propNonce    = "nonce"
	propSince    = "since"
	propContinuous = "continuous"
	propPurged   = "purged"
	propProperty = "property"
)

func newRequest(profile string, props map[string]string, body []byte) *transport.Message {
	return &transport.Message{Profile: profile, Properties: props, Body: body}
}

// errorMessage builds a response carrying FlagError, encoding the
// (domain, code) pair reva-style errtype classification needs to cross the
// wire.
func errorMessage(err error) *transport.Message {
	domain, code, msg := classify(err)
	return &transport.Message{
		Flags: transport.FlagError,
		Properties: map[string]string{
			"Error-Domain": string(domain),
			"Error-Code":   strconv.Itoa(code),
		},
		Body: []byte(msg),
	}
}

func classify(err error) (syncerrors.Domain, int, string) {
	if se, ok := err.(*syncerrors.Error); ok {
		return se.Domain, se.Code, se.Error()
	}
	switch {
	case isConflict(err):
		return syncerrors.DomainLiteCore, 409, err.Error()
	case isNotFound(err):
		return syncerrors.DomainLiteCore, 404, err.Error()
	case isBadHistory(err):
		return syncerrors.DomainLiteCore, 400, err.Error()
	default:
		return syncerrors.DomainLiteCore, 500, err.Error()
	}
}

type conflictErr interface{ IsConflict() }
type notFoundErr interface{ IsNotFound() }
type badHistoryErr interface{ IsBadHistory() }

func isConflict(err error) bool   { _, ok := err.(conflictErr); return ok }
func isNotFound(err error) bool   { _, ok := err.(notFoundErr); return ok }
func isBadHistory(err error) bool { _, ok := err.(badHistoryErr); return ok }

// responseError converts an error-flagged response Message back into a Go
// error, or nil if msg doesn't carry FlagError.
func responseError(msg *transport.Message) error {
	if msg == nil || !msg.IsError() {
		return nil
	}
	code, _ := strconv.Atoi(msg.Properties["Error-Code"])
	domain := syncerrors.Domain(msg.Properties["Error-Domain"])
	return syncerrors.New(domain, code, string(msg.Body))
}

// changeRow is one entry of a changes/proposeChanges message body: the wire
// shape is a plain structvalue array, mirroring how docrecord already
// represents its own on-disk rows.
type changeRow struct {
	Sequence uint64
	DocID    string
	RevID    string
	Deleted  bool
	History  []string // only set for proposeChanges, ancestor-first after RevID
}

func encodeChangeRows(rows []changeRow) ([]byte, error) {
	items := make([]structvalue.Value, len(rows))
	for i, r := range rows {
		histArr := make([]structvalue.Value, len(r.History))
		for j, h := range r.History {
			histArr[j] = h
		}
		items[i] = structvalue.NewArray([]structvalue.Value{
			int64(r.Sequence), r.DocID, r.RevID, r.Deleted, structvalue.NewArray(histArr),
		})
	}
	enc := structvalue.NewEncoder()
	if _, err := enc.Encode(structvalue.NewArray(items)); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

func decodeChangeRows(body []byte) ([]changeRow, error) {
	if len(body) == 0 {
		return nil, nil
	}
	dec := structvalue.NewDecoder(body, nil)
	val, err := dec.Decode()
	if err != nil {
		return nil, err
	}
	arr, ok := val.(*structvalue.Array)
	if !ok {
		return nil, syncerrors.CorruptData("malformed changes body: expected array")
	}
	rows := make([]changeRow, 0, arr.Len())
	for _, item := range arr.Items() {
		row, ok := item.(*structvalue.Array)
		if !ok || row.Len() < 4 {
			return nil, syncerrors.CorruptData("malformed changes row")
		}
		seq, _ := row.At(0).(int64)
		docID, _ := row.At(1).(string)
		revID, _ := row.At(2).(string)
		deleted, _ := row.At(3).(bool)
		r := changeRow{Sequence: uint64(seq), DocID: docID, RevID: revID, Deleted: deleted}
		if row.Len() > 4 {
			if histArr, ok := row.At(4).(*structvalue.Array); ok {
				for _, h := range histArr.Items() {
					if s, ok := h.(string); ok {
						r.History = append(r.History, s)
					}
				}
			}
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// encodeDecisions encodes the reply to a changes/proposeChanges message: one
// entry per row, "" meaning "send the full body", a non-empty string
// naming the ancestor rev to delta against, and a bare nil meaning "already
// have it, don't send".
func encodeDecisions(decisions []*string) ([]byte, error) {
	items := make([]structvalue.Value, len(decisions))
	for i, d := range decisions {
		if d == nil {
			items[i] = nil
			continue
		}
		items[i] = *d
	}
	enc := structvalue.NewEncoder()
	if _, err := enc.Encode(structvalue.NewArray(items)); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

func decodeDecisions(body []byte) ([]*string, error) {
	if len(body) == 0 {
		return nil, nil
	}
	dec := structvalue.NewDecoder(body, nil)
	val, err := dec.Decode()
	if err != nil {
		return nil, err
	}
	arr, ok := val.(*structvalue.Array)
	if !ok {
		return nil, syncerrors.CorruptData("malformed decisions body: expected array")
	}
	out := make([]*string, arr.Len())
	for i, item := range arr.Items() {
		if item == nil {
			continue
		}
		if s, ok := item.(string); ok {
			sc := s
			out[i] = &sc
		}
	}
	return out, nil
}

func joinHistory(ids []string) string { return strings.Join(ids, ",") }
func splitHistory(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
