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

// Package syncerrors defines the (domain, code, message) error triple used
// throughout the replication core, plus the sentinel error types that the
// domain/code classification is derived from.
//
// The sentinel types follow the same shape as reva's pkg/errtypes: small
// string-based types that also answer an IsXxx() marker method, so callers
// can classify an error with a type assertion instead of string matching.
package syncerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Domain classifies where an error originated, mirroring LiteCore's error
// domains.
type Domain string

// Known domains.
const (
	DomainLiteCore Domain = "LiteCore"
	DomainPOSIX    Domain = "POSIX"
	DomainNetwork  Domain = "Network"
	DomainWebSocket Domain = "WebSocket"
	DomainFleece   Domain = "Fleece"
	DomainSQLite   Domain = "SQLite"
	DomainMbedTLS  Domain = "MbedTLS"
)

// Error is the (domain, code, message) triple carried across the
// replication engine and surfaced to applications via status callbacks.
type Error struct {
	Domain  Domain
	Code    int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s/%d: %s: %v", e.Domain, e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s/%d: %s", e.Domain, e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with a stack-carrying cause via github.com/pkg/errors,
// so unexpected (non-protocol) failures retain a trace for logs.
func New(domain Domain, code int, message string) *Error {
	return &Error{Domain: domain, Code: code, Message: message, cause: errors.New(message)}
}

// Wrap attaches a domain/code classification to an existing error.
func Wrap(domain Domain, code int, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Domain: domain, Code: code, Message: err.Error(), cause: errors.WithStack(err)}
}

// IsTransient reports whether the recovery rule for this error is "retry"
// rather than "surface as fatal".
func (e *Error) IsTransient() bool {
	switch e.Domain {
	case DomainNetwork:
		return true
	case DomainWebSocket:
		return e.Code == 1001 || e.Code == 1006
	default:
		return false
	}
}

// NotFound mirrors errtypes.NotFound: the resource named by the string does
// not exist.
type NotFound string

func (e NotFound) Error() string { return "not found: " + string(e) }

// IsNotFound implements the marker-method idiom used across the pack.
func (e NotFound) IsNotFound() {}

// AlreadyExists mirrors errtypes.AlreadyExists.
type AlreadyExists string

func (e AlreadyExists) Error() string { return "already exists: " + string(e) }

// IsAlreadyExists implements the marker-method idiom.
func (e AlreadyExists) IsAlreadyExists() {}

// Conflict signals a CAS mismatch on a record-store write or a revision-tree
// insertion that collided with an existing branch.
type Conflict string

func (e Conflict) Error() string { return "conflict: " + string(e) }

// IsConflict implements the marker-method idiom.
func (e Conflict) IsConflict() {}

// BadRevisionID signals a malformed revision identifier, or an attempt to
// mix tree-mode and vector-mode operations on the same document.
type BadRevisionID string

func (e BadRevisionID) Error() string { return "bad revision id: " + string(e) }

// IsBadRevisionID implements the marker-method idiom.
func (e BadRevisionID) IsBadRevisionID() {}

// BadHistory signals a revision history that cannot be applied: a parent
// generation mismatch outside the tolerated gap window, or a malformed
// history array.
type BadHistory string

func (e BadHistory) Error() string { return "bad history: " + string(e) }

// IsBadHistory implements the marker-method idiom.
func (e BadHistory) IsBadHistory() {}

// CorruptData signals a decode failure in the structured-value codec or the
// record store's on-disk framing.
type CorruptData string

func (e CorruptData) Error() string { return "corrupt data: " + string(e) }

// IsCorruptData implements the marker-method idiom.
func (e CorruptData) IsCorruptData() {}

// Join mirrors errtypes.Join: combine multiple errors (e.g. per-document
// doc-ended failures collected over a batch) into one.
func Join(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	return joined(nonNil)
}

type joined []error

func (j joined) Error() string {
	s := ""
	for i, e := range j {
		if i > 0 {
			s += ", "
		}
		s += e.Error()
	}
	return s
}

func (j joined) Unwrap() []error { return j }
