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

// Package client implements a minimal connected-client surface: a
// lightweight collaborator
// that speaks getRev/putRev/getAttachment directly against a passive peer's
// pkg/transport.Transport without standing up a pkg/replication.Replicator's
// checkpoint/pusher/puller machinery. It is useful for one-off point queries
// a caller doesn't want to pay the full subscribe-and-enumerate cost for -
// think "fetch me this one document" rather than "sync everything".
//
// Client reuses the same wire shapes pkg/replication's pusher/puller use for
// a single rev (property dict + structvalue-encoded body) but is otherwise
// independent of that package; it depends only on pkg/transport,
// pkg/revid and pkg/syncerrors.
package client

import (
	"context"
	"crypto/sha1" //nolint:gosec // protocol digest, not a security primitive (matches pkg/revtree's legacy digest use)
	"crypto/rand"
	"encoding/hex"
	"strconv"

	"github.com/cs3org/revsync/pkg/revid"
	"github.com/cs3org/revsync/pkg/syncerrors"
	"github.com/cs3org/revsync/pkg/transport"
)

// BLIP profile names this client speaks. getRev/putRev are a newer
// extension to the full push/pull profile set; a passive peer that implements ConnectedClient
// support answers them directly against its record store.
const (
	ProfileGetRev         = "getRev"
	ProfilePutRev         = "putRev"
	ProfileGetAttachment  = "getAttachment"
	ProfileProveAttachment = "proveAttachment"
)

// Property keys used on the wire by this client.
const (
	propID       = "id"
	propRev      = "rev"
	propDeleted  = "deleted"
	propDigest   = "digest"
	propNonce    = "nonce"
)

// Rev is a single revision as returned by GetRev.
type Rev struct {
	RevID   revid.RevID
	Deleted bool
	Body    []byte
}

// Client is a thin wrapper around a transport.Transport offering point
// queries against one connected passive peer.
type Client struct {
	t transport.Transport
}

// New wraps an already-established transport (the upgrade handshake, via
// pkg/httplogic, has already completed by the time a Client is built).
func New(t transport.Transport) *Client {
	return &Client{t: t}
}

// GetRev fetches one document's revision body. A nil rev asks for the
// peer's current revision; a non-nil rev asks for that specific historical
// one (which the peer may have already pruned, yielding NotFound).
func (c *Client) GetRev(ctx context.Context, docID string, rev *revid.RevID) (Rev, error) {
	props := map[string]string{propID: docID}
	if rev != nil {
		props[propRev] = rev.Format()
	}
	resp, err := c.t.Send(ctx, &transport.Message{Profile: ProfileGetRev, Properties: props})
	if err != nil {
		return Rev{}, err
	}
	if err := asError(resp); err != nil {
		return Rev{}, err
	}
	id, perr := revid.Parse(resp.Properties[propRev])
	if perr != nil {
		return Rev{}, perr
	}
	return Rev{RevID: id, Deleted: resp.Properties[propDeleted] == "1", Body: resp.Body}, nil
}

// PutRev pushes one new revision directly, bypassing subChanges/changes
// negotiation entirely - the caller already knows it wants to write this
// exact docID/parent/body. parent is nil for a new document's first
// revision. Returns the revID the peer assigned (tree mode) or accepted
// (vector mode, peer echoes back the revID it stored).
func (c *Client) PutRev(ctx context.Context, docID string, parent *revid.RevID, body []byte, deleted bool) (revid.RevID, error) {
	props := map[string]string{propID: docID}
	if parent != nil {
		props[propRev] = parent.Format()
	}
	if deleted {
		props[propDeleted] = "1"
	}
	resp, err := c.t.Send(ctx, &transport.Message{Profile: ProfilePutRev, Properties: props, Body: body})
	if err != nil {
		return revid.RevID{}, err
	}
	if err := asError(resp); err != nil {
		return revid.RevID{}, err
	}
	return revid.Parse(resp.Properties[propRev])
}

// GetAttachment streams one blob's content by its content digest,
// optionally scoped to a specific document/property for access-control
// peers that don't serve blobs content-addressed out of context.
func (c *Client) GetAttachment(ctx context.Context, docID, property, digest string) ([]byte, error) {
	props := map[string]string{propDigest: digest}
	if docID != "" {
		props[propID] = docID
	}
	if property != "" {
		props["property"] = property
	}
	resp, err := c.t.Send(ctx, &transport.Message{Profile: ProfileGetAttachment, Properties: props})
	if err != nil {
		return nil, err
	}
	if err := asError(resp); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// ProveAttachment implements the proveAttachment challenge-response
// check: before trusting a peer's claim that it already holds a blob (and so
// skipping a redundant upload), send a random nonce and require the peer
// to answer with SHA-1(nonce || blobBytes). localBlob is this side's own
// copy of the content, used to compute the expected proof; a mismatch or
// error means the peer's claim doesn't hold and the blob must be uploaded
// in full.
func (c *Client) ProveAttachment(ctx context.Context, digest string, localBlob []byte) (bool, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return false, syncerrors.Wrap(syncerrors.DomainLiteCore, 0, err)
	}
	props := map[string]string{propDigest: digest, propNonce: hex.EncodeToString(nonce[:])}
	resp, err := c.t.Send(ctx, &transport.Message{Profile: ProfileProveAttachment, Properties: props})
	if err != nil {
		return false, err
	}
	if err := asError(resp); err != nil {
		// Peer doesn't have the blob (or rejected the challenge); caller
		// falls back to a full upload, this isn't a transport failure.
		return false, nil
	}
	h := sha1.New() //nolint:gosec
	h.Write(nonce[:])
	h.Write(localBlob)
	return hex.EncodeToString(resp.Body) == hex.EncodeToString(h.Sum(nil)), nil
}

// AnswerProveAttachment computes the proof a passive peer answering
// ProfileProveAttachment should send back, given the challenge's nonce (hex)
// and its own local copy of the blob. Exposed here so both sides of the
// challenge share one implementation of the digest construction.
func AnswerProveAttachment(nonceHex string, blob []byte) ([]byte, error) {
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return nil, syncerrors.CorruptData("malformed proveAttachment nonce")
	}
	h := sha1.New() //nolint:gosec
	h.Write(nonce)
	h.Write(blob)
	return h.Sum(nil), nil
}

func asError(resp *transport.Message) error {
	if resp == nil {
		return nil
	}
	if !resp.IsError() {
		return nil
	}
	code, _ := strconv.Atoi(resp.Properties["Error-Code"])
	domain := syncerrors.Domain(resp.Properties["Error-Domain"])
	return syncerrors.New(domain, code, string(resp.Body))
}
