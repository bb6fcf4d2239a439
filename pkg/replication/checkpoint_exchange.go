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
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/cs3org/revsync/pkg/checkpoint"
	"github.com/cs3org/revsync/pkg/syncerrors"
	"github.com/cs3org/revsync/pkg/transport"
)

// checkpointRev derives a CAS rev deterministically from a checkpoint's
// content, so setCheckpoint can detect a racing writer without the store
// needing a dedicated rev column.
func checkpointRev(cp checkpoint.Checkpoint) string {
	h := sha256.Sum256(cp.Remote)
	return hex.EncodeToString(h[:8])
}

// fetchRemoteCheckpoint issues a getCheckpoint request and returns the
// remote's opaque cursor body plus the rev it must be If-Match'd against on
// the next setCheckpoint. A 404 response
// means the remote has never seen this client; that's not an error here,
// just an empty checkpoint.
func fetchRemoteCheckpoint(ctx context.Context, t transport.Transport, clientID string) (body []byte, rev string, err error) {
	req := newRequest(profileGetCheckpoint, map[string]string{propClient: clientID}, nil)
	resp, err := t.Send(ctx, req)
	if err != nil {
		return nil, "", err
	}
	if resp.IsError() {
		if resp.Properties["Error-Code"] == "404" {
			return nil, "", nil
		}
		return nil, "", responseError(resp)
	}
	return resp.Body, resp.Properties[propRev], nil
}

// pushLocalCheckpoint issues a setCheckpoint request, retrying once with a
// freshly-fetched rev on a 409 conflict response. The If-Match-style rev
// detects races between peers sharing the same client ID from two
// processes.
func pushLocalCheckpoint(ctx context.Context, t transport.Transport, clientID string, body []byte, rev string) (newRev string, err error) {
	for attempt := 0; attempt < 2; attempt++ {
		props := map[string]string{propClient: clientID}
		if rev != "" {
			props[propRev] = rev
		}
		resp, err := t.Send(ctx, newRequest(profileSetCheckpoint, props, body))
		if err != nil {
			return "", err
		}
		if resp.IsError() {
			if resp.Properties["Error-Code"] == "409" && attempt == 0 {
				_, freshRev, ferr := fetchRemoteCheckpoint(ctx, t, clientID)
				if ferr != nil {
					return "", ferr
				}
				rev = freshRev
				continue
			}
			return "", responseError(resp)
		}
		return resp.Properties[propRev], nil
	}
	return "", syncerrors.New(syncerrors.DomainLiteCore, 409, "setCheckpoint: exhausted retry after conflicting rev")
}

// checkpointServer holds the getCheckpoint/setCheckpoint request handlers
// a peer registers to serve the other side's checkpoint exchange, backed by
// a checkpoint.Store keyed by clientID (the "client" property is the
// requesting peer's identity, distinct from our own checkpoint ID).
type checkpointServer struct {
	store checkpoint.Store
}

func newCheckpointServer(store checkpoint.Store) *checkpointServer {
	return &checkpointServer{store: store}
}

func (s *checkpointServer) handleGetCheckpoint(ctx context.Context, req *transport.Message) *transport.Message {
	clientID := req.Properties[propClient]
	cp, found, err := s.store.Get(ctx, clientID)
	if err != nil {
		return errorMessage(err)
	}
	if !found {
		return errorMessage(syncerrors.NotFound(clientID))
	}
	return &transport.Message{Properties: map[string]string{propRev: checkpointRev(cp)}, Body: cp.Remote}
}

func (s *checkpointServer) handleSetCheckpoint(ctx context.Context, req *transport.Message) *transport.Message {
	clientID := req.Properties[propClient]
	existing, found, err := s.store.Get(ctx, clientID)
	if err != nil {
		return errorMessage(err)
	}
	if found && checkpointRev(existing) != req.Properties[propRev] {
		return errorMessage(syncerrors.Conflict(clientID))
	}
	next := checkpoint.Checkpoint{Remote: req.Body, CollectionUUIDs: existing.CollectionUUIDs}
	next.Local = existing.Local
	if err := s.store.Put(ctx, clientID, next); err != nil {
		return errorMessage(err)
	}
	return &transport.Message{Properties: map[string]string{propRev: checkpointRev(next)}}
}
