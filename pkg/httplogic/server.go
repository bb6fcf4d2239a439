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

package httplogic

import (
	"crypto/sha1" //nolint:gosec // protocol-mandated by RFC 6455, see Logic.validAccept
	"encoding/base64"
	"net"
	"net/http"
	"strings"

	"github.com/cs3org/revsync/pkg/syncerrors"
)

// Accept runs the passive side of the RFC 6455 handshake this package's
// Logic drives from the active side: it validates an incoming upgrade
// request, hijacks the underlying connection and writes the "101 Switching
// Protocols" response, and hands back the raw net.Conn for
// pkg/transport.NewWS to wrap. r must be a GET request carrying the
// WebSocket upgrade headers; w must support http.Hijacker (true for
// net/http's standard server over a non-HTTP/2 connection, which BLIP
// requires anyway since it needs a raw bidirectional byte stream).
func Accept(w http.ResponseWriter, r *http.Request) (net.Conn, error) {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") ||
		!headerContainsToken(r.Header.Get("Connection"), "Upgrade") {
		return nil, syncerrors.New(syncerrors.DomainWebSocket, 400, "not a websocket upgrade request")
	}
	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		return nil, syncerrors.New(syncerrors.DomainWebSocket, 400, "unsupported Sec-WebSocket-Version")
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, syncerrors.New(syncerrors.DomainWebSocket, 400, "missing Sec-WebSocket-Key")
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, syncerrors.New(syncerrors.DomainWebSocket, 500, "response writer does not support hijacking")
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		return nil, syncerrors.Wrap(syncerrors.DomainNetwork, 0, err)
	}
	if err := rw.Flush(); err != nil {
		conn.Close() //nolint:errcheck
		return nil, syncerrors.Wrap(syncerrors.DomainNetwork, 0, err)
	}

	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + acceptKey(key) + "\r\n"
	if proto := negotiateSubprotocol(r.Header.Get("Sec-WebSocket-Protocol")); proto != "" {
		resp += "Sec-WebSocket-Protocol: " + proto + "\r\n"
	}
	resp += "\r\n"

	if _, err := conn.Write([]byte(resp)); err != nil {
		conn.Close() //nolint:errcheck
		return nil, syncerrors.Wrap(syncerrors.DomainNetwork, 0, err)
	}
	return conn, nil
}

// acceptKey computes the Sec-WebSocket-Accept value for a given client nonce
// per RFC 6455 §1.3, the server-side mirror of Logic.validAccept.
func acceptKey(clientKey string) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(clientKey))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// negotiateSubprotocol picks the first client-offered subprotocol this
// server understands. Only the newest subprotocol version is implemented
// here, so negotiation is "is it in the offered list at all", not a
// version-ranked choice.
func negotiateSubprotocol(offered string) string {
	const supported = "CBMobile_3"
	for _, p := range strings.Split(offered, ",") {
		if strings.TrimSpace(p) == supported {
			return supported
		}
	}
	return ""
}

func headerContainsToken(header, token string) bool {
	for _, part := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
