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
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/cs3org/revsync/pkg/syncerrors"
)

// Dial drives a full connection attempt end to end: dial opts.Target's
// host, run Start/Step until the handshake either succeeds or fails, and
// return the raw net.Conn ready for pkg/transport.NewWS to wrap. It is the
// active-side counterpart to Accept, for callers (cmd/revsyncd, cmd/revsync)
// that don't need to drive the Logic state machine by hand.
//
// Proxy CONNECT tunnels and redirects to a different host are not followed
// here: those legitimately need a fresh TCP dial mid-handshake, which a
// caller wiring its own connection pool is better placed to do by driving
// Logic.Start/Step directly instead of calling Dial.
func Dial(ctx context.Context, opts Options) (net.Conn, error) {
	logic := New(opts)
	req, err := logic.Start()
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", hostPort(opts.Target))
	if err != nil {
		return nil, syncerrors.Wrap(syncerrors.DomainNetwork, 0, err)
	}

	br := bufio.NewReader(conn)
	for {
		if err := req.Write(conn); err != nil {
			conn.Close() //nolint:errcheck
			return nil, syncerrors.Wrap(syncerrors.DomainNetwork, 0, err)
		}
		resp, err := http.ReadResponse(br, req)
		if err != nil {
			conn.Close() //nolint:errcheck
			return nil, syncerrors.Wrap(syncerrors.DomainNetwork, 0, err)
		}

		nextReq, disposition, err := logic.Step(ctx, resp)
		if err != nil {
			conn.Close() //nolint:errcheck
			return nil, err
		}
		switch disposition {
		case DispositionSuccess:
			return conn, nil
		case DispositionRetry, DispositionAuthenticate:
			req = nextReq
			continue
		default:
			conn.Close() //nolint:errcheck
			return nil, syncerrors.New(syncerrors.DomainWebSocket, 0, fmt.Sprintf("handshake failed with disposition %s", disposition))
		}
	}
}

func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Hostname() + ":" + u.Port()
	}
	return u.Hostname() + ":443"
}
