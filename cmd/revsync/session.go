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

package main

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/cs3org/revsync/pkg/httplogic"
	"github.com/cs3org/revsync/pkg/replication/client"
	"github.com/cs3org/revsync/pkg/transport"
)

const wsWindowSize = 1 << 20

// session holds the one peer connection this shell drives commands
// against. The connection is live for the process's lifetime rather than
// a host name persisted to disk, since a BLIP connection isn't something
// you reattach to across invocations.
type session struct {
	conn   net.Conn
	client *client.Client
	target *url.URL
}

var current session

func (s *session) connected() bool { return s.client != nil }

func (s *session) require() (*client.Client, error) {
	if !s.connected() {
		return nil, fmt.Errorf("not connected; run \"connect <url>\" first")
	}
	return s.client, nil
}

func connectTo(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	conn, err := httplogic.Dial(ctx, httplogic.Options{Target: u})
	if err != nil {
		return err
	}
	if current.conn != nil {
		current.conn.Close() //nolint:errcheck
	}
	t := transport.NewWS(conn, true, wsWindowSize)
	current = session{conn: conn, client: client.New(t), target: u}
	return nil
}
