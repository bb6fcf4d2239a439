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

package httplogic_test

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs3org/revsync/pkg/httplogic"
)

func TestAcceptRejectsNonUpgradeRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/db/_blipsync", nil)
	rec := httptest.NewRecorder()
	_, err := httplogic.Accept(rec, req)
	require.Error(t, err)
}

// recordingHijacker wraps httptest.ResponseRecorder with a Hijacker backed
// by a net.Pipe, the minimum needed to exercise Accept's write path without
// standing up a real TCP listener.
type recordingHijacker struct {
	*httptest.ResponseRecorder
	server net.Conn
}

func (h *recordingHijacker) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw := bufio.NewReadWriter(bufio.NewReader(h.server), bufio.NewWriter(h.server))
	return h.server, rw, nil
}

func TestAcceptWritesSwitchingProtocolsResponse(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	req := httptest.NewRequest(http.MethodGet, "/db/_blipsync", nil)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set("Sec-WebSocket-Protocol", "CBMobile_3")

	h := &recordingHijacker{ResponseRecorder: httptest.NewRecorder(), server: server}

	done := make(chan struct{})
	var conn net.Conn
	var acceptErr error
	go func() {
		conn, acceptErr = httplogic.Accept(h, req)
		close(done)
	}()

	buf := make([]byte, 4096)
	n, err := client.Read(buf)
	require.NoError(t, err)
	<-done
	require.NoError(t, acceptErr)
	require.NotNil(t, conn)

	resp := string(buf[:n])
	assert.Contains(t, resp, "101 Switching Protocols")
	assert.Contains(t, resp, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=")
	assert.Contains(t, resp, "Sec-WebSocket-Protocol: CBMobile_3")
}

func TestAcceptRejectsWrongVersion(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/db/_blipsync", nil)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Version", "8")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	rec := httptest.NewRecorder()
	_, err := httplogic.Accept(rec, req)
	require.Error(t, err)
}
