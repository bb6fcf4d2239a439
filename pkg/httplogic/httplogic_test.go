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
	"context"
	"crypto/sha1" //nolint:gosec
	"encoding/base64"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs3org/revsync/pkg/auth"
	"github.com/cs3org/revsync/pkg/httplogic"
)

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func acceptFor(req *http.Request) string {
	key := req.Header.Get("Sec-WebSocket-Key")
	h := sha1.New() //nolint:gosec
	h.Write([]byte(key))
	h.Write([]byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11"))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func TestSuccessfulUpgrade(t *testing.T) {
	l := httplogic.New(httplogic.Options{Target: mustURL(t, "wss://h/db")})
	req, err := l.Start()
	require.NoError(t, err)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "websocket", req.Header.Get("Upgrade"))

	resp := &http.Response{StatusCode: http.StatusSwitchingProtocols, Header: http.Header{
		"Sec-Websocket-Accept": {acceptFor(req)},
	}}
	_, disp, err := l.Step(context.Background(), resp)
	require.NoError(t, err)
	assert.Equal(t, httplogic.DispositionSuccess, disp)
}

func TestTamperedAcceptIsFatalProtocolError(t *testing.T) {
	l := httplogic.New(httplogic.Options{Target: mustURL(t, "wss://h/db")})
	_, err := l.Start()
	require.NoError(t, err)

	resp := &http.Response{StatusCode: http.StatusSwitchingProtocols, Header: http.Header{
		"Sec-Websocket-Accept": {"not-the-right-value"},
	}}
	_, disp, err := l.Step(context.Background(), resp)
	require.Error(t, err)
	assert.Equal(t, httplogic.DispositionFailure, disp)
}

func TestRedirectThenAuthChallenge(t *testing.T) {
	resolved := false
	l := httplogic.New(httplogic.Options{
		Target: mustURL(t, "wss://h1/db"),
		ResolveAuth: func(_ context.Context, ch httplogic.AuthChallenge) (auth.Credentials, error) {
			resolved = true
			assert.False(t, ch.ForProxy)
			return auth.Credentials{Header: "Authorization", Value: "Basic dXNlcjpwYXNz"}, nil
		},
	})
	req, err := l.Start()
	require.NoError(t, err)
	assert.Equal(t, "h1", req.URL.Host)

	redirectResp := &http.Response{StatusCode: http.StatusMovedPermanently, Header: http.Header{
		"Location": {"wss://h2/db"},
	}}
	req2, disp, err := l.Step(context.Background(), redirectResp)
	require.NoError(t, err)
	assert.Equal(t, httplogic.DispositionRetry, disp)
	assert.Equal(t, "h2", req2.URL.Host)

	authResp := &http.Response{StatusCode: http.StatusUnauthorized, Header: http.Header{
		"Www-Authenticate": {`Basic realm="r"`},
	}}
	req3, disp, err := l.Step(context.Background(), authResp)
	require.NoError(t, err)
	assert.Equal(t, httplogic.DispositionAuthenticate, disp)
	assert.True(t, resolved)
	assert.Equal(t, "Basic dXNlcjpwYXNz", req3.Header.Get("Authorization"))

	finalResp := &http.Response{StatusCode: http.StatusSwitchingProtocols, Header: http.Header{
		"Sec-Websocket-Accept": {acceptFor(req3)},
	}}
	_, disp, err = l.Step(context.Background(), finalResp)
	require.NoError(t, err)
	assert.Equal(t, httplogic.DispositionSuccess, disp)
}

func TestRedirectLoopTerminatesWithTooManyRedirects(t *testing.T) {
	l := httplogic.New(httplogic.Options{Target: mustURL(t, "wss://h/db")})
	_, err := l.Start()
	require.NoError(t, err)

	var disp httplogic.Disposition
	for i := 0; i <= httplogic.MaxRedirects; i++ {
		resp := &http.Response{StatusCode: http.StatusFound, Header: http.Header{"Location": {"wss://h/db"}}}
		_, d, stepErr := l.Step(context.Background(), resp)
		disp = d
		if d == httplogic.DispositionFailure {
			require.Error(t, stepErr)
			break
		}
		require.NoError(t, stepErr)
	}
	assert.Equal(t, httplogic.DispositionFailure, disp)
}

func TestProxyConnectThenUpgrade(t *testing.T) {
	proxy := httplogic.NewStaticProxyConfig("http://p:3128", "http://p:3128", "")
	l := httplogic.New(httplogic.Options{Target: mustURL(t, "wss://x/db"), Proxy: proxy})

	connectReq, err := l.Start()
	require.NoError(t, err)
	assert.Equal(t, http.MethodConnect, connectReq.Method)
	assert.Equal(t, "x:443", connectReq.Host)
	assert.Empty(t, connectReq.Header.Get("Sec-WebSocket-Key"), "proxy must never see the WS handshake headers")

	connectResp := &http.Response{StatusCode: http.StatusOK}
	upgradeReq, disp, err := l.Step(context.Background(), connectResp)
	require.NoError(t, err)
	assert.Equal(t, httplogic.DispositionContinue, disp)
	assert.Equal(t, "GET", upgradeReq.Method)
	assert.Equal(t, "websocket", upgradeReq.Header.Get("Upgrade"))
}

func TestAuthenticationFailsWithNoResolver(t *testing.T) {
	l := httplogic.New(httplogic.Options{Target: mustURL(t, "wss://h/db")})
	_, err := l.Start()
	require.NoError(t, err)

	resp := &http.Response{StatusCode: http.StatusUnauthorized, Header: http.Header{}}
	_, disp, err := l.Step(context.Background(), resp)
	require.Error(t, err)
	assert.Equal(t, httplogic.DispositionFailure, disp)
}
