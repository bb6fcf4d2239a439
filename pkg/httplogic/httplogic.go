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

// Package httplogic implements the pure HTTP/WebSocket
// upgrade state machine. Given the current address, a proxy configuration
// and the previous response, it produces the next outbound request plus a
// Disposition classifying what happened: redirect, auth challenge, proxy
// CONNECT tunnel establishment, successful upgrade, or fatal failure.
package httplogic

import (
	"context"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // protocol-mandated by RFC 6455, not a security primitive here
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpproxy"

	"github.com/cs3org/revsync/pkg/auth"
	"github.com/cs3org/revsync/pkg/cookiejar"
	"github.com/cs3org/revsync/pkg/syncerrors"
)

// websocketGUID is the fixed RFC 6455 handshake salt.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// MaxRedirects caps how many 3xx hops a single connect attempt follows.
const MaxRedirects = 10

// Disposition classifies the outcome of feeding a response into Step.
type Disposition int

// The five dispositions Step can produce.
const (
	// DispositionContinue means a 2xx response to a CONNECT tunnel
	// request: the caller must now wrap the raw socket in TLS to the
	// target hostname and send the real request over that same socket.
	DispositionContinue Disposition = iota
	// DispositionRetry means retry with the request returned alongside
	// (redirect).
	DispositionRetry
	// DispositionAuthenticate means the caller must resolve the returned
	// AuthChallenge and call ProvideCredentials before Step is called
	// again.
	DispositionAuthenticate
	// DispositionSuccess means the WebSocket handshake completed and
	// validated; the channel is ready to carry BLIP messages.
	DispositionSuccess
	// DispositionFailure is terminal; Err() explains why.
	DispositionFailure
)

func (d Disposition) String() string {
	switch d {
	case DispositionContinue:
		return "Continue"
	case DispositionRetry:
		return "Retry"
	case DispositionAuthenticate:
		return "Authenticate"
	case DispositionSuccess:
		return "Success"
	case DispositionFailure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// AuthChallenge is the (address, forProxy, type, key, value) tuple handed
// to the application's auth challenge resolver.
type AuthChallenge struct {
	Address  *url.URL
	ForProxy bool
	Type     string // e.g. "Basic", "Bearer"
	Key      string // e.g. "realm"
	Value    string // the realm/nonce value, or the full raw header as fallback
}

// phase tracks which leg of the handshake Step is currently driving.
type phase int

const (
	phaseConnect phase = iota // establishing a proxy CONNECT tunnel
	phaseUpgrade              // sending/retrying the WebSocket upgrade request
)

// Logic drives the upgrade state machine for one connection attempt. It is
// not safe for concurrent use; the replication engine's connection actor
// owns exactly one Logic per connect cycle.
type Logic struct {
	target      *url.URL
	proxy       *httpproxy.Config
	headers     http.Header
	wsProtocols []string
	cookies     cookiejar.Provider

	resolveAuth func(ctx context.Context, ch AuthChallenge) (auth.Credentials, error)

	phase         phase
	address       *url.URL // current address (changes on redirect)
	redirectCount int
	nonce         [16]byte
	usedProxy     bool

	triedOriginAuth bool
	triedProxyAuth  bool

	originCreds *auth.Credentials
	proxyCreds  *auth.Credentials

	err error
}

// Options configures a new Logic.
type Options struct {
	Target      *url.URL
	Proxy       *httpproxy.Config // nil disables proxying
	Headers     http.Header       // extra headers merged into every upgrade request
	WSProtocols []string          // offered Sec-WebSocket-Protocol tokens, highest-preference first
	Cookies     cookiejar.Provider
	ResolveAuth func(ctx context.Context, ch AuthChallenge) (auth.Credentials, error)
}

// New builds a Logic for one connection attempt to opts.Target.
func New(opts Options) *Logic {
	return &Logic{
		target:      opts.Target,
		proxy:       opts.Proxy,
		headers:     opts.Headers,
		wsProtocols: opts.WSProtocols,
		cookies:     opts.Cookies,
		resolveAuth: opts.ResolveAuth,
		address:     opts.Target,
	}
}

// usesProxyTunnel reports whether reaching l.target requires a CONNECT
// tunnel: a proxy is configured and httpproxy's no_proxy-aware resolution
// names one for this URL.
func (l *Logic) usesProxyTunnel() (proxyURL *url.URL, ok bool) {
	if l.proxy == nil {
		return nil, false
	}
	// httpproxy only resolves http/https URLs, so a ws/wss target is looked
	// up under its matching HTTP scheme.
	lookup := *l.target
	switch lookup.Scheme {
	case "wss":
		lookup.Scheme = "https"
	case "ws":
		lookup.Scheme = "http"
	}
	u, err := l.proxy.ProxyFunc()(&lookup)
	if err != nil || u == nil {
		return nil, false
	}
	return u, true
}

// Start produces the first outbound request: a CONNECT to the proxy if one
// applies, otherwise the WebSocket upgrade request directly.
func (l *Logic) Start() (*http.Request, error) {
	if proxyURL, ok := l.usesProxyTunnel(); ok {
		l.usedProxy = true
		l.phase = phaseConnect
		return l.buildConnectRequest(proxyURL)
	}
	l.phase = phaseUpgrade
	return l.buildUpgradeRequest()
}

func (l *Logic) buildConnectRequest(proxyURL *url.URL) (*http.Request, error) {
	host := l.target.Hostname()
	port := l.target.Port()
	if port == "" {
		port = "443"
	}
	authority := host + ":" + port

	req, err := http.NewRequest(http.MethodConnect, "http://"+authority, nil)
	if err != nil {
		return nil, syncerrors.Wrap(syncerrors.DomainNetwork, 0, err)
	}
	req.Host = authority
	req.URL = &url.URL{Opaque: authority}
	if l.proxyCreds != nil {
		req.Header.Set(l.proxyCreds.Header, l.proxyCreds.Value)
	}
	return req, nil
}

// buildUpgradeRequest constructs the GET request carrying the WebSocket
// handshake headers, generating a fresh nonce each time (a redirect or
// retried-after-auth attempt must not reuse a stale Sec-WebSocket-Key).
func (l *Logic) buildUpgradeRequest() (*http.Request, error) {
	if _, err := rand.Read(l.nonce[:]); err != nil {
		return nil, syncerrors.Wrap(syncerrors.DomainNetwork, 0, err)
	}

	req, err := http.NewRequest(http.MethodGet, l.address.String(), nil)
	if err != nil {
		return nil, syncerrors.Wrap(syncerrors.DomainNetwork, 0, err)
	}
	for k, vs := range l.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", base64.StdEncoding.EncodeToString(l.nonce[:]))
	if len(l.wsProtocols) > 0 {
		req.Header.Set("Sec-WebSocket-Protocol", strings.Join(l.wsProtocols, ", "))
	}
	if l.originCreds != nil {
		req.Header.Set(l.originCreds.Header, l.originCreds.Value)
	}
	if l.usedProxy && l.proxyCreds != nil {
		req.Header.Set("Proxy-Authorization", l.proxyCreds.Value)
	}
	if l.cookies != nil {
		for _, c := range l.cookies.Cookies(l.address) {
			req.AddCookie(c)
		}
	}
	return req, nil
}

// Step feeds resp (the reply to the request most recently returned by
// Start or Step) into the state machine and returns what to do next.
func (l *Logic) Step(ctx context.Context, resp *http.Response) (*http.Request, Disposition, error) {
	l.absorbCookies(resp)

	switch l.phase {
	case phaseConnect:
		return l.stepConnect(ctx, resp)
	default:
		return l.stepUpgrade(ctx, resp)
	}
}

func (l *Logic) absorbCookies(resp *http.Response) {
	if l.cookies == nil {
		return
	}
	if cs := resp.Cookies(); len(cs) > 0 {
		l.cookies.SetCookies(l.address, cs)
	}
}

func (l *Logic) stepConnect(ctx context.Context, resp *http.Response) (*http.Request, Disposition, error) {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		l.phase = phaseUpgrade
		req, err := l.buildUpgradeRequest()
		if err != nil {
			return nil, DispositionFailure, err
		}
		return req, DispositionContinue, nil
	case resp.StatusCode == http.StatusProxyAuthRequired:
		if l.triedProxyAuth || l.resolveAuth == nil {
			return nil, DispositionFailure, l.fail(syncerrors.DomainNetwork, 407, "proxy authentication failed")
		}
		l.triedProxyAuth = true
		creds, err := l.resolveAuth(ctx, challengeFrom(l.target, true, resp.Header.Get("Proxy-Authenticate")))
		if err != nil {
			return nil, DispositionFailure, l.fail(syncerrors.DomainNetwork, 407, "no credentials for proxy challenge")
		}
		l.proxyCreds = &creds
		proxyURL, _ := l.usesProxyTunnel()
		req, err := l.buildConnectRequest(proxyURL)
		if err != nil {
			return nil, DispositionFailure, err
		}
		return req, DispositionAuthenticate, nil
	default:
		return nil, DispositionFailure, l.fail(syncerrors.DomainNetwork, resp.StatusCode, "proxy CONNECT failed")
	}
}

func (l *Logic) stepUpgrade(ctx context.Context, resp *http.Response) (*http.Request, Disposition, error) {
	switch {
	case resp.StatusCode == http.StatusSwitchingProtocols:
		if !l.validAccept(resp.Header.Get("Sec-WebSocket-Accept")) {
			return nil, DispositionFailure, l.fail(syncerrors.DomainWebSocket, 1002, "Sec-WebSocket-Accept mismatch")
		}
		return nil, DispositionSuccess, nil

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		loc := resp.Header.Get("Location")
		if loc == "" {
			return nil, DispositionFailure, l.fail(syncerrors.DomainNetwork, resp.StatusCode, "redirect with no Location")
		}
		next, err := l.address.Parse(loc)
		if err != nil {
			return nil, DispositionFailure, l.fail(syncerrors.DomainNetwork, 0, "malformed redirect Location")
		}
		l.redirectCount++
		if l.redirectCount > MaxRedirects {
			return nil, DispositionFailure, l.fail(syncerrors.DomainNetwork, 0, "TooManyRedirects")
		}
		l.address = next
		l.triedOriginAuth = false // a new origin gets its own auth attempt
		req, err := l.buildUpgradeRequest()
		if err != nil {
			return nil, DispositionFailure, err
		}
		return req, DispositionRetry, nil

	case resp.StatusCode == http.StatusUnauthorized:
		if l.triedOriginAuth || l.resolveAuth == nil {
			return nil, DispositionFailure, l.fail(syncerrors.DomainNetwork, 401, "authentication failed")
		}
		l.triedOriginAuth = true
		creds, err := l.resolveAuth(ctx, challengeFrom(l.address, false, resp.Header.Get("WWW-Authenticate")))
		if err != nil {
			return nil, DispositionFailure, l.fail(syncerrors.DomainNetwork, 401, "no credentials for challenge")
		}
		l.originCreds = &creds
		req, err := l.buildUpgradeRequest()
		if err != nil {
			return nil, DispositionFailure, err
		}
		return req, DispositionAuthenticate, nil

	default:
		return nil, DispositionFailure, l.fail(syncerrors.DomainNetwork, resp.StatusCode, "unexpected response to upgrade request")
	}
}

func (l *Logic) fail(domain syncerrors.Domain, code int, msg string) error {
	l.err = syncerrors.New(domain, code, msg)
	return l.err
}

// Err returns the terminal failure, if Step/Start has returned
// DispositionFailure.
func (l *Logic) Err() error { return l.err }

// Address returns the address currently being attempted (follows
// redirects).
func (l *Logic) Address() *url.URL { return l.address }

// validAccept checks the Sec-WebSocket-Accept value against this attempt's
// nonce per RFC 6455 §1.3.
func (l *Logic) validAccept(accept string) bool {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(base64.StdEncoding.EncodeToString(l.nonce[:])))
	h.Write([]byte(websocketGUID))
	want := base64.StdEncoding.EncodeToString(h.Sum(nil))
	return accept == want
}

func challengeFrom(addr *url.URL, forProxy bool, header string) AuthChallenge {
	typ, kv := parseChallengeHeader(header)
	return AuthChallenge{Address: addr, ForProxy: forProxy, Type: typ, Key: "realm", Value: kv}
}

// parseChallengeHeader splits "Basic realm=\"foo\"" into ("Basic", "foo").
// Unrecognized shapes fall back to returning the raw header as the value so
// callers still have something to inspect.
func parseChallengeHeader(header string) (scheme, realm string) {
	header = strings.TrimSpace(header)
	sp := strings.IndexByte(header, ' ')
	if sp < 0 {
		return header, header
	}
	scheme = header[:sp]
	rest := header[sp+1:]
	const marker = "realm="
	if idx := strings.Index(rest, marker); idx >= 0 {
		realm = strings.Trim(rest[idx+len(marker):], `"`)
		if end := strings.IndexByte(realm, ','); end >= 0 {
			realm = realm[:end]
		}
	}
	if realm == "" {
		realm = header
	}
	return scheme, realm
}

// NewProxyConfigFromEnv builds an httpproxy.Config from the process
// environment (HTTP_PROXY/HTTPS_PROXY/NO_PROXY and lowercase variants), the
// same resolution golang.org/x/net/http/httpproxy already provides.
func NewProxyConfigFromEnv() *httpproxy.Config {
	cfg := httpproxy.FromEnvironment()
	return cfg
}

// NewStaticProxyConfig builds a Config from fixed HTTP/HTTPS proxy URLs and
// a no-proxy list, regardless of environment, for explicit syncconfig.Proxy
// settings.
func NewStaticProxyConfig(httpProxy, httpsProxy, noProxy string) *httpproxy.Config {
	return &httpproxy.Config{HTTPProxy: httpProxy, HTTPSProxy: httpsProxy, NoProxy: noProxy}
}
