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

// Package transport provides a bidirectional, multiplexed, BLIP-style
// message channel. Two implementations are provided: Loopback, an
// in-process pair used by tests, and the WebSocket-framed network transport in wsframe.go, driven by the
// upgrade decisions pkg/httplogic produces.
package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cs3org/revsync/pkg/syncerrors"
)

// Flags are the per-message flag bits.
type Flags uint8

// Message flag bits.
const (
	FlagCompressed Flags = 1 << iota
	FlagNoReply
	FlagUrgent
	FlagError
)

// Message is an abstract BLIP-style request or response.
type Message struct {
	Number     uint64
	Profile    string
	Properties map[string]string
	Body       []byte
	Flags      Flags
}

// IsError reports whether this message carries an error response.
func (m *Message) IsError() bool { return m.Flags&FlagError != 0 }

// Handler processes an incoming request and returns the response to send
// back (nil for a NoReply-flagged request with nothing to say).
type Handler func(ctx context.Context, req *Message) *Message

// Transport is the bidirectional multiplexed channel the replication engine
// runs its BLIP exchange over.
type Transport interface {
	// Send dispatches req and blocks (respecting ctx) for its matching
	// response, unless req has FlagNoReply set, in which case it returns
	// immediately with a nil response.
	Send(ctx context.Context, req *Message) (*Message, error)
	// OnRequest registers the handler invoked for messages the peer
	// initiates. Exactly one handler is active at a time.
	OnRequest(h Handler)
	// Close tears the channel down, delivering code/reason to the peer if
	// the underlying transport supports it.
	Close(code int, reason string) error
	// OnClose registers a callback invoked once, when the channel closes
	// for any reason (local Close, peer close, or fatal I/O error).
	OnClose(func(code int, reason string))
}

// Loopback is an in-process Transport pair: messages sent on one end are
// delivered, in send order, to the other end's request handler, and its
// handler's return value becomes the Send call's response. Ordering is
// trivially send order; the two-replicator tests run against this.
type Loopback struct {
	name string
	peer *Loopback

	mu      sync.Mutex
	handler Handler
	onClose func(code int, reason string)
	closed  bool

	counter atomic.Uint64
}

// NewLoopbackPair returns two Loopback ends, each other's peer.
func NewLoopbackPair() (a, b *Loopback) {
	a = &Loopback{name: "a"}
	b = &Loopback{name: "b"}
	a.peer = b
	b.peer = a
	return a, b
}

// Send implements Transport.
func (l *Loopback) Send(ctx context.Context, req *Message) (*Message, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, syncerrors.New(syncerrors.DomainNetwork, 0, "transport closed")
	}
	l.mu.Unlock()

	if req.Number == 0 {
		req.Number = l.counter.Add(1)
	}

	l.peer.mu.Lock()
	h := l.peer.handler
	l.peer.mu.Unlock()
	if h == nil {
		return nil, syncerrors.New(syncerrors.DomainNetwork, 0, "peer has no request handler registered")
	}

	resp := h(ctx, req)
	if req.Flags&FlagNoReply != 0 {
		return nil, nil
	}
	return resp, nil
}

// OnRequest implements Transport.
func (l *Loopback) OnRequest(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

// OnClose implements Transport.
func (l *Loopback) OnClose(f func(code int, reason string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onClose = f
}

// Close implements Transport. Closing one end only affects that end; the
// peer keeps working until its own Close is called, mirroring a real
// connection where either side may half-close.
func (l *Loopback) Close(code int, reason string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	cb := l.onClose
	l.mu.Unlock()
	if cb != nil {
		cb(code, reason)
	}
	return nil
}
