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

package transport

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/cs3org/revsync/pkg/syncerrors"
	"github.com/cs3org/revsync/pkg/synclog"
)

var log = synclog.New("transport")

// WS is the network Transport: a BLIP-style multiplexed channel running
// over a raw WebSocket connection, with RFC 6455 framing done directly
// over bufio/net. One WS binary frame carries exactly one BLIP
// envelope; true BLIP interleaves a single large message across several
// frames, but nothing in this module's testable properties depends on
// sub-message interleaving, so this simplification is noted rather than
// built.
type WS struct {
	conn     net.Conn
	br       *bufio.Reader
	isClient bool // clients mask outgoing frames, servers don't (RFC 6455 §5.1)

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan *Message

	counter uint64

	mu      sync.Mutex
	handler Handler
	onClose func(code int, reason string)
	closed  bool

	// window bounds the number of in-flight (sent, unacknowledged) request
	// messages, the pusher's backpressure mechanism.
	window chan struct{}
}

// NewWS wraps conn (already upgraded per pkg/httplogic's Disposition) as a
// multiplexed Transport. isClient must be true on the side that sent the
// upgrade request (it masks outgoing frames per RFC 6455). windowSize
// bounds in-flight unacknowledged sends; 0 means DefaultWindow.
func NewWS(conn net.Conn, isClient bool, windowSize int) *WS {
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}
	w := &WS{
		conn:     conn,
		br:       bufio.NewReader(conn),
		isClient: isClient,
		pending:  map[uint64]chan *Message{},
		window:   make(chan struct{}, windowSize),
	}
	go w.readLoop()
	return w
}

// DefaultWindow is the default outbound in-flight message cap.
const DefaultWindow = 32

const (
	wsOpBinary = 0x2
	wsOpClose  = 0x8
	wsOpPing   = 0x9
	wsOpPong   = 0xA
)

// Send implements Transport.
func (w *WS) Send(ctx context.Context, req *Message) (*Message, error) {
	select {
	case w.window <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-w.window }()

	w.pendingMu.Lock()
	w.counter++
	req.Number = w.counter
	var replyCh chan *Message
	if req.Flags&FlagNoReply == 0 {
		replyCh = make(chan *Message, 1)
		w.pending[req.Number] = replyCh
	}
	w.pendingMu.Unlock()

	payload := encodeEnvelope(false, req)
	if err := w.writeFrame(wsOpBinary, payload); err != nil {
		w.cleanupPending(req.Number)
		return nil, syncerrors.Wrap(syncerrors.DomainNetwork, 0, err)
	}
	if replyCh == nil {
		return nil, nil
	}

	select {
	case resp := <-replyCh:
		return resp, nil
	case <-ctx.Done():
		w.cleanupPending(req.Number)
		return nil, ctx.Err()
	}
}

func (w *WS) cleanupPending(number uint64) {
	w.pendingMu.Lock()
	delete(w.pending, number)
	w.pendingMu.Unlock()
}

// OnRequest implements Transport.
func (w *WS) OnRequest(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = h
}

// OnClose implements Transport.
func (w *WS) OnClose(f func(code int, reason string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onClose = f
}

// Close implements Transport, sending a WS close frame before tearing down
// the socket.
func (w *WS) Close(code int, reason string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, uint16(code))
	copy(payload[2:], reason)
	_ = w.writeFrame(wsOpClose, payload)
	return w.conn.Close()
}

func (w *WS) fireClose(code int, reason string) {
	w.mu.Lock()
	already := w.closed
	w.closed = true
	cb := w.onClose
	w.mu.Unlock()
	if !already && cb != nil {
		cb(code, reason)
	}
}

// readLoop dispatches incoming frames: a response frame resolves the
// matching pending Send call, a request frame invokes the registered
// Handler and writes its response back. Messages from the peer are
// processed in the order frames arrive on the socket, preserving the
// per-connection ordering guarantee.
func (w *WS) readLoop() {
	for {
		op, payload, err := w.readFrame()
		if err != nil {
			w.fireClose(1006, err.Error())
			return
		}
		switch op {
		case wsOpClose:
			code := 1000
			reason := ""
			if len(payload) >= 2 {
				code = int(binary.BigEndian.Uint16(payload))
				reason = string(payload[2:])
			}
			w.fireClose(code, reason)
			return
		case wsOpPing:
			_ = w.writeFrame(wsOpPong, payload)
			continue
		case wsOpPong:
			continue
		case wsOpBinary:
			isResponse, msg, err := decodeEnvelope(payload)
			if err != nil {
				log.Warn().Err(err).Msg("dropping malformed BLIP envelope")
				continue
			}
			if isResponse {
				w.pendingMu.Lock()
				ch, ok := w.pending[msg.Number]
				if ok {
					delete(w.pending, msg.Number)
				}
				w.pendingMu.Unlock()
				if ok {
					ch <- msg
				}
				continue
			}
			go w.dispatchRequest(msg)
		}
	}
}

func (w *WS) dispatchRequest(req *Message) {
	w.mu.Lock()
	h := w.handler
	w.mu.Unlock()
	if h == nil {
		return
	}
	resp := h(context.Background(), req)
	if req.Flags&FlagNoReply != 0 || resp == nil {
		return
	}
	resp.Number = req.Number
	payload := encodeEnvelope(true, resp)
	if err := w.writeFrame(wsOpBinary, payload); err != nil {
		log.Warn().Err(err).Msg("failed to write BLIP response frame")
	}
}

// writeFrame emits one unfragmented WS frame (RFC 6455 §5.2). Client frames
// must be masked with a random 32-bit key.
func (w *WS) writeFrame(opcode byte, payload []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	var header []byte
	first := byte(0x80) | opcode // FIN=1

	n := len(payload)
	switch {
	case n <= 125:
		header = []byte{first, byte(n)}
	case n <= 0xFFFF:
		header = []byte{first, 126, 0, 0}
		binary.BigEndian.PutUint16(header[2:], uint16(n))
	default:
		header = make([]byte, 10)
		header[0], header[1] = first, 127
		binary.BigEndian.PutUint64(header[2:], uint64(n))
	}

	if w.isClient {
		header[1] |= 0x80
		var mask [4]byte
		if _, err := rand.Read(mask[:]); err != nil {
			return err
		}
		masked := make([]byte, n)
		for i, b := range payload {
			masked[i] = b ^ mask[i%4]
		}
		if _, err := w.conn.Write(append(header, mask[:]...)); err != nil {
			return err
		}
		_, err := w.conn.Write(masked)
		return err
	}

	if _, err := w.conn.Write(header); err != nil {
		return err
	}
	_, err := w.conn.Write(payload)
	return err
}

// readFrame reads one WS frame, unmasking it if the peer masked it (server
// reading from a client always sees masked frames; a client reading from a
// server never does, per RFC 6455 §5.1).
func (w *WS) readFrame() (opcode byte, payload []byte, err error) {
	var head [2]byte
	if _, err = io.ReadFull(w.br, head[:]); err != nil {
		return 0, nil, err
	}
	opcode = head[0] & 0x0F
	masked := head[1]&0x80 != 0
	length := uint64(head[1] & 0x7F)

	switch length {
	case 126:
		var ext [2]byte
		if _, err = io.ReadFull(w.br, ext[:]); err != nil {
			return 0, nil, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err = io.ReadFull(w.br, ext[:]); err != nil {
			return 0, nil, err
		}
		length = binary.BigEndian.Uint64(ext[:])
	}

	var maskKey [4]byte
	if masked {
		if _, err = io.ReadFull(w.br, maskKey[:]); err != nil {
			return 0, nil, err
		}
	}

	payload = make([]byte, length)
	if _, err = io.ReadFull(w.br, payload); err != nil {
		return 0, nil, err
	}
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}
	return opcode, payload, nil
}

// encodeEnvelope/decodeEnvelope implement the BLIP message envelope carried
// inside one WS frame: a response marker, message number, flags, profile,
// properties and body, each length-prefixed with a uvarint.
func encodeEnvelope(isResponse bool, m *Message) []byte {
	buf := make([]byte, 0, 64+len(m.Body))
	if isResponse {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendUvarint(buf, m.Number)
	buf = append(buf, byte(m.Flags))
	buf = appendString(buf, m.Profile)
	buf = appendUvarint(buf, uint64(len(m.Properties)))
	for k, v := range m.Properties {
		buf = appendString(buf, k)
		buf = appendString(buf, v)
	}
	buf = appendUvarint(buf, uint64(len(m.Body)))
	buf = append(buf, m.Body...)
	return buf
}

func decodeEnvelope(b []byte) (isResponse bool, m *Message, err error) {
	r := &byteReader{b: b}
	flagByte, ok := r.byte_()
	if !ok {
		return false, nil, syncerrors.CorruptData("truncated envelope")
	}
	isResponse = flagByte == 1

	number, ok := r.uvarint()
	if !ok {
		return false, nil, syncerrors.CorruptData("truncated envelope number")
	}
	flags, ok := r.byte_()
	if !ok {
		return false, nil, syncerrors.CorruptData("truncated envelope flags")
	}
	profile, ok := r.string_()
	if !ok {
		return false, nil, syncerrors.CorruptData("truncated envelope profile")
	}
	propCount, ok := r.uvarint()
	if !ok {
		return false, nil, syncerrors.CorruptData("truncated envelope property count")
	}
	props := make(map[string]string, propCount)
	for i := uint64(0); i < propCount; i++ {
		k, ok := r.string_()
		if !ok {
			return false, nil, syncerrors.CorruptData("truncated envelope property key")
		}
		v, ok := r.string_()
		if !ok {
			return false, nil, syncerrors.CorruptData("truncated envelope property value")
		}
		props[k] = v
	}
	bodyLen, ok := r.uvarint()
	if !ok {
		return false, nil, syncerrors.CorruptData("truncated envelope body length")
	}
	body, ok := r.bytes(int(bodyLen))
	if !ok {
		return false, nil, syncerrors.CorruptData("truncated envelope body")
	}

	return isResponse, &Message{
		Number:     number,
		Profile:    profile,
		Properties: props,
		Body:       body,
		Flags:      Flags(flags),
	}, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// byteReader is a minimal cursor over a byte slice for envelope decoding.
type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) byte_() (byte, bool) {
	if r.pos >= len(r.b) {
		return 0, false
	}
	b := r.b[r.pos]
	r.pos++
	return b, true
}

func (r *byteReader) uvarint() (uint64, bool) {
	v, n := binary.Uvarint(r.b[r.pos:])
	if n <= 0 {
		return 0, false
	}
	r.pos += n
	return v, true
}

func (r *byteReader) bytes(n int) ([]byte, bool) {
	if n < 0 || r.pos+n > len(r.b) {
		return nil, false
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, true
}

func (r *byteReader) string_() (string, bool) {
	n, ok := r.uvarint()
	if !ok {
		return "", false
	}
	b, ok := r.bytes(int(n))
	if !ok {
		return "", false
	}
	return string(b), true
}
