// Package ws holds the two long-lived framed-JSON links: the MkIX message
// stream and the OneBot client socket. Both share one session core with
// reconnection, readiness gating, and ping-pong liveness.
package ws

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkixlab/mkxi/pkg/errs"
	"github.com/mkixlab/mkxi/pkg/logger"
)

const (
	reconnectDelay   = 5 * time.Second
	handshakeTimeout = 10 * time.Second
	pingTimeout      = 5 * time.Second

	// maxFrameSize caps one JSON frame; image payloads travel inline as
	// base64 so the limit is generous.
	maxFrameSize = 8 << 20
)

type session struct {
	name string

	// dial opens a fresh connection; called once per attempt so it can
	// acquire fresh credentials.
	dial func(ctx context.Context) (*websocket.Conn, error)

	// onMessage receives each raw inbound frame on a detached goroutine.
	onMessage func(data []byte)

	// onConnected, when set, runs on its own goroutine after every
	// successful handshake; its context is cancelled when the link drops.
	onConnected func(ctx context.Context)

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	pingMu  sync.Mutex

	ready     atomic.Bool
	readyCh   chan struct{}
	readyOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	pong   chan struct{}
}

func newSession(ctx context.Context, name string) *session {
	sctx, cancel := context.WithCancel(ctx)
	return &session{
		name:    name,
		readyCh: make(chan struct{}),
		ctx:     sctx,
		cancel:  cancel,
		pong:    make(chan struct{}, 1),
	}
}

func newDialer(sslCheck bool) *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: !sslCheck},
	}
}

// run owns the connection for the session's whole life: dial, read until
// failure, back off, repeat. Only context cancellation ends it.
func (s *session) run() {
	for {
		if s.ctx.Err() != nil {
			return
		}

		conn, err := s.dial(s.ctx)
		if err != nil {
			logger.WarnCF(s.name, "Connect failed, retrying", map[string]interface{}{
				"error": err.Error(),
				"delay": reconnectDelay.String(),
			})
			if !sleepCtx(s.ctx, reconnectDelay) {
				return
			}
			continue
		}

		conn.SetReadLimit(maxFrameSize)
		conn.SetPongHandler(func(string) error {
			select {
			case s.pong <- struct{}{}:
			default:
			}
			return nil
		})

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.ready.Store(true)
		s.readyOnce.Do(func() { close(s.readyCh) })
		logger.InfoC(s.name, "WebSocket connected")

		connCtx, connCancel := context.WithCancel(s.ctx)
		if s.onConnected != nil {
			go s.onConnected(connCtx)
		}

		s.readLoop(conn)

		connCancel()
		s.ready.Store(false)
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		conn.Close()

		if !sleepCtx(s.ctx, reconnectDelay) {
			return
		}
	}
}

func (s *session) readLoop(conn *websocket.Conn) {
	for {
		if s.ctx.Err() != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.WarnCF(s.name, "WebSocket read error", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		go s.onMessage(data)
	}
}

// Send serializes v and writes one frame. Safe for concurrent producers.
func (s *session) Send(v interface{}) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errs.New(errs.IO, "%s socket not connected", s.name)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return errs.Wrap(errs.Protocol, err, "marshal frame")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return errs.Wrap(errs.IO, conn.WriteMessage(websocket.TextMessage, data), "write frame")
}

// Ready reports whether the link is currently established.
func (s *session) Ready() bool { return s.ready.Load() }

// CanSend probes the link with a ping and reports whether the pong
// round-trips in time. Probes are serialized: the pong channel is shared,
// so a concurrent probe could consume another's reply.
func (s *session) CanSend(ctx context.Context) bool {
	s.pingMu.Lock()
	defer s.pingMu.Unlock()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return false
	}

	// Drain a stale pong from an earlier probe.
	select {
	case <-s.pong:
	default:
	}

	s.writeMu.Lock()
	err := conn.WriteMessage(websocket.PingMessage, nil)
	s.writeMu.Unlock()
	if err != nil {
		return false
	}

	timer := time.NewTimer(pingTimeout)
	defer timer.Stop()
	select {
	case <-s.pong:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// waitReady blocks until the first successful handshake.
func (s *session) waitReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return errs.Wrap(errs.Timeout, ctx.Err(), s.name+" never became ready")
	}
}

// Close tears the session down; the reconnect loop exits.
func (s *session) Close() {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
