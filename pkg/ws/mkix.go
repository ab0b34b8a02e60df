package ws

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/mkixlab/mkxi/pkg/config"
)

// TokenSource provides a fresh socket credential; called once per dial
// attempt because MkIX socket tokens are short-lived.
type TokenSource func(ctx context.Context) (string, error)

// MkIXConnect is the persistent link to the MkIX message stream.
type MkIXConnect struct {
	*session
}

// NewMkIXConnect dials the MkIX socket and blocks until the first
// handshake succeeds (or ctx expires). The returned session keeps itself
// connected in the background.
func NewMkIXConnect(ctx context.Context, cfg *config.Config, tokens TokenSource, onMessage func([]byte)) (*MkIXConnect, error) {
	s := newSession(ctx, "mkix")
	s.onMessage = onMessage

	dialer := newDialer(cfg.SSLCheck)
	url := cfg.WebSocketURL()
	s.dial = func(dctx context.Context) (*websocket.Conn, error) {
		token, err := tokens(dctx)
		if err != nil {
			return nil, err
		}
		header := http.Header{"Authorization": {token}}
		conn, _, err := dialer.DialContext(dctx, url, header)
		return conn, err
	}

	go s.run()
	if err := s.waitReady(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return &MkIXConnect{session: s}, nil
}
