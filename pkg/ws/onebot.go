package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkixlab/mkxi/pkg/config"
	"github.com/mkixlab/mkxi/pkg/logger"
)

// HeartbeatInterval is the cadence of OneBot heartbeat meta-events.
const HeartbeatInterval = 30 * time.Second

// OneBotConnect is the reverse-WebSocket link to the upstream OneBot
// client. After every handshake it announces itself with a lifecycle
// meta-event and keeps a heartbeat running while the link is up.
type OneBotConnect struct {
	*session
}

// NewOneBotConnect dials the OneBot endpoint and blocks until the first
// handshake succeeds. lifecycle builds the connect meta-event; heartbeat
// builds one heartbeat meta-event (nil results are skipped).
func NewOneBotConnect(
	ctx context.Context,
	cfg *config.Config,
	onMessage func([]byte),
	lifecycle func() interface{},
	heartbeat func(ctx context.Context) interface{},
) (*OneBotConnect, error) {
	s := newSession(ctx, "onebot")
	s.onMessage = onMessage

	dialer := newDialer(cfg.SSLCheck)
	header := http.Header{
		"X-Self-ID":     {cfg.Account},
		"X-Client-Role": {"Universal"},
	}
	s.dial = func(dctx context.Context) (*websocket.Conn, error) {
		conn, _, err := dialer.DialContext(dctx, cfg.OneBotURL, header)
		return conn, err
	}

	ob := &OneBotConnect{session: s}
	s.onConnected = func(cctx context.Context) {
		if lifecycle != nil {
			if err := ob.Send(lifecycle()); err != nil {
				logger.WarnCF("onebot", "Lifecycle event failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
		if heartbeat != nil {
			ob.heartbeatLoop(cctx, heartbeat)
		}
	}

	go s.run()
	if err := s.waitReady(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return ob, nil
}

func (ob *OneBotConnect) heartbeatLoop(ctx context.Context, heartbeat func(ctx context.Context) interface{}) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			event := heartbeat(ctx)
			if event == nil {
				continue
			}
			if err := ob.Send(event); err != nil {
				logger.DebugCF("onebot", "Heartbeat send failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}
