package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkixlab/mkxi/pkg/config"
	"github.com/mkixlab/mkxi/pkg/errs"
	"github.com/mkixlab/mkxi/pkg/event"
	"github.com/mkixlab/mkxi/pkg/memo"
	"github.com/mkixlab/mkxi/pkg/model"
	"github.com/mkixlab/mkxi/pkg/ws"
)

type nopUploader struct{}

func (nopUploader) PostFile(ctx context.Context, group, groupType string, payload []byte, payloadType string) (string, error) {
	return "", nil
}

// onebotServer accepts one websocket upgrade and collects every inbound
// text frame.
func onebotServer(t *testing.T) (*httptest.Server, chan []byte) {
	t.Helper()
	frames := make(chan []byte, 16)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- data
		}
	}))
	t.Cleanup(srv.Close)
	return srv, frames
}

func newTestBridge(t *testing.T, ctx context.Context) *Bridge {
	t.Helper()
	cfg := &config.Config{Account: "999", MaxMemoSize: 100, SSLCheck: true}
	b := &Bridge{
		cfg:      cfg,
		requests: memo.NewRequestMemo(),
		ctx:      ctx,
	}
	b.profile = model.NewMyProfile("999", "bot", "", "0", nil, nil)
	b.selfID = event.SelfID("999")
	b.messages = memo.NewMessageMemo(cfg, b, nopUploader{})
	t.Cleanup(b.messages.Close)
	b.classifier = event.NewClassifier(cfg, b.profile, b.messages, b.requests, "100")
	return b
}

// A chat frame can arrive on the MkIX link while the OneBot dial is still
// in flight; it must be dropped, not crash the process.
func TestMkIXFrameBeforeOneBotLink(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b := newTestBridge(t, ctx)

	chat := []byte(`{"time":"200","type":"text","group":"u7","senderID":"u7","payload":{"content":"early"}}`)
	b.onMkIXFrame(chat)

	srv, frames := onebotServer(t)
	b.cfg.OneBotURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	ob, err := ws.NewOneBotConnect(ctx, b.cfg, func([]byte) {}, nil, nil)
	require.NoError(t, err)
	defer ob.Close()
	b.mu.Lock()
	b.onebot = ob
	b.mu.Unlock()

	b.onMkIXFrame(chat)
	select {
	case raw := <-frames:
		assert.Contains(t, string(raw), `"post_type":"message"`)
		assert.Contains(t, string(raw), `"user_id":"u7"`)
	case <-time.After(3 * time.Second):
		t.Fatal("event never reached the OneBot link")
	}
}

func TestSendBeforeMkIXLink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := newTestBridge(t, ctx)

	err := b.Send(&model.MkIXPostMessage{Type: "text"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.IO))
}
