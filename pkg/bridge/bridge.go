// Package bridge wires the MkIX account, the two sockets, the memos, and the
// OneBot surfaces into one running process.
package bridge

import (
	"context"
	"sync"

	"github.com/mkixlab/mkxi/pkg/action"
	"github.com/mkixlab/mkxi/pkg/api"
	"github.com/mkixlab/mkxi/pkg/config"
	"github.com/mkixlab/mkxi/pkg/errs"
	"github.com/mkixlab/mkxi/pkg/event"
	"github.com/mkixlab/mkxi/pkg/logger"
	"github.com/mkixlab/mkxi/pkg/memo"
	"github.com/mkixlab/mkxi/pkg/model"
	"github.com/mkixlab/mkxi/pkg/utils"
	"github.com/mkixlab/mkxi/pkg/ws"
)

// Bridge is the assembled bot: one MkIX account exposed as one OneBot
// reverse-WebSocket client.
type Bridge struct {
	cfg     *config.Config
	api     *api.Client
	profile *model.MyProfile
	selfID  interface{}

	messages   *memo.MessageMemo
	requests   *memo.RequestMemo
	classifier *event.Classifier
	dispatcher *action.Dispatcher

	// The MkIX reader starts delivering frames before the OneBot dial
	// completes, so both link pointers are read through mu and may be nil.
	mu     sync.Mutex
	mkix   *ws.MkIXConnect
	onebot *ws.OneBotConnect

	ctx context.Context
}

// Send forwards one outbound frame to the MkIX socket. The pipeline is
// wired before the socket exists, so the link is resolved per call.
func (b *Bridge) Send(v interface{}) error {
	b.mu.Lock()
	link := b.mkix
	b.mu.Unlock()
	if link == nil {
		return errs.New(errs.IO, "mkix socket not connected")
	}
	return link.Send(v)
}

// Run boots the bridge and blocks until ctx is cancelled. Both sockets
// reconnect on their own; only login or the first handshakes can fail here.
func Run(ctx context.Context, cfg *config.Config) error {
	b := &Bridge{
		cfg:      cfg,
		api:      api.NewClient(cfg),
		requests: memo.NewRequestMemo(),
		ctx:      ctx,
	}

	token, err := b.api.Login(ctx)
	if err != nil {
		return err
	}
	cfg.Token = "Bearer " + token

	p, err := b.api.GetMyProfile(ctx)
	if err != nil {
		return err
	}
	b.profile = model.NewMyProfile(p.UUID, p.Username, p.Bio, p.LastUpdate, p.GroupIDs(), p.FriendIDs())
	b.selfID = event.SelfID(p.UUID)
	logger.InfoCF("bridge", "Logged in", map[string]interface{}{
		"account":  cfg.Account,
		"uuid":     p.UUID,
		"username": p.Username,
		"groups":   len(p.Groups),
		"friends":  len(p.Friends),
	})

	// Frames older than this belong to a previous run and are ignored.
	launchTime := utils.Timestamp()

	// The whole pipeline must exist before the MkIX reader goes live; its
	// first frame can arrive during the handshake.
	b.messages = memo.NewMessageMemo(cfg, b, b.api)
	defer b.messages.Close()
	b.classifier = event.NewClassifier(cfg, b.profile, b.messages, b.requests, launchTime)
	b.dispatcher = action.NewDispatcher(cfg, b.api, b.messages, b.requests, b.profile)

	mkix, err := ws.NewMkIXConnect(ctx, cfg, b.api.WSToken, b.onMkIXFrame)
	if err != nil {
		return err
	}
	defer mkix.Close()
	b.mu.Lock()
	b.mkix = mkix
	b.mu.Unlock()
	cfg.WSCheck = mkix.CanSend

	onebot, err := ws.NewOneBotConnect(ctx, cfg, b.onActionFrame,
		func() interface{} { return event.Lifecycle(b.selfID) },
		b.heartbeat,
	)
	if err != nil {
		return err
	}
	defer onebot.Close()
	b.mu.Lock()
	b.onebot = onebot
	b.mu.Unlock()

	b.replayPendingRequests()

	logger.InfoC("bridge", "Bridge running")
	<-ctx.Done()
	return ctx.Err()
}

// onMkIXFrame classifies one inbound MkIX frame and forwards the resulting
// event, if any, to the OneBot client.
func (b *Bridge) onMkIXFrame(raw []byte) {
	ev, err := b.classifier.Classify(raw)
	if err != nil {
		logger.WarnCF("bridge", "Frame dropped", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if ev == nil {
		return
	}
	upstream := b.upstream()
	if upstream == nil {
		logger.DebugC("bridge", "OneBot link not up yet, dropping event")
		return
	}
	if err := upstream.Send(ev); err != nil {
		logger.WarnCF("bridge", "Event delivery failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// onActionFrame executes one OneBot action and writes the reply envelope
// back on the same socket.
func (b *Bridge) onActionFrame(raw []byte) {
	resp := b.dispatcher.Dispatch(b.ctx, raw)
	upstream := b.upstream()
	if upstream == nil {
		logger.WarnC("bridge", "OneBot link not up yet, dropping action reply")
		return
	}
	if err := upstream.Send(resp); err != nil {
		logger.WarnCF("bridge", "Action reply failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (b *Bridge) upstream() *ws.OneBotConnect {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.onebot
}

func (b *Bridge) heartbeat(ctx context.Context) interface{} {
	status, err := b.api.Status(ctx)
	if err != nil {
		return nil
	}
	return event.Heartbeat(b.selfID, status)
}

// replayPendingRequests asks the server to re-emit add requests that arrived
// while the bridge was down. The replies come back over the socket as normal
// frames; errors here only cost the replay.
func (b *Bridge) replayPendingRequests() {
	go func() {
		if err := b.api.GetFriendRequests(b.ctx); err != nil {
			logger.WarnCF("bridge", "Friend request replay failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
	for _, group := range b.profile.Groups() {
		group := group
		go func() {
			if err := b.api.GetGroupRequests(b.ctx, group); err != nil {
				logger.WarnCF("bridge", "Group request replay failed", map[string]interface{}{
					"group": group,
					"error": err.Error(),
				})
			}
		}()
	}
}
