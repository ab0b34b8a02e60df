// Package memo owns the bridge's short-term state: the outbound message
// pipeline with echo correlation, and the pending add-request table.
package memo

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mkixlab/mkxi/pkg/config"
	"github.com/mkixlab/mkxi/pkg/errs"
	"github.com/mkixlab/mkxi/pkg/logger"
	"github.com/mkixlab/mkxi/pkg/model"
	"github.com/mkixlab/mkxi/pkg/utils"
)

// Per-type echo deadlines. Text acks arrive fast; image and file frames
// leave the server more work to do.
const (
	timeLimitText = 1 * time.Second
	timeLimitImg  = 3 * time.Second
	timeLimitFile = 10 * time.Second

	// batchDeadline bounds one whole PostMessages call.
	batchDeadline = 30 * time.Second

	queueCapacity = 64
)

// Sender writes one JSON frame to the MkIX socket.
type Sender interface {
	Send(v interface{}) error
}

// Uploader is the REST side-channel for file/audio payloads.
type Uploader interface {
	PostFile(ctx context.Context, group, groupType string, payload []byte, payloadType string) (string, error)
}

type groupRef struct {
	kind  string // "group" or "friend"
	group string
}

type batch struct {
	frames []model.MkIXPostMessage
	reply  chan interface{} // first successful message id, or -1
}

// MessageMemo is the single outbound pipeline. One consumer goroutine
// drains the queue, so frames within a batch are sent strictly in order
// with consecutive echo ids.
type MessageMemo struct {
	cfg      *config.Config
	link     Sender
	uploader Uploader

	// WebPEncode optionally re-encodes an image data-URI before sending.
	// Nil means no re-encoding; failures fall back to the original.
	WebPEncode func(string) (string, error)

	mu            sync.Mutex
	echoID        int64
	waitEcho      map[int64]chan string
	messageChunk  map[string][]string
	messageGroup  map[string]groupRef
	capacityQueue []string

	queue chan batch
	stop  chan struct{}
	once  sync.Once
}

func NewMessageMemo(cfg *config.Config, link Sender, uploader Uploader) *MessageMemo {
	m := &MessageMemo{
		cfg:          cfg,
		link:         link,
		uploader:     uploader,
		waitEcho:     make(map[int64]chan string),
		messageChunk: make(map[string][]string),
		messageGroup: make(map[string]groupRef),
		queue:        make(chan batch, queueCapacity),
		stop:         make(chan struct{}),
	}
	go m.consume()
	return m
}

// Close stops the consumer. Pending batches are abandoned.
func (m *MessageMemo) Close() {
	m.once.Do(func() { close(m.stop) })
}

// ReceiveChat records an inbound message so a later delete_msg can find its
// group. Retention is FIFO and bounded by max_memo_size.
func (m *MessageMemo) ReceiveChat(msg *model.MkIXGetMessage, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messageGroup[msg.Time] = groupRef{kind: kind, group: msg.Group}
	m.messageChunk[msg.Time] = []string{msg.Time}
	m.capacityQueue = append(m.capacityQueue, msg.Time)

	if len(m.capacityQueue) >= m.cfg.MaxMemoSize {
		evicted := m.capacityQueue[0]
		m.capacityQueue = m.capacityQueue[1:]
		delete(m.messageGroup, evicted)
		for _, sibling := range m.messageChunk[evicted] {
			delete(m.messageChunk, sibling)
		}
	}
}

// ReceiveEcho satisfies the waiter parked on the ack's echo id.
func (m *MessageMemo) ReceiveEcho(msg *model.MkIXSystemMessage) {
	var reply model.EchoReply
	if err := json.Unmarshal([]byte(msg.Payload), &reply); err != nil {
		logger.WarnCF("memo", "Malformed echo payload", map[string]interface{}{
			"payload": msg.Payload,
			"error":   err.Error(),
		})
		return
	}

	m.mu.Lock()
	ch, ok := m.waitEcho[reply.Echo]
	if ok {
		delete(m.waitEcho, reply.Echo)
	}
	m.mu.Unlock()

	if ok {
		ch <- reply.Time
	}
}

// GetStorage looks up a recorded message and removes it together with all
// its siblings. Used by delete_msg.
func (m *MessageMemo) GetStorage(messageID string) (kind, group string, siblings []string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, ok := m.messageGroup[messageID]
	if !ok {
		return "", "", nil, errs.New(errs.NotFound, "message_id %s not found", messageID)
	}

	siblings = m.messageChunk[messageID]
	for _, sibling := range siblings {
		delete(m.messageChunk, sibling)
	}
	delete(m.messageGroup, messageID)

	return ref.kind, ref.group, siblings, nil
}

// PostMessages enqueues one logical message (a batch of frames) and waits
// for the consumer's verdict. The reply data mirrors OneBot send_* results.
func (m *MessageMemo) PostMessages(ctx context.Context, frames []model.MkIXPostMessage, action string) (map[string]interface{}, error) {
	b := batch{frames: frames, reply: make(chan interface{}, 1)}

	deadline := time.NewTimer(batchDeadline)
	defer deadline.Stop()

	select {
	case m.queue <- b:
	case <-deadline.C:
		return nil, errs.New(errs.Timeout, "pipeline queue full")
	case <-ctx.Done():
		return nil, errs.Wrap(errs.Timeout, ctx.Err(), "post cancelled")
	}

	select {
	case ret := <-b.reply:
		switch action {
		case "send_private_forward_msg", "send_group_forward_msg":
			return map[string]interface{}{"message_id": ret, "forward_id": ret}, nil
		}
		return map[string]interface{}{"message_id": ret}, nil
	case <-deadline.C:
		return nil, errs.New(errs.Timeout, "no pipeline reply within %s", batchDeadline)
	case <-ctx.Done():
		return nil, errs.Wrap(errs.Timeout, ctx.Err(), "post cancelled")
	}
}

func (m *MessageMemo) consume() {
	for {
		select {
		case <-m.stop:
			return
		case b := <-m.queue:
			m.processBatch(b)
		}
	}
}

func (m *MessageMemo) processBatch(b batch) {
	var messageIDs []string

	for i := range b.frames {
		frame := &b.frames[i]

		m.mu.Lock()
		frame.Echo = m.echoID
		m.echoID++
		m.mu.Unlock()

		var res string
		if frame.Type == "file" || frame.Type == "audio" {
			res = m.sendViaUpload(frame)
		} else {
			res = m.sendViaSocket(frame)
		}

		if res != "" {
			logger.InfoCF("memo", "Frame confirmed", map[string]interface{}{
				"echo":       frame.Echo,
				"message_id": res,
			})
			messageIDs = append(messageIDs, res)
		} else {
			logger.ErrorCF("memo", "Frame failed", map[string]interface{}{
				"echo": frame.Echo,
				"type": frame.Type,
			})
		}
	}

	m.mu.Lock()
	for _, id := range messageIDs {
		m.messageChunk[id] = messageIDs
	}
	m.mu.Unlock()

	if len(messageIDs) == 0 {
		b.reply <- -1
		return
	}
	b.reply <- messageIDs[0]
}

// sendViaUpload pushes file/audio content through the REST side-channel;
// the upload reply's time is the message id.
func (m *MessageMemo) sendViaUpload(frame *model.MkIXPostMessage) string {
	ctx, cancel := context.WithTimeout(context.Background(), timeLimitFile)
	defer cancel()

	t, err := m.uploader.PostFile(ctx, frame.Group, frame.GroupType, []byte(frame.Payload.Content), frame.Type)
	if err != nil {
		logger.ErrorCF("memo", "Upload failed", map[string]interface{}{
			"echo":  frame.Echo,
			"group": frame.Group,
			"error": err.Error(),
		})
		return ""
	}
	return t
}

// sendViaSocket applies the optional WebP and encryption passes, writes the
// frame to the MkIX link, and waits for its echo ack.
func (m *MessageMemo) sendViaSocket(frame *model.MkIXPostMessage) string {
	// The server expects meta to be an object, never null.
	if frame.Payload.Meta == nil {
		frame.Payload.Meta = map[string]interface{}{}
	}
	if frame.Type == "image" && m.cfg.WebP && m.WebPEncode != nil {
		if converted, err := m.WebPEncode(frame.Payload.Content); err == nil {
			frame.Payload.Content = converted
		} else {
			logger.WarnCF("memo", "WebP conversion failed, sending original", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if frame.Type == "text" || frame.Type == "image" {
		if key, ok := m.cfg.EncryptKey(frame.Group); ok {
			if err := utils.SealMessage(key, frame); err != nil {
				logger.ErrorCF("memo", "Encrypt failed", map[string]interface{}{
					"echo":  frame.Echo,
					"group": frame.Group,
					"error": err.Error(),
				})
				return ""
			}
		}
	}

	ch := make(chan string, 1)
	m.mu.Lock()
	m.waitEcho[frame.Echo] = ch
	m.mu.Unlock()

	if err := m.link.Send(frame); err != nil {
		m.mu.Lock()
		delete(m.waitEcho, frame.Echo)
		m.mu.Unlock()
		logger.ErrorCF("memo", "Socket write failed", map[string]interface{}{
			"echo":  frame.Echo,
			"error": err.Error(),
		})
		return ""
	}

	limit := time.NewTimer(timeLimit(frame.Type))
	defer limit.Stop()

	select {
	case t := <-ch:
		return t
	case <-limit.C:
		m.mu.Lock()
		delete(m.waitEcho, frame.Echo)
		m.mu.Unlock()
		logger.ErrorCF("memo", "Echo timeout", map[string]interface{}{
			"echo": frame.Echo,
			"type": frame.Type,
		})
		return ""
	}
}

func timeLimit(frameType string) time.Duration {
	switch frameType {
	case "text", "revokeRequest":
		return timeLimitText
	case "image":
		return timeLimitImg
	default:
		return timeLimitFile
	}
}
