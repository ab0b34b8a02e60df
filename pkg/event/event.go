// Package event turns decoded MkIX frames into OneBot v11 events.
package event

import (
	"encoding/json"
	"strconv"

	"github.com/mkixlab/mkxi/pkg/config"
	"github.com/mkixlab/mkxi/pkg/cqcode"
	"github.com/mkixlab/mkxi/pkg/errs"
	"github.com/mkixlab/mkxi/pkg/logger"
	"github.com/mkixlab/mkxi/pkg/memo"
	"github.com/mkixlab/mkxi/pkg/model"
	"github.com/mkixlab/mkxi/pkg/utils"
)

// Classifier routes inbound MkIX frames to typed OneBot events. A nil event
// with a nil error means the frame was consumed or dropped on purpose.
type Classifier struct {
	cfg        *config.Config
	profile    *model.MyProfile
	messages   *memo.MessageMemo
	requests   *memo.RequestMemo
	launchTime string
	selfID     interface{}
}

func NewClassifier(cfg *config.Config, profile *model.MyProfile, messages *memo.MessageMemo, requests *memo.RequestMemo, launchTime string) *Classifier {
	return &Classifier{
		cfg:        cfg,
		profile:    profile,
		messages:   messages,
		requests:   requests,
		launchTime: launchTime,
		selfID:     SelfID(profile.UUID),
	}
}

// SelfID renders the bot uuid the way OneBot clients expect: numeric when
// possible, raw otherwise.
func SelfID(uuid string) interface{} {
	if n, err := strconv.ParseInt(uuid, 10, 64); err == nil {
		return n
	}
	return uuid
}

// Classify decodes one raw MkIX frame and produces its OneBot event, or nil
// when the frame is internal (echo acks), stale, or uninteresting.
func (c *Classifier) Classify(raw []byte) (map[string]interface{}, error) {
	var peek struct {
		Time            string `json:"time"`
		Type            string `json:"type"`
		IsSystemMessage bool   `json:"isSystemMessage"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return nil, errs.Wrap(errs.Protocol, err, "decode frame")
	}

	logger.DebugCF("event", "Receive MkIX frame", map[string]interface{}{
		"type":   peek.Type,
		"system": peek.IsSystemMessage,
	})

	// MkIX times are fixed-width millisecond strings, so the string order
	// is the chronological order.
	if peek.Time < c.launchTime {
		return nil, nil
	}

	if peek.IsSystemMessage {
		var msg model.MkIXSystemMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, errs.Wrap(errs.Protocol, err, "decode system frame")
		}
		return c.classifySystem(&msg)
	}

	var msg model.MkIXGetMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, errs.Wrap(errs.Protocol, err, "decode chat frame")
	}

	// Moderation frames carry their own operation discriminator and must be
	// handled even for groups the profile does not list yet (a join notice
	// is exactly such a frame) and even when the bot itself triggered the
	// operation.
	if msg.Type == "system" {
		return c.classifySystemChat(&msg), nil
	}

	// The server mirrors the bot's own messages back; they are not events.
	if msg.SenderID == c.profile.UUID {
		return nil, nil
	}

	if !c.decryptInbound(&msg) {
		return nil, nil
	}

	if c.profile.HasGroup(msg.Group) {
		return c.classifyGroup(&msg)
	}
	return c.classifyPrivate(&msg)
}

// decryptInbound undoes AES-CBC group encryption in place. It reports false
// when the content cannot be recovered, which drops the frame.
func (c *Classifier) decryptInbound(msg *model.MkIXGetMessage) bool {
	if msg.Payload.Meta == nil {
		return true
	}
	encrypted, _ := msg.Payload.Meta["encrypt"].(bool)
	if !encrypted {
		return true
	}

	key, ok := c.cfg.EncryptKey(msg.Group)
	if !ok {
		logger.WarnCF("event", "Encrypted frame for group without key, dropping", map[string]interface{}{
			"group": msg.Group,
		})
		return false
	}
	ivHex, _ := msg.Payload.Meta["iv"].(string)

	plain, err := utils.DecryptContent(key, msg.Payload.Content, ivHex)
	if err != nil {
		logger.WarnCF("event", "Decrypt failed, dropping frame", map[string]interface{}{
			"group": msg.Group,
			"error": err.Error(),
		})
		return false
	}
	msg.Payload.Content = string(plain)
	return true
}

func (c *Classifier) classifySystem(msg *model.MkIXSystemMessage) (map[string]interface{}, error) {
	switch msg.Type {
	case "echo":
		c.messages.ReceiveEcho(msg)
		return nil, nil

	case "notice":
		switch msg.MetaOperation() {
		case "friend_request_accepted":
			userID := varString(msg.MetaVar(), "id")
			if userID != "" {
				c.profile.AddFriend(userID)
			}
			return c.friendAdd(msg, userID), nil
		case "group_admin_set":
			return c.groupAdmin(msg, "set"), nil
		case "group_admin_unset":
			return c.groupAdmin(msg, "unset"), nil
		}
		return nil, nil

	case "join":
		if msg.State != "等待审核" {
			return nil, nil
		}
		c.requests.Put(msg)
		return map[string]interface{}{
			"time":         msg.Time,
			"self_id":      c.selfID,
			"post_type":    "request",
			"request_type": "group",
			"sub_type":     "add",
			"group_id":     msg.Target,
			"user_id":      msg.SenderID,
			"comment":      msg.Payload,
			"flag":         msg.Time,
		}, nil

	case "friend":
		if msg.State != "等待审核" {
			return nil, nil
		}
		c.requests.Put(msg)
		return map[string]interface{}{
			"time":         msg.Time,
			"self_id":      c.selfID,
			"post_type":    "request",
			"request_type": "friend",
			"user_id":      msg.SenderID,
			"comment":      msg.Payload,
			"flag":         msg.Time,
		}, nil
	}
	return nil, nil
}

func (c *Classifier) friendAdd(msg *model.MkIXSystemMessage, userID string) map[string]interface{} {
	var user interface{} = 0
	if userID != "" {
		user = userID
	}
	return map[string]interface{}{
		"time":        msg.Time,
		"self_id":     c.selfID,
		"post_type":   "notice",
		"notice_type": "friend_add",
		"user_id":     user,
	}
}

func (c *Classifier) groupAdmin(msg *model.MkIXSystemMessage, subType string) map[string]interface{} {
	return map[string]interface{}{
		"time":        msg.Time,
		"self_id":     c.selfID,
		"post_type":   "notice",
		"notice_type": "group_admin",
		"sub_type":    subType,
		"group_id":    msg.Target,
		"user_id":     varString(msg.MetaVar(), "id"),
	}
}

func (c *Classifier) classifyGroup(msg *model.MkIXGetMessage) (map[string]interface{}, error) {
	switch msg.Type {
	case "file":
		return c.fileUpload(msg), nil

	case "revoke":
		return map[string]interface{}{
			"time":        msg.Time,
			"self_id":     c.selfID,
			"post_type":   "notice",
			"notice_type": "group_recall",
			"group_id":    msg.Group,
			"user_id":     0,
			"operator_id": msg.SenderID,
			"message_id":  varValue(msg.Payload.Var(), "time"),
		}, nil
	}

	c.messages.ReceiveChat(msg, "group")

	segments, err := cqcode.SerializeArray(msg, c.cfg, "group")
	if err != nil {
		return nil, err
	}
	rawMessage, err := cqcode.SerializeString(msg, c.cfg, "group")
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"time":           msg.Time,
		"self_id":        c.selfID,
		"post_type":      "message",
		"message_type":   "group",
		"sub_type":       "normal",
		"message_id":     msg.Time,
		"group_id":       msg.Group,
		"user_id":        msg.SenderID,
		"anonymous":      nil,
		"message":        segments,
		"raw_message":    rawMessage,
		"message_format": "array",
		"font":           -1,
		"sender": map[string]interface{}{
			"user_id": msg.SenderID,
		},
	}, nil
}

// classifySystemChat handles moderation frames inside a chat stream, keyed
// by payload.meta.operation.
func (c *Classifier) classifySystemChat(msg *model.MkIXGetMessage) map[string]interface{} {
	op, _ := msg.Payload.Meta["operation"].(string)
	vars := msg.Payload.Var()
	userID := varString(vars, "id")

	base := map[string]interface{}{
		"time":      msg.Time,
		"self_id":   c.selfID,
		"post_type": "notice",
		"group_id":  msg.Group,
	}

	switch op {
	case "group_increase":
		if userID == c.profile.UUID {
			c.profile.AddGroup(msg.Group)
		}
		base["notice_type"] = "group_increase"
		base["sub_type"] = "approve"
		base["operator_id"] = 0
		base["user_id"] = userID
		return base

	case "group_decrease":
		subType := varString(vars, "subType")
		if subType == "" {
			subType = "leave"
		}
		if userID == c.profile.UUID {
			subType = "kick_me"
			c.profile.RemoveGroup(msg.Group)
		}
		base["notice_type"] = "group_decrease"
		base["sub_type"] = subType
		base["operator_id"] = 0
		base["user_id"] = userID
		return base

	case "group_ban", "group_lift_ban":
		subType := "ban"
		if op == "group_lift_ban" {
			subType = "lift_ban"
		}
		base["notice_type"] = "group_ban"
		base["sub_type"] = subType
		base["operator_id"] = 0
		base["user_id"] = userID
		base["duration"] = varValue(vars, "duration")
		return base
	}
	return nil
}

func (c *Classifier) classifyPrivate(msg *model.MkIXGetMessage) (map[string]interface{}, error) {
	switch msg.Type {
	case "file":
		// Private uploads reuse the group_upload notice shape.
		return c.fileUpload(msg), nil

	case "revoke":
		return map[string]interface{}{
			"time":        msg.Time,
			"self_id":     c.selfID,
			"post_type":   "notice",
			"notice_type": "friend_recall",
			"user_id":     msg.Group,
			"message_id":  varValue(msg.Payload.Var(), "time"),
		}, nil
	}

	c.messages.ReceiveChat(msg, "friend")

	segments, err := cqcode.SerializeArray(msg, c.cfg, "private")
	if err != nil {
		return nil, err
	}
	rawMessage, err := cqcode.SerializeString(msg, c.cfg, "private")
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"time":           msg.Time,
		"self_id":        c.selfID,
		"post_type":      "message",
		"message_type":   "private",
		"sub_type":       "friend",
		"message_id":     msg.Time,
		"user_id":        msg.SenderID,
		"message":        segments,
		"raw_message":    rawMessage,
		"message_format": "array",
		"font":           -1,
		"sender": map[string]interface{}{
			"user_id": msg.SenderID,
		},
	}, nil
}

func (c *Classifier) fileUpload(msg *model.MkIXGetMessage) map[string]interface{} {
	return map[string]interface{}{
		"time":        msg.Time,
		"self_id":     c.selfID,
		"post_type":   "notice",
		"notice_type": "group_upload",
		"group_id":    msg.Group,
		"user_id":     msg.SenderID,
		"file": map[string]interface{}{
			"id":    msg.Payload.Content,
			"name":  msg.Payload.Name,
			"size":  msg.Payload.Size,
			"busid": 0,
		},
	}
}

func varString(vars map[string]interface{}, key string) string {
	if vars == nil {
		return ""
	}
	switch v := vars[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	}
	return ""
}

func varValue(vars map[string]interface{}, key string) interface{} {
	if vars == nil {
		return nil
	}
	return vars[key]
}
