// Package action executes OneBot v11 action requests against the MkIX
// backend and produces the standard reply envelope.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mkixlab/mkxi/pkg/api"
	"github.com/mkixlab/mkxi/pkg/config"
	"github.com/mkixlab/mkxi/pkg/cqcode"
	"github.com/mkixlab/mkxi/pkg/errs"
	"github.com/mkixlab/mkxi/pkg/logger"
	"github.com/mkixlab/mkxi/pkg/memo"
	"github.com/mkixlab/mkxi/pkg/model"
)

const (
	retcodeOK     = 0
	retcodeFailed = 1400

	defaultBanDuration = 1800
)

// Dispatcher maps each OneBot action onto the REST client, the outbound
// message pipeline, or local state.
type Dispatcher struct {
	cfg      *config.Config
	api      *api.Client
	messages *memo.MessageMemo
	requests *memo.RequestMemo
	profile  *model.MyProfile
}

func NewDispatcher(cfg *config.Config, client *api.Client, messages *memo.MessageMemo, requests *memo.RequestMemo, profile *model.MyProfile) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		api:      client,
		messages: messages,
		requests: requests,
		profile:  profile,
	}
}

// Dispatch decodes one action frame and always returns a reply envelope;
// failures are reported in-band with retcode 1400.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) *model.ActionResponse {
	var req model.ActionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return failed(nil, errs.Wrap(errs.Protocol, err, "decode action frame"))
	}

	logger.InfoCF("action", "Handle action", map[string]interface{}{
		"action": req.Action,
	})

	data, err := d.handle(ctx, &req)
	if err != nil {
		logger.WarnCF("action", "Action failed", map[string]interface{}{
			"action": req.Action,
			"error":  err.Error(),
		})
		return failed(req.Echo, err)
	}
	return &model.ActionResponse{Status: "ok", Retcode: retcodeOK, Data: data, Echo: req.Echo}
}

func failed(echo json.RawMessage, err error) *model.ActionResponse {
	return &model.ActionResponse{
		Status:  "failed",
		Retcode: retcodeFailed,
		Data:    map[string]interface{}{"detail": err.Error()},
		Echo:    echo,
	}
}

func (d *Dispatcher) handle(ctx context.Context, req *model.ActionRequest) (interface{}, error) {
	p := req.Params

	switch req.Action {
	case "send_private_msg":
		return d.sendMessage(ctx, p, model.GroupTypeFriend, paramString(p, "user_id"), req.Action)
	case "send_group_msg":
		return d.sendMessage(ctx, p, model.GroupTypeGroup, paramString(p, "group_id"), req.Action)
	case "send_msg":
		return d.sendMsg(ctx, p, req.Action)
	case "send_private_forward_msg":
		return d.sendForward(ctx, p, model.GroupTypeFriend, paramString(p, "user_id"), req.Action)
	case "send_group_forward_msg":
		return d.sendForward(ctx, p, model.GroupTypeGroup, paramString(p, "group_id"), req.Action)
	case "delete_msg":
		return d.deleteMsg(ctx, p, req.Action)

	case "set_group_kick":
		return d.api.GroupKick(ctx, paramString(p, "group_id"), paramString(p, "user_id"))
	case "set_group_ban":
		return d.api.GroupBan(ctx, paramString(p, "group_id"), paramString(p, "user_id"),
			paramInt(p, "duration", defaultBanDuration))
	case "set_group_admin":
		return d.api.GroupAdmin(ctx, paramString(p, "group_id"), paramString(p, "user_id"),
			paramBool(p, "enable", true))
	case "set_group_name":
		return d.api.GroupName(ctx, paramString(p, "group_id"), paramString(p, "group_name"))
	case "set_group_leave":
		return d.groupLeave(ctx, p)
	case "set_friend_add_request":
		return d.friendAddRequest(ctx, p)
	case "set_group_add_request":
		return d.groupAddRequest(ctx, p)

	case "get_login_info":
		return d.api.LoginInfo(ctx)
	case "get_stranger_info":
		return d.api.StrangerInfo(ctx, paramString(p, "user_id"))
	case "get_friend_list":
		return d.api.FriendList(ctx)
	case "get_group_info":
		return d.api.GroupInfo(ctx, paramString(p, "group_id"))
	case "get_group_list":
		return d.api.GroupList(ctx)
	case "get_group_member_list":
		return d.api.GroupMemberList(ctx, paramString(p, "group_id"))
	case "get_group_member_info":
		return d.api.GroupMemberInfo(ctx, paramString(p, "group_id"), paramString(p, "user_id"))

	case "get_record":
		return d.api.Record(ctx, paramString(p, "file"))
	case "get_image":
		return d.api.Image(ctx, paramString(p, "file"))

	case "get_status":
		return d.api.Status(ctx)
	case "get_version_info":
		return d.api.VersionInfo(), nil
	case "can_send_image", "can_send_record":
		return map[string]interface{}{"yes": true}, nil
	}

	return nil, errs.New(errs.Usage, "unsupported action: %s", req.Action)
}

// sendMsg resolves the explicit or implied target of a generic send_msg and
// delegates to the typed path.
func (d *Dispatcher) sendMsg(ctx context.Context, p map[string]interface{}, action string) (interface{}, error) {
	messageType := paramString(p, "message_type")
	if messageType == "" {
		if paramString(p, "group_id") != "" {
			messageType = "group"
		} else {
			messageType = "private"
		}
	}

	if messageType == "group" {
		return d.sendMessage(ctx, p, model.GroupTypeGroup, paramString(p, "group_id"), action)
	}
	return d.sendMessage(ctx, p, model.GroupTypeFriend, paramString(p, "user_id"), action)
}

func (d *Dispatcher) sendMessage(ctx context.Context, p map[string]interface{}, groupType, target, action string) (interface{}, error) {
	if target == "" {
		return nil, errs.New(errs.Usage, "%s requires a target id", action)
	}

	frames, err := messageFrames(p["message"], paramBool(p, "auto_escape", false))
	if err != nil {
		return nil, err
	}
	routeFrames(frames, target, groupType)

	return d.messages.PostMessages(ctx, frames, action)
}

// sendForward flattens the forward node list: every node's data.content is a
// full message, deserialized and appended in order.
func (d *Dispatcher) sendForward(ctx context.Context, p map[string]interface{}, groupType, target, action string) (interface{}, error) {
	if target == "" {
		return nil, errs.New(errs.Usage, "%s requires a target id", action)
	}

	nodes, ok := p["messages"].([]interface{})
	if !ok {
		return nil, errs.New(errs.Usage, "%s requires a messages list", action)
	}

	var frames []model.MkIXPostMessage
	for _, node := range nodes {
		obj, _ := node.(map[string]interface{})
		data, _ := obj["data"].(map[string]interface{})
		if data == nil {
			return nil, errs.New(errs.Usage, "forward node carries no data")
		}
		part, err := messageFrames(data["content"], false)
		if err != nil {
			return nil, err
		}
		frames = append(frames, part...)
	}
	routeFrames(frames, target, groupType)

	return d.messages.PostMessages(ctx, frames, action)
}

// deleteMsg recovers the message's group from the memo and revokes the whole
// chunk it was sent as.
func (d *Dispatcher) deleteMsg(ctx context.Context, p map[string]interface{}, action string) (interface{}, error) {
	messageID := paramString(p, "message_id")
	kind, group, siblings, err := d.messages.GetStorage(messageID)
	if err != nil {
		return nil, err
	}

	// revoke frames use "private" where the memo says "friend"
	groupType := model.GroupTypeGroup
	if kind == model.GroupTypeFriend {
		groupType = "private"
	}

	frames := make([]model.MkIXPostMessage, 0, len(siblings))
	for _, sibling := range siblings {
		frames = append(frames, model.MkIXPostMessage{
			Type:      "revokeRequest",
			Group:     group,
			GroupType: groupType,
			Payload:   model.MessagePayload{Content: sibling},
		})
	}
	return d.messages.PostMessages(ctx, frames, action)
}

func (d *Dispatcher) groupLeave(ctx context.Context, p map[string]interface{}) (interface{}, error) {
	groupID := paramString(p, "group_id")
	res, err := d.api.GroupLeave(ctx, groupID, paramBool(p, "is_dismiss", false))
	if err != nil {
		return nil, err
	}
	d.profile.RemoveGroup(groupID)
	return res, nil
}

func (d *Dispatcher) friendAddRequest(ctx context.Context, p map[string]interface{}) (interface{}, error) {
	flag := paramString(p, "flag")
	userID, err := d.requests.Get(flag, "friend")
	if err != nil {
		return nil, err
	}
	approve := paramBool(p, "approve", true)

	res, err := d.api.FriendAddRequest(ctx, userID, flag, approve)
	if err != nil {
		return nil, err
	}
	if approve {
		d.profile.AddFriend(userID)
	}
	return res, nil
}

func (d *Dispatcher) groupAddRequest(ctx context.Context, p map[string]interface{}) (interface{}, error) {
	flag := paramString(p, "flag")
	groupID, err := d.requests.Get(flag, "group")
	if err != nil {
		return nil, err
	}
	approve := paramBool(p, "approve", true)

	res, err := d.api.GroupAddRequest(ctx, groupID, flag, approve)
	if err != nil {
		return nil, err
	}
	if approve {
		d.profile.AddGroup(groupID)
	}
	return res, nil
}

// messageFrames accepts the two OneBot message encodings: a CQ-code string or
// an array of typed segments.
func messageFrames(message interface{}, autoEscape bool) ([]model.MkIXPostMessage, error) {
	switch v := message.(type) {
	case string:
		return cqcode.DeserializeString(v, autoEscape)
	case []interface{}:
		segs := make([]model.Segment, 0, len(v))
		for _, item := range v {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, errs.New(errs.Usage, "invalid message segment")
			}
			segType, _ := obj["type"].(string)
			data, _ := obj["data"].(map[string]interface{})
			segs = append(segs, model.Segment{Type: segType, Data: data})
		}
		return cqcode.DeserializeSegments(segs)
	}
	return nil, errs.New(errs.Usage, "message must be a string or a segment list")
}

func routeFrames(frames []model.MkIXPostMessage, target, groupType string) {
	for i := range frames {
		frames[i].Group = target
		frames[i].GroupType = groupType
	}
}

// paramString renders a parameter as a string; OneBot clients send ids both
// quoted and as JSON numbers.
func paramString(p map[string]interface{}, key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return fmt.Sprint(v)
	}
}

func paramBool(p map[string]interface{}, key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

func paramInt(p map[string]interface{}, key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
