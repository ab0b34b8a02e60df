// Package model holds the wire schemas shared by the MkIX and OneBot sides
// of the bridge.
package model

import "encoding/json"

// Group type of an outbound frame. Empty means "not yet routed".
const (
	GroupTypeGroup  = "group"
	GroupTypeFriend = "friend"
)

// MessagePayload is the body of a chat message. Content holds UTF-8 text for
// frames that travel over the socket, and raw bytes (as an uninterpreted Go
// string) for file/audio payloads that go through the upload side-channel.
type MessagePayload struct {
	Name    string                 `json:"name,omitempty"`
	Size    int64                  `json:"size,omitempty"`
	Content string                 `json:"content"`
	Meta    map[string]interface{} `json:"meta"`
}

// Merge is the payload-union operation: meta lists concatenate, content
// concatenates, scalar fields favour the receiver's non-empty value.
func (p MessagePayload) Merge(other MessagePayload) MessagePayload {
	meta := make(map[string]interface{}, len(p.Meta)+len(other.Meta))
	for k, v := range p.Meta {
		meta[k] = v
	}
	for k, v := range other.Meta {
		if prev, ok := meta[k]; ok {
			meta[k] = combineMeta(prev, v)
		} else {
			meta[k] = v
		}
	}

	out := MessagePayload{
		Name:    p.Name,
		Size:    p.Size,
		Content: p.Content + other.Content,
		Meta:    meta,
	}
	if out.Name == "" {
		out.Name = other.Name
	}
	if out.Size == 0 {
		out.Size = other.Size
	}
	if len(out.Meta) == 0 {
		out.Meta = nil
	}
	return out
}

func combineMeta(a, b interface{}) interface{} {
	switch av := a.(type) {
	case []string:
		if bv, ok := b.([]string); ok {
			return append(append([]string{}, av...), bv...)
		}
	case []interface{}:
		if bv, ok := b.([]interface{}); ok {
			return append(append([]interface{}{}, av...), bv...)
		}
	case string:
		if bv, ok := b.(string); ok {
			return av + bv
		}
	}
	return a
}

// AtList extracts the meta "at" entry as a string slice, tolerating both the
// native []string form and the []interface{} form produced by JSON decoding.
func (p MessagePayload) AtList() []string {
	if p.Meta == nil {
		return nil
	}
	switch v := p.Meta["at"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Var extracts the meta "var" entry, the free-form detail map that system
// chat frames attach to moderation events.
func (p MessagePayload) Var() map[string]interface{} {
	if p.Meta == nil {
		return nil
	}
	if m, ok := p.Meta["var"].(map[string]interface{}); ok {
		return m
	}
	return nil
}

// MkIXGetMessage is an inbound chat frame. Time doubles as the message id.
type MkIXGetMessage struct {
	Time            string         `json:"time"`
	Type            string         `json:"type"`
	Group           string         `json:"group"`
	IsSystemMessage bool           `json:"isSystemMessage"`
	SenderID        string         `json:"senderID"`
	Payload         MessagePayload `json:"payload"`
}

// MkIXSystemMessage is an inbound control frame (echo acks, notices, pending
// add requests). Payload here is a plain string, not a MessagePayload.
type MkIXSystemMessage struct {
	Time            string                 `json:"time"`
	Type            string                 `json:"type"`
	SubType         string                 `json:"subType,omitempty"`
	Target          string                 `json:"target,omitempty"`
	TargetKey       string                 `json:"targetKey,omitempty"`
	IsSystemMessage bool                   `json:"isSystemMessage"`
	State           string                 `json:"state,omitempty"`
	SenderID        string                 `json:"senderID,omitempty"`
	SenderKey       string                 `json:"senderKey,omitempty"`
	Payload         string                 `json:"payload"`
	Meta            map[string]interface{} `json:"meta,omitempty"`
}

// MetaOperation returns the "operation" discriminator of a system notice.
func (m *MkIXSystemMessage) MetaOperation() string {
	if m.Meta == nil {
		return ""
	}
	if s, ok := m.Meta["operation"].(string); ok {
		return s
	}
	return ""
}

// MetaVar returns the free-form detail map of a system notice.
func (m *MkIXSystemMessage) MetaVar() map[string]interface{} {
	if m.Meta == nil {
		return nil
	}
	if v, ok := m.Meta["var"].(map[string]interface{}); ok {
		return v
	}
	return nil
}

// MkIXPostMessage is an outbound frame. Echo is assigned by the pipeline
// consumer immediately before the frame is sent.
type MkIXPostMessage struct {
	Type      string         `json:"type,omitempty"`
	Echo      int64          `json:"echo"`
	Group     string         `json:"group,omitempty"`
	GroupType string         `json:"groupType"`
	Payload   MessagePayload `json:"payload"`
}

// Merge combines two adjacent outbound frames of the same kind. Scalar
// fields favour the receiver's non-empty value; payloads union.
func (m MkIXPostMessage) Merge(other MkIXPostMessage) MkIXPostMessage {
	out := MkIXPostMessage{
		Type:      m.Type,
		Group:     m.Group,
		GroupType: m.GroupType,
		Payload:   m.Payload.Merge(other.Payload),
	}
	if out.Type == "" {
		out.Type = other.Type
	}
	if out.Group == "" {
		out.Group = other.Group
	}
	if out.GroupType == "" {
		out.GroupType = other.GroupType
	}
	return out
}

// EchoReply is the payload of a system "echo" frame: the server pairs the
// client-assigned echo id with its authoritative message time.
type EchoReply struct {
	Echo int64  `json:"echo"`
	Time string `json:"time"`
}

// ActionRequest is an incoming OneBot v11 action frame. Echo is opaque and
// returned verbatim in the reply.
type ActionRequest struct {
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params"`
	Echo   json.RawMessage        `json:"echo,omitempty"`
}

// ActionResponse is the standard OneBot v11 action reply envelope.
type ActionResponse struct {
	Status  string          `json:"status"`
	Retcode int             `json:"retcode"`
	Data    interface{}     `json:"data"`
	Echo    json.RawMessage `json:"echo,omitempty"`
}

// Segment is one element of an OneBot array-format message.
type Segment struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}
