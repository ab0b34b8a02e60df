// Package cqcode translates between MkIX chat frames and OneBot v11 message
// segments, in both the inline "[CQ:type,k=v]" string form and the typed
// array form.
package cqcode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mkixlab/mkxi/pkg/config"
	"github.com/mkixlab/mkxi/pkg/errs"
	"github.com/mkixlab/mkxi/pkg/model"
)

var bracketRun = regexp.MustCompile(`\[.*?\]`)

// downloadURL builds the REST download link for a file/audio attachment.
func downloadURL(cfg *config.Config, groupType string, msg *model.MkIXGetMessage) (string, error) {
	if cfg == nil || groupType == "" {
		return "", errs.New(errs.Usage, "config and group_type are required for %s payloads", msg.Type)
	}
	kind := "user"
	if groupType == "group" {
		kind = "group"
	}
	return strings.TrimRight(cfg.ServerURL, "/") + "/v1/" + kind + "/" + msg.Group + "/download/" + msg.Payload.Content, nil
}

// SerializeString renders an MkIX frame as an inline CQ-code string.
// groupType ("group" or "private") is only consulted for file/audio frames.
func SerializeString(msg *model.MkIXGetMessage, cfg *config.Config, groupType string) (string, error) {
	var b strings.Builder
	for _, at := range msg.Payload.AtList() {
		b.WriteString("[CQ:at,qq=" + at + "]")
	}

	switch msg.Type {
	case "text":
		b.WriteString(msg.Payload.Content)
	case "image":
		b.WriteString("[CQ:image,file=" + msg.Payload.Content + "]")
	case "file", "audio":
		url, err := downloadURL(cfg, groupType, msg)
		if err != nil {
			return "", err
		}
		segType := "record"
		if msg.Type == "file" {
			segType = "file"
		}
		b.WriteString("[CQ:" + segType + ",file=" + url + "]")
	}
	return b.String(), nil
}

// SerializeArray renders an MkIX frame as OneBot message segments.
func SerializeArray(msg *model.MkIXGetMessage, cfg *config.Config, groupType string) ([]model.Segment, error) {
	var out []model.Segment
	for _, at := range msg.Payload.AtList() {
		out = append(out, model.Segment{Type: "at", Data: map[string]interface{}{"qq": at}})
	}

	switch msg.Type {
	case "text":
		out = append(out, model.Segment{Type: "text", Data: map[string]interface{}{"text": msg.Payload.Content}})
	case "image":
		out = append(out, model.Segment{Type: "image", Data: map[string]interface{}{"file": msg.Payload.Content}})
	case "file", "audio":
		url, err := downloadURL(cfg, groupType, msg)
		if err != nil {
			return nil, err
		}
		segType := "record"
		if msg.Type == "file" {
			segType = "file"
		}
		out = append(out, model.Segment{Type: segType, Data: map[string]interface{}{"file": url}})
	}
	return out, nil
}

// DeserializeString parses a CQ-code string into outbound MkIX frames.
// With autoEscape the whole input becomes a single literal text frame.
func DeserializeString(data string, autoEscape bool) ([]model.MkIXPostMessage, error) {
	if autoEscape {
		return resolveSegments([]model.Segment{
			{Type: "text", Data: map[string]interface{}{"text": data}},
		})
	}
	return resolveSegments(splitCQ(data))
}

// DeserializeSegments resolves OneBot array-format segments into outbound
// MkIX frames.
func DeserializeSegments(segs []model.Segment) ([]model.MkIXPostMessage, error) {
	return resolveSegments(segs)
}

// splitCQ walks the string and lifts "[CQ:…]" runs into typed segments.
// Bracketed runs that are not CQ codes stay literal text.
func splitCQ(data string) []model.Segment {
	var segs []model.Segment
	appendText := func(s string) {
		if s != "" {
			segs = append(segs, model.Segment{Type: "text", Data: map[string]interface{}{"text": s}})
		}
	}

	last := 0
	for _, loc := range bracketRun.FindAllStringIndex(data, -1) {
		run := data[loc[0]:loc[1]]
		inner := run[1 : len(run)-1]
		if !strings.HasPrefix(inner, "CQ:") {
			continue
		}

		appendText(data[last:loc[0]])
		last = loc[1]

		parts := strings.Split(inner, ",")
		seg := model.Segment{
			Type: strings.TrimPrefix(parts[0], "CQ:"),
			Data: make(map[string]interface{}, len(parts)-1),
		}
		for _, param := range parts[1:] {
			k, v, ok := strings.Cut(param, "=")
			if !ok {
				continue
			}
			seg.Data[k] = v
		}
		segs = append(segs, seg)
	}
	appendText(data[last:])
	return segs
}

// resolveSegments maps each segment to an MkIX frame and merges adjacent
// plain-text frames. Frames carrying at-mentions never merge.
func resolveSegments(segs []model.Segment) ([]model.MkIXPostMessage, error) {
	var stack []model.MkIXPostMessage
	for _, seg := range segs {
		frame, err := typeMatch(seg)
		if err != nil {
			return nil, err
		}
		if len(stack) > 0 && mergeableText(stack[len(stack)-1]) && mergeableText(frame) {
			stack[len(stack)-1] = stack[len(stack)-1].Merge(frame)
		} else {
			stack = append(stack, frame)
		}
	}
	return stack, nil
}

func mergeableText(m model.MkIXPostMessage) bool {
	return m.Type == "text" && len(m.Payload.AtList()) == 0
}

func typeMatch(seg model.Segment) (model.MkIXPostMessage, error) {
	switch seg.Type {
	case "at":
		return model.MkIXPostMessage{
			Type: "text",
			Payload: model.MessagePayload{
				Meta: map[string]interface{}{"at": []string{dataString(seg.Data, "qq")}},
			},
		}, nil

	case "text":
		return model.MkIXPostMessage{
			Type:    "text",
			Payload: model.MessagePayload{Content: dataString(seg.Data, "text")},
		}, nil

	case "image":
		content, err := ResolveResource(dataString(seg.Data, "file"), true)
		if err != nil {
			return model.MkIXPostMessage{}, err
		}
		return model.MkIXPostMessage{Type: "image", Payload: model.MessagePayload{Content: content}}, nil

	case "file":
		content, err := ResolveResource(dataString(seg.Data, "file"), false)
		if err != nil {
			return model.MkIXPostMessage{}, err
		}
		return model.MkIXPostMessage{Type: "file", Payload: model.MessagePayload{Content: content}}, nil

	case "record":
		content, err := ResolveResource(dataString(seg.Data, "file"), false)
		if err != nil {
			return model.MkIXPostMessage{}, err
		}
		return model.MkIXPostMessage{Type: "audio", Payload: model.MessagePayload{Content: content}}, nil

	case "face":
		emoji, err := FaceLookup(dataString(seg.Data, "id"))
		if err != nil {
			return model.MkIXPostMessage{}, err
		}
		return model.MkIXPostMessage{Type: "text", Payload: model.MessagePayload{Content: emoji}}, nil
	}

	return model.MkIXPostMessage{}, errs.New(errs.Usage, "invalid segment type: %s", seg.Type)
}

// dataString renders a segment data value as a string, tolerating the
// numeric forms JSON decoding produces.
func dataString(data map[string]interface{}, key string) string {
	switch v := data[key].(type) {
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
