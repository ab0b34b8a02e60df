package event

import (
	"github.com/mkixlab/mkxi/pkg/utils"
	"github.com/mkixlab/mkxi/pkg/ws"
)

// Lifecycle builds the connect meta-event announced after every OneBot
// handshake. Its time keeps the MkIX string form.
func Lifecycle(selfID interface{}) map[string]interface{} {
	return map[string]interface{}{
		"time":            utils.Timestamp(),
		"self_id":         selfID,
		"post_type":       "meta_event",
		"meta_event_type": "lifecycle",
		"sub_type":        "connect",
	}
}

// Heartbeat builds one heartbeat meta-event. Unlike lifecycle, its time is
// numeric, which is what OneBot heartbeat consumers expect.
func Heartbeat(selfID interface{}, status map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"time":            utils.TimestampInt(),
		"self_id":         selfID,
		"post_type":       "meta_event",
		"meta_event_type": "heartbeat",
		"status":          status,
		"interval":        ws.HeartbeatInterval.Milliseconds(),
	}
}
