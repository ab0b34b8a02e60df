package event

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkixlab/mkxi/pkg/config"
	"github.com/mkixlab/mkxi/pkg/memo"
	"github.com/mkixlab/mkxi/pkg/model"
	"github.com/mkixlab/mkxi/pkg/utils"
)

type nopLink struct{}

func (nopLink) Send(v interface{}) error { return nil }

type nopUploader struct{}

func (nopUploader) PostFile(ctx context.Context, group, groupType string, payload []byte, payloadType string) (string, error) {
	return "", nil
}

type fixture struct {
	classifier *Classifier
	profile    *model.MyProfile
	messages   *memo.MessageMemo
	requests   *memo.RequestMemo
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{ServerURL: "https://chat.example.com", MaxMemoSize: 100}
	}
	profile := model.NewMyProfile("999", "bot", "", "0", []string{"g1"}, []string{"f1"})
	messages := memo.NewMessageMemo(cfg, nopLink{}, nopUploader{})
	t.Cleanup(messages.Close)
	requests := memo.NewRequestMemo()
	return &fixture{
		classifier: NewClassifier(cfg, profile, messages, requests, "100"),
		profile:    profile,
		messages:   messages,
		requests:   requests,
	}
}

func frame(t *testing.T, v map[string]interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestClassifyStaleFrameDropped(t *testing.T) {
	f := newFixture(t, nil)
	ev, err := f.classifier.Classify(frame(t, map[string]interface{}{
		"time": "050", "type": "text", "group": "g1", "senderID": "u1",
		"payload": map[string]interface{}{"content": "old"},
	}))
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestClassifyOwnMessageDropped(t *testing.T) {
	f := newFixture(t, nil)
	ev, err := f.classifier.Classify(frame(t, map[string]interface{}{
		"time": "200", "type": "text", "group": "g1", "senderID": "999",
		"payload": map[string]interface{}{"content": "mirror"},
	}))
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestClassifyGroupMessage(t *testing.T) {
	f := newFixture(t, nil)
	ev, err := f.classifier.Classify(frame(t, map[string]interface{}{
		"time": "200", "type": "text", "group": "g1", "senderID": "u1",
		"payload": map[string]interface{}{
			"content": "hello",
			"meta":    map[string]interface{}{"at": []string{"999"}},
		},
	}))
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, "message", ev["post_type"])
	assert.Equal(t, "group", ev["message_type"])
	assert.Equal(t, "g1", ev["group_id"])
	assert.Equal(t, "200", ev["message_id"])
	assert.Equal(t, int64(999), ev["self_id"])
	assert.Equal(t, "[CQ:at,qq=999]hello", ev["raw_message"])

	segs, ok := ev["message"].([]model.Segment)
	require.True(t, ok)
	require.Len(t, segs, 2)
	assert.Equal(t, "at", segs[0].Type)

	// the frame is remembered for delete_msg
	kind, group, _, err := f.messages.GetStorage("200")
	require.NoError(t, err)
	assert.Equal(t, "group", kind)
	assert.Equal(t, "g1", group)
}

func TestClassifyPrivateMessage(t *testing.T) {
	f := newFixture(t, nil)
	ev, err := f.classifier.Classify(frame(t, map[string]interface{}{
		"time": "200", "type": "text", "group": "u7", "senderID": "u7",
		"payload": map[string]interface{}{"content": "hi"},
	}))
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, "private", ev["message_type"])
	assert.Equal(t, "friend", ev["sub_type"])
	assert.Equal(t, "u7", ev["user_id"])

	kind, _, _, err := f.messages.GetStorage("200")
	require.NoError(t, err)
	assert.Equal(t, "friend", kind)
}

func TestClassifyGroupFileUpload(t *testing.T) {
	f := newFixture(t, nil)
	ev, err := f.classifier.Classify(frame(t, map[string]interface{}{
		"time": "200", "type": "file", "group": "g1", "senderID": "u1",
		"payload": map[string]interface{}{"content": "fid", "name": "a.zip", "size": 123},
	}))
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, "group_upload", ev["notice_type"])
	file := ev["file"].(map[string]interface{})
	assert.Equal(t, "fid", file["id"])
	assert.Equal(t, "a.zip", file["name"])
	assert.Equal(t, int64(123), file["size"])
}

func TestClassifyPrivateRevoke(t *testing.T) {
	f := newFixture(t, nil)
	ev, err := f.classifier.Classify(frame(t, map[string]interface{}{
		"time": "200", "type": "revoke", "group": "u7", "senderID": "u7",
		"payload": map[string]interface{}{
			"content": "",
			"meta":    map[string]interface{}{"var": map[string]interface{}{"time": "180"}},
		},
	}))
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, "friend_recall", ev["notice_type"])
	assert.Equal(t, "u7", ev["user_id"])
	assert.Equal(t, "180", ev["message_id"])
}

func TestClassifyGroupIncreaseSelf(t *testing.T) {
	f := newFixture(t, nil)
	ev, err := f.classifier.Classify(frame(t, map[string]interface{}{
		"time": "200", "type": "system", "group": "g2", "senderID": "sys",
		"payload": map[string]interface{}{
			"content": "",
			"meta": map[string]interface{}{
				"operation": "group_increase",
				"var":       map[string]interface{}{"id": "999"},
			},
		},
	}))
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, "group_increase", ev["notice_type"])
	assert.Equal(t, "approve", ev["sub_type"])
	assert.Equal(t, "g2", ev["group_id"])
	// the bot learns of its own membership from this frame
	assert.True(t, f.profile.HasGroup("g2"))
}

func TestClassifyGroupDecreaseKickMe(t *testing.T) {
	f := newFixture(t, nil)
	ev, err := f.classifier.Classify(frame(t, map[string]interface{}{
		"time": "200", "type": "system", "group": "g1", "senderID": "sys",
		"payload": map[string]interface{}{
			"content": "",
			"meta": map[string]interface{}{
				"operation": "group_decrease",
				"var":       map[string]interface{}{"id": "999", "subType": "kick"},
			},
		},
	}))
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, "group_decrease", ev["notice_type"])
	assert.Equal(t, "kick_me", ev["sub_type"])
	assert.False(t, f.profile.HasGroup("g1"))
}

func TestClassifyGroupBan(t *testing.T) {
	f := newFixture(t, nil)
	ev, err := f.classifier.Classify(frame(t, map[string]interface{}{
		"time": "200", "type": "system", "group": "g1", "senderID": "sys",
		"payload": map[string]interface{}{
			"content": "",
			"meta": map[string]interface{}{
				"operation": "group_ban",
				"var":       map[string]interface{}{"id": "u1", "duration": 600},
			},
		},
	}))
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, "group_ban", ev["notice_type"])
	assert.Equal(t, "ban", ev["sub_type"])
	assert.Equal(t, "u1", ev["user_id"])
	assert.Equal(t, float64(600), ev["duration"])
}

func TestClassifyJoinRequest(t *testing.T) {
	f := newFixture(t, nil)
	ev, err := f.classifier.Classify(frame(t, map[string]interface{}{
		"time": "200", "type": "join", "isSystemMessage": true,
		"target": "g1", "senderID": "u2", "state": "等待审核",
		"payload": "let me in",
	}))
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, "request", ev["post_type"])
	assert.Equal(t, "group", ev["request_type"])
	assert.Equal(t, "g1", ev["group_id"])
	assert.Equal(t, "200", ev["flag"])

	group, err := f.requests.Get("200", "group")
	require.NoError(t, err)
	assert.Equal(t, "g1", group)
}

func TestClassifySettledJoinIgnored(t *testing.T) {
	f := newFixture(t, nil)
	ev, err := f.classifier.Classify(frame(t, map[string]interface{}{
		"time": "200", "type": "join", "isSystemMessage": true,
		"target": "g1", "senderID": "u2", "state": "已通过",
		"payload": "done",
	}))
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestClassifyFriendRequestAccepted(t *testing.T) {
	f := newFixture(t, nil)
	ev, err := f.classifier.Classify(frame(t, map[string]interface{}{
		"time": "200", "type": "notice", "isSystemMessage": true,
		"payload": "accepted",
		"meta": map[string]interface{}{
			"operation": "friend_request_accepted",
			"var":       map[string]interface{}{"id": "u8"},
		},
	}))
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, "friend_add", ev["notice_type"])
	assert.Equal(t, "u8", ev["user_id"])
	assert.True(t, f.profile.HasFriend("u8"))
}

func TestClassifyEchoConsumed(t *testing.T) {
	f := newFixture(t, nil)
	ev, err := f.classifier.Classify(frame(t, map[string]interface{}{
		"time": "200", "type": "echo", "isSystemMessage": true,
		"payload": `{"echo":3,"time":"T3"}`,
	}))
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestClassifyEncryptedFrame(t *testing.T) {
	key := "0123456789abcdef"
	cfg := &config.Config{
		ServerURL:   "https://chat.example.com",
		MaxMemoSize: 100,
		Encrypt:     map[string]string{"g1": key},
	}
	f := newFixture(t, cfg)

	ciphertext, ivHex, err := utils.EncryptContent(key, []byte("covert"))
	require.NoError(t, err)

	ev, err := f.classifier.Classify(frame(t, map[string]interface{}{
		"time": "200", "type": "text", "group": "g1", "senderID": "u1",
		"payload": map[string]interface{}{
			"content": ciphertext,
			"meta":    map[string]interface{}{"encrypt": true, "iv": ivHex},
		},
	}))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "covert", ev["raw_message"])
}

func TestClassifyUndecryptableFrameDropped(t *testing.T) {
	cfg := &config.Config{
		ServerURL:   "https://chat.example.com",
		MaxMemoSize: 100,
		Encrypt:     map[string]string{"g1": "0123456789abcdef"},
	}
	f := newFixture(t, cfg)

	ev, err := f.classifier.Classify(frame(t, map[string]interface{}{
		"time": "200", "type": "text", "group": "g1", "senderID": "u1",
		"payload": map[string]interface{}{
			"content": "garbage",
			"meta":    map[string]interface{}{"encrypt": true, "iv": "zz"},
		},
	}))
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestSelfID(t *testing.T) {
	assert.Equal(t, int64(10086), SelfID("10086"))
	assert.Equal(t, "abc-uuid", SelfID("abc-uuid"))
}

func TestMetaEvents(t *testing.T) {
	life := Lifecycle(int64(1))
	assert.Equal(t, "meta_event", life["post_type"])
	assert.Equal(t, "lifecycle", life["meta_event_type"])
	assert.Equal(t, "connect", life["sub_type"])
	_, isString := life["time"].(string)
	assert.True(t, isString)

	hb := Heartbeat(int64(1), map[string]interface{}{"online": true})
	assert.Equal(t, "heartbeat", hb["meta_event_type"])
	assert.Equal(t, int64(30000), hb["interval"])
	_, isInt := hb["time"].(int64)
	assert.True(t, isInt)
}
