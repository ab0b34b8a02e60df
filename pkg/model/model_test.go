package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadMergeConcatenatesContent(t *testing.T) {
	a := MessagePayload{Content: "hello "}
	b := MessagePayload{Content: "world"}
	assert.Equal(t, "hello world", a.Merge(b).Content)
}

func TestPayloadMergeConcatenatesMetaLists(t *testing.T) {
	a := MessagePayload{Meta: map[string]interface{}{"at": []string{"u1"}}}
	b := MessagePayload{Meta: map[string]interface{}{"at": []string{"u2", "u3"}}}

	merged := a.Merge(b)
	assert.Equal(t, []string{"u1", "u2", "u3"}, merged.AtList())
}

func TestPayloadMergeScalarsFavourFirst(t *testing.T) {
	a := MessagePayload{Name: "a.txt", Size: 10}
	b := MessagePayload{Name: "b.txt", Size: 20}

	merged := a.Merge(b)
	assert.Equal(t, "a.txt", merged.Name)
	assert.Equal(t, int64(10), merged.Size)

	merged = MessagePayload{}.Merge(b)
	assert.Equal(t, "b.txt", merged.Name)
	assert.Equal(t, int64(20), merged.Size)
}

func TestAtListFromJSON(t *testing.T) {
	var p MessagePayload
	require.NoError(t, json.Unmarshal([]byte(`{"content":"hi","meta":{"at":["u1","u2"]}}`), &p))
	assert.Equal(t, []string{"u1", "u2"}, p.AtList())

	assert.Nil(t, MessagePayload{}.AtList())
}

func TestPostMessageMerge(t *testing.T) {
	a := MkIXPostMessage{Type: "text", Group: "g1", GroupType: GroupTypeGroup,
		Payload: MessagePayload{Content: "x"}}
	b := MkIXPostMessage{Type: "text", Payload: MessagePayload{Content: "y"}}

	merged := a.Merge(b)
	assert.Equal(t, "text", merged.Type)
	assert.Equal(t, "g1", merged.Group)
	assert.Equal(t, GroupTypeGroup, merged.GroupType)
	assert.Equal(t, "xy", merged.Payload.Content)
}

func TestSystemMessageMeta(t *testing.T) {
	var m MkIXSystemMessage
	raw := `{"time":"123","type":"notice","isSystemMessage":true,"payload":"p",
		"meta":{"operation":"group_admin_set","var":{"id":"u9"}}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	assert.Equal(t, "group_admin_set", m.MetaOperation())
	assert.Equal(t, "u9", m.MetaVar()["id"])

	empty := MkIXSystemMessage{}
	assert.Equal(t, "", empty.MetaOperation())
	assert.Nil(t, empty.MetaVar())
}

func TestMyProfileSets(t *testing.T) {
	p := NewMyProfile("me", "bot", "", "0", []string{"g1"}, []string{"f1"})

	assert.True(t, p.HasGroup("g1"))
	assert.False(t, p.HasGroup("g2"))
	p.AddGroup("g2")
	assert.True(t, p.HasGroup("g2"))
	p.RemoveGroup("g1")
	assert.False(t, p.HasGroup("g1"))

	assert.True(t, p.HasFriend("f1"))
	p.AddFriend("f2")
	p.RemoveFriend("f1")
	assert.False(t, p.HasFriend("f1"))
	assert.True(t, p.HasFriend("f2"))
}
