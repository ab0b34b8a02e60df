package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkixlab/mkxi/pkg/config"
	"github.com/mkixlab/mkxi/pkg/errs"
)

func testClient(serverURL string) *Client {
	return NewClient(&config.Config{
		Account:   "bot01",
		Password:  "digest",
		ServerURL: serverURL,
		SSLCheck:  true,
		Token:     "Bearer tok",
	})
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/user/token", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("isBot"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "bot01", r.PostForm.Get("username"))
		assert.Equal(t, "digest", r.PostForm.Get("password"))

		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok123"})
	}))
	defer srv.Close()

	token, err := testClient(srv.URL).Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok123", token)
}

func TestLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"detail": "bad credentials"})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Login(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.Auth, errs.KindOf(err))
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestServerErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).WSToken(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.Server, errs.KindOf(err))
}

func TestWSToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/user/wsToken", r.URL.Path)
		assert.Equal(t, "00000000", r.URL.Query().Get("device"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"token": "ws-tok"})
	}))
	defer srv.Close()

	token, err := testClient(srv.URL).WSToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ws-tok", token)
}

func TestGetMyProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/user/profile/me", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"uuid":     "10086",
			"username": "bot",
			"groups":   []map[string]string{{"group": "g1"}, {"group": "g2"}},
			"friends":  []map[string]string{{"uuid": "f1"}},
		})
	}))
	defer srv.Close()

	p, err := testClient(srv.URL).GetMyProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10086", p.UUID)
	assert.Equal(t, []string{"g1", "g2"}, p.GroupIDs())
	assert.Equal(t, []string{"f1"}, p.FriendIDs())
}

func TestPostFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/group/g1/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1 << 20))
		assert.Equal(t, "file", r.MultipartForm.Value["fileType"][0])
		assert.Equal(t, "group", r.MultipartForm.Value["groupType"][0])
		json.NewEncoder(w).Encode(map[string]string{"time": "171717"})
	}))
	defer srv.Close()

	tm, err := testClient(srv.URL).PostFile(context.Background(), "g1", "group", []byte("payload"), "file")
	require.NoError(t, err)
	assert.Equal(t, "171717", tm)
}

func TestPostFilePrivateUsesUserPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/user/u1/upload", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"time": "1"})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).PostFile(context.Background(), "u1", "friend", []byte("x"), "audio")
	require.NoError(t, err)
}

func TestGroupInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/group/g1/info":
			json.NewEncoder(w).Encode(map[string]string{"name": "my group"})
		case "/v1/group/g1/members":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"users": []map[string]string{{"uuid": "a"}, {"uuid": "b"}, {"uuid": "c"}},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	info, err := testClient(srv.URL).GroupInfo(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "my group", info["group_name"])
	assert.Equal(t, 3, info["member_count"])
	assert.Equal(t, 2000, info["max_member_count"])
}

func TestGroupMemberInfoNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"members": []map[string]string{{"uuid": "a"}},
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL)

	m, err := c.GroupMemberInfo(context.Background(), "g1", "a")
	require.NoError(t, err)
	assert.Equal(t, "a", m["user_id"])

	_, err = c.GroupMemberInfo(context.Background(), "g1", "zz")
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestGroupLeaveDismiss(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		paths = append(paths, r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.GroupLeave(context.Background(), "g1", false)
	require.NoError(t, err)
	_, err = c.GroupLeave(context.Background(), "g1", true)
	require.NoError(t, err)

	assert.Equal(t, []string{"/v1/group/g1/members/me", "/v1/group/g1"}, paths)
}

func TestStatusReflectsProbe(t *testing.T) {
	cfg := &config.Config{ServerURL: "http://unused", SSLCheck: true}
	c := NewClient(cfg)

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, false, st["online"])

	cfg.WSCheck = func(context.Context) bool { return true }
	st, err = c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, true, st["online"])
	assert.Equal(t, true, st["good"])
}

func TestVersionInfo(t *testing.T) {
	v := testClient("http://unused").VersionInfo()
	assert.Equal(t, "MkXI", v["app_name"])
	assert.Equal(t, "v11", v["protocol_version"])
}
