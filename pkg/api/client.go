// Package api is the MkIX REST client: one method per endpoint, all bound to
// the shared Config for credentials and TLS policy.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mkixlab/mkxi/pkg/config"
	"github.com/mkixlab/mkxi/pkg/errs"
	"github.com/mkixlab/mkxi/pkg/logger"
)

// wsDevice is the fixed device id presented when requesting socket
// credentials and pending-request replays.
const wsDevice = "00000000"

type Client struct {
	cfg  *config.Config
	http *http.Client
}

func NewClient(cfg *config.Config) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !cfg.SSLCheck}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
	}
}

func (c *Client) buildURL(endpoint string, query url.Values) string {
	u := strings.TrimRight(c.cfg.ServerURL, "/") + "/" + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

type requestOpts struct {
	auth        bool
	contentType string
	body        []byte
}

// do issues one request and maps the response per the shared policy:
// 5xx → server_error, other non-2xx → protocol_error carrying the server
// detail, otherwise the raw body is returned.
func (c *Client) do(ctx context.Context, method, rawURL string, opts requestOpts) ([]byte, error) {
	var body io.Reader
	if opts.body != nil {
		body = bytes.NewReader(opts.body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, errs.Wrap(errs.Protocol, err, "build request")
	}
	if opts.contentType != "" {
		req.Header.Set("Content-Type", opts.contentType)
	}
	if opts.auth {
		req.Header.Set("Authorization", c.cfg.Token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "fetch "+rawURL)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "read response")
	}

	if res.StatusCode >= 500 {
		return nil, errs.New(errs.Server, "HTTP %d from %s", res.StatusCode, rawURL)
	}
	if res.StatusCode >= 300 {
		return nil, errs.New(errs.Protocol, "HTTP %d detail=%s", res.StatusCode, responseDetail(raw))
	}
	return raw, nil
}

// doJSON is do plus a JSON object decode.
func (c *Client) doJSON(ctx context.Context, method, rawURL string, opts requestOpts) (map[string]interface{}, error) {
	raw, err := c.do(ctx, method, rawURL, opts)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errs.Wrap(errs.Protocol, err, "decode response")
	}
	return out, nil
}

func responseDetail(raw []byte) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return string(raw)
}

// Login performs the password-grant token exchange and returns the bearer
// token value (without the "Bearer " prefix).
func (c *Client) Login(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {c.cfg.Account},
		"password":   {c.cfg.Password},
	}
	res, err := c.doJSON(ctx, http.MethodPost,
		c.buildURL("v1/user/token", url.Values{"isBot": {"true"}}),
		requestOpts{contentType: "application/x-www-form-urlencoded", body: []byte(form.Encode())},
	)
	if err != nil {
		return "", errs.Wrap(errs.Auth, err, "login")
	}
	token, _ := res["access_token"].(string)
	if token == "" {
		return "", errs.New(errs.Auth, "login reply carries no access_token")
	}
	return token, nil
}

// WSToken fetches a short-lived credential for the MkIX socket link.
func (c *Client) WSToken(ctx context.Context) (string, error) {
	res, err := c.doJSON(ctx, http.MethodGet,
		c.buildURL("v1/user/wsToken", url.Values{"device": {wsDevice}}),
		requestOpts{auth: true},
	)
	if err != nil {
		return "", err
	}
	token, _ := res["token"].(string)
	if token == "" {
		return "", errs.New(errs.Protocol, "wsToken reply carries no token")
	}
	return token, nil
}

// Profile is the bot's own account record as the server returns it.
type Profile struct {
	UUID       string `json:"uuid"`
	Username   string `json:"username"`
	Bio        string `json:"bio"`
	LastUpdate string `json:"lastUpdate"`
	Avatar     string `json:"avatar"`
	Groups     []struct {
		Group string `json:"group"`
	} `json:"groups"`
	Friends []struct {
		UUID string `json:"uuid"`
	} `json:"friends"`
}

// GroupIDs flattens the joined groups to plain ids.
func (p *Profile) GroupIDs() []string {
	out := make([]string, 0, len(p.Groups))
	for _, g := range p.Groups {
		out = append(out, g.Group)
	}
	return out
}

// FriendIDs flattens the friend list to plain ids.
func (p *Profile) FriendIDs() []string {
	out := make([]string, 0, len(p.Friends))
	for _, f := range p.Friends {
		out = append(out, f.UUID)
	}
	return out
}

func (c *Client) GetMyProfile(ctx context.Context) (*Profile, error) {
	raw, err := c.do(ctx, http.MethodGet, c.buildURL("v1/user/profile/me", nil), requestOpts{auth: true})
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Wrap(errs.Protocol, err, "decode profile")
	}
	return &p, nil
}

// PostFile uploads a file or audio payload through the REST side-channel and
// returns the server-assigned message time.
func (c *Client) PostFile(ctx context.Context, group, groupType string, payload []byte, payloadType string) (string, error) {
	kind := "user"
	if groupType == "group" {
		kind = "group"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "file")
	if err == nil {
		_, err = fw.Write(payload)
	}
	if err == nil {
		err = mw.WriteField("fileType", payloadType)
	}
	if err == nil {
		err = mw.WriteField("groupType", kind)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return "", errs.Wrap(errs.IO, err, "build multipart body")
	}

	res, err := c.doJSON(ctx, http.MethodPost,
		c.buildURL("v1/"+kind+"/"+group+"/upload", nil),
		requestOpts{auth: true, contentType: mw.FormDataContentType(), body: buf.Bytes()},
	)
	if err != nil {
		return "", err
	}
	t, _ := res["time"].(string)
	if t == "" {
		return "", errs.New(errs.Protocol, "upload reply carries no time")
	}

	logger.DebugCF("api", "File uploaded", map[string]interface{}{
		"group": group,
		"kind":  kind,
		"size":  len(payload),
		"time":  t,
	})
	return t, nil
}

func (c *Client) GroupKick(ctx context.Context, groupID, userID string) (map[string]interface{}, error) {
	return c.doJSON(ctx, http.MethodDelete,
		c.buildURL("v1/group/"+groupID+"/members/"+userID, nil),
		requestOpts{auth: true},
	)
}

func (c *Client) GroupBan(ctx context.Context, groupID, userID string, duration int) (map[string]interface{}, error) {
	body, _ := json.Marshal(map[string]int{"duration": duration})
	return c.doJSON(ctx, http.MethodPost,
		c.buildURL("v1/group/"+groupID+"/members/"+userID+"/ban", nil),
		requestOpts{auth: true, contentType: "application/json", body: body},
	)
}

func (c *Client) GroupAdmin(ctx context.Context, groupID, userID string, enable bool) (map[string]interface{}, error) {
	method := http.MethodPost
	if !enable {
		method = http.MethodDelete
	}
	return c.doJSON(ctx, method,
		c.buildURL("v1/group/"+groupID+"/members/admin/"+userID, nil),
		requestOpts{auth: true},
	)
}

func (c *Client) GroupName(ctx context.Context, groupID, name string) (map[string]interface{}, error) {
	body, _ := json.Marshal(map[string]string{"name": name})
	return c.doJSON(ctx, http.MethodPatch,
		c.buildURL("v1/group/"+groupID+"/info/name", nil),
		requestOpts{auth: true, contentType: "application/json", body: body},
	)
}

func (c *Client) GroupLeave(ctx context.Context, groupID string, isDismiss bool) (map[string]interface{}, error) {
	endpoint := "v1/group/" + groupID + "/members/me"
	if isDismiss {
		endpoint = "v1/group/" + groupID
	}
	return c.doJSON(ctx, http.MethodDelete, c.buildURL(endpoint, nil), requestOpts{auth: true})
}

func (c *Client) FriendAddRequest(ctx context.Context, userID, flag string, approve bool) (map[string]interface{}, error) {
	method := http.MethodPost
	if !approve {
		method = http.MethodDelete
	}
	return c.doJSON(ctx, method,
		c.buildURL("v1/user/"+userID+"/verify/request/"+flag, nil),
		requestOpts{auth: true},
	)
}

func (c *Client) GroupAddRequest(ctx context.Context, groupID, flag string, approve bool) (map[string]interface{}, error) {
	method := http.MethodPost
	if !approve {
		method = http.MethodDelete
	}
	return c.doJSON(ctx, method,
		c.buildURL("v1/group/"+groupID+"/verify/request/"+flag, nil),
		requestOpts{auth: true},
	)
}

// GetFriendRequests asks the server to replay the bot's pending friend-add
// requests over the socket.
func (c *Client) GetFriendRequests(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet,
		c.buildURL("v1/user/"+c.cfg.Account+"/verify/request", url.Values{"device": {wsDevice}}),
		requestOpts{auth: true},
	)
	return err
}

// GetGroupRequests asks the server to replay a group's pending join requests
// over the socket.
func (c *Client) GetGroupRequests(ctx context.Context, groupID string) error {
	_, err := c.do(ctx, http.MethodGet,
		c.buildURL("v1/group/"+groupID+"/verify/request", url.Values{"device": {wsDevice}}),
		requestOpts{auth: true},
	)
	return err
}

func (c *Client) LoginInfo(ctx context.Context) (map[string]interface{}, error) {
	res, err := c.doJSON(ctx, http.MethodGet, c.buildURL("v1/user/profile/me", nil), requestOpts{auth: true})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"user_id":  res["uuid"],
		"nickname": res["username"],
	}, nil
}

func (c *Client) StrangerInfo(ctx context.Context, userID string) (map[string]interface{}, error) {
	res, err := c.doJSON(ctx, http.MethodGet, c.buildURL("v1/user/"+userID+"/profile", nil), requestOpts{})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"user_id":  userID,
		"nickname": res["username"],
		"sex":      "unknown",
		"age":      -1,
		"avatar":   res["avatar"],
	}, nil
}

func (c *Client) FriendList(ctx context.Context) ([]map[string]interface{}, error) {
	p, err := c.GetMyProfile(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(p.Friends))
	for _, f := range p.Friends {
		out = append(out, map[string]interface{}{
			"user_id":  f.UUID,
			"nickname": "",
			"remark":   "",
		})
	}
	return out, nil
}

// GroupInfo composes the public group record with the member roster.
func (c *Client) GroupInfo(ctx context.Context, groupID string) (map[string]interface{}, error) {
	info, err := c.doJSON(ctx, http.MethodGet, c.buildURL("v1/group/"+groupID+"/info", nil), requestOpts{})
	if err != nil {
		return nil, err
	}
	members, err := c.doJSON(ctx, http.MethodGet, c.buildURL("v1/group/"+groupID+"/members", nil), requestOpts{auth: true})
	if err != nil {
		return nil, err
	}
	users, _ := members["users"].([]interface{})
	return map[string]interface{}{
		"group_id":         groupID,
		"group_name":       info["name"],
		"member_count":     len(users),
		"max_member_count": 2000,
	}, nil
}

func (c *Client) GroupList(ctx context.Context) ([]map[string]interface{}, error) {
	p, err := c.GetMyProfile(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(p.Groups))
	for _, g := range p.Groups {
		out = append(out, map[string]interface{}{
			"group_id":         g.Group,
			"group_name":       "",
			"member_count":     -1,
			"max_member_count": -1,
		})
	}
	return out, nil
}

func (c *Client) GroupMemberList(ctx context.Context, groupID string) ([]map[string]interface{}, error) {
	res, err := c.doJSON(ctx, http.MethodGet, c.buildURL("v1/group/"+groupID+"/members", nil), requestOpts{auth: true})
	if err != nil {
		return nil, err
	}
	members, _ := res["members"].([]interface{})
	out := make([]map[string]interface{}, 0, len(members))
	for _, m := range members {
		entry, _ := m.(map[string]interface{})
		out = append(out, map[string]interface{}{
			"group_id": groupID,
			"user_id":  entry["uuid"],
		})
	}
	return out, nil
}

func (c *Client) GroupMemberInfo(ctx context.Context, groupID, userID string) (map[string]interface{}, error) {
	members, err := c.GroupMemberList(ctx, groupID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m["user_id"] == userID {
			return map[string]interface{}{
				"group_id": groupID,
				"user_id":  userID,
				"nickname": "",
				"role":     "member",
			}, nil
		}
	}
	return nil, errs.New(errs.NotFound, "user %s not in group %s", userID, groupID)
}

// Status reports link health from the MkIX socket liveness probe.
func (c *Client) Status(ctx context.Context) (map[string]interface{}, error) {
	online := false
	if c.cfg.WSCheck != nil {
		online = c.cfg.WSCheck(ctx)
	}
	return map[string]interface{}{
		"online": online,
		"good":   online,
	}, nil
}

// VersionInfo is the bridge's static OneBot identity.
func (c *Client) VersionInfo() map[string]interface{} {
	return map[string]interface{}{
		"app_name":         "MkXI",
		"app_version":      "1.0.0",
		"protocol_version": "v11",
	}
}
