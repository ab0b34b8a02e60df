package memo

import (
	"sync"

	"github.com/mkixlab/mkxi/pkg/errs"
	"github.com/mkixlab/mkxi/pkg/model"
)

// statePending is the MkIX state string marking an add request that still
// awaits review.
const statePending = "等待审核"

// RequestMemo keeps pending join-group and friend-add requests keyed by
// their message time, which is the OneBot flag. The action dispatcher reads
// it to recover the originating group/user id behind a bare flag.
type RequestMemo struct {
	mu      sync.Mutex
	friends map[string]string // flag -> user id
	groups  map[string]string // flag -> group id
}

func NewRequestMemo() *RequestMemo {
	return &RequestMemo{
		friends: make(map[string]string),
		groups:  make(map[string]string),
	}
}

// Put records a pending request frame. Frames in any other state are
// ignored.
func (r *RequestMemo) Put(msg *model.MkIXSystemMessage) {
	if msg.State != statePending {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch msg.Type {
	case "join":
		r.groups[msg.Time] = msg.Target
	case "friend":
		r.friends[msg.Time] = msg.Target
	}
}

// Get resolves a flag back to its group or user id.
func (r *RequestMemo) Get(flag, kind string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var table map[string]string
	switch kind {
	case "group":
		table = r.groups
	case "friend":
		table = r.friends
	default:
		return "", errs.New(errs.Usage, "invalid request kind: %s", kind)
	}

	id, ok := table[flag]
	if !ok {
		return "", errs.New(errs.NotFound, "invalid flag: %s", flag)
	}
	return id, nil
}
