package model

import "sync"

// MyProfile is the bot's own identity plus its live group and friend sets.
// The sets are mutated from socket callbacks and action handlers, so all
// access goes through the mutex.
type MyProfile struct {
	UUID       string
	Username   string
	Bio        string
	LastUpdate string

	mu      sync.RWMutex
	groups  map[string]struct{}
	friends map[string]struct{}
}

func NewMyProfile(uuid, username, bio, lastUpdate string, groups, friends []string) *MyProfile {
	p := &MyProfile{
		UUID:       uuid,
		Username:   username,
		Bio:        bio,
		LastUpdate: lastUpdate,
		groups:     make(map[string]struct{}, len(groups)),
		friends:    make(map[string]struct{}, len(friends)),
	}
	for _, g := range groups {
		p.groups[g] = struct{}{}
	}
	for _, f := range friends {
		p.friends[f] = struct{}{}
	}
	return p
}

func (p *MyProfile) HasGroup(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.groups[id]
	return ok
}

func (p *MyProfile) AddGroup(id string) {
	p.mu.Lock()
	p.groups[id] = struct{}{}
	p.mu.Unlock()
}

func (p *MyProfile) RemoveGroup(id string) {
	p.mu.Lock()
	delete(p.groups, id)
	p.mu.Unlock()
}

func (p *MyProfile) HasFriend(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.friends[id]
	return ok
}

func (p *MyProfile) AddFriend(id string) {
	p.mu.Lock()
	p.friends[id] = struct{}{}
	p.mu.Unlock()
}

func (p *MyProfile) RemoveFriend(id string) {
	p.mu.Lock()
	delete(p.friends, id)
	p.mu.Unlock()
}

// Groups returns a snapshot of the joined group ids.
func (p *MyProfile) Groups() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.groups))
	for g := range p.groups {
		out = append(out, g)
	}
	return out
}

// Friends returns a snapshot of the friend ids.
func (p *MyProfile) Friends() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.friends))
	for f := range p.friends {
		out = append(out, f)
	}
	return out
}
