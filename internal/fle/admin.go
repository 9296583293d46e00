package fle

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// AdminBean is the observability record for one in-flight election (§6:
// "a management bean registered on entry to lookForLeader and
// unregistered on exit").
type AdminBean struct {
	ID        string
	PeerSid   PeerID
	StartedAt time.Time
}

// AdminRegistry tracks every AdminBean currently registered across all
// local peers (a demo process typically runs several in-process peers, so
// this is keyed by bean ID rather than assuming a single election at a
// time).
type AdminRegistry struct {
	mu    sync.RWMutex
	beans map[string]AdminBean
}

// NewAdminRegistry constructs an empty registry.
func NewAdminRegistry() *AdminRegistry {
	return &AdminRegistry{beans: make(map[string]AdminBean)}
}

// Register creates and stores a bean for a newly started election, returning
// its ID for the matching Unregister call.
func (r *AdminRegistry) Register(sid PeerID, startedAt time.Time) string {
	id := uuid.New().String()

	r.mu.Lock()
	r.beans[id] = AdminBean{ID: id, PeerSid: sid, StartedAt: startedAt}
	r.mu.Unlock()

	return id
}

// Unregister removes the bean with the given ID.
func (r *AdminRegistry) Unregister(id string) {
	r.mu.Lock()
	delete(r.beans, id)
	r.mu.Unlock()
}

// Snapshot returns every currently registered bean, e.g. for an admin
// endpoint listing in-flight elections.
func (r *AdminRegistry) Snapshot() []AdminBean {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AdminBean, 0, len(r.beans))
	for _, b := range r.beans {
		out = append(out, b)
	}
	return out
}
