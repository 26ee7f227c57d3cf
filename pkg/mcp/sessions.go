package mcp

import (
	"sort"
	"sync"
)

// SessionRegistry maps automation IDs to the MCP sessions watching their runs.
// Populated when a client starts an async run.
type SessionRegistry struct {
	mu       sync.RWMutex
	watchers map[string]map[string]struct{} // automationID → sessionIDs
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{watchers: make(map[string]map[string]struct{})}
}

// Watch subscribes a session to the runs of an automation.
func (r *SessionRegistry) Watch(automationID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.watchers[automationID]
	if !ok {
		set = make(map[string]struct{})
		r.watchers[automationID] = set
	}
	set[sessionID] = struct{}{}
}

// SessionsFor returns the sessions watching an automation, sorted.
func (r *SessionRegistry) SessionsFor(automationID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.watchers[automationID]
	ids := make([]string, 0, len(set))
	for sid := range set {
		ids = append(ids, sid)
	}
	sort.Strings(ids)
	return ids
}

// Remove deletes every subscription of the given session.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for aid, set := range r.watchers {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.watchers, aid)
		}
	}
}
