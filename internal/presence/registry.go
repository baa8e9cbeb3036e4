// Package presence tracks which identities currently own a live connection.
//
// The Registry is the single source of truth for "is X reachable right now".
// It maps an identity to at most one connection handle; a new registration for
// the same identity overwrites the previous handle, which then becomes
// unaddressable by identity.
package presence

import (
	"sort"
	"sync"
)

// Registry is a mutex-guarded identity -> connection handle map.
// The zero value is not usable; call NewRegistry.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]string
	byConn map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]string),
		byConn: make(map[string]string),
	}
}

// Register maps identity to conn, replacing any previous handle, and returns the
// online snapshot the caller should broadcast. An empty identity or handle is
// ignored and the current snapshot is returned unchanged.
func (r *Registry) Register(identity, conn string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if identity == "" || conn == "" {
		return r.onlineLocked()
	}

	if prev, ok := r.byUser[identity]; ok {
		delete(r.byConn, prev)
	}
	if owner, ok := r.byConn[conn]; ok && owner != identity {
		delete(r.byUser, owner)
	}
	r.byUser[identity] = conn
	r.byConn[conn] = identity

	return r.onlineLocked()
}

// Unregister removes the entry owned by this exact handle. A handle that was
// overwritten by a later Register yields ok == false and changes nothing.
func (r *Registry) Unregister(conn string) (identity string, online []string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok = r.byConn[conn]
	if !ok {
		return "", nil, false
	}
	delete(r.byConn, conn)
	if r.byUser[identity] == conn {
		delete(r.byUser, identity)
	}
	return identity, r.onlineLocked(), true
}

// Lookup returns the handle currently owned by identity.
func (r *Registry) Lookup(identity string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.byUser[identity]
	return conn, ok
}

// Online returns the sorted set of identities with a live connection.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onlineLocked()
}

// Len reports the number of online identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) onlineLocked() []string {
	online := make([]string, 0, len(r.byUser))
	for identity := range r.byUser {
		online = append(online, identity)
	}
	sort.Strings(online)
	return online
}
