package coordinator

import "sync"

// Registry is the bidirectional mapping between live connections and
// identities. At most one connection is bound per identity; binding a new
// connection evicts the previous one.
type Registry struct {
	mu         sync.RWMutex
	byIdentity map[string]string // identity id -> connection id
	byConn     map[string]string // connection id -> identity id
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[string]string),
		byConn:     make(map[string]string),
	}
}

// Bind installs the identity -> connection binding, removing any previous
// binding for that identity first. Returns the evicted connection id, if
// any, so the caller can close it. Rebinding the same connection is a no-op.
func (r *Registry) Bind(connID, identityID string) (evicted string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.byIdentity[identityID]
	if ok && prev != connID {
		delete(r.byConn, prev)
		evicted = prev
	}
	r.byIdentity[identityID] = connID
	r.byConn[connID] = identityID
	return evicted
}

// Unbind removes both directions of the mapping for the connection. Returns
// the identity the connection belonged to and whether it was still the
// identity's current binding. A stale unbind, where the identity has already
// rebound to a newer connection, only cleans up the reverse mapping.
func (r *Registry) Unbind(connID string) (identityID string, current bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identityID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)

	if r.byIdentity[identityID] == connID {
		delete(r.byIdentity, identityID)
		return identityID, true
	}
	return identityID, false
}

// ConnectionFor returns the connection currently bound to the identity.
func (r *Registry) ConnectionFor(identityID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.byIdentity[identityID]
	return connID, ok
}

// IdentityFor returns the identity the connection is bound to.
func (r *Registry) IdentityFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identityID, ok := r.byConn[connID]
	return identityID, ok
}
