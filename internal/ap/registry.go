package ap

import (
	"sync"

	"github.com/cornelk/hashmap"
)

// Registry is the single source of truth for "is this device connected".
// It is read by caller goroutines and mutated by both caller goroutines
// (connect/disconnect) and the backend event dispatcher (implicit
// link-closed cleanup); mutations are serialized.
//
// Each access point owns its own Registry; there is no process-wide
// sharing.
type Registry struct {
	mu    sync.Mutex
	conns *hashmap.Map[string, *Connection]
}

func NewRegistry() *Registry {
	return &Registry{conns: hashmap.New[string, *Connection]()}
}

// Get looks up a connection by address, case-insensitively.
func (r *Registry) Get(address string) (*Connection, bool) {
	return r.conns.Get(NormalizeAddress(address))
}

// Put registers a connection under its normalized address.
func (r *Registry) Put(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns.Set(NormalizeAddress(conn.Address), conn)
}

// Remove deletes the connection for address and returns it. The boolean
// is false when no connection was registered, which makes teardown paths
// naturally idempotent: only the caller that actually removed the entry
// publishes the status change.
func (r *Registry) Remove(address string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := NormalizeAddress(address)
	conn, ok := r.conns.Get(key)
	if !ok {
		return nil, false
	}
	r.conns.Del(key)
	return conn, true
}

// RemoveByHandle deletes the connection owning the backend handle and
// returns it. Used by link-closed cleanup, where only the handle is known.
func (r *Registry) RemoveByHandle(handle int) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *Connection
	r.conns.Range(func(key string, conn *Connection) bool {
		if conn.Handle == handle {
			found = conn
			return false
		}
		return true
	})
	if found == nil {
		return nil, false
	}
	r.conns.Del(NormalizeAddress(found.Address))
	return found, true
}

// Len returns the current connection count.
func (r *Registry) Len() int {
	return r.conns.Len()
}

// Range calls fn for every registered connection until fn returns false.
func (r *Registry) Range(fn func(*Connection) bool) {
	r.conns.Range(func(_ string, conn *Connection) bool {
		return fn(conn)
	})
}

// Addresses returns a snapshot of registered addresses in native case.
func (r *Registry) Addresses() []string {
	addrs := make([]string, 0, r.conns.Len())
	r.conns.Range(func(_ string, conn *Connection) bool {
		addrs = append(addrs, conn.Address)
		return true
	})
	return addrs
}
