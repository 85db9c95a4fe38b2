package relay

import (
	"fmt"
	"sort"
	"sync"

	"github.com/1ureka/syncrelay/internal/protocol"
	"github.com/1ureka/syncrelay/internal/transport"
)

// State is the handshake state of one transport connection.
type State int

const (
	StateClosed State = iota
	StateUnidentified
	StateIdentified
)

func (s State) String() string {
	switch s {
	case StateUnidentified:
		return "unidentified"
	case StateIdentified:
		return "identified"
	default:
		return "closed"
	}
}

// Entry binds a logical peer to the connection currently carrying it.
type Entry struct {
	PeerID  protocol.PeerID
	Conn    transport.Conn
	Version protocol.ProtocolVersion
}

// Registry tracks open connections and the dual-keyed mapping between
// connections and logical peer ids. Both indexes are only mutated under mu,
// so a reader never observes an entry present in one and missing from the
// other.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*slot // keyed by conn.ID()
	peers map[protocol.PeerID]*Entry
}

// slot is the registry's record of one open connection.
type slot struct {
	conn  transport.Conn
	entry *Entry // nil while unidentified
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*slot),
		peers: make(map[protocol.PeerID]*Entry),
	}
}

// Register records a newly opened, not yet identified connection.
// It reports false if the connection is already registered.
func (r *Registry) Register(conn transport.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn.ID()]; ok {
		return false
	}
	r.conns[conn.ID()] = &slot{conn: conn}
	return true
}

// Bind creates or replaces the entry for peerID on conn. If peerID was bound
// to a different connection, that entry is removed and returned so the caller
// can report the eviction. conn must be registered and must not already carry
// a different peer id.
func (r *Registry) Bind(peerID protocol.PeerID, conn transport.Conn, version protocol.ProtocolVersion) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.conns[conn.ID()]
	if !ok {
		return nil, fmt.Errorf("bind %q: %w", peerID, ErrUnknownConn)
	}
	if s.entry != nil && s.entry.PeerID != peerID {
		return nil, fmt.Errorf("bind %q on %s (carries %q): %w", peerID, conn.ID(), s.entry.PeerID, ErrAlreadyBound)
	}

	var evicted *Entry
	if prev, ok := r.peers[peerID]; ok && prev.Conn.ID() != conn.ID() {
		evicted = prev
		if ps, ok := r.conns[prev.Conn.ID()]; ok {
			ps.entry = nil
		}
	}

	e := &Entry{PeerID: peerID, Conn: conn, Version: version}
	s.entry = e
	r.peers[peerID] = e
	return evicted, nil
}

// Evict removes the entry for peerID, leaving its connection registered but
// unidentified.
func (r *Registry) Evict(peerID protocol.PeerID) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.peers[peerID]
	if !ok {
		return Entry{}, false
	}
	delete(r.peers, peerID)
	if s, ok := r.conns[e.Conn.ID()]; ok && s.entry == e {
		s.entry = nil
	}
	return *e, true
}

// UnbindByConnection removes the entry carried by conn, if any, and returns
// the freed peer id. The connection stays registered.
func (r *Registry) UnbindByConnection(conn transport.Conn) (protocol.PeerID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unbindLocked(conn.ID())
}

// Unregister forgets conn entirely, removing its entry if it had one, and
// returns the freed peer id.
func (r *Registry) Unregister(conn transport.Conn) (protocol.PeerID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peerID, ok := r.unbindLocked(conn.ID())
	delete(r.conns, conn.ID())
	return peerID, ok
}

func (r *Registry) unbindLocked(connID string) (protocol.PeerID, bool) {
	s, ok := r.conns[connID]
	if !ok || s.entry == nil {
		return "", false
	}
	peerID := s.entry.PeerID
	if cur, ok := r.peers[peerID]; ok && cur == s.entry {
		delete(r.peers, peerID)
	}
	s.entry = nil
	return peerID, true
}

// LookupByPeerID returns the connection currently bound to peerID.
func (r *Registry) LookupByPeerID(peerID protocol.PeerID) (transport.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.peers[peerID]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

// LookupByConnection returns the peer id carried by conn.
func (r *Registry) LookupByConnection(conn transport.Conn) (protocol.PeerID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.conns[conn.ID()]
	if !ok || s.entry == nil {
		return "", false
	}
	return s.entry.PeerID, true
}

// Entry returns a copy of the entry for peerID.
func (r *Registry) Entry(peerID protocol.PeerID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.peers[peerID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// State returns the handshake state of conn.
func (r *Registry) State(conn transport.Conn) State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.conns[conn.ID()]
	switch {
	case !ok:
		return StateClosed
	case s.entry == nil:
		return StateUnidentified
	default:
		return StateIdentified
	}
}

// Peers returns the bound peer ids in sorted order.
func (r *Registry) Peers() []protocol.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]protocol.PeerID, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Conns returns a snapshot of every registered connection.
func (r *Registry) Conns() []transport.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]transport.Conn, 0, len(r.conns))
	for _, s := range r.conns {
		conns = append(conns, s.conn)
	}
	return conns
}

// Len returns the number of bound entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// ConnCount returns the number of registered connections.
func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
