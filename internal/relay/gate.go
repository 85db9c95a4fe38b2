package relay

import (
	"sync"

	"github.com/1ureka/syncrelay/internal/protocol"
)

// Gate holds the relay's own identity and signals, exactly once, when that
// identity is first assigned.
type Gate struct {
	mu       sync.RWMutex
	peerID   protocol.PeerID
	metadata protocol.PeerMetadata

	ready     chan struct{}
	readyOnce sync.Once
}

// NewGate creates a gate with no identity assigned.
func NewGate() *Gate {
	return &Gate{ready: make(chan struct{})}
}

// Connect assigns the local identity. The first call closes the WhenReady
// channel; later calls replace the identity without signalling again.
// It reports whether this call was the first.
func (g *Gate) Connect(peerID protocol.PeerID, metadata protocol.PeerMetadata) bool {
	g.mu.Lock()
	g.peerID = peerID
	g.metadata = metadata
	g.mu.Unlock()

	first := false
	g.readyOnce.Do(func() {
		close(g.ready)
		first = true
	})
	return first
}

// IsReady reports whether an identity has been assigned.
func (g *Gate) IsReady() bool {
	select {
	case <-g.ready:
		return true
	default:
		return false
	}
}

// WhenReady returns a channel closed when the identity is first assigned.
func (g *Gate) WhenReady() <-chan struct{} {
	return g.ready
}

// Identity returns the current local identity.
func (g *Gate) Identity() (protocol.PeerID, protocol.PeerMetadata) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.peerID, g.metadata
}
