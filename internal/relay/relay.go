// Package relay bridges transport connections to a peer-identified
// document-sync protocol. It performs the join handshake, keeps the
// connection <-> peer id registry and routes outbound envelopes.
//
// All inbound transport events are serialized by one mutex, so registry
// mutation has a single writer and events reach listeners in the order the
// registry changed. Send only takes the registry's read lock and may be
// called from any goroutine, including from inside a listener.
package relay

import (
	"sync"
	"time"

	"github.com/1ureka/syncrelay/internal/protocol"
	"github.com/1ureka/syncrelay/internal/transport"
	"github.com/1ureka/syncrelay/internal/util"
)

// Options tune relay policy.
type Options struct {
	// SupportedVersions in preference order. Defaults to protocol.Version1.
	SupportedVersions []protocol.ProtocolVersion

	// HandshakeTimeout closes connections that have not completed a join in
	// time. Zero disables the deadline.
	HandshakeTimeout time.Duration

	// CloseSuperseded closes the old connection when a newer join takes over
	// its peer id.
	CloseSuperseded bool
}

// DefaultOptions returns the production policy.
func DefaultOptions() Options {
	return Options{
		SupportedVersions: []protocol.ProtocolVersion{protocol.Version1},
		HandshakeTimeout:  30 * time.Second,
		CloseSuperseded:   true,
	}
}

// Relay implements transport.Handler.
type Relay struct {
	gate     *Gate
	registry *Registry
	emitter  Emitter
	opts     Options

	mu        sync.Mutex // serializes transport events
	deadlines map[string]*time.Timer
}

var _ transport.Handler = (*Relay)(nil)

// New creates a relay with no local identity. Call Connect before serving.
func New(opts Options) *Relay {
	if len(opts.SupportedVersions) == 0 {
		opts.SupportedVersions = []protocol.ProtocolVersion{protocol.Version1}
	}
	return &Relay{
		gate:      NewGate(),
		registry:  NewRegistry(),
		opts:      opts,
		deadlines: make(map[string]*time.Timer),
	}
}

// ---------------------------------------------------------------------------
// Local identity
// ---------------------------------------------------------------------------

// Connect assigns the relay's own peer id and metadata.
func (r *Relay) Connect(peerID protocol.PeerID, metadata protocol.PeerMetadata) {
	if r.gate.Connect(peerID, metadata) {
		util.LogInfo("relay identity assigned: %s", peerID)
	} else {
		util.LogDebug("relay identity replaced: %s", peerID)
	}
}

// IsReady reports whether Connect has been called.
func (r *Relay) IsReady() bool { return r.gate.IsReady() }

// WhenReady returns a channel closed by the first Connect.
func (r *Relay) WhenReady() <-chan struct{} { return r.gate.WhenReady() }

// PeerID returns the relay's own peer id.
func (r *Relay) PeerID() protocol.PeerID {
	id, _ := r.gate.Identity()
	return id
}

// ---------------------------------------------------------------------------
// Document engine side
// ---------------------------------------------------------------------------

// Subscribe registers a listener for peer and message events.
//
// Listeners run synchronously while the relay holds its event lock: they may
// call Send, but must not call Disconnect or feed transport events back in.
func (r *Relay) Subscribe(fn Listener) (unsubscribe func()) {
	return r.emitter.Subscribe(fn)
}

// Registry exposes the connection registry for inspection.
func (r *Relay) Registry() *Registry { return r.registry }

// Health is a point-in-time summary served by the health endpoint.
type Health struct {
	Ready       bool            `json:"ready"`
	PeerID      protocol.PeerID `json:"peerId,omitempty"`
	Peers       int             `json:"peers"`
	Connections int             `json:"connections"`
}

// Health reports readiness and registry sizes.
func (r *Relay) Health() Health {
	return Health{
		Ready:       r.IsReady(),
		PeerID:      r.PeerID(),
		Peers:       r.registry.Len(),
		Connections: r.registry.ConnCount(),
	}
}

// Disconnect closes every connection and clears the registry, emitting
// peer-disconnected for each bound peer.
func (r *Relay) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, conn := range r.registry.Conns() {
		r.forget(conn)
		if err := conn.Close(); err != nil {
			util.LogDebug("[%s] close: %v", conn.ID(), err)
		}
	}
}

// ---------------------------------------------------------------------------
// Transport side
// ---------------------------------------------------------------------------

// OnOpen registers a new, unidentified connection and arms its handshake
// deadline.
func (r *Relay) OnOpen(conn transport.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.registry.Register(conn) {
		util.LogWarning("[%s] opened twice, ignoring", conn.ID())
		return
	}
	util.Stats.AddConn()
	util.LogDebug("[%s] connection opened", conn.ID())

	r.armDeadline(conn)
}

// OnMessage decodes one inbound frame and dispatches it. Malformed frames are
// dropped; the connection stays open.
func (r *Relay) OnMessage(conn transport.Conn, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	util.Stats.AddRecv(len(data))

	if r.registry.State(conn) == StateClosed {
		util.LogDebug("[%s] frame on unregistered connection, dropping", conn.ID())
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		util.Stats.DecodeErrors.Add(1)
		util.LogWarning("[%s] decode error: %v", conn.ID(), err)
		return
	}

	documentID := msg.DocumentID()
	if documentID != "" {
		documentID = "@" + documentID
	}
	util.LogDebug("[%s->%s%s] %s | %d bytes", msg.SenderID, r.PeerID(), documentID, msg.Type, len(data))

	if msg.IsJoin() {
		r.handleJoin(conn, msg)
		return
	}

	// Join-first is not enforced: unidentified connections may already
	// carry sync traffic.
	r.emitter.Emit(MessageReceived{Message: msg})
}

// OnClose removes the connection and its entry, if any.
func (r *Relay) OnClose(conn transport.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.forget(conn) {
		util.LogDebug("[%s] connection closed", conn.ID())
	}
}

// OnError is handled like a close; the connection is torn down as well.
func (r *Relay) OnError(conn transport.Conn, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	util.LogWarning("[%s] transport error: %v", conn.ID(), err)
	r.forget(conn)
	if cerr := conn.Close(); cerr != nil {
		util.LogDebug("[%s] close after error: %v", conn.ID(), cerr)
	}
}

// forget stops the handshake deadline, unregisters conn and reports a freed
// peer id. It returns false if conn was not registered. Caller holds r.mu.
func (r *Relay) forget(conn transport.Conn) bool {
	r.stopDeadline(conn)

	if r.registry.State(conn) == StateClosed {
		return false
	}

	peerID, bound := r.registry.Unregister(conn)
	util.Stats.RemoveConn()
	if bound {
		util.LogInfo("[%s] peer %s disconnected", conn.ID(), peerID)
		r.emitter.Emit(PeerDisconnected{PeerID: peerID})
	}
	return true
}

// expire closes a connection that never completed its handshake.
func (r *Relay) expire(conn transport.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, armed := r.deadlines[conn.ID()]; !armed {
		return
	}
	delete(r.deadlines, conn.ID())

	if r.registry.State(conn) != StateUnidentified {
		return
	}

	util.Stats.Timeouts.Add(1)
	util.LogWarning("[%s] no join within %v, closing", conn.ID(), r.opts.HandshakeTimeout)
	r.forget(conn)
	if err := conn.Close(); err != nil {
		util.LogDebug("[%s] close: %v", conn.ID(), err)
	}
}

// armDeadline (re)starts the handshake deadline for an unidentified
// connection. Caller holds r.mu.
func (r *Relay) armDeadline(conn transport.Conn) {
	if r.opts.HandshakeTimeout <= 0 {
		return
	}
	r.stopDeadline(conn)
	r.deadlines[conn.ID()] = time.AfterFunc(r.opts.HandshakeTimeout, func() {
		r.expire(conn)
	})
}

// stopDeadline disarms the handshake deadline. Caller holds r.mu.
func (r *Relay) stopDeadline(conn transport.Conn) {
	if t, ok := r.deadlines[conn.ID()]; ok {
		t.Stop()
		delete(r.deadlines, conn.ID())
	}
}
