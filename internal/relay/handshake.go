package relay

import (
	"github.com/1ureka/syncrelay/internal/protocol"
	"github.com/1ureka/syncrelay/internal/transport"
	"github.com/1ureka/syncrelay/internal/util"
)

// handleJoin runs the handshake for one join envelope. Caller holds r.mu.
//
// Order matters: a previous entry for the same id is evicted and reported
// before the new candidate is announced, so listeners never see two live
// entries for one id.
func (r *Relay) handleJoin(conn transport.Conn, msg *protocol.Message) {
	peerID := msg.SenderID

	if !r.gate.IsReady() {
		util.Stats.Rejected.Add(1)
		util.LogWarning("[%s] join from %s before relay identity is set: %v", conn.ID(), peerID, ErrNotReady)
		r.forget(conn)
		r.closeConn(conn)
		return
	}

	// A connection carries at most one id: switching ids drops the old one.
	if current, ok := r.registry.LookupByConnection(conn); ok && current != peerID {
		r.registry.UnbindByConnection(conn)
		util.LogInfo("[%s] peer %s rejoined as %s", conn.ID(), current, peerID)
		r.emitter.Emit(PeerDisconnected{PeerID: current})
	}

	if prior, ok := r.registry.Evict(peerID); ok {
		util.Stats.Evictions.Add(1)
		r.emitter.Emit(PeerDisconnected{PeerID: peerID})

		if prior.Conn.ID() != conn.ID() {
			util.LogInfo("[%s] peer %s superseded by connection %s", prior.Conn.ID(), peerID, conn.ID())
			if r.opts.CloseSuperseded {
				r.forget(prior.Conn)
				r.closeConn(prior.Conn)
			} else {
				// Back to unidentified: it must join again in time.
				r.armDeadline(prior.Conn)
			}
		}
	}

	r.emitter.Emit(PeerCandidate{PeerID: peerID, Metadata: msg.PeerMetadata})

	selfID, selfMeta := r.gate.Identity()

	version, err := r.negotiate(peerID, msg.SupportedProtocolVersions)
	if err != nil {
		util.Stats.Rejected.Add(1)
		util.LogWarning("[%s] rejecting join: %v", conn.ID(), err)

		r.sendOn(conn, protocol.NewError(selfID, "unsupported protocol version", peerID))
		// The candidate above never got a binding; retract it.
		r.emitter.Emit(PeerDisconnected{PeerID: peerID})
		r.forget(conn)
		r.closeConn(conn)
		return
	}

	if _, err := r.registry.Bind(peerID, conn, version); err != nil {
		util.LogError("[%s] bind %s: %v", conn.ID(), peerID, err)
		r.emitter.Emit(PeerDisconnected{PeerID: peerID})
		r.armDeadline(conn)
		return
	}
	r.stopDeadline(conn)
	util.Stats.Handshakes.Add(1)
	util.LogInfo("[%s] peer %s joined (protocol v%s)", conn.ID(), peerID, version)

	r.sendOn(conn, protocol.NewPeer(selfID, selfMeta, version, peerID))
}

// negotiate picks the first offered version the relay supports.
func (r *Relay) negotiate(peerID protocol.PeerID, offered []protocol.ProtocolVersion) (protocol.ProtocolVersion, error) {
	for _, v := range offered {
		for _, s := range r.opts.SupportedVersions {
			if v == s {
				return v, nil
			}
		}
	}
	return "", &VersionMismatchError{
		PeerID:    peerID,
		Offered:   offered,
		Supported: r.opts.SupportedVersions,
	}
}

// closeConn closes a connection, logging rather than returning failures.
func (r *Relay) closeConn(conn transport.Conn) {
	if err := conn.Close(); err != nil {
		util.LogDebug("[%s] close: %v", conn.ID(), err)
	}
}
