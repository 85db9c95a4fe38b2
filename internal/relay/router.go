package relay

import (
	"fmt"

	"github.com/1ureka/syncrelay/internal/protocol"
	"github.com/1ureka/syncrelay/internal/transport"
	"github.com/1ureka/syncrelay/internal/util"
)

// Send routes msg to the connection bound to msg.TargetID. Delivery is
// at-most-once: there is no acknowledgement, retry or buffering for offline
// peers. An unknown target yields a *RoutingError and leaves the registry
// untouched.
func (r *Relay) Send(msg *protocol.Message) error {
	if msg == nil {
		return fmt.Errorf("send: nil message")
	}
	if msg.TargetID == "" {
		util.Stats.Dropped.Add(1)
		return &RoutingError{Type: msg.Type, Err: ErrNoTarget}
	}

	conn, ok := r.registry.LookupByPeerID(msg.TargetID)
	if !ok {
		util.Stats.Dropped.Add(1)
		util.LogWarning("peer not found: %s (dropping %s)", msg.TargetID, msg.Type)
		return &RoutingError{Type: msg.Type, TargetID: msg.TargetID, Err: ErrPeerNotFound}
	}

	return r.write(conn, msg)
}

// sendOn writes a handshake reply directly to conn, which may not be bound
// yet. Failures are logged.
func (r *Relay) sendOn(conn transport.Conn, msg *protocol.Message) {
	if err := r.write(conn, msg); err != nil {
		util.LogWarning("[%s] %v", conn.ID(), err)
	}
}

func (r *Relay) write(conn transport.Conn, msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.Type, msg.TargetID, err)
	}
	if err := conn.Send(data); err != nil {
		util.Stats.Dropped.Add(1)
		return fmt.Errorf("send %s to %s: %w", msg.Type, msg.TargetID, err)
	}
	util.Stats.Routed.Add(1)
	util.Stats.AddSent(len(data))
	return nil
}
