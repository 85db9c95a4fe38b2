package relay

import (
	"errors"
	"fmt"

	"github.com/1ureka/syncrelay/internal/protocol"
)

var (
	// ErrPeerNotFound means no live connection is bound to the target id.
	ErrPeerNotFound = errors.New("peer not found")
	// ErrNoTarget means an outbound message carried no targetId.
	ErrNoTarget = errors.New("message has no target")
	// ErrVersionMismatch means a join offered no supported protocol version.
	ErrVersionMismatch = errors.New("no common protocol version")
	// ErrNotReady means the relay's own identity has not been assigned yet.
	ErrNotReady = errors.New("relay identity not assigned")
	// ErrUnknownConn means the connection was never registered or is gone.
	ErrUnknownConn = errors.New("connection not registered")
	// ErrAlreadyBound means the connection already carries another peer id.
	ErrAlreadyBound = errors.New("connection bound to another peer")
)

// RoutingError reports an outbound message that could not be delivered.
// The message is dropped; nothing is retried or buffered.
type RoutingError struct {
	Type     string
	TargetID protocol.PeerID
	Err      error
}

func (e *RoutingError) Error() string {
	if e.TargetID == "" {
		return fmt.Sprintf("route %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("route %s to %q: %v", e.Type, e.TargetID, e.Err)
}

func (e *RoutingError) Unwrap() error { return e.Err }

// VersionMismatchError reports a join whose offered versions share nothing
// with the relay's supported set.
type VersionMismatchError struct {
	PeerID    protocol.PeerID
	Offered   []protocol.ProtocolVersion
	Supported []protocol.ProtocolVersion
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("%s: peer %q offered %v, relay supports %v",
		ErrVersionMismatch, e.PeerID, e.Offered, e.Supported)
}

func (e *VersionMismatchError) Unwrap() error { return ErrVersionMismatch }
