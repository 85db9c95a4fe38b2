// Package transport defines the capability interface the relay depends on for
// every physical connection, and the lifecycle callbacks a transport delivers.
// Concrete transports (WebSocket, WebRTC DataChannel, ZeroMQ) live in their own
// packages and only need to satisfy these two interfaces.
package transport

import "errors"

var (
	// ErrClosed is returned by Send on a connection that has been closed.
	ErrClosed = errors.New("transport: connection closed")
	// ErrBackpressure is returned by Send when the outbound queue is full.
	ErrBackpressure = errors.New("transport: send queue full")
)

// Conn is one duplex binary connection, owned by its transport.
//
// Send must not block on the network: it enqueues the frame and returns.
// Close must be idempotent and must not invoke Handler callbacks
// synchronously; the transport reports OnClose from its own goroutine.
type Conn interface {
	// ID is stable for the lifetime of the connection and unique within
	// the process.
	ID() string
	Send(data []byte) error
	Close() error
}

// Handler receives connection lifecycle events. A transport calls the
// methods for one connection from a single goroutine, in order: OnOpen,
// any number of OnMessage, then OnClose (possibly preceded by OnError).
type Handler interface {
	OnOpen(conn Conn)
	OnMessage(conn Conn, data []byte)
	OnClose(conn Conn)
	OnError(conn Conn, err error)
}
