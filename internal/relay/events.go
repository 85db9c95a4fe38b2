package relay

import (
	"sync"

	"github.com/1ureka/syncrelay/internal/protocol"
)

// Event names as seen by the document engine.
const (
	EventPeerCandidate    = "peer-candidate"
	EventPeerDisconnected = "peer-disconnected"
	EventMessage          = "message"
)

// Event is one notification to the document engine.
type Event interface {
	Name() string
}

// PeerCandidate announces a participant that completed (or is completing) a
// join. It is advisory.
type PeerCandidate struct {
	PeerID   protocol.PeerID
	Metadata protocol.PeerMetadata
}

// PeerDisconnected announces that a peer's entry is gone.
type PeerDisconnected struct {
	PeerID protocol.PeerID
}

// MessageReceived carries an inbound envelope the relay does not interpret.
type MessageReceived struct {
	Message *protocol.Message
}

func (PeerCandidate) Name() string    { return EventPeerCandidate }
func (PeerDisconnected) Name() string { return EventPeerDisconnected }
func (MessageReceived) Name() string  { return EventMessage }

// Listener receives events synchronously on the emitting goroutine.
type Listener func(Event)

type subscription struct {
	id uint64
	fn Listener
}

// Emitter fans events out to listeners in subscription order. Emit returns
// after every listener has returned.
type Emitter struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []subscription
}

// Subscribe adds fn and returns a function that removes it again.
func (e *Emitter) Subscribe(fn Listener) (unsubscribe func()) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, subscription{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, s := range e.listeners {
				if s.id == id {
					e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit delivers ev to the listeners subscribed at the time of the call.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	listeners := e.listeners
	e.mu.Unlock()

	for _, s := range listeners {
		s.fn(ev)
	}
}
