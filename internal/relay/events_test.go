package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitterSubscriptionOrder(t *testing.T) {
	var e Emitter
	var order []string

	e.Subscribe(func(Event) { order = append(order, "first") })
	unsubscribe := e.Subscribe(func(Event) { order = append(order, "second") })
	e.Subscribe(func(Event) { order = append(order, "third") })

	e.Emit(PeerDisconnected{PeerID: "p1"})
	assert.Equal(t, []string{"first", "second", "third"}, order)

	order = nil
	unsubscribe()
	unsubscribe()
	e.Emit(PeerDisconnected{PeerID: "p1"})
	assert.Equal(t, []string{"first", "third"}, order)
}

func TestEmitterSubscribeDuringEmit(t *testing.T) {
	var e Emitter
	calls := 0

	e.Subscribe(func(Event) {
		calls++
		e.Subscribe(func(Event) { calls += 10 })
	})

	e.Emit(PeerCandidate{PeerID: "p1"})
	assert.Equal(t, 1, calls, "listeners added during emit wait for the next event")
}

func TestEventNames(t *testing.T) {
	assert.Equal(t, "peer-candidate", PeerCandidate{}.Name())
	assert.Equal(t, "peer-disconnected", PeerDisconnected{}.Name())
	assert.Equal(t, "message", MessageReceived{}.Name())
}
