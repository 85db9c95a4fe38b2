//go:build zmq

package zmqconn

import (
	"context"
	"sync"
	"testing"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/syncrelay/internal/protocol"
	"github.com/1ureka/syncrelay/internal/relay"
	"github.com/1ureka/syncrelay/internal/transport"
)

func startRouter(t *testing.T) (*relay.Relay, *Router) {
	t.Helper()

	opts := relay.DefaultOptions()
	opts.HandshakeTimeout = 0
	r := relay.New(opts)
	r.Connect("R", nil)

	router, err := NewRouter("tcp://127.0.0.1:*", r, transport.DefaultLimits())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, router.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return r, router
}

func dealer(t *testing.T, endpoint string) *zmq.Socket {
	t.Helper()
	sock, err := zmq.NewSocket(zmq.DEALER)
	require.NoError(t, err)
	sock.SetLinger(0)
	sock.SetRcvtimeo(5 * time.Second)
	require.NoError(t, sock.Connect(endpoint))
	t.Cleanup(func() { sock.Close() })
	return sock
}

func TestRouterHandshake(t *testing.T) {
	r, router := startRouter(t)
	d := dealer(t, router.Endpoint())

	join, err := protocol.Encode(protocol.NewJoin("alice", nil, protocol.Version1))
	require.NoError(t, err)
	_, err = d.SendBytes(join, 0)
	require.NoError(t, err)

	reply, err := d.RecvBytes(0)
	require.NoError(t, err)
	msg, err := protocol.Decode(reply)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypePeer, msg.Type)
	assert.Equal(t, protocol.PeerID("alice"), msg.TargetID)
	assert.Equal(t, 1, r.Registry().Len())

	// Goodbye.
	_, err = d.SendBytes([]byte{}, 0)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return r.Registry().ConnCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRouterCloseSendsGoodbye(t *testing.T) {
	r, router := startRouter(t)
	d := dealer(t, router.Endpoint())

	join, err := protocol.Encode(protocol.NewJoin("alice", nil, "99"))
	require.NoError(t, err)
	_, err = d.SendBytes(join, 0)
	require.NoError(t, err)

	reply, err := d.RecvBytes(0)
	require.NoError(t, err)
	msg, err := protocol.Decode(reply)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeError, msg.Type)

	bye, err := d.RecvBytes(0)
	require.NoError(t, err)
	assert.Empty(t, bye)
	assert.Zero(t, r.Registry().ConnCount())
}

// recorder logs handler callbacks in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (h *recorder) add(ev string, c transport.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev+" "+c.ID())
}

func (h *recorder) OnOpen(c transport.Conn) { h.add("open", c) }
func (h *recorder) OnMessage(c transport.Conn, _ []byte) { h.add("message", c) }
func (h *recorder) OnClose(c transport.Conn) { h.add("close", c) }
func (h *recorder) OnError(c transport.Conn, _ error) { h.add("error", c) }

func (h *recorder) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

// newIdleRouter builds a router whose loop is driven by the test.
func newIdleRouter(t *testing.T, h transport.Handler) *Router {
	t.Helper()
	limits := transport.DefaultLimits()
	limits.WriteQueue = 1
	router, err := NewRouter("tcp://127.0.0.1:*", h, limits)
	require.NoError(t, err)
	t.Cleanup(router.shutdown)
	return router
}

func TestRouterCloseWithFullWriteQueue(t *testing.T) {
	h := &recorder{}
	router := newIdleRouter(t, h)

	c := router.connFor("peer-a")
	require.NoError(t, c.Send([]byte("reply")))
	assert.ErrorIs(t, c.Send([]byte("more")), transport.ErrBackpressure)

	require.NoError(t, c.Close())
	assert.True(t, c.closed.Load())
	assert.ErrorIs(t, c.Send([]byte("late")), transport.ErrClosed)
	assert.Equal(t, []*conn{c}, router.closing)

	// The queued reply goes to an identity with no live peer; either way the
	// conn is forgotten exactly once.
	router.flush()
	assert.Empty(t, router.conns)
	assert.Empty(t, router.closing)

	closes := 0
	for _, ev := range h.snapshot() {
		if ev == "close "+c.ID() {
			closes++
		}
	}
	assert.Equal(t, 1, closes)
}

func TestRouterReplacesClosedConn(t *testing.T) {
	h := &recorder{}
	router := newIdleRouter(t, h)

	old := router.connFor("peer-a")
	require.NoError(t, old.Close())

	// The peer speaks again before the loop has collected the close.
	fresh := router.connFor("peer-a")
	require.NotSame(t, old, fresh)
	assert.False(t, fresh.closed.Load())
	assert.Same(t, fresh, router.conns["peer-a"])

	router.flush()
	assert.Same(t, fresh, router.conns["peer-a"], "stale goodbye must not drop the new conn")
	assert.Equal(t, []string{
		"open " + old.ID(),
		"close " + old.ID(),
		"open " + fresh.ID(),
	}, h.snapshot())
}
