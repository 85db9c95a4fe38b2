package relay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/1ureka/syncrelay/internal/protocol"
	"github.com/1ureka/syncrelay/internal/transport"
)

// Compile-time interface check.
var _ transport.Conn = (*fakeConn)(nil)

// fakeConn implements transport.Conn in memory. Frames handed to Send are
// recorded; Close only flips a flag and never calls back into the relay.
type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

// messages decodes every frame sent on the connection.
func (c *fakeConn) messages(t *testing.T) []*protocol.Message {
	t.Helper()
	var out []*protocol.Message
	for _, frame := range c.sent() {
		msg, err := protocol.Decode(frame)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

// recorder collects events in emission order.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) names() []string {
	var out []string
	for _, ev := range r.all() {
		out = append(out, ev.Name())
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// newTestRelay returns a ready relay with identity "R" and a recorder
// subscribed to it.
func newTestRelay(t *testing.T, opts Options) (*Relay, *recorder) {
	t.Helper()
	r := New(opts)
	r.Connect("R", protocol.PeerMetadata{"isEphemeral": false})
	rec := &recorder{}
	r.Subscribe(rec.listen)
	return r, rec
}

// testOptions disables the handshake deadline so unrelated tests are not
// timing-sensitive.
func testOptions() Options {
	opts := DefaultOptions()
	opts.HandshakeTimeout = 0
	return opts
}

func encode(t *testing.T, msg *protocol.Message) []byte {
	t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	return data
}

// join opens conn (if needed) and feeds it a join for peerID.
func join(t *testing.T, r *Relay, conn *fakeConn, peerID protocol.PeerID, versions ...protocol.ProtocolVersion) {
	t.Helper()
	if r.Registry().State(conn) == StateClosed {
		r.OnOpen(conn)
	}
	r.OnMessage(conn, encode(t, protocol.NewJoin(peerID, protocol.PeerMetadata{"storageId": string(peerID)}, versions...)))
}
