package webrtc

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/syncrelay/internal/transport"
)

type fakeChannel struct {
	mu       sync.Mutex
	sent     [][]byte
	buffered uint64
	closed   bool
	sendErr  error
}

func (f *fakeChannel) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeChannel) BufferedAmount() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffered
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) setBuffered(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffered = n
}

func (f *fakeChannel) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

type recHandler struct {
	mu     sync.Mutex
	events []string
	frames [][]byte
	closed chan struct{}
}

func newRecHandler() *recHandler { return &recHandler{closed: make(chan struct{})} }

func (h *recHandler) record(ev string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recHandler) OnOpen(transport.Conn) { h.record("open") }
func (h *recHandler) OnMessage(_ transport.Conn, data []byte) {
	h.mu.Lock()
	h.frames = append(h.frames, data)
	h.mu.Unlock()
	h.record("message")
}
func (h *recHandler) OnClose(transport.Conn) {
	h.record("close")
	close(h.closed)
}
func (h *recHandler) OnError(transport.Conn, error) { h.record("error") }

func (h *recHandler) log() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func waitClosed(t *testing.T, h *recHandler) {
	t.Helper()
	select {
	case <-h.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not reported")
	}
}

func TestConnLifecycle(t *testing.T) {
	raw := &fakeChannel{}
	h := newRecHandler()
	c := newConn(raw, nil, h, transport.DefaultLimits())

	c.open()
	c.open()
	c.deliver([]byte("a"))
	c.deliver([]byte("b"))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	waitClosed(t, h)

	c.deliver([]byte("late"))
	c.finish()

	assert.Equal(t, []string{"open", "message", "message", "close"}, h.log())
	assert.True(t, raw.closed)
	assert.ErrorIs(t, c.Send([]byte("x")), transport.ErrClosed)
}

func TestConnCloseFlushesQueue(t *testing.T) {
	raw := &fakeChannel{}
	h := newRecHandler()
	c := newConn(raw, nil, h, transport.DefaultLimits())
	c.open()

	require.NoError(t, c.Send([]byte("last words")))
	c.Close()
	waitClosed(t, h)

	assert.Equal(t, [][]byte{[]byte("last words")}, raw.frames())
	assert.True(t, raw.closed)
}

func TestConnDeliverOpensFirst(t *testing.T) {
	h := newRecHandler()
	c := newConn(&fakeChannel{}, nil, h, transport.DefaultLimits())

	c.deliver([]byte("early"))
	c.finish()

	assert.Equal(t, []string{"open", "message", "close"}, h.log())
}

func TestConnNoCloseWithoutOpen(t *testing.T) {
	h := newRecHandler()
	c := newConn(&fakeChannel{}, nil, h, transport.DefaultLimits())

	c.finish()
	c.open()

	assert.Empty(t, h.log())
}

func TestConnWritesInOrder(t *testing.T) {
	raw := &fakeChannel{}
	c := newConn(raw, nil, newRecHandler(), transport.DefaultLimits())
	c.open()

	for _, s := range []string{"1", "2", "3"} {
		require.NoError(t, c.Send([]byte(s)))
	}

	require.Eventually(t, func() bool { return len(raw.frames()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]byte{[]byte("1"), []byte("2"), []byte("3")}, raw.frames())
	c.Close()
}

func TestConnBackpressure(t *testing.T) {
	raw := &fakeChannel{}
	raw.setBuffered(HighWaterMark + 1)
	c := newConn(raw, nil, newRecHandler(), transport.DefaultLimits())
	c.open()

	require.NoError(t, c.Send([]byte("held")))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, raw.frames(), "writer must wait above the high water mark")

	raw.setBuffered(0)
	c.signalSendReady()
	require.Eventually(t, func() bool { return len(raw.frames()) == 1 }, time.Second, 5*time.Millisecond)
	c.Close()
}

func TestConnSendFailureCloses(t *testing.T) {
	raw := &fakeChannel{sendErr: errors.New("sctp gone")}
	h := newRecHandler()
	c := newConn(raw, nil, h, transport.DefaultLimits())
	c.open()

	require.NoError(t, c.Send([]byte("x")))
	waitClosed(t, h)
	assert.Equal(t, []string{"open", "close"}, h.log())
}

func TestConnOversizedFrame(t *testing.T) {
	limits := transport.DefaultLimits()
	limits.MaxFrameSize = 4
	h := newRecHandler()
	c := newConn(&fakeChannel{}, nil, h, limits)

	c.deliver([]byte("ok"))
	c.deliver([]byte("too long"))
	c.deliver([]byte("ok"))

	assert.Equal(t, []string{"open", "message", "error", "close"}, h.log())
}

func TestConnRateLimit(t *testing.T) {
	limits := transport.DefaultLimits()
	limits.FramesPerSecond = 0.001
	limits.Burst = 2
	h := newRecHandler()
	c := newConn(&fakeChannel{}, nil, h, limits)

	for range 5 {
		c.deliver([]byte("f"))
	}

	assert.Len(t, h.frames, 2)
}
