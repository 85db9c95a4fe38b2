package webrtc

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/syncrelay/internal/transport"
	"github.com/1ureka/syncrelay/internal/util"
)

const (
	HighWaterMark = 256 * 1024 // pause sending when bufferedAmount exceeds this
	LowWaterMark  = 64 * 1024  // resume sending when bufferedAmount drops below this
)

// rawChannel is the subset of *webrtc.DataChannel the writer needs.
type rawChannel interface {
	Send(data []byte) error
	BufferedAmount() uint64
	Close() error
}

// Conn is a transport.Conn backed by one DataChannel. Outbound frames are
// queued and written by a single goroutine that honours the channel's
// buffered-amount watermarks.
type Conn struct {
	id      string
	raw     rawChannel
	pc      io.Closer // owning PeerConnection, closed with the channel
	handler transport.Handler
	limits  transport.Limits
	limiter *transport.FrameLimiter
	outbox  *transport.Outbox

	sendReady   chan struct{}
	gone        chan struct{} // closed once OnClose has been reported
	writing     atomic.Bool
	releaseOnce sync.Once

	evMu     sync.Mutex // serializes handler callbacks
	opened   bool
	finished bool
}

var _ transport.Conn = (*Conn)(nil)

// Accept wraps a DataChannel announced by a remote peer and reports its
// lifecycle to h. pc is closed together with the channel.
func Accept(raw *webrtc.DataChannel, pc *webrtc.PeerConnection, h transport.Handler, limits transport.Limits) *Conn {
	c := newConn(raw, pc, h, limits)

	raw.SetBufferedAmountLowThreshold(uint64(LowWaterMark))
	raw.OnBufferedAmountLow(c.signalSendReady)
	raw.OnOpen(c.open)
	raw.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			util.LogDebug("[%s] text frame ignored", c.id)
			return
		}
		c.deliver(msg.Data)
	})
	raw.OnError(func(err error) {
		c.fail(err)
	})
	raw.OnClose(c.finish)

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.finish()
		}
	})

	return c
}

func newConn(raw rawChannel, pc io.Closer, h transport.Handler, limits transport.Limits) *Conn {
	return &Conn{
		id:        "rtc-" + uuid.NewString(),
		raw:       raw,
		pc:        pc,
		handler:   h,
		limits:    limits,
		limiter:   limits.NewFrameLimiter(),
		outbox:    transport.NewOutbox(limits.WriteQueue),
		sendReady: make(chan struct{}, 1),
		gone:      make(chan struct{}),
	}
}

// ID implements transport.Conn.
func (c *Conn) ID() string { return c.id }

// Send queues one binary frame.
func (c *Conn) Send(data []byte) error {
	return c.outbox.Push(data)
}

// Close stops accepting frames. The writer flushes what is queued, then
// closes the channel and its PeerConnection and reports OnClose.
func (c *Conn) Close() error {
	c.outbox.Close()
	if !c.writing.Load() {
		c.release()
		go c.finish()
	}
	return nil
}

// release closes the channel and the PeerConnection once.
func (c *Conn) release() {
	c.releaseOnce.Do(func() {
		if err := c.raw.Close(); err != nil {
			util.LogDebug("[%s] close channel: %v", c.id, err)
		}
		if c.pc != nil {
			if err := c.pc.Close(); err != nil {
				util.LogDebug("[%s] close peer connection: %v", c.id, err)
			}
		}
	})
}

// open announces the connection and starts the writer. Safe to call twice.
func (c *Conn) open() {
	c.evMu.Lock()
	defer c.evMu.Unlock()
	c.openLocked()
}

func (c *Conn) openLocked() {
	if c.opened || c.finished {
		return
	}
	c.opened = true
	util.LogDebug("[%s] data channel open", c.id)
	c.writing.Store(true)
	go c.writeLoop()
	c.handler.OnOpen(c)
}

// deliver hands one inbound frame to the handler.
func (c *Conn) deliver(data []byte) {
	c.evMu.Lock()
	defer c.evMu.Unlock()

	c.openLocked()
	if c.finished {
		return
	}
	if c.limits.MaxFrameSize > 0 && int64(len(data)) > c.limits.MaxFrameSize {
		c.failLocked(fmt.Errorf("frame of %d bytes exceeds limit %d", len(data), c.limits.MaxFrameSize))
		return
	}
	if !c.limiter.Allow() {
		util.Stats.Throttled.Add(1)
		util.LogDebug("[%s] rate limited, frame dropped", c.id)
		return
	}
	c.handler.OnMessage(c, data)
}

func (c *Conn) fail(err error) {
	c.evMu.Lock()
	defer c.evMu.Unlock()
	c.failLocked(err)
}

func (c *Conn) failLocked(err error) {
	if !c.opened || c.finished {
		return
	}
	c.handler.OnError(c, err)
	c.finishLocked()
}

// finish reports OnClose once, if OnOpen was reported.
func (c *Conn) finish() {
	c.evMu.Lock()
	defer c.evMu.Unlock()
	c.finishLocked()
}

func (c *Conn) finishLocked() {
	if c.finished {
		return
	}
	c.finished = true
	close(c.gone)
	c.outbox.Close()
	if c.opened {
		c.handler.OnClose(c)
	}
}

func (c *Conn) signalSendReady() {
	select {
	case c.sendReady <- struct{}{}:
	default:
	}
}

// writeLoop drains the outbox, blocking while the channel is above the high
// water mark. It owns closing the channel once the writer has started.
func (c *Conn) writeLoop() {
	defer func() {
		c.release()
		c.finish()
	}()

	for {
		select {
		case data := <-c.outbox.Queue():
			if err := c.write(data); err != nil {
				util.LogDebug("[%s] send: %v", c.id, err)
				c.outbox.Close()
				return
			}

		case <-c.outbox.Closed():
			if err := c.outbox.Flush(c.write); err != nil {
				util.LogDebug("[%s] flush: %v", c.id, err)
			}
			return
		}
	}
}

func (c *Conn) write(data []byte) error {
	if c.raw.BufferedAmount() > uint64(HighWaterMark) {
		select {
		case <-c.sendReady:
		case <-c.gone:
			return transport.ErrClosed
		}
	}
	return c.raw.Send(data)
}
