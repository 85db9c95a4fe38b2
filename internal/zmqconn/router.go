//go:build zmq

// Package zmqconn carries relay connections over a ZeroMQ ROUTER socket.
// Each DEALER peer is one connection, keyed by its routing identity. A peer
// sends one envelope per message; an empty message means goodbye.
package zmqconn

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	zmq "github.com/pebbe/zmq4"

	"github.com/1ureka/syncrelay/internal/transport"
	"github.com/1ureka/syncrelay/internal/util"
)

// pollInterval bounds how long queued outbound frames wait while the socket
// is idle.
const pollInterval = 20 * time.Millisecond

type outbound struct {
	conn *conn
	data []byte
}

// Router owns one ROUTER socket. All socket access and every handler
// callback happen on the loop goroutine.
type Router struct {
	handler transport.Handler
	limits  transport.Limits

	zctx *zmq.Context
	sock *zmq.Socket
	out  chan outbound

	conns map[string]*conn // routing identity -> conn; loop-owned
	done  chan struct{}
	once  sync.Once

	// closing holds conns whose Close has not been processed by the loop.
	// It is unbounded so Close never fails on a full write queue.
	mu      sync.Mutex
	closing []*conn
}

// NewRouter binds a ROUTER socket to endpoint, e.g. "tcp://*:5555".
func NewRouter(endpoint string, h transport.Handler, limits transport.Limits) (*Router, error) {
	zctx, err := zmq.NewContext()
	if err != nil {
		return nil, fmt.Errorf("zmq context: %w", err)
	}
	sock, err := zctx.NewSocket(zmq.ROUTER)
	if err != nil {
		zctx.Term()
		return nil, fmt.Errorf("zmq socket: %w", err)
	}
	sock.SetLinger(0)
	sock.SetRouterMandatory(1)
	if limits.MaxFrameSize > 0 {
		sock.SetMaxmsgsize(limits.MaxFrameSize)
	}
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		zctx.Term()
		return nil, fmt.Errorf("zmq bind %s: %w", endpoint, err)
	}

	queue := limits.WriteQueue
	if queue < 1 {
		queue = 1
	}
	return &Router{
		handler: h,
		limits:  limits,
		zctx:    zctx,
		sock:    sock,
		out:     make(chan outbound, queue),
		conns:   make(map[string]*conn),
		done:    make(chan struct{}),
	}, nil
}

// Endpoint returns the bound endpoint, with any wildcard port resolved.
func (r *Router) Endpoint() string {
	ep, _ := r.sock.GetLastEndpoint()
	return ep
}

// Run serves the socket until ctx is cancelled. Open connections are
// reported closed before it returns.
func (r *Router) Run(ctx context.Context) error {
	defer r.shutdown()

	poller := zmq.NewPoller()
	poller.Add(r.sock, zmq.POLLIN)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		polled, err := poller.Poll(pollInterval)
		if err != nil {
			if zmq.AsErrno(err) == zmq.ETERM {
				return nil
			}
			return fmt.Errorf("zmq poll: %w", err)
		}
		if len(polled) > 0 {
			r.receive()
		}
		r.flush()
	}
}

// receive reads one routed message.
func (r *Router) receive() {
	parts, err := r.sock.RecvMessageBytes(zmq.DONTWAIT)
	if err != nil {
		util.LogDebug("zmq recv: %v", err)
		return
	}
	if len(parts) < 1 {
		return
	}

	identity := string(parts[0])
	var data []byte
	if len(parts) > 1 {
		data = parts[len(parts)-1]
	}

	if len(data) == 0 {
		if c, known := r.conns[identity]; known {
			r.drop(c)
		}
		return
	}
	c := r.connFor(identity)

	if !c.limiter.Allow() {
		util.Stats.Throttled.Add(1)
		util.LogDebug("[%s] rate limited, frame dropped", c.id)
		return
	}
	r.handler.OnMessage(c, data)
}

// connFor returns the live conn for identity, opening a new one when the
// peer is unknown or its previous conn was closed locally and not yet
// collected.
func (r *Router) connFor(identity string) *conn {
	if c, known := r.conns[identity]; known {
		if !c.closed.Load() {
			return c
		}
		r.drop(c)
	}

	c := &conn{
		id:       "zmq-" + uuid.NewString(),
		identity: identity,
		router:   r,
		limiter:  r.limits.NewFrameLimiter(),
	}
	r.conns[identity] = c
	util.LogDebug("[%s] zmq peer %x connected", c.id, identity)
	r.handler.OnOpen(c)
	return c
}

// flush writes every queued outbound frame, then says goodbye to conns
// closed since the last pass.
func (r *Router) flush() {
	r.flushFrames()

	r.mu.Lock()
	closing := r.closing
	r.closing = nil
	r.mu.Unlock()

	for _, c := range closing {
		if r.conns[c.identity] != c {
			continue
		}
		r.sock.SendMessage(c.identity, "")
		r.drop(c)
	}
}

func (r *Router) flushFrames() {
	for {
		select {
		case o := <-r.out:
			if r.conns[o.conn.identity] != o.conn {
				continue
			}
			if _, err := r.sock.SendMessage(o.conn.identity, o.data); err != nil {
				r.handler.OnError(o.conn, err)
				r.drop(o.conn)
			}
		default:
			return
		}
	}
}

// drop forgets c and reports it closed.
func (r *Router) drop(c *conn) {
	if r.conns[c.identity] != c {
		return
	}
	delete(r.conns, c.identity)
	c.closed.Store(true)
	r.handler.OnClose(c)
}

func (r *Router) shutdown() {
	r.once.Do(func() {
		close(r.done)
		for _, c := range r.conns {
			r.drop(c)
		}
		r.sock.Close()
		r.zctx.Term()
	})
}

// conn is one DEALER peer seen through the router.
type conn struct {
	id       string
	identity string
	router   *Router
	limiter  *transport.FrameLimiter // loop-owned
	closed   atomic.Bool
}

func (c *conn) ID() string { return c.id }

func (c *conn) Send(data []byte) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	return c.router.enqueue(outbound{conn: c, data: data})
}

// Close sends the peer an empty goodbye message, after any frames already
// queued, and forgets it.
func (c *conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	r := c.router
	r.mu.Lock()
	r.closing = append(r.closing, c)
	r.mu.Unlock()
	return nil
}

func (r *Router) enqueue(o outbound) error {
	select {
	case <-r.done:
		return transport.ErrClosed
	default:
	}
	select {
	case r.out <- o:
		return nil
	default:
		return transport.ErrBackpressure
	}
}
