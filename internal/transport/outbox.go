package transport

import "sync"

// Outbox is the per-connection outbound frame queue. Producers call Push from
// any goroutine; exactly one writer goroutine drains Queue and performs the
// actual network writes, so writes to the underlying connection are never
// concurrent.
type Outbox struct {
	queue     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// NewOutbox creates an outbox holding at most size pending frames.
func NewOutbox(size int) *Outbox {
	if size < 1 {
		size = 1
	}
	return &Outbox{
		queue:  make(chan []byte, size),
		closed: make(chan struct{}),
	}
}

// Push enqueues a frame without blocking. It fails with ErrClosed after Close
// and with ErrBackpressure when the queue is full.
func (o *Outbox) Push(data []byte) error {
	select {
	case <-o.closed:
		return ErrClosed
	default:
	}

	select {
	case o.queue <- data:
		return nil
	case <-o.closed:
		return ErrClosed
	default:
		return ErrBackpressure
	}
}

// Queue is drained by the writer goroutine.
func (o *Outbox) Queue() <-chan []byte { return o.queue }

// Flush passes every frame still queued to write, stopping at the first
// error. Only the writer goroutine calls it.
func (o *Outbox) Flush(write func([]byte) error) error {
	for {
		select {
		case data := <-o.queue:
			if err := write(data); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// Closed is closed once Close has been called.
func (o *Outbox) Closed() <-chan struct{} { return o.closed }

// Close stops accepting frames. Frames already queued stay readable from
// Queue so the writer can flush them before closing the connection.
func (o *Outbox) Close() {
	o.closeOnce.Do(func() { close(o.closed) })
}
