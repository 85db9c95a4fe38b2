package signaling

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/syncrelay/internal/transport"
	"github.com/1ureka/syncrelay/internal/util"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// socket is a transport.Conn over one WebSocket. readPump owns reads and
// all handler callbacks; writePump owns writes.
type socket struct {
	id      string
	ws      *websocket.Conn
	outbox  *transport.Outbox
	limiter *transport.FrameLimiter
}

var _ transport.Conn = (*socket)(nil)

func newSocket(ws *websocket.Conn, limits transport.Limits) *socket {
	if limits.MaxFrameSize > 0 {
		ws.SetReadLimit(limits.MaxFrameSize)
	}
	return &socket{
		id:      "ws-" + uuid.NewString(),
		ws:      ws,
		outbox:  transport.NewOutbox(limits.WriteQueue),
		limiter: limits.NewFrameLimiter(),
	}
}

func (s *socket) ID() string { return s.id }

func (s *socket) Send(data []byte) error {
	return s.outbox.Push(data)
}

// Close asks the writer to send a close frame and drop the connection; the
// read side then reports OnClose.
func (s *socket) Close() error {
	s.outbox.Close()
	return nil
}

// serve runs the connection until it closes. It blocks.
func (s *socket) serve(h transport.Handler) {
	go s.writePump()
	h.OnOpen(s)
	s.readPump(h)
}

func (s *socket) readPump(h transport.Handler) {
	defer func() {
		s.outbox.Close()
		s.ws.Close()
		h.OnClose(s)
	}()

	s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		s.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				select {
				case <-s.outbox.Closed():
					// closed locally
				default:
					h.OnError(s, err)
				}
			}
			return
		}

		if kind != websocket.BinaryMessage {
			util.LogDebug("[%s] text frame ignored", s.id)
			continue
		}
		if !s.limiter.Allow() {
			util.Stats.Throttled.Add(1)
			util.LogDebug("[%s] rate limited, frame dropped", s.id)
			continue
		}
		h.OnMessage(s, data)
	}
}

func (s *socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.ws.Close()
	}()

	for {
		select {
		case data := <-s.outbox.Queue():
			if err := s.write(data); err != nil {
				util.LogDebug("[%s] write: %v", s.id, err)
				s.outbox.Close()
				return
			}

		case <-ticker.C:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.outbox.Close()
				return
			}

		case <-s.outbox.Closed():
			if err := s.outbox.Flush(s.write); err != nil {
				util.LogDebug("[%s] flush: %v", s.id, err)
				return
			}
			s.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (s *socket) write(data []byte) error {
	s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteMessage(websocket.BinaryMessage, data)
}
