package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/syncrelay/internal/util"
	rtc "github.com/1ureka/syncrelay/internal/webrtc"
)

// rtcSetupTimeout bounds one offer/answer exchange.
const rtcSetupTimeout = 30 * time.Second

// wsSender serializes signaling messages onto one WebSocket.
type wsSender struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSender) send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}

// trickle forwards local ICE candidates. Errors are ignored: candidates are
// best-effort.
func (s *wsSender) trickle(pc *webrtc.PeerConnection) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		s.send(Message{Type: MsgTypeCandidate, Candidate: string(data)})
	})
}

func addCandidate(pc *webrtc.PeerConnection, raw string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(raw), &init); err != nil {
		return fmt.Errorf("invalid ICE candidate: %w", err)
	}
	return pc.AddICECandidate(init)
}

// handleRTC answers a peer's offer over WebSocket. Once the peer's sync
// DataChannel opens it becomes a relay connection and the WebSocket is
// closed.
func (s *Server) handleRTC(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogDebug("WebSocket upgrade failed: %v", err)
		return
	}
	defer wsConn.Close()

	pc, err := rtc.NewPeerConnection(s.opts.STUNServers)
	if err != nil {
		util.LogError("failed to create PeerConnection: %v", err)
		return
	}

	opened := make(chan struct{})
	var once sync.Once
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != rtc.ChannelLabel {
			util.LogWarning("unexpected data channel %q, ignoring", dc.Label())
			return
		}
		rtc.Accept(dc, pc, s.relay, s.opts.Limits)
		once.Do(func() { close(opened) })
	})

	sender := &wsSender{conn: wsConn}
	sender.trickle(pc)

	errCh := make(chan error, 1)
	go func() {
		errCh <- answerLoop(wsConn, sender, pc)
	}()

	timer := time.NewTimer(rtcSetupTimeout)
	defer timer.Stop()

	select {
	case <-opened:
		util.LogDebug("WebRTC data channel established for %s, closing signaling", r.RemoteAddr)
	case err := <-errCh:
		util.LogDebug("WebRTC signaling with %s failed: %v", r.RemoteAddr, err)
		pc.Close()
	case <-timer.C:
		util.LogWarning("WebRTC signaling with %s timed out", r.RemoteAddr)
		pc.Close()
	}
}

// answerLoop applies the remote offer and candidates until the WebSocket
// closes.
func answerLoop(wsConn *websocket.Conn, sender *wsSender, pc *webrtc.PeerConnection) error {
	for {
		var msg Message
		if err := wsConn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read signaling message: %w", err)
		}

		switch msg.Type {
		case MsgTypeOffer:
			if err := pc.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeOffer, SDP: msg.SDP,
			}); err != nil {
				return err
			}
			answer, err := pc.CreateAnswer(nil)
			if err != nil {
				return err
			}
			if err := pc.SetLocalDescription(answer); err != nil {
				return err
			}
			if err := sender.send(Message{Type: MsgTypeAnswer, SDP: answer.SDP}); err != nil {
				return err
			}

		case MsgTypeCandidate:
			if err := addCandidate(pc, msg.Candidate); err != nil {
				util.LogDebug("AddICECandidate failed: %v", err)
			}

		default:
			util.LogDebug("unexpected signaling message %q", msg.Type)
		}
	}
}

// DialRTC opens a sync DataChannel to a relay's WebRTC signaling endpoint.
// It returns once the channel is open; the caller owns pc.
func DialRTC(ctx context.Context, url string, stunServers []string) (*webrtc.PeerConnection, *webrtc.DataChannel, error) {
	wsConn, err := Dial(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	defer wsConn.Close()

	pc, err := rtc.NewPeerConnection(stunServers)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}
	dc, err := rtc.CreateDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, nil, fmt.Errorf("failed to create DataChannel: %w", err)
	}

	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })

	failed := make(chan struct{})
	var failOnce sync.Once
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			failOnce.Do(func() { close(failed) })
		}
	})

	sender := &wsSender{conn: wsConn}
	sender.trickle(pc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, nil, fmt.Errorf("CreateOffer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, nil, fmt.Errorf("SetLocalDescription: %w", err)
	}
	if err := sender.send(Message{Type: MsgTypeOffer, SDP: offer.SDP}); err != nil {
		pc.Close()
		return nil, nil, fmt.Errorf("failed to send offer: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		for {
			var msg Message
			if err := wsConn.ReadJSON(&msg); err != nil {
				errCh <- err
				return
			}
			switch msg.Type {
			case MsgTypeAnswer:
				if err := pc.SetRemoteDescription(webrtc.SessionDescription{
					Type: webrtc.SDPTypeAnswer, SDP: msg.SDP,
				}); err != nil {
					util.LogDebug("SetRemoteDescription failed: %v", err)
				}
			case MsgTypeCandidate:
				if err := addCandidate(pc, msg.Candidate); err != nil {
					util.LogDebug("AddICECandidate failed: %v", err)
				}
			}
		}
	}()

	for {
		select {
		case <-opened:
			return pc, dc, nil

		case err := <-errCh:
			// The relay closes signaling as soon as it sees the channel,
			// possibly before OnOpen fires here.
			if pc.RemoteDescription() == nil {
				pc.Close()
				return nil, nil, fmt.Errorf("signaling failed: %w", err)
			}
			errCh = nil

		case <-failed:
			pc.Close()
			return nil, nil, fmt.Errorf("WebRTC connection failed")

		case <-ctx.Done():
			pc.Close()
			return nil, nil, ctx.Err()
		}
	}
}
