package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/1ureka/syncrelay/internal/protocol"
	"github.com/1ureka/syncrelay/internal/signaling"
	"github.com/1ureka/syncrelay/internal/util"
)

// PeerOptions configure the diagnostic peer.
type PeerOptions struct {
	URL         string // ws://host:port/ws, or the /rtc endpoint with RTC set
	RTC         bool
	STUNServers []string
	PeerID      protocol.PeerID
	Versions    []protocol.ProtocolVersion
	TargetID    protocol.PeerID // when set, a sync envelope is sent after the handshake
	DocumentID  string
}

// link is one binary connection to the relay.
type link struct {
	send    func([]byte) error
	inbound chan []byte
	done    chan struct{} // closed when the connection ends
	close   func()
}

// RunPeer joins the relay as opts.PeerID and prints every envelope it
// receives until ctx is cancelled or the relay hangs up.
func RunPeer(ctx context.Context, opts PeerOptions) error {
	// ── 1. Connect ─────────────────────────────────────────────────────
	var l *link
	var err error
	if opts.RTC {
		l, err = dialRTCLink(ctx, opts.URL, opts.STUNServers)
	} else {
		l, err = dialWSLink(ctx, opts.URL)
	}
	if err != nil {
		return err
	}
	defer l.close()
	util.LogSuccess("connected to %s", opts.URL)

	// ── 2. Join ────────────────────────────────────────────────────────
	if err := sendMessage(l, protocol.NewJoin(opts.PeerID, protocol.PeerMetadata{"isEphemeral": true}, opts.Versions...)); err != nil {
		return err
	}

	// ── 3. Print replies ───────────────────────────────────────────────
	handle := func(data []byte) error {
		msg, err := protocol.Decode(data)
		if err != nil {
			util.LogWarning("undecodable frame (%d bytes): %v", len(data), err)
			return nil
		}
		pterm.Println(describe(msg))

		if msg.Type == protocol.TypePeer && opts.TargetID != "" {
			if err := sendMessage(l, diagSync(opts)); err != nil {
				return err
			}
			util.LogInfo("sent diagnostic sync to %s", opts.TargetID)
		}
		return nil
	}

	for {
		select {
		case data := <-l.inbound:
			if err := handle(data); err != nil {
				return err
			}

		case <-l.done:
			drain(l.inbound, handle)
			util.LogInfo("relay closed the connection")
			return nil

		case <-ctx.Done():
			return nil
		}
	}
}

// drain handles frames that arrived before the connection ended.
func drain(inbound <-chan []byte, handle func([]byte) error) {
	for {
		select {
		case data := <-inbound:
			handle(data)
		default:
			return
		}
	}
}

func sendMessage(l *link, msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := l.send(data); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

func diagSync(opts PeerOptions) *protocol.Message {
	return &protocol.Message{
		Type:     protocol.TypeSync,
		SenderID: opts.PeerID,
		TargetID: opts.TargetID,
		Fields: map[string]any{
			"documentId": opts.DocumentID,
			"data":       []byte{},
		},
	}
}

// describe renders an envelope on one line.
func describe(msg *protocol.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", pterm.Bold.Sprint(msg.Type), msg.SenderID)
	if msg.TargetID != "" {
		fmt.Fprintf(&b, " -> %s", msg.TargetID)
	}

	switch msg.Type {
	case protocol.TypePeer:
		fmt.Fprintf(&b, " | version %s", msg.SelectedProtocolVersion)
	case protocol.TypeError:
		fmt.Fprintf(&b, " | %s", msg.ErrorMessage)
	}

	if len(msg.Fields) > 0 {
		keys := make([]string, 0, len(msg.Fields))
		for k := range msg.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(&b, " | %s", strings.Join(keys, ","))
	}
	return b.String()
}

func dialWSLink(ctx context.Context, url string) (*link, error) {
	ws, err := signaling.Dial(ctx, url)
	if err != nil {
		return nil, err
	}

	inbound := make(chan []byte, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			kind, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				select {
				case inbound <- data:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	var mu sync.Mutex
	return &link{
		send: func(data []byte) error {
			mu.Lock()
			defer mu.Unlock()
			return ws.WriteMessage(websocket.BinaryMessage, data)
		},
		inbound: inbound,
		done:    done,
		close:   func() { ws.Close() },
	}, nil
}

func dialRTCLink(ctx context.Context, url string, stunServers []string) (*link, error) {
	pc, dc, err := signaling.DialRTC(ctx, url, stunServers)
	if err != nil {
		return nil, err
	}

	inbound := make(chan []byte, 16)
	var closeOnce sync.Once
	done := make(chan struct{})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			return
		}
		select {
		case inbound <- msg.Data:
		case <-done:
		}
	})
	dc.OnClose(func() {
		closeOnce.Do(func() { close(done) })
	})

	return &link{
		send:    dc.Send,
		inbound: inbound,
		done:    done,
		close:   func() { pc.Close() },
	}, nil
}
