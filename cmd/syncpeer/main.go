// Syncpeer is a diagnostic client for a running relay.
//
// Joins the relay with a peer id and prints every envelope it receives. With
// -target it also sends one sync envelope to that peer after the handshake.
//
// It can be launched interactively (no -url) or via flags
// (-url, -rtc, -peer-id, -target, -doc).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/syncrelay/internal/app"
	"github.com/1ureka/syncrelay/internal/protocol"
	"github.com/1ureka/syncrelay/internal/util"
	rtc "github.com/1ureka/syncrelay/internal/webrtc"
)

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rawURL := flag.String("url", "", "Relay address, e.g. ws://127.0.0.1:3030")
	useRTC := flag.Bool("rtc", false, "Connect over a WebRTC DataChannel instead of WebSocket")
	peerID := flag.String("peer-id", "", "Peer id to join with (default: random)")
	version := flag.String("version", string(protocol.Version1), "Comma-separated protocol versions to offer")
	target := flag.String("target", "", "Send one sync envelope to this peer after joining")
	doc := flag.String("doc", "diagnostic", "documentId of the sync envelope")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	if *rawURL == "" {
		*rawURL = askURL()
	}
	endpoint, err := normalizeURL(*rawURL, *useRTC)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	id := protocol.PeerID(*peerID)
	if id == "" {
		id = protocol.PeerID(fmt.Sprintf("syncpeer-%d", os.Getpid()))
	}

	var versions []protocol.ProtocolVersion
	for _, v := range strings.Split(*version, ",") {
		if v = strings.TrimSpace(v); v != "" {
			versions = append(versions, protocol.ProtocolVersion(v))
		}
	}

	err = app.RunPeer(ctx, app.PeerOptions{
		URL:         endpoint,
		RTC:         *useRTC,
		STUNServers: rtc.DefaultSTUNServers,
		PeerID:      id,
		Versions:    versions,
		TargetID:    protocol.PeerID(*target),
		DocumentID:  *doc,
	})
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// normalizeURL turns a host or URL into the relay's WebSocket or WebRTC
// signaling endpoint.
func normalizeURL(raw string, useRTC bool) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}

	scheme := "ws"
	switch u.Scheme {
	case "wss", "https":
		scheme = "wss"
	}
	path := "/ws"
	if useRTC {
		path = "/rtc"
	}
	return fmt.Sprintf("%s://%s%s", scheme, u.Host, path), nil
}

// askURL prompts for a relay address until a valid one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay address (e.g. ws://127.0.0.1:3030)").
			Show()

		if _, err := normalizeURL(raw, false); err == nil {
			pterm.Println()
			return raw
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
