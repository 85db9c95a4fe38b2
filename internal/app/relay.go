// Package app contains the top-level orchestration for the relay and the
// diagnostic peer.
package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/syncrelay/internal/config"
	"github.com/1ureka/syncrelay/internal/protocol"
	"github.com/1ureka/syncrelay/internal/relay"
	"github.com/1ureka/syncrelay/internal/signaling"
	"github.com/1ureka/syncrelay/internal/transport"
	"github.com/1ureka/syncrelay/internal/util"
)

const shutdownTimeout = 5 * time.Second

// RunRelay orchestrates the relay lifecycle:
//  1. Create the relay and assign its identity
//  2. Serve WebSocket, WebRTC signaling and health endpoints
//  3. Start the ZeroMQ router, if enabled
//  4. Report statistics until shutdown
//  5. Stop listeners and close every connection
func RunRelay(ctx context.Context, cfg *config.Config) error {
	// ── 1. Relay & identity ────────────────────────────────────────────
	r := relay.New(relayOptions(cfg))
	r.Connect(protocol.PeerID(cfg.PeerID()), protocol.PeerMetadata(cfg.Relay.Metadata))

	// ── 2. HTTP endpoints ──────────────────────────────────────────────
	srv := signaling.NewServer(r, serverOptions(cfg))
	addr, err := srv.Start(ctx, cfg.Server.Listen)
	if err != nil {
		return err
	}

	// ── 3. ZeroMQ ──────────────────────────────────────────────────────
	stopZMQ, err := startZMQ(ctx, cfg, r)
	if err != nil {
		srv.Close(context.Background())
		return err
	}

	printBanner(cfg, r.PeerID(), addr)

	// ── 4. Serve ───────────────────────────────────────────────────────
	util.StartStatsReporter(ctx, cfg.Stats.Interval.Duration)
	<-ctx.Done()

	// ── 5. Shutdown ────────────────────────────────────────────────────
	util.LogInfo("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Close(shutdownCtx); err != nil {
		util.LogWarning("HTTP shutdown: %v", err)
	}
	stopZMQ()
	r.Disconnect()
	return nil
}

func relayOptions(cfg *config.Config) relay.Options {
	versions := make([]protocol.ProtocolVersion, len(cfg.Relay.ProtocolVersions))
	for i, v := range cfg.Relay.ProtocolVersions {
		versions[i] = protocol.ProtocolVersion(v)
	}
	return relay.Options{
		SupportedVersions: versions,
		HandshakeTimeout:  cfg.Relay.HandshakeTimeout.Duration,
		CloseSuperseded:   cfg.Relay.CloseSuperseded,
	}
}

func limits(cfg *config.Config) transport.Limits {
	return transport.Limits{
		MaxFrameSize:    cfg.Server.MaxFrameSize,
		WriteQueue:      cfg.Server.WriteQueue,
		FramesPerSecond: cfg.Server.FramesPerSecond,
		Burst:           cfg.Server.Burst,
	}
}

func serverOptions(cfg *config.Config) signaling.Options {
	opts := signaling.Options{
		WSPath:         cfg.Server.WSPath,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Limits:         limits(cfg),
	}
	if cfg.WebRTC.Enabled {
		opts.RTCPath = cfg.WebRTC.Path
		opts.STUNServers = cfg.WebRTC.STUNServers
	}
	return opts
}

func printBanner(cfg *config.Config, peerID protocol.PeerID, addr net.Addr) {
	rows := [][]string{
		{"Peer ID", string(peerID)},
		{"WebSocket", fmt.Sprintf("ws://%s%s", addr, cfg.Server.WSPath)},
	}
	if cfg.WebRTC.Enabled {
		rows = append(rows, []string{"WebRTC", fmt.Sprintf("ws://%s%s", addr, cfg.WebRTC.Path)})
	}
	if cfg.ZMQ.Enabled {
		rows = append(rows, []string{"ZeroMQ", cfg.ZMQ.Endpoint})
	}
	rows = append(rows, []string{"Health", fmt.Sprintf("http://%s/healthz", addr)})

	pterm.Println()
	pterm.DefaultTable.WithData(rows).WithBoxed().Render()
	pterm.Println()
	util.LogSuccess("relay ready")
}
