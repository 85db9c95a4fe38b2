// Syncrelay is the relay server entry point.
//
// Runs a document-sync relay: peers connect over WebSocket, WebRTC
// DataChannel or ZeroMQ, join with a peer id, and exchange sync envelopes
// routed by that id.
//
// Settings come from a TOML file (-config); flags override it
// (-listen, -peer-id, -debug).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/1ureka/syncrelay/internal/app"
	"github.com/1ureka/syncrelay/internal/config"
	"github.com/1ureka/syncrelay/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", "syncrelay.toml", "Path to the TOML config file")
	listen := flag.String("listen", "", "HTTP listen address (overrides [server] listen)")
	peerID := flag.String("peer-id", "", "Relay peer id (overrides [relay] peer_id)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *peerID != "" {
		cfg.Relay.PeerID = *peerID
	}
	if *debugMode {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		util.LogError("invalid config: %v", err)
		os.Exit(1)
	}

	if err := util.SetLevel(cfg.Log.Level); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.SetJSON(cfg.Log.Format == "json")

	if cfg.Log.Format != "json" {
		pterm.Info.Println(fmt.Sprintf("Syncrelay — v%s", version))
		pterm.Println()
	}

	if err := app.RunRelay(ctx, cfg); err != nil {
		util.LogError("relay failed: %v", err)
		os.Exit(1)
	}

	util.LogInfo("relay stopped")
}
