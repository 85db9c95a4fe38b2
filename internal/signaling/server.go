package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/syncrelay/internal/relay"
	"github.com/1ureka/syncrelay/internal/transport"
	"github.com/1ureka/syncrelay/internal/util"
)

// Options configure the HTTP endpoints.
type Options struct {
	WSPath         string // binary relay endpoint
	RTCPath        string // WebRTC signaling endpoint; empty disables it
	STUNServers    []string
	AllowedOrigins []string // empty allows any origin
	Limits         transport.Limits
}

// DefaultOptions returns the endpoints used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		WSPath:  "/ws",
		RTCPath: "/rtc",
		Limits:  transport.DefaultLimits(),
	}
}

// Server exposes a relay over HTTP.
type Server struct {
	relay    *relay.Relay
	opts     Options
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	listener net.Listener
}

// NewServer creates a server for r. Nothing is served until Start.
func NewServer(r *relay.Relay, opts Options) *Server {
	s := &Server{relay: r, opts: opts}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(opts.WSPath, s.handleWS)
	if opts.RTCPath != "" {
		mux.HandleFunc(opts.RTCPath, s.handleRTC)
	}
	mux.HandleFunc("/healthz", s.handleHealth)

	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start waits until the relay has an identity, then listens on addr. It
// returns the bound address.
func (s *Server) Start(ctx context.Context, addr string) (net.Addr, error) {
	select {
	case <-s.relay.WhenReady():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start HTTP server: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("HTTP server stopped: %v", err)
		}
	}()

	return listener.Addr(), nil
}

// Close stops accepting requests. Upgraded connections are not tracked by
// the HTTP server; close them with relay.Disconnect.
func (s *Server) Close(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return slices.Contains(s.opts.AllowedOrigins, origin) || slices.Contains(s.opts.AllowedOrigins, u.Host)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogDebug("WebSocket upgrade failed: %v", err)
		return
	}
	util.LogDebug("WebSocket client connected from %s", r.RemoteAddr)

	newSocket(ws, s.opts.Limits).serve(s.relay)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.relay.Health()
	status := http.StatusOK
	if !health.Ready {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(struct {
		relay.Health
		Stats util.Snapshot `json:"stats"`
	}{health, util.Stats.Snapshot()})
}
