// Package config holds the relay configuration: defaults, an optional TOML
// file, and validation. Command-line flags are applied on top by cmd/.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root of the TOML file.
type Config struct {
	Relay  RelayConfig  `toml:"relay"`
	Server ServerConfig `toml:"server"`
	WebRTC WebRTCConfig `toml:"webrtc"`
	ZMQ    ZMQConfig    `toml:"zmq"`
	Log    LogConfig    `toml:"log"`
	Stats  StatsConfig  `toml:"stats"`
}

// RelayConfig sets the relay's own identity and handshake policy.
type RelayConfig struct {
	PeerID           string         `toml:"peer_id"` // empty: sync-<hostname>
	Metadata         map[string]any `toml:"metadata"`
	ProtocolVersions []string       `toml:"protocol_versions"`
	HandshakeTimeout Duration       `toml:"handshake_timeout"`
	CloseSuperseded  bool           `toml:"close_superseded"`
}

// ServerConfig covers the HTTP listener and per-connection limits.
type ServerConfig struct {
	Listen          string   `toml:"listen"`
	WSPath          string   `toml:"ws_path"`
	MaxFrameSize    int64    `toml:"max_frame_size"`
	WriteQueue      int      `toml:"write_queue"`
	FramesPerSecond float64  `toml:"frames_per_second"` // 0 disables rate limiting
	Burst           int      `toml:"burst"`
	AllowedOrigins  []string `toml:"allowed_origins"` // empty allows any origin
}

// WebRTCConfig enables DataChannel connections signalled over WebSocket.
type WebRTCConfig struct {
	Enabled     bool     `toml:"enabled"`
	Path        string   `toml:"path"`
	STUNServers []string `toml:"stun_servers"`
}

// ZMQConfig enables the ZeroMQ ROUTER transport (binary built with -tags zmq).
type ZMQConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
}

// StatsConfig controls the periodic statistics line.
type StatsConfig struct {
	Interval Duration `toml:"interval"` // 0 disables
}

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			ProtocolVersions: []string{"1"},
			HandshakeTimeout: Duration{30 * time.Second},
			CloseSuperseded:  true,
		},
		Server: ServerConfig{
			Listen:          "127.0.0.1:3030",
			WSPath:          "/ws",
			MaxFrameSize:    16 * 1024 * 1024,
			WriteQueue:      256,
			FramesPerSecond: 0,
			Burst:           64,
		},
		WebRTC: WebRTCConfig{
			Enabled: true,
			Path:    "/rtc",
			STUNServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			},
		},
		ZMQ: ZMQConfig{
			Enabled:  false,
			Endpoint: "tcp://*:5555",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Stats: StatsConfig{
			Interval: Duration{10 * time.Second},
		},
	}
}

// LoadFrom reads path over the defaults. A missing file yields the defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parse config: unknown keys: %s", strings.Join(keys, ", "))
	}

	return cfg, nil
}

// SaveTo writes the configuration to path.
func (c *Config) SaveTo(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// PeerID returns the configured relay id, or sync-<hostname>.
func (c *Config) PeerID() string {
	if c.Relay.PeerID != "" {
		return c.Relay.PeerID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "relay"
	}
	return "sync-" + host
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Server.Listen, err)
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("invalid ws_path %q: must start with /", c.Server.WSPath)
	}
	if c.WebRTC.Enabled {
		if !strings.HasPrefix(c.WebRTC.Path, "/") {
			return fmt.Errorf("invalid webrtc path %q: must start with /", c.WebRTC.Path)
		}
		if c.WebRTC.Path == c.Server.WSPath {
			return fmt.Errorf("webrtc path and ws_path are both %q", c.WebRTC.Path)
		}
	}
	if c.Server.MaxFrameSize <= 0 {
		return fmt.Errorf("invalid max_frame_size: %d", c.Server.MaxFrameSize)
	}
	if c.Server.WriteQueue <= 0 {
		return fmt.Errorf("invalid write_queue: %d", c.Server.WriteQueue)
	}
	if c.Server.FramesPerSecond < 0 {
		return fmt.Errorf("invalid frames_per_second: %v", c.Server.FramesPerSecond)
	}
	if c.Server.FramesPerSecond > 0 && c.Server.Burst < 1 {
		return fmt.Errorf("invalid burst: %d", c.Server.Burst)
	}
	if len(c.Relay.ProtocolVersions) == 0 {
		return fmt.Errorf("protocol_versions must not be empty")
	}
	if c.Relay.HandshakeTimeout.Duration < 0 {
		return fmt.Errorf("invalid handshake_timeout: %v", c.Relay.HandshakeTimeout)
	}
	if c.Stats.Interval.Duration < 0 {
		return fmt.Errorf("invalid stats interval: %v", c.Stats.Interval)
	}
	if c.ZMQ.Enabled && c.ZMQ.Endpoint == "" {
		return fmt.Errorf("zmq enabled without endpoint")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}
