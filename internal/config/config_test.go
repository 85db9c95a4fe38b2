package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFromMissingFile(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = LoadFrom("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	body := `
[relay]
peer_id = "sync-test"
handshake_timeout = "5s"
protocol_versions = ["1", "2"]

[relay.metadata]
isEphemeral = false

[server]
listen = "0.0.0.0:8080"
frames_per_second = 100.0

[webrtc]
enabled = false

[log]
level = "debug"
format = "json"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sync-test", cfg.PeerID())
	assert.Equal(t, 5*time.Second, cfg.Relay.HandshakeTimeout.Duration)
	assert.Equal(t, []string{"1", "2"}, cfg.Relay.ProtocolVersions)
	assert.Equal(t, false, cfg.Relay.Metadata["isEphemeral"])
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Listen)
	assert.Equal(t, 100.0, cfg.Server.FramesPerSecond)
	assert.Equal(t, "/ws", cfg.Server.WSPath, "unset keys keep defaults")
	assert.False(t, cfg.WebRTC.Enabled)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nlisten_addr = \"x\"\n"), 0o600))

	_, err := LoadFrom(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.listen_addr")
}

func TestLoadFromRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	require.NoError(t, os.WriteFile(path, []byte("[relay]\nhandshake_timeout = \"soon\"\n"), 0o600))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}

func TestSaveToRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	cfg := Default()
	cfg.Relay.PeerID = "sync-saved"
	require.NoError(t, cfg.SaveTo(path))

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "sync-saved", loaded.Relay.PeerID)
	assert.Equal(t, cfg.Relay.HandshakeTimeout, loaded.Relay.HandshakeTimeout)
}

func TestPeerIDFallsBackToHostname(t *testing.T) {
	cfg := Default()
	assert.True(t, strings.HasPrefix(cfg.PeerID(), "sync-"))
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad listen", func(c *Config) { c.Server.Listen = "nope" }},
		{"relative ws path", func(c *Config) { c.Server.WSPath = "ws" }},
		{"same paths", func(c *Config) { c.WebRTC.Path = c.Server.WSPath }},
		{"zero frame size", func(c *Config) { c.Server.MaxFrameSize = 0 }},
		{"zero write queue", func(c *Config) { c.Server.WriteQueue = 0 }},
		{"negative rate", func(c *Config) { c.Server.FramesPerSecond = -1 }},
		{"rate without burst", func(c *Config) { c.Server.FramesPerSecond = 10; c.Server.Burst = 0 }},
		{"no versions", func(c *Config) { c.Relay.ProtocolVersions = nil }},
		{"negative timeout", func(c *Config) { c.Relay.HandshakeTimeout.Duration = -time.Second }},
		{"zmq without endpoint", func(c *Config) { c.ZMQ.Enabled = true; c.ZMQ.Endpoint = "" }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
