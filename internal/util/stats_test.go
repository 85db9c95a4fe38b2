package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{100 * 1024, " 0.1 MiB"},
	}
	for _, tc := range testCases {
		got := formatBytes(tc.in)
		assert.Equal(t, tc.want, got)
		assert.Len(t, got, 8)
	}
}

func TestSnapshotReflectsCounters(t *testing.T) {
	before := Stats.Snapshot()
	Stats.AddConn()
	Stats.AddSent(10)
	Stats.Dropped.Add(1)
	after := Stats.Snapshot()

	assert.Equal(t, int64(1), after.OpenedConns-before.OpenedConns)
	assert.Equal(t, int64(10), after.BytesSent-before.BytesSent)
	assert.Equal(t, int64(1), after.Dropped-before.Dropped)
}

func TestSetLevel(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", ""} {
		assert.NoError(t, SetLevel(lvl))
	}
	assert.Error(t, SetLevel("loud"))
	assert.NoError(t, SetLevel("info"))
}
