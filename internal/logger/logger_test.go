package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestLevelFilterAndFile(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)
	dir := t.TempDir()
	require.NoError(t, Init(dir))
	t.Cleanup(func() {
		Close()
		SetLevel(LevelInfo)
		SetOutput(os.Stdout)
	})

	Info("device %s connected", "10.0.0.5")
	Warn("photo for %s rejected", "Alice Wong")

	assert.NotContains(t, buf.String(), "connected")
	assert.Contains(t, buf.String(), "[WARN]")

	b, err := os.ReadFile(filepath.Join(dir, "logs", time.Now().Format("2006-01-02")+".log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "[WARN] photo for Alice Wong rejected")
	assert.NotContains(t, string(b), "\033[")
}
