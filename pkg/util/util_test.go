package util

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestStepClock(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewStepClock(start)

	fired := <-c.After(time.Minute)
	require.Equal(t, start.Add(time.Minute), fired)
	require.Equal(t, start.Add(time.Minute), c.Now())

	c.Advance(time.Hour)
	require.Equal(t, start.Add(61*time.Minute), c.Now())

	c.Set(start)
	require.Equal(t, start, c.Now())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel},
		{"", zapcore.InfoLevel},
		{"loud", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerWithFileCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "trader.log")
	l, err := NewLoggerWithFile(path, "debug")
	require.NoError(t, err)
	l.Sugar().Infow("hello", "k", 1)
	l.Sync()
	require.FileExists(t, path)

	require.NotNil(t, OrNop(nil))
}
