package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

type peer struct{ addr string }

func (p peer) LogValue() slog.Value {
	return slog.GroupValue(slog.String("addr", p.addr))
}

func TestHandlerJSON(t *testing.T) {
	var buf bytes.Buffer
	h, err := New(&buf, FormatJSON, slog.LevelDebug)
	require.NoError(t, err)

	logger := slog.New(h).With("emitter", "agent-0")
	logger.Debug("tick",
		slog.Int("n", 3),
		slog.Bool("sync", true),
		slog.Duration("wait", 1500*time.Millisecond),
		slog.Any("error", errors.New("boom")),
		slog.Any("peer", peer{addr: "127.0.0.1:1"}),
	)
	logger.WithGroup("sim").Info("moved", slog.Float64("x", 1.5))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)

	first := lines[0]
	require.Equal(t, "debug", first["level"])
	require.Equal(t, "tick", first["message"])
	require.Equal(t, "agent-0", first["emitter"])
	require.EqualValues(t, 3, first["n"])
	require.Equal(t, true, first["sync"])
	require.Equal(t, "boom", first["error"])
	require.Equal(t, map[string]any{"addr": "127.0.0.1:1"}, first["peer"])
	require.Contains(t, first, "time")

	require.Equal(t, 1.5, lines[1]["sim.x"])
	require.Equal(t, "agent-0", lines[1]["emitter"], "attributes bound before the group keep their key")
}

func TestHandlerLevel(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	h, err := New(&buf, FormatJSON, level)
	require.NoError(t, err)
	logger := slog.New(h)

	logger.Info("hidden")
	logger.Warn("shown")
	level.Set(slog.LevelInfo)
	logger.Info("shown too")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	require.Equal(t, "warn", lines[0]["level"])
	require.Equal(t, "info", lines[1]["level"])
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	h, err := New(&buf, FormatConsole, nil)
	require.NoError(t, err)
	slog.New(h).Info("listening", slog.String("addr", "0.0.0.0:1337"))
	require.Contains(t, buf.String(), "listening")
	require.Contains(t, buf.String(), "0.0.0.0:1337")

	_, err = New(&buf, "xml", nil)
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}
