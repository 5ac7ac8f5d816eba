package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineHandler_FormatsLevelsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelDebug)

	logger.Debug("cache miss", "pid", 100)
	logger.Info("foreground changed", "pid", 200)
	logger.Warn("privilege missing", "name", "SeDebugPrivilege")
	logger.Error("facade fatal", "err", "device vanished")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "DEBUG")
	assert.Contains(t, lines[0], "pid=100")
	assert.Contains(t, lines[1], "INFO")
	assert.Contains(t, lines[2], "WARN")
	assert.Contains(t, lines[3], "ERROR")
}

func TestLineHandler_RespectsMinimumLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn)

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	logger.Warn("visible")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "visible")
}

func TestLineHandler_ISO8601Timestamp(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)
	logger.Info("tick")
	line := strings.TrimSpace(buf.String())
	fields := strings.SplitN(line, " ", 2)
	require.Len(t, fields, 2)
	assert.Contains(t, fields[0], "T")
	assert.Contains(t, fields[0], "Z")
}
