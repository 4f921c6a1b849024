package prettylog

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))

	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	logger.With("component", "server").WithGroup("conn").Info("accepted", "id", 7, "error", errors.New("boom"))
	out := buf.String()
	assert.Contains(t, out, "accepted")
	assert.Contains(t, out, `"component": "server"`)
	assert.Contains(t, out, `"conn": {`)
	assert.Contains(t, out, `"id": 7`)
	assert.Contains(t, out, `"error": "boom"`)
}

func TestTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, LevelTrace))

	logger.Log(context.Background(), LevelTrace, "wire dump")
	assert.Contains(t, buf.String(), "TRACE:")
	assert.Contains(t, buf.String(), "wire dump")
}
