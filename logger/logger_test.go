package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestZerologLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerologLogger(zerolog.New(&buf), "test-service", zerolog.InfoLevel)

	log.Info("server started", Field{Key: "addr", Value: ":7880"})

	entry := decodeLine(t, &buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "server started", entry["message"])
	assert.Equal(t, "test-service", entry["service"])
	assert.Equal(t, ":7880", entry["addr"])
	assert.Contains(t, entry, "time")
}

func TestZerologLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerologLogger(zerolog.New(&buf), "test-service", zerolog.WarnLevel)

	log.Debug("dropped")
	log.Info("dropped")
	assert.Zero(t, buf.Len())

	log.Warn("kept")
	assert.NotZero(t, buf.Len())
}

func TestZerologLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerologLogger(zerolog.New(&buf), "test-service", zerolog.InfoLevel)

	log.Error("boom", Field{Key: "code", Value: 42})

	entry := decodeLine(t, &buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, float64(42), entry["code"])
}

func TestZerologLogger_With(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerologLogger(zerolog.New(&buf), "test-service", zerolog.InfoLevel)

	derived := log.With(Field{Key: "conn", Value: "conn-00000001"})
	derived.Info("connection accepted")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "conn-00000001", entry["conn"])

	// The parent logger is unchanged.
	buf.Reset()
	log.Info("plain")
	entry = decodeLine(t, &buf)
	assert.NotContains(t, entry, "conn")
}

func TestNopLogger(t *testing.T) {
	log := NewNopLogger()

	// All methods are harmless no-ops, including on derived loggers.
	log.Debug("x")
	log.Info("x", Field{Key: "k", Value: "v"})
	log.Warn("x")
	log.Error("x")
	log.With(Field{Key: "k", Value: "v"}).Info("x")
}
