package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitAddsServiceField(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	Init("proof-service")

	var buf bytes.Buffer
	Log.SetOutput(&buf)
	Log.WithField("proof_request_id", "req-1").Debug("transitioned")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "proof-service", entry["service"])
	assert.Equal(t, "req-1", entry["proof_request_id"])
	assert.Equal(t, "debug", entry["level"])
}

func TestInitFallsBackToInfo(t *testing.T) {
	t.Setenv("LOG_LEVEL", "chatty")
	Init("")
	assert.Equal(t, "info", Log.GetLevel().String())
}
