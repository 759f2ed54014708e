package quarantine_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassflow/graphsync/internal/core/quarantine"
)

func TestSink_Drop_LogsReasonAndCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	sink := quarantine.New(log)

	sink.Drop("c", "users", "cdc.public.users", "row missing id column")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "users", entry["table"])
	assert.Equal(t, "row missing id column", entry["reason"])
	assert.NotEmpty(t, entry["correlation_id"])
}

func TestSink_Success_LogsOutcome(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	sink := quarantine.New(log)

	sink.Success("c", "users")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "SUCCESS", entry["outcome"])
}
