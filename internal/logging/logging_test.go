package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", "transactionId", "escrow_1")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "escrow_1", entry["transactionId"])
}

func TestMask(t *testing.T) {
	assert.Equal(t, "(empty)", Mask(""))
	assert.Equal(t, "****", Mask("short"))
	assert.Equal(t, "sk_t****cdef", Mask("sk_test_0123456789abcdef"))
}
