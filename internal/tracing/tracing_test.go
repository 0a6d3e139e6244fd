package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesSpansAndShutdownClosesFile(t *testing.T) {
	location := filepath.Join(t.TempDir(), "spans.json")
	require.NoError(t, Init("flowrunner", "test", location))
	require.NotNil(t, traceFile)
	f := traceFile

	_, span := StartSpan(context.Background(), "flows.Submit", false)
	EndSpan(span.WithAttributes(map[string]string{"flow_id": "flow-1"}), nil)

	require.NoError(t, Shutdown(context.Background()))
	assert.Nil(t, traceFile)
	_, err := f.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)

	data, err := os.ReadFile(location)
	require.NoError(t, err)
	assert.Contains(t, string(data), "flows.Submit")
	assert.Contains(t, string(data), "flow-1")
}
