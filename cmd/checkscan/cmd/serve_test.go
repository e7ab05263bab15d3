package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCommand(t *testing.T) {
	assert.Equal(t, "serve", serveCmd.Use)
	assert.NotEmpty(t, serveCmd.Short)
	for _, name := range []string{
		"host", "port", "cors-origin", "max-upload-size", "shutdown-timeout",
		"uploads-per-minute", "upload-burst", "endpoint", "event", "token",
	} {
		assert.NotNil(t, serveCmd.Flags().Lookup(name), "missing flag %s", name)
	}
}

func TestServeCommandRequiresEndpoint(t *testing.T) {
	isolate(t)
	_, _, err := executeCommand(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check-in endpoint is not configured")
}

func TestServeCommandInvalidPort(t *testing.T) {
	isolate(t)
	_, _, err := executeCommand(t, "serve", "--port", "70000", "--endpoint", "http://localhost:1/checkin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")
}
