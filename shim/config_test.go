package shim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvPort, "9123")
	t.Setenv(EnvToken, "secret")
	t.Setenv(EnvDebug, "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 9123, cfg.Port)
	assert.Equal(t, "secret", cfg.Token)
	assert.False(t, cfg.Debug)
}

func TestFromEnvDebug(t *testing.T) {
	t.Setenv(EnvPort, "9123")
	t.Setenv(EnvDebug, "1")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
}

func TestFromEnvMissingPort(t *testing.T) {
	t.Setenv(EnvPort, "")

	_, err := FromEnv()
	require.ErrorContains(t, err, EnvPort)
}

func TestFromEnvInvalidPort(t *testing.T) {
	for _, portStr := range []string{"abc", "0", "-1", "65536", "8080x"} {
		t.Run(portStr, func(t *testing.T) {
			t.Setenv(EnvPort, portStr)
			_, err := FromEnv()
			require.Error(t, err)
		})
	}
}

func TestFromEnvTokenOptional(t *testing.T) {
	t.Setenv(EnvPort, "1")
	t.Setenv(EnvToken, "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Empty(t, cfg.Token)
}
