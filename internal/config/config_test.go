package config

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("test-secret"))

	t.Run("valid", func(t *testing.T) {
		cfg, err := NewConfig("localhost:8000", "host=localhost", secret, []string{"http://localhost:3000"}, true)
		assert.NoError(t, err)
		assert.Equal(t, "localhost:8000", cfg.ServerAddr)
		assert.Equal(t, "host=localhost", cfg.DatabaseDSN)
		assert.Equal(t, []byte("test-secret"), cfg.SigningKey)
		assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
		assert.Equal(t, defaultHandshakeTimeout, cfg.HandshakeTimeout)
		assert.Equal(t, defaultFetchTimeout, cfg.FetchTimeout)
		assert.True(t, cfg.DegradedFallback)
	})

	t.Run("missing server address", func(t *testing.T) {
		_, err := NewConfig("", "host=localhost", secret, nil, false)
		assert.Error(t, err)
	})

	t.Run("missing dsn", func(t *testing.T) {
		_, err := NewConfig("localhost:8000", "", secret, nil, false)
		assert.Error(t, err)
	})

	t.Run("missing signing secret", func(t *testing.T) {
		_, err := NewConfig("localhost:8000", "host=localhost", "", nil, false)
		assert.Error(t, err)
	})

	t.Run("malformed signing secret", func(t *testing.T) {
		_, err := NewConfig("localhost:8000", "host=localhost", "not-base64!!", nil, false)
		assert.Error(t, err)
	})
}
