package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides_API(t *testing.T) {
	t.Setenv("FEEDLINE_API_URL", "https://api.example")
	t.Setenv("FEEDLINE_MEDIA_URL", "https://media.example")
	t.Setenv("FEEDLINE_SIGN_IN_URL", "https://example/sign-in")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "https://api.example", cfg.API.BaseURL)
	assert.Equal(t, "https://media.example", cfg.MediaBaseURL())
	assert.Equal(t, "https://example/sign-in", cfg.API.SignInURL)
}

func TestEnvOverrides_Session(t *testing.T) {
	t.Run("redis settings", func(t *testing.T) {
		t.Setenv("FEEDLINE_SESSION_BACKEND", "redis")
		t.Setenv("FEEDLINE_REDIS_ADDR", "cache:6380")
		t.Setenv("FEEDLINE_REDIS_PASSWORD", "hunter2")
		t.Setenv("FEEDLINE_REDIS_DB", "3")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "redis", cfg.Session.Backend)
		assert.Equal(t, "cache:6380", cfg.Session.Redis.Addr)
		assert.Equal(t, "hunter2", cfg.Session.Redis.Password)
		assert.Equal(t, 3, cfg.Session.Redis.DB)
	})

	t.Run("bad redis db is ignored", func(t *testing.T) {
		t.Setenv("FEEDLINE_REDIS_DB", "three")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, 0, cfg.Session.Redis.DB)
	})

	t.Run("state dir", func(t *testing.T) {
		t.Setenv("FEEDLINE_STATE_DIR", "/srv/feedline")
		t.Setenv("FEEDLINE_SESSION_PATH", "tokens.db")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "/srv/feedline/tokens.db", cfg.SessionPath())
	})
}

func TestEnvOverrides_PushAndDebug(t *testing.T) {
	t.Setenv("FEEDLINE_PUSH_TRANSPORT", "nats")
	t.Setenv("FEEDLINE_PUSH_URL", "nats://localhost:4222")
	t.Setenv("FEEDLINE_DEBUG", "true")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "nats", cfg.Push.Transport)
	assert.Equal(t, "nats://localhost:4222", cfg.Push.URL)
	assert.True(t, cfg.Logging.DebugMode)

	t.Setenv("FEEDLINE_DEBUG", "off")
	cfg.applyEnvOverrides()
	assert.False(t, cfg.Logging.DebugMode)
}
