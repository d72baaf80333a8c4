package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Client.PageSize)
	assert.Equal(t, 2*time.Second, cfg.Client.TypingQuietPeriod)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Client.PageSize)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
env: production
server:
  port: "9090"
client:
  page_size: 20
  typing_quiet_period: 3s
`)
	t.Setenv("PORT", "7070")
	t.Setenv("REMOTE_TYPING_TTL", "8s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, 20, cfg.Client.PageSize)
	assert.Equal(t, 3*time.Second, cfg.Client.TypingQuietPeriod)
	assert.Equal(t, 8*time.Second, cfg.Client.RemoteTypingTTL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "page size not a number", key: "PAGE_SIZE", val: "many"},
		{name: "page size out of range", key: "PAGE_SIZE", val: "500"},
		{name: "bad duration", key: "REQUEST_TIMEOUT", val: "soon"},
		{name: "bad bool", key: "DB_MIGRATE", val: "perhaps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
