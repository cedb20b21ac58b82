package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFrom(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CONFIG_PATH", path)
	return Load()
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "rule-first", cfg.Engine.DueParseMode)
	assert.Equal(t, "09:00", cfg.Engine.DefaultDueTime)
	assert.Equal(t, "polite", cfg.Engine.Tone)
	assert.Equal(t, "Asia/Tokyo", cfg.Engine.Timezone)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.False(t, cfg.Redis.Enabled)
	assert.True(t, cfg.Push.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Push.ScanInterval)
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := loadFrom(t, `
server:
  port: 9090
engine:
  due_parse_mode: ai-first
  default_due_time: "18:30"
  tone: concise
redis:
  enabled: true
  addr: redis:6379
`)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "ai-first", cfg.Engine.DueParseMode)
	assert.Equal(t, "18:30", cfg.Engine.DefaultDueTime)
	assert.Equal(t, "concise", cfg.Engine.Tone)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("KAIWA_SERVER_PORT", "7070")
	t.Setenv("KAIWA_ENGINE_TONE", "friendly")

	cfg, err := loadFrom(t, "server:\n  port: 9090\n")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "friendly", cfg.Engine.Tone)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad due parse mode", "engine:\n  due_parse_mode: guess\n"},
		{"bad tone", "engine:\n  tone: shouty\n"},
		{"bad default due time", "engine:\n  default_due_time: \"25:99\"\n"},
		{"bad timezone", "engine:\n  timezone: Mars/Olympus\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadFrom(t, tt.yaml)
			assert.Error(t, err)
		})
	}
}
