package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MattCruikshank/templatebot/internal/errors"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DISCORD_TOKEN", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultPrefix, cfg.Prefix)
	assert.Equal(t, DefaultTemplatesDir, cfg.TemplatesDir)
	assert.Equal(t, DefaultBackupFile, cfg.BackupFile)
	assert.Equal(t, DefaultVoiceCategory, cfg.VoiceCategory)
	assert.Equal(t, DefaultCaptureTimeout, cfg.CaptureTimeout)
	assert.Empty(t, cfg.MonitorAddr)

	err = cfg.RequireToken()
	assert.ErrorIs(t, err, errors.ErrMissingToken)
}

func TestLoad_Environment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DISCORD_TOKEN", "secret")
	t.Setenv("PREFIX", "?")
	t.Setenv("CAPTURE_TIMEOUT", "30s")
	t.Setenv("MONITOR_ADDR", "127.0.0.1:8089")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.Token)
	assert.Equal(t, "?", cfg.Prefix)
	assert.Equal(t, 30*time.Second, cfg.CaptureTimeout)
	assert.Equal(t, "127.0.0.1:8089", cfg.MonitorAddr)
	assert.NoError(t, cfg.RequireToken())
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())
	// Registered so t restores it; godotenv only fills unset variables.
	t.Setenv("DISCORD_TOKEN", "")
	require.NoError(t, os.Unsetenv("DISCORD_TOKEN"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DISCORD_TOKEN=from-dotenv\n"), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Token)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DISCORD_TOKEN", "x")

	path := filepath.Join(dir, "bot.yaml")
	content := "templates_dir: /srv/templates\nvoice_category: Voice\ncapture_timeout: 2m\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/templates", cfg.TemplatesDir)
	assert.Equal(t, "Voice", cfg.VoiceCategory)
	assert.Equal(t, 2*time.Minute, cfg.CaptureTimeout)
	assert.Equal(t, path, cfg.ConfigFile)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
