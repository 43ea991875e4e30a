// Package config loads bot configuration from the environment, .env files
// and an optional .templatebot.yaml.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/MattCruikshank/templatebot/internal/errors"
)

// Defaults.
const (
	DefaultPrefix         = "!"
	DefaultTemplatesDir   = "templates"
	DefaultBackupFile     = "backup/backup.json"
	DefaultVoiceCategory  = "╔═•【VOZ】•═╗"
	DefaultCaptureTimeout = 5 * time.Minute
)

// Config holds the bot configuration.
type Config struct {
	// Token authenticates against the chat platform (DISCORD_TOKEN).
	Token string

	Prefix         string
	TemplatesDir   string
	BackupFile     string
	VoiceCategory  string
	CaptureTimeout time.Duration

	LogLevel  string
	LogFormat string

	// MonitorAddr enables the progress monitor when non-empty.
	MonitorAddr  string
	MonitorToken string

	ConfigFile string
}

// Load reads configuration in order of precedence:
// 1. Environment variables
// 2. .env and .env.local
// 3. Config file (--config, or .templatebot.yaml in the working or home directory)
// 4. Defaults
func Load(configFile string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("prefix", DefaultPrefix)
	v.SetDefault("templates_dir", DefaultTemplatesDir)
	v.SetDefault("backup_file", DefaultBackupFile)
	v.SetDefault("voice_category", DefaultVoiceCategory)
	v.SetDefault("capture_timeout", DefaultCaptureTimeout)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "auto")

	if err := v.BindEnv("token", "DISCORD_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind DISCORD_TOKEN: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName(".templatebot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		// Missing file is fine.
		_ = v.ReadInConfig()
	}

	cfg := &Config{
		Token:          v.GetString("token"),
		Prefix:         v.GetString("prefix"),
		TemplatesDir:   v.GetString("templates_dir"),
		BackupFile:     v.GetString("backup_file"),
		VoiceCategory:  v.GetString("voice_category"),
		CaptureTimeout: v.GetDuration("capture_timeout"),
		LogLevel:       v.GetString("log_level"),
		LogFormat:      v.GetString("log_format"),
		MonitorAddr:    v.GetString("monitor_addr"),
		MonitorToken:   v.GetString("monitor_token"),
		ConfigFile:     v.ConfigFileUsed(),
	}

	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = DefaultCaptureTimeout
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}

	return cfg, nil
}

// RequireToken fails when no platform token is configured.
func (c *Config) RequireToken() error {
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("%w: set DISCORD_TOKEN", errors.ErrMissingToken)
	}
	return nil
}

func loadEnvFiles() {
	// .env.local overrides .env; neither overrides the real environment.
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}
}
