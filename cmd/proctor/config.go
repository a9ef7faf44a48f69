package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v3"
)

// fileConfig is the on-disk proctor.toml.
type fileConfig struct {
	ServerURL         string `toml:"server_url"`
	Token             string `toml:"token,omitempty"`
	AutosaveSeconds   int    `toml:"autosave_seconds"`
	UnlockPollSeconds int    `toml:"unlock_poll_seconds"`
	PushStatus        bool   `toml:"push_status"`
	LogLevel          string `toml:"log_level,omitempty"`
}

func defaultConfig() fileConfig {
	return fileConfig{
		ServerURL:         "http://localhost:8080",
		AutosaveSeconds:   30,
		UnlockPollSeconds: 5,
		LogLevel:          "warn",
	}
}

// loadConfig reads path over the defaults. A missing file is not an error.
func loadConfig(path string) (fileConfig, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func saveConfig(path string, cfg fileConfig) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyFlags overrides file values with flags or PROCTOR_* variables that
// were actually set.
func applyFlags(cfg fileConfig, cmd *cli.Command) fileConfig {
	if cmd.IsSet("server") {
		cfg.ServerURL = cmd.String("server")
	}
	if cmd.IsSet("token") {
		cfg.Token = cmd.String("token")
	}
	if cmd.IsSet("autosave-seconds") {
		cfg.AutosaveSeconds = cmd.Int("autosave-seconds")
	}
	if cmd.IsSet("unlock-poll-seconds") {
		cfg.UnlockPollSeconds = cmd.Int("unlock-poll-seconds")
	}
	if cmd.IsSet("push-status") {
		cfg.PushStatus = cmd.Bool("push-status")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	return cfg
}

func (c fileConfig) autosaveInterval() time.Duration {
	if c.AutosaveSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.AutosaveSeconds) * time.Second
}

func (c fileConfig) unlockPollInterval() time.Duration {
	if c.UnlockPollSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.UnlockPollSeconds) * time.Second
}
