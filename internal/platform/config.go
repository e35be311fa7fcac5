package platform

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the file and environment configuration of the tally binary.
// Zero values mean "use the default", except MinInterval where nil means
// default and an explicit 0s disables the sync throttle.
type Config struct {
	Adapter     string         `yaml:"adapter"`
	DataDir     string         `yaml:"data_dir"`
	Market      string         `yaml:"market"`
	MinInterval *time.Duration `yaml:"min_interval,omitempty"`

	Remote   RemoteConfig   `yaml:"remote"`
	Telegram TelegramConfig `yaml:"telegram"`
	Server   ServerConfig   `yaml:"server"`
	Schedule ScheduleConfig `yaml:"schedule"`
}

type RemoteConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	GitDir string `yaml:"git_dir"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID string `yaml:"chat_id"`
}

type ServerConfig struct {
	Addr  string  `yaml:"addr"`
	Token string  `yaml:"token"`
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

type ScheduleConfig struct {
	Sync    string `yaml:"sync"`
	Backup  string `yaml:"backup"`
	Promise string `yaml:"promise"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Adapter: "fs",
		DataDir: "data",
		Market:  "default",
		Server:  ServerConfig{Addr: ":8080", Rate: 1, Burst: 5},
	}
}

// LoadConfig reads <dir>/tally.yaml when present, then <dir>/.env, then the
// TALLY_* environment. Later sources win. Variables already set in the
// process environment are never overwritten by .env.
func LoadConfig(dir string) (Config, error) {
	cfg := DefaultConfig()

	if dir != "" {
		raw, err := os.ReadFile(filepath.Join(dir, ConfigFile))
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", ConfigFile, err)
			}
		case !errors.Is(err, fs.ErrNotExist):
			return cfg, err
		}

		if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load .env: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"TALLY_ADAPTER":          &c.Adapter,
		"TALLY_DATA_DIR":         &c.DataDir,
		"TALLY_MARKET":           &c.Market,
		"TALLY_REMOTE_URL":       &c.Remote.URL,
		"TALLY_REMOTE_TOKEN":     &c.Remote.Token,
		"TALLY_GIT_DIR":          &c.Remote.GitDir,
		"TALLY_TELEGRAM_TOKEN":   &c.Telegram.Token,
		"TALLY_TELEGRAM_CHAT_ID": &c.Telegram.ChatID,
		"TALLY_SERVER_ADDR":      &c.Server.Addr,
		"TALLY_SERVER_TOKEN":     &c.Server.Token,
		"TALLY_SCHEDULE_SYNC":    &c.Schedule.Sync,
		"TALLY_SCHEDULE_BACKUP":  &c.Schedule.Backup,
		"TALLY_SCHEDULE_PROMISE": &c.Schedule.Promise,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("TALLY_MIN_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TALLY_MIN_INTERVAL: %w", err)
		}
		c.MinInterval = &d
	}
	if v, ok := lookup("TALLY_SERVER_RATE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TALLY_SERVER_RATE: %w", err)
		}
		c.Server.Rate = f
	}
	if v, ok := lookup("TALLY_SERVER_BURST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TALLY_SERVER_BURST: %w", err)
		}
		c.Server.Burst = n
	}
	return nil
}

// Options translates the configuration into factory options.
func (c Config) Options() []Option {
	opts := []Option{WithAdapter(c.Adapter)}
	if c.MinInterval != nil {
		opts = append(opts, WithMinInterval(*c.MinInterval))
	}
	switch {
	case c.Remote.URL != "":
		opts = append(opts, WithRemoteURL(c.Remote.URL, c.Remote.Token))
	case c.Remote.GitDir != "":
		opts = append(opts, WithGitRemote(c.Remote.GitDir))
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID != "" {
		opts = append(opts, WithTelegram(c.Telegram.Token, c.Telegram.ChatID))
	}
	return opts
}
