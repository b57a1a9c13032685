package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads and validates the main configuration file.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "prod"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":9985"
	}
	if c.Monitor.FastIntervalSeconds <= 0 {
		c.Monitor.FastIntervalSeconds = 5
	}
	if c.Monitor.SlowEvery <= 0 {
		c.Monitor.SlowEvery = 6
	}
	if c.Monitor.StaleAfterSeconds <= 0 {
		c.Monitor.StaleAfterSeconds = 20
	}
	if c.Monitor.MaxConcurrent <= 0 {
		c.Monitor.MaxConcurrent = 4
	}
	if c.Market.TimeoutSeconds <= 0 {
		c.Market.TimeoutSeconds = 10
	}
	if c.Market.CandleLimit <= 0 {
		c.Market.CandleLimit = 200
	}
	if len(c.Market.Intervals) == 0 {
		c.Market.Intervals = []string{"5m", "15m", "1h"}
	}
	if c.Broker.TimeoutSeconds <= 0 {
		c.Broker.TimeoutSeconds = 10
	}
	if c.Executor.MaxAttempts <= 0 {
		c.Executor.MaxAttempts = 3
	}
	if c.Executor.BackoffBaseMs <= 0 {
		c.Executor.BackoffBaseMs = 300
	}
	if c.Executor.TimeoutSeconds <= 0 {
		c.Executor.TimeoutSeconds = 10
	}
	if c.Executor.CooldownSeconds <= 0 {
		c.Executor.CooldownSeconds = 180
	}
	if c.Storage.HistoryPath == "" {
		c.Storage.HistoryPath = "data/history.db"
	}
	if c.Storage.JournalPath == "" {
		c.Storage.JournalPath = "data/journal.db"
	}
}

func validate(c *Config) error {
	if strings.TrimSpace(c.Broker.APIURL) == "" {
		return fmt.Errorf("broker.api_url is required")
	}
	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
		}
	}
	switch strings.ToLower(c.App.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", c.App.LogLevel)
	}
	return nil
}
