package config

// Config is the main configuration carrier.
type Config struct {
	App      AppConfig      `toml:"app"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Market   MarketConfig   `toml:"market"`
	Broker   BrokerConfig   `toml:"broker"`
	Executor ExecutorConfig `toml:"executor"`
	Notify   NotifyConfig   `toml:"notify"`
	Storage  StorageConfig  `toml:"storage"`
	Policy   PolicyConfig   `toml:"policy"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

type MonitorConfig struct {
	FastIntervalSeconds int `toml:"fast_interval_seconds"`
	SlowEvery           int `toml:"slow_every"`
	StaleAfterSeconds   int `toml:"stale_after_seconds"`
	MaxConcurrent       int `toml:"max_concurrent"`
}

type MarketConfig struct {
	RESTBaseURL    string   `toml:"rest_base_url"`
	ProxyURL       string   `toml:"proxy_url"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	Intervals      []string `toml:"intervals"`
	CandleLimit    int      `toml:"candle_limit"`
}

type BrokerConfig struct {
	APIURL           string `toml:"api_url"`
	APIToken         string `toml:"api_token"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	BreakerThreshold int    `toml:"breaker_threshold"`
	BreakerSeconds   int    `toml:"breaker_seconds"`
}

type ExecutorConfig struct {
	MaxAttempts     int `toml:"max_attempts"`
	BackoffBaseMs   int `toml:"backoff_base_ms"`
	TimeoutSeconds  int `toml:"timeout_seconds"`
	CooldownSeconds int `toml:"cooldown_seconds"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type StorageConfig struct {
	HistoryPath string `toml:"history_path"`
	JournalPath string `toml:"journal_path"`
}

type PolicyConfig struct {
	Path string `toml:"path"`
}
