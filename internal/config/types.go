package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("10s", "24h"). Zero values fall back to
// the defaults applied by ApplyDefaults.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Rotation RotationConfig `json:"rotation"`
	Ratings  RatingsConfig  `json:"ratings"`
	Commands CommandsConfig `json:"commands"`
	Lookup   LookupConfig   `json:"lookup"`
	Announce AnnounceConfig `json:"announce"`
	HTTP     HTTPConfig     `json:"http"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs may run admin commands.
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupChat is the club chat used for announcements.
	GroupChat   int64  `json:"group_chat"`
	ThreadID    int    `json:"thread_id,omitempty"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards WARN+ records to an admin chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the store driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/movieclub.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://club@db/club?sslmode=disable" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// RotationConfig holds the defaults used by setup_rotation.
// EarlyAccessDays is a pointer so an explicit 0 survives defaulting.
type RotationConfig struct {
	PeriodDays      int    `json:"period_days"`
	EarlyAccessDays *int   `json:"early_access_days,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
}

type RatingsConfig struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type CommandsConfig struct {
	Prefix  string `json:"prefix"`
	Workers int    `json:"workers,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type LookupConfig struct {
	Enabled    bool        `json:"enabled"`
	BaseURL    string      `json:"base_url,omitempty"`
	APIKey     string      `json:"api_key,omitempty"`
	Timeout    string      `json:"timeout,omitempty"`
	MaxRetries int         `json:"max_retries,omitempty"`
	MaxResults int         `json:"max_results,omitempty"`
	Cache      LookupCache `json:"cache"`
}

// LookupCache configures the metadata cache. Driver is "memory", "redis" or "none".
type LookupCache struct {
	Driver        string `json:"driver"`
	TTL           string `json:"ttl,omitempty"`
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
}

type AnnounceConfig struct {
	Enabled bool   `json:"enabled"`
	Cron    string `json:"cron,omitempty"`
}

// HTTPConfig controls the read-only status API. Prefer a loopback address.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
}
