package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "movieclub/pkg/logx"
)

const (
	DefaultPeriodDays      = 14
	DefaultEarlyAccessDays = 7
	DefaultMinRating       = 1
	DefaultMaxRating       = 10
	DefaultPrefix          = "/"
	DefaultCommandWorkers  = 4
	DefaultCommandTimeout  = 30 * time.Second
	DefaultPollTimeout     = 10 * time.Second
	DefaultLookupBaseURL   = "https://www.omdbapi.com/"
	DefaultLookupTimeout   = 10 * time.Second
	DefaultLookupRetries   = 2
	DefaultLookupResults   = 5
	DefaultCacheTTL        = 24 * time.Hour
	DefaultAnnounceCron    = "0 9 * * *"
	DefaultHTTPAddr        = "127.0.0.1:8080"
	DefaultSQLitePath      = "./data/movieclub.db"
)

var ErrInvalid = errors.New("invalid config")

// CronParser accepts 5-field specs, an optional seconds field and descriptors.
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ApplyDefaults fills zero values in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = DefaultSQLitePath
	}
	if c.Rotation.PeriodDays == 0 {
		c.Rotation.PeriodDays = DefaultPeriodDays
	}
	if c.Rotation.EarlyAccessDays == nil {
		d := min(DefaultEarlyAccessDays, max(c.Rotation.PeriodDays-1, 0))
		c.Rotation.EarlyAccessDays = &d
	}
	if c.Ratings.Min == 0 && c.Ratings.Max == 0 {
		c.Ratings.Min, c.Ratings.Max = DefaultMinRating, DefaultMaxRating
	}
	if c.Commands.Prefix == "" {
		c.Commands.Prefix = DefaultPrefix
	}
	if c.Commands.Workers <= 0 {
		c.Commands.Workers = DefaultCommandWorkers
	}
	if strings.TrimSpace(c.Lookup.BaseURL) == "" {
		c.Lookup.BaseURL = DefaultLookupBaseURL
	}
	if c.Lookup.MaxRetries == 0 {
		c.Lookup.MaxRetries = DefaultLookupRetries
	}
	if c.Lookup.MaxResults <= 0 {
		c.Lookup.MaxResults = DefaultLookupResults
	}
	if strings.TrimSpace(c.Lookup.Cache.Driver) == "" {
		c.Lookup.Cache.Driver = "memory"
	}
	if strings.TrimSpace(c.Announce.Cron) == "" {
		c.Announce.Cron = DefaultAnnounceCron
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
}

// Validate checks every section and joins all problems into one error.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	check := func(err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrInvalid, err))
		}
	}

	if c.Rotation.PeriodDays <= 0 {
		bad("rotation.period_days must be > 0 (got %d)", c.Rotation.PeriodDays)
	}
	if ea := c.EarlyAccessDays(); ea < 0 || ea >= c.Rotation.PeriodDays {
		bad("rotation.early_access_days must be in [0, period_days) (got %d)", ea)
	}
	if _, err := c.Location(); err != nil {
		bad("rotation.timezone: %v", err)
	}
	if c.Ratings.Min < 1 || c.Ratings.Min >= c.Ratings.Max {
		bad("ratings must satisfy 1 <= min < max (got %d..%d)", c.Ratings.Min, c.Ratings.Max)
	}
	if p := c.Commands.Prefix; strings.TrimSpace(p) != p || strings.ContainsAny(p, " \t\n") || p == "" {
		bad("commands.prefix must be a single non-blank token (got %q)", p)
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "sqlite", "sqlite3", "memory", "mem", "none":
	case "postgres", "postgresql":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			bad("storage.dsn is required for postgres")
		}
	default:
		bad("storage.driver %q is not supported", c.Storage.Driver)
	}

	if !logx.ValidLevel(c.Logging.Level) {
		bad("logging.level %q is not a level", c.Logging.Level)
	}
	if !logx.ValidLevel(c.Logging.Chat.MinLevel) {
		bad("logging.chat.min_level %q is not a level", c.Logging.Chat.MinLevel)
	}

	_, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout)
	check(err)
	_, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	check(err)
	_, err = ParseDurationField("commands.timeout", c.Commands.Timeout)
	check(err)
	_, err = ParseDurationField("lookup.timeout", c.Lookup.Timeout)
	check(err)
	_, err = ParseDurationField("lookup.cache.ttl", c.Lookup.Cache.TTL)
	check(err)

	if c.Lookup.Enabled && strings.TrimSpace(c.Lookup.APIKey) == "" {
		bad("lookup.api_key is required when lookup is enabled")
	}
	switch c.Lookup.Cache.Driver {
	case "memory", "none":
	case "redis":
		if strings.TrimSpace(c.Lookup.Cache.RedisAddr) == "" {
			bad("lookup.cache.redis_addr is required for the redis cache")
		}
	default:
		bad("lookup.cache.driver %q is not supported", c.Lookup.Cache.Driver)
	}

	if c.Announce.Enabled {
		if _, err := CronParser.Parse(c.Announce.Cron); err != nil {
			bad("announce.cron %q: %v", c.Announce.Cron, err)
		}
		if c.Telegram.GroupChat == 0 {
			bad("announce requires telegram.group_chat")
		}
	}
	return errors.Join(errs...)
}

// EarlyAccessDays returns the configured window, or the default when unset.
func (c *Config) EarlyAccessDays() int {
	if c.Rotation.EarlyAccessDays == nil {
		return DefaultEarlyAccessDays
	}
	return *c.Rotation.EarlyAccessDays
}

// Location resolves rotation.timezone, defaulting to UTC.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Rotation.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}

// IsOwner reports whether userID may run admin commands.
func (c *Config) IsOwner(userID int64) bool {
	for _, id := range c.Telegram.OwnerUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
