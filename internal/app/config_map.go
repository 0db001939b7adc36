package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"movieclub/internal/announce"
	"movieclub/internal/club"
	"movieclub/internal/config"
	"movieclub/internal/lookup"
	"movieclub/internal/storage"
	kit "movieclub/internal/transport"
	"movieclub/internal/transport/telegram/router"
	logx "movieclub/pkg/logx"
)

const defaultSQLiteBusy = 5 * time.Second

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultSQLiteBusy)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	case "postgres", "postgresql":
		return storage.Config{Driver: driver, DSN: sc.DSN}, nil
	default:
		return storage.Config{Driver: driver}, nil
	}
}

func mapClubOptions(cfg *config.Config) (club.Options, error) {
	loc, err := cfg.Location()
	if err != nil {
		return club.Options{}, fmt.Errorf("rotation.timezone: %w", err)
	}
	return club.Options{
		MinScore:        cfg.Ratings.Min,
		MaxScore:        cfg.Ratings.Max,
		PeriodDays:      cfg.Rotation.PeriodDays,
		EarlyAccessDays: cfg.EarlyAccessDays(),
		Location:        loc,
	}, nil
}

func mapRouterOptions(cfg *config.Config, botUsername string) router.Options {
	return router.Options{
		Prefix:      cfg.Commands.Prefix,
		Workers:     cfg.Commands.Workers,
		Timeout:     config.MustDuration(cfg.Commands.Timeout, config.DefaultCommandTimeout),
		Owners:      cfg.Telegram.OwnerUserIDs,
		BotUsername: botUsername,
	}
}

func mapAnnounceConfig(cfg *config.Config) announce.Config {
	loc, err := cfg.Location()
	if err != nil {
		loc = time.UTC
	}
	return announce.Config{
		Enabled:  cfg.Announce.Enabled,
		Spec:     cfg.Announce.Cron,
		Location: loc,
		Target:   kit.ChatTarget{ChatID: cfg.Telegram.GroupChat, ThreadID: cfg.Telegram.ThreadID},
	}
}

// openLookup builds the metadata service and its cache. It returns nil when
// lookup is disabled so picks fall back to the typed title.
func openLookup(ctx context.Context, cfg *config.Config, log logx.Logger) (*lookup.Service, error) {
	lc := cfg.Lookup
	if !lc.Enabled {
		return nil, nil
	}
	ttl := config.MustDuration(lc.Cache.TTL, config.DefaultCacheTTL)

	var cache lookup.Cache
	switch lc.Cache.Driver {
	case "redis":
		rc, err := lookup.NewRedisCache(ctx, lookup.RedisOptions{
			Addr:     lc.Cache.RedisAddr,
			Password: lc.Cache.RedisPassword,
			DB:       lc.Cache.RedisDB,
			TTL:      ttl,
		})
		if err != nil {
			return nil, err
		}
		cache = rc
	case "none":
	default:
		cache = lookup.NewMemoryCache(ttl, 0)
	}

	return lookup.New(lookup.Config{
		BaseURL:    lc.BaseURL,
		APIKey:     lc.APIKey,
		Timeout:    config.MustDuration(lc.Timeout, config.DefaultLookupTimeout),
		MaxRetries: lc.MaxRetries,
		MaxResults: lc.MaxResults,
	}, cache, log), nil
}
