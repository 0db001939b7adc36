package config

import (
	"reflect"

	logx "movieclub/pkg/logx"
)

// Change summarizes what a reload touched.
type Change struct {
	Sections []string
	// RestartRequired lists sections that only take effect after a restart.
	RestartRequired []string
	Fields          []logx.Field
}

// Diff compares two configs section by section. Secrets (bot token, api
// key, dsn, redis password) never appear in Fields.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart bool, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		if restart {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
		ch.Fields = append(ch.Fields, fields...)
	}

	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		restart := oldCfg.Telegram.Token != newCfg.Telegram.Token ||
			oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout
		mark("telegram", restart,
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Int64("telegram.group_chat", newCfg.Telegram.GroupChat),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage", true, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Rotation, newCfg.Rotation) {
		mark("rotation", false,
			logx.Int("rotation.period_days", newCfg.Rotation.PeriodDays),
			logx.Int("rotation.early_access_days", newCfg.EarlyAccessDays()),
			logx.String("rotation.timezone", newCfg.Rotation.Timezone),
		)
	}
	if oldCfg.Ratings != newCfg.Ratings {
		mark("ratings", false, logx.Int("ratings.min", newCfg.Ratings.Min), logx.Int("ratings.max", newCfg.Ratings.Max))
	}
	if oldCfg.Commands != newCfg.Commands {
		restart := oldCfg.Commands.Workers != newCfg.Commands.Workers
		mark("commands", restart, logx.String("commands.prefix", newCfg.Commands.Prefix))
	}
	if oldCfg.Lookup != newCfg.Lookup {
		mark("lookup", true, logx.Bool("lookup.enabled", newCfg.Lookup.Enabled), logx.String("lookup.cache", newCfg.Lookup.Cache.Driver))
	}
	if oldCfg.Announce != newCfg.Announce {
		mark("announce", false, logx.Bool("announce.enabled", newCfg.Announce.Enabled), logx.String("announce.cron", newCfg.Announce.Cron))
	}
	if oldCfg.HTTP != newCfg.HTTP {
		mark("http", true, logx.Bool("http.enabled", newCfg.HTTP.Enabled))
	}
	return ch
}
