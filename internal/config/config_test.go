package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalJSON = `{"telegram":{"token":"x","owner_user_ids":[1]}}`

func TestDecodeAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.json", []byte(minimalJSON))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, DefaultSQLitePath, cfg.Storage.Path)
	assert.Equal(t, 14, cfg.Rotation.PeriodDays)
	assert.Equal(t, 7, cfg.EarlyAccessDays())
	assert.Equal(t, 1, cfg.Ratings.Min)
	assert.Equal(t, 10, cfg.Ratings.Max)
	assert.Equal(t, "/", cfg.Commands.Prefix)
	assert.Equal(t, DefaultAnnounceCron, cfg.Announce.Cron)
	assert.True(t, cfg.IsOwner(1))
	assert.False(t, cfg.IsOwner(2))
}

func TestDecodeKeepsExplicitZeroEarlyAccess(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.json", []byte(`{"rotation":{"period_days":7,"early_access_days":0}}`))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.EarlyAccessDays())
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	src := `
telegram:
  token: abc
  group_chat: -100123
rotation:
  period_days: 10
  early_access_days: 3
  timezone: Europe/Berlin
announce:
  enabled: true
  cron: "30 8 * * 1"
`
	cfg, err := Decode("club.yaml", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, int64(-100123), cfg.Telegram.GroupChat)
	assert.Equal(t, 3, cfg.EarlyAccessDays())
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"unknown field", `{"rotation":{"period":3}}`, "unknown field"},
		{"trailing data", minimalJSON + `{}`, "trailing data"},
		{"period zero after default", `{"rotation":{"period_days":-1}}`, "period_days"},
		{"early access too long", `{"rotation":{"period_days":7,"early_access_days":7}}`, "early_access_days"},
		{"ratings inverted", `{"ratings":{"min":5,"max":5}}`, "ratings"},
		{"ratings below one", `{"ratings":{"min":0,"max":5}}`, "ratings"},
		{"prefix with space", `{"commands":{"prefix":"! "}}`, "prefix"},
		{"bad duration", `{"commands":{"timeout":"soon"}}`, "commands.timeout"},
		{"postgres without dsn", `{"storage":{"driver":"postgres"}}`, "dsn"},
		{"bad timezone", `{"rotation":{"timezone":"Mars/Base"}}`, "timezone"},
		{"bad cron", `{"telegram":{"group_chat":1},"announce":{"enabled":true,"cron":"every day"}}`, "announce.cron"},
		{"announce without chat", `{"announce":{"enabled":true}}`, "group_chat"},
		{"redis without addr", `{"lookup":{"cache":{"driver":"redis"}}}`, "redis_addr"},
		{"lookup without key", `{"lookup":{"enabled":true}}`, "api_key"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode("c.json", []byte(tc.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	t.Parallel()
	_, err := Decode("c.json", []byte(`{"ratings":{"min":9,"max":2},"commands":{"prefix":"a b"}}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	assert.Contains(t, err.Error(), "ratings")
	assert.Contains(t, err.Error(), "prefix")
}

func TestDiffHidesSecrets(t *testing.T) {
	t.Parallel()
	a, err := Decode("a.json", []byte(`{"telegram":{"token":"old-secret"}}`))
	require.NoError(t, err)
	b, err := Decode("b.json", []byte(`{"telegram":{"token":"new-secret"},"logging":{"level":"debug"}}`))
	require.NoError(t, err)

	ch := Diff(a, b)
	assert.Equal(t, []string{"telegram", "logging"}, ch.Sections)
	assert.Equal(t, []string{"telegram"}, ch.RestartRequired)
	assert.Empty(t, Diff(a, a).Sections)
}

func TestWatchPublishesReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(minimalJSON), 0o644))

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher time to register before editing.
	time.Sleep(200 * time.Millisecond)
	updated := strings.Replace(minimalJSON, `"owner_user_ids":[1]`, `"owner_user_ids":[1,2]`, 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case cfg := <-sub:
		assert.True(t, cfg.IsOwner(2))
		assert.True(t, m.Get().IsOwner(2))
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload published")
	}
	cancel()
	<-done
	m.Unsubscribe(sub)
}
