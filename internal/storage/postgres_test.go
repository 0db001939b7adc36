package storage

import (
	"net/url"
	"os"
	"strings"
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	logx "movieclub/pkg/logx"
)

// pgDSNEnv points the contract suite at a live postgres. Unset skips it.
const pgDSNEnv = "MOVIECLUB_TEST_PG_DSN"

// openTestPostgres opens a store inside a fresh schema so parallel subtests
// sharing one database never see each other's rows.
func openTestPostgres(t *testing.T) Store {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv(pgDSNEnv))
	if dsn == "" {
		t.Skipf("%s not set", pgDSNEnv)
	}

	id, err := gonanoid.Generate("abcdefghijklmnopqrstuvwxyz0123456789", 12)
	require.NoError(t, err)
	schema := "movieclub_test_" + id

	admin, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, admin.Exec(`CREATE SCHEMA "`+schema+`"`).Error)
	t.Cleanup(func() {
		_ = admin.Exec(`DROP SCHEMA IF EXISTS "` + schema + `" CASCADE`).Error
		if db, err := admin.DB(); err == nil {
			_ = db.Close()
		}
	})

	st, err := Open(Config{Driver: "postgres", DSN: withSearchPath(dsn, schema)}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// withSearchPath pins a postgres DSN (URL or key=value form) to schema.
func withSearchPath(dsn, schema string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err == nil {
			q := u.Query()
			q.Set("search_path", schema)
			u.RawQuery = q.Encode()
			return u.String()
		}
	}
	return dsn + " search_path=" + schema
}

func TestWithSearchPath(t *testing.T) {
	t.Parallel()
	require.Equal(t, "postgres://club@db/club?search_path=s1&sslmode=disable",
		withSearchPath("postgres://club@db/club?sslmode=disable", "s1"))
	require.Equal(t, "host=db user=club search_path=s1", withSearchPath("host=db user=club", "s1"))
}
