package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"movieclub/internal/movie"
	"movieclub/internal/rotation"
	logx "movieclub/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Fixed-width UTC timestamps so TEXT ordering matches time ordering.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLITE_BUSY out of the picture and serializes the
	// read-check-write sequences inside transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ---- rotation ----

func (s *sqliteStore) LoadRotation(ctx context.Context) (RotationState, error) {
	var st RotationState
	var start, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT start_date, period_length_days, early_access_days, initial_picker_index, updated_at
		 FROM rotation_config WHERE id = 1`,
	).Scan(&start, &st.Config.PeriodDays, &st.Config.EarlyAccessDays, &st.Config.InitialPicker, &updated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return RotationState{}, err
	default:
		st.Configured = true
		st.Config.Start = parseTS(start)
		st.UpdatedAt = parseTS(updated)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, position, created_at FROM participants
		 ORDER BY position IS NULL, position, id`)
	if err != nil {
		return RotationState{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Participant
		var pos sql.NullInt64
		var created string
		if err := rows.Scan(&p.ID, &p.DisplayName, &pos, &created); err != nil {
			return RotationState{}, err
		}
		p.Active = pos.Valid
		p.Position = int(pos.Int64)
		p.CreatedAt = parseTS(created)
		st.Participants = append(st.Participants, p)
	}
	return st, rows.Err()
}

func (s *sqliteStore) ReplaceRotation(ctx context.Context, cfg rotation.Config, participants []rotation.Participant) error {
	now := time.Now().UTC().Format(tsLayout)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE participants SET position = NULL`); err != nil {
			return err
		}
		for _, p := range participants {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO participants(id, display_name, position, created_at) VALUES(?,?,?,?)
				 ON CONFLICT(id) DO UPDATE SET display_name=excluded.display_name, position=excluded.position`,
				p.ID, p.Name, p.Position, now,
			); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rotation_config(id, start_date, period_length_days, early_access_days, initial_picker_index, updated_at)
			 VALUES(1,?,?,?,?,?)
			 ON CONFLICT(id) DO UPDATE SET start_date=excluded.start_date, period_length_days=excluded.period_length_days,
			   early_access_days=excluded.early_access_days, initial_picker_index=excluded.initial_picker_index,
			   updated_at=excluded.updated_at`,
			cfg.Start.UTC().Format(tsLayout), cfg.PeriodDays, cfg.EarlyAccessDays, cfg.InitialPicker, now,
		)
		return err
	})
}

func (s *sqliteStore) SaveOrder(ctx context.Context, order []rotation.Participant) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// Clear first so the partial unique index on position never sees a
		// transient duplicate.
		for _, p := range order {
			res, err := tx.ExecContext(ctx, `UPDATE participants SET position = NULL WHERE id = ? AND position IS NOT NULL`, p.ID)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrNotFound
			}
		}
		for _, p := range order {
			if _, err := tx.ExecContext(ctx, `UPDATE participants SET position = ? WHERE id = ?`, p.Position, p.ID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `UPDATE rotation_config SET updated_at = ? WHERE id = 1`, time.Now().UTC().Format(tsLayout))
		return err
	})
}

func (s *sqliteStore) ResetAll(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM ratings`,
			`DELETE FROM picks`,
			`DELETE FROM participants`,
			`DELETE FROM rotation_config`,
		} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return err
			}
		}
		return nil
	})
}

// ---- picks ----

const pickCols = `p.id, p.period_index, p.participant_id, p.title, p.year, p.metadata, p.picked_at, p.historical`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPick(sc rowScanner, extra ...any) (Pick, error) {
	var p Pick
	var title, meta, pickedAt string
	var year sql.NullInt64
	var historical int
	dest := append([]any{&p.ID, &p.Period, &p.ParticipantID, &title, &year, &meta, &pickedAt, &historical}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return Pick{}, err
	}
	p.Movie = decodeMovie(meta, title, int(year.Int64))
	p.PickedAt = parseTS(pickedAt)
	p.Historical = historical != 0
	return p, nil
}

func (s *sqliteStore) InsertPick(ctx context.Context, p Pick) (Pick, error) {
	if p.PickedAt.IsZero() {
		p.PickedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(p.Movie)
	if err != nil {
		return Pick{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO picks(period_index, participant_id, title, year, imdb_id, metadata, picked_at, historical)
		 VALUES(?,?,?,?,?,?,?,?)`,
		p.Period, p.ParticipantID, p.Movie.Title, nullInt(p.Movie.Year), nullStr(p.Movie.IMDbID),
		string(meta), p.PickedAt.UTC().Format(tsLayout), boolInt(p.Historical),
	)
	if err != nil {
		return Pick{}, translateSQLite(err)
	}
	p.ID, err = res.LastInsertId()
	return p, err
}

func (s *sqliteStore) GetPick(ctx context.Context, id int64) (Pick, error) {
	p, err := scanPick(s.db.QueryRowContext(ctx, `SELECT `+pickCols+` FROM picks p WHERE p.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Pick{}, ErrNotFound
	}
	return p, err
}

func (s *sqliteStore) GetPickByPeriod(ctx context.Context, period int64) (Pick, error) {
	p, err := scanPick(s.db.QueryRowContext(ctx, `SELECT `+pickCols+` FROM picks p WHERE p.period_index = ?`, period))
	if errors.Is(err, sql.ErrNoRows) {
		return Pick{}, ErrNotFound
	}
	return p, err
}

func (s *sqliteStore) DeletePick(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM picks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) DeletePickByPeriod(ctx context.Context, period int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM picks WHERE period_index = ?`, period)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) ListPicks(ctx context.Context, f PickFilter) ([]Pick, error) {
	sums, err := s.PickSummaries(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]Pick, len(sums))
	for i, sum := range sums {
		out[i] = sum.Pick
	}
	return out, nil
}

func (s *sqliteStore) PickSummaries(ctx context.Context, f PickFilter) ([]PickSummary, error) {
	order := `p.period_index DESC`
	if f.Order == OrderAverageDesc {
		order = `avg_score DESC, n DESC, p.period_index DESC`
	}
	having := ``
	if f.RatedOnly {
		having = `HAVING COUNT(r.id) > 0`
	}
	q := `SELECT ` + pickCols + `, COALESCE(AVG(r.score), 0) AS avg_score, COUNT(r.id) AS n
		FROM picks p LEFT JOIN ratings r ON r.pick_id = p.id
		WHERE (? = '' OR p.participant_id = ?)
		GROUP BY p.id ` + having + `
		ORDER BY ` + order + `
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, f.ParticipantID, f.ParticipantID, limitOr(f.Limit, -1))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PickSummary
	for rows.Next() {
		var sum PickSummary
		p, err := scanPick(rows, &sum.Average, &sum.Count)
		if err != nil {
			return nil, err
		}
		sum.Pick = p
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ---- ratings ----

func (s *sqliteStore) InsertRating(ctx context.Context, r Rating) (Rating, error) {
	if r.RatedAt.IsZero() {
		r.RatedAt = time.Now().UTC()
	}
	r.UpdatedAt = r.RatedAt
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM picks WHERE id = ?`, r.PickID).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO ratings(pick_id, rater_id, score, review, rated_at, updated_at) VALUES(?,?,?,?,?,?)`,
			r.PickID, r.RaterID, r.Score, nullStr(r.Review),
			r.RatedAt.UTC().Format(tsLayout), r.UpdatedAt.UTC().Format(tsLayout),
		)
		if err != nil {
			return translateSQLite(err)
		}
		r.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return Rating{}, err
	}
	return r, nil
}

func (s *sqliteStore) UpdateRating(ctx context.Context, r Rating) (Rating, error) {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE ratings SET score = ?, review = ?, updated_at = ? WHERE pick_id = ? AND rater_id = ?`,
		r.Score, nullStr(r.Review), r.UpdatedAt.UTC().Format(tsLayout), r.PickID, r.RaterID,
	)
	if err != nil {
		return Rating{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Rating{}, ErrNotFound
	}
	got, err := s.ListRatings(ctx, RatingFilter{PickID: r.PickID, RaterID: r.RaterID, Limit: 1})
	if err != nil {
		return Rating{}, err
	}
	if len(got) == 0 {
		return Rating{}, ErrNotFound
	}
	return got[0], nil
}

func (s *sqliteStore) DeleteRating(ctx context.Context, pickID int64, raterID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ratings WHERE pick_id = ? AND rater_id = ?`, pickID, raterID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListRatings(ctx context.Context, f RatingFilter) ([]Rating, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pick_id, rater_id, score, review, rated_at, updated_at FROM ratings
		 WHERE (? = 0 OR pick_id = ?) AND (? = '' OR rater_id = ?)
		 ORDER BY rated_at DESC, id DESC
		 LIMIT ?`,
		f.PickID, f.PickID, f.RaterID, f.RaterID, limitOr(f.Limit, -1),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Rating
	for rows.Next() {
		var r Rating
		var review sql.NullString
		var rated, updated string
		if err := rows.Scan(&r.ID, &r.PickID, &r.RaterID, &r.Score, &review, &rated, &updated); err != nil {
			return nil, err
		}
		r.Review = review.String
		r.RatedAt = parseTS(rated)
		r.UpdatedAt = parseTS(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RaterStats(ctx context.Context, raterID string) (RaterStats, error) {
	st := RaterStats{RaterID: raterID}
	var avg sql.NullFloat64
	var lo, hi sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(score), MIN(score), MAX(score) FROM ratings WHERE rater_id = ?`, raterID,
	).Scan(&st.Count, &avg, &lo, &hi)
	if err != nil {
		return RaterStats{}, err
	}
	st.Average, st.Min, st.Max = avg.Float64, int(lo.Int64), int(hi.Int64)
	return st, nil
}

func (s *sqliteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM participants),
		(SELECT COUNT(*) FROM participants WHERE position IS NOT NULL),
		(SELECT COUNT(*) FROM picks),
		(SELECT COUNT(DISTINCT pick_id) FROM ratings),
		(SELECT COUNT(*) FROM ratings),
		(SELECT AVG(score) FROM ratings)`,
	).Scan(&st.Participants, &st.ActiveParticipants, &st.Picks, &st.RatedPicks, &st.Ratings, &avg)
	if err != nil {
		return Stats{}, err
	}
	st.AverageScore = avg.Float64
	return st, nil
}

// ---- audit ----

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, action, target, detail) VALUES(?,?,?,?,?)`,
		e.At.UTC().Format(tsLayout), e.Actor, e.Action, nullStr(e.Target), nullStr(e.Detail),
	)
	return err
}

// ---- helpers ----

func translateSQLite(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func decodeMovie(meta, title string, year int) movie.Metadata {
	var m movie.Metadata
	if strings.TrimSpace(meta) != "" {
		_ = json.Unmarshal([]byte(meta), &m)
	}
	if m.Title == "" {
		m.Title = title
	}
	if m.Year == 0 {
		m.Year = year
	}
	return m
}

func parseTS(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
