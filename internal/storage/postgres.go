package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"movieclub/internal/rotation"
	logx "movieclub/pkg/logx"
)

type pgParticipant struct {
	ID          string    `gorm:"primaryKey;size:100"`
	DisplayName string    `gorm:"not null;size:100"`
	Position    *int      `gorm:"uniqueIndex:uq_participants_position"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (pgParticipant) TableName() string { return "participants" }

type pgRotationConfig struct {
	ID                 int       `gorm:"primaryKey"`
	StartDate          time.Time `gorm:"not null;type:timestamptz"`
	PeriodLengthDays   int       `gorm:"not null;check:period_length_days > 0"`
	EarlyAccessDays    int       `gorm:"not null;check:early_access_days >= 0"`
	InitialPickerIndex int       `gorm:"not null;default:0"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

func (pgRotationConfig) TableName() string { return "rotation_config" }

type pgPick struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	PeriodIndex   int64     `gorm:"not null;uniqueIndex:uq_picks_period"`
	ParticipantID string    `gorm:"not null;size:100;index:idx_picks_participant"`
	Title         string    `gorm:"not null;size:255"`
	Year          *int      `gorm:"column:year"`
	IMDbID        *string   `gorm:"column:imdb_id;size:20"`
	Metadata      string    `gorm:"type:jsonb;not null;default:'{}'"`
	PickedAt      time.Time `gorm:"not null;type:timestamptz"`
	Historical    bool      `gorm:"not null;default:false"`
}

func (pgPick) TableName() string { return "picks" }

type pgRating struct {
	ID       int64     `gorm:"primaryKey;autoIncrement"`
	PickID   int64     `gorm:"not null;uniqueIndex:uq_rating_pick_rater"`
	RaterID  string    `gorm:"not null;size:100;uniqueIndex:uq_rating_pick_rater;index:idx_ratings_rater"`
	Score    int       `gorm:"not null"`
	Review   *string   `gorm:"size:1000"`
	RatedAt  time.Time `gorm:"not null;type:timestamptz"`
	Modified time.Time `gorm:"column:updated_at;not null;type:timestamptz"`

	Pick pgPick `gorm:"foreignKey:PickID;constraint:OnDelete:CASCADE"`
}

func (pgRating) TableName() string { return "ratings" }

type pgAudit struct {
	ID     int64     `gorm:"primaryKey;autoIncrement"`
	At     time.Time `gorm:"not null;type:timestamptz"`
	Actor  string    `gorm:"not null;size:100"`
	Action string    `gorm:"not null;size:64"`
	Target string    `gorm:"size:255"`
	Detail string    `gorm:"type:text"`
}

func (pgAudit) TableName() string { return "audit" }

type postgresStore struct {
	db  *gorm.DB
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&pgParticipant{}, &pgRotationConfig{}, &pgPick{}, &pgRating{}, &pgAudit{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("postgres store ready")
	return &postgresStore{db: db, log: log}, nil
}

func (s *postgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translateGorm(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	default:
		return err
	}
}

// ---- rotation ----

func (s *postgresStore) LoadRotation(ctx context.Context) (RotationState, error) {
	var st RotationState
	var cfg pgRotationConfig
	err := s.db.WithContext(ctx).Where("id = ?", 1).Take(&cfg).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return RotationState{}, err
	default:
		st.Configured = true
		st.Config = rotation.Config{
			Start:           cfg.StartDate.UTC(),
			PeriodDays:      cfg.PeriodLengthDays,
			EarlyAccessDays: cfg.EarlyAccessDays,
			InitialPicker:   cfg.InitialPickerIndex,
		}
		st.UpdatedAt = cfg.UpdatedAt
	}

	var rows []pgParticipant
	if err := s.db.WithContext(ctx).Order("position IS NULL, position, id").Find(&rows).Error; err != nil {
		return RotationState{}, err
	}
	for _, r := range rows {
		p := Participant{ID: r.ID, DisplayName: r.DisplayName, CreatedAt: r.CreatedAt}
		if r.Position != nil {
			p.Active = true
			p.Position = *r.Position
		}
		st.Participants = append(st.Participants, p)
	}
	return st, nil
}

func (s *postgresStore) ReplaceRotation(ctx context.Context, cfg rotation.Config, participants []rotation.Participant) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&pgParticipant{}).Where("position IS NOT NULL").Update("position", nil).Error; err != nil {
			return err
		}
		for _, p := range participants {
			pos := p.Position
			row := pgParticipant{ID: p.ID, DisplayName: p.Name, Position: &pos}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"display_name", "position"}),
			}).Create(&row).Error
			if err != nil {
				return err
			}
		}
		row := pgRotationConfig{
			ID:                 1,
			StartDate:          cfg.Start.UTC(),
			PeriodLengthDays:   cfg.PeriodDays,
			EarlyAccessDays:    cfg.EarlyAccessDays,
			InitialPickerIndex: cfg.InitialPicker,
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	})
}

func (s *postgresStore) SaveOrder(ctx context.Context, order []rotation.Participant) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range order {
			res := tx.Model(&pgParticipant{}).Where("id = ? AND position IS NOT NULL", p.ID).Update("position", nil)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrNotFound
			}
		}
		for _, p := range order {
			if err := tx.Model(&pgParticipant{}).Where("id = ?", p.ID).Update("position", p.Position).Error; err != nil {
				return err
			}
		}
		return tx.Model(&pgRotationConfig{}).Where("id = ?", 1).Update("updated_at", time.Now().UTC()).Error
	})
}

func (s *postgresStore) ResetAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&pgRating{}, &pgPick{}, &pgParticipant{}, &pgRotationConfig{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ---- picks ----

func pickToRow(p Pick) (pgPick, error) {
	meta, err := json.Marshal(p.Movie)
	if err != nil {
		return pgPick{}, err
	}
	row := pgPick{
		ID:            p.ID,
		PeriodIndex:   p.Period,
		ParticipantID: p.ParticipantID,
		Title:         p.Movie.Title,
		Metadata:      string(meta),
		PickedAt:      p.PickedAt.UTC(),
		Historical:    p.Historical,
	}
	if p.Movie.Year != 0 {
		y := p.Movie.Year
		row.Year = &y
	}
	if p.Movie.IMDbID != "" {
		id := p.Movie.IMDbID
		row.IMDbID = &id
	}
	return row, nil
}

func rowToPick(r pgPick) Pick {
	year := 0
	if r.Year != nil {
		year = *r.Year
	}
	return Pick{
		ID:            r.ID,
		Period:        r.PeriodIndex,
		ParticipantID: r.ParticipantID,
		Movie:         decodeMovie(r.Metadata, r.Title, year),
		PickedAt:      r.PickedAt.UTC(),
		Historical:    r.Historical,
	}
}

func (s *postgresStore) InsertPick(ctx context.Context, p Pick) (Pick, error) {
	if p.PickedAt.IsZero() {
		p.PickedAt = time.Now().UTC()
	}
	row, err := pickToRow(p)
	if err != nil {
		return Pick{}, err
	}
	row.ID = 0
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Pick{}, translateGorm(err)
	}
	p.ID = row.ID
	return p, nil
}

func (s *postgresStore) GetPick(ctx context.Context, id int64) (Pick, error) {
	var row pgPick
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return Pick{}, translateGorm(err)
	}
	return rowToPick(row), nil
}

func (s *postgresStore) GetPickByPeriod(ctx context.Context, period int64) (Pick, error) {
	var row pgPick
	if err := s.db.WithContext(ctx).Where("period_index = ?", period).Take(&row).Error; err != nil {
		return Pick{}, translateGorm(err)
	}
	return rowToPick(row), nil
}

func (s *postgresStore) DeletePick(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&pgPick{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) DeletePickByPeriod(ctx context.Context, period int64) (bool, error) {
	res := s.db.WithContext(ctx).Where("period_index = ?", period).Delete(&pgPick{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *postgresStore) ListPicks(ctx context.Context, f PickFilter) ([]Pick, error) {
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

func (s *postgresStore) PickSummaries(ctx context.Context, f PickFilter) ([]PickSummary, error) {
	type summaryRow struct {
		pgPick
		AvgScore float64
		N        int
	}
	q := s.db.WithContext(ctx).
		Table("picks AS p").
		Select("p.*, COALESCE(AVG(r.score), 0)::float8 AS avg_score, COUNT(r.id) AS n").
		Joins("LEFT JOIN ratings r ON r.pick_id = p.id").
		Group("p.id")
	if f.ParticipantID != "" {
		q = q.Where("p.participant_id = ?", f.ParticipantID)
	}
	if f.RatedOnly {
		q = q.Having("COUNT(r.id) > 0")
	}
	if f.Order == OrderAverageDesc {
		q = q.Order("avg_score DESC, n DESC, p.period_index DESC")
	} else {
		q = q.Order("p.period_index DESC")
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []summaryRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]PickSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, PickSummary{Pick: rowToPick(r.pgPick), Average: r.AvgScore, Count: r.N})
	}
	return out, nil
}

// ---- ratings ----

func rowToRating(r pgRating) Rating {
	out := Rating{
		ID:        r.ID,
		PickID:    r.PickID,
		RaterID:   r.RaterID,
		Score:     r.Score,
		RatedAt:   r.RatedAt.UTC(),
		UpdatedAt: r.Modified.UTC(),
	}
	if r.Review != nil {
		out.Review = *r.Review
	}
	return out
}

func optStr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func (s *postgresStore) InsertRating(ctx context.Context, r Rating) (Rating, error) {
	if r.RatedAt.IsZero() {
		r.RatedAt = time.Now().UTC()
	}
	r.UpdatedAt = r.RatedAt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&pgPick{}).Where("id = ?", r.PickID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		row := pgRating{
			PickID:   r.PickID,
			RaterID:  r.RaterID,
			Score:    r.Score,
			Review:   optStr(r.Review),
			RatedAt:  r.RatedAt.UTC(),
			Modified: r.UpdatedAt.UTC(),
		}
		if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
			return translateGorm(err)
		}
		r.ID = row.ID
		return nil
	})
	if err != nil {
		return Rating{}, err
	}
	return r, nil
}

func (s *postgresStore) UpdateRating(ctx context.Context, r Rating) (Rating, error) {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).Model(&pgRating{}).
		Where("pick_id = ? AND rater_id = ?", r.PickID, r.RaterID).
		Updates(map[string]any{"score": r.Score, "review": optStr(r.Review), "updated_at": r.UpdatedAt.UTC()})
	if res.Error != nil {
		return Rating{}, res.Error
	}
	if res.RowsAffected == 0 {
		return Rating{}, ErrNotFound
	}
	var row pgRating
	if err := s.db.WithContext(ctx).Where("pick_id = ? AND rater_id = ?", r.PickID, r.RaterID).Take(&row).Error; err != nil {
		return Rating{}, translateGorm(err)
	}
	return rowToRating(row), nil
}

func (s *postgresStore) DeleteRating(ctx context.Context, pickID int64, raterID string) error {
	res := s.db.WithContext(ctx).Where("pick_id = ? AND rater_id = ?", pickID, raterID).Delete(&pgRating{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) ListRatings(ctx context.Context, f RatingFilter) ([]Rating, error) {
	q := s.db.WithContext(ctx).Model(&pgRating{})
	if f.PickID != 0 {
		q = q.Where("pick_id = ?", f.PickID)
	}
	if f.RaterID != "" {
		q = q.Where("rater_id = ?", f.RaterID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []pgRating
	if err := q.Order("rated_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Rating, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToRating(r))
	}
	return out, nil
}

func (s *postgresStore) RaterStats(ctx context.Context, raterID string) (RaterStats, error) {
	var row struct {
		N   int
		Avg float64
		Lo  int
		Hi  int
	}
	err := s.db.WithContext(ctx).Model(&pgRating{}).
		Select("COUNT(*) AS n, COALESCE(AVG(score), 0)::float8 AS avg, COALESCE(MIN(score), 0) AS lo, COALESCE(MAX(score), 0) AS hi").
		Where("rater_id = ?", raterID).
		Scan(&row).Error
	if err != nil {
		return RaterStats{}, err
	}
	return RaterStats{RaterID: raterID, Count: row.N, Average: row.Avg, Min: row.Lo, Max: row.Hi}, nil
}

func (s *postgresStore) Stats(ctx context.Context) (Stats, error) {
	var row struct {
		Participants int
		Active       int
		Picks        int
		RatedPicks   int
		Ratings      int
		AvgScore     float64
	}
	err := s.db.WithContext(ctx).Raw(`SELECT
		(SELECT COUNT(*) FROM participants) AS participants,
		(SELECT COUNT(*) FROM participants WHERE position IS NOT NULL) AS active,
		(SELECT COUNT(*) FROM picks) AS picks,
		(SELECT COUNT(DISTINCT pick_id) FROM ratings) AS rated_picks,
		(SELECT COUNT(*) FROM ratings) AS ratings,
		(SELECT COALESCE(AVG(score), 0)::float8 FROM ratings) AS avg_score`).
		Scan(&row).Error
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Participants:       row.Participants,
		ActiveParticipants: row.Active,
		Picks:              row.Picks,
		RatedPicks:         row.RatedPicks,
		Ratings:            row.Ratings,
		AverageScore:       row.AvgScore,
	}, nil
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	row := pgAudit{At: e.At.UTC(), Actor: e.Actor, Action: e.Action, Target: e.Target, Detail: e.Detail}
	return s.db.WithContext(ctx).Create(&row).Error
}
