package storage

import (
	"context"
	"errors"
	"time"

	"movieclub/internal/movie"
	"movieclub/internal/rotation"
)

var (
	// ErrConflict is returned when a unique constraint rejects a write
	// (one pick per period, one rating per rater and pick).
	ErrConflict = errors.New("storage: conflict")
	ErrNotFound = errors.New("storage: not found")
	ErrDisabled = errors.New("storage disabled")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "postgres": PostgreSQL via DSN
//   - "memory": in-process maps, lost on restart
type Config struct {
	Driver      string
	Path        string        // sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Participant is a stored roster row. Soft-excluded participants keep their
// row (and history) with Active=false.
type Participant struct {
	ID          string
	DisplayName string
	Position    int // meaningful only when Active
	Active      bool
	CreatedAt   time.Time
}

// RotationState is everything persisted about the rotation.
type RotationState struct {
	Configured   bool
	Config       rotation.Config
	Participants []Participant // active first by position, then excluded
	UpdatedAt    time.Time
}

// Rotation builds the scheduler view from the active participants.
func (s RotationState) Rotation() (rotation.Rotation, error) {
	ps := make([]rotation.Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		if !p.Active {
			continue
		}
		ps = append(ps, rotation.Participant{ID: p.ID, Name: p.DisplayName, Position: p.Position})
	}
	return rotation.New(s.Config, ps)
}

// Name returns the display name for id, falling back to the id itself.
func (s RotationState) Name(id string) string {
	for _, p := range s.Participants {
		if p.ID == id {
			if p.DisplayName != "" {
				return p.DisplayName
			}
			break
		}
	}
	return id
}

// Pick is a committed selection for one period.
type Pick struct {
	ID            int64
	Period        int64
	ParticipantID string
	Movie         movie.Metadata
	PickedAt      time.Time
	Historical    bool
}

// Rating is one rater's score for a pick.
type Rating struct {
	ID        int64
	PickID    int64
	RaterID   string
	Score     int
	Review    string
	RatedAt   time.Time
	UpdatedAt time.Time
}

// PickSummary is a pick with its rating aggregate computed at read time.
type PickSummary struct {
	Pick
	Average float64
	Count   int
}

type PickOrder int

const (
	OrderPeriodDesc PickOrder = iota
	OrderAverageDesc
)

// PickFilter narrows ListPicks/PickSummaries. Zero value lists everything,
// newest period first.
type PickFilter struct {
	ParticipantID string
	RatedOnly     bool
	Order         PickOrder
	Limit         int
}

// RatingFilter narrows ListRatings. Results are newest first.
type RatingFilter struct {
	PickID  int64
	RaterID string
	Limit   int
}

// RaterStats aggregates one rater's scores.
type RaterStats struct {
	RaterID string
	Count   int
	Average float64
	Min     int
	Max     int
}

// Stats is the admin overview.
type Stats struct {
	Participants       int
	ActiveParticipants int
	Picks              int
	RatedPicks         int
	Ratings            int
	AverageScore       float64
}

// AuditEntry records an administrative action.
type AuditEntry struct {
	At     time.Time
	Actor  string
	Action string
	Target string
	Detail string
}

// RotationStore persists the roster and rotation config.
type RotationStore interface {
	LoadRotation(ctx context.Context) (RotationState, error)
	// ReplaceRotation atomically soft-excludes every participant not in
	// participants, upserts the given ones at their positions, and writes cfg.
	ReplaceRotation(ctx context.Context, cfg rotation.Config, participants []rotation.Participant) error
	// SaveOrder rewrites positions of the active participants atomically.
	SaveOrder(ctx context.Context, order []rotation.Participant) error
	// ResetAll removes roster, config, picks and ratings. Audit rows survive.
	ResetAll(ctx context.Context) error
}

// PickLedger persists picks and ratings.
type PickLedger interface {
	// InsertPick fails with ErrConflict if the period already holds a pick.
	InsertPick(ctx context.Context, p Pick) (Pick, error)
	GetPick(ctx context.Context, id int64) (Pick, error)
	GetPickByPeriod(ctx context.Context, period int64) (Pick, error)
	DeletePick(ctx context.Context, id int64) error
	// DeletePickByPeriod reports whether a pick was removed.
	DeletePickByPeriod(ctx context.Context, period int64) (bool, error)
	ListPicks(ctx context.Context, f PickFilter) ([]Pick, error)
	PickSummaries(ctx context.Context, f PickFilter) ([]PickSummary, error)

	// InsertRating fails with ErrConflict if the rater already rated the pick
	// and with ErrNotFound if the pick does not exist.
	InsertRating(ctx context.Context, r Rating) (Rating, error)
	// UpdateRating fails with ErrNotFound if there is nothing to update.
	UpdateRating(ctx context.Context, r Rating) (Rating, error)
	DeleteRating(ctx context.Context, pickID int64, raterID string) error
	ListRatings(ctx context.Context, f RatingFilter) ([]Rating, error)
	RaterStats(ctx context.Context, raterID string) (RaterStats, error)
	Stats(ctx context.Context) (Stats, error)
}

// Store is the full persistence API.
type Store interface {
	RotationStore
	PickLedger
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
