package club

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"movieclub/internal/rotation"
	"movieclub/internal/storage"
	logx "movieclub/pkg/logx"
)

const MaxReviewLen = 1000

// Options are the tunables that may change on config reload.
type Options struct {
	MinScore        int
	MaxScore        int
	PeriodDays      int // default for SetupRotation
	EarlyAccessDays int // default for SetupRotation
	Location        *time.Location
}

func DefaultOptions() Options {
	return Options{MinScore: 1, MaxScore: 10, PeriodDays: 14, EarlyAccessDays: 7, Location: time.UTC}
}

// Service is safe for concurrent use. Conflicts between concurrent callers
// are settled by the store's unique constraints.
type Service struct {
	store storage.Store
	clock Clock
	log   logx.Logger

	mu   sync.RWMutex
	opts Options
}

func New(store storage.Store, clock Clock, log logx.Logger, opts Options) *Service {
	if clock == nil {
		clock = SystemClock{}
	}
	s := &Service{store: store, clock: clock, log: log.With(logx.Component("club"))}
	s.SetOptions(opts)
	return s
}

// SetOptions swaps tunables; zero fields keep their defaults.
func (s *Service) SetOptions(o Options) {
	def := DefaultOptions()
	if o.MinScore == 0 && o.MaxScore == 0 {
		o.MinScore, o.MaxScore = def.MinScore, def.MaxScore
	}
	if o.PeriodDays <= 0 {
		o.PeriodDays = def.PeriodDays
	}
	if o.Location == nil {
		o.Location = def.Location
	}
	s.mu.Lock()
	s.opts = o
	s.mu.Unlock()
}

func (s *Service) Options() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

func (s *Service) Now() time.Time { return s.clock.Now() }

// NormalizeID maps a chat username to a participant id.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(id), "@"))
}

// DisplayPeriod is the 1-based period number shown to users.
func DisplayPeriod(p int64) int64 { return p + 1 }

// snapshot is the state every operation works from.
type snapshot struct {
	state storage.RotationState
	rot   rotation.Rotation
	now   time.Time
	cur   int64
}

func (s *Service) load(ctx context.Context) (snapshot, error) {
	st, err := s.store.LoadRotation(ctx)
	if err != nil {
		return snapshot{}, err
	}
	if !st.Configured {
		return snapshot{}, ErrNotConfigured
	}
	rot, err := st.Rotation()
	if err != nil {
		return snapshot{}, err
	}
	if len(rot.Participants) == 0 {
		return snapshot{}, ErrEmptyRotation
	}
	now := s.clock.Now()
	cur, err := rot.PeriodIndex(now)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{state: st, rot: rot, now: now, cur: cur}, nil
}

// pickAt returns the pick for period, or nil.
func (s *Service) pickAt(ctx context.Context, period int64) (*storage.Pick, error) {
	p, err := s.store.GetPickByPeriod(ctx, period)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// filled pre-reads the current and next period so Permission stays pure.
func (s *Service) filled(ctx context.Context, cur int64) (rotation.Filled, map[int64]*storage.Pick, error) {
	picks := map[int64]*storage.Pick{}
	for _, period := range []int64{cur, cur + 1} {
		p, err := s.pickAt(ctx, period)
		if err != nil {
			return nil, nil, err
		}
		if p != nil {
			picks[period] = p
		}
	}
	return func(period int64) bool { return picks[period] != nil }, picks, nil
}

func (s *Service) audit(ctx context.Context, actor, action, target, detail string) {
	err := s.store.AppendAudit(ctx, storage.AuditEntry{
		At:     s.clock.Now(),
		Actor:  actor,
		Action: action,
		Target: target,
		Detail: detail,
	})
	if err != nil {
		s.log.Warn("audit write failed", logx.String("action", action), logx.Err(err))
	}
}

func (s *Service) checkScore(score int) error {
	o := s.Options()
	if score < o.MinScore || score > o.MaxScore {
		return &ScoreError{Score: score, Min: o.MinScore, Max: o.MaxScore}
	}
	return nil
}

// ScoreError reports the violated bounds; it matches ErrInvalidScore.
type ScoreError struct {
	Score, Min, Max int
}

func (e *ScoreError) Error() string {
	return fmt.Sprintf("score must be between %d and %d (got %d)", e.Min, e.Max, e.Score)
}

func (e *ScoreError) Unwrap() error { return ErrInvalidScore }
