package club

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"movieclub/internal/movie"
	"movieclub/internal/rotation"
	"movieclub/internal/storage"
	logx "movieclub/pkg/logx"
)

// Setup describes a new rotation. Zero Start means today; zero PeriodDays
// takes the configured default. EarlyAccessDays nil takes the default too.
type Setup struct {
	Roster          []RosterEntry
	Start           time.Time
	PeriodDays      int
	EarlyAccessDays *int
}

// SetupRotation replaces the roster and rotation config in one step.
// Participants missing from the new roster are soft-excluded; their picks
// and ratings stay. Nothing is written when validation fails.
//
// Once picks exist the start date and period length are fixed: only the
// roster changes, and the first roster entry owns the next unfilled period.
func (s *Service) SetupRotation(ctx context.Context, actor string, in Setup) (rotation.Rotation, error) {
	if len(in.Roster) == 0 {
		return rotation.Rotation{}, ErrEmptyRoster
	}
	o := s.Options()
	start := in.Start
	if start.IsZero() {
		start = s.clock.Now()
	}
	cfg := rotation.Config{
		Start:      startOfDay(start, o.Location),
		PeriodDays: in.PeriodDays,
	}
	if cfg.PeriodDays <= 0 {
		cfg.PeriodDays = o.PeriodDays
	}

	prev, err := s.store.LoadRotation(ctx)
	if err != nil {
		return rotation.Rotation{}, err
	}
	if prev.Configured {
		picks, err := s.store.ListPicks(ctx, storage.PickFilter{Limit: 1})
		if err != nil {
			return rotation.Rotation{}, err
		}
		if len(picks) > 0 {
			if cfg, err = s.continueRotation(ctx, prev.Config, in, len(in.Roster)); err != nil {
				return rotation.Rotation{}, err
			}
		}
	}

	if in.EarlyAccessDays != nil {
		cfg.EarlyAccessDays = *in.EarlyAccessDays
	} else {
		cfg.EarlyAccessDays = min(o.EarlyAccessDays, cfg.PeriodDays-1)
	}

	ps := make([]rotation.Participant, len(in.Roster))
	for i, e := range in.Roster {
		ps[i] = rotation.Participant{ID: NormalizeID(e.ID), Name: e.Name, Position: i}
	}
	rot, err := rotation.New(cfg, ps)
	if err != nil {
		return rotation.Rotation{}, err
	}
	if err := s.store.ReplaceRotation(ctx, cfg, rot.Participants); err != nil {
		return rotation.Rotation{}, err
	}

	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	s.audit(ctx, actor, "setup_rotation", strings.Join(ids, ","),
		fmt.Sprintf("start=%s period_days=%d early_access_days=%d initial_picker=%d",
			cfg.Start.Format(time.DateOnly), cfg.PeriodDays, cfg.EarlyAccessDays, cfg.InitialPicker))
	s.log.Info("rotation set up",
		logx.String("actor", actor),
		logx.Int("participants", len(ps)),
		logx.Time("start", cfg.Start),
		logx.Int("period_days", cfg.PeriodDays),
		logx.Int("early_access_days", cfg.EarlyAccessDays),
		logx.Int("initial_picker", cfg.InitialPicker),
	)
	return rot, nil
}

// continueRotation keeps the period grid of a rotation that already has
// picks and anchors the new roster on the first unfilled period from now.
func (s *Service) continueRotation(ctx context.Context, prev rotation.Config, in Setup, n int) (rotation.Config, error) {
	o := s.Options()
	if !in.Start.IsZero() && !startOfDay(in.Start, o.Location).Equal(prev.Start) {
		return rotation.Config{}, fmt.Errorf("%w: picks exist, so the start date stays %s; run reset_rotation to change it",
			ErrInvalidConfig, prev.Start.Format(time.DateOnly))
	}
	if in.PeriodDays > 0 && in.PeriodDays != prev.PeriodDays {
		return rotation.Config{}, fmt.Errorf("%w: picks exist, so the period stays %d days; run reset_rotation to change it",
			ErrInvalidConfig, prev.PeriodDays)
	}

	grid := rotation.Rotation{Config: prev}
	period, err := grid.PeriodIndex(s.clock.Now())
	if err != nil {
		period = 0
	}
	for {
		p, err := s.pickAt(ctx, period)
		if err != nil {
			return rotation.Config{}, err
		}
		if p == nil {
			break
		}
		period++
	}
	cfg := rotation.Config{Start: prev.Start, PeriodDays: prev.PeriodDays}
	cfg.InitialPicker = int((int64(n) - period%int64(n)) % int64(n))
	return cfg, nil
}

// SkipResult is the outcome of SkipPick.
type SkipResult struct {
	Skipped rotation.Participant
	NewNext rotation.Participant
	Order   []rotation.Participant
	// Changed is false when the rotation is too small to reorder.
	Changed bool
}

// SkipPick defers the upcoming picker to the back of the queue. The current
// period and its picker are untouched. It refuses with ErrPeriodAlreadyFilled
// when the upcoming period already holds an early pick.
func (s *Service) SkipPick(ctx context.Context, actor string) (SkipResult, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return SkipResult{}, err
	}
	next, err := s.pickAt(ctx, snap.cur+1)
	if err != nil {
		return SkipResult{}, err
	}
	if next != nil {
		return SkipResult{}, fmt.Errorf("%w: period %d already has %s", ErrPeriodAlreadyFilled, DisplayPeriod(snap.cur+1), next.Movie.Label())
	}

	order, skipped, err := snap.rot.SkipNext(snap.now)
	if err != nil {
		return SkipResult{}, err
	}
	res := SkipResult{Skipped: skipped, Order: order, Changed: len(order) > 2}
	reordered := rotation.Rotation{Config: snap.rot.Config, Participants: order}
	res.NewNext, _ = reordered.PickerFor(snap.cur + 1)
	if !res.Changed {
		return res, nil
	}
	if err := s.store.SaveOrder(ctx, order); err != nil {
		return SkipResult{}, err
	}
	s.audit(ctx, actor, "skip_pick", skipped.ID, fmt.Sprintf("next=%s", res.NewNext.ID))
	s.log.Info("pick skipped",
		logx.String("actor", actor),
		logx.Int64("period", snap.cur+1),
		logx.String("participant", skipped.ID),
		logx.String("new_next", res.NewNext.ID),
	)
	return res, nil
}

// AddHistoricalPick backfills a pick for the period containing pickedAt.
// It bypasses the turn check but not the one-pick-per-period rule, and
// pickedAt may not lie in the future.
func (s *Service) AddHistoricalPick(ctx context.Context, actor, participant string, m movie.Metadata, pickedAt time.Time) (storage.Pick, error) {
	participant = NormalizeID(participant)
	m.Normalize()
	if err := m.Validate(); err != nil {
		return storage.Pick{}, err
	}
	snap, err := s.load(ctx)
	if err != nil {
		return storage.Pick{}, err
	}
	if !knownParticipant(snap.state, participant) {
		return storage.Pick{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, participant)
	}
	if pickedAt.IsZero() {
		pickedAt = snap.now
	}
	if pickedAt.After(snap.now) {
		return storage.Pick{}, fmt.Errorf("%w: %s is in the future", ErrInvalidConfig, pickedAt.Format(time.DateOnly))
	}
	period, err := snap.rot.PeriodIndex(pickedAt)
	if err != nil {
		return storage.Pick{}, fmt.Errorf("%w: %s is before the rotation start %s",
			ErrInvalidConfig, pickedAt.Format(time.DateOnly), snap.rot.Config.Start.Format(time.DateOnly))
	}
	p, err := s.store.InsertPick(ctx, storage.Pick{
		Period:        period,
		ParticipantID: participant,
		Movie:         m,
		PickedAt:      pickedAt,
		Historical:    true,
	})
	if errors.Is(err, storage.ErrConflict) {
		return storage.Pick{}, fmt.Errorf("%w: period %d", ErrPeriodAlreadyFilled, DisplayPeriod(period))
	}
	if err != nil {
		return storage.Pick{}, err
	}
	s.audit(ctx, actor, "add_historical_pick", participant, fmt.Sprintf("pick=%d period=%d title=%s", p.ID, period, m.Label()))
	s.log.Info("historical pick added",
		logx.String("actor", actor),
		logx.Int64("period", period),
		logx.String("participant", participant),
		logx.Int64("pick_id", p.ID),
	)
	return p, nil
}

// ForcePick records a pick on behalf of the current picker (current period)
// or the next picker (next period, regardless of the early access window).
func (s *Service) ForcePick(ctx context.Context, actor, participant string, m movie.Metadata) (storage.Pick, error) {
	participant = NormalizeID(participant)
	m.Normalize()
	if err := m.Validate(); err != nil {
		return storage.Pick{}, err
	}
	snap, err := s.load(ctx)
	if err != nil {
		return storage.Pick{}, err
	}
	p, ok := snap.rot.Find(participant)
	if !ok {
		return storage.Pick{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, participant)
	}
	filled, _, err := s.filled(ctx, snap.cur)
	if err != nil {
		return storage.Pick{}, err
	}
	curPicker, _ := snap.rot.PickerFor(snap.cur)
	nextPicker, _ := snap.rot.PickerFor(snap.cur + 1)

	var target int64
	switch {
	case p.ID == curPicker.ID && !filled(snap.cur):
		target = snap.cur
	case p.ID == nextPicker.ID && !filled(snap.cur+1):
		target = snap.cur + 1
	case p.ID == curPicker.ID || p.ID == nextPicker.ID:
		return storage.Pick{}, fmt.Errorf("%w: %s has no open period", ErrAlreadyPicked, p.Name)
	default:
		return storage.Pick{}, &Denial{Reason: rotation.ReasonNotYourTurn, Period: snap.cur, Picker: curPicker.Name}
	}
	pick, err := s.insertPick(ctx, snap, p.ID, target, m, false)
	if err != nil {
		return storage.Pick{}, err
	}
	s.audit(ctx, actor, "force_pick", p.ID, fmt.Sprintf("pick=%d period=%d title=%s", pick.ID, target, m.Label()))
	return pick, nil
}

// ResetRotation deletes roster, config, picks and ratings. The audit log survives.
func (s *Service) ResetRotation(ctx context.Context, actor string) error {
	if err := s.store.ResetAll(ctx); err != nil {
		return err
	}
	s.audit(ctx, actor, "reset_rotation", "", "")
	s.log.Warn("rotation reset", logx.String("actor", actor))
	return nil
}

// DeletePick removes a pick (and its ratings) by id.
func (s *Service) DeletePick(ctx context.Context, actor string, pickID int64) (storage.Pick, error) {
	p, err := s.getPick(ctx, pickID)
	if err != nil {
		return storage.Pick{}, err
	}
	if err := s.store.DeletePick(ctx, pickID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Pick{}, fmt.Errorf("%w: #%d", ErrUnknownPick, pickID)
		}
		return storage.Pick{}, err
	}
	s.audit(ctx, actor, "delete_pick", fmt.Sprintf("pick:%d", pickID), p.Movie.Label())
	s.log.Info("pick deleted", logx.String("actor", actor), logx.Int64("pick_id", pickID), logx.Int64("period", p.Period))
	return p, nil
}

// AdminStats is the admin overview.
type AdminStats struct {
	storage.Stats
	Configured    bool
	Period        int64
	DaysRemaining int
	CurrentPicker rotation.Participant
	NextPicker    rotation.Participant
	CurrentPick   *storage.Pick
}

func (s *Service) AdminStats(ctx context.Context) (AdminStats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return AdminStats{}, err
	}
	out := AdminStats{Stats: st}
	snap, err := s.load(ctx)
	if errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrEmptyRotation) {
		return out, nil
	}
	if err != nil {
		return AdminStats{}, err
	}
	out.Configured = true
	out.Period = snap.cur
	out.DaysRemaining, _ = snap.rot.DaysRemaining(snap.now)
	out.CurrentPicker, _ = snap.rot.PickerFor(snap.cur)
	out.NextPicker, _ = snap.rot.PickerFor(snap.cur + 1)
	out.CurrentPick, err = s.pickAt(ctx, snap.cur)
	if err != nil {
		return AdminStats{}, err
	}
	return out, nil
}

func knownParticipant(st storage.RotationState, id string) bool {
	for _, p := range st.Participants {
		if strings.EqualFold(p.ID, id) {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
