package club

import (
	"context"
	"errors"
	"time"

	"movieclub/internal/rotation"
	"movieclub/internal/storage"
)

const (
	DefaultListLimit    = 10
	DefaultSchedulePeek = 5
	maxListLimit        = 100
)

func clampLimit(n, def int) int {
	if n <= 0 {
		return def
	}
	return min(n, maxListLimit)
}

// Status is the state of the current period.
type Status struct {
	Now           time.Time
	Period        int64
	Start, End    time.Time
	Current       rotation.Participant
	Next          rotation.Participant
	EarlyAccess   bool
	EarlyOpens    time.Time
	DaysRemaining int
	CurrentPick   *storage.Pick
	NextPick      *storage.Pick
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return Status{}, err
	}
	_, picks, err := s.filled(ctx, snap.cur)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Now:         snap.now,
		Period:      snap.cur,
		EarlyAccess: snap.rot.InEarlyAccess(snap.now, snap.cur),
		EarlyOpens:  snap.rot.EarlyAccessOpens(snap.cur),
		CurrentPick: picks[snap.cur],
		NextPick:    picks[snap.cur+1],
	}
	st.Start, st.End = snap.rot.Bounds(snap.cur)
	st.Current, _ = snap.rot.PickerFor(snap.cur)
	st.Next, _ = snap.rot.PickerFor(snap.cur + 1)
	st.DaysRemaining, _ = snap.rot.DaysRemaining(snap.now)
	return st, nil
}

// ScheduleEntry is an upcoming slot with its pick, if already made.
type ScheduleEntry struct {
	rotation.Slot
	Pick *storage.Pick
}

// Schedule lists count periods starting with the current one.
func (s *Service) Schedule(ctx context.Context, count int) ([]ScheduleEntry, error) {
	count = clampLimit(count, DefaultSchedulePeek)
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	seq, err := snap.rot.Schedule(snap.now, count)
	if err != nil {
		return nil, err
	}
	_, picks, err := s.filled(ctx, snap.cur)
	if err != nil {
		return nil, err
	}
	out := make([]ScheduleEntry, 0, count)
	for slot := range seq {
		out = append(out, ScheduleEntry{Slot: slot, Pick: picks[slot.Period]})
	}
	return out, nil
}

// Turn answers "when do I pick".
type Turn struct {
	InRotation bool
	Decision   rotation.Decision
	// Upcoming is the participant's next slot at or after the current period.
	Upcoming rotation.Slot
	// Pick is the participant's pick for the decision's period, if any.
	Pick *storage.Pick
}

func (s *Service) MyTurn(ctx context.Context, participant string) (Turn, error) {
	participant = NormalizeID(participant)
	snap, err := s.load(ctx)
	if err != nil {
		return Turn{}, err
	}
	filled, picks, err := s.filled(ctx, snap.cur)
	if err != nil {
		return Turn{}, err
	}
	dec, err := snap.rot.Permission(participant, snap.now, filled)
	if err != nil {
		return Turn{}, err
	}
	t := Turn{Decision: dec}
	p, ok := snap.rot.Find(participant)
	if !ok {
		return t, nil
	}
	t.InRotation = true
	if pk := picks[dec.Period]; pk != nil && pk.ParticipantID == p.ID {
		t.Pick = pk
	}
	seq, err := snap.rot.Schedule(snap.now, len(snap.rot.Participants)+1)
	if err != nil {
		return Turn{}, err
	}
	for slot := range seq {
		if slot.Picker.ID == p.ID {
			t.Upcoming = slot
			break
		}
	}
	return t, nil
}

// History lists picks newest period first with their rating aggregates.
func (s *Service) History(ctx context.Context, limit int) ([]storage.PickSummary, error) {
	return s.store.PickSummaries(ctx, storage.PickFilter{Limit: clampLimit(limit, DefaultListLimit)})
}

func (s *Service) PicksBy(ctx context.Context, participant string) ([]storage.PickSummary, error) {
	return s.store.PickSummaries(ctx, storage.PickFilter{ParticipantID: NormalizeID(participant), Limit: maxListLimit})
}

func (s *Service) TopRated(ctx context.Context, limit int) ([]storage.PickSummary, error) {
	return s.store.PickSummaries(ctx, storage.PickFilter{
		RatedOnly: true,
		Order:     storage.OrderAverageDesc,
		Limit:     clampLimit(limit, DefaultListLimit),
	})
}

// CurrentPick returns the current period's pick with its aggregate.
// ok is false when the period has no pick yet.
func (s *Service) CurrentPick(ctx context.Context) (storage.PickSummary, bool, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return storage.PickSummary{}, false, err
	}
	p, err := s.pickAt(ctx, snap.cur)
	if err != nil || p == nil {
		return storage.PickSummary{}, false, err
	}
	sum, _, err := s.PickRatings(ctx, p.ID)
	return sum, err == nil, err
}

// PickRatings returns a pick, its aggregate and every rating of it.
func (s *Service) PickRatings(ctx context.Context, pickID int64) (storage.PickSummary, []storage.Rating, error) {
	p, err := s.getPick(ctx, pickID)
	if err != nil {
		return storage.PickSummary{}, nil, err
	}
	rs, err := s.store.ListRatings(ctx, storage.RatingFilter{PickID: pickID})
	if err != nil {
		return storage.PickSummary{}, nil, err
	}
	sum := storage.PickSummary{Pick: p, Count: len(rs)}
	total := 0
	for _, r := range rs {
		total += r.Score
	}
	if len(rs) > 0 {
		sum.Average = float64(total) / float64(len(rs))
	}
	return sum, rs, nil
}

// RatedPick pairs a rating with the pick it scores.
type RatedPick struct {
	Rating storage.Rating
	Pick   storage.Pick
}

func (s *Service) RatingsBy(ctx context.Context, rater string, limit int) ([]RatedPick, error) {
	rs, err := s.store.ListRatings(ctx, storage.RatingFilter{RaterID: NormalizeID(rater), Limit: clampLimit(limit, maxListLimit)})
	if err != nil {
		return nil, err
	}
	return s.withPicks(ctx, rs)
}

func (s *Service) RecentRatings(ctx context.Context, limit int) ([]RatedPick, error) {
	rs, err := s.store.ListRatings(ctx, storage.RatingFilter{Limit: clampLimit(limit, DefaultListLimit)})
	if err != nil {
		return nil, err
	}
	return s.withPicks(ctx, rs)
}

func (s *Service) RaterStats(ctx context.Context, rater string) (storage.RaterStats, error) {
	return s.store.RaterStats(ctx, NormalizeID(rater))
}

// Roster returns the stored participants, active first.
func (s *Service) Roster(ctx context.Context) (storage.RotationState, error) {
	return s.store.LoadRotation(ctx)
}

func (s *Service) withPicks(ctx context.Context, rs []storage.Rating) ([]RatedPick, error) {
	cache := map[int64]storage.Pick{}
	out := make([]RatedPick, 0, len(rs))
	for _, r := range rs {
		p, ok := cache[r.PickID]
		if !ok {
			var err error
			p, err = s.store.GetPick(ctx, r.PickID)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			cache[r.PickID] = p
		}
		out = append(out, RatedPick{Rating: r, Pick: p})
	}
	return out, nil
}
