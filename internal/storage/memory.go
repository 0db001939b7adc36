package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"movieclub/internal/rotation"
)

// memoryStore keeps everything in maps guarded by one mutex.
// Used by tests and by "driver: memory" for throwaway runs.
type memoryStore struct {
	mu sync.Mutex

	configured bool
	cfg        rotation.Config
	updatedAt  time.Time

	participants map[string]*Participant

	pickSeq  int64
	picks    map[int64]Pick
	byPeriod map[int64]int64

	ratingSeq int64
	ratings   map[int64]Rating

	audit []AuditEntry
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		participants: map[string]*Participant{},
		picks:        map[int64]Pick{},
		byPeriod:     map[int64]int64{},
		ratings:      map[int64]Rating{},
	}
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) LoadRotation(ctx context.Context) (RotationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := RotationState{Configured: s.configured, Config: s.cfg, UpdatedAt: s.updatedAt}
	for _, p := range s.participants {
		st.Participants = append(st.Participants, *p)
	}
	sortParticipants(st.Participants)
	return st, nil
}

func (s *memoryStore) ReplaceRotation(ctx context.Context, cfg rotation.Config, participants []rotation.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, p := range s.participants {
		p.Active = false
		p.Position = 0
	}
	for _, rp := range participants {
		p, ok := s.participants[rp.ID]
		if !ok {
			p = &Participant{ID: rp.ID, CreatedAt: now}
			s.participants[rp.ID] = p
		}
		p.DisplayName = rp.Name
		p.Position = rp.Position
		p.Active = true
	}
	s.configured = true
	s.cfg = cfg
	s.updatedAt = now
	return nil
}

func (s *memoryStore) SaveOrder(ctx context.Context, order []rotation.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rp := range order {
		p, ok := s.participants[rp.ID]
		if !ok || !p.Active {
			return ErrNotFound
		}
	}
	for _, rp := range order {
		s.participants[rp.ID].Position = rp.Position
	}
	s.updatedAt = time.Now().UTC()
	return nil
}

func (s *memoryStore) ResetAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configured = false
	s.cfg = rotation.Config{}
	s.participants = map[string]*Participant{}
	s.picks = map[int64]Pick{}
	s.byPeriod = map[int64]int64{}
	s.ratings = map[int64]Rating{}
	s.updatedAt = time.Now().UTC()
	return nil
}

func (s *memoryStore) InsertPick(ctx context.Context, p Pick) (Pick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byPeriod[p.Period]; taken {
		return Pick{}, ErrConflict
	}
	s.pickSeq++
	p.ID = s.pickSeq
	if p.PickedAt.IsZero() {
		p.PickedAt = time.Now().UTC()
	}
	s.picks[p.ID] = p
	s.byPeriod[p.Period] = p.ID
	return p, nil
}

func (s *memoryStore) GetPick(ctx context.Context, id int64) (Pick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.picks[id]
	if !ok {
		return Pick{}, ErrNotFound
	}
	return p, nil
}

func (s *memoryStore) GetPickByPeriod(ctx context.Context, period int64) (Pick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPeriod[period]
	if !ok {
		return Pick{}, ErrNotFound
	}
	return s.picks[id], nil
}

func (s *memoryStore) DeletePick(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.picks[id]
	if !ok {
		return ErrNotFound
	}
	s.deletePickLocked(p)
	return nil
}

func (s *memoryStore) DeletePickByPeriod(ctx context.Context, period int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPeriod[period]
	if !ok {
		return false, nil
	}
	s.deletePickLocked(s.picks[id])
	return true, nil
}

// deletePickLocked removes the pick and cascades its ratings.
func (s *memoryStore) deletePickLocked(p Pick) {
	delete(s.picks, p.ID)
	delete(s.byPeriod, p.Period)
	for id, r := range s.ratings {
		if r.PickID == p.ID {
			delete(s.ratings, id)
		}
	}
}

func (s *memoryStore) ListPicks(ctx context.Context, f PickFilter) ([]Pick, error) {
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

func (s *memoryStore) PickSummaries(ctx context.Context, f PickFilter) ([]PickSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type agg struct {
		sum   int
		count int
	}
	aggs := map[int64]*agg{}
	for _, r := range s.ratings {
		a := aggs[r.PickID]
		if a == nil {
			a = &agg{}
			aggs[r.PickID] = a
		}
		a.sum += r.Score
		a.count++
	}

	out := make([]PickSummary, 0, len(s.picks))
	for _, p := range s.picks {
		if f.ParticipantID != "" && !strings.EqualFold(p.ParticipantID, f.ParticipantID) {
			continue
		}
		sum := PickSummary{Pick: p}
		if a := aggs[p.ID]; a != nil {
			sum.Count = a.count
			sum.Average = float64(a.sum) / float64(a.count)
		}
		if f.RatedOnly && sum.Count == 0 {
			continue
		}
		out = append(out, sum)
	}
	sortSummaries(out, f.Order)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memoryStore) InsertRating(ctx context.Context, r Rating) (Rating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.picks[r.PickID]; !ok {
		return Rating{}, ErrNotFound
	}
	if _, ok := s.findRatingLocked(r.PickID, r.RaterID); ok {
		return Rating{}, ErrConflict
	}
	s.ratingSeq++
	r.ID = s.ratingSeq
	if r.RatedAt.IsZero() {
		r.RatedAt = time.Now().UTC()
	}
	r.UpdatedAt = r.RatedAt
	s.ratings[r.ID] = r
	return r, nil
}

func (s *memoryStore) UpdateRating(ctx context.Context, r Rating) (Rating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.findRatingLocked(r.PickID, r.RaterID)
	if !ok {
		return Rating{}, ErrNotFound
	}
	cur.Score = r.Score
	cur.Review = r.Review
	cur.UpdatedAt = r.UpdatedAt
	if cur.UpdatedAt.IsZero() {
		cur.UpdatedAt = time.Now().UTC()
	}
	s.ratings[cur.ID] = cur
	return cur, nil
}

func (s *memoryStore) DeleteRating(ctx context.Context, pickID int64, raterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.findRatingLocked(pickID, raterID)
	if !ok {
		return ErrNotFound
	}
	delete(s.ratings, cur.ID)
	return nil
}

func (s *memoryStore) findRatingLocked(pickID int64, raterID string) (Rating, bool) {
	for _, r := range s.ratings {
		if r.PickID == pickID && strings.EqualFold(r.RaterID, raterID) {
			return r, true
		}
	}
	return Rating{}, false
}

func (s *memoryStore) ListRatings(ctx context.Context, f RatingFilter) ([]Rating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Rating, 0)
	for _, r := range s.ratings {
		if f.PickID != 0 && r.PickID != f.PickID {
			continue
		}
		if f.RaterID != "" && !strings.EqualFold(r.RaterID, f.RaterID) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RatedAt.Equal(out[j].RatedAt) {
			return out[i].RatedAt.After(out[j].RatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memoryStore) RaterStats(ctx context.Context, raterID string) (RaterStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := RaterStats{RaterID: raterID}
	sum := 0
	for _, r := range s.ratings {
		if !strings.EqualFold(r.RaterID, raterID) {
			continue
		}
		if st.Count == 0 || r.Score < st.Min {
			st.Min = r.Score
		}
		if st.Count == 0 || r.Score > st.Max {
			st.Max = r.Score
		}
		st.Count++
		sum += r.Score
	}
	if st.Count > 0 {
		st.Average = float64(sum) / float64(st.Count)
	}
	return st, nil
}

func (s *memoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Participants: len(s.participants), Picks: len(s.picks), Ratings: len(s.ratings)}
	for _, p := range s.participants {
		if p.Active {
			st.ActiveParticipants++
		}
	}
	rated := map[int64]bool{}
	sum := 0
	for _, r := range s.ratings {
		rated[r.PickID] = true
		sum += r.Score
	}
	st.RatedPicks = len(rated)
	if st.Ratings > 0 {
		st.AverageScore = float64(sum) / float64(st.Ratings)
	}
	return st, nil
}

func (s *memoryStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	s.audit = append(s.audit, e)
	return nil
}

func sortParticipants(ps []Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Active != ps[j].Active {
			return ps[i].Active
		}
		if ps[i].Active {
			return ps[i].Position < ps[j].Position
		}
		return ps[i].ID < ps[j].ID
	})
}

func sortSummaries(out []PickSummary, order PickOrder) {
	sort.SliceStable(out, func(i, j int) bool {
		if order == OrderAverageDesc {
			if out[i].Average != out[j].Average {
				return out[i].Average > out[j].Average
			}
			if out[i].Count != out[j].Count {
				return out[i].Count > out[j].Count
			}
		}
		return out[i].Period > out[j].Period
	})
}
