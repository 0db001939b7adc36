package club

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"movieclub/internal/movie"
	"movieclub/internal/rotation"
	"movieclub/internal/storage"
	logx "movieclub/pkg/logx"
)

// RequestPick records m for the period participant may pick right now:
// the current period for the current picker, or the next one for the
// upcoming picker inside the early access window.
//
// A refusal is a *Denial. Losing a race to a concurrent pick for the same
// period yields ErrAlreadyPicked.
func (s *Service) RequestPick(ctx context.Context, participant string, m movie.Metadata) (storage.Pick, error) {
	participant = NormalizeID(participant)
	m.Normalize()
	if err := m.Validate(); err != nil {
		return storage.Pick{}, err
	}
	snap, dec, err := s.permit(ctx, participant)
	if err != nil {
		return storage.Pick{}, err
	}
	return s.insertPick(ctx, snap, participant, dec.Period, m, false)
}

// CheckPick runs the permission check of RequestPick without writing.
// It returns the target period on success and a *Denial otherwise.
func (s *Service) CheckPick(ctx context.Context, participant string) (int64, error) {
	_, dec, err := s.permit(ctx, NormalizeID(participant))
	if err != nil {
		return 0, err
	}
	return dec.Period, nil
}

func (s *Service) permit(ctx context.Context, participant string) (snapshot, rotation.Decision, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return snapshot{}, rotation.Decision{}, err
	}
	filled, _, err := s.filled(ctx, snap.cur)
	if err != nil {
		return snapshot{}, rotation.Decision{}, err
	}
	dec, err := snap.rot.Permission(participant, snap.now, filled)
	if err != nil {
		return snapshot{}, rotation.Decision{}, err
	}
	if !dec.Allowed() {
		s.log.Debug("pick denied",
			logx.String("participant", participant),
			logx.Int64("period", dec.Period),
			logx.String("reason", dec.Reason.String()),
		)
		return snapshot{}, rotation.Decision{}, s.denial(snap, dec)
	}
	return snap, dec, nil
}

func (s *Service) denial(snap snapshot, dec rotation.Decision) *Denial {
	d := &Denial{Reason: dec.Reason, Period: dec.Period, OpensAt: dec.OpensAt}
	if p, err := snap.rot.PickerFor(dec.Period); err == nil {
		d.Picker = p.Name
	}
	return d
}

func (s *Service) insertPick(ctx context.Context, snap snapshot, participant string, period int64, m movie.Metadata, historical bool) (storage.Pick, error) {
	p, err := s.store.InsertPick(ctx, storage.Pick{
		Period:        period,
		ParticipantID: participant,
		Movie:         m,
		PickedAt:      snap.now,
		Historical:    historical,
	})
	if errors.Is(err, storage.ErrConflict) {
		return storage.Pick{}, fmt.Errorf("%w: period %d", ErrAlreadyPicked, DisplayPeriod(period))
	}
	if err != nil {
		return storage.Pick{}, err
	}
	s.log.Info("pick recorded",
		logx.Int64("period", period),
		logx.String("participant", participant),
		logx.Int64("pick_id", p.ID),
		logx.String("title", m.Label()),
	)
	return p, nil
}

// RequestRate records a first rating by rater. Changing an existing rating
// goes through UpdateRating; a second RequestRate fails with ErrAlreadyRated.
// Raters do not need to be in the rotation.
func (s *Service) RequestRate(ctx context.Context, rater string, pickID int64, score int, review string) (storage.Rating, error) {
	rater = NormalizeID(rater)
	review, err := s.checkRating(score, review)
	if err != nil {
		return storage.Rating{}, err
	}
	if _, err := s.getPick(ctx, pickID); err != nil {
		return storage.Rating{}, err
	}
	r, err := s.store.InsertRating(ctx, storage.Rating{
		PickID:  pickID,
		RaterID: rater,
		Score:   score,
		Review:  review,
		RatedAt: s.clock.Now(),
	})
	switch {
	case errors.Is(err, storage.ErrConflict):
		return storage.Rating{}, ErrAlreadyRated
	case errors.Is(err, storage.ErrNotFound):
		return storage.Rating{}, fmt.Errorf("%w: #%d", ErrUnknownPick, pickID)
	case err != nil:
		return storage.Rating{}, err
	}
	s.log.Info("rating recorded", logx.Int64("pick_id", pickID), logx.String("participant", rater), logx.Int("score", score))
	return r, nil
}

// UpdateRating changes rater's existing rating in place.
func (s *Service) UpdateRating(ctx context.Context, rater string, pickID int64, score int, review string) (storage.Rating, error) {
	rater = NormalizeID(rater)
	review, err := s.checkRating(score, review)
	if err != nil {
		return storage.Rating{}, err
	}
	if _, err := s.getPick(ctx, pickID); err != nil {
		return storage.Rating{}, err
	}
	r, err := s.store.UpdateRating(ctx, storage.Rating{
		PickID:    pickID,
		RaterID:   rater,
		Score:     score,
		Review:    review,
		UpdatedAt: s.clock.Now(),
	})
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Rating{}, ErrNoRating
	}
	if err != nil {
		return storage.Rating{}, err
	}
	s.log.Info("rating updated", logx.Int64("pick_id", pickID), logx.String("participant", rater), logx.Int("score", score))
	return r, nil
}

// DeleteRating removes rater's rating of pickID.
func (s *Service) DeleteRating(ctx context.Context, rater string, pickID int64) error {
	rater = NormalizeID(rater)
	err := s.store.DeleteRating(ctx, pickID, rater)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNoRating
	}
	if err != nil {
		return err
	}
	s.log.Info("rating deleted", logx.Int64("pick_id", pickID), logx.String("participant", rater))
	return nil
}

// ClearPick removes the pick of period, if any. Absence is not an error.
func (s *Service) ClearPick(ctx context.Context, actor string, period int64) (bool, error) {
	removed, err := s.store.DeletePickByPeriod(ctx, period)
	if err != nil {
		return false, err
	}
	if removed {
		s.audit(ctx, actor, "clear_pick", fmt.Sprintf("period:%d", period), "")
		s.log.Info("pick cleared", logx.Int64("period", period), logx.String("actor", actor))
	}
	return removed, nil
}

// ClearCurrentPick lets a picker withdraw their own pick for the current
// or upcoming period so they can pick again.
func (s *Service) ClearCurrentPick(ctx context.Context, participant string) (storage.Pick, error) {
	participant = NormalizeID(participant)
	snap, err := s.load(ctx)
	if err != nil {
		return storage.Pick{}, err
	}
	_, picks, err := s.filled(ctx, snap.cur)
	if err != nil {
		return storage.Pick{}, err
	}
	for _, period := range []int64{snap.cur + 1, snap.cur} {
		p := picks[period]
		if p == nil || !strings.EqualFold(p.ParticipantID, participant) {
			continue
		}
		if _, err := s.ClearPick(ctx, participant, period); err != nil {
			return storage.Pick{}, err
		}
		return *p, nil
	}
	return storage.Pick{}, ErrNothingToClear
}

func (s *Service) checkRating(score int, review string) (string, error) {
	if err := s.checkScore(score); err != nil {
		return "", err
	}
	review = strings.TrimSpace(review)
	if n := utf8.RuneCountInString(review); n > MaxReviewLen {
		return "", fmt.Errorf("%w: review is %d characters (max %d)", ErrInvalidReview, n, MaxReviewLen)
	}
	return review, nil
}

func (s *Service) getPick(ctx context.Context, id int64) (storage.Pick, error) {
	p, err := s.store.GetPick(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Pick{}, fmt.Errorf("%w: #%d", ErrUnknownPick, id)
	}
	return p, err
}
