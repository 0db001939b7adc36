package rotation

import (
	"fmt"
	"iter"
	"time"
)

// PeriodIndex returns floor((now - start) / periodLength).
func (r Rotation) PeriodIndex(now time.Time) (int64, error) {
	if err := r.Config.Validate(); err != nil {
		return 0, err
	}
	if now.Before(r.Config.Start) {
		return 0, fmt.Errorf("%w: %s is before rotation start %s", ErrInvalidConfig,
			now.Format(time.RFC3339), r.Config.Start.Format(time.RFC3339))
	}
	return int64(now.Sub(r.Config.Start) / r.Config.PeriodLength()), nil
}

// Bounds returns [start, end) of a period.
func (r Rotation) Bounds(period int64) (time.Time, time.Time) {
	length := r.Config.PeriodLength()
	start := r.Config.Start.Add(time.Duration(period) * length)
	return start, start.Add(length)
}

// PickerFor returns the expected picker of a period.
func (r Rotation) PickerFor(period int64) (Participant, error) {
	n := int64(len(r.Participants))
	if n == 0 {
		return Participant{}, ErrEmptyRotation
	}
	return r.Participants[mod(int64(r.Config.InitialPicker)+period, n)], nil
}

// InEarlyAccess reports whether now falls in the trailing EarlyAccessDays of
// the given period.
func (r Rotation) InEarlyAccess(now time.Time, period int64) bool {
	if r.Config.EarlyAccessDays <= 0 {
		return false
	}
	_, end := r.Bounds(period)
	open := end.Add(-time.Duration(r.Config.EarlyAccessDays) * Day)
	return !now.Before(open) && now.Before(end)
}

// EarlyAccessOpens returns the instant the early-access window of the given
// period opens.
func (r Rotation) EarlyAccessOpens(period int64) time.Time {
	_, end := r.Bounds(period)
	return end.Add(-time.Duration(r.Config.EarlyAccessDays) * Day)
}

// Permission decides whether participant may pick now, and for which period.
//
// When current and next picker are the same participant (N=1) only the
// current period is ever offered.
func (r Rotation) Permission(participantID string, now time.Time, filled Filled) (Decision, error) {
	cur, err := r.PeriodIndex(now)
	if err != nil {
		return Decision{}, err
	}
	curPicker, err := r.PickerFor(cur)
	if err != nil {
		return Decision{}, err
	}
	nextPicker, _ := r.PickerFor(cur + 1)
	if filled == nil {
		filled = func(int64) bool { return false }
	}

	p, ok := r.Find(participantID)
	if !ok {
		return Decision{Access: Denied, Period: cur, Reason: ReasonNotInRotation}, nil
	}

	if p.ID == curPicker.ID {
		if !filled(cur) {
			return Decision{Access: CanPickCurrent, Period: cur}, nil
		}
		if nextPicker.ID == curPicker.ID {
			return Decision{Access: Denied, Period: cur, Reason: ReasonAlreadyPicked}, nil
		}
	}

	if p.ID == nextPicker.ID && nextPicker.ID != curPicker.ID {
		next := cur + 1
		if filled(next) {
			return Decision{Access: Denied, Period: next, Reason: ReasonAlreadyPicked}, nil
		}
		if r.InEarlyAccess(now, cur) {
			return Decision{Access: CanPickNext, Period: next}, nil
		}
		return Decision{Access: Denied, Period: next, Reason: ReasonEarlyAccessNotOpen, OpensAt: r.EarlyAccessOpens(cur)}, nil
	}

	if p.ID == curPicker.ID {
		return Decision{Access: Denied, Period: cur, Reason: ReasonAlreadyPicked}, nil
	}
	return Decision{Access: Denied, Period: cur, Reason: ReasonNotYourTurn}, nil
}

// Schedule yields count upcoming slots starting at the current period.
// The sequence is restartable; each iteration recomputes from the config.
func (r Rotation) Schedule(now time.Time, count int) (iter.Seq[Slot], error) {
	cur, err := r.PeriodIndex(now)
	if err != nil {
		return nil, err
	}
	if len(r.Participants) == 0 {
		return nil, ErrEmptyRotation
	}
	return func(yield func(Slot) bool) {
		for i := 0; i < count; i++ {
			period := cur + int64(i)
			picker, _ := r.PickerFor(period)
			start, end := r.Bounds(period)
			if !yield(Slot{Period: period, Picker: picker, Start: start, End: end}) {
				return
			}
		}
	}, nil
}

// DaysRemaining returns the whole days left in the current period, rounded up.
func (r Rotation) DaysRemaining(now time.Time) (int, error) {
	cur, err := r.PeriodIndex(now)
	if err != nil {
		return 0, err
	}
	_, end := r.Bounds(cur)
	return ceilDays(end.Sub(now)), nil
}

// SkipNext defers the upcoming picker to the back of the queue.
//
// The queue is read cyclically starting at the current picker, whose position
// stays fixed. The next picker is moved to the slot just before the current
// picker and everyone in between shifts up by one. With two or fewer
// participants the order is returned unchanged.
func (r Rotation) SkipNext(now time.Time) (order []Participant, skipped Participant, err error) {
	cur, err := r.PeriodIndex(now)
	if err != nil {
		return nil, Participant{}, err
	}
	n := len(r.Participants)
	if n == 0 {
		return nil, Participant{}, ErrEmptyRotation
	}
	skipped, _ = r.PickerFor(cur + 1)
	if n <= 2 {
		return append([]Participant(nil), r.Participants...), skipped, nil
	}

	anchor := int(mod(int64(r.Config.InitialPicker)+cur, int64(n)))
	queue := make([]Participant, 0, n)
	for k := 0; k < n; k++ {
		queue = append(queue, r.Participants[(anchor+k)%n])
	}
	queue = append(append(queue[:1:1], queue[2:]...), queue[1])

	order = make([]Participant, n)
	for k, p := range queue {
		pos := (anchor + k) % n
		p.Position = pos
		order[pos] = p
	}
	return order, skipped, nil
}

// ceilDays rounds a positive duration up to whole days.
func ceilDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	days := int(d / Day)
	if d%Day != 0 {
		days++
	}
	return days
}

func mod(a, n int64) int64 {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
