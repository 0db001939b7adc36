package rotation

import (
	"errors"
	"slices"
	"testing"
	"time"
)

var d0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func abc(t *testing.T, period, early int) Rotation {
	t.Helper()
	r, err := New(Config{Start: d0, PeriodDays: period, EarlyAccessDays: early}, []Participant{
		{ID: "a", Name: "Alice", Position: 0},
		{ID: "b", Name: "Bob", Position: 1},
		{ID: "c", Name: "Carol", Position: 2},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func days(n float64) time.Duration { return time.Duration(n * float64(Day)) }

func none(int64) bool { return false }

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{name: "ok", cfg: Config{Start: d0, PeriodDays: 14, EarlyAccessDays: 7}, ok: true},
		{name: "no early access", cfg: Config{Start: d0, PeriodDays: 1}, ok: true},
		{name: "zero start", cfg: Config{PeriodDays: 14}},
		{name: "zero period", cfg: Config{Start: d0}},
		{name: "early equals period", cfg: Config{Start: d0, PeriodDays: 7, EarlyAccessDays: 7}},
		{name: "negative early", cfg: Config{Start: d0, PeriodDays: 7, EarlyAccessDays: -1}},
		{name: "negative initial", cfg: Config{Start: d0, PeriodDays: 7, InitialPicker: -1}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNewRejectsBadPositions(t *testing.T) {
	t.Parallel()
	cfg := Config{Start: d0, PeriodDays: 14}
	if _, err := New(cfg, []Participant{{ID: "a", Position: 0}, {ID: "b", Position: 2}}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("gap: err = %v", err)
	}
	if _, err := New(cfg, []Participant{{ID: "a", Position: 0}, {ID: "A", Position: 1}}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("duplicate id: err = %v", err)
	}
	if _, err := New(Config{Start: d0, PeriodDays: 14, InitialPicker: 2}, []Participant{{ID: "a"}}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("initial out of range: err = %v", err)
	}
	r, err := New(cfg, []Participant{{ID: "b", Position: 1}, {ID: "a", Position: 0}})
	if err != nil {
		t.Fatalf("unsorted input: %v", err)
	}
	if r.Participants[0].ID != "a" {
		t.Fatalf("participants not sorted: %+v", r.Participants)
	}
}

func TestPeriodIndex(t *testing.T) {
	t.Parallel()
	r := abc(t, 14, 7)
	tests := []struct {
		at   time.Duration
		want int64
	}{
		{0, 0},
		{days(13.99), 0},
		{days(14), 1},
		{days(27), 1},
		{days(28), 2},
		{days(140), 10},
	}
	for _, tt := range tests {
		got, err := r.PeriodIndex(d0.Add(tt.at))
		if err != nil {
			t.Fatalf("PeriodIndex(+%v): %v", tt.at, err)
		}
		if got != tt.want {
			t.Fatalf("PeriodIndex(+%v) = %d, want %d", tt.at, got, tt.want)
		}
	}

	if _, err := r.PeriodIndex(d0.Add(-time.Second)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("before start: err = %v, want ErrInvalidConfig", err)
	}
}

func TestPeriodIndexMonotonic(t *testing.T) {
	t.Parallel()
	r := abc(t, 3, 1)
	prev := int64(-1)
	for h := 0; h < 24*60; h += 7 {
		got, err := r.PeriodIndex(d0.Add(time.Duration(h) * time.Hour))
		if err != nil {
			t.Fatalf("PeriodIndex: %v", err)
		}
		if got < prev {
			t.Fatalf("period regressed at +%dh: %d < %d", h, got, prev)
		}
		prev = got
	}
}

func TestBounds(t *testing.T) {
	t.Parallel()
	r := abc(t, 14, 7)
	start, end := r.Bounds(2)
	if !start.Equal(d0.Add(days(28))) || !end.Equal(d0.Add(days(42))) {
		t.Fatalf("Bounds(2) = [%v, %v)", start, end)
	}
}

func TestPickerForCycles(t *testing.T) {
	t.Parallel()
	r := abc(t, 14, 7)
	r.Config.InitialPicker = 1
	for base := int64(0); base < 9; base += 3 {
		seen := map[string]int{}
		for p := base; p < base+3; p++ {
			picker, err := r.PickerFor(p)
			if err != nil {
				t.Fatalf("PickerFor(%d): %v", p, err)
			}
			seen[picker.ID]++
		}
		if len(seen) != 3 {
			t.Fatalf("window starting %d did not cover every participant: %v", base, seen)
		}
	}
	first, _ := r.PickerFor(0)
	if first.ID != "b" {
		t.Fatalf("PickerFor(0) with initial=1 = %s, want b", first.ID)
	}

	empty := Rotation{Config: r.Config}
	if _, err := empty.PickerFor(0); !errors.Is(err, ErrEmptyRotation) {
		t.Fatalf("empty rotation: err = %v", err)
	}
}

func TestInEarlyAccess(t *testing.T) {
	t.Parallel()
	r := abc(t, 14, 7)
	tests := []struct {
		at   time.Duration
		want bool
	}{
		{days(6.99), false},
		{days(7), true},
		{days(10), true},
		{days(13.99), true},
		{days(14), false},
	}
	for _, tt := range tests {
		if got := r.InEarlyAccess(d0.Add(tt.at), 0); got != tt.want {
			t.Fatalf("InEarlyAccess(+%v, 0) = %v, want %v", tt.at, got, tt.want)
		}
	}

	noEarly := abc(t, 14, 0)
	if noEarly.InEarlyAccess(d0.Add(days(13.5)), 0) {
		t.Fatal("early access open with zero-day window")
	}
}

func TestPermissionScenario(t *testing.T) {
	t.Parallel()
	r := abc(t, 14, 7)
	now := d0.Add(days(10))

	cur, _ := r.PeriodIndex(now)
	if cur != 0 {
		t.Fatalf("period = %d, want 0", cur)
	}
	if p, _ := r.PickerFor(cur); p.ID != "a" {
		t.Fatalf("picker = %s, want a", p.ID)
	}
	if p, _ := r.PickerFor(cur + 1); p.ID != "b" {
		t.Fatalf("next = %s, want b", p.ID)
	}
	if !r.InEarlyAccess(now, cur) {
		t.Fatal("expected early access window open")
	}

	tests := []struct {
		id     string
		filled Filled
		access Access
		period int64
		reason DenyReason
	}{
		{id: "a", filled: none, access: CanPickCurrent, period: 0},
		{id: "b", filled: none, access: CanPickNext, period: 1},
		{id: "c", filled: none, access: Denied, period: 0, reason: ReasonNotYourTurn},
		{id: "zed", filled: none, access: Denied, period: 0, reason: ReasonNotInRotation},
		{id: "a", filled: func(p int64) bool { return p == 0 }, access: Denied, period: 0, reason: ReasonAlreadyPicked},
		{id: "b", filled: func(p int64) bool { return p == 0 }, access: CanPickNext, period: 1},
		{id: "b", filled: func(p int64) bool { return p == 1 }, access: Denied, period: 1, reason: ReasonAlreadyPicked},
		{id: "A", filled: nil, access: CanPickCurrent, period: 0},
	}
	for _, tt := range tests {
		got, err := r.Permission(tt.id, now, tt.filled)
		if err != nil {
			t.Fatalf("Permission(%s): %v", tt.id, err)
		}
		if got.Access != tt.access || got.Period != tt.period || got.Reason != tt.reason {
			t.Fatalf("Permission(%s) = %+v, want access=%v period=%d reason=%v", tt.id, got, tt.access, tt.period, tt.reason)
		}
	}
}

func TestPermissionBeforeEarlyAccess(t *testing.T) {
	t.Parallel()
	r := abc(t, 14, 7)
	got, err := r.Permission("b", d0.Add(days(4)), none)
	if err != nil {
		t.Fatalf("Permission: %v", err)
	}
	if got.Access != Denied || got.Reason != ReasonEarlyAccessNotOpen {
		t.Fatalf("Permission = %+v, want early access not open", got)
	}
	if !got.OpensAt.Equal(d0.Add(days(7))) {
		t.Fatalf("OpensAt = %v, want %v", got.OpensAt, d0.Add(days(7)))
	}
}

func TestPermissionSingleParticipant(t *testing.T) {
	t.Parallel()
	r, err := New(Config{Start: d0, PeriodDays: 14, EarlyAccessDays: 7}, []Participant{{ID: "solo"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := d0.Add(days(10))
	got, _ := r.Permission("solo", now, none)
	if got.Access != CanPickCurrent || got.Period != 0 {
		t.Fatalf("unfilled = %+v, want CanPickCurrent for 0", got)
	}
	got, _ = r.Permission("solo", now, func(p int64) bool { return p == 0 })
	if got.Access != Denied {
		t.Fatalf("filled = %+v, want Denied", got)
	}
}

func TestPermissionMutualExclusion(t *testing.T) {
	t.Parallel()
	r := abc(t, 5, 3)
	fills := []Filled{
		none,
		func(p int64) bool { return p%2 == 0 },
		func(p int64) bool { return p%2 == 1 },
	}
	for h := 0; h < 24*30; h += 5 {
		now := d0.Add(time.Duration(h) * time.Hour)
		for _, filled := range fills {
			holders := map[int64]string{}
			for _, p := range r.Participants {
				d, err := r.Permission(p.ID, now, filled)
				if err != nil {
					t.Fatalf("Permission: %v", err)
				}
				if !d.Allowed() {
					continue
				}
				if filled(d.Period) {
					t.Fatalf("granted filled period %d to %s", d.Period, p.ID)
				}
				if other, ok := holders[d.Period]; ok {
					t.Fatalf("period %d granted to both %s and %s at +%dh", d.Period, other, p.ID, h)
				}
				holders[d.Period] = p.ID
			}
		}
	}
}

func TestSchedule(t *testing.T) {
	t.Parallel()
	r := abc(t, 14, 7)
	seq, err := r.Schedule(d0.Add(days(15)), 4)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	var ids []string
	var periods []int64
	for slot := range seq {
		ids = append(ids, slot.Picker.ID)
		periods = append(periods, slot.Period)
		if got := slot.End.Sub(slot.Start); got != days(14) {
			t.Fatalf("slot length = %v", got)
		}
	}
	if !slices.Equal(ids, []string{"b", "c", "a", "b"}) {
		t.Fatalf("pickers = %v", ids)
	}
	if !slices.Equal(periods, []int64{1, 2, 3, 4}) {
		t.Fatalf("periods = %v", periods)
	}

	// restartable
	n := 0
	for range seq {
		n++
	}
	if n != 4 {
		t.Fatalf("second iteration yielded %d slots", n)
	}

	if _, err := r.Schedule(d0.Add(-time.Hour), 3); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("before start: err = %v", err)
	}
}

func TestDaysRemaining(t *testing.T) {
	t.Parallel()
	r := abc(t, 14, 7)
	got, err := r.DaysRemaining(d0.Add(days(10)))
	if err != nil {
		t.Fatalf("DaysRemaining: %v", err)
	}
	if got != 4 {
		t.Fatalf("DaysRemaining = %d, want 4", got)
	}
	got, _ = r.DaysRemaining(d0.Add(days(10.5)))
	if got != 4 {
		t.Fatalf("DaysRemaining(10.5) = %d, want 4", got)
	}
}

func ids(ps []Participant) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func TestSkipNext(t *testing.T) {
	t.Parallel()
	five := []Participant{{ID: "a", Position: 0}, {ID: "b", Position: 1}, {ID: "c", Position: 2}, {ID: "d", Position: 3}, {ID: "e", Position: 4}}
	tests := []struct {
		name    string
		initial int
		at      time.Duration
		want    []string
		skipped string
	}{
		{name: "current at head", at: days(1), want: []string{"a", "c", "d", "e", "b"}, skipped: "b"},
		{name: "current mid order", at: days(14*2 + 1), want: []string{"b", "d", "c", "e", "a"}, skipped: "d"},
		{name: "current mid order wraps", at: days(14 + 1), want: []string{"c", "b", "d", "e", "a"}, skipped: "c"},
		{name: "current at tail", initial: 4, at: days(1), want: []string{"b", "c", "d", "a", "e"}, skipped: "a"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := New(Config{Start: d0, PeriodDays: 14, EarlyAccessDays: 7, InitialPicker: tt.initial}, five)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			now := d0.Add(tt.at)
			curBefore, _ := r.PickerFor(mustPeriod(t, r, now))

			order, skipped, err := r.SkipNext(now)
			if err != nil {
				t.Fatalf("SkipNext: %v", err)
			}
			if skipped.ID != tt.skipped {
				t.Fatalf("skipped = %s, want %s", skipped.ID, tt.skipped)
			}
			if got := ids(order); !slices.Equal(got, tt.want) {
				t.Fatalf("order = %v, want %v", got, tt.want)
			}
			for i, p := range order {
				if p.Position != i {
					t.Fatalf("position %d holds %+v", i, p)
				}
			}

			after := r
			after.Participants = order
			if err := after.Validate(); err != nil {
				t.Fatalf("reordered rotation invalid: %v", err)
			}
			cur := mustPeriod(t, after, now)
			curAfter, _ := after.PickerFor(cur)
			if curAfter.ID != curBefore.ID {
				t.Fatalf("current picker changed: %s -> %s", curBefore.ID, curAfter.ID)
			}
			last, _ := after.PickerFor(cur + int64(len(order)) - 1)
			if last.ID != tt.skipped {
				t.Fatalf("skipped participant is not last in queue: %s", last.ID)
			}
		})
	}
}

func TestSkipNextPreservesAdjacency(t *testing.T) {
	t.Parallel()
	r := abc(t, 14, 7)
	r.Participants = append(r.Participants, Participant{ID: "d", Position: 3}, Participant{ID: "e", Position: 4}, Participant{ID: "f", Position: 5})
	now := d0.Add(days(3))
	order, skipped, err := r.SkipNext(now)
	if err != nil {
		t.Fatalf("SkipNext: %v", err)
	}
	rest := func(ps []Participant) []string {
		var out []string
		for _, id := range ids(ps) {
			if id != skipped.ID {
				out = append(out, id)
			}
		}
		return out
	}
	if !slices.Equal(rest(r.Participants), rest(order)) {
		t.Fatalf("cyclic order of unaffected participants changed: %v -> %v", ids(r.Participants), ids(order))
	}
	before := ids(r.Participants)
	after := ids(order)
	slices.Sort(before)
	slices.Sort(after)
	if !slices.Equal(before, after) {
		t.Fatalf("participant set changed: %v -> %v", before, after)
	}
}

func TestSkipNextSmallRotations(t *testing.T) {
	t.Parallel()
	two, _ := New(Config{Start: d0, PeriodDays: 14}, []Participant{{ID: "a", Position: 0}, {ID: "b", Position: 1}})
	order, skipped, err := two.SkipNext(d0)
	if err != nil {
		t.Fatalf("SkipNext: %v", err)
	}
	if skipped.ID != "b" || !slices.Equal(ids(order), []string{"a", "b"}) {
		t.Fatalf("two-person skip = %v skipped %s", ids(order), skipped.ID)
	}

	empty := Rotation{Config: Config{Start: d0, PeriodDays: 14}}
	if _, _, err := empty.SkipNext(d0); !errors.Is(err, ErrEmptyRotation) {
		t.Fatalf("empty: err = %v", err)
	}
}

func TestCompact(t *testing.T) {
	t.Parallel()
	got := Compact([]Participant{{ID: "x", Position: 7}, {ID: "y", Position: 2}, {ID: "z", Position: 4}})
	if !slices.Equal(ids(got), []string{"y", "z", "x"}) {
		t.Fatalf("Compact order = %v", ids(got))
	}
	for i, p := range got {
		if p.Position != i {
			t.Fatalf("Compact position %d = %d", i, p.Position)
		}
	}
}

func mustPeriod(t *testing.T, r Rotation, now time.Time) int64 {
	t.Helper()
	p, err := r.PeriodIndex(now)
	if err != nil {
		t.Fatalf("PeriodIndex: %v", err)
	}
	return p
}
