package rotation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Day is the scheduling granularity.
const Day = 24 * time.Hour

var (
	ErrInvalidConfig = errors.New("invalid rotation config")
	ErrEmptyRotation = errors.New("rotation has no participants")
)

// Participant is an active member of the rotation.
// Position is the slot in the cyclic order (0..N-1).
type Participant struct {
	ID       string
	Name     string
	Position int
}

// Config holds the persisted inputs of the rotation.
type Config struct {
	Start           time.Time
	PeriodDays      int
	EarlyAccessDays int
	InitialPicker   int
}

// PeriodLength returns the period length as a duration.
func (c Config) PeriodLength() time.Duration { return time.Duration(c.PeriodDays) * Day }

// Validate checks the config bounds.
func (c Config) Validate() error {
	if c.Start.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrInvalidConfig)
	}
	if c.PeriodDays <= 0 {
		return fmt.Errorf("%w: period_days must be > 0 (got %d)", ErrInvalidConfig, c.PeriodDays)
	}
	if c.EarlyAccessDays < 0 || c.EarlyAccessDays >= c.PeriodDays {
		return fmt.Errorf("%w: early_access_days must be in [0, %d) (got %d)", ErrInvalidConfig, c.PeriodDays, c.EarlyAccessDays)
	}
	if c.InitialPicker < 0 {
		return fmt.Errorf("%w: initial_picker_index must be >= 0 (got %d)", ErrInvalidConfig, c.InitialPicker)
	}
	return nil
}

// Rotation is the read model the scheduler works on.
// Participants must be ordered by Position with positions 0..N-1.
type Rotation struct {
	Config       Config
	Participants []Participant
}

// New sorts participants by position and validates the result.
func New(cfg Config, participants []Participant) (Rotation, error) {
	ps := append([]Participant(nil), participants...)
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].Position < ps[j].Position })
	r := Rotation{Config: cfg, Participants: ps}
	if err := r.Validate(); err != nil {
		return Rotation{}, err
	}
	return r, nil
}

// Validate checks config bounds and that positions form a permutation of 0..N-1
// with distinct, non-empty ids.
func (r Rotation) Validate() error {
	if err := r.Config.Validate(); err != nil {
		return err
	}
	n := len(r.Participants)
	if n > 0 && r.Config.InitialPicker >= n {
		return fmt.Errorf("%w: initial_picker_index %d out of range for %d participants", ErrInvalidConfig, r.Config.InitialPicker, n)
	}
	seen := make(map[string]struct{}, n)
	for i, p := range r.Participants {
		if p.Position != i {
			return fmt.Errorf("%w: positions must be 0..%d without gaps (slot %d has position %d)", ErrInvalidConfig, n-1, i, p.Position)
		}
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("%w: participant at position %d has no id", ErrInvalidConfig, i)
		}
		key := strings.ToLower(id)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate participant %q", ErrInvalidConfig, id)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Find returns the active participant with the given id (case-insensitive).
func (r Rotation) Find(id string) (Participant, bool) {
	id = strings.TrimSpace(id)
	for _, p := range r.Participants {
		if strings.EqualFold(p.ID, id) {
			return p, true
		}
	}
	return Participant{}, false
}

// Compact renumbers positions 0..N-1 keeping the current relative order.
func Compact(participants []Participant) []Participant {
	ps := append([]Participant(nil), participants...)
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].Position < ps[j].Position })
	for i := range ps {
		ps[i].Position = i
	}
	return ps
}

// Access is the outcome of a permission check.
type Access int

const (
	Denied Access = iota
	CanPickCurrent
	CanPickNext
)

func (a Access) String() string {
	switch a {
	case CanPickCurrent:
		return "can_pick_current"
	case CanPickNext:
		return "can_pick_next"
	default:
		return "denied"
	}
}

// DenyReason explains a Denied decision.
type DenyReason int

const (
	ReasonNone DenyReason = iota
	ReasonNotInRotation
	ReasonNotYourTurn
	ReasonAlreadyPicked
	ReasonEarlyAccessNotOpen
)

func (r DenyReason) String() string {
	switch r {
	case ReasonNotInRotation:
		return "not_in_rotation"
	case ReasonNotYourTurn:
		return "not_your_turn"
	case ReasonAlreadyPicked:
		return "already_picked"
	case ReasonEarlyAccessNotOpen:
		return "early_access_not_open"
	default:
		return "none"
	}
}

// Decision is the result of Permission.
//
// Period is the target period for CanPickCurrent/CanPickNext. For Denied it is
// the period the participant was evaluated against (current, or next for the
// upcoming picker). OpensAt is set for ReasonEarlyAccessNotOpen.
type Decision struct {
	Access  Access
	Period  int64
	Reason  DenyReason
	OpensAt time.Time
}

// Allowed reports whether the decision grants a pick.
func (d Decision) Allowed() bool { return d.Access != Denied }

// Filled reports whether a period already holds a pick.
type Filled func(period int64) bool

// Slot is one entry of the derived schedule.
type Slot struct {
	Period int64
	Picker Participant
	Start  time.Time
	End    time.Time
}
