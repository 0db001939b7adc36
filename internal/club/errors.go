package club

import (
	"errors"
	"fmt"
	"time"

	"movieclub/internal/movie"
	"movieclub/internal/rotation"
)

var (
	ErrNotYourTurn         = errors.New("not your turn")
	ErrAlreadyPicked       = errors.New("period already has a pick")
	ErrAlreadyRated        = errors.New("already rated")
	ErrInvalidScore        = errors.New("invalid score")
	ErrInvalidConfig       = rotation.ErrInvalidConfig
	ErrEmptyRoster         = errors.New("roster is empty")
	ErrEmptyRotation       = rotation.ErrEmptyRotation
	ErrUnknownPick         = errors.New("unknown pick")
	ErrPeriodAlreadyFilled = errors.New("period already filled")

	ErrNotConfigured      = errors.New("rotation is not set up")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrInvalidRoster      = errors.New("invalid roster")
	ErrInvalidMovie       = movie.ErrInvalid
	ErrInvalidReview      = errors.New("invalid review")
	ErrNoRating           = errors.New("no rating to change")
	ErrNothingToClear     = errors.New("no pick to clear")
)

// Denial explains a refused pick. It matches ErrAlreadyPicked when the
// target period is filled and ErrNotYourTurn otherwise.
type Denial struct {
	Reason  rotation.DenyReason
	Period  int64
	OpensAt time.Time
	// Picker is the display name of whoever holds the evaluated period.
	Picker string
}

func (d *Denial) Error() string {
	switch d.Reason {
	case rotation.ReasonNotInRotation:
		return "you are not in the rotation"
	case rotation.ReasonAlreadyPicked:
		return fmt.Sprintf("period %d already has a pick", d.Period+1)
	case rotation.ReasonEarlyAccessNotOpen:
		return fmt.Sprintf("your early access opens %s", d.OpensAt.Format("2006-01-02"))
	default:
		if d.Picker != "" {
			return fmt.Sprintf("not your turn, %s is picking", d.Picker)
		}
		return "not your turn"
	}
}

func (d *Denial) Unwrap() error {
	if d.Reason == rotation.ReasonAlreadyPicked {
		return ErrAlreadyPicked
	}
	return ErrNotYourTurn
}
