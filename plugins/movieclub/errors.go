package movieclub

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"movieclub/internal/club"
	"movieclub/internal/lookup"
	"movieclub/internal/rotation"
	"movieclub/internal/transport/telegram/router"
)

// explain maps domain errors onto messages for the chat. Anything it does
// not recognize is returned unchanged and reported as an internal error.
func (p *Plugin) explain(err error) error {
	if err == nil {
		return nil
	}
	var ue *router.UserError
	if errors.As(err, &ue) {
		return err
	}

	var d *club.Denial
	if errors.As(err, &d) {
		switch d.Reason {
		case rotation.ReasonNotInRotation:
			return router.Userf("You are not in the rotation.")
		case rotation.ReasonAlreadyPicked:
			return router.Userf("Period %d already has a pick. Use %s to see it.", club.DisplayPeriod(d.Period), p.cmd("who_picks"))
		case rotation.ReasonEarlyAccessNotOpen:
			return router.Userf("You are up next. Your early access opens %s.", d.OpensAt.Format("Mon Jan 2"))
		default:
			if d.Picker != "" {
				return router.Userf("It's not your turn: %s is picking. Use %s to see when you're up.", d.Picker, p.cmd("my_turn"))
			}
			return router.Userf("It's not your turn. Use %s to see when you're up.", p.cmd("my_turn"))
		}
	}
	var se *club.ScoreError
	if errors.As(err, &se) {
		return router.Userf("Score must be between %d and %d.", se.Min, se.Max)
	}
	var amb *lookup.AmbiguousError
	if errors.As(err, &amb) {
		lines := []string{"Several movies match \"" + amb.Query + "\". Add the year:"}
		for _, c := range amb.Candidates {
			lines = append(lines, "• "+c.Label())
		}
		return &router.UserError{Msg: strings.Join(lines, "\n")}
	}

	switch {
	case errors.Is(err, club.ErrNotConfigured), errors.Is(err, club.ErrEmptyRotation):
		return router.Userf("The rotation is not set up yet. An admin can run %s.", p.cmd("setup_rotation"))
	case errors.Is(err, club.ErrAlreadyPicked):
		return router.Userf("Someone beat you to it: that period already has a pick.")
	case errors.Is(err, club.ErrAlreadyRated):
		return router.Userf("You already rated this movie. Use %s to change it.", p.cmd("update_rating"))
	case errors.Is(err, club.ErrNoRating):
		return router.Userf("You have not rated that movie yet.")
	case errors.Is(err, club.ErrNothingToClear):
		return router.Userf("You have no pick to clear.")
	case errors.Is(err, club.ErrEmptyRoster):
		return router.Userf("The roster is empty. List at least one member.")
	case errors.Is(err, lookup.ErrNotFound):
		return router.Userf("No movie found. Check the title or try %s.", p.cmd("search_movie"))
	case errors.Is(err, club.ErrUnknownPick),
		errors.Is(err, club.ErrUnknownParticipant),
		errors.Is(err, club.ErrPeriodAlreadyFilled),
		errors.Is(err, club.ErrInvalidConfig),
		errors.Is(err, club.ErrInvalidRoster),
		errors.Is(err, club.ErrInvalidMovie),
		errors.Is(err, club.ErrInvalidReview):
		return &router.UserError{Msg: sentence(err.Error())}
	}
	return err
}

// sentence capitalizes msg and ends it with a period.
func sentence(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return msg
	}
	r, n := utf8.DecodeRuneInString(msg)
	msg = string(unicode.ToUpper(r)) + msg[n:]
	if !strings.HasSuffix(msg, ".") {
		msg += "."
	}
	return msg
}
