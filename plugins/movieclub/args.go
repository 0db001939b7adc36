package movieclub

import (
	"strconv"
	"strings"
	"time"

	"movieclub/internal/movie"
	"movieclub/internal/transport/telegram/router"
)

// actor returns the caller's participant id (their chat username).
func actor(req *router.Request) (string, error) {
	if req.From == "" {
		return "", router.Userf("Set a Telegram username first: the club knows members by username.")
	}
	return req.From, nil
}

// auditActor names the caller in the audit log even without a username.
func auditActor(req *router.Request) string {
	if req.From != "" {
		return req.From
	}
	return "id:" + strconv.FormatInt(req.FromID, 10)
}

func isYear(s string) (int, bool) {
	if len(s) != 4 {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < movie.MinYear || n > movie.MaxYear {
		return 0, false
	}
	return n, true
}

// titleYear splits "<title words> [year]". A lone number is a title
// ("2001"), so the year needs at least one title token before it.
func titleYear(args []string) (string, int) {
	if n := len(args); n >= 2 {
		if y, ok := isYear(args[n-1]); ok {
			return strings.Join(args[:n-1], " "), y
		}
	}
	return strings.Join(args, " "), 0
}

func pickID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(s), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, router.Userf("%q is not a pick id. Pick ids are shown as #12 in /history.", s)
	}
	return id, nil
}

// optInt parses an optional positive integer argument.
func optInt(args []string, i int, name string, def int) (int, error) {
	if len(args) <= i {
		return def, nil
	}
	n, err := strconv.Atoi(args[i])
	if err != nil || n <= 0 {
		return 0, router.Userf("%s must be a positive number.", name)
	}
	return n, nil
}

func score(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, router.Userf("Score must be a whole number, got %q.", s)
	}
	return n, nil
}

var dateLayouts = []string{
	time.DateOnly,
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"January 2 2006",
	"2 Jan 2006",
	"2 January 2006",
	"02/01/2006",
}

// parseDate accepts the layouts above in loc, at midday so that the date
// stays the same day after any zone conversion.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.Join(strings.Fields(s), " ")
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.Add(12 * time.Hour), nil
		}
	}
	return time.Time{}, router.Userf("Could not read the date %q. Try 2025-05-10 or \"May 10, 2025\".", s)
}

// historicalArgs parses `<user> "<title>" [year] ["date"]`. An unquoted
// title runs until the first year token.
func historicalArgs(args []string) (user, title string, year int, date string, err error) {
	if len(args) < 2 {
		return "", "", 0, "", router.Userf(`Usage: /add_historical_pick <user> "<title>" [year] ["date"]`)
	}
	user = args[0]
	rest := args[1:]
	for i := 1; i < len(rest); i++ {
		if y, ok := isYear(rest[i]); ok {
			return user, strings.Join(rest[:i], " "), y, strings.Join(rest[i+1:], " "), nil
		}
	}
	return user, rest[0], 0, strings.Join(rest[1:], " "), nil
}

// setupArgs splits key=value options off the roster spec.
type setupOpts struct {
	roster     string
	start      string
	periodDays int
	early      *int
}

func setupArgs(args []string) (setupOpts, error) {
	var o setupOpts
	var roster []string
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok {
			roster = append(roster, a)
			continue
		}
		switch strings.ToLower(k) {
		case "start":
			o.start = v
		case "period", "period_days":
			n, err := strconv.Atoi(v)
			if err != nil {
				return o, router.Userf("period must be a number of days.")
			}
			o.periodDays = n
		case "early", "early_access", "early_access_days":
			n, err := strconv.Atoi(v)
			if err != nil {
				return o, router.Userf("early must be a number of days.")
			}
			o.early = &n
		default:
			return o, router.Userf("Unknown option %q. Use start=, period= or early=.", k)
		}
	}
	o.roster = strings.Join(roster, " ")
	return o, nil
}
