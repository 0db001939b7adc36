package movieclub

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movieclub/internal/club"
	"movieclub/internal/lookup"
	"movieclub/internal/movie"
	"movieclub/internal/storage"
	kit "movieclub/internal/transport"
	"movieclub/internal/transport/telegram/router"
	logx "movieclub/pkg/logx"
)

var d0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type captured struct {
	mu    sync.Mutex
	texts []string
}

func (c *captured) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return kit.MessageRef{}, nil
}

func (c *captured) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.texts) == 0 {
		return ""
	}
	return c.texts[len(c.texts)-1]
}

type fakeLookup struct {
	calls int
	out   movie.Metadata
	err   error
}

func (f *fakeLookup) Lookup(_ context.Context, title string, year int) (movie.Metadata, error) {
	f.calls++
	if f.err != nil {
		return movie.Metadata{}, f.err
	}
	return f.out, nil
}

type harness struct {
	p     *Plugin
	svc   *club.Service
	clock *club.FixedClock
	out   *captured
	ctx   context.Context
}

func newHarness(t *testing.T, lk MovieLookup) harness {
	t.Helper()
	clock := club.NewFixedClock(d0.AddDate(0, 0, 3))
	svc := club.New(storage.NewMemory(), clock, logx.Nop(), club.DefaultOptions())
	return harness{p: New(svc, lk, logx.Nop()), svc: svc, clock: clock, out: &captured{}, ctx: context.Background()}
}

func (h harness) setup(t *testing.T) {
	t.Helper()
	require.NoError(t, h.run("admin", (*Plugin).setupRotation, "alice:Alice,", "bob:Bob,", "carol", "start=2024-01-01", "period=14", "early=7"))
}

func (h harness) run(from string, fn func(*Plugin, context.Context, *router.Request) error, args ...string) error {
	req := &router.Request{
		From:      from,
		FromID:    42,
		Args:      args,
		Text:      strings.Join(args, " "),
		Messenger: h.out,
	}
	return fn(h.p, h.ctx, req)
}

func userMsg(t *testing.T, err error) string {
	t.Helper()
	var ue *router.UserError
	require.True(t, errors.As(err, &ue), "want a user error, got %v", err)
	return ue.Msg
}

func TestSetupAndSchedule(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.setup(t)
	assert.Contains(t, h.out.last(), "Rotation set up")
	assert.Contains(t, h.out.last(), "Alice (@alice)")

	require.NoError(t, h.run("alice", (*Plugin).schedule, "3"))
	got := h.out.last()
	assert.Contains(t, got, "P1")
	assert.Contains(t, got, "P3")
	assert.Contains(t, got, "← now")
	assert.Equal(t, 3, strings.Count(got, "⏳"))
}

func TestPickWithoutLookupRecordsTypedTitle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.setup(t)

	require.NoError(t, h.run("alice", (*Plugin).pickMovie, "The", "Thing", "1982"))
	assert.Contains(t, h.out.last(), "The Thing (1982)")

	sum, ok, err := h.svc.CurrentPick(h.ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, movie.Metadata{Title: "The Thing", Year: 1982}, sum.Movie)

	err = h.run("alice", (*Plugin).pickMovie, "Dune")
	assert.Contains(t, userMsg(t, err), "Period 1 already has a pick")
}

func TestPickDeniedSkipsLookup(t *testing.T) {
	t.Parallel()
	lk := &fakeLookup{out: movie.Metadata{Title: "Heat", Year: 1995}}
	h := newHarness(t, lk)
	h.setup(t)

	err := h.run("bob", (*Plugin).pickMovie, "Heat")
	assert.Contains(t, userMsg(t, err), "early access opens")
	err = h.run("carol", (*Plugin).pickMovie, "Heat")
	assert.Contains(t, userMsg(t, err), "not your turn")
	err = h.run("dave", (*Plugin).pickMovie, "Heat")
	assert.Contains(t, userMsg(t, err), "not in the rotation")
	assert.Zero(t, lk.calls)

	err = h.run("", (*Plugin).pickMovie, "Heat")
	assert.Contains(t, userMsg(t, err), "username")
}

func TestPickUsesLookup(t *testing.T) {
	t.Parallel()
	lk := &fakeLookup{out: movie.Metadata{Title: "Dune", Year: 2021, IMDbID: "tt1160419", Directors: []string{"Denis Villeneuve"}}}
	h := newHarness(t, lk)
	h.setup(t)

	require.NoError(t, h.run("alice", (*Plugin).pickMovie, "dune", "2021"))
	assert.Equal(t, 1, lk.calls)
	got := h.out.last()
	assert.Contains(t, got, "Denis Villeneuve")
	assert.Contains(t, got, "imdb.com/title/tt1160419")
}

func TestLookupErrors(t *testing.T) {
	t.Parallel()
	amb := &lookup.AmbiguousError{Query: "Halloween", Candidates: []lookup.Candidate{
		{Title: "Halloween", Year: 1978}, {Title: "Halloween", Year: 2018},
	}}
	cases := []struct {
		err  error
		want string
	}{
		{amb, "Halloween (2018)"},
		{lookup.ErrNotFound, "No movie found"},
		{errors.New("connection reset"), "try again"},
	}
	for _, tc := range cases {
		lk := &fakeLookup{err: tc.err}
		h := newHarness(t, lk)
		h.setup(t)
		err := h.run("alice", (*Plugin).pickMovie, "Halloween")
		assert.Contains(t, userMsg(t, err), tc.want)
		_, ok, err := h.svc.CurrentPick(h.ctx)
		require.NoError(t, err)
		assert.False(t, ok, "failed lookup must not record a pick")
	}

	h := newHarness(t, &fakeLookup{err: lookup.ErrDisabled})
	h.setup(t)
	require.NoError(t, h.run("alice", (*Plugin).pickMovie, "Halloween"))
}

func TestRatingCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.setup(t)
	require.NoError(t, h.run("alice", (*Plugin).pickMovie, "Heat", "1995"))
	sum, _, err := h.svc.CurrentPick(h.ctx)
	require.NoError(t, err)
	id := "#" + strconv.FormatInt(sum.ID, 10)

	err = h.run("bob", (*Plugin).rate, id, "11")
	assert.Equal(t, "Score must be between 1 and 10.", userMsg(t, err))
	err = h.run("bob", (*Plugin).rate, id, "8.5")
	assert.Contains(t, userMsg(t, err), "whole number")

	require.NoError(t, h.run("bob", (*Plugin).rate, id, "8", "great", "heist"))
	assert.Contains(t, h.out.last(), "You rated <b>Heat (1995)</b> 8/10")

	err = h.run("bob", (*Plugin).rate, id, "9")
	assert.Contains(t, userMsg(t, err), "already rated")

	require.NoError(t, h.run("bob", (*Plugin).updateRating, id, "9"))
	_, rs, err := h.svc.PickRatings(h.ctx, sum.ID)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, 9, rs[0].Score)

	require.NoError(t, h.run("bob", (*Plugin).movieRatings, id))
	assert.Contains(t, h.out.last(), "Bob (@bob): 9")

	require.NoError(t, h.run("bob", (*Plugin).topRated))
	assert.Contains(t, h.out.last(), "Heat (1995)")

	require.NoError(t, h.run("bob", (*Plugin).deleteRating, id))
	err = h.run("bob", (*Plugin).deleteRating, id)
	assert.Contains(t, userMsg(t, err), "not rated")

	err = h.run("bob", (*Plugin).rate, "abc", "5")
	assert.Contains(t, userMsg(t, err), "not a pick id")
}

func TestAdminCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.setup(t)

	require.NoError(t, h.run("admin", (*Plugin).forcePick, "bob", "Alien", "1979"))
	assert.Contains(t, h.out.last(), "Forced pick for period 2")

	err := h.run("admin", (*Plugin).skipPick)
	assert.Contains(t, userMsg(t, err), "period 2 already has Alien (1979)")

	require.NoError(t, h.run("admin", (*Plugin).clearPick, "P2"))
	assert.Contains(t, h.out.last(), "Cleared the pick of period 2")

	require.NoError(t, h.run("admin", (*Plugin).skipPick))
	assert.Contains(t, h.out.last(), "Up next: @carol")

	require.NoError(t, h.run("admin", (*Plugin).addHistoricalPick, "alice", "Event Horizon", "1997", "Jan", "2,", "2024"))
	assert.Contains(t, h.out.last(), "Event Horizon (1997)")

	err = h.run("admin", (*Plugin).addHistoricalPick, "alice", "Sunshine", "2007", "Dec 1, 2023")
	assert.Contains(t, userMsg(t, err), "before the rotation start")

	require.NoError(t, h.run("admin", (*Plugin).adminStats))
	assert.Contains(t, h.out.last(), "Event Horizon (1997)")

	require.NoError(t, h.run("admin", (*Plugin).resetRotation))
	assert.Contains(t, h.out.last(), "confirm")
	_, err = h.svc.Status(h.ctx)
	require.NoError(t, err, "reset without confirm must not touch state")

	require.NoError(t, h.run("admin", (*Plugin).resetRotation, "CONFIRM"))
	_, err = h.svc.Status(h.ctx)
	assert.ErrorIs(t, err, club.ErrNotConfigured)

	err = h.run("alice", (*Plugin).whoPicks)
	assert.Contains(t, userMsg(t, err), "not set up")
}

func TestTurnAndStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.setup(t)

	require.NoError(t, h.run("alice", (*Plugin).myTurn))
	assert.Contains(t, h.out.last(), "It's your turn")
	require.NoError(t, h.run("carol", (*Plugin).myTurn))
	assert.Contains(t, h.out.last(), "next turn is period 3")

	h.clock.Set(d0.AddDate(0, 0, 10))
	require.NoError(t, h.run("bob", (*Plugin).myTurn))
	assert.Contains(t, h.out.last(), "Early access is open")
	require.NoError(t, h.run("bob", (*Plugin).whoPicks))
	assert.Contains(t, h.out.last(), "Early access is open")

	require.NoError(t, h.run("bob", (*Plugin).pickMovie, "Heat"))
	require.NoError(t, h.run("bob", (*Plugin).whoPicks))
	assert.Contains(t, h.out.last(), "Pre-selected: <b>Heat</b>")

	require.NoError(t, h.run("bob", (*Plugin).clearMovie))
	assert.Contains(t, h.out.last(), "Cleared <b>Heat</b> from period 2")

	require.NoError(t, h.run("bob", (*Plugin).movieStatus))
	assert.Contains(t, h.out.last(), "no movie yet")
}

func TestParsers(t *testing.T) {
	t.Parallel()
	title, year := titleYear([]string{"Blade", "Runner", "2049"})
	assert.Equal(t, "Blade Runner", title)
	assert.Equal(t, 2049, year)
	title, year = titleYear([]string{"Blade Runner 2049"})
	assert.Equal(t, "Blade Runner 2049", title)
	assert.Zero(t, year)
	title, year = titleYear([]string{"2001"})
	assert.Equal(t, "2001", title)
	assert.Zero(t, year)

	user, title, year, date, err := historicalArgs([]string{"paul", "Event Horizon", "1997", "May 10, 2025"})
	require.NoError(t, err)
	assert.Equal(t, []any{"paul", "Event Horizon", 1997, "May 10, 2025"}, []any{user, title, year, date})
	_, title, year, date, err = historicalArgs([]string{"derek", "Sunshine", "May 25, 2025"})
	require.NoError(t, err)
	assert.Equal(t, "Sunshine", title)
	assert.Zero(t, year)
	assert.Equal(t, "May 25, 2025", date)

	o, err := setupArgs([]string{"a:Ann", "Lee,", "b", "start=2025-05-05", "early=0"})
	require.NoError(t, err)
	assert.Equal(t, "a:Ann Lee, b", o.roster)
	assert.Equal(t, "2025-05-05", o.start)
	require.NotNil(t, o.early)
	assert.Zero(t, *o.early)
	_, err = setupArgs([]string{"a", "nope=1"})
	assert.Error(t, err)

	for _, in := range []string{"2025-05-10", "May 10, 2025", "May 10 2025", "10 May 2025"} {
		d, err := parseDate(in, time.UTC)
		require.NoError(t, err, in)
		assert.Equal(t, time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC), d, in)
	}
	_, err = parseDate("someday", time.UTC)
	assert.Error(t, err)
}

func TestCommandsAreWellFormed(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	seen := map[string]bool{}
	for _, c := range h.p.Commands() {
		require.NotNil(t, c.Handle, c.Route)
		require.False(t, seen[c.Route], "duplicate %s", c.Route)
		seen[c.Route] = true
	}
	for _, want := range []string{
		"schedule", "who_picks", "my_turn", "history", "my_picks", "pick_movie", "search_movie",
		"current_movie", "clear_movie", "movie_status", "rate", "movie_ratings", "my_ratings",
		"top_rated", "recent_ratings", "update_rating", "setup_rotation", "skip_pick",
		"add_historical_pick", "admin_stats",
	} {
		assert.True(t, seen[want], "missing %s", want)
	}
}
