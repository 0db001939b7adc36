package movieclub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"movieclub/internal/club"
	"movieclub/internal/lookup"
	"movieclub/internal/movie"
	"movieclub/internal/transport/telegram/router"
	logx "movieclub/pkg/logx"
	"movieclub/pkg/tgui"
)

// resolve turns typed input into metadata. Without a lookup service, or
// with lookup disabled, the title is recorded as typed.
func (p *Plugin) resolve(ctx context.Context, req *router.Request, title string, year int) (movie.Metadata, error) {
	typed := movie.Metadata{Title: strings.TrimSpace(title), Year: year}
	if err := typed.Validate(); err != nil {
		return movie.Metadata{}, p.explain(err)
	}
	if p.lookup == nil {
		return typed, nil
	}
	m, err := p.lookup.Lookup(ctx, typed.Title, year)
	switch {
	case err == nil:
		return m, nil
	case errors.Is(err, lookup.ErrDisabled):
		return typed, nil
	case errors.Is(err, lookup.ErrNotFound), errors.Is(err, lookup.ErrAmbiguous):
		return movie.Metadata{}, p.explain(err)
	default:
		req.Logger.Warn("movie lookup failed", logx.String("title", typed.Title), logx.Int("year", year), logx.Err(err))
		return movie.Metadata{}, router.Userf("Movie lookup failed. Please try again in a moment.")
	}
}

func (p *Plugin) pickMovie(ctx context.Context, req *router.Request) error {
	me, err := actor(req)
	if err != nil {
		return err
	}
	title, year := titleYear(req.Args)
	if title == "" {
		return router.Userf("Usage: %s <title> [year]", p.cmd("pick_movie"))
	}

	// Refuse early so a denied pick costs no lookup. RequestPick re-checks.
	if _, err := p.club.CheckPick(ctx, me); err != nil {
		return p.explain(err)
	}

	m, err := p.resolve(ctx, req, title, year)
	if err != nil {
		return err
	}
	pick, err := p.club.RequestPick(ctx, me, m)
	if err != nil {
		return p.explain(err)
	}

	c := movieCard("🎬", "Movie selected for period "+fmt.Sprint(club.DisplayPeriod(pick.Period)), pick.Movie)
	c.Blank().LineH(tgui.Hf("Thanks for the pick, %s! Rate it with %s.",
		tgui.Handle(me, p.names(ctx)(me)), tgui.Code(fmt.Sprintf("%s %d <score>", p.cmd("rate"), pick.ID))))
	return req.Reply(ctx, c.String())
}

func (p *Plugin) searchMovie(ctx context.Context, req *router.Request) error {
	title, year := titleYear(req.Args)
	if title == "" {
		return router.Userf("Usage: %s <title> [year]", p.cmd("search_movie"))
	}
	if p.lookup == nil {
		return router.Userf("Movie lookup is not configured.")
	}
	m, err := p.lookup.Lookup(ctx, title, year)
	if errors.Is(err, lookup.ErrDisabled) {
		return router.Userf("Movie lookup is not configured.")
	}
	if err != nil {
		if errors.Is(err, lookup.ErrNotFound) || errors.Is(err, lookup.ErrAmbiguous) {
			return p.explain(err)
		}
		req.Logger.Warn("movie search failed", logx.String("title", title), logx.Err(err))
		return router.Userf("Movie lookup failed. Please try again in a moment.")
	}
	return req.Reply(ctx, movieCard("🔍", "Movie found", m).String())
}

func (p *Plugin) currentMovie(ctx context.Context, req *router.Request) error {
	sum, ok, err := p.club.CurrentPick(ctx)
	if err != nil {
		return p.explain(err)
	}
	if !ok {
		return req.Replyf(ctx, "No movie has been picked for this period yet. The picker can use %s.", p.cmd("pick_movie"))
	}
	c := movieCard("🎬", "Current movie", sum.Movie)
	c.Blank()
	names := p.names(ctx)
	c.KVH("Picked by", tgui.Handle(sum.ParticipantID, names(sum.ParticipantID)))
	if sum.Count > 0 {
		c.KV("Club rating", fmt.Sprintf("%s %s (%d ratings)", tgui.Stars(sum.Average), score1(sum.Average), sum.Count))
	}
	c.LineH(tgui.Hf("Rate it with %s", tgui.Code(fmt.Sprintf("%s %d <score>", p.cmd("rate"), sum.ID))))
	return req.Reply(ctx, c.String())
}

func (p *Plugin) movieStatus(ctx context.Context, req *router.Request) error {
	st, err := p.club.Status(ctx)
	if err != nil {
		return p.explain(err)
	}
	if st.CurrentPick == nil {
		return req.Replyf(ctx, "🎬 Period %d: no movie yet (%s is picking, %d days left)",
			club.DisplayPeriod(st.Period), st.Current.Name, st.DaysRemaining)
	}
	return req.Replyf(ctx, "🎬 Period %d: <b>%s</b> (%d days left)",
		club.DisplayPeriod(st.Period), st.CurrentPick.Movie.Label(), st.DaysRemaining)
}

func (p *Plugin) clearMovie(ctx context.Context, req *router.Request) error {
	me, err := actor(req)
	if err != nil {
		return err
	}
	pick, err := p.club.ClearCurrentPick(ctx, me)
	if err != nil {
		return p.explain(err)
	}
	return req.Replyf(ctx, "🗑️ Cleared <b>%s</b> from period %d. You can pick again with %s.",
		pick.Movie.Label(), club.DisplayPeriod(pick.Period), p.cmd("pick_movie"))
}
