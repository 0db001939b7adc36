package movieclub

import (
	"context"
	"fmt"
	"strings"

	"movieclub/internal/club"
	"movieclub/internal/transport/telegram/router"
	"movieclub/pkg/tgui"
)

// rateArgs parses "<pickId> <score> [review...]".
func (p *Plugin) rateArgs(req *router.Request, route string) (int64, int, string, error) {
	if len(req.Args) < 2 {
		return 0, 0, "", router.Userf("Usage: %s <pickId> <score> [review]", p.cmd(route))
	}
	id, err := pickID(req.Args[0])
	if err != nil {
		return 0, 0, "", err
	}
	sc, err := score(req.Args[1])
	if err != nil {
		return 0, 0, "", err
	}
	return id, sc, strings.Join(req.Args[2:], " "), nil
}

func (p *Plugin) rate(ctx context.Context, req *router.Request) error {
	me, err := actor(req)
	if err != nil {
		return err
	}
	id, sc, review, err := p.rateArgs(req, "rate")
	if err != nil {
		return err
	}
	r, err := p.club.RequestRate(ctx, me, id, sc, review)
	if err != nil {
		return p.explain(err)
	}
	return p.replyRating(ctx, req, "⭐", "Rating added", r.PickID, r.Score, r.Review)
}

func (p *Plugin) updateRating(ctx context.Context, req *router.Request) error {
	me, err := actor(req)
	if err != nil {
		return err
	}
	id, sc, review, err := p.rateArgs(req, "update_rating")
	if err != nil {
		return err
	}
	r, err := p.club.UpdateRating(ctx, me, id, sc, review)
	if err != nil {
		return p.explain(err)
	}
	return p.replyRating(ctx, req, "✏️", "Rating updated", r.PickID, r.Score, r.Review)
}

func (p *Plugin) replyRating(ctx context.Context, req *router.Request, emoji, title string, pickID int64, sc int, review string) error {
	sum, _, err := p.club.PickRatings(ctx, pickID)
	if err != nil {
		return p.explain(err)
	}
	c := tgui.NewCard().Title(emoji, title)
	c.LineH(tgui.Hf("You rated %s %d/%d", tgui.B(sum.Movie.Label()), sc, p.club.Options().MaxScore))
	if review != "" {
		c.LineH(tgui.I("“" + review + "”"))
	}
	c.Blank().Line(fmt.Sprintf("Club average: %s %s from %d ratings", tgui.Stars(sum.Average), score1(sum.Average), sum.Count))
	c.LineH(tgui.Hf("See all with %s", tgui.Code(fmt.Sprintf("%s %d", p.cmd("movie_ratings"), pickID))))
	return req.Reply(ctx, c.String())
}

func (p *Plugin) deleteRating(ctx context.Context, req *router.Request) error {
	me, err := actor(req)
	if err != nil {
		return err
	}
	if len(req.Args) < 1 {
		return router.Userf("Usage: %s <pickId>", p.cmd("delete_rating"))
	}
	id, err := pickID(req.Args[0])
	if err != nil {
		return err
	}
	if err := p.club.DeleteRating(ctx, me, id); err != nil {
		return p.explain(err)
	}
	return req.Replyf(ctx, "🗑️ Your rating of pick #%d was removed.", id)
}

func (p *Plugin) movieRatings(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 1 {
		return router.Userf("Usage: %s <pickId>", p.cmd("movie_ratings"))
	}
	id, err := pickID(req.Args[0])
	if err != nil {
		return err
	}
	sum, rs, err := p.club.PickRatings(ctx, id)
	if err != nil {
		return p.explain(err)
	}
	names := p.names(ctx)
	c := tgui.NewCard().Title("⭐", "Ratings for "+sum.Movie.Label())
	c.LineH(tgui.Hf("Picked by %s for %s", tgui.Handle(sum.ParticipantID, names(sum.ParticipantID)), period(sum.Period)))
	if len(rs) == 0 {
		c.Blank().LineH(tgui.Hf("No ratings yet. Be the first with %s.", tgui.Code(fmt.Sprintf("%s %d <score>", p.cmd("rate"), id))))
		return req.Reply(ctx, c.String())
	}
	c.Line(fmt.Sprintf("Average %s %s from %d ratings", tgui.Stars(sum.Average), score1(sum.Average), sum.Count))
	c.Blank()
	for _, r := range rs {
		line := tgui.Hf("%s: %d", tgui.Handle(r.RaterID, names(r.RaterID)), r.Score)
		if r.Review != "" {
			line += tgui.Hf(" %s", tgui.I("“"+tgui.TruncRunes(r.Review, reviewPreview)+"”"))
		}
		c.Bullet(line)
	}
	return req.Reply(ctx, c.String())
}

func (p *Plugin) myRatings(ctx context.Context, req *router.Request) error {
	me, err := actor(req)
	if err != nil {
		return err
	}
	rs, err := p.club.RatingsBy(ctx, me, club.DefaultListLimit)
	if err != nil {
		return p.explain(err)
	}
	if len(rs) == 0 {
		return req.Reply(ctx, "You haven't rated any movies yet!")
	}
	return p.replyRatings(ctx, req, "🎬", "Your recent ratings", rs)
}

func (p *Plugin) recentRatings(ctx context.Context, req *router.Request) error {
	n, err := optInt(req.Args, 0, "limit", club.DefaultListLimit)
	if err != nil {
		return err
	}
	rs, err := p.club.RecentRatings(ctx, n)
	if err != nil {
		return p.explain(err)
	}
	if len(rs) == 0 {
		return req.Reply(ctx, "No ratings yet!")
	}
	return p.replyRatings(ctx, req, "🕒", "Recent ratings", rs)
}

func (p *Plugin) replyRatings(ctx context.Context, req *router.Request, emoji, title string, rs []club.RatedPick) error {
	names := p.names(ctx)
	maxScore := p.club.Options().MaxScore
	c := tgui.NewCard().Title(emoji, title)
	for _, rp := range rs {
		c.Bullet(ratingLine(rp.Rating, rp.Pick.Movie, maxScore, names))
	}
	return req.Reply(ctx, c.String())
}

func (p *Plugin) topRated(ctx context.Context, req *router.Request) error {
	n, err := optInt(req.Args, 0, "limit", club.DefaultListLimit)
	if err != nil {
		return err
	}
	top, err := p.club.TopRated(ctx, n)
	if err != nil {
		return p.explain(err)
	}
	if len(top) == 0 {
		return req.Reply(ctx, "No rated movies yet!")
	}
	names := p.names(ctx)
	c := tgui.NewCard().Title("🏆", "Top rated")
	for i, s := range top {
		c.LineH(tgui.Hf("%d. %s", i+1, pickLine(s, names)))
	}
	return req.Reply(ctx, c.String())
}

func (p *Plugin) myStats(ctx context.Context, req *router.Request) error {
	me, err := actor(req)
	if err != nil {
		return err
	}
	rs, err := p.club.RaterStats(ctx, me)
	if err != nil {
		return p.explain(err)
	}
	picks, err := p.club.PicksBy(ctx, me)
	if err != nil {
		return p.explain(err)
	}
	c := tgui.NewCard().Title("📊", "Your stats")
	c.KV("Picks", fmt.Sprint(len(picks)))
	c.KV("Ratings given", fmt.Sprint(rs.Count))
	if rs.Count > 0 {
		c.KV("Average score", score1(rs.Average))
		c.KV("Range", fmt.Sprintf("%d to %d", rs.Min, rs.Max))
	}
	best, rated := 0.0, false
	for _, s := range picks {
		if s.Count > 0 && (!rated || s.Average > best) {
			best, rated = s.Average, true
		}
	}
	if rated {
		c.KV("Best club rating for your picks", score1(best))
	}
	return req.Reply(ctx, c.String())
}
