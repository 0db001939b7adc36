package movieclub

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"movieclub/internal/club"
	"movieclub/internal/movie"
	"movieclub/internal/transport/telegram/router"
	"movieclub/pkg/tgui"
)

func (p *Plugin) setupRotation(ctx context.Context, req *router.Request) error {
	o, err := setupArgs(req.Args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(o.roster) == "" {
		return router.Userf("Usage: %s user1:Name1, user2, user3:Name3 [start=2025-05-05] [period=14] [early=7]", p.cmd("setup_rotation"))
	}
	roster, err := club.ParseRoster(o.roster)
	if err != nil {
		return p.explain(err)
	}
	in := club.Setup{Roster: roster, PeriodDays: o.periodDays, EarlyAccessDays: o.early}
	if o.start != "" {
		in.Start, err = parseDate(o.start, p.club.Options().Location)
		if err != nil {
			return err
		}
	}
	rot, err := p.club.SetupRotation(ctx, auditActor(req), in)
	if err != nil {
		return p.explain(err)
	}

	c := tgui.NewCard().Title("✅", "Rotation set up")
	c.Line(fmt.Sprintf("%d members · starts %s · %d-day periods · %d days early access",
		len(rot.Participants), rot.Config.Start.Format("Jan 2, 2006"), rot.Config.PeriodDays, rot.Config.EarlyAccessDays))
	c.Blank()
	for _, pt := range rot.Participants {
		c.LineH(tgui.Hf("%d. %s", pt.Position+1, tgui.Handle(pt.ID, pt.Name)))
	}
	return req.Reply(ctx, c.String())
}

func (p *Plugin) skipPick(ctx context.Context, req *router.Request) error {
	res, err := p.club.SkipPick(ctx, auditActor(req))
	if err != nil {
		return p.explain(err)
	}
	if !res.Changed {
		return req.Replyf(ctx, "With %d members the order cannot change; %s stays up next.",
			len(res.Order), res.NewNext.Name)
	}
	order := make([]tgui.H, len(res.Order))
	for i, pt := range res.Order {
		order[i] = tgui.Handle(pt.ID, pt.Name)
	}
	c := tgui.NewCard().Title("⏭️", "Pick skipped")
	c.LineH(tgui.Hf("%s moves to the back of the queue.", tgui.Handle(res.Skipped.ID, res.Skipped.Name)))
	c.LineH(tgui.Hf("Up next: %s", tgui.Handle(res.NewNext.ID, res.NewNext.Name)))
	c.Blank().LineH(tgui.Hf("New order: %s", tgui.JoinH(" → ", order...)))
	return req.Reply(ctx, c.String())
}

func (p *Plugin) addHistoricalPick(ctx context.Context, req *router.Request) error {
	user, title, year, date, err := historicalArgs(req.Args)
	if err != nil {
		return err
	}
	var at time.Time
	if date != "" {
		if at, err = parseDate(date, p.club.Options().Location); err != nil {
			return err
		}
	}
	pick, err := p.club.AddHistoricalPick(ctx, auditActor(req), user, movie.Metadata{Title: title, Year: year}, at)
	if err != nil {
		return p.explain(err)
	}
	c := tgui.NewCard().Title("✅", "Historical pick added")
	c.LineH(tgui.Hf("%s for period %d", tgui.B(pick.Movie.Label()), club.DisplayPeriod(pick.Period)))
	c.KVH("Picker", tgui.Handle(pick.ParticipantID, p.names(ctx)(pick.ParticipantID)))
	c.KV("Date", pick.PickedAt.Format("Jan 2, 2006"))
	c.KVH("Pick id", tgui.Code("#"+strconv.FormatInt(pick.ID, 10)))
	return req.Reply(ctx, c.String())
}

func (p *Plugin) forcePick(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 2 {
		return router.Userf("Usage: %s <user> <title> [year]", p.cmd("force_pick"))
	}
	user := req.Args[0]
	title, year := titleYear(req.Args[1:])
	m, err := p.resolve(ctx, req, title, year)
	if err != nil {
		return err
	}
	pick, err := p.club.ForcePick(ctx, auditActor(req), user, m)
	if err != nil {
		return p.explain(err)
	}
	c := movieCard("🎬", fmt.Sprintf("Forced pick for period %d", club.DisplayPeriod(pick.Period)), pick.Movie)
	c.Blank().KVH("On behalf of", tgui.Handle(pick.ParticipantID, p.names(ctx)(pick.ParticipantID)))
	c.KVH("Pick id", tgui.Code("#"+strconv.FormatInt(pick.ID, 10)))
	return req.Reply(ctx, c.String())
}

func (p *Plugin) deletePick(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 1 {
		return router.Userf("Usage: %s <pickId>", p.cmd("delete_pick"))
	}
	id, err := pickID(req.Args[0])
	if err != nil {
		return err
	}
	pick, err := p.club.DeletePick(ctx, auditActor(req), id)
	if err != nil {
		return p.explain(err)
	}
	return req.Replyf(ctx, "🗑️ Deleted pick #%d <b>%s</b> (period %d) and its ratings.",
		pick.ID, pick.Movie.Label(), club.DisplayPeriod(pick.Period))
}

func (p *Plugin) clearPick(ctx context.Context, req *router.Request) error {
	var target int64
	if len(req.Args) > 0 {
		n, err := strconv.ParseInt(strings.TrimLeft(req.Args[0], "Pp"), 10, 64)
		if err != nil || n <= 0 {
			return router.Userf("Period must be a positive number.")
		}
		target = n - 1
	} else {
		st, err := p.club.Status(ctx)
		if err != nil {
			return p.explain(err)
		}
		target = st.Period
	}
	removed, err := p.club.ClearPick(ctx, auditActor(req), target)
	if err != nil {
		return p.explain(err)
	}
	if !removed {
		return req.Replyf(ctx, "Period %d has no pick.", club.DisplayPeriod(target))
	}
	return req.Replyf(ctx, "🗑️ Cleared the pick of period %d.", club.DisplayPeriod(target))
}

func (p *Plugin) resetRotation(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 || !strings.EqualFold(req.Args[0], "confirm") {
		return req.Replyf(ctx, "⚠️ This deletes the roster, every pick and every rating.\nSend <code>%s confirm</code> to go ahead.", p.cmd("reset_rotation"))
	}
	if err := p.club.ResetRotation(ctx, auditActor(req)); err != nil {
		return p.explain(err)
	}
	return req.Replyf(ctx, "🧹 Rotation reset. Set it up again with %s.", p.cmd("setup_rotation"))
}

func (p *Plugin) adminStats(ctx context.Context, req *router.Request) error {
	st, err := p.club.AdminStats(ctx)
	if err != nil {
		return p.explain(err)
	}
	c := tgui.NewCard().Title("🛠️", "Club stats")
	c.KV("Members", fmt.Sprintf("%d active, %d total", st.ActiveParticipants, st.Participants))
	c.KV("Picks", fmt.Sprintf("%d (%d rated)", st.Picks, st.RatedPicks))
	c.KV("Ratings", fmt.Sprint(st.Ratings))
	if st.Ratings > 0 {
		c.KV("Average score", score1(st.AverageScore))
	}
	c.Blank()
	if !st.Configured {
		c.Line("Rotation is not set up.")
		return req.Reply(ctx, c.String())
	}
	c.KV("Current period", fmt.Sprintf("%d (%d days left)", club.DisplayPeriod(st.Period), st.DaysRemaining))
	c.KVH("Picker", tgui.Handle(st.CurrentPicker.ID, st.CurrentPicker.Name))
	c.KVH("Next", tgui.Handle(st.NextPicker.ID, st.NextPicker.Name))
	if st.CurrentPick != nil {
		c.KV("Current movie", st.CurrentPick.Movie.Label())
	} else {
		c.KV("Current movie", "none yet")
	}
	return req.Reply(ctx, c.String())
}
