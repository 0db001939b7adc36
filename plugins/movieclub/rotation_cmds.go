package movieclub

import (
	"context"
	"fmt"

	"movieclub/internal/club"
	"movieclub/internal/rotation"
	"movieclub/internal/transport/telegram/router"
	"movieclub/pkg/tgui"
)

func (p *Plugin) names(ctx context.Context) func(string) string {
	st, err := p.club.Roster(ctx)
	if err != nil {
		return noNames
	}
	return namer(st)
}

func (p *Plugin) schedule(ctx context.Context, req *router.Request) error {
	n, err := optInt(req.Args, 0, "periods", club.DefaultSchedulePeek)
	if err != nil {
		return err
	}
	entries, err := p.club.Schedule(ctx, n)
	if err != nil {
		return p.explain(err)
	}
	c := tgui.NewCard().Title("📅", "Schedule")
	for i, e := range entries {
		mark := "⏳"
		if e.Pick != nil {
			mark = "✅"
		}
		line := tgui.Hf("%s %s %s: %s", mark, tgui.B(period(e.Period)), span(e.Start, e.End), tgui.Handle(e.Picker.ID, e.Picker.Name))
		if e.Pick != nil {
			line += tgui.Hf(" · %s", tgui.I(e.Pick.Movie.Label()))
		}
		if i == 0 {
			line += " ← now"
		}
		c.LineH(line)
	}
	return req.Reply(ctx, c.String())
}

func (p *Plugin) whoPicks(ctx context.Context, req *router.Request) error {
	st, err := p.club.Status(ctx)
	if err != nil {
		return p.explain(err)
	}
	c := tgui.NewCard().Title("🎯", fmt.Sprintf("Period %d", club.DisplayPeriod(st.Period)))
	c.LineH(tgui.Hf("Picker: %s", tgui.Handle(st.Current.ID, st.Current.Name)))
	c.Line(span(st.Start, st.End) + fmt.Sprintf(" (%d days left)", st.DaysRemaining))
	if st.CurrentPick != nil {
		c.LineH(tgui.Hf("🎬 %s", tgui.B(st.CurrentPick.Movie.Label())))
	} else {
		c.Line("⏳ No movie picked yet")
	}
	if st.Next.ID != "" && st.Next.ID != st.Current.ID {
		c.Blank()
		c.LineH(tgui.Hf("Next up: %s", tgui.Handle(st.Next.ID, st.Next.Name)))
		switch {
		case st.NextPick != nil:
			c.LineH(tgui.Hf("🎬 Pre-selected: %s", tgui.B(st.NextPick.Movie.Label())))
		case st.EarlyAccess:
			c.Line("🚪 Early access is open")
		case st.EarlyOpens.Before(st.End):
			c.Line("🚪 Early access opens " + st.EarlyOpens.Format("Mon Jan 2"))
		}
	}
	return req.Reply(ctx, c.String())
}

func (p *Plugin) myTurn(ctx context.Context, req *router.Request) error {
	me, err := actor(req)
	if err != nil {
		return err
	}
	t, err := p.club.MyTurn(ctx, me)
	if err != nil {
		return p.explain(err)
	}
	if !t.InRotation {
		return req.Reply(ctx, "🙅 You are not in the rotation.")
	}
	d := t.Decision
	var msg tgui.H
	switch {
	case d.Access == rotation.CanPickCurrent:
		msg = tgui.Hf("🎯 <b>It's your turn!</b> Pick the movie for period %d with %s.",
			club.DisplayPeriod(d.Period), tgui.Code(p.cmd("pick_movie")+" <title> [year]"))
	case d.Access == rotation.CanPickNext:
		msg = tgui.Hf("🚪 <b>Early access is open.</b> You can pick the movie for period %d now with %s.",
			club.DisplayPeriod(d.Period), tgui.Code(p.cmd("pick_movie")+" <title> [year]"))
	case d.Reason == rotation.ReasonAlreadyPicked && t.Pick != nil:
		msg = tgui.Hf("✅ You picked %s for period %d.", tgui.B(t.Pick.Movie.Label()), club.DisplayPeriod(t.Pick.Period))
	case d.Reason == rotation.ReasonEarlyAccessNotOpen:
		msg = tgui.Hf("⏳ You are up next. Early access opens %s.", d.OpensAt.Format("Mon Jan 2"))
	default:
		msg = tgui.Hf("⏳ Your next turn is period %d, %s.", club.DisplayPeriod(t.Upcoming.Period), span(t.Upcoming.Start, t.Upcoming.End))
	}
	return req.Reply(ctx, msg.String())
}

func (p *Plugin) history(ctx context.Context, req *router.Request) error {
	n, err := optInt(req.Args, 0, "limit", club.DefaultListLimit)
	if err != nil {
		return err
	}
	picks, err := p.club.History(ctx, n)
	if err != nil {
		return p.explain(err)
	}
	if len(picks) == 0 {
		return req.Reply(ctx, "No picks yet.")
	}
	names := p.names(ctx)
	c := tgui.NewCard().Title("📜", "History")
	for _, s := range picks {
		c.LineH(pickLine(s, names))
	}
	return req.Reply(ctx, c.String())
}

func (p *Plugin) myPicks(ctx context.Context, req *router.Request) error {
	me, err := actor(req)
	if err != nil {
		return err
	}
	picks, err := p.club.PicksBy(ctx, me)
	if err != nil {
		return p.explain(err)
	}
	if len(picks) == 0 {
		return req.Reply(ctx, "You have not picked anything yet.")
	}
	names := p.names(ctx)
	c := tgui.NewCard().Title("🎬", "Your picks")
	for _, s := range picks {
		c.LineH(pickLine(s, names))
	}
	return req.Reply(ctx, c.String())
}

func (p *Plugin) roster(ctx context.Context, req *router.Request) error {
	st, err := p.club.Roster(ctx)
	if err != nil {
		return p.explain(err)
	}
	if !st.Configured {
		return p.explain(club.ErrNotConfigured)
	}
	c := tgui.NewCard().Title("👥", "Rotation")
	var former []tgui.H
	for _, pt := range st.Participants {
		if !pt.Active {
			former = append(former, tgui.Handle(pt.ID, pt.DisplayName))
			continue
		}
		c.LineH(tgui.Hf("%d. %s", pt.Position+1, tgui.Handle(pt.ID, pt.DisplayName)))
	}
	if len(former) > 0 {
		c.Blank().LineH(tgui.Hf("Former members: %s", tgui.JoinH(", ", former...)))
	}
	cfg := st.Config
	c.Blank().Line(fmt.Sprintf("Started %s · %d-day periods · %d days early access",
		cfg.Start.Format("Jan 2, 2006"), cfg.PeriodDays, cfg.EarlyAccessDays))
	return req.Reply(ctx, c.String())
}
