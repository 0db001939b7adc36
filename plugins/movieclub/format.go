package movieclub

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"movieclub/internal/club"
	"movieclub/internal/movie"
	"movieclub/internal/storage"
	"movieclub/pkg/tgui"
)

const reviewPreview = 120

// span renders a period's first and last day; end is exclusive.
func span(start, end time.Time) string {
	last := end.Add(-time.Nanosecond)
	if start.Year() != last.Year() {
		return start.Format("Jan 2, 2006") + " → " + last.Format("Jan 2, 2006")
	}
	return start.Format("Jan 2") + " → " + last.Format("Jan 2, 2006")
}

func period(p int64) string { return "P" + strconv.FormatInt(club.DisplayPeriod(p), 10) }

func score1(avg float64) string { return strconv.FormatFloat(avg, 'f', 1, 64) }

func movieCard(emoji, title string, m movie.Metadata) *tgui.Card {
	c := tgui.NewCard().Title(emoji, title)
	c.LineH(tgui.B(m.Label()))
	if m.Plot != "" {
		c.LineH(tgui.I(tgui.TruncRunes(m.Plot, 300)))
	}
	c.Blank()
	if len(m.Directors) > 0 {
		c.KV("Director", strings.Join(m.Directors, ", "))
	}
	if len(m.Cast) > 0 {
		c.KV("Cast", strings.Join(m.Cast, ", "))
	}
	if len(m.Genres) > 0 {
		c.KV("Genre", strings.Join(m.Genres, ", "))
	}
	if m.Runtime > 0 {
		c.KV("Runtime", fmt.Sprintf("%d min", m.Runtime))
	}
	if m.Rating > 0 {
		c.KV("IMDb", fmt.Sprintf("%.1f/10", m.Rating))
	}
	if m.IMDbID != "" {
		c.KVH("Link", tgui.Link(m.IMDbID, "https://www.imdb.com/title/"+m.IMDbID+"/"))
	}
	return c
}

// pickLine is the compact one-line rendering used in lists.
func pickLine(s storage.PickSummary, names func(string) string) tgui.H {
	parts := []tgui.H{
		tgui.Code("#" + strconv.FormatInt(s.ID, 10)),
		tgui.Esc(period(s.Period)),
		tgui.B(s.Movie.Label()),
		tgui.Hf("by %s", tgui.Handle(s.ParticipantID, names(s.ParticipantID))),
	}
	if s.Count > 0 {
		parts = append(parts, tgui.Hf("%s %s (%d)", tgui.Stars(s.Average), score1(s.Average), s.Count))
	}
	if s.Historical {
		parts = append(parts, tgui.I("backfilled"))
	}
	return tgui.JoinH(" ", parts...)
}

func ratingLine(r storage.Rating, m movie.Metadata, maxScore int, names func(string) string) tgui.H {
	line := tgui.Hf("%s %s: %d/%d by %s", tgui.Code("#"+strconv.FormatInt(r.PickID, 10)), tgui.B(m.Label()), r.Score, maxScore, tgui.Handle(r.RaterID, names(r.RaterID)))
	if r.Review != "" {
		line += tgui.Hf(" %s", tgui.I("“"+tgui.TruncRunes(r.Review, reviewPreview)+"”"))
	}
	return line
}

// namer returns a lookup from participant id to display name. Unknown ids
// (raters outside the rotation) map to themselves.
func namer(st storage.RotationState) func(string) string {
	return st.Name
}

func noNames(id string) string { return id }
