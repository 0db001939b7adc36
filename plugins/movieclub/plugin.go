// Package movieclub is the chat command surface of the club: picking,
// rating, schedule queries and rotation administration.
package movieclub

import (
	"context"
	"sync"
	"time"

	"movieclub/internal/club"
	"movieclub/internal/movie"
	"movieclub/internal/transport/telegram/router"
	logx "movieclub/pkg/logx"
)

// MovieLookup resolves a title to metadata. Implemented by lookup.Service.
type MovieLookup interface {
	Lookup(ctx context.Context, title string, year int) (movie.Metadata, error)
}

const lookupTimeout = 30 * time.Second

type Plugin struct {
	club   *club.Service
	lookup MovieLookup
	log    logx.Logger

	mu     sync.RWMutex
	prefix string
}

// New builds the plugin. lookup may be nil, in which case titles are
// recorded as typed.
func New(svc *club.Service, lookup MovieLookup, log logx.Logger) *Plugin {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Plugin{
		club:   svc,
		lookup: lookup,
		log:    log.With(logx.String("plugin", "movieclub")),
		prefix: "/",
	}
}

func (p *Plugin) Name() string { return "movieclub" }

// SetPrefix updates the command prefix shown in hints.
func (p *Plugin) SetPrefix(prefix string) {
	if prefix == "" {
		prefix = "/"
	}
	p.mu.Lock()
	p.prefix = prefix
	p.mu.Unlock()
}

func (p *Plugin) cmd(name string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.prefix + name
}

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		// rotation
		{Route: "schedule", Description: "upcoming pickers", Usage: "/schedule [periods=5]", Handle: p.schedule},
		{Route: "who_picks", Aliases: []string{"who"}, Description: "current and next picker", Handle: p.whoPicks},
		{Route: "my_turn", Description: "when you can pick next", Handle: p.myTurn},
		{Route: "history", Description: "past picks", Usage: "/history [limit=10]", Handle: p.history},
		{Route: "my_picks", Description: "everything you picked", Handle: p.myPicks},
		{Route: "roster", Description: "rotation members in order", Handle: p.roster},

		// movies
		{Route: "pick_movie", Aliases: []string{"pick"}, Description: "pick the movie for your period", Usage: "/pick_movie <title> [year]", Timeout: lookupTimeout, Handle: p.pickMovie},
		{Route: "search_movie", Aliases: []string{"search"}, Description: "look up a movie without picking it", Usage: "/search_movie <title> [year]", Timeout: lookupTimeout, Handle: p.searchMovie},
		{Route: "current_movie", Aliases: []string{"current"}, Description: "details of this period's movie", Handle: p.currentMovie},
		{Route: "movie_status", Description: "one-line status of the current period", Handle: p.movieStatus},
		{Route: "clear_movie", Description: "withdraw your pick to choose again", Handle: p.clearMovie},

		// ratings
		{Route: "rate", Description: "rate a picked movie", Usage: "/rate <pickId> <score> [review]", Handle: p.rate},
		{Route: "update_rating", Description: "change your rating", Usage: "/update_rating <pickId> <score> [review]", Handle: p.updateRating},
		{Route: "delete_rating", Description: "remove your rating", Usage: "/delete_rating <pickId>", Handle: p.deleteRating},
		{Route: "movie_ratings", Description: "all ratings of a pick", Usage: "/movie_ratings <pickId>", Handle: p.movieRatings},
		{Route: "my_ratings", Description: "your recent ratings", Handle: p.myRatings},
		{Route: "my_stats", Description: "your rating and pick stats", Handle: p.myStats},
		{Route: "top_rated", Aliases: []string{"top"}, Description: "best rated picks", Usage: "/top_rated [limit=10]", Handle: p.topRated},
		{Route: "recent_ratings", Description: "latest ratings", Usage: "/recent_ratings [limit=10]", Handle: p.recentRatings},

		// admin
		{Route: "setup_rotation", Access: router.AccessOwnerOnly, Description: "set the rotation order",
			Usage: "/setup_rotation user1:Name1, user2, user3:Name3 [start=2025-05-05] [period=14] [early=7]", Handle: p.setupRotation},
		{Route: "skip_pick", Access: router.AccessOwnerOnly, Description: "move the next picker to the back", Handle: p.skipPick},
		{Route: "add_historical_pick", Access: router.AccessOwnerOnly, Description: "backfill a past pick",
			Usage: `/add_historical_pick <user> "<title>" [year] ["date"]`, Handle: p.addHistoricalPick},
		{Route: "force_pick", Access: router.AccessOwnerOnly, Description: "pick on behalf of the current or next picker",
			Usage: "/force_pick <user> <title> [year]", Timeout: lookupTimeout, Handle: p.forcePick},
		{Route: "delete_pick", Access: router.AccessOwnerOnly, Description: "delete a pick and its ratings", Usage: "/delete_pick <pickId>", Handle: p.deletePick},
		{Route: "clear_pick", Access: router.AccessOwnerOnly, Description: "clear the pick of a period", Usage: "/clear_pick [period]", Handle: p.clearPick},
		{Route: "reset_rotation", Access: router.AccessOwnerOnly, Description: "delete roster, picks and ratings", Usage: "/reset_rotation confirm", Handle: p.resetRotation},
		{Route: "admin_stats", Access: router.AccessOwnerOnly, Description: "club overview", Handle: p.adminStats},
	}
}
