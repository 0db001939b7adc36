package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movieclub/internal/movie"
	"movieclub/internal/rotation"
	logx "movieclub/pkg/logx"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func drivers(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"sqlite": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "club.db")}, logx.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })
			return st
		},
		"postgres": openTestPostgres,
	}
}

func forEachDriver(t *testing.T, fn func(t *testing.T, st Store)) {
	t.Helper()
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fn(t, open(t))
		})
	}
}

func testConfig() rotation.Config {
	return rotation.Config{Start: t0, PeriodDays: 14, EarlyAccessDays: 7}
}

func abc() []rotation.Participant {
	return []rotation.Participant{
		{ID: "alice", Name: "Alice", Position: 0},
		{ID: "bob", Name: "Bob", Position: 1},
		{ID: "carol", Name: "Carol", Position: 2},
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "none"}, logx.Nop())
	require.ErrorIs(t, err, ErrDisabled)

	_, err = Open(Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)

	_, err = Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
}

func TestRotationRoundTrip(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		empty, err := st.LoadRotation(ctx)
		require.NoError(t, err)
		assert.False(t, empty.Configured)
		assert.Empty(t, empty.Participants)

		require.NoError(t, st.ReplaceRotation(ctx, testConfig(), abc()))
		got, err := st.LoadRotation(ctx)
		require.NoError(t, err)
		require.True(t, got.Configured)
		assert.True(t, got.Config.Start.Equal(t0))
		assert.Equal(t, 14, got.Config.PeriodDays)
		assert.Equal(t, 7, got.Config.EarlyAccessDays)
		require.Len(t, got.Participants, 3)
		for i, p := range got.Participants {
			assert.True(t, p.Active)
			assert.Equal(t, i, p.Position)
		}
		assert.Equal(t, "Bob", got.Name("bob"))
		assert.Equal(t, "zed", got.Name("zed"))

		r, err := got.Rotation()
		require.NoError(t, err)
		assert.Len(t, r.Participants, 3)
	})
}

func TestReplaceRotationSoftExcludes(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		require.NoError(t, st.ReplaceRotation(ctx, testConfig(), abc()))

		// carol leaves, dave joins, bob moves to the front
		next := []rotation.Participant{
			{ID: "bob", Name: "Bobby", Position: 0},
			{ID: "dave", Name: "Dave", Position: 1},
			{ID: "alice", Name: "Alice", Position: 2},
		}
		require.NoError(t, st.ReplaceRotation(ctx, testConfig(), next))

		got, err := st.LoadRotation(ctx)
		require.NoError(t, err)
		require.Len(t, got.Participants, 4)

		var active []string
		var excluded []string
		for _, p := range got.Participants {
			if p.Active {
				active = append(active, p.ID)
			} else {
				excluded = append(excluded, p.ID)
			}
		}
		assert.Equal(t, []string{"bob", "dave", "alice"}, active)
		assert.Equal(t, []string{"carol"}, excluded)
		assert.Equal(t, "Bobby", got.Name("bob"))
		assert.Equal(t, "Carol", got.Name("carol"))
	})
}

func TestSaveOrder(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		require.NoError(t, st.ReplaceRotation(ctx, testConfig(), abc()))

		order := []rotation.Participant{
			{ID: "carol", Position: 0},
			{ID: "alice", Position: 1},
			{ID: "bob", Position: 2},
		}
		require.NoError(t, st.SaveOrder(ctx, order))
		got, err := st.LoadRotation(ctx)
		require.NoError(t, err)
		ids := []string{got.Participants[0].ID, got.Participants[1].ID, got.Participants[2].ID}
		assert.Equal(t, []string{"carol", "alice", "bob"}, ids)

		err = st.SaveOrder(ctx, []rotation.Participant{{ID: "ghost", Position: 0}})
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPickUniquePerPeriod(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		dune := movie.Metadata{Title: "Dune", Year: 2021, IMDbID: "tt1160419", Genres: []string{"Sci-Fi"}}

		p, err := st.InsertPick(ctx, Pick{Period: 0, ParticipantID: "alice", Movie: dune, PickedAt: t0.Add(10 * rotation.Day)})
		require.NoError(t, err)
		require.NotZero(t, p.ID)

		_, err = st.InsertPick(ctx, Pick{Period: 0, ParticipantID: "bob", Movie: movie.Metadata{Title: "Heat"}})
		require.ErrorIs(t, err, ErrConflict)

		got, err := st.GetPickByPeriod(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
		assert.Equal(t, "alice", got.ParticipantID)
		assert.Equal(t, dune.Title, got.Movie.Title)
		assert.Equal(t, 2021, got.Movie.Year)
		assert.Equal(t, []string{"Sci-Fi"}, got.Movie.Genres)
		assert.True(t, got.PickedAt.Equal(t0.Add(10*rotation.Day)))

		_, err = st.GetPickByPeriod(ctx, 1)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = st.GetPick(ctx, p.ID+100)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestConcurrentPickOnlyOneWins(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		const racers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins, conflicts := 0, 0
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := st.InsertPick(ctx, Pick{Period: 3, ParticipantID: "alice", Movie: movie.Metadata{Title: "Alien"}})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
		assert.Equal(t, racers-1, conflicts)
	})
}

func TestRatingsLifecycle(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		p, err := st.InsertPick(ctx, Pick{Period: 0, ParticipantID: "alice", Movie: movie.Metadata{Title: "Dune", Year: 2021}})
		require.NoError(t, err)

		_, err = st.InsertRating(ctx, Rating{PickID: p.ID + 99, RaterID: "bob", Score: 5})
		require.ErrorIs(t, err, ErrNotFound)

		r, err := st.InsertRating(ctx, Rating{PickID: p.ID, RaterID: "bob", Score: 8, RatedAt: t0})
		require.NoError(t, err)
		require.NotZero(t, r.ID)

		_, err = st.InsertRating(ctx, Rating{PickID: p.ID, RaterID: "bob", Score: 3})
		require.ErrorIs(t, err, ErrConflict)

		up, err := st.UpdateRating(ctx, Rating{PickID: p.ID, RaterID: "bob", Score: 9, Review: "better on rewatch", UpdatedAt: t0.Add(time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, 9, up.Score)
		assert.Equal(t, "better on rewatch", up.Review)

		_, err = st.UpdateRating(ctx, Rating{PickID: p.ID, RaterID: "carol", Score: 2})
		require.ErrorIs(t, err, ErrNotFound)

		rs, err := st.ListRatings(ctx, RatingFilter{PickID: p.ID})
		require.NoError(t, err)
		require.Len(t, rs, 1)
		assert.Equal(t, 9, rs[0].Score)

		require.NoError(t, st.DeleteRating(ctx, p.ID, "bob"))
		require.ErrorIs(t, st.DeleteRating(ctx, p.ID, "bob"), ErrNotFound)
	})
}

func TestSummariesAndStats(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		a, err := st.InsertPick(ctx, Pick{Period: 0, ParticipantID: "alice", Movie: movie.Metadata{Title: "Dune"}})
		require.NoError(t, err)
		b, err := st.InsertPick(ctx, Pick{Period: 1, ParticipantID: "bob", Movie: movie.Metadata{Title: "Heat"}})
		require.NoError(t, err)
		_, err = st.InsertPick(ctx, Pick{Period: 2, ParticipantID: "carol", Movie: movie.Metadata{Title: "Up"}})
		require.NoError(t, err)

		for _, r := range []Rating{
			{PickID: a.ID, RaterID: "bob", Score: 8},
			{PickID: a.ID, RaterID: "carol", Score: 7},
			{PickID: b.ID, RaterID: "alice", Score: 10},
			{PickID: b.ID, RaterID: "carol", Score: 9},
		} {
			_, err := st.InsertRating(ctx, r)
			require.NoError(t, err)
		}

		all, err := st.PickSummaries(ctx, PickFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, int64(2), all[0].Period)
		assert.Equal(t, 0, all[0].Count)

		top, err := st.PickSummaries(ctx, PickFilter{RatedOnly: true, Order: OrderAverageDesc})
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, "Heat", top[0].Movie.Title)
		assert.InDelta(t, 9.5, top[0].Average, 1e-9)
		assert.Equal(t, 2, top[0].Count)
		assert.InDelta(t, 7.5, top[1].Average, 1e-9)

		mine, err := st.ListPicks(ctx, PickFilter{ParticipantID: "bob"})
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, b.ID, mine[0].ID)

		limited, err := st.ListPicks(ctx, PickFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		rs, err := st.RaterStats(ctx, "carol")
		require.NoError(t, err)
		assert.Equal(t, 2, rs.Count)
		assert.Equal(t, 7, rs.Min)
		assert.Equal(t, 9, rs.Max)
		assert.InDelta(t, 8.0, rs.Average, 1e-9)

		none, err := st.RaterStats(ctx, "nobody")
		require.NoError(t, err)
		assert.Zero(t, none.Count)

		stats, err := st.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Picks)
		assert.Equal(t, 2, stats.RatedPicks)
		assert.Equal(t, 4, stats.Ratings)
		assert.InDelta(t, 8.5, stats.AverageScore, 1e-9)
	})
}

func TestDeletePickCascadesRatings(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		p, err := st.InsertPick(ctx, Pick{Period: 4, ParticipantID: "alice", Movie: movie.Metadata{Title: "Dune"}})
		require.NoError(t, err)
		_, err = st.InsertRating(ctx, Rating{PickID: p.ID, RaterID: "bob", Score: 6})
		require.NoError(t, err)

		removed, err := st.DeletePickByPeriod(ctx, 4)
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = st.DeletePickByPeriod(ctx, 4)
		require.NoError(t, err)
		assert.False(t, removed)

		rs, err := st.ListRatings(ctx, RatingFilter{RaterID: "bob"})
		require.NoError(t, err)
		assert.Empty(t, rs)

		require.ErrorIs(t, st.DeletePick(ctx, p.ID), ErrNotFound)
	})
}

func TestResetAllKeepsNothing(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		require.NoError(t, st.ReplaceRotation(ctx, testConfig(), abc()))
		p, err := st.InsertPick(ctx, Pick{Period: 0, ParticipantID: "alice", Movie: movie.Metadata{Title: "Dune"}})
		require.NoError(t, err)
		_, err = st.InsertRating(ctx, Rating{PickID: p.ID, RaterID: "bob", Score: 6})
		require.NoError(t, err)
		require.NoError(t, st.AppendAudit(ctx, AuditEntry{Actor: "admin", Action: "reset_rotation"}))

		require.NoError(t, st.ResetAll(ctx))

		got, err := st.LoadRotation(ctx)
		require.NoError(t, err)
		assert.False(t, got.Configured)
		assert.Empty(t, got.Participants)

		stats, err := st.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{}, stats)
	})
}
