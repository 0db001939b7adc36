package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movieclub/internal/movie"
	logx "movieclub/pkg/logx"
)

func TestBestMatch(t *testing.T) {
	t.Parallel()
	dunes := []Candidate{
		{Title: "Dune", Year: 2021, IMDbID: "tt1160419"},
		{Title: "Dune", Year: 1984, IMDbID: "tt0087182"},
		{Title: "Dune: Part Two", Year: 2024, IMDbID: "tt15239678"},
	}
	cases := []struct {
		name  string
		query string
		year  int
		cands []Candidate
		want  string
		err   error
	}{
		{"exact year", "Dune", 1984, dunes, "tt0087182", nil},
		{"nearest within tolerance", "Dune", 2022, dunes, "tt1160419", nil},
		{"nearest prefers closer", "Dune", 1986, dunes, "tt0087182", nil},
		{"outside tolerance falls back to best title", "Dune", 1960, dunes, "tt1160419", nil},
		{"no year with conflicting exact titles", "dune", 0, dunes, "", ErrAmbiguous},
		{"no year single exact", "Heat", 0, []Candidate{{Title: "Heat Wave", Year: 2022, IMDbID: "x"}, {Title: "Heat", Year: 1995, IMDbID: "tt0113277"}}, "tt0113277", nil},
		{"no year fuzzy", "godfather", 0, []Candidate{{Title: "Blade Runner", Year: 1982, IMDbID: "b"}, {Title: "The Godfather", Year: 1972, IMDbID: "g"}}, "g", nil},
		{"empty", "x", 0, nil, "", ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := BestMatch(tc.query, tc.year, tc.cands)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.IMDbID)
		})
	}
}

func TestAmbiguousListsCandidates(t *testing.T) {
	t.Parallel()
	_, err := BestMatch("Dune", 0, []Candidate{{Title: "Dune", Year: 2021}, {Title: "Dune", Year: 1984}})
	var amb *AmbiguousError
	require.True(t, errors.As(err, &amb))
	assert.Len(t, amb.Candidates, 2)
	assert.Contains(t, amb.Error(), "Dune (1984)")
}

type fakeOMDb struct {
	calls     atomic.Int32
	failFirst int32
}

func (f *fakeOMDb) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := f.calls.Add(1)
		if n <= f.failFirst {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		q := r.URL.Query()
		if q.Get("apikey") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case q.Get("s") == "Dune":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"Response": "True",
				"Search": []map[string]string{
					{"Title": "Dune", "Year": "2021", "imdbID": "tt1160419", "Type": "movie"},
					{"Title": "Dune", "Year": "1984", "imdbID": "tt0087182", "Type": "movie"},
				},
			})
		case q.Get("i") == "tt1160419":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"Response":   "True",
				"Title":      "Dune",
				"Year":       "2021",
				"Runtime":    "155 min",
				"Genre":      "Action, Adventure, Drama",
				"Director":   "Denis Villeneuve",
				"Actors":     "Timothée Chalamet, Rebecca Ferguson, Zendaya",
				"Plot":       "A noble family becomes embroiled in a war.",
				"Poster":     "N/A",
				"imdbRating": "8.0",
				"imdbID":     "tt1160419",
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]string{"Response": "False", "Error": "Movie not found!"})
		}
	})
}

func newTestService(t *testing.T, f *fakeOMDb, cache Cache) *Service {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", APIKey: "k", MaxRetries: 2, Backoff: time.Millisecond}, cache, logx.Nop())
}

func TestLookupResolvesAndCaches(t *testing.T) {
	t.Parallel()
	f := &fakeOMDb{}
	cache := NewMemoryCache(time.Hour, 0)
	svc := newTestService(t, f, cache)
	ctx := context.Background()

	m, err := svc.Lookup(ctx, "Dune", 2021)
	require.NoError(t, err)
	assert.Equal(t, "Dune", m.Title)
	assert.Equal(t, 2021, m.Year)
	assert.Equal(t, 155, m.Runtime)
	assert.InDelta(t, 8.0, m.Rating, 1e-9)
	assert.Equal(t, []string{"Action", "Adventure", "Drama"}, m.Genres)
	assert.Equal(t, []string{"Denis Villeneuve"}, m.Directors)
	assert.Len(t, m.Cast, 3)
	assert.Empty(t, m.Poster)

	calls := f.calls.Load()
	again, err := svc.Lookup(ctx, " dune ", 2021)
	require.NoError(t, err)
	assert.Equal(t, m, again)
	assert.Equal(t, calls, f.calls.Load(), "second lookup served from cache")
}

func TestLookupAmbiguousWithoutYear(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, &fakeOMDb{}, nil)
	_, err := svc.Lookup(context.Background(), "Dune", 0)
	require.ErrorIs(t, err, ErrAmbiguous)
}

func TestLookupNotFoundIsNotRetried(t *testing.T) {
	t.Parallel()
	f := &fakeOMDb{}
	svc := newTestService(t, f, nil)
	_, err := svc.Lookup(context.Background(), "Nope", 0)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestLookupRetriesServerErrors(t *testing.T) {
	t.Parallel()
	f := &fakeOMDb{failFirst: 2}
	svc := newTestService(t, f, nil)
	cands, err := svc.Search(context.Background(), "Dune")
	require.NoError(t, err)
	assert.Len(t, cands, 2)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestLookupGivesUpAfterRetries(t *testing.T) {
	t.Parallel()
	f := &fakeOMDb{failFirst: 10}
	svc := newTestService(t, f, nil)
	_, err := svc.Search(context.Background(), "Dune")
	require.Error(t, err)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestMemoryCacheExpiryAndBound(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Minute, 2)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", movie.Metadata{Title: "A"}))
	now = now.Add(time.Second)
	require.NoError(t, c.Set(ctx, "b", movie.Metadata{Title: "B"}))
	require.NoError(t, c.Set(ctx, "c", movie.Metadata{Title: "C"}))
	assert.Equal(t, 2, c.Len())
	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok, "oldest entry evicted")

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx, "b")
	assert.False(t, ok, "expired")
}

func TestParseHelpers(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 2019, parseYear("2019–2022"))
	assert.Equal(t, 0, parseYear("N/A"))
	assert.Equal(t, []string{"a", "b"}, splitList("a, b, c", 2))
	assert.Nil(t, splitList("N/A", 0))
}

func TestLookupWithoutAPIKeyIsDisabled(t *testing.T) {
	t.Parallel()
	svc := New(Config{BaseURL: "http://127.0.0.1:1/"}, nil, logx.Nop())
	_, err := svc.Lookup(context.Background(), "Heat", 1995)
	require.ErrorIs(t, err, ErrDisabled)
}
