// Package lookup resolves a title (and optional year) to movie metadata
// through an OMDb-compatible API, with caching.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"

	"movieclub/internal/movie"
	logx "movieclub/pkg/logx"
)

var (
	ErrNotFound  = errors.New("movie not found")
	ErrAmbiguous = errors.New("ambiguous movie title")
	ErrDisabled  = errors.New("movie lookup disabled")
)

// YearTolerance is how far a result's year may be from the requested one
// and still count as a near match.
const YearTolerance = 3

// Candidate is one search hit.
type Candidate struct {
	Title  string `json:"title"`
	Year   int    `json:"year,omitempty"`
	IMDbID string `json:"imdb_id,omitempty"`
}

func (c Candidate) Label() string {
	return movie.Metadata{Title: c.Title, Year: c.Year}.Label()
}

// AmbiguousError lists the exact-title matches when no year was given and
// they differ by year. It matches ErrAmbiguous.
type AmbiguousError struct {
	Query      string
	Candidates []Candidate
}

func (e *AmbiguousError) Error() string {
	labels := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		labels[i] = c.Label()
	}
	return fmt.Sprintf("%q matches several movies: %s", e.Query, strings.Join(labels, ", "))
}

func (e *AmbiguousError) Unwrap() error { return ErrAmbiguous }

// Config configures a Service.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	MaxResults int
	// Backoff is the base retry delay; attempt n waits n*Backoff.
	Backoff time.Duration
}

// Service is safe for concurrent use.
type Service struct {
	client     *omdbClient
	cache      Cache
	maxResults int
	log        logx.Logger
}

// New builds a Service. A nil cache disables caching.
func New(cfg Config, cache Cache, log logx.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if cache == nil {
		cache = nopCache{}
	}
	log = log.With(logx.Component("lookup"))
	return &Service{
		client: &omdbClient{
			http:       &http.Client{Timeout: cfg.Timeout},
			baseURL:    cfg.BaseURL,
			apiKey:     cfg.APIKey,
			maxRetries: cfg.MaxRetries,
			backoff:    cfg.Backoff,
			log:        log,
		},
		cache:      cache,
		maxResults: cfg.MaxResults,
		log:        log,
	}
}

func (s *Service) Close() error { return s.cache.Close() }

// Lookup resolves title to full metadata. Year 0 means unknown.
func (s *Service) Lookup(ctx context.Context, title string, year int) (movie.Metadata, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return movie.Metadata{}, fmt.Errorf("%w: empty title", ErrNotFound)
	}
	key := cacheKey(title, year)
	if m, ok, err := s.cache.Get(ctx, key); err != nil {
		s.log.Warn("lookup cache read failed", logx.Err(err))
	} else if ok {
		s.log.Debug("lookup cache hit", logx.String("key", key))
		return m, nil
	}

	cands, err := s.client.search(ctx, title)
	if err != nil {
		return movie.Metadata{}, err
	}
	best, err := BestMatch(title, year, cands)
	if err != nil {
		return movie.Metadata{}, err
	}
	m, err := s.byID(ctx, best.IMDbID)
	if errors.Is(err, ErrNotFound) {
		// search hit without a detail record; keep what the search gave us
		m, err = movie.Metadata{Title: best.Title, Year: best.Year, IMDbID: best.IMDbID}, nil
	}
	if err != nil {
		return movie.Metadata{}, err
	}
	if err := s.cache.Set(ctx, key, m); err != nil {
		s.log.Warn("lookup cache write failed", logx.Err(err))
	}
	s.log.Info("movie resolved",
		logx.String("query", title),
		logx.Int("year", year),
		logx.String("imdb_id", m.IMDbID),
		logx.String("title", m.Label()),
	)
	return m, nil
}

// Search returns up to MaxResults candidates ranked by title similarity.
func (s *Service) Search(ctx context.Context, query string) ([]Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrNotFound)
	}
	cands, err := s.client.search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, ErrNotFound
	}
	ranked := Rank(query, cands)
	if len(ranked) > s.maxResults {
		ranked = ranked[:s.maxResults]
	}
	return ranked, nil
}

// ByID fetches metadata for an IMDb id.
func (s *Service) ByID(ctx context.Context, imdbID string) (movie.Metadata, error) {
	return s.byID(ctx, strings.TrimSpace(imdbID))
}

func (s *Service) byID(ctx context.Context, imdbID string) (movie.Metadata, error) {
	if imdbID == "" {
		return movie.Metadata{}, ErrNotFound
	}
	key := "id:" + strings.ToLower(imdbID)
	if m, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		return m, nil
	}
	m, err := s.client.detail(ctx, imdbID)
	if err != nil {
		return movie.Metadata{}, err
	}
	if err := s.cache.Set(ctx, key, m); err != nil {
		s.log.Warn("lookup cache write failed", logx.Err(err))
	}
	return m, nil
}

// Rank orders candidates by fuzzy title score against query. Candidates the
// matcher rejects keep their API order after the matched ones.
func Rank(query string, cands []Candidate) []Candidate {
	titles := make([]string, len(cands))
	for i, c := range cands {
		titles[i] = c.Title
	}
	out := make([]Candidate, 0, len(cands))
	used := make([]bool, len(cands))
	for _, m := range fuzzy.Find(query, titles) {
		out = append(out, cands[m.Index])
		used[m.Index] = true
	}
	for i, c := range cands {
		if !used[i] {
			out = append(out, c)
		}
	}
	// exact titles always lead, in API order among themselves
	sort.SliceStable(out, func(i, j int) bool {
		return sameTitle(out[i].Title, query) && !sameTitle(out[j].Title, query)
	})
	return out
}

// BestMatch picks one candidate:
//   - with a year: exact year, else the nearest year within YearTolerance,
//     else the best-ranked title;
//   - without a year: the best-ranked title, unless several exact-title
//     matches disagree on the year, which is ambiguous.
func BestMatch(query string, year int, cands []Candidate) (Candidate, error) {
	if len(cands) == 0 {
		return Candidate{}, ErrNotFound
	}
	ranked := Rank(query, cands)

	if year == 0 {
		var exact []Candidate
		years := map[int]bool{}
		for _, c := range ranked {
			if sameTitle(c.Title, query) {
				exact = append(exact, c)
				years[c.Year] = true
			}
		}
		if len(years) > 1 {
			return Candidate{}, &AmbiguousError{Query: query, Candidates: exact}
		}
		return ranked[0], nil
	}

	for _, c := range ranked {
		if c.Year == year {
			return c, nil
		}
	}
	best, bestDiff := Candidate{}, YearTolerance+1
	for _, c := range ranked {
		if c.Year == 0 {
			continue
		}
		if d := abs(c.Year - year); d < bestDiff {
			best, bestDiff = c, d
		}
	}
	if bestDiff <= YearTolerance {
		return best, nil
	}
	return ranked[0], nil
}

func sameTitle(a, b string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " "))
}

func cacheKey(title string, year int) string {
	return fmt.Sprintf("q:%s:%d", strings.ToLower(strings.Join(strings.Fields(title), " ")), year)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
