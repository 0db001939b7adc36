package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"movieclub/internal/movie"
	logx "movieclub/pkg/logx"
)

const maxBodyBytes = 1 << 20

var errUnauthorized = errors.New("lookup: api key rejected")

// omdbClient talks to an OMDb-compatible API.
type omdbClient struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	maxRetries int
	backoff    time.Duration
	log        logx.Logger
}

type omdbSearchItem struct {
	Title  string `json:"Title"`
	Year   string `json:"Year"`
	IMDbID string `json:"imdbID"`
	Type   string `json:"Type"`
	Poster string `json:"Poster"`
}

type omdbSearch struct {
	Search   []omdbSearchItem `json:"Search"`
	Response string           `json:"Response"`
	Error    string           `json:"Error"`
}

type omdbDetail struct {
	Title      string `json:"Title"`
	Year       string `json:"Year"`
	Runtime    string `json:"Runtime"`
	Genre      string `json:"Genre"`
	Director   string `json:"Director"`
	Actors     string `json:"Actors"`
	Plot       string `json:"Plot"`
	Poster     string `json:"Poster"`
	IMDbRating string `json:"imdbRating"`
	IMDbID     string `json:"imdbID"`
	Response   string `json:"Response"`
	Error      string `json:"Error"`
}

func (c *omdbClient) search(ctx context.Context, query string) ([]Candidate, error) {
	var out omdbSearch
	q := url.Values{"s": {query}, "type": {"movie"}}
	if err := c.get(ctx, q, &out); err != nil {
		return nil, err
	}
	cands := make([]Candidate, 0, len(out.Search))
	for _, it := range out.Search {
		cands = append(cands, Candidate{
			Title:  strings.TrimSpace(it.Title),
			Year:   parseYear(it.Year),
			IMDbID: it.IMDbID,
		})
	}
	return cands, nil
}

func (c *omdbClient) detail(ctx context.Context, imdbID string) (movie.Metadata, error) {
	var d omdbDetail
	if err := c.get(ctx, url.Values{"i": {imdbID}, "plot": {"short"}}, &d); err != nil {
		return movie.Metadata{}, err
	}
	m := movie.Metadata{
		Title:     strings.TrimSpace(d.Title),
		Year:      parseYear(d.Year),
		IMDbID:    d.IMDbID,
		Genres:    splitList(d.Genre, 0),
		Directors: splitList(d.Director, 0),
		Cast:      splitList(d.Actors, 5),
		Plot:      na(d.Plot),
		Poster:    na(d.Poster),
	}
	if r, err := strconv.ParseFloat(d.IMDbRating, 64); err == nil {
		m.Rating = r
	}
	if rt, _, ok := strings.Cut(d.Runtime, " "); ok {
		m.Runtime, _ = strconv.Atoi(rt)
	}
	return m, nil
}

// get performs one API call with retries. Not-found and auth failures are
// final; transport errors and 5xx are retried with linear backoff.
func (c *omdbClient) get(ctx context.Context, q url.Values, dst any) error {
	if strings.TrimSpace(c.apiKey) == "" {
		return ErrDisabled
	}
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.log.Debug("retrying lookup", logx.Int("attempt", attempt), logx.Int("max_retries", c.maxRetries), logx.Err(lastErr))
			if err := sleepCtx(ctx, time.Duration(attempt)*c.backoff); err != nil {
				return err
			}
		}
		err := c.do(ctx, q, dst)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrNotFound) || errors.Is(err, errUnauthorized) || ctx.Err() != nil {
			return err
		}
	}
	c.log.Warn("lookup failed", logx.Int("attempts", c.maxRetries+1), logx.Err(lastErr))
	return lastErr
}

func (c *omdbClient) do(ctx context.Context, q url.Values, dst any) error {
	q = cloneValues(q)
	q.Set("apikey", c.apiKey)
	u := c.baseURL
	if strings.Contains(u, "?") {
		u += "&" + q.Encode()
	} else {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("lookup: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("lookup: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return errUnauthorized
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("lookup: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("lookup: read body: %w", err)
	}
	var env struct {
		Response string `json:"Response"`
		Error    string `json:"Error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("lookup: decode response: %w", err)
	}
	if strings.EqualFold(env.Response, "false") {
		msg := strings.ToLower(env.Error)
		switch {
		case strings.Contains(msg, "not found"), strings.Contains(msg, "incorrect imdb id"):
			return ErrNotFound
		case strings.Contains(msg, "api key"):
			return errUnauthorized
		default:
			return fmt.Errorf("lookup: api error: %s", env.Error)
		}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("lookup: decode response: %w", err)
	}
	return nil
}

// parseYear reads the leading four digits ("2019", "2019–2022").
func parseYear(s string) int {
	s = strings.TrimSpace(s)
	if len(s) < 4 {
		return 0
	}
	y, err := strconv.Atoi(s[:4])
	if err != nil {
		return 0
	}
	return y
}

func splitList(s string, limit int) []string {
	s = na(s)
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func na(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "N/A") {
		return ""
	}
	return s
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
