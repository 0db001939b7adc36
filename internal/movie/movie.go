// Package movie holds the canonical movie record shared by lookup and storage.
package movie

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxTitleLen = 200
	MinYear     = 1800
	MaxYear     = 2100
)

var ErrInvalid = errors.New("invalid movie")

// Metadata is the snapshot stored with a pick.
type Metadata struct {
	Title     string   `json:"title"`
	Year      int      `json:"year,omitempty"`
	IMDbID    string   `json:"imdb_id,omitempty"`
	Genres    []string `json:"genres,omitempty"`
	Rating    float64  `json:"rating,omitempty"`
	Runtime   int      `json:"runtime,omitempty"` // minutes
	Directors []string `json:"directors,omitempty"`
	Cast      []string `json:"cast,omitempty"`
	Plot      string   `json:"plot,omitempty"`
	Poster    string   `json:"poster,omitempty"`
}

// Normalize trims text fields in place.
func (m *Metadata) Normalize() {
	m.Title = strings.TrimSpace(m.Title)
	m.IMDbID = strings.TrimSpace(m.IMDbID)
	m.Plot = strings.TrimSpace(m.Plot)
	m.Poster = strings.TrimSpace(m.Poster)
}

// Validate checks title length and the year range. Year 0 means unknown.
func (m Metadata) Validate() error {
	title := strings.TrimSpace(m.Title)
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if n := utf8.RuneCountInString(title); n > MaxTitleLen {
		return fmt.Errorf("%w: title is %d characters (max %d)", ErrInvalid, n, MaxTitleLen)
	}
	if m.Year != 0 && (m.Year < MinYear || m.Year > MaxYear) {
		return fmt.Errorf("%w: year must be between %d and %d (got %d)", ErrInvalid, MinYear, MaxYear, m.Year)
	}
	return nil
}

// Label renders "Title (Year)".
func (m Metadata) Label() string {
	if m.Year > 0 {
		return fmt.Sprintf("%s (%d)", m.Title, m.Year)
	}
	return m.Title
}
