package tgui

import (
	"strings"
)

// Card collects lines of a message. Plain strings are escaped; use the H
// variants for pre-rendered markup.
type Card struct {
	lines []string
}

func NewCard() *Card { return &Card{} }

// Title adds a bold title, optionally prefixed by an emoji.
func (c *Card) Title(emoji, title string) *Card {
	t := strings.TrimSpace(title)
	if t == "" {
		return c
	}
	line := B(t).String()
	if e := strings.TrimSpace(emoji); e != "" {
		line = Esc(e).String() + " " + line
	}
	c.lines = append(c.lines, line)
	return c
}

func (c *Card) Line(s string) *Card {
	c.lines = append(c.lines, Esc(s).String())
	return c
}

// LineH adds already-safe markup.
func (c *Card) LineH(h H) *Card {
	c.lines = append(c.lines, h.String())
	return c
}

func (c *Card) Blank() *Card {
	if n := len(c.lines); n > 0 && c.lines[n-1] != "" {
		c.lines = append(c.lines, "")
	}
	return c
}

// KV adds a "• key: value" row. Empty values are skipped.
func (c *Card) KV(key, value string) *Card {
	value = strings.TrimSpace(value)
	if value == "" {
		return c
	}
	return c.KVH(key, Esc(value))
}

func (c *Card) KVH(key string, value H) *Card {
	key = strings.TrimSpace(key)
	if key == "" || strings.TrimSpace(value.String()) == "" {
		return c
	}
	c.lines = append(c.lines, "• "+B(key).String()+": "+value.String())
	return c
}

// Bullet adds a "• " row of safe markup.
func (c *Card) Bullet(h H) *Card {
	if strings.TrimSpace(h.String()) == "" {
		return c
	}
	c.lines = append(c.lines, "• "+h.String())
	return c
}

func (c *Card) Len() int { return len(c.lines) }

// String renders the card, trimming blank lines at both ends.
func (c *Card) String() string {
	return strings.Trim(strings.Join(c.lines, "\n"), "\n")
}
