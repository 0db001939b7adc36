package club

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxUsernameLen = 50
	MaxNameLen     = 100
)

// RosterEntry is one participant of a setup_rotation roster.
type RosterEntry struct {
	ID   string
	Name string
}

// ParseRoster parses "user:Real Name, user2, @user3:Other" into ordered
// entries. A missing name defaults to the username. Usernames and names
// must be unique (case-insensitive).
func ParseRoster(spec string) ([]RosterEntry, error) {
	var out []RosterEntry
	ids := map[string]bool{}
	names := map[string]bool{}
	for i, raw := range strings.Split(spec, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		user, name, _ := strings.Cut(raw, ":")
		id := NormalizeID(user)
		name = strings.TrimSpace(name)
		if name == "" {
			name = strings.TrimPrefix(strings.TrimSpace(user), "@")
		}
		if err := checkUsername(id); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidRoster, i+1, err)
		}
		if n := utf8.RuneCountInString(name); n > MaxNameLen {
			return nil, fmt.Errorf("%w: entry %d: name is %d characters (max %d)", ErrInvalidRoster, i+1, n, MaxNameLen)
		}
		if ids[id] {
			return nil, fmt.Errorf("%w: duplicate username %q", ErrInvalidRoster, id)
		}
		key := strings.ToLower(name)
		if names[key] {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidRoster, name)
		}
		ids[id], names[key] = true, true
		out = append(out, RosterEntry{ID: id, Name: name})
	}
	if len(out) == 0 {
		return nil, ErrEmptyRoster
	}
	return out, nil
}

func checkUsername(id string) error {
	if id == "" {
		return fmt.Errorf("username is empty")
	}
	if n := utf8.RuneCountInString(id); n > MaxUsernameLen {
		return fmt.Errorf("username is %d characters (max %d)", n, MaxUsernameLen)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || r == ':' {
			return fmt.Errorf("username %q contains %q", id, r)
		}
	}
	return nil
}
