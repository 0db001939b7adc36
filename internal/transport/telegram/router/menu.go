package router

import (
	"sort"
	"strings"

	kit "movieclub/internal/transport"
)

const (
	menuNameMax = 32
	menuDescMax = 256
	menuMax     = 100
)

// sanitizeMenuName maps s onto Telegram's command alphabet [a-z0-9_]{1,32}.
func sanitizeMenuName(s string) string {
	var b strings.Builder
	under := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			under = false
		case r == '_' || r == '-' || r == ' ' || r == '/':
			if b.Len() > 0 && !under {
				b.WriteByte('_')
				under = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > menuNameMax {
		out = strings.TrimRight(out[:menuNameMax], "_")
	}
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		return ""
	}
	return out
}

// menuName joins a route with underscores: ["admin","stats"] -> "admin_stats".
func menuName(route []string) (string, bool) {
	name := sanitizeMenuName(strings.Join(route, "_"))
	return name, name != ""
}

// buildMenu lists public commands first, then admin ones, each sorted.
func buildMenu(root *cmdNode, cmds []Command) []kit.BotCommand {
	type entry struct {
		kit.BotCommand
		admin bool
	}
	seen := map[string]bool{}
	var entries []entry
	add := func(name, desc string, admin bool) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		desc = strings.ReplaceAll(strings.TrimSpace(desc), "\n", " ")
		if desc == "" {
			desc = name
		}
		if admin {
			desc = "🔒 " + desc
		}
		if len(desc) > menuDescMax {
			desc = desc[:menuDescMax]
		}
		entries = append(entries, entry{BotCommand: kit.BotCommand{Command: name, Description: desc}, admin: admin})
	}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		if name, ok := menuName(route); ok {
			add(name, c.Description, c.Access == AccessOwnerOnly)
		}
	}
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		add(sanitizeMenuName(name), describe(n), n.ownerOnly())
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].admin != entries[j].admin {
			return !entries[i].admin
		}
		return entries[i].Command < entries[j].Command
	})
	out := make([]kit.BotCommand, 0, min(len(entries), menuMax))
	for _, e := range entries {
		if len(out) == menuMax {
			break
		}
		out = append(out, e.BotCommand)
	}
	return out
}
