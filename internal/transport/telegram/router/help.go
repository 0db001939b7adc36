package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders help in Telegram HTML. An empty path lists everything.
func (r *Router) helpText(path []string) string {
	r.mu.RLock()
	root, alias, prefix := r.root, r.alias, r.prefix
	r.mu.RUnlock()

	if len(path) == 0 {
		return helpTop(root, prefix)
	}
	first := strings.ToLower(strings.TrimPrefix(path[0], prefix))
	if leaf := alias[first]; leaf != nil && leaf.cmd != nil {
		return helpNode(leaf, splitRoute(leaf.cmd.Route), prefix)
	}
	cur := root
	full := make([]string, 0, len(path))
	for i, p := range path {
		if i == 0 {
			p = first
		}
		n, ok := cur.child(strings.ToLower(p))
		if !ok {
			return "❓ Unknown command. Send <code>" + html.EscapeString(prefix) + "help</code> for the list."
		}
		cur = n
		full = append(full, n.name)
	}
	return helpNode(cur, full, prefix)
}

func helpTop(root *cmdNode, prefix string) string {
	type row struct {
		name, desc string
		admin      bool
	}
	var rows []row
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		rows = append(rows, row{name: name, desc: describe(n), admin: n.ownerOnly()})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].admin != rows[j].admin {
			return !rows[i].admin
		}
		return rows[i].name < rows[j].name
	})

	lines := []string{"🎬 <b>Movie club commands</b>"}
	adminHeader := false
	for _, rw := range rows {
		if rw.admin && !adminHeader {
			lines = append(lines, "", "🔒 <b>Admin</b>")
			adminHeader = true
		}
		line := "• <code>" + html.EscapeString(prefix+rw.name) + "</code>"
		if rw.desc != "" {
			line += " - " + html.EscapeString(rw.desc)
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", "Send <code>"+html.EscapeString(prefix)+"help &lt;command&gt;</code> for details.")
	return strings.Join(lines, "\n")
}

func helpNode(n *cmdNode, full []string, prefix string) string {
	lines := []string{"📖 <code>" + html.EscapeString(prefix+strings.Join(full, " ")) + "</code>"}
	if n.cmd != nil {
		c := n.cmd
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
		if c.Access == AccessOwnerOnly {
			lines = append(lines, "🔒 <i>Admins only</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
		}
		if len(c.Aliases) > 0 {
			as := make([]string, 0, len(c.Aliases))
			for _, a := range c.Aliases {
				as = append(as, "<code>"+html.EscapeString(prefix+a)+"</code>")
			}
			lines = append(lines, "", "<b>Aliases</b> "+strings.Join(as, ", "))
		}
	}
	if len(n.children) > 0 {
		lines = append(lines, "", "<b>Subcommands</b>")
		for _, name := range n.childNames() {
			c, _ := n.child(name)
			line := "• <code>" + html.EscapeString(prefix+strings.Join(append(append([]string(nil), full...), name), " ")) + "</code>"
			if d := describe(c); d != "" {
				line += " - " + html.EscapeString(d)
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func describe(n *cmdNode) string {
	if n == nil {
		return ""
	}
	if n.cmd != nil && strings.TrimSpace(n.cmd.Description) != "" {
		return strings.TrimSpace(n.cmd.Description)
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	if len(kids) > 3 {
		return strings.Join(kids[:3], ", ") + ", …"
	}
	return strings.Join(kids, ", ")
}
