package router

import (
	"strings"
	"unicode"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const ridAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func newReqID() string {
	id, err := gonanoid.Generate(ridAlphabet, 10)
	if err != nil {
		return "norid"
	}
	return id
}

// splitCommand recognizes "<prefix>word[@bot] rest". Commands addressed to
// another bot are rejected when botName is known.
func splitCommand(text, prefix, botName string) (word, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", "", false
	}
	text = text[len(prefix):]
	head, rest := nextToken(text)
	if head == "" {
		return "", "", false
	}
	if at := strings.IndexByte(head, '@'); at >= 0 {
		target := strings.ToLower(head[at+1:])
		head = head[:at]
		if botName != "" && target != "" && target != botName {
			return "", "", false
		}
	}
	if head == "" {
		return "", "", false
	}
	return head, rest, true
}

// nextToken returns the first whitespace-delimited token of s and the rest.
func nextToken(s string) (tok, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}

// tokenize splits on whitespace. Double quotes group words ("The Thing")
// and backslash escapes the next character; apostrophes are literal so
// titles like Schindler's List survive.
func tokenize(s string) []string {
	var (
		out    []string
		buf    strings.Builder
		inQ    bool
		esc    bool
		quoted bool
	)
	flush := func() {
		if buf.Len() > 0 || quoted {
			out = append(out, buf.String())
			buf.Reset()
		}
		quoted = false
	}
	for _, r := range s {
		switch {
		case esc:
			buf.WriteRune(r)
			esc = false
		case r == '\\':
			esc = true
		case r == '"' || r == '“' || r == '”':
			inQ = !inQ
			quoted = true
		case unicode.IsSpace(r) && !inQ:
			flush()
		default:
			buf.WriteRune(r)
		}
	}
	flush()
	return out
}
