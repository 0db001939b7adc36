package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	logx "movieclub/pkg/logx"
)

func TestSplitTextShortIsUntouched(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("a", 30)
	s := strings.Join([]string{line, line, line, line}, "\n")
	got := splitText(s, 70, "")
	if len(got) < 2 {
		t.Fatalf("expected several chunks, got %d", len(got))
	}
	for i, c := range got {
		if n := utf8.RuneCountInString(c); n > 70 {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d has stray newline: %q", i, c)
		}
	}
	if strings.Join(got, "\n") != s {
		t.Fatalf("chunks do not reassemble the input")
	}
}

func TestSplitTextKeepsHTMLTagsWhole(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("x", 18) + "<b>bold</b>" + strings.Repeat("y", 20)
	got := splitText(s, 20, "HTML")
	for i, c := range got {
		if strings.Count(c, "<") != strings.Count(c, ">") {
			t.Fatalf("chunk %d splits a tag: %q", i, c)
		}
	}
}

func TestToMessage(t *testing.T) {
	t.Parallel()
	m := toMessage(&tele.Message{
		ID:       7,
		ThreadID: 3,
		Text:     "/pick Dune",
		Chat:     &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
		Sender:   &tele.User{ID: 42, Username: "Alice", FirstName: "Alice", LastName: "Liddell"},
	})
	if m.ChatID != -100 || m.ThreadID != 3 || m.FromID != 42 || m.Private {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.Sender() != "Alice" || m.FromName != "Alice Liddell" {
		t.Fatalf("unexpected sender: %+v", m)
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatalf("expected error for empty token")
	}
	a, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop())
	if err != nil {
		t.Fatalf("offline adapter: %v", err)
	}
	if a.Supervisor() != nil {
		t.Fatalf("supervisor should be nil before Start")
	}
}
