package router

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	rtsup "movieclub/internal/runtime/supervisor"
	kit "movieclub/internal/transport"
	logx "movieclub/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeMessenger struct {
	mu   sync.Mutex
	msgs []sent
	ch   chan sent
}

func newFakeMessenger() *fakeMessenger { return &fakeMessenger{ch: make(chan sent, 16)} }

func (f *fakeMessenger) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.msgs = append(f.msgs, sent{to, text})
	f.mu.Unlock()
	f.ch <- sent{to, text}
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeMessenger) next(t *testing.T) sent {
	t.Helper()
	select {
	case s := <-f.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("no message sent")
		return sent{}
	}
}

func TestTokenize(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want []string
	}{
		{`Dune 2021`, []string{"Dune", "2021"}},
		{`"The Thing" 1982`, []string{"The Thing", "1982"}},
		{`Schindler's List`, []string{"Schindler's", "List"}},
		{`“Curly quotes” ok`, []string{"Curly quotes", "ok"}},
		{`a\ b ""`, []string{"a b", ""}},
		{`   `, nil},
	}
	for _, tc := range cases {
		if got := tokenize(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("tokenize(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()
	cases := []struct {
		text, prefix, bot string
		word, rest        string
		ok                bool
	}{
		{"/pick Dune 2021", "/", "", "pick", " Dune 2021", true},
		{"/pick@ClubBot Dune", "/", "clubbot", "pick", " Dune", true},
		{"/pick@OtherBot Dune", "/", "clubbot", "", "", false},
		{"!rate 3 8", "!", "", "rate", " 3 8", true},
		{"hello", "/", "", "", "", false},
		{"/", "/", "", "", "", false},
	}
	for _, tc := range cases {
		w, r, ok := splitCommand(tc.text, tc.prefix, tc.bot)
		if w != tc.word || r != tc.rest || ok != tc.ok {
			t.Fatalf("splitCommand(%q)=(%q,%q,%v)", tc.text, w, r, ok)
		}
	}
}

func newTestRouter(m kit.Messenger) *Router {
	r := New(logx.Nop(), m, nil, rtsup.NewRegistry(), Options{Owners: []int64{1}, Workers: 2, BotUsername: "clubbot"})
	noop := func(context.Context, *Request) error { return nil }
	r.SetRegistry(context.Background(), []Command{
		{Route: "pick", Aliases: []string{"p"}, Description: "pick a movie", Handle: noop},
		{Route: "admin stats", Description: "club stats", Access: AccessOwnerOnly, Handle: noop},
		{Route: "admin reset", Access: AccessOwnerOnly, Handle: noop},
	})
	return r
}

func TestResolve(t *testing.T) {
	t.Parallel()
	r := newTestRouter(newFakeMessenger())

	req, cmd, ok := r.resolve(kit.Message{Text: `/P "The Thing" 1982`, FromUsername: "alice"})
	if !ok || cmd == nil || cmd.Route != "pick" {
		t.Fatalf("alias not resolved: %v %+v", ok, cmd)
	}
	if !reflect.DeepEqual(req.Args, []string{"The Thing", "1982"}) || req.Text != `"The Thing" 1982` || req.ReqID == "" {
		t.Fatalf("request=%+v", req)
	}

	_, cmd, _ = r.resolve(kit.Message{Text: "/admin stats"})
	if cmd == nil || cmd.Route != "admin stats" {
		t.Fatalf("subcommand not resolved: %+v", cmd)
	}
	_, cmd, _ = r.resolve(kit.Message{Text: "/admin_stats"})
	if cmd == nil || cmd.Route != "admin stats" {
		t.Fatalf("menu alias not resolved: %+v", cmd)
	}
	_, cmd, ok = r.resolve(kit.Message{Text: "/nope"})
	if !ok || cmd != nil {
		t.Fatalf("unknown command should resolve to nil")
	}
	if _, _, ok = r.resolve(kit.Message{Text: "just chatting"}); ok {
		t.Fatalf("plain text must be ignored")
	}
}

func TestRouteRefusesNonOwner(t *testing.T) {
	t.Parallel()
	m := newFakeMessenger()
	r := newTestRouter(m)
	r.Route(context.Background(), kit.Message{Text: "/admin reset", FromID: 2, ChatID: 9})
	if got := m.next(t); !strings.Contains(got.text, "admins only") || got.to.ChatID != 9 {
		t.Fatalf("got %+v", got)
	}
}

func TestDispatchRunsHandlersAndRepliesErrors(t *testing.T) {
	t.Parallel()
	m := newFakeMessenger()
	reg := rtsup.NewRegistry()
	r := New(logx.Nop(), m, nil, reg, Options{Workers: 1})
	r.SetRegistry(context.Background(), []Command{
		{Route: "echo", Handle: func(ctx context.Context, req *Request) error {
			return req.Replyf(ctx, "hi %s: %s", req.From, req.Text)
		}},
		{Route: "bad", Handle: func(context.Context, *Request) error { return Userf("score must be 1-10") }},
		{Route: "boom", Handle: func(context.Context, *Request) error { return errors.New("db down") }},
	})

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan kit.Message, 4)
	done := make(chan error, 1)
	go func() { done <- r.DispatchLoop(ctx, in) }()

	in <- kit.Message{Text: "/echo <b>x</b>", FromUsername: "bob"}
	if got := m.next(t); got.text != "hi bob: &lt;b&gt;x&lt;/b&gt;" {
		t.Fatalf("echo=%q", got.text)
	}
	in <- kit.Message{Text: "/bad"}
	if got := m.next(t); !strings.Contains(got.text, "score must be 1-10") {
		t.Fatalf("user error=%q", got.text)
	}
	in <- kit.Message{Text: "/boom"}
	if got := m.next(t); !strings.Contains(got.text, "Something went wrong") || strings.Contains(got.text, "db down") {
		t.Fatalf("internal error=%q", got.text)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("dispatch loop did not stop")
	}
	if len(reg.Names()) != 0 {
		t.Fatalf("router supervisor still registered")
	}
}

func TestHelpAndMenu(t *testing.T) {
	t.Parallel()
	r := newTestRouter(newFakeMessenger())

	top := r.helpText(nil)
	if !strings.Contains(top, "/pick") || !strings.Contains(top, "Admin") {
		t.Fatalf("top help=%q", top)
	}
	if h := r.helpText([]string{"p"}); !strings.Contains(h, "pick a movie") {
		t.Fatalf("alias help=%q", h)
	}
	if h := r.helpText([]string{"admin", "stats"}); !strings.Contains(h, "Admins only") {
		t.Fatalf("sub help=%q", h)
	}

	r.mu.RLock()
	root := r.root
	r.mu.RUnlock()
	menu := buildMenu(root, []Command{
		{Route: "pick", Description: "pick a movie", Handle: func(context.Context, *Request) error { return nil }},
		{Route: "admin stats", Access: AccessOwnerOnly, Handle: func(context.Context, *Request) error { return nil }},
	})
	names := make([]string, len(menu))
	for i, c := range menu {
		names[i] = c.Command
	}
	if names[0] != "help" && names[0] != "pick" {
		t.Fatalf("public commands must come first: %v", names)
	}
	if !strings.HasPrefix(menu[len(menu)-1].Description, "🔒") {
		t.Fatalf("admin commands last: %+v", menu)
	}
}

func TestSanitizeMenuName(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"setup rotation":  "setup_rotation",
		"My-Stats":        "my_stats",
		"__x__":           "x",
		"9lives":          "",
		strings.Repeat("a", 40): strings.Repeat("a", 32),
	}
	for in, want := range cases {
		if got := sanitizeMenuName(in); got != want {
			t.Fatalf("sanitizeMenuName(%q)=%q want %q", in, got, want)
		}
	}
}
