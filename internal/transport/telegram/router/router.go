// Package router turns incoming chat messages into command invocations:
// tokenizing, route lookup, owner checks, and a bounded worker pool.
package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "movieclub/internal/runtime/supervisor"
	kit "movieclub/internal/transport"
	logx "movieclub/pkg/logx"
	"movieclub/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated path, e.g. "pick" or "admin stats".
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Timeout overrides the router default when > 0.
	Timeout time.Duration
	Handle  HandlerFunc
}

// Request is one command invocation.
type Request struct {
	Msg     kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	From    string // chat username, without "@"
	Command string
	// Args are the tokens after the route; quoted tokens keep their spaces.
	Args []string
	// Text is the untokenized remainder after the route.
	Text  string
	ReqID string

	Messenger kit.Messenger
	Logger    logx.Logger
}

// Reply sends HTML to the request's chat as a reply to the command message.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Messenger.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyTo: r.Msg.ID})
	return err
}

// Replyf formats plain values into an HTML reply, escaping every argument.
func (r *Request) Replyf(ctx context.Context, format string, args ...any) error {
	return r.Reply(ctx, tgui.Hf(format, args...).String())
}

type Options struct {
	Prefix  string
	Workers int
	Timeout time.Duration
	Owners  []int64
	// BotUsername lets "/cmd@bot" be matched only when addressed to us.
	BotUsername string
}

type Router struct {
	mu     sync.RWMutex
	root   *cmdNode
	alias  map[string]*cmdNode
	owners map[int64]bool
	prefix string

	workers int
	timeout time.Duration
	botName string

	log       logx.Logger
	messenger kit.Messenger
	menu      kit.MenuUpdater
	sups      *rtsup.Registry

	jobs chan func(context.Context)
}

const jobQueueCap = 256

// New builds a router. menu may be nil.
func New(log logx.Logger, messenger kit.Messenger, menu kit.MenuUpdater, sups *rtsup.Registry, opt Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	r := &Router{
		root:      newRoot(),
		alias:     map[string]*cmdNode{},
		workers:   opt.Workers,
		timeout:   opt.Timeout,
		botName:   strings.ToLower(strings.TrimPrefix(opt.BotUsername, "@")),
		log:       log.With(logx.Component("router")),
		messenger: messenger,
		menu:      menu,
		sups:      sups,
		jobs:      make(chan func(context.Context), jobQueueCap),
	}
	r.SetPrefix(opt.Prefix)
	r.SetOwners(opt.Owners)
	return r
}

// SetOwners replaces the owner list. Safe during hot-reload.
func (r *Router) SetOwners(owners []int64) {
	m := make(map[int64]bool, len(owners))
	for _, id := range owners {
		m[id] = true
	}
	r.mu.Lock()
	r.owners = m
	r.mu.Unlock()
}

func (r *Router) SetPrefix(prefix string) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "/"
	}
	r.mu.Lock()
	r.prefix = prefix
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owners[id]
}

// SetRegistry installs cmds plus the built-in help command and publishes
// the command menu in the background.
func (r *Router) SetRegistry(ctx context.Context, cmds []Command) {
	cmds = append(cmds, Command{
		Route:       "help",
		Aliases:     []string{"h", "start"},
		Description: "list commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(req.Args))
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		leaf := root.find(route)
		// "/admin_stats" for "admin stats"; the plain single token must not
		// become an alias or it would shadow its own subcommands.
		if name, ok := menuName(route); ok && (len(route) > 1 || name != route[0]) {
			if _, exists := alias[name]; !exists {
				alias[name] = leaf
			}
		}
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.ContainsAny(a, " \t") {
				continue
			}
			alias[a] = leaf
		}
	}

	r.mu.Lock()
	r.root, r.alias = root, alias
	r.mu.Unlock()

	if r.menu == nil {
		return
	}
	menu := buildMenu(root, cmds)
	go func() {
		mctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := r.menu.UpdateMenuCommands(mctx, menu); err != nil {
			r.log.Warn("menu update failed", logx.Err(err))
		}
	}()
}

// DispatchLoop consumes messages until ctx is done or in is closed.
func (r *Router) DispatchLoop(ctx context.Context, in <-chan kit.Message) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	r.sups.Set("router", sup)
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("queue_cap", cap(r.jobs)))

	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					r.runJob(c, idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.sups.Delete("router")
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-in:
			if !ok {
				return nil
			}
			r.Route(ctx, m)
		}
	}
}

func (r *Router) runJob(ctx context.Context, worker int, job func(context.Context)) {
	defer func() {
		if v := recover(); v != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", v), logx.Stack(string(debug.Stack())))
		}
	}()
	job(ctx)
}

// Route resolves m to a command and queues it. Unknown commands get a
// hint; non-command text is ignored.
func (r *Router) Route(ctx context.Context, m kit.Message) {
	req, cmd, ok := r.resolve(m)
	if !ok {
		return
	}
	if cmd == nil {
		_, _ = r.messenger.SendText(ctx, m.Target(), "Unknown command. Try "+r.prefixSnapshot()+"help", nil)
		return
	}
	if cmd.Access == AccessOwnerOnly && !r.isOwner(m.FromID) {
		r.log.Debug("owner-only command refused", logx.String("cmd", cmd.Route), logx.Int64("from_id", m.FromID))
		_, _ = r.messenger.SendText(ctx, m.Target(), "This command is for club admins only.", nil)
		return
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
		MWErrorReply(),
	)
	job := func(c context.Context) { _ = final(c, req) }
	select {
	case r.jobs <- job:
	default:
		r.log.Warn("command queue full", logx.String("cmd", cmd.Route))
		_, _ = r.messenger.SendText(ctx, m.Target(), "Busy, try again in a moment.", nil)
	}
}

func (r *Router) prefixSnapshot() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prefix
}

// resolve parses m. ok is false for text that is not a command for this
// bot; cmd is nil when the command is unknown.
func (r *Router) resolve(m kit.Message) (*Request, *Command, bool) {
	r.mu.RLock()
	prefix, root, alias := r.prefix, r.root, r.alias
	r.mu.RUnlock()

	word, rest, ok := splitCommand(m.Text, prefix, r.botName)
	if !ok {
		return nil, nil, false
	}
	word = strings.ToLower(word)

	node := alias[word]
	path := []string{word}
	if node == nil {
		n, found := root.child(word)
		if !found {
			return nil, nil, true
		}
		node = n
		// walk subcommands
		for {
			tok, tail := nextToken(rest)
			child, found := node.child(strings.ToLower(tok))
			if tok == "" || !found {
				break
			}
			node, rest = child, tail
			path = append(path, strings.ToLower(tok))
		}
	}
	if node.cmd == nil {
		// group without a handler: answer with its help
		c := Command{Route: strings.Join(path, " "), Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(path))
		}}
		node = &cmdNode{cmd: &c}
	}

	cmd := *node.cmd
	rid := newReqID()
	req := &Request{
		Msg:       m,
		Chat:      m.Target(),
		FromID:    m.FromID,
		From:      m.FromUsername,
		Command:   cmd.Route,
		Args:      tokenize(rest),
		Text:      strings.TrimSpace(rest),
		ReqID:     rid,
		Messenger: r.messenger,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.String("cmd", cmd.Route),
			logx.Int64("chat_id", m.ChatID),
			logx.Int64("from_id", m.FromID),
		),
	}
	return req, &cmd, true
}
