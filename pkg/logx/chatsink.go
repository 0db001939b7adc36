package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sender delivers one rendered log record to a chat.
type Sender interface {
	SendLog(ctx context.Context, chatID int64, threadID int, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, chatID int64, threadID int, text string) error

func (f SenderFunc) SendLog(ctx context.Context, chatID int64, threadID int, text string) error {
	return f(ctx, chatID, threadID, text)
}

const (
	chatQueueSize   = 128
	chatMaxLen      = 3500
	chatSendTimeout = 10 * time.Second
)

type chatItem struct {
	chatID   int64
	threadID int
	text     string
}

// chatSink is a zerolog.LevelWriter that hands records to a background
// sender. Writes never block: over-limit or overflow records are counted
// and dropped.
type chatSink struct {
	sender Sender
	queue  chan chatItem

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter

	once    sync.Once
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

func newChatSink(sender Sender) *chatSink {
	return &chatSink{
		sender:   sender,
		queue:    make(chan chatItem, chatQueueSize),
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
	}
}

func (c *chatSink) setTarget(chatID int64, threadID int) {
	c.mu.Lock()
	c.chatID = chatID
	c.threadID = threadID
	c.mu.Unlock()
}

func (c *chatSink) configure(cfg ChatConfig) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	c.mu.Lock()
	c.minLevel = ParseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()

	c.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.run(ctx)
		}()
	})
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *chatSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-c.queue:
			sctx, cancel := context.WithTimeout(ctx, chatSendTimeout)
			if err := c.sender.SendLog(sctx, it.chatID, it.threadID, it.text); err != nil {
				fmt.Fprintf(Stderr(), "logx: chat sink: %v\n", err)
			}
			cancel()
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) {
	return c.WriteLevel(zerolog.InfoLevel, p)
}

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	chatID, threadID, minLevel, lim := c.chatID, c.threadID, c.minLevel, c.limiter
	c.mu.Unlock()

	if chatID == 0 || c.sender == nil || level < minLevel {
		return len(p), nil
	}
	if !lim.Allow() {
		c.dropped.Add(1)
		return len(p), nil
	}
	text := formatChatRecord(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case c.queue <- chatItem{chatID: chatID, threadID: threadID, text: text}:
	default:
		c.dropped.Add(1)
	}
	return len(p), nil
}

// formatChatRecord renders a zerolog JSON line as "[LEVEL] message" followed
// by sorted "- key=value" lines.
func formatChatRecord(p []byte) string {
	p = bytes.TrimSpace(p)
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(string(p), chatMaxLen)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", zerolog.MessageFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(m[k])
		if k == "stack" {
			b.WriteString("\n- stack=\n" + truncate(v, 900))
			continue
		}
		b.WriteString("\n- " + k + "=" + truncate(v, 600))
	}
	return truncate(b.String(), chatMaxLen)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
