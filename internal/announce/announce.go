// Package announce posts rotation milestones to the club chat on a cron
// schedule: a new period (and its picker) and the opening of the next
// picker's early access window.
//
// Everything is derived from the scheduler on each tick. The only state is
// the in-memory cursor of what was last announced, seeded at start so a
// restart does not repeat announcements.
package announce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"movieclub/internal/club"
	"movieclub/internal/config"
	kit "movieclub/internal/transport"
	logx "movieclub/pkg/logx"
	"movieclub/pkg/tgui"
)

// StatusSource is the slice of the club service the announcer reads.
type StatusSource interface {
	Status(ctx context.Context) (club.Status, error)
}

type Config struct {
	Enabled  bool
	Spec     string
	Location *time.Location
	Target   kit.ChatTarget
}

type Service struct {
	src       StatusSource
	messenger kit.Messenger
	log       logx.Logger
	limiter   *rate.Limiter

	mu   sync.Mutex
	cfg  Config
	c    *cron.Cron
	ctx  context.Context
	stop context.CancelFunc

	// cursor
	seeded      bool
	lastPeriod  int64
	earlyPosted bool
}

func New(cfg Config, src StatusSource, messenger kit.Messenger, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		src:       src,
		messenger: messenger,
		log:       log.With(logx.Component("announce")),
		limiter:   rate.NewLimiter(rate.Every(time.Second), 2),
		cfg:       cfg,
	}
}

// Start registers the cron job when enabled. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx, s.stop = context.WithCancel(ctx)
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if !s.cfg.Enabled {
		s.log.Info("announcements disabled")
		return nil
	}
	if s.cfg.Target.ChatID == 0 {
		s.log.Warn("announcements enabled without a group chat; skipping")
		return nil
	}
	loc := s.cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithParser(config.CronParser), cron.WithLocation(loc))
	ctx := s.ctx
	if _, err := c.AddFunc(s.cfg.Spec, func() {
		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("announcement tick failed", logx.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("announce: bad cron %q: %w", s.cfg.Spec, err)
	}
	s.c = c
	c.Start()
	s.log.Info("announcer started", logx.String("cron", s.cfg.Spec), logx.String("tz", loc.String()))
	return nil
}

// detachLocked hands the running cron to the caller, who must stop it
// after releasing s.mu: a running tick may be waiting for the lock.
func (s *Service) detachLocked() *cron.Cron {
	c := s.c
	s.c = nil
	return c
}

func waitStopped(ctx context.Context, c *cron.Cron) {
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply swaps the config, restarting the cron when the schedule changed.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	if s.ctx == nil || (old.Enabled == cfg.Enabled && old.Spec == cfg.Spec &&
		old.Location.String() == cfg.Location.String() && old.Target == cfg.Target) {
		s.mu.Unlock()
		return
	}
	prev := s.detachLocked()
	if err := s.startLocked(); err != nil {
		s.log.Warn("announcer restart failed", logx.Err(err))
	}
	s.mu.Unlock()
	waitStopped(context.Background(), prev)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.detachLocked()
	if s.stop != nil {
		s.stop()
	}
	s.mu.Unlock()
	waitStopped(ctx, c)
}

// Tick compares the current status with the cursor and posts what changed.
func (s *Service) Tick(ctx context.Context) error {
	st, err := s.src.Status(ctx)
	if errors.Is(err, club.ErrNotConfigured) || errors.Is(err, club.ErrEmptyRotation) || errors.Is(err, club.ErrInvalidConfig) {
		s.mu.Lock()
		s.seeded = false
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	target := s.cfg.Target
	var posts []string
	switch {
	case !s.seeded:
		s.seeded = true
		s.lastPeriod = st.Period
		s.earlyPosted = st.EarlyAccess
	case st.Period != s.lastPeriod:
		s.lastPeriod = st.Period
		s.earlyPosted = false
		posts = append(posts, newPeriodText(st))
	}
	if st.EarlyAccess && !s.earlyPosted && st.Next.ID != st.Current.ID {
		s.earlyPosted = true
		if st.NextPick == nil {
			posts = append(posts, earlyAccessText(st))
		}
	}
	s.mu.Unlock()

	for _, p := range posts {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := s.messenger.SendText(ctx, target, p, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
			return err
		}
		s.log.Info("announcement posted", logx.Int64("period", st.Period))
	}
	return nil
}

func newPeriodText(st club.Status) string {
	cur := tgui.Handle(st.Current.ID, st.Current.Name)
	lines := []tgui.H{
		tgui.Hf("🎬 %s (%s → %s)",
			tgui.B(fmt.Sprintf("Period %d has started", club.DisplayPeriod(st.Period))),
			st.Start.Format("Jan 2"), st.End.Add(-time.Nanosecond).Format("Jan 2")),
	}
	if st.CurrentPick != nil {
		lines = append(lines, tgui.Hf("%s picked %s. Enjoy!", cur, tgui.B(st.CurrentPick.Movie.Label())))
	} else {
		lines = append(lines, tgui.Hf("It's %s's turn to pick. Use %s.", cur, "/pick <title> [year]"))
	}
	next := tgui.Handle(st.Next.ID, st.Next.Name)
	switch {
	case st.Next.ID == "" || st.Next.ID == st.Current.ID:
	case st.EarlyOpens.Before(st.End):
		lines = append(lines, tgui.Hf("Up next: %s (early access from %s).", next, st.EarlyOpens.Format("Jan 2")))
	default:
		lines = append(lines, tgui.Hf("Up next: %s.", next))
	}
	return tgui.JoinH("\n", lines...).String()
}

func earlyAccessText(st club.Status) string {
	return tgui.Hf("⏰ %s, your early access is open: you can pick the movie for period %d now with /pick.",
		tgui.Handle(st.Next.ID, st.Next.Name), club.DisplayPeriod(st.Period+1)).String()
}
