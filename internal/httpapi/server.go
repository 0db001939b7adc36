// Package httpapi serves a small read-only JSON view of the club: health of
// the background tasks, the upcoming schedule and the pick history.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"movieclub/internal/club"
	rtsup "movieclub/internal/runtime/supervisor"
	"movieclub/internal/storage"
	logx "movieclub/pkg/logx"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Source is the slice of the club service the API reads.
type Source interface {
	Status(ctx context.Context) (club.Status, error)
	Schedule(ctx context.Context, count int) ([]club.ScheduleEntry, error)
	History(ctx context.Context, limit int) ([]storage.PickSummary, error)
	TopRated(ctx context.Context, limit int) ([]storage.PickSummary, error)
}

type Server struct {
	src  Source
	sups *rtsup.Registry
	log  logx.Logger
	eng  *gin.Engine
}

func New(src Source, sups *rtsup.Registry, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{src: src, sups: sups, log: log.With(logx.Component("httpapi"))}
	s.eng = s.newRouter()
	return s
}

// Handler exposes the gin engine, mainly for tests.
func (s *Server) Handler() http.Handler { return s.eng }

func (s *Server) newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	eng := gin.New()
	eng.Use(s.recoverMiddleware(), s.logMiddleware())

	eng.GET("/healthz", s.health)
	api := eng.Group("/api")
	api.GET("/schedule", s.schedule)
	api.GET("/picks", s.picks)
	api.GET("/top", s.top)

	eng.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, &ErrorResponse{Code: "NOT_FOUND", Message: "no such endpoint"})
	})
	return eng
}

// Run listens on addr until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.eng, ReadHeaderTimeout: readHeaderTimeout}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("status api listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) recoverMiddleware() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, v any) {
		s.log.Error("http panic recovered", logx.Any("panic", v), logx.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, &ErrorResponse{Code: "INTERNAL", Message: "internal error"})
	})
}

func (s *Server) logMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("dur", time.Since(start)),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, &HealthResponse{Status: "ok", Supervisors: s.sups.Snapshots()})
}

func (s *Server) schedule(c *gin.Context) {
	n, ok := intQuery(c, "periods", club.DefaultSchedulePeek)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	st, err := s.src.Status(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	entries, err := s.src.Schedule(ctx, n)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := ScheduleResponse{
		Now:           st.Now,
		CurrentPeriod: club.DisplayPeriod(st.Period),
		EarlyAccess:   st.EarlyAccess,
		DaysRemaining: st.DaysRemaining,
		Entries:       make([]ScheduleEntry, 0, len(entries)),
	}
	for _, e := range entries {
		se := ScheduleEntry{
			Period: club.DisplayPeriod(e.Period),
			Picker: participantOf(e.Picker),
			Start:  e.Start,
			End:    e.End,
		}
		if e.Pick != nil {
			se.Pick = pickOf(*e.Pick)
		}
		out.Entries = append(out.Entries, se)
	}
	c.JSON(http.StatusOK, &out)
}

func (s *Server) picks(c *gin.Context) {
	s.listPicks(c, s.src.History)
}

func (s *Server) top(c *gin.Context) {
	s.listPicks(c, s.src.TopRated)
}

func (s *Server) listPicks(c *gin.Context, list func(context.Context, int) ([]storage.PickSummary, error)) {
	n, ok := intQuery(c, "limit", club.DefaultListLimit)
	if !ok {
		return
	}
	ps, err := list(c.Request.Context(), n)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := PicksResponse{Picks: make([]Pick, 0, len(ps))}
	for _, p := range ps {
		out.Picks = append(out.Picks, summaryOf(p))
	}
	c.JSON(http.StatusOK, &out)
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, club.ErrNotConfigured), errors.Is(err, club.ErrEmptyRotation):
		c.JSON(http.StatusConflict, &ErrorResponse{Code: "NOT_CONFIGURED", Message: "the rotation is not set up"})
	default:
		s.log.Error("http query failed", logx.String("path", c.FullPath()), logx.Err(err))
		c.JSON(http.StatusInternalServerError, &ErrorResponse{Code: "INTERNAL", Message: "internal error"})
	}
}

func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, &ErrorResponse{Code: "BAD_REQUEST", Message: key + " must be a positive integer"})
		return 0, false
	}
	return n, true
}
