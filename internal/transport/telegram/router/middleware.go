package router

import (
	"context"
	"errors"
	"fmt"
	"html"
	"runtime/debug"
	"time"

	logx "movieclub/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if v := recover(); v != nil {
					l := log
					if req != nil && !req.Logger.IsZero() {
						l = req.Logger
					}
					l.Error("panic recovered", logx.Any("panic", v), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", v)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			l := log
			if !req.Logger.IsZero() {
				l = req.Logger
			}
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)
			fields := []logx.Field{
				logx.String("from", req.From),
				logx.Int("args", len(req.Args)),
				logx.Duration("dur", d),
			}
			switch {
			case err != nil:
				l.Error("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				l.Info("request ok", fields...)
			default:
				l.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// UserError is shown to the user verbatim (HTML-escaped).
type UserError struct{ Msg string }

func (e *UserError) Error() string { return e.Msg }

func Userf(format string, args ...any) error {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}

// MWErrorReply answers the chat when a handler returns an error. A
// *UserError is echoed; anything else gets a generic message with the
// request id, and the error itself stays in the log.
func MWErrorReply() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil {
				return nil
			}
			var ue *UserError
			if errors.As(err, &ue) {
				_ = req.Reply(context.WithoutCancel(ctx), "⚠️ "+html.EscapeString(ue.Msg))
				return nil
			}
			msg := "Something went wrong"
			if errors.Is(err, context.DeadlineExceeded) {
				msg = "That took too long"
			}
			_ = req.Reply(context.WithoutCancel(ctx), fmt.Sprintf("❌ %s (ref <code>%s</code>).", msg, req.ReqID))
			return err
		}
	}
}
