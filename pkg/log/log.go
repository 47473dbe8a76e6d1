// Package log wraps slog.
//
// This is mostly to allow enabling/disabling logs per module:
//
//	l := log.Module("counter")
//	l.Info(ctx, "msg")
//	l.Error(ctx, err)
//	l.Debug(ctx, "msg")
//
// The Debug() calls are hidden by default, and show up if the module is
// enabled with the -debug flag.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"zgo.at/errors"
	"zgo.at/gadget"
	"zgo.at/slog_align"
	"zgo.at/zstd/zdebug"
)

var ctxkey = &struct{ n string }{"log"}

// WithLog returns a context with log attributes.
//
// Previous attributes are kept, so something like this:
//
//	ctx = log.WithLog(ctx, "page", path)
//	ctx = log.WithLog(ctx, "post", id)
//
// Will result in both the page and post attributes. It doesn't check for
// duplicates.
func WithLog(ctx context.Context, attrs ...any) context.Context {
	exist := Get(ctx)
	return context.WithValue(ctx, ctxkey, append(slices.Clip(exist), attrs...))
}

// Get attributes from context.
func Get(ctx context.Context) []any {
	a, ok := ctx.Value(ctxkey).([]any)
	if !ok {
		return nil
	}
	return a
}

// Setup the default logger.
//
// Text output is aligned for terminals and coloured if color is set; with
// asJSON it's one JSON object per line. debug is the list of modules to enable
// debug logs for.
func Setup(w io.Writer, asJSON, color bool, debug []string) {
	SetDebug(debug)

	var h slog.Handler
	if asJSON {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		ah := slog_align.NewAlignedHandler(w, &slog.HandlerOptions{
			Level: slog.LevelDebug,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == "module" {
					return slog.Attr{}
				}
				return a
			},
		})
		ah.SetColor(color)
		h = ah
	}
	slog.SetDefault(slog.New(h))
}

func strOrErr(msg any) (string, []any) {
	switch m := msg.(type) {
	default:
		panic(fmt.Sprintf("log.Error: msg must be string or error, not %T", m))
	case string:
		return m, nil
	case error:
		var (
			attr = []any{"_err", m}
			sErr = new(errors.StackErr)
		)
		if !errors.As(m, &sErr) {
			return m.Error(), attr
		}
		if t := sErr.StackTrace(); t != "" {
			attr = append(attr, "stacktrace", "\n"+t)
		}
		return sErr.Unwrap().Error(), attr
	}
}

var (
	doDebug   []string
	doDebugMu sync.RWMutex
)

func SetDebug(l []string) { doDebugMu.Lock(); defer doDebugMu.Unlock(); doDebug = l }
func HasDebug(module string) bool {
	doDebugMu.RLock()
	defer doDebugMu.RUnlock()
	return !slices.Contains(doDebug, "-"+module) &&
		(slices.Contains(doDebug, module) || slices.Contains(doDebug, "all"))
}

func Module(module string) *Logger                           { return &Logger{module: module} }
func With(args ...any) *Logger                               { return Module("").With(args...) }
func Error(ctx context.Context, msg any, attr ...any)        { Module("").Error(ctx, msg, attr...) }
func Warn(ctx context.Context, msg string, attr ...any)      { Module("").Warn(ctx, msg, attr...) }
func Info(ctx context.Context, msg string, attr ...any)      { Module("").Info(ctx, msg, attr...) }
func Debug(ctx context.Context, msg string, attr ...any)     { Module("").Debug(ctx, msg, attr...) }
func Errorf(ctx context.Context, format string, args ...any) { Module("").Errorf(ctx, format, args...) }
func Warnf(ctx context.Context, format string, args ...any)  { Module("").Warnf(ctx, format, args...) }
func Infof(ctx context.Context, format string, args ...any)  { Module("").Infof(ctx, format, args...) }
func Debugf(ctx context.Context, format string, args ...any) { Module("").Debugf(ctx, format, args...) }

type Logger struct {
	module string
	attr   []any
}

func (l *Logger) With(args ...any) *Logger { l.attr = append(l.attr, args...); return l }

func (l *Logger) Error(ctx context.Context, msg any, attr ...any) {
	if !slog.Default().Enabled(context.Background(), slog.LevelError) {
		return
	}
	logmsg, more := strOrErr(msg)
	l.handle(l.newRecord(ctx, slog.LevelError, logmsg, append(attr, more...)...))
}
func (l *Logger) Errorf(ctx context.Context, format string, args ...any) {
	if !slog.Default().Enabled(context.Background(), slog.LevelError) {
		return
	}
	l.handle(l.newRecord(ctx, slog.LevelError, fmt.Sprintf(format, args...)))
}
func (l *Logger) Warn(ctx context.Context, msg string, attr ...any) {
	if !slog.Default().Enabled(context.Background(), slog.LevelWarn) {
		return
	}
	l.handle(l.newRecord(ctx, slog.LevelWarn, msg, attr...))
}
func (l *Logger) Warnf(ctx context.Context, format string, args ...any) {
	if !slog.Default().Enabled(context.Background(), slog.LevelWarn) {
		return
	}
	l.handle(l.newRecord(ctx, slog.LevelWarn, fmt.Sprintf(format, args...)))
}
func (l *Logger) Info(ctx context.Context, msg string, attr ...any) {
	if !slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		return
	}
	l.handle(l.newRecord(ctx, slog.LevelInfo, msg, attr...))
}
func (l *Logger) Infof(ctx context.Context, format string, args ...any) {
	if !slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		return
	}
	l.handle(l.newRecord(ctx, slog.LevelInfo, fmt.Sprintf(format, args...)))
}
func (l *Logger) Debug(ctx context.Context, msg string, attr ...any) {
	if !HasDebug(l.module) {
		return
	}
	l.handle(l.newRecord(ctx, slog.LevelDebug, msg, attr...))
}
func (l *Logger) Debugf(ctx context.Context, format string, args ...any) {
	if !HasDebug(l.module) {
		return
	}
	l.handle(l.newRecord(ctx, slog.LevelDebug, fmt.Sprintf(format, args...)))
}

func (l *Logger) handle(r slog.Record) {
	err := slog.Default().Handler().Handle(context.Background(), r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger.Handle error: %s\n", err)
	}
}

var now = func() time.Time { return time.Now().UTC() }

func (l *Logger) newRecord(ctx context.Context, level slog.Level, msg string, attr ...any) slog.Record {
	if l.module != "" {
		msg = l.module + ": " + msg
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip [Callers, newRecord, {Error,Info,...}]
	r := slog.NewRecord(now(), level, msg, pcs[0])
	if level == slog.LevelError {
		r.Add("stacktrace", "\n"+string(zdebug.Stack(
			"github.com/go-chi/chi/v5.(*ChainHandler).ServeHTTP",
			"github.com/go-chi/chi/v5.(*Mux).ServeHTTP",
			"github.com/go-chi/chi/v5.(*Mux).routeHTTP",
			"github.com/go-chi/chi/v5/middleware",
			"net/http.(*conn).serve",
			"net/http.HandlerFunc.ServeHTTP",
			"net/http.serverHandler.ServeHTTP",
			"zgo.at/postviews/pkg/log.(*Logger).Error",
			"zgo.at/postviews/pkg/log.(*Logger).Errorf",
			"zgo.at/postviews/pkg/log.(*Logger).newRecord",
			"zgo.at/postviews/pkg/log.Error",
			"zgo.at/postviews/pkg/log.Errorf",
			"zgo.at/zhttp.Wrap",
		)))
	}
	r.Add(l.attr...)
	r.Add(attr...)
	if l.module != "" { // Removed with ReplaceAttr in the aligned handler.
		r.Add("module", l.module)
	}
	if c := Get(ctx); len(c) > 0 {
		r.Add(c...)
	}
	return r
}

// AttrHTTP adds attributes from a HTTP request.
func AttrHTTP(r *http.Request) slog.Attr {
	return slog.Group("http",
		"verb", r.Method,
		"url", r.URL.String(),
		"host", r.Host,
		"ua", gadget.ShortenUA(r.UserAgent()),
	)
}

// Recover from a panic.
//
// Any panics will be recover()'d and reported with Error():
//
//	go func() {
//	    defer log.Recover(ctx)
//	    // ... do work...
//	}()
//
// An optional callback replaces the default error log.
func Recover(ctx context.Context, cb ...func(error)) {
	r := recover()
	if r == nil {
		return
	}

	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("%v", r)
	}
	err = fmt.Errorf("%w\n%s", err, debug.Stack())

	if len(cb) > 0 && cb[0] != nil {
		cb[0](err)
	} else {
		Module("panic").Error(ctx, err)
	}
}
