package main

import (
	"context"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"zgo.at/errors"
	"zgo.at/guru"
	"zgo.at/postviews"
	"zgo.at/postviews/pkg/bgrun"
	"zgo.at/postviews/pkg/htmlpage"
	"zgo.at/postviews/pkg/log"
	"zgo.at/postviews/pkg/metrics"
	"zgo.at/zhttp"
	"zgo.at/zli"
	"zgo.at/zstd/zfilepath"
	"zgo.at/zvalidate"
)

const usageServe = `
Serve a directory, with counters displayed in all HTML pages.

This is mostly useful for testing a blog locally; nothing is counted. The
snapshot is kept in memory and reloaded in the background every -reload
interval, or when the process receives SIGHUP. The last good snapshot is kept
if reloading fails.

Routes:

  /views.json             The current snapshot, with Cache-Control: no-store.

  /counter/<post>.json    Count for one post, as:
                              {"count": "1,000", "count_raw": 1000}
                          The response code is 404 for posts that aren't in
                          the snapshot, with a count of "0".

  Everything else is served from -dir; counters in *.html files are set to
  the count in the snapshot.

Flags:

  -listen      Address to listen on. Default: localhost:8080

  -dir         Directory to serve. Default: ./public

  -snapshot    Snapshot with the view counts: a file path or URL. Default:
               views.json in -dir.

  -reload      How often to reload the snapshot, as a duration (e.g. "30s",
               "5m"). Use 0 to only reload on SIGHUP. Default: 1m.

  -locale      Locale for formatting numbers. Default: en.

  -json        Output logs as JSON instead of aligned text.

  -debug       Modules to debug, comma-separated or 'all' for all modules:
               bgrun, counter, serve.
`

func cmdServe(f zli.Flags, ready chan<- struct{}, stop chan struct{}) error {
	var (
		listen   = f.String("localhost:8080", "listen").Pointer()
		dir      = f.String("./public", "dir").Pointer()
		snapshot = f.String("", "snapshot").Pointer()
		reload   = f.String("1m", "reload").Pointer()
		locale   = f.String("en", "locale").Pointer()
		asJSON   = f.Bool(false, "json").Pointer()
		debug    = f.StringList(nil, "debug")
	)
	if err := parseFlags(f); err != nil {
		return err
	}

	return func(listen, dir, snapshot, reload, locale string, asJSON bool, debug []string) error {
		setupLog(asJSON, debug)

		v := zvalidate.New()
		lang := parseLocale(&v, locale)
		every, err := time.ParseDuration(reload)
		if err != nil {
			v.Append("-reload", err.Error())
		} else if every < 0 {
			v.Append("-reload", "must be 0 or more")
		}
		if st, err := os.Stat(dir); err != nil {
			v.Append("-dir", err.Error())
		} else if !st.IsDir() {
			v.Append("-dir", "not a directory")
		}
		if v.HasErrors() {
			return v
		}
		if snapshot == "" {
			snapshot = filepath.Join(dir, postviews.DefaultSnapshot)
		}

		var (
			ctx = context.Background()
			l   = log.Module("serve")
			s   = newServer(postviews.NewSource(snapshot, httpClient()), dir, lang)
			bg  = bgrun.NewRunner(nil)
		)
		if err := s.reload(ctx); err != nil {
			l.Error(ctx, err)
		}
		bg.NewTask("reload", 1, s.reload)

		ch, err := zhttp.Serve(0, stop, &http.Server{
			Addr:        listen,
			Handler:     s.Handler(),
			BaseContext: func(net.Listener) context.Context { return ctx },
		})
		if err != nil {
			return err
		}
		<-ch // Server is set up

		log.Module("startup").Info(ctx, "postviews ready",
			"listen", listen, "dir", dir, "snapshot", snapshot, "reload", every)
		ready <- struct{}{}

		done := make(chan struct{})
		go reloadLoop(ctx, bg, every, done)

		<-ch // Shutdown
		close(done)
		return bg.WaitFor(10*time.Second, "")
	}(*listen, *dir, *snapshot, *reload, *locale, *asJSON, debug.StringsSplit(","))
}

// reloadLoop starts the reload task every interval and on SIGHUP until done is
// closed.
func reloadLoop(ctx context.Context, bg *bgrun.Runner, every time.Duration, done <-chan struct{}) {
	defer log.Recover(ctx)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var tick <-chan time.Time
	if every > 0 {
		t := time.NewTicker(every)
		defer t.Stop()
		tick = t.C
	}

	l := log.Module("serve")
	for {
		select {
		case <-done:
			return
		case <-hup:
			l.Info(ctx, "SIGHUP: reloading snapshot")
			logJobs(ctx, bg)
		case <-tick:
		}

		err := bg.RunTask("reload")
		if err != nil {
			if errors.As(err, new(*bgrun.ErrTooManyJobs)) {
				l.Debug(ctx, "reload still running; skipping")
				logJobs(ctx, bg)
				continue
			}
			l.Error(ctx, err)
		}
	}
}

// logJobs logs the running and last finished background jobs with the "bgrun"
// debug module.
func logJobs(ctx context.Context, bg *bgrun.Runner) {
	l := log.Module("bgrun")
	if !log.HasDebug("bgrun") {
		return
	}
	for _, j := range bg.Running() {
		l.Debugf(ctx, "running: %s for %s; from %s",
			j.Task, time.Since(j.Started).Round(time.Millisecond), j.From)
	}
	if h := bg.History(); len(h) > 0 {
		j := h[len(h)-1]
		l.Debugf(ctx, "finished: %s took %s; from %s",
			j.Task, j.Took.Round(time.Millisecond), j.From)
	}
}

type server struct {
	src     postviews.Source
	dir     string
	lang    language.Tag
	printer *message.Printer

	mu    sync.RWMutex
	views postviews.Views
}

func newServer(src postviews.Source, dir string, lang language.Tag) *server {
	return &server{
		src:     src,
		dir:     dir,
		lang:    lang,
		printer: message.NewPrinter(lang),
		views:   postviews.Views{},
	}
}

// reload the snapshot; the current snapshot is kept on errors.
func (s *server) reload(ctx context.Context) error {
	views, err := s.src.Fetch(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.views = views
	s.mu.Unlock()
	log.Module("serve").Infof(ctx, "loaded snapshot with %d posts", len(views))
	return nil
}

// current gets the current snapshot; it's never modified after it's loaded.
func (s *server) current() postviews.Views {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.views
}

func (s *server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(logRequest)

	r.Get("/views.json", zhttp.Wrap(s.snapshot))
	r.Get("/counter/*", zhttp.Wrap(s.counter))
	r.With(middleware.Compress(2)).Get("/*", zhttp.Wrap(s.static))
	return r
}

func logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer log.Recover(r.Context(), func(err error) {
			log.Module("serve").Error(r.Context(), err, log.AttrHTTP(r))
			w.WriteHeader(http.StatusInternalServerError)
		})
		log.Module("serve").Debug(r.Context(), "request", log.AttrHTTP(r))
		next.ServeHTTP(w, r)
	})
}

func (s *server) snapshot(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Cache-Control", "no-store")
	return zhttp.JSON(w, s.current())
}

func (s *server) counter(w http.ResponseWriter, r *http.Request) error {
	id, ext := zfilepath.SplitExt(strings.TrimPrefix(r.URL.Path, "/counter/"))
	if ext != "json" {
		return guru.Errorf(400, "unknown extension: %q", ext)
	}
	if id == "" {
		return guru.New(400, "no post")
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	n, ok := s.current()[postviews.PostID(id)]
	if !ok {
		w.WriteHeader(404)
	}
	return zhttp.JSON(w, map[string]any{
		"count":     postviews.FormatCount(s.printer, n),
		"count_raw": n,
	})
}

func (s *server) static(w http.ResponseWriter, r *http.Request) error {
	p := path.Clean("/" + r.URL.Path)
	file := filepath.Join(s.dir, filepath.FromSlash(p))
	if st, err := os.Stat(file); err == nil && st.IsDir() {
		file = filepath.Join(file, "index.html")
	}
	if filepath.Ext(file) != ".html" {
		http.ServeFile(w, r, file)
		return nil
	}

	m := metrics.Start("serve.html")
	defer m.Done()

	page, err := htmlpage.Open(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return guru.New(404, "not found")
		}
		m.AddTag("failed")
		return err
	}

	c := postviews.New(postviews.Options{
		Source: postviews.StaticSource(s.current()),
		Page:   page,
		Locale: s.lang,
	})
	if err := c.Init(r.Context()); err != nil {
		m.AddTag("failed")
		return err
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return page.Render(w)
}
