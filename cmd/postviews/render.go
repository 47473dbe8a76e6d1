package main

import (
	"context"
	"fmt"
	"runtime"
	"slices"

	"github.com/bmatcuk/doublestar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"zgo.at/errors"
	"zgo.at/postviews"
	"zgo.at/postviews/pkg/htmlpage"
	"zgo.at/postviews/pkg/log"
	"zgo.at/postviews/pkg/metrics"
	"zgo.at/zli"
	"zgo.at/zvalidate"
)

const usageRender = `
Display the counts from the snapshot in HTML files.

All counters in the pages are set to the count in the snapshot; no views are
counted. This is useful to render the counts in the static HTML, so they're
correct without JavaScript.

Counters for posts that aren't in the snapshot aren't modified.

Flags:

  -pages       Glob patterns for the HTML pages, comma-separated. Use ** to
               match any number of directories, e.g. "public/**/*.html".
               Required.

  -snapshot    Snapshot with the view counts: a file path or URL. Required.

  -j           Number of pages to render at the same time. Default: the
               number of CPUs.

  -locale      Locale for formatting numbers. Default: en.

  -metrics     Print timing metrics when done.

  -json        Output logs as JSON instead of aligned text.

  -debug       Modules to debug, comma-separated or 'all' for all modules:
               counter, render.
`

func cmdRender(f zli.Flags, ready chan<- struct{}, stop chan struct{}) error {
	var (
		pages    = f.StringList(nil, "pages")
		snapshot = f.String("", "snapshot").Pointer()
		par      = f.Int(runtime.NumCPU(), "j").Pointer()
		locale   = f.String("en", "locale").Pointer()
		printMet = f.Bool(false, "metrics").Pointer()
		asJSON   = f.Bool(false, "json").Pointer()
		debug    = f.StringList(nil, "debug")
	)
	if err := parseFlags(f); err != nil {
		return err
	}

	return func(pages []string, snapshot string, par int, locale string, printMet, asJSON bool, debug []string) error {
		setupLog(asJSON, debug)

		v := zvalidate.New()
		v.Required("-pages", pages)
		v.Required("-snapshot", snapshot)
		if par < 1 {
			v.Append("-j", "must be 1 or more")
		}
		lang := parseLocale(&v, locale)

		var files []string
		for _, p := range pages {
			m, err := doublestar.Glob(p)
			if err != nil {
				v.Append("-pages", fmt.Sprintf("%q: %s", p, err))
				continue
			}
			files = append(files, m...)
		}
		if v.HasErrors() {
			return v
		}
		slices.Sort(files)
		files = slices.Compact(files)

		ctx := context.Background()
		views, err := postviews.NewSource(snapshot, httpClient()).Fetch(ctx)
		if err != nil {
			return err
		}

		err = render(ctx, files, views, lang, par)
		if printMet {
			metrics.Print(zli.Stdout)
		}
		return err
	}(pages.StringsSplit(","), *snapshot, *par, *locale, *printMet, *asJSON, debug.StringsSplit(","))
}

// render the counters in all files.
//
// All files are attempted; errors are collected and returned together.
func render(ctx context.Context, files []string, views postviews.Views, lang language.Tag, par int) error {
	l := log.Module("render")
	if len(files) == 0 {
		l.Warn(ctx, "no pages matched")
		return nil
	}

	var (
		g    errgroup.Group
		errs = make([]error, len(files))
	)
	g.SetLimit(par)
	for i, file := range files {
		g.Go(func() error {
			defer log.Recover(ctx, func(err error) { errs[i] = err })
			errs[i] = renderFile(log.WithLog(ctx, "page", file), file, views, lang)
			return nil
		})
	}
	g.Wait()

	group := errors.NewGroup(20)
	for _, err := range errs {
		group.Append(err)
	}
	if group.Len() > 0 {
		return group
	}
	l.Infof(ctx, "rendered %d pages", len(files))
	return nil
}

func renderFile(ctx context.Context, path string, views postviews.Views, lang language.Tag) error {
	m := metrics.Start("render.page")
	defer m.Done()

	p, err := htmlpage.Open(path)
	if err != nil {
		m.AddTag("failed")
		return err
	}

	c := postviews.New(postviews.Options{
		Source: postviews.StaticSource(views),
		Page:   p,
		Locale: lang,
	})
	if err := c.Init(ctx); err != nil {
		m.AddTag("failed")
		return err
	}
	if err := p.WriteFile(path); err != nil {
		m.AddTag("failed")
		return err
	}
	log.Module("render").Debugf(ctx, "%d counters in %q", len(p.IDs()), p.Title())
	return nil
}
