package main

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"zgo.at/errors"
	"zgo.at/postviews"
	"zgo.at/postviews/pkg/htmlpage"
	"zgo.at/postviews/pkg/kv"
	"zgo.at/postviews/pkg/log"
	"zgo.at/postviews/pkg/metrics"
	"zgo.at/zli"
	"zgo.at/zvalidate"
)

const usageView = `
Simulate a single page view.

The page is loaded, the snapshot is fetched, and the counters on the page are
updated. If the URL fragment is "#post-<post>" then a view is counted for that
post, unless it was already counted in this session.

The page is written back with the new counts. The exit code is 1 if the
snapshot can't be loaded; the page is still written, but the counters on it
aren't changed.

Flags:

  -page        HTML page: a file path or http:// or https:// URL. Required.

  -url         URL the page is viewed as; the fragment selects the post to
               count, e.g. "https://example.com/#post-7". Default: the -page
               URL, if it's a URL.

  -snapshot    Snapshot with the view counts: a file path or URL. Default:
               views.json relative to -url, or in the same directory as -page.

  -store       Store for the updated view counts. Default:
               file+./postviews-local.json. See "help store".

  -session     Store for the posts counted in this session. Default: memory.
               See "help store".

  -session-id  Session ID, for sharing one -session store. Default: a new
               random UUID.

  -o           Write the page to this file; use "-" for stdout. Default: the
               -page file; this is required if -page is a URL.

  -locale      Locale for formatting numbers. Default: en.

  -metrics     Print timing metrics when done.

  -json        Output logs as JSON instead of aligned text.

  -debug       Modules to debug, comma-separated or 'all' for all modules:
               counter, kv, view.
`

func cmdView(f zli.Flags, ready chan<- struct{}, stop chan struct{}) error {
	var (
		page      = f.String("", "page").Pointer()
		pageURL   = f.String("", "url").Pointer()
		snapshot  = f.String("", "snapshot").Pointer()
		store     = f.String("file+./postviews-local.json", "store").Pointer()
		session   = f.String("memory", "session").Pointer()
		sessionID = f.String("", "session-id").Pointer()
		output    = f.String("", "o").Pointer()
		locale    = f.String("en", "locale").Pointer()
		printMet  = f.Bool(false, "metrics").Pointer()
		asJSON    = f.Bool(false, "json").Pointer()
		debug     = f.StringList(nil, "debug")
	)
	if err := parseFlags(f); err != nil {
		return err
	}

	return func(page, pageURL, snapshot, store, session, sessionID, output, locale string, printMet, asJSON bool, debug []string) error {
		setupLog(asJSON, debug)

		v := zvalidate.New()
		v.Required("-page", page)
		lang := parseLocale(&v, locale)

		remote := isURL(page)
		if pageURL == "" && remote {
			pageURL = page
		}
		var fragment string
		if pageURL != "" {
			u, err := url.Parse(pageURL)
			if err != nil {
				v.Append("-url", err.Error())
			} else if f := u.EscapedFragment(); f != "" {
				// Escaped, like location.hash in browsers.
				fragment = "#" + f
			}
		}
		if output == "" {
			if remote {
				v.Append("-o", "required if -page is a URL")
			}
			output = page
		}
		if snapshot == "" {
			snapshot = defaultSnapshot(page, pageURL)
		}
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		if v.HasErrors() {
			return v
		}

		ctx := log.WithLog(context.Background(), "page", page)
		return view(ctx, viewOpts{
			page: page, fragment: fragment, snapshot: snapshot, store: store,
			session: session, sessionID: sessionID, output: output,
			lang: lang, printMetrics: printMet,
		})
	}(*page, *pageURL, *snapshot, *store, *session, *sessionID, *output, *locale,
		*printMet, *asJSON, debug.StringsSplit(","))
}

type viewOpts struct {
	page, fragment, snapshot  string
	store, session, sessionID string
	output                    string
	lang                      language.Tag
	printMetrics              bool
}

func view(ctx context.Context, opts viewOpts) error {
	l := log.Module("view")

	var (
		p   *htmlpage.Page
		err error
	)
	if isURL(opts.page) {
		p, err = htmlpage.Get(ctx, httpClient(), opts.page)
	} else {
		p, err = htmlpage.Open(opts.page)
	}
	if err != nil {
		return err
	}

	local, err := kv.Open(ctx, opts.store)
	if err != nil {
		return errors.Wrap(err, "-store")
	}
	defer local.Close()
	sess, err := kv.Open(ctx, opts.session)
	if err != nil {
		return errors.Wrap(err, "-session")
	}
	defer sess.Close()

	l.Debugf(ctx, "snapshot %s; fragment %q; session %s", opts.snapshot, opts.fragment, opts.sessionID)
	c := postviews.New(postviews.Options{
		Source:   postviews.NewSource(opts.snapshot, httpClient()),
		Page:     p,
		Fragment: opts.fragment,
		Local:    local,
		Session:  kv.Prefix(sess, opts.sessionID+":"),
		Locale:   opts.lang,
	})
	postviews.Start(ctx, c)

	if opts.output == "-" {
		err = p.Render(zli.Stdout)
	} else {
		err = p.WriteFile(opts.output)
	}
	if err != nil {
		return err
	}

	if opts.output != "-" {
		printCounts(c, p.IDs())
	}
	if opts.printMetrics {
		metrics.Print(zli.Stdout)
	}
	if c.State() == postviews.StateFailed {
		return errExit
	}
	return nil
}

func printCounts(c *postviews.Counter, ids []postviews.PostID) {
	seen := make(map[postviews.PostID]struct{})
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		text, _ := c.Text(c.Count(id))
		fmt.Fprintf(zli.Stdout, "%-24s %s\n", id, text)
	}
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// defaultSnapshot gets the location of views.json relative to the page URL, or
// the directory of the page file.
func defaultSnapshot(page, pageURL string) string {
	if pageURL != "" {
		if u, err := url.Parse(pageURL); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			u.Fragment = ""
			return u.ResolveReference(&url.URL{Path: postviews.DefaultSnapshot}).String()
		}
	}
	return filepath.Join(filepath.Dir(page), postviews.DefaultSnapshot)
}
