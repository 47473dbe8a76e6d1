// Package postviews counts page views for posts on a static blog.
//
// A Counter loads a snapshot of view counts, increments the count of the post
// in the URL fragment ("#post-42") at most once per session, updates the
// counters on the page, and writes the updated counts to a local fallback
// store.
//
// The counts are approximate and best-effort: several tabs or sessions viewing
// the same post will each count a view and overwrite each other's fallback
// store, there is no merging, and nothing protects against inflated counts.
//
// The fallback store is only ever written and never read back; Init only uses
// the snapshot, also when it fails. This is probably a mistake, but it's how
// it's always worked.
package postviews

import (
	"context"
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"zgo.at/errors"
	"zgo.at/postviews/pkg/kv"
	"zgo.at/postviews/pkg/log"
	"zgo.at/postviews/pkg/metrics"
)

var (
	// ErrFetch is used if the snapshot can't be loaded.
	ErrFetch = errors.New("could not fetch snapshot")

	// ErrSnapshot is used if the snapshot is malformed.
	ErrSnapshot = errors.New("invalid snapshot")

	// ErrPersist is used if the views can't be written to the local store.
	ErrPersist = errors.New("could not persist views")
)

// Store is a string key/value store, such as the browser's localStorage and
// sessionStorage.
//
// Get on a key that doesn't exist must return ok=false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Page is the document with the view counters.
type Page interface {
	// Element gets the element by its HTML id.
	Element(id string) (Element, bool)
}

// Element is a HTML element that can display the view count.
type Element interface {
	SetText(string)
	SetTitle(string)
}

// Remote sends view counts to a remote backend.
//
// This is the place for an authenticated "increment by one" call to a server
// that actually stores the views. There is no such implementation yet, only
// NopRemote.
type Remote interface {
	Sync(ctx context.Context, id PostID, views Views) error
}

// NopRemote doesn't send anything and only logs a notice.
type NopRemote struct{}

func (NopRemote) Sync(ctx context.Context, id PostID, _ Views) error {
	log.Module("counter").Info(ctx, "view counts updated locally; remote sync not configured",
		"post", string(id))
	return nil
}

// State of a Counter.
type State uint8

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Options for New.
type Options struct {
	// Snapshot source; required.
	Source Source

	// Page to display counters on; if nil, nothing is displayed.
	Page Page

	// URL fragment of the current page, including the "#".
	Fragment string

	// Local fallback store and the store of posts counted in this session. An
	// in-memory store is used if they're nil.
	Local   Store
	Session Store

	// Default: NopRemote.
	Remote Remote

	// Language for number formatting. Default: English ("1,000").
	Locale language.Tag
}

// Counter keeps the view counts for the posts on a page.
//
// A Counter is meant to be used for a single page view, from a single
// goroutine.
type Counter struct {
	source   Source
	page     Page
	fragment string
	local    Store
	session  Store
	remote   Remote
	printer  *message.Printer

	state State
	views Views
}

// New creates a new Counter. It panics if opts.Source is nil.
func New(opts Options) *Counter {
	if opts.Source == nil {
		panic("postviews.New: Source is nil")
	}
	c := &Counter{
		source:   opts.Source,
		page:     opts.Page,
		fragment: opts.Fragment,
		local:    opts.Local,
		session:  opts.Session,
		remote:   opts.Remote,
		views:    Views{},
	}
	if c.local == nil {
		c.local = kv.NewMemory(0)
	}
	if c.session == nil {
		c.session = kv.NewMemory(0)
	}
	if c.remote == nil {
		c.remote = NopRemote{}
	}
	if opts.Locale == language.Und {
		opts.Locale = language.English
	}
	c.printer = message.NewPrinter(opts.Locale)
	return c
}

// State gets the current state.
func (c *Counter) State() State { return c.state }

// Views gets a copy of the current view counts.
func (c *Counter) Views() Views { return c.views.Copy() }

// Count gets the view count for a post.
func (c *Counter) Count(id PostID) int { return c.views.Count(id) }

// Init loads the snapshot, displays all counters, and counts a view for the
// post in the URL fragment.
//
// If the snapshot can't be loaded the counts are empty, the state is
// StateFailed, and the error is returned; no view is counted. Errors from
// counting the view are returned, but leave the Counter in StateReady.
//
// Init may be called again to reload everything.
func (c *Counter) Init(ctx context.Context) error {
	m := metrics.Start("counter.init")
	defer m.Done()

	c.state = StateInitializing
	views, err := c.source.Fetch(ctx)
	if err != nil {
		m.AddTag("failed")
		c.views, c.state = Views{}, StateFailed
		return errors.Wrap(err, "Counter.Init")
	}
	if views == nil {
		views = Views{}
	}
	c.views, c.state = views, StateReady
	log.Module("counter").Debugf(ctx, "loaded snapshot with %d posts", len(views))

	c.RefreshAll(ctx)
	_, err = c.TrackCurrent(ctx)
	return errors.Wrap(err, "Counter.Init")
}

// Increment the view count for a post by one, display the new count, and
// persist all counts.
//
// This does nothing if id is empty. The count is always incremented in
// memory, even if persisting fails.
func (c *Counter) Increment(ctx context.Context, id PostID) error {
	if id == "" {
		return nil
	}
	n := c.views.Incr(id)
	log.Module("counter").Debugf(ctx, "incremented %q to %d", id, n)

	c.Refresh(ctx, id)
	return c.Persist(ctx, id)
}

// RefreshAll displays the counters for all posts with a count.
func (c *Counter) RefreshAll(ctx context.Context) {
	for id := range c.views {
		c.Refresh(ctx, id)
	}
}

// Refresh displays the counter for a post. This does nothing if the post isn't
// on the page.
func (c *Counter) Refresh(ctx context.Context, id PostID) {
	if c.page == nil {
		return
	}
	el, ok := c.page.Element(ElementID(id))
	if !ok {
		return
	}
	text, title := c.Text(c.views.Count(id))
	el.SetText(text)
	el.SetTitle(title)
}

// Text gets the text and title to display for a count.
func (c *Counter) Text(n int) (text, title string) {
	f := FormatCount(c.printer, n)
	return f + " views", f + " total views"
}

// FormatCount formats n with thousands separators for the printer's language.
func FormatCount(p *message.Printer, n int) string {
	return p.Sprintf("%d", n)
}

// TrackCurrent counts a view for the post in the URL fragment, unless it was
// already counted in this session. It reports if a view was counted.
//
// The post is marked as counted in the session even if persisting the views
// failed. A "#post-" fragment without ID counts nothing, but still gets the
// (empty) marker.
func (c *Counter) TrackCurrent(ctx context.Context) (bool, error) {
	id, ok := PostFromFragment(c.fragment)
	if !ok && c.fragment != fragmentPrefix {
		return false, nil
	}

	key := SessionKey(id)
	_, seen, err := c.session.Get(ctx, key)
	if err != nil {
		return false, errors.Wrap(err, "Counter.TrackCurrent")
	}
	if seen {
		log.Module("counter").Debugf(ctx, "%q already counted in this session", id)
		return false, nil
	}

	incErr := c.Increment(ctx, id)
	if err := c.session.Set(ctx, key, SessionValue); err != nil {
		err = errors.Wrap(err, "Counter.TrackCurrent: marking as counted")
		if incErr != nil {
			log.Module("counter").Error(ctx, err)
			return id != "", incErr
		}
		return id != "", err
	}
	return id != "", incErr
}

// Persist writes all view counts to the local store and calls the Remote.
//
// The id is the post that was just incremented.
func (c *Counter) Persist(ctx context.Context, id PostID) error {
	m := metrics.Start("counter.persist")
	defer m.Done()

	b, err := c.views.JSON()
	if err != nil {
		m.AddTag("failed")
		return errors.Errorf("Counter.Persist: %w: %w", ErrPersist, err)
	}
	if err := c.local.Set(ctx, LocalKey, string(b)); err != nil {
		m.AddTag("failed")
		return errors.Errorf("Counter.Persist: %w: %w", ErrPersist, err)
	}
	return errors.Wrap(c.remote.Sync(ctx, id, c.views.Copy()), "Counter.Persist")
}

// Start initializes the counter, logging any errors instead of returning them.
//
// This never fails or panics: the page should keep working if the view
// counter doesn't.
func Start(ctx context.Context, c *Counter) {
	defer log.Recover(ctx)
	if err := c.Init(ctx); err != nil {
		log.Module("counter").Error(ctx, err, "state", c.State().String())
	}
}
