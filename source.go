package postviews

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"zgo.at/errors"
)

// Source loads the snapshot of view counts.
type Source interface {
	Fetch(ctx context.Context) (Views, error)
}

// DefaultSnapshot is the default location of the snapshot, relative to the
// page.
const DefaultSnapshot = "views.json"

// HTTPSource fetches the snapshot over HTTP.
//
// The current time is added as the query string to get around any HTTP
// caches: "views.json?1700000000000".
type HTTPSource struct {
	URL    string           // Absolute URL.
	Client *http.Client     // Default: http.DefaultClient.
	Now    func() time.Time // Default: time.Now.
}

// maxSnapshot is the maximum size of a snapshot we'll read.
const maxSnapshot = 8 << 20

// RequestURL is the URL that will be requested at time t.
func (s HTTPSource) RequestURL(t time.Time) (string, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return "", err
	}
	bust := strconv.FormatInt(t.UnixMilli(), 10)
	if u.RawQuery == "" {
		u.RawQuery = bust
	} else {
		u.RawQuery += "&" + bust
	}
	return u.String(), nil
}

func (s HTTPSource) Fetch(ctx context.Context) (Views, error) {
	now, client := time.Now, http.DefaultClient
	if s.Now != nil {
		now = s.Now
	}
	if s.Client != nil {
		client = s.Client
	}

	u, err := s.RequestURL(now())
	if err != nil {
		return nil, errors.Errorf("HTTPSource.Fetch: %w: %w", ErrFetch, err)
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Errorf("HTTPSource.Fetch: %w: %w", ErrFetch, err)
	}
	r.Header.Set("Accept", "application/json")

	resp, err := client.Do(r)
	if err != nil {
		return nil, errors.Errorf("HTTPSource.Fetch: %w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, errors.Errorf("HTTPSource.Fetch: %w: %s: %s", ErrFetch, s.URL, resp.Status)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshot))
	if err != nil {
		return nil, errors.Errorf("HTTPSource.Fetch: %w: %w", ErrFetch, err)
	}
	v, err := ParseViews(b)
	return v, errors.Wrapf(err, "HTTPSource.Fetch %s", s.URL)
}

// FileSource reads the snapshot from a file.
type FileSource struct {
	Path string
}

func (s FileSource) Fetch(ctx context.Context) (Views, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, errors.Errorf("FileSource.Fetch: %w: %w", ErrFetch, err)
	}
	v, err := ParseViews(b)
	return v, errors.Wrapf(err, "FileSource.Fetch %s", s.Path)
}

// StaticSource is a snapshot that's already loaded.
type StaticSource Views

func (s StaticSource) Fetch(context.Context) (Views, error) { return Views(s).Copy(), nil }

// NewSource creates a Source for a http:// or https:// URL or a file path.
func NewSource(loc string, client *http.Client) Source {
	if u, err := url.Parse(loc); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return HTTPSource{URL: loc, Client: client}
	}
	return FileSource{Path: loc}
}
