// Package htmlpage displays view counters in HTML documents.
//
// This is the server-side version of what the browser does: a Page is loaded
// from a file or URL, the counters are updated, and it's rendered again.
//
// Note this won't run any JavaScript; counters added by scripts won't be found.
package htmlpage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/renameio/v2"
	"golang.org/x/net/html"
	"zgo.at/errors"
	"zgo.at/postviews"
)

// Page is a parsed HTML document.
type Page struct {
	doc *goquery.Document
}

var _ postviews.Page = (*Page)(nil)

// Parse a HTML document.
func Parse(r io.Reader) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "htmlpage.Parse")
	}
	return &Page{doc: doc}, nil
}

// Open and parse a HTML file.
func Open(path string) (*Page, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "htmlpage.Open")
	}
	defer fp.Close()

	p, err := Parse(fp)
	return p, errors.Wrapf(err, "htmlpage.Open %s", path)
}

// Get a HTML page over HTTP.
func Get(ctx context.Context, client *http.Client, url string) (*Page, error) {
	if client == nil {
		client = http.DefaultClient
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "htmlpage.Get")
	}
	r.Header.Set("User-Agent", "postviews/1.0")

	resp, err := client.Do(r)
	if err != nil {
		return nil, errors.Wrap(err, "htmlpage.Get")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, errors.Errorf("htmlpage.Get %s: %s", url, resp.Status)
	}

	p, err := Parse(resp.Body)
	return p, errors.Wrapf(err, "htmlpage.Get %s", url)
}

// Element gets the first element with this id.
//
// This doesn't use a "#id" selector since post IDs can contain any character.
func (p *Page) Element(id string) (postviews.Element, bool) {
	sel := p.doc.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("id")
		return v == id
	}).First()
	if sel.Length() == 0 {
		return nil, false
	}
	return Element{sel: sel}, true
}

// IDs gets the post IDs of all counters in the document, in document order.
func (p *Page) IDs() []postviews.PostID {
	var ids []postviews.PostID
	p.doc.Find(`[id^="view-count-"]`).Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("id")
		if id, ok := postviews.PostFromElementID(v); ok {
			ids = append(ids, id)
		}
	})
	return ids
}

// Title gets the text of the <title> element, or an empty string if there is
// none.
func (p *Page) Title() string {
	return strings.TrimSpace(p.doc.Find("head title").First().Text())
}

// Render the document as HTML.
func (p *Page) Render(w io.Writer) error {
	for _, n := range p.doc.Nodes {
		if err := html.Render(w, n); err != nil {
			return errors.Wrap(err, "htmlpage.Render")
		}
	}
	return nil
}

// WriteFile renders the document to path.
//
// The file is replaced atomically, keeping the permissions of the existing
// file.
func (p *Page) WriteFile(path string) error {
	buf := new(bytes.Buffer)
	if err := p.Render(buf); err != nil {
		return err
	}
	err := renameio.WriteFile(path, buf.Bytes(), 0o644, renameio.WithExistingPermissions())
	return errors.Wrap(err, "htmlpage.WriteFile")
}

// Element is a HTML element.
type Element struct {
	sel *goquery.Selection
}

func (e Element) SetText(s string)  { e.sel.SetText(s) }
func (e Element) SetTitle(s string) { e.sel.SetAttr("title", s) }
func (e Element) Text() string      { return e.sel.Text() }

func (e Element) Title() string {
	t, _ := e.sel.Attr("title")
	return t
}
