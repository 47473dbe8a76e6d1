package htmlpage

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"zgo.at/postviews"
	"zgo.at/zstd/ztest"
)

const doc = `<!DOCTYPE html>
<html><head><title> My blog </title></head><body>
<article><h2>Hello</h2><span id="view-count-7">? views</span></article>
<article><h2>World</h2><span id="view-count-hello world" class="x">? views</span></article>
<p id="view-count-"></p>
<span id="view-count-7">duplicate</span>
</body></html>`

func TestElement(t *testing.T) {
	p, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}

	el, ok := p.Element("view-count-7")
	if !ok {
		t.Fatal("not found")
	}
	el.SetText("1,000 views")
	el.SetTitle("1,000 total views")

	if e := el.(Element); e.Text() != "1,000 views" || e.Title() != "1,000 total views" {
		t.Errorf("%q %q", e.Text(), e.Title())
	}

	if _, ok := p.Element("view-count-hello world"); !ok {
		t.Error("id with space not found")
	}
	if _, ok := p.Element("view-count-8"); ok {
		t.Error("found view-count-8")
	}

	buf := new(strings.Builder)
	if err := p.Render(buf); err != nil {
		t.Fatal(err)
	}
	want := `<span id="view-count-7" title="1,000 total views">1,000 views</span>`
	if !strings.Contains(buf.String(), want) {
		t.Errorf("not in output:\n%s", buf)
	}
	if !strings.Contains(buf.String(), `<span id="view-count-7">duplicate</span>`) {
		t.Errorf("second element modified:\n%s", buf)
	}
	if !strings.HasPrefix(buf.String(), "<!DOCTYPE html>") {
		t.Errorf("no doctype:\n%s", buf)
	}
}

func TestIDs(t *testing.T) {
	p, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	want := []postviews.PostID{"7", "hello world", "7"}
	if have := p.IDs(); !reflect.DeepEqual(have, want) {
		t.Errorf("\nhave: %q\nwant: %q", have, want)
	}
	if have := p.Title(); have != "My blog" {
		t.Errorf("title: %q", have)
	}
}

func TestCounter(t *testing.T) {
	ctx := context.Background()
	p, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}

	c := postviews.New(postviews.Options{
		Source:   postviews.StaticSource{"7": 5},
		Page:     p,
		Fragment: "#post-7",
	})
	if err := c.Init(ctx); err != nil {
		t.Fatal(err)
	}

	el, _ := p.Element("view-count-7")
	if e := el.(Element); e.Text() != "6 views" || e.Title() != "6 total views" {
		t.Errorf("%q %q", e.Text(), e.Title())
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.html")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	el, _ := p.Element("view-count-7")
	el.SetText("42 views")
	if err := p.WriteFile(path); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `<span id="view-count-7">42 views</span>`) {
		t.Errorf("not written:\n%s", b)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Errorf("mode changed to %s", st.Mode())
	}
	ents, _ := os.ReadDir(dir)
	if len(ents) != 1 {
		t.Errorf("temporary files left behind: %v", ents)
	}

	_, err = Open(filepath.Join(dir, "nope.html"))
	if !ztest.ErrorContains(err, "htmlpage.Open") {
		t.Errorf("wrong error: %v", err)
	}
}

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(404)
			return
		}
		fmt.Fprint(w, doc)
	}))
	defer srv.Close()

	ctx := context.Background()
	p, err := Get(ctx, srv.Client(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if have := p.Title(); have != "My blog" {
		t.Errorf("title: %q", have)
	}

	_, err = Get(ctx, srv.Client(), srv.URL+"/missing")
	if !ztest.ErrorContains(err, "404") {
		t.Errorf("wrong error: %v", err)
	}
}
