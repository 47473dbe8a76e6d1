package postviews

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"zgo.at/errors"
	"zgo.at/zstd/ztest"
)

func TestRequestURL(t *testing.T) {
	at := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	tests := []struct {
		in, want string
	}{
		{"https://example.com/views.json", "https://example.com/views.json?1700000000000"},
		{"https://example.com/views.json?v=2", "https://example.com/views.json?v=2&1700000000000"},
		{"http://localhost:8080/blog/views.json", "http://localhost:8080/blog/views.json?1700000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			have, err := HTTPSource{URL: tt.in}.RequestURL(at)
			if err != nil {
				t.Fatal(err)
			}
			if have != tt.want {
				t.Errorf("\nhave: %s\nwant: %s", have, tt.want)
			}
		})
	}
}

func TestHTTPSource(t *testing.T) {
	var (
		gotQuery string
		status   = 200
		body     = `{"7": 5}`
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	ctx := context.Background()
	src := HTTPSource{
		URL:    srv.URL + "/views.json",
		Client: srv.Client(),
		Now:    func() time.Time { return time.UnixMilli(1700000000000) },
	}

	t.Run("ok", func(t *testing.T) {
		v, err := src.Fetch(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if v.String() != `{"7":5}` {
			t.Errorf("have %s", v)
		}
		if gotQuery != "1700000000000" {
			t.Errorf("cache buster: %q", gotQuery)
		}
	})

	t.Run("404", func(t *testing.T) {
		status, body = 404, "not found"
		defer func() { status, body = 200, `{"7": 5}` }()

		_, err := src.Fetch(ctx)
		if !errors.Is(err, ErrFetch) {
			t.Fatalf("not ErrFetch: %v", err)
		}
		if !ztest.ErrorContains(err, "404") {
			t.Errorf("wrong error: %v", err)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		body = `{"7": "five"}`
		defer func() { body = `{"7": 5}` }()

		_, err := src.Fetch(ctx)
		if !errors.Is(err, ErrSnapshot) {
			t.Fatalf("not ErrSnapshot: %v", err)
		}
		if errors.Is(err, ErrFetch) {
			t.Errorf("also ErrFetch: %v", err)
		}
	})

	t.Run("network", func(t *testing.T) {
		s := HTTPSource{URL: "http://127.0.0.1:1/views.json"}
		_, err := s.Fetch(ctx)
		if !errors.Is(err, ErrFetch) {
			t.Fatalf("not ErrFetch: %v", err)
		}
	})
}

func TestFileSource(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	path := filepath.Join(dir, "views.json")
	if err := os.WriteFile(path, []byte(`{"hello-world": 1200}`), 0o644); err != nil {
		t.Fatal(err)
	}
	v, err := FileSource{Path: path}.Fetch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v.Count("hello-world") != 1200 {
		t.Errorf("have %v", v)
	}

	_, err = FileSource{Path: filepath.Join(dir, "nope.json")}.Fetch(ctx)
	if !errors.Is(err, ErrFetch) {
		t.Errorf("not ErrFetch: %v", err)
	}
}

func TestNewSource(t *testing.T) {
	if _, ok := NewSource("https://example.com/views.json", nil).(HTTPSource); !ok {
		t.Error("https")
	}
	if _, ok := NewSource("http://localhost/views.json", nil).(HTTPSource); !ok {
		t.Error("http")
	}
	if _, ok := NewSource("./public/views.json", nil).(FileSource); !ok {
		t.Error("file")
	}
	if _, ok := NewSource("views.json", nil).(FileSource); !ok {
		t.Error("file")
	}
}
