//go:build js && wasm

// Command postviews-wasm runs the view counter in the browser.
//
// Build with:
//
//	GOOS=js GOARCH=wasm go build -o postviews.wasm ./cmd/postviews-wasm
//
// And load it with wasm_exec.js from the Go distribution:
//
//	<script src="wasm_exec.js"></script>
//	<script>
//	    const go = new Go()
//	    WebAssembly.instantiateStreaming(fetch('postviews.wasm'), go.importObject)
//	        .then((r) => go.run(r.instance))
//	</script>
//
// The snapshot is loaded from views.json relative to the page; set
// data-postviews-snapshot on the <html> element to use a different location.
package main

import (
	"context"
	"net/http"
	"os"
	"syscall/js"

	"zgo.at/postviews"
	"zgo.at/postviews/pkg/browser"
	"zgo.at/postviews/pkg/log"
)

func main() {
	// Ends up in the browser console.
	log.Setup(os.Stderr, false, false, nil)

	snapshot := postviews.DefaultSnapshot
	if s := js.Global().Get("document").Get("documentElement").Call("getAttribute", "data-postviews-snapshot"); s.Truthy() {
		snapshot = s.String()
	}

	done := make(chan struct{})
	browser.OnReady(func() {
		go func() {
			defer close(done)
			ctx := log.WithLog(context.Background(), "page", js.Global().Get("location").Get("pathname").String())
			c := postviews.New(postviews.Options{
				Source:   postviews.HTTPSource{URL: browser.SnapshotURL(snapshot), Client: http.DefaultClient},
				Page:     browser.NewDocument(),
				Fragment: browser.Fragment(),
				Local:    browser.Local(),
				Session:  browser.Session(),
			})
			postviews.Start(ctx, c)
		}()
	})
	<-done
}
