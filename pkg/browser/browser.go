//go:build js && wasm

// Package browser connects the view counter to the browser's DOM and Web
// Storage when compiled to WebAssembly.
package browser

import (
	"context"
	"syscall/js"

	"honnef.co/go/js/dom/v2"
	"zgo.at/errors"
	"zgo.at/postviews"
)

// Document is the current HTML document.
type Document struct {
	doc dom.Document
}

var _ postviews.Page = Document{}

// NewDocument gets the global document.
func NewDocument() Document {
	return Document{doc: dom.GetWindow().Document()}
}

func (d Document) Element(id string) (postviews.Element, bool) {
	el := d.doc.GetElementByID(id)
	if el == nil {
		return nil, false
	}
	return Element{el: el}, true
}

// Element is a DOM element.
type Element struct {
	el dom.Element
}

func (e Element) SetText(s string)  { e.el.SetTextContent(s) }
func (e Element) SetTitle(s string) { e.el.SetAttribute("title", s) }

// dom doesn't wrap Web Storage, so that's done with syscall/js.

// Storage is a Web Storage object: localStorage or sessionStorage.
type Storage struct {
	name string
}

var _ postviews.Store = Storage{}

// Local is window.localStorage.
func Local() Storage { return Storage{name: "localStorage"} }

// Session is window.sessionStorage.
func Session() Storage { return Storage{name: "sessionStorage"} }

// Storage access throws in some cases, such as when it's disabled or the quota
// is exceeded.
func (s Storage) call(method string, args ...any) (v js.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if jsErr, ok := r.(js.Error); ok {
				err = errors.Errorf("%s.%s: %w", s.name, method, jsErr)
			} else {
				err = errors.Errorf("%s.%s: %v", s.name, method, r)
			}
		}
	}()
	st := js.Global().Get(s.name)
	if st.IsNull() || st.IsUndefined() {
		return js.Undefined(), errors.Errorf("%s not available", s.name)
	}
	return st.Call(method, args...), nil
}

func (s Storage) Get(_ context.Context, key string) (string, bool, error) {
	v, err := s.call("getItem", key)
	if err != nil {
		return "", false, err
	}
	if v.IsNull() || v.IsUndefined() {
		return "", false, nil
	}
	return v.String(), true, nil
}

func (s Storage) Set(_ context.Context, key, value string) error {
	_, err := s.call("setItem", key, value)
	return err
}

// Fragment gets the URL fragment of the current page, including the "#".
func Fragment() string {
	return js.Global().Get("location").Get("hash").String()
}

// SnapshotURL resolves a snapshot path relative to the current page.
func SnapshotURL(path string) string {
	return js.Global().Get("URL").New(path, js.Global().Get("location").Get("href")).Call("toString").String()
}

// OnReady runs f once the DOM is loaded, or right away if it already is.
func OnReady(f func()) {
	doc := js.Global().Get("document")
	if doc.Get("readyState").String() != "loading" {
		f()
		return
	}

	var cb js.Func
	cb = js.FuncOf(func(js.Value, []js.Value) any {
		cb.Release()
		f()
		return nil
	})
	doc.Call("addEventListener", "DOMContentLoaded", cb)
}
