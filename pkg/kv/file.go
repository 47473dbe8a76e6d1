package kv

import (
	"context"
	"io/fs"
	"os"
	"sync"

	"github.com/google/renameio/v2"
	"zgo.at/errors"
	"zgo.at/json"
)

// File stores all keys as a JSON object in a file.
//
// The entire file is rewritten on every Set; it's intended for a handful of
// keys.
type File struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// NewFile opens the store in path; the file is created on the first Set if it
// doesn't exist yet.
func NewFile(path string) (*File, error) {
	f := &File{path: path, data: make(map[string]string)}

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "kv.NewFile")
	}
	if len(b) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(b, &f.data); err != nil {
		return nil, errors.Wrapf(err, "kv.NewFile: reading %q", path)
	}
	if f.data == nil { // "null"
		f.data = make(map[string]string)
	}
	return f, nil
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	old, had := f.data[key]
	f.data[key] = value
	if err := f.write(); err != nil {
		if had {
			f.data[key] = old
		} else {
			delete(f.data, key)
		}
		return errors.Wrapf(err, "kv.File.Set %q", key)
	}
	return nil
}

func (f *File) Close() error { return nil }

// write the data atomically; readers never see a half-written file, and the
// permissions of an existing file are kept.
func (f *File) write() error {
	b, err := json.MarshalIndent(f.data, "", "\t")
	if err != nil {
		return err
	}
	return renameio.WriteFile(f.path, append(b, '\n'), 0o644, renameio.WithExistingPermissions())
}
