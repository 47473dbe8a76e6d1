// Package kv implements small string key/value stores.
//
// They're used for the persisted fallback of the view counts ("localStorage")
// and for the set of posts already counted in this session
// ("sessionStorage"). None of the stores lock against other writers of the
// same keys.
package kv

import (
	"context"
	"strings"
	"time"

	"zgo.at/errors"
)

// Store is a string key/value store.
//
// Get on a key that doesn't exist returns ok=false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Open a store from a connection string:
//
//	memory                  In-memory, lost on exit.
//	memory+30m              In-memory, keys expire after the duration.
//	file+./local.json       JSON object in a file.
//	sqlite+./local.sqlite3  Table in a SQLite database.
//	redis+redis://host:6379/0
//	redis+redis://host:6379/0?ttl=30m
func Open(ctx context.Context, connect string) (Store, error) {
	proto, arg, _ := strings.Cut(connect, "+")
	switch proto {
	case "memory":
		var ttl time.Duration
		if arg != "" {
			var err error
			ttl, err = time.ParseDuration(arg)
			if err != nil {
				return nil, errors.Wrapf(err, "kv.Open %q", connect)
			}
		}
		return NewMemory(ttl), nil
	case "file":
		if arg == "" {
			return nil, errors.Errorf("kv.Open %q: no file name", connect)
		}
		f, err := NewFile(arg)
		if err != nil {
			return nil, err
		}
		return f, nil
	case "sqlite":
		if arg == "" {
			return nil, errors.Errorf("kv.Open %q: no file name", connect)
		}
		s, err := NewSQLite(ctx, arg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		r, err := NewRedis(ctx, arg)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, errors.Errorf(
			"kv.Open %q: unknown store; must be memory, file+…, sqlite+…, or redis+…", connect)
	}
}

// Prefix returns a store where all keys are prefixed with prefix.
//
// This is used to keep several sessions in one shared store. Closing the
// returned store closes the underlying store.
func Prefix(s Store, prefix string) Store { return prefixed{s: s, p: prefix} }

type prefixed struct {
	s Store
	p string
}

func (p prefixed) Get(ctx context.Context, key string) (string, bool, error) {
	return p.s.Get(ctx, p.p+key)
}
func (p prefixed) Set(ctx context.Context, key, value string) error {
	return p.s.Set(ctx, p.p+key, value)
}
func (p prefixed) Close() error { return p.s.Close() }
