package kv

import (
	"context"
	"time"

	"zgo.at/zcache/v2"
)

// Memory is an in-memory store.
type Memory struct {
	c *zcache.Cache[string, string]
}

// NewMemory creates a new in-memory store where keys expire after ttl. Keys
// never expire if ttl is 0.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		return &Memory{c: zcache.New[string, string](zcache.NoExpiration, zcache.NoExpiration)}
	}
	return &Memory{c: zcache.New[string, string](ttl, ttl)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.c.Get(key)
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.c.Set(key, value)
	return nil
}

func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}
