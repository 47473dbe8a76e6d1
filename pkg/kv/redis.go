package kv

import (
	"context"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"zgo.at/errors"
)

// Redis stores keys in Redis.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to Redis; connect is a redis:// URL. A "ttl" query
// parameter sets the expiry of every key written (default: no expiry).
func NewRedis(ctx context.Context, connect string) (*Redis, error) {
	u, err := url.Parse(connect)
	if err != nil {
		return nil, errors.Wrap(err, "kv.NewRedis")
	}

	var ttl time.Duration
	if t := u.Query().Get("ttl"); t != "" {
		ttl, err = time.ParseDuration(t)
		if err != nil {
			return nil, errors.Wrap(err, "kv.NewRedis: ttl")
		}
		q := u.Query()
		q.Del("ttl")
		u.RawQuery = q.Encode()
	}

	opt, err := redis.ParseURL(u.String())
	if err != nil {
		return nil, errors.Wrap(err, "kv.NewRedis")
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "kv.NewRedis: connecting to %q", opt.Addr)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "kv.Redis.Get %q", key)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	err := r.client.Set(ctx, key, value, r.ttl).Err()
	return errors.Wrapf(err, "kv.Redis.Set %q", key)
}

func (r *Redis) Close() error { return r.client.Close() }
