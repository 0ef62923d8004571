package kv

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis"
	log "github.com/sirupsen/logrus"
)

const scanCount = 1000

// RedisOptions configures the redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// Redis stores each batch as a JSON string under a namespaced key.
type Redis struct {
	Client *redis.Client
	ns     Namespace
}

// NewRedis connects to redis and verifies the connection.
func NewRedis(opts RedisOptions, ns Namespace) (*Redis, error) {
	l := log.WithFields(log.Fields{
		"package": "kv",
		"func":    "NewRedis",
		"addr":    opts.Addr,
		"prefix":  ns.Prefix(),
	})
	l.Info("Initializing redis client")
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 30 * time.Second,
		ReadTimeout: 30 * time.Second,
	})
	if err := client.Ping().Err(); err != nil {
		l.Error("Failed to connect to redis")
		client.Close()
		return nil, err
	}
	l.Info("Connected to redis")
	return &Redis{Client: client, ns: ns}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	l := log.WithFields(log.Fields{
		"package": "kv",
		"func":    "Get",
		"key":     key,
	})
	l.Debug("Getting key")
	jd, err := r.Client.WithContext(ctx).Get(r.ns.key(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		l.Error(err)
		return nil, err
	}
	return jd, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	l := log.WithFields(log.Fields{
		"package": "kv",
		"func":    "Set",
		"key":     key,
		"bytes":   len(value),
	})
	l.Debug("Setting key")
	if err := r.Client.WithContext(ctx).Set(r.ns.key(key), value, 0).Err(); err != nil {
		l.Error(err)
		return err
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	l := log.WithFields(log.Fields{
		"package": "kv",
		"func":    "Remove",
		"key":     key,
	})
	l.Debug("Removing key")
	if err := r.Client.WithContext(ctx).Del(r.ns.key(key)).Err(); err != nil {
		l.Error(err)
		return err
	}
	return nil
}

func (r *Redis) Iterate(ctx context.Context, visit func(key string, value []byte) error) error {
	l := log.WithFields(log.Fields{
		"package": "kv",
		"func":    "Iterate",
		"prefix":  r.ns.Prefix(),
	})
	l.Debug("Iterating keys")
	c := r.Client.WithContext(ctx)
	prefix := r.ns.Prefix()
	match := escapeGlob(prefix) + "*"
	// SCAN may return a key more than once
	seen := make(map[string]struct{})
	var cursor uint64
	var initCursor bool = true
	for cursor > 0 || initCursor {
		initCursor = false
		if err := ctx.Err(); err != nil {
			return err
		}
		keys, next, err := c.Scan(cursor, match, scanCount).Result()
		if err != nil {
			l.Error(err)
			return err
		}
		cursor = next
		for _, k := range keys {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			jd, err := c.Get(k).Bytes()
			if err == redis.Nil {
				l.Debugf("key %s removed during scan", k)
				continue
			} else if err != nil {
				l.Error(err)
				return err
			}
			if err := visit(strings.TrimPrefix(k, prefix), jd); err != nil {
				return err
			}
		}
	}
	l.Debugf("Visited %d keys", len(seen))
	return nil
}

func (r *Redis) Close() error {
	return r.Client.Close()
}

// escapeGlob quotes the characters redis MATCH treats as patterns.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
