// Package kv implements repositories.KeyValueStore on top of memory, a
// settings file or redis.
package kv

import (
	"context"
	"fmt"
	"io"

	"github.com/satriahrh/arunika/companion/domain/repositories"
)

const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
)

// Open returns the store for driver. The closer is a no-op for stores that
// hold no connection.
func Open(ctx context.Context, driver, path, redisURL string) (repositories.KeyValueStore, io.Closer, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemoryStore(), nopCloser{}, nil
	case DriverFile:
		s, err := NewFileStore(path)
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil
	case DriverRedis:
		s, err := NewRedisStore(ctx, redisURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
