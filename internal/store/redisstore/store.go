package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store caches assembled knowledge context so repeated questions do not hit
// the knowledge tables on every turn.
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

const contextKeyPrefix = "kbctx:"

// GetContext returns the cached knowledge context for key, or ("", nil) on a
// miss.
func (s *Store) GetContext(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, contextKeyPrefix+key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *Store) SetContext(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, contextKeyPrefix+key, value, ttl).Err()
}
