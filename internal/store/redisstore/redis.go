package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "prompt-service:lock:"

// unlockScript deletes the key only while it still holds our token.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

var ErrUnavailable = errors.New("redis unavailable")

// Store holds short lived, token guarded locks in Redis.
type Store struct {
	client *redis.Client
}

func New(addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Store{client: client}, nil
}

func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return ErrUnavailable
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// TryLock takes key for ttl. ok is false when someone else holds it; the
// returned token is needed to Unlock.
func (s *Store) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if s == nil || s.client == nil {
		return "", false, ErrUnavailable
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, fmt.Errorf("lock key required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock releases key if token still owns it. An expired or stolen lock is
// left alone.
func (s *Store) Unlock(ctx context.Context, key, token string) error {
	if s == nil || s.client == nil {
		return ErrUnavailable
	}
	return s.client.Eval(ctx, unlockScript, []string{keyPrefix + strings.TrimSpace(key)}, token).Err()
}
