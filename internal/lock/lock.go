// Package lock serializes actions that mutate the same partition. The redis
// locker coordinates several orchestrators; the local locker covers a single
// process.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"cluster-chaos/internal/config"
)

// ErrLocked is returned when the key is held by someone else
var ErrLocked = errors.New("lock is held")

// Unlock releases a lock. Releasing a lock that expired is not an error.
type Unlock func(ctx context.Context) error

// Locker hands out non-blocking, expiring locks
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

// PartitionKey is the lock key for actions on a partition
func PartitionKey(partitionID string) string {
	return "partition/" + partitionID
}

// New builds the locker configured in cfg. Lockers holding a connection
// implement io.Closer.
func New(cfg config.LockConfig) (Locker, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalLocker(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisLocker(client, cfg.KeyPrefix), nil
	default:
		return nil, errors.Newf("unsupported lock backend: %s", cfg.Backend)
	}
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

type RedisLocker struct {
	client  *redis.Client
	prefix  string
	release *redis.Script
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{
		client:  client,
		prefix:  prefix,
		release: redis.NewScript(releaseScript),
	}
}

// Close closes the redis client. Locks still held expire on their own.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// TryLock sets the key only if it is absent. The owner token makes sure an
// expired holder cannot release a lock taken over by someone else.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "acquire lock %s", key)
	}
	if !ok {
		return nil, errors.Wrapf(ErrLocked, "%s", key)
	}

	return func(ctx context.Context) error {
		err := l.release.Run(ctx, l.client, []string{lockKey}, token).Err()
		if err != nil && err != redis.Nil {
			return errors.Wrapf(err, "release lock %s", key)
		}
		return nil
	}, nil
}

type localEntry struct {
	token   string
	expires time.Time
}

type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]localEntry
	clock func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localEntry), clock: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if e, ok := l.held[key]; ok && (e.expires.IsZero() || now.Before(e.expires)) {
		return nil, errors.Wrapf(ErrLocked, "%s", key)
	}

	token := uuid.NewString()
	entry := localEntry{token: token}
	if ttl > 0 {
		entry.expires = now.Add(ttl)
	}
	l.held[key] = entry

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if e, ok := l.held[key]; ok && e.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}
