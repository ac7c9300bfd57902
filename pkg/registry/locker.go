package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/modelhub/pkg/common/logger"
)

// Locker serialises training on a single model id. The zero mode applies no
// locking at all, so concurrent trains on one id may lose updates.
type Locker interface {
	Lock(ctx context.Context, id uint64) (unlock func(), err error)
}

type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, uint64) (func(), error) {
	return func() {}, nil
}

// LocalLocker holds one mutex per id within this process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[uint64]*localEntry
}

type localEntry struct {
	ch      chan struct{}
	waiters int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[uint64]*localEntry)}
}

func (l *LocalLocker) Lock(ctx context.Context, id uint64) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &localEntry{ch: make(chan struct{}, 1)}
		l.locks[id] = entry
	}
	entry.waiters++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(id, entry, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(id, entry, true) })
	}, nil
}

func (l *LocalLocker) release(id uint64, entry *localEntry, held bool) {
	if held {
		<-entry.ch
	}
	l.mu.Lock()
	entry.waiters--
	if entry.waiters == 0 {
		delete(l.locks, id)
	}
	l.mu.Unlock()
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a token lock shared by every replica using the same Redis.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	prefix string
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		retry:  25 * time.Millisecond,
		prefix: "modelhub:lock:model:",
	}
}

// Lock waits up to the lock TTL for the key to become free.
func (l *RedisLocker) Lock(ctx context.Context, id uint64) (func(), error) {
	key := fmt.Sprintf("%s%d", l.prefix, id)
	token := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-time.After(l.retry):
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			logger.WithError(err).WithField("key", key).Warn("failed to release model lock")
		}
	}, nil
}
