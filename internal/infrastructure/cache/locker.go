package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const defaultLockPrefix = "erpsync:lock:"

// ErrLockNotObtained is returned when another holder owns the lock
var ErrLockNotObtained = errors.New("cache: lock not obtained")

// Lock is a held lock
type Lock interface {
	// Release gives the lock up. Releasing an expired lock is not an error.
	Release(ctx context.Context) error
}

// Locker hands out named locks that expire after ttl
type Locker interface {
	Obtain(ctx context.Context, name string, ttl time.Duration) (Lock, error)
}

// RedisLocker coordinates holders across processes with redislock
type RedisLocker struct {
	client *redislock.Client
	prefix string
}

// NewRedisLocker creates a locker on client
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = defaultLockPrefix
	}
	return &RedisLocker{client: redislock.New(client), prefix: prefix}
}

// Obtain tries once to take the lock
func (l *RedisLocker) Obtain(ctx context.Context, name string, ttl time.Duration) (Lock, error) {
	lock, err := l.client.Obtain(ctx, l.prefix+name, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, name)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", name, err)
	}
	return &redisLock{lock: lock}, nil
}

type redisLock struct {
	lock *redislock.Lock
}

func (l *redisLock) Release(ctx context.Context) error {
	if err := l.lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return err
	}
	return nil
}

// LocalLocker is a process local Locker for single instance deployments
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]*localLock
	now   func() time.Time
	token uint64
}

// NewLocalLocker creates an empty locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]*localLock), now: time.Now}
}

// Obtain takes the lock unless a live holder owns it
func (l *LocalLocker) Obtain(_ context.Context, name string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[name]; ok && now.Before(cur.expiresAt) {
		return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, name)
	}
	l.token++
	lock := &localLock{owner: l, name: name, token: l.token, expiresAt: now.Add(ttl)}
	l.held[name] = lock
	return lock, nil
}

type localLock struct {
	owner     *LocalLocker
	name      string
	token     uint64
	expiresAt time.Time
}

func (l *localLock) Release(context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()

	if cur, ok := l.owner.held[l.name]; ok && cur.token == l.token {
		delete(l.owner.held, l.name)
	}
	return nil
}
