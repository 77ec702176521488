package distributed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLeaseHeld is returned when another holder owns the key.
var ErrLeaseHeld = errors.New("lease held by another instance")

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)

// Lease is an exclusive, self-renewing claim on a key, used to keep two
// bridge processes from driving the same cameras.
type Lease struct {
	client *redis.Client
	key    string
	holder string
	ttl    time.Duration
	logger *zap.SugaredLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	lost   chan struct{}
}

func NewLease(client *redis.Client, key string, ttl time.Duration, logger *zap.SugaredLogger) *Lease {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Lease{
		client: client,
		key:    key,
		holder: uuid.NewString(),
		ttl:    ttl,
		logger: logger,
		lost:   make(chan struct{}),
	}
}

// Acquire claims the key or returns ErrLeaseHeld. The lease renews itself
// at half its TTL until Release.
func (l *Lease) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		return nil
	}

	ok, err := l.client.SetNX(ctx, l.key, l.holder, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return ErrLeaseHeld
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.renew(renewCtx, l.done)
	return nil
}

// Lost is closed when a renewal finds the key gone or owned by someone else.
func (l *Lease) Lost() <-chan struct{} {
	return l.lost
}

func (l *Lease) renew(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.holder, l.ttl.Milliseconds()).Int64()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// transient; the next tick retries before the key expires
			l.logger.Warnw("lease renewal failed", "key", l.key, "error", err)
			continue
		}
		if n == 0 {
			l.logger.Errorw("lease lost", "key", l.key)
			close(l.lost)
			return
		}
	}
}

// Release stops renewal and deletes the key if this holder still owns it.
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.holder).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	return nil
}

// Holder returns the current owner of key, or "" if it is free.
func Holder(ctx context.Context, client *redis.Client, key string) (string, error) {
	v, err := client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}
