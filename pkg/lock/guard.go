package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/metrics"
)

type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Guard runs functions while holding a key, retrying contention with backoff.
type Guard struct {
	locker  Locker
	policy  RetryPolicy
	log     *zap.SugaredLogger
	metrics *metrics.Business
}

func NewGuard(locker Locker, policy RetryPolicy, log *zap.SugaredLogger, m *metrics.Business) *Guard {
	return &Guard{locker: locker, policy: policy, log: log, metrics: m}
}

func (g *Guard) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = g.policy.InitialInterval
	eb.MaxInterval = g.policy.MaxInterval
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, g.policy.MaxRetries), ctx)
}

// Acquire takes key, retrying ErrLockContention up to the policy's bound.
// Any other error aborts immediately.
func (g *Guard) Acquire(ctx context.Context, key string) (Unlock, error) {
	var unlock Unlock
	op := func() error {
		u, err := g.locker.TryLock(ctx, key)
		if err != nil {
			if errors.Is(err, ErrLockContention) {
				g.metrics.LockContention(g.locker.Backend())
				return err
			}
			return backoff.Permanent(err)
		}
		unlock = u
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logctx.FromCtx(ctx, g.log).Debugw("lock busy, retrying", "key", key, "wait", wait, "backend", g.locker.Backend())
	}
	if err := backoff.RetryNotify(op, g.newBackOff(ctx), notify); err != nil {
		return nil, err
	}
	return unlock, nil
}

// Do runs fn while holding key. The key is released on every exit path, panics included.
func (g *Guard) Do(ctx context.Context, key string, fn func() error) error {
	unlock, err := g.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func NewLocker(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config) (Locker, error) {
	switch cfg.Lock.Backend {
	case "", "local":
		return NewLocalLocker(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis ping: %w", err)
				}
				log.Infow("redis lock backend ready", "addr", cfg.Redis.Addr)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
		return NewRedisLocker(client, cfg.Lock.TTL, func(key string, err error) {
			log.Warnw("redis lock release failed", "key", key, "err", err)
		}), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend)
	}
}

func newGuard(locker Locker, cfg *cfgpkg.Config, log *zap.SugaredLogger, m *metrics.Business) *Guard {
	return NewGuard(locker, RetryPolicy{
		MaxRetries:      cfg.Lock.MaxRetries,
		InitialInterval: cfg.Lock.InitialInterval,
		MaxInterval:     cfg.Lock.MaxInterval,
	}, log, m)
}

var Module = fx.Options(
	fx.Provide(NewLocker, newGuard),
)
