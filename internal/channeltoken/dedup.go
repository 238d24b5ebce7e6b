package channeltoken

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
	"line-flex-bridge/internal/common/logging"
	"line-flex-bridge/internal/locks"
)

// MintFunc re-checks the cache and mints a token if it is still missing
type MintFunc func(ctx context.Context) (*ChannelAccessToken, error)

// MintDeduplicator collapses concurrent mints for the same cache key.
// Without one, concurrent misses each mint and the last Store wins.
type MintDeduplicator interface {
	Do(ctx context.Context, key string, mint MintFunc) (*ChannelAccessToken, error)
}

// LocalDeduplicator lets one goroutine per process mint for a key while the
// others wait for its result
type LocalDeduplicator struct {
	group singleflight.Group
}

func NewLocalDeduplicator() *LocalDeduplicator {
	return &LocalDeduplicator{}
}

// Do runs one mint per key. The shared mint is detached from the first
// caller's cancellation so a disconnected webhook does not fail the others;
// the per-call timeouts inside mint still bound it. Each caller stops waiting
// when its own context ends.
func (d *LocalDeduplicator) Do(ctx context.Context, key string, mint MintFunc) (*ChannelAccessToken, error) {
	shared := context.WithoutCancel(ctx)
	ch := d.group.DoChan(key, func() (interface{}, error) {
		return mint(shared)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		token := *res.Val.(*ChannelAccessToken)
		return &token, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LockDeduplicator serializes mints for a key across processes with a
// distributed lock. If the lock cannot be taken in time the mint goes ahead
// unlocked, which is the same race the bridge tolerates without a deduplicator.
type LockDeduplicator struct {
	locker      locks.Locker
	lockTTL     time.Duration
	waitTimeout time.Duration
	logger      logging.Logger
}

// NewLockDeduplicator holds each lock for at most lockTTL and waits at most
// waitTimeout to acquire it
func NewLockDeduplicator(locker locks.Locker, lockTTL, waitTimeout time.Duration, logger logging.Logger) *LockDeduplicator {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &LockDeduplicator{
		locker:      locker,
		lockTTL:     lockTTL,
		waitTimeout: waitTimeout,
		logger:      logger,
	}
}

func (d *LockDeduplicator) Do(ctx context.Context, key string, mint MintFunc) (*ChannelAccessToken, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d.waitTimeout)
	lock, err := d.locker.AcquireLock(waitCtx, "mint:"+key, d.lockTTL)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Warn("Minting without distributed lock",
			logging.Field{Key: "key", Value: key},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return mint(ctx)
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			d.logger.Warn("Failed to release mint lock",
				logging.Field{Key: "key", Value: key},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
	}()

	return mint(ctx)
}
