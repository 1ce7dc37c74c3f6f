// Package cache fronts slow repositories with Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Alijeyrad/keystone_backend/internal/scheduler"
)

type Options struct {
	TTL       time.Duration
	KeyPrefix string
	// InTx reports whether ctx carries an open database transaction. Such
	// calls bypass Redis so they see the transaction's own snapshot.
	InTx   func(ctx context.Context) bool
	Logger *slog.Logger
}

// Availability caches provider availability, which is read on every slot
// check and written rarely. Writes go through to the repository and then to
// Redis. Read misses only fill an empty key, so a reader holding an older
// row never overwrites a newer write. Redis read failures degrade to the
// repository.
type Availability struct {
	next   scheduler.AvailabilityRepository
	rdb    goredis.Cmdable
	ttl    time.Duration
	prefix string
	inTx   func(ctx context.Context) bool
	log    *slog.Logger
}

var _ scheduler.AvailabilityRepository = (*Availability)(nil)

func NewAvailability(next scheduler.AvailabilityRepository, rdb goredis.Cmdable, opts Options) *Availability {
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "keystone"
	}
	if opts.InTx == nil {
		opts.InTx = func(context.Context) bool { return false }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Availability{
		next:   next,
		rdb:    rdb,
		ttl:    opts.TTL,
		prefix: opts.KeyPrefix,
		inTx:   opts.InTx,
		log:    opts.Logger.With(slog.String("component", "availability_cache")),
	}
}

func (c *Availability) key(providerID uuid.UUID) string {
	return c.prefix + ":availability:" + providerID.String()
}

func (c *Availability) Get(ctx context.Context, providerID uuid.UUID) (*scheduler.WeeklyAvailability, error) {
	if c.inTx(ctx) {
		return c.next.Get(ctx, providerID)
	}
	key := c.key(providerID)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var a scheduler.WeeklyAvailability
		if err := json.Unmarshal(raw, &a); err == nil {
			return &a, nil
		}
		c.log.WarnContext(ctx, "dropping undecodable cache entry", slog.String("key", key))
		c.rdb.Del(ctx, key)
	case !errors.Is(err, goredis.Nil):
		c.log.WarnContext(ctx, "cache read failed", slog.String("key", key), slog.Any("err", err))
	}

	a, err := c.next.Get(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(a); err == nil {
		if err := c.rdb.SetNX(ctx, key, b, c.ttl).Err(); err != nil {
			c.log.WarnContext(ctx, "cache fill failed", slog.String("key", key), slog.Any("err", err))
		}
	}
	return a, nil
}

// Upsert saves a and replaces the cached copy. When the new value cannot be
// written the key is evicted instead; if that fails too the error is
// returned, since readers would keep seeing the old week until the TTL.
// Inside a transaction the key is only evicted, as the row is not committed
// yet.
func (c *Availability) Upsert(ctx context.Context, a *scheduler.WeeklyAvailability) error {
	if err := c.next.Upsert(ctx, a); err != nil {
		return err
	}
	key := c.key(a.ProviderID)

	if !c.inTx(ctx) {
		b, err := json.Marshal(a)
		if err == nil {
			err = c.rdb.Set(ctx, key, b, c.ttl).Err()
		}
		if err == nil {
			return nil
		}
		c.log.WarnContext(ctx, "cache write failed", slog.String("key", key), slog.Any("err", err))
	}

	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("availability saved but cached copy of %s not evicted: %w", a.ProviderID, err)
	}
	return nil
}
