package geofence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
	"github.com/redis/go-redis/v9"
)

const redisPresenceRetries = 10

// RedisPresenceStore keeps presence in Redis so several instances share
// one engine memory. Updates run as WATCH/MULTI optimistic transactions.
type RedisPresenceStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisPresenceStore creates the store. Entries expire after ttl
// without an update.
func NewRedisPresenceStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisPresenceStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisPresenceStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisPresenceStore) key(k geofence.PresenceKey) string {
	return s.prefix + "presence:" + k.String()
}

// Update implements geofence.PresenceStore.
func (s *RedisPresenceStore) Update(ctx context.Context, key geofence.PresenceKey, fn func(p *geofence.Presence) error) error {
	redisKey := s.key(key)

	txf := func(tx *redis.Tx) error {
		var p geofence.Presence
		raw, err := tx.Get(ctx, redisKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode presence %s: %w", redisKey, err)
			}
		}

		if err := fn(&p); err != nil {
			return err
		}

		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode presence %s: %w", redisKey, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, data, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < redisPresenceRetries; i++ {
		err := s.client.Watch(ctx, txf, redisKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: too much contention on %s", geofence.ErrStoreUnavailable, redisKey)
}

// Prune implements geofence.PresenceStore. Keys also expire on their own
// TTL; this removes entries not seen since cutoff sooner.
func (s *RedisPresenceStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"presence:*", 200).Iterator()
	for iter.Next(ctx) {
		redisKey := iter.Val()
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, redisKey).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return nil
				}
				return err
			}
			var p geofence.Presence
			if err := json.Unmarshal(raw, &p); err != nil {
				return err
			}
			if !p.LastSeen.Before(cutoff) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, redisKey)
				return nil
			})
			if err == nil {
				removed++
			}
			return err
		}, redisKey)
		if err != nil && !errors.Is(err, redis.TxFailedErr) {
			return removed, err
		}
	}
	return removed, iter.Err()
}
