package geofence

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
)

const presenceShards = 64

type presenceShard struct {
	mu      sync.Mutex
	entries map[geofence.PresenceKey]geofence.Presence
}

// MemoryPresenceStore is a sharded in-process geofence.PresenceStore.
type MemoryPresenceStore struct {
	shards [presenceShards]*presenceShard
}

func NewMemoryPresenceStore() *MemoryPresenceStore {
	s := &MemoryPresenceStore{}
	for i := range s.shards {
		s.shards[i] = &presenceShard{entries: make(map[geofence.PresenceKey]geofence.Presence)}
	}
	return s
}

func (s *MemoryPresenceStore) shard(key geofence.PresenceKey) *presenceShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return s.shards[h.Sum32()%presenceShards]
}

// Update implements geofence.PresenceStore.
func (s *MemoryPresenceStore) Update(ctx context.Context, key geofence.PresenceKey, fn func(p *geofence.Presence) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p := clonePresence(sh.entries[key])
	if err := fn(&p); err != nil {
		return err
	}
	sh.entries[key] = p
	return nil
}

// Prune implements geofence.PresenceStore.
func (s *MemoryPresenceStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	for _, sh := range s.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		sh.mu.Lock()
		for k, p := range sh.entries {
			if p.LastSeen.Before(cutoff) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

func clonePresence(p geofence.Presence) geofence.Presence {
	if p.Cooldowns == nil {
		return p
	}
	cooldowns := make(map[geofence.EventType]time.Time, len(p.Cooldowns))
	for k, v := range p.Cooldowns {
		cooldowns[k] = v
	}
	p.Cooldowns = cooldowns
	return p
}
