package memory

import (
	"context"
	"sort"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
	"github.com/google/uuid"
)

type geofenceRepository struct {
	store *Store
}

func NewGeofenceRepository(store *Store) geofence.GeofenceRepository {
	return &geofenceRepository{store: store}
}

func cloneGeofence(g geofence.Geofence) geofence.Geofence {
	out := g
	out.AllowedRoles = append([]geofence.Role(nil), g.AllowedRoles...)
	out.RestrictedRoles = append([]geofence.Role(nil), g.RestrictedRoles...)
	out.Triggers = append([]geofence.Trigger(nil), g.Triggers...)
	out.Shape.Polygon = append(out.Shape.Polygon[:0:0], g.Shape.Polygon...)
	if g.Shape.Center != nil {
		c := *g.Shape.Center
		out.Shape.Center = &c
	}
	return out
}

// Create implements geofence.GeofenceRepository.
func (r *geofenceRepository) Create(ctx context.Context, g geofence.Geofence) (geofence.Geofence, error) {
	if g.ID == "" {
		g.ID = uuid.Must(uuid.NewV7()).String()
	}
	err := r.store.write(ctx, func() (func(), error) {
		id := g.ID
		r.store.geofences[id] = cloneGeofence(g)
		return func() { delete(r.store.geofences, id) }, nil
	})
	if err != nil {
		return geofence.Geofence{}, err
	}
	return cloneGeofence(g), nil
}

// Update implements geofence.GeofenceRepository.
func (r *geofenceRepository) Update(ctx context.Context, g geofence.Geofence, expectedVersion int) error {
	return r.store.write(ctx, func() (func(), error) {
		prev, ok := r.store.geofences[g.ID]
		if !ok {
			return nil, geofence.ErrGeofenceNotFound
		}
		if prev.Version != expectedVersion {
			return nil, geofence.ErrVersionConflict
		}
		r.store.geofences[g.ID] = cloneGeofence(g)
		return func() { r.store.geofences[prev.ID] = prev }, nil
	})
}

// GetByID implements geofence.GeofenceRepository.
func (r *geofenceRepository) GetByID(ctx context.Context, id string) (geofence.Geofence, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	g, ok := r.store.geofences[id]
	if !ok {
		return geofence.Geofence{}, geofence.ErrGeofenceNotFound
	}
	return cloneGeofence(g), nil
}

// ListActive implements geofence.GeofenceRepository.
func (r *geofenceRepository) ListActive(ctx context.Context) ([]geofence.Geofence, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []geofence.Geofence
	for _, g := range r.store.geofences {
		if g.Active {
			out = append(out, cloneGeofence(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type eventRepository struct {
	store *Store
}

func NewEventRepository(store *Store) geofence.EventRepository {
	return &eventRepository{store: store}
}

// Append implements geofence.EventRepository.
func (r *eventRepository) Append(ctx context.Context, events ...geofence.Event) error {
	if len(events) == 0 {
		return nil
	}
	return r.store.write(ctx, func() (func(), error) {
		lengths := make(map[string]int)
		for _, e := range events {
			if _, seen := lengths[e.GeofenceID]; !seen {
				lengths[e.GeofenceID] = len(r.store.events[e.GeofenceID])
			}
			r.store.events[e.GeofenceID] = append(r.store.events[e.GeofenceID], e)
		}
		return func() {
			for id, n := range lengths {
				r.store.events[id] = r.store.events[id][:n]
			}
		}, nil
	})
}

// ListByGeofence implements geofence.EventRepository. from is inclusive,
// to exclusive; a zero bound is open.
func (r *eventRepository) ListByGeofence(ctx context.Context, geofenceID string, from, to time.Time) ([]geofence.Event, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []geofence.Event
	for _, e := range r.store.events[geofenceID] {
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !e.Timestamp.Before(to) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
