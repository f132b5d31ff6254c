package geofence

import (
	"context"
	"time"
)

// GeofenceRepository stores geofence documents keyed by id.
type GeofenceRepository interface {
	Create(ctx context.Context, g Geofence) (Geofence, error)

	// Update replaces the document when its stored version equals
	// expectedVersion, otherwise returns ErrVersionConflict.
	Update(ctx context.Context, g Geofence, expectedVersion int) error

	// GetByID returns ErrGeofenceNotFound when no document matches.
	GetByID(ctx context.Context, id string) (Geofence, error)

	ListActive(ctx context.Context) ([]Geofence, error)
}

// EventRepository is the append-only geofence event log keyed by (geofence id, timestamp).
type EventRepository interface {
	Append(ctx context.Context, events ...Event) error
	ListByGeofence(ctx context.Context, geofenceID string, from, to time.Time) ([]Event, error)
}

// PresenceStore holds the engine's only mutable memory.
type PresenceStore interface {
	// Update runs fn on the presence stored under key and persists the
	// result. Calls for the same key are serialized; calls for different
	// keys are independent. If fn returns an error nothing is written.
	Update(ctx context.Context, key PresenceKey, fn func(p *Presence) error) error

	// Prune drops entries whose LastSeen is before cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}
