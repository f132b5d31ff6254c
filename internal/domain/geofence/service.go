package geofence

import (
	"context"

	"github.com/cmlabs-hris/fieldshift/internal/pkg/geo"
)

// Registry owns geofence definitions and answers containment questions.
type Registry interface {
	// Create validates and stores a new geofence at version 1
	Create(ctx context.Context, req CreateGeofenceRequest) (Geofence, error)

	// Update applies a partial update and bumps the version
	Update(ctx context.Context, req UpdateGeofenceRequest) (Geofence, error)

	// Deactivate stops the geofence from being a candidate
	Deactivate(ctx context.Context, id string, version int) (Geofence, error)

	Get(ctx context.Context, id string) (Geofence, error)
	ListActive(ctx context.Context) ([]Geofence, error)

	// Contains reports whether p is inside geofence id. A non-empty role must
	// also be admitted by the geofence.
	Contains(ctx context.Context, id string, role Role, p geo.Point) (bool, error)
}

// Engine turns location samples into geofence events.
type Engine interface {
	// Evaluate returns 0..n events for one sample and appends them to the event log
	Evaluate(ctx context.Context, req EvaluateRequest) ([]Event, error)

	ListEvents(ctx context.Context, filter ListEventsFilter) ([]Event, error)
}
