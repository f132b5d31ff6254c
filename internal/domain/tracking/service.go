package tracking

import (
	"context"

	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
)

// Service feeds location samples through the geofence engine and routes
// the resulting events to the shift state machine and notifications.
type Service interface {
	// Ingest may return a partial result together with an error when the
	// engine failed after committing events for some geofences. Those
	// events have already been routed.
	Ingest(ctx context.Context, req geofence.EvaluateRequest) (IngestResult, error)
}
