package notification

import (
	"context"

	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
)

// Service defines the notification service interface
type Service interface {
	// Queue notification (async processing via background workers)
	QueueNotification(ctx context.Context, req CreateNotificationRequest) error

	// Notify tells the event's user about a geofence event
	Notify(ctx context.Context, event geofence.Event) error

	// Alert broadcasts a breach or emergency event on AlertChannel
	Alert(ctx context.Context, event geofence.Event) error

	// SSE subscription
	Subscribe(ctx context.Context, userID string) (<-chan SSEEvent, func())

	// Lifecycle
	Stop()
}
