package notification

import (
	"context"
	"testing"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
	"github.com/cmlabs-hris/fieldshift/internal/domain/notification"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/geo"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(action geofence.Action) geofence.Event {
	acc := 5.0
	return geofence.Event{
		ID:         "evt-1",
		GeofenceID: "gf-1",
		UserID:     "user-1",
		Role:       geofence.RoleFieldWorker,
		EventType:  geofence.EventEnter,
		Location:   geo.Coordinate{Latitude: 1, Longitude: 2, Accuracy: &acc},
		Action:     action,
		Timestamp:  time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
}

func receive(t *testing.T, ch <-chan notification.SSEEvent) notification.SSEEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return notification.SSEEvent{}
	}
}

func TestNotify_DeliversToUserStream(t *testing.T) {
	hub := sse.NewHub()
	svc := NewNotificationService(hub, Config{FlushInterval: 10 * time.Millisecond, WorkerCount: 1})
	defer svc.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := svc.Subscribe(ctx, "user-1")
	defer cleanup()

	require.NoError(t, svc.Notify(ctx, testEvent(geofence.ActionAutoClockIn)))

	ev := receive(t, stream)
	assert.Equal(t, string(notification.TypeGeofenceEvent), ev.Event)
	assert.Equal(t, "gf-1", ev.Data.Data["geofence_id"])
}

func TestAlert_PublishesOnAlertChannel(t *testing.T) {
	hub := sse.NewHub()
	svc := NewNotificationService(hub, Config{WorkerCount: 1})
	defer svc.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := svc.Subscribe(ctx, notification.AlertChannel)
	defer cleanup()

	require.NoError(t, svc.Alert(ctx, testEvent(geofence.ActionRestrictedAreaAlert)))

	ev := receive(t, stream)
	assert.Equal(t, notification.TypeGeofenceAlert, ev.Data.Type)
	assert.Equal(t, "user-1", ev.Data.Data["user_id"])
}

func TestStop_FlushesQueue(t *testing.T) {
	hub := sse.NewHub()
	svc := NewNotificationService(hub, Config{FlushInterval: time.Hour, WorkerCount: 1})

	raw, cleanup := hub.Subscribe("user-1")
	defer cleanup()

	require.NoError(t, svc.Notify(context.Background(), testEvent(geofence.ActionSiteVisitStart)))
	svc.Stop()
	svc.Stop()

	select {
	case ev := <-raw:
		assert.Equal(t, string(notification.TypeGeofenceEvent), ev.Event)
	default:
		t.Fatal("expected queued notification to be flushed on stop")
	}
}

func TestQueueNotification_RequiresRecipient(t *testing.T) {
	svc := NewNotificationService(sse.NewHub(), Config{WorkerCount: 1})
	defer svc.Stop()

	assert.Error(t, svc.QueueNotification(context.Background(), notification.CreateNotificationRequest{}))
}
