package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
	"github.com/cmlabs-hris/fieldshift/internal/domain/notification"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/sse"
	"github.com/google/uuid"
)

// Config holds notification service configuration
type Config struct {
	BatchSize     int           // default: 100
	FlushInterval time.Duration // default: 1 second
	WorkerCount   int           // default: 2
	QueueSize     int           // default: 1000
}

type service struct {
	hub    *sse.Hub
	config Config
	now    func() time.Time

	queue    chan notification.CreateNotificationRequest
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewNotificationService creates a new notification service with background workers
func NewNotificationService(hub *sse.Hub, cfg Config) notification.Service {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = 2
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1000
	}

	s := &service{
		hub:    hub,
		config: cfg,
		now:    time.Now,
		queue:  make(chan notification.CreateNotificationRequest, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	slog.Info("notification service started",
		"workers", cfg.WorkerCount, "batch_size", cfg.BatchSize, "flush_interval", cfg.FlushInterval)

	return s
}

// worker drains the queue and pushes batches to SSE subscribers
func (s *service) worker(id int) {
	defer s.wg.Done()

	batch := make([]notification.CreateNotificationRequest, 0, s.config.BatchSize)
	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		for _, req := range batch {
			s.publish(s.build(req))
		}
		slog.Debug("notifications published", "worker", id, "count", len(batch))
		batch = batch[:0]
	}

	for {
		select {
		case req := <-s.queue:
			batch = append(batch, req)
			if len(batch) >= s.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stopCh:
			// drain what is already queued
			for {
				select {
				case req := <-s.queue:
					batch = append(batch, req)
				default:
					flush()
					return
				}
			}
		}
	}
}

// QueueNotification queues a notification for async processing
func (s *service) QueueNotification(ctx context.Context, req notification.CreateNotificationRequest) error {
	if req.RecipientID == "" {
		return fmt.Errorf("notification recipient is required")
	}

	select {
	case s.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		// Queue full, publish inline
		s.publish(s.build(req))
		return nil
	}
}

// Notify tells the event's user about a geofence event
func (s *service) Notify(ctx context.Context, event geofence.Event) error {
	return s.QueueNotification(ctx, notification.CreateNotificationRequest{
		RecipientID: event.UserID,
		Type:        notification.TypeGeofenceEvent,
		Title:       fmt.Sprintf("Geofence %s", event.EventType),
		Message:     fmt.Sprintf("%s recorded at geofence %s", event.Action, event.GeofenceID),
		Data:        eventData(event),
	})
}

// Alert broadcasts a breach or emergency event. Alerts skip the queue.
func (s *service) Alert(ctx context.Context, event geofence.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := s.build(notification.CreateNotificationRequest{
		RecipientID: notification.AlertChannel,
		Type:        notification.TypeGeofenceAlert,
		Title:       "Geofence alert",
		Message:     fmt.Sprintf("%s: user %s at geofence %s", event.Action, event.UserID, event.GeofenceID),
		Data:        eventData(event),
	})
	slog.Warn("geofence alert",
		"event_id", event.ID, "geofence_id", event.GeofenceID, "user_id", event.UserID,
		"event_type", event.EventType, "action", event.Action)
	s.publish(n)
	return nil
}

func eventData(event geofence.Event) map[string]interface{} {
	data := map[string]interface{}{
		"event_id":    event.ID,
		"geofence_id": event.GeofenceID,
		"user_id":     event.UserID,
		"role":        event.Role,
		"event_type":  event.EventType,
		"action":      event.Action,
		"latitude":    event.Location.Latitude,
		"longitude":   event.Location.Longitude,
		"timestamp":   event.Timestamp.Format(time.RFC3339),
	}
	if event.ShiftID != nil {
		data["shift_id"] = *event.ShiftID
	}
	return data
}

func (s *service) build(req notification.CreateNotificationRequest) *notification.Notification {
	return &notification.Notification{
		ID:          uuid.Must(uuid.NewV7()).String(),
		RecipientID: req.RecipientID,
		Type:        req.Type,
		Title:       req.Title,
		Message:     req.Message,
		Data:        req.Data,
		CreatedAt:   s.now(),
	}
}

func (s *service) publish(n *notification.Notification) {
	s.hub.Publish(n.RecipientID, sse.Event{
		UserID: n.RecipientID,
		Event:  string(n.Type),
		Data:   toResponse(n),
	})
}

// toResponse converts a Notification entity to NotificationResponse
func toResponse(n *notification.Notification) notification.NotificationResponse {
	return notification.NotificationResponse{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		CreatedAt: n.CreatedAt,
	}
}

// Subscribe creates an SSE subscription for a user
func (s *service) Subscribe(ctx context.Context, userID string) (<-chan notification.SSEEvent, func()) {
	ch, cleanup := s.hub.Subscribe(userID)

	out := make(chan notification.SSEEvent, 10)

	go func() {
		defer close(out)
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				if resp, ok := event.Data.(notification.NotificationResponse); ok {
					select {
					case out <- notification.SSEEvent{Event: event.Event, Data: resp}:
					case <-ctx.Done():
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, cleanup
}

// Stop flushes queued notifications and stops the workers
func (s *service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		slog.Info("notification service stopped")
	})
}
