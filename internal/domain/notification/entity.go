package notification

import (
	"time"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	TypeGeofenceEvent NotificationType = "geofence_event"
	TypeGeofenceAlert NotificationType = "geofence_alert"
)

// AlertChannel is the hub topic supervisors subscribe to for breach and
// emergency alerts.
const AlertChannel = "alerts"

// Notification represents a notification entity
type Notification struct {
	ID          string
	RecipientID string
	Type        NotificationType
	Title       string
	Message     string
	Data        map[string]interface{}
	CreatedAt   time.Time
}
