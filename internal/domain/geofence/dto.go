package geofence

import (
	"fmt"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/pkg/geo"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/validator"
)

// ========================================
// GEOFENCE ADMINISTRATION DTOs
// ========================================

type CreateGeofenceRequest struct {
	Name            string    `json:"name"`
	SiteID          string    `json:"site_id"`
	Shape           Shape     `json:"shape"`
	AllowedRoles    []Role    `json:"allowed_roles"`
	RestrictedRoles []Role    `json:"restricted_roles"`
	Timezone        string    `json:"timezone"`
	Triggers        []Trigger `json:"triggers"`
}

func (r *CreateGeofenceRequest) Validate() error {
	var errs validator.ValidationErrors

	if validator.IsEmpty(r.Name) {
		errs.Add("name", "name is required")
	}
	if r.Timezone != "" && !validator.IsValidTimezone(r.Timezone) {
		errs.Add("timezone", "timezone must be a valid IANA name")
	}
	validateShape(&errs, r.Shape)
	validateRoles(&errs, "allowed_roles", r.AllowedRoles)
	validateRoles(&errs, "restricted_roles", r.RestrictedRoles)
	validateTriggers(&errs, r.Triggers)

	return errs.Err()
}

type UpdateGeofenceRequest struct {
	ID              string     `json:"-"`
	Version         int        `json:"version"`
	Name            *string    `json:"name,omitempty"`
	Shape           *Shape     `json:"shape,omitempty"`
	AllowedRoles    *[]Role    `json:"allowed_roles,omitempty"`
	RestrictedRoles *[]Role    `json:"restricted_roles,omitempty"`
	Timezone        *string    `json:"timezone,omitempty"`
	Active          *bool      `json:"active,omitempty"`
	Triggers        *[]Trigger `json:"triggers,omitempty"`
}

func (r *UpdateGeofenceRequest) Validate() error {
	var errs validator.ValidationErrors

	if validator.IsEmpty(r.ID) {
		errs.Add("id", "id is required")
	}
	if r.Version < 1 {
		errs.Add("version", "version must be the current geofence version")
	}
	if r.Name != nil && validator.IsEmpty(*r.Name) {
		errs.Add("name", "name must not be empty")
	}
	if r.Timezone != nil && *r.Timezone != "" && !validator.IsValidTimezone(*r.Timezone) {
		errs.Add("timezone", "timezone must be a valid IANA name")
	}
	if r.Shape != nil {
		validateShape(&errs, *r.Shape)
	}
	if r.AllowedRoles != nil {
		validateRoles(&errs, "allowed_roles", *r.AllowedRoles)
	}
	if r.RestrictedRoles != nil {
		validateRoles(&errs, "restricted_roles", *r.RestrictedRoles)
	}
	if r.Triggers != nil {
		validateTriggers(&errs, *r.Triggers)
	}

	return errs.Err()
}

func validateShape(errs *validator.ValidationErrors, s Shape) {
	switch s.Kind {
	case ShapeCircle:
		if s.Center == nil {
			errs.Add("shape.center", "circle requires a center")
		} else if !s.Center.Valid() {
			errs.Add("shape.center", "center latitude/longitude out of range")
		}
		if s.RadiusMeters <= 0 {
			errs.Add("shape.radius_meters", "radius_meters must be positive")
		}
	case ShapePolygon:
		if err := s.Polygon.Validate(); err != nil {
			errs.Add("shape.polygon", err.Error())
		}
	default:
		errs.Add("shape.kind", "shape kind must be one of: circle, polygon")
	}
}

func validateRoles(errs *validator.ValidationErrors, field string, roles []Role) {
	for _, role := range roles {
		if !validator.IsInSlice(string(role), RoleValues) {
			errs.Add(field, fmt.Sprintf("unknown role %q", role))
			return
		}
	}
}

func validateTriggers(errs *validator.ValidationErrors, triggers []Trigger) {
	for i, t := range triggers {
		field := fmt.Sprintf("triggers[%d]", i)
		if !validator.IsInSlice(string(t.EventType), EventTypeValues) {
			errs.Add(field+".event_type", "event_type must be one of: enter, exit, dwell, breach")
		}
		if !validator.IsInSlice(string(t.Action), ActionValues) {
			errs.Add(field+".action", fmt.Sprintf("unknown action %q", t.Action))
		}
		if t.CooldownSeconds < 0 {
			errs.Add(field+".cooldown_seconds", "cooldown_seconds must not be negative")
		}
		c := t.Conditions
		if c.MinDwellSeconds < 0 {
			errs.Add(field+".conditions.min_dwell_seconds", "min_dwell_seconds must not be negative")
		}
		if t.EventType == EventDwell && c.MinDwellSeconds == 0 {
			errs.Add(field+".conditions.min_dwell_seconds", "dwell triggers require min_dwell_seconds")
		}
		if t.EventType != EventDwell && c.MinDwellSeconds > 0 {
			errs.Add(field+".conditions.min_dwell_seconds", "min_dwell_seconds only applies to dwell triggers")
		}
		if c.TimeWindow != nil && (!validator.IsValidClock(c.TimeWindow.Start) || !validator.IsValidClock(c.TimeWindow.End)) {
			errs.Add(field+".conditions.time_window", "time_window bounds must be HH:MM")
		}
		for _, d := range c.DaysOfWeek {
			if d < time.Sunday || d > time.Saturday {
				errs.Add(field+".conditions.days_of_week", "days_of_week must be 0 (Sunday) to 6 (Saturday)")
				break
			}
		}
		validateRoles(errs, field+".conditions.roles", c.Roles)
	}
}

type GeofenceResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	SiteID          string    `json:"site_id,omitempty"`
	Shape           Shape     `json:"shape"`
	AllowedRoles    []Role    `json:"allowed_roles"`
	RestrictedRoles []Role    `json:"restricted_roles"`
	Timezone        string    `json:"timezone"`
	Active          bool      `json:"active"`
	Triggers        []Trigger `json:"triggers"`
	Version         int       `json:"version"`
	CreatedAt       string    `json:"created_at"`
	UpdatedAt       string    `json:"updated_at"`
}

func ToResponse(g Geofence) GeofenceResponse {
	return GeofenceResponse{
		ID:              g.ID,
		Name:            g.Name,
		SiteID:          g.SiteID,
		Shape:           g.Shape,
		AllowedRoles:    g.AllowedRoles,
		RestrictedRoles: g.RestrictedRoles,
		Timezone:        g.Timezone,
		Active:          g.Active,
		Triggers:        g.Triggers,
		Version:         g.Version,
		CreatedAt:       g.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       g.UpdatedAt.Format(time.RFC3339),
	}
}

// ========================================
// EVALUATION DTOs
// ========================================

// EvaluateRequest is one location sample for a user.
type EvaluateRequest struct {
	UserID           string         `json:"user_id"`
	Role             Role           `json:"role"`
	Location         geo.Coordinate `json:"location"`
	Timestamp        time.Time      `json:"timestamp"`
	ActiveGeofenceID *string        `json:"active_geofence_id,omitempty"`

	// ShiftID is stamped on the emitted events when the user has an active shift
	ShiftID *string `json:"-"`
}

// Validate returns ErrInvalidLocation for bad samples and validation errors otherwise.
func (r *EvaluateRequest) Validate() error {
	if err := r.Location.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}

	var errs validator.ValidationErrors
	if validator.IsEmpty(r.UserID) {
		errs.Add("user_id", "user_id is required")
	}
	if !validator.IsInSlice(string(r.Role), RoleValues) {
		errs.Add("role", fmt.Sprintf("unknown role %q", r.Role))
	}
	if r.Timestamp.IsZero() {
		errs.Add("timestamp", "timestamp is required")
	}
	return errs.Err()
}

type EventResponse struct {
	ID         string         `json:"id"`
	GeofenceID string         `json:"geofence_id"`
	UserID     string         `json:"user_id"`
	EventType  EventType      `json:"event_type"`
	Action     Action         `json:"action,omitempty"`
	Location   geo.Coordinate `json:"location"`
	Timestamp  string         `json:"timestamp"`
	ShiftID    *string        `json:"shift_id,omitempty"`
}

func ToEventResponse(e Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		GeofenceID: e.GeofenceID,
		UserID:     e.UserID,
		EventType:  e.EventType,
		Action:     e.Action,
		Location:   e.Location,
		Timestamp:  e.Timestamp.Format(time.RFC3339),
		ShiftID:    e.ShiftID,
	}
}

type ListEventsFilter struct {
	GeofenceID string
	From       time.Time
	To         time.Time
}
