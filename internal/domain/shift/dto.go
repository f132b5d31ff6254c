package shift

import (
	"fmt"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/pkg/geo"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/validator"
)

// ========================================
// MANUAL COMMAND DTOs
// ========================================

type StartShiftRequest struct {
	ShiftID  string         `json:"-"`
	Location geo.Coordinate `json:"location"`
	DeviceID string         `json:"device_id,omitempty"`
}

func (r *StartShiftRequest) Validate() error {
	return validateLocated(r.ShiftID, r.Location)
}

type EndShiftRequest struct {
	ShiftID  string         `json:"-"`
	Location geo.Coordinate `json:"location"`
	DeviceID string         `json:"device_id,omitempty"`
}

func (r *EndShiftRequest) Validate() error {
	return validateLocated(r.ShiftID, r.Location)
}

func validateLocated(shiftID string, loc geo.Coordinate) error {
	if validator.IsEmpty(shiftID) {
		return validator.ValidationErrors{{Field: "shift_id", Message: "shift_id is required"}}
	}
	if err := loc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	return nil
}

type StartBreakRequest struct {
	ShiftID                string    `json:"-"`
	Type                   BreakType `json:"type"`
	PlannedDurationMinutes int       `json:"planned_duration_minutes"`
	Reason                 string    `json:"reason,omitempty"`
}

func (r *StartBreakRequest) Validate() error {
	var errs validator.ValidationErrors

	if validator.IsEmpty(r.ShiftID) {
		errs.Add("shift_id", "shift_id is required")
	}
	if !validator.IsInSlice(string(r.Type), BreakTypeValues) {
		errs.Add("type", "type must be one of: lunch, short, emergency, authorized, unauthorized")
	}
	if r.PlannedDurationMinutes <= 0 {
		errs.Add("planned_duration_minutes", "planned_duration_minutes must be positive")
	}

	return errs.Err()
}

type CompleteShiftRequest struct {
	ShiftID        string   `json:"-"`
	Summary        string   `json:"summary"`
	Issues         []string `json:"issues,omitempty"`
	NextShiftNotes *string  `json:"next_shift_notes,omitempty"`
}

func (r *CompleteShiftRequest) Validate() error {
	if validator.IsEmpty(r.ShiftID) {
		return validator.ValidationErrors{{Field: "shift_id", Message: "shift_id is required"}}
	}
	if validator.IsEmpty(r.Summary) {
		return ErrSummaryRequired
	}
	return nil
}

type ScheduleShiftRequest struct {
	StaffID          string    `json:"staff_id"`
	SiteID           string    `json:"site_id"`
	ScheduledStart   time.Time `json:"scheduled_start"`
	ScheduledEnd     time.Time `json:"scheduled_end"`
	GeofenceRequired bool      `json:"geofence_required"`
	GeofenceID       *string   `json:"geofence_id,omitempty"`
}

func (r *ScheduleShiftRequest) Validate() error {
	var errs validator.ValidationErrors

	if validator.IsEmpty(r.StaffID) {
		errs.Add("staff_id", "staff_id is required")
	}
	if r.ScheduledStart.IsZero() {
		errs.Add("scheduled_start", "scheduled_start is required")
	}
	if !r.ScheduledEnd.After(r.ScheduledStart) {
		errs.Add("scheduled_end", "scheduled_end must be after scheduled_start")
	}
	if r.GeofenceRequired && (r.GeofenceID == nil || validator.IsEmpty(*r.GeofenceID)) {
		errs.Add("geofence_id", "geofence_id is required when geofence_required is set")
	}

	return errs.Err()
}

// ========================================
// AUTOMATIC COMMAND DTOs
// ========================================

// AutomaticCommand is a geofence-triggered request. Either ShiftID or
// StaffID must be set; with only StaffID the target shift is resolved from
// the staff member's schedule.
type AutomaticCommand struct {
	ShiftID    string
	StaffID    string
	GeofenceID string
	EventType  string
	Location   geo.Coordinate
	At         time.Time
}

// AutomaticResult reports what an automatic command did. Failures are
// described here instead of being returned as errors.
type AutomaticResult struct {
	Applied bool
	ShiftID string
	Skipped string
}

// ========================================
// RESPONSE DTOs
// ========================================

type ShiftResponse struct {
	ID               string            `json:"id"`
	StaffID          string            `json:"staff_id"`
	SiteID           string            `json:"site_id"`
	ScheduledStart   string            `json:"scheduled_start"`
	ScheduledEnd     string            `json:"scheduled_end"`
	ActualStart      *string           `json:"actual_start,omitempty"`
	ActualEnd        *string           `json:"actual_end,omitempty"`
	CurrentState     State             `json:"current_state"`
	GeofenceRequired bool              `json:"geofence_required"`
	GeofenceID       *string           `json:"geofence_id,omitempty"`
	CurrentBreak     *Break            `json:"current_break,omitempty"`
	BreakHistory     []Break           `json:"break_history"`
	StateHistory     []StateTransition `json:"state_history"`
	TotalHours       *float64          `json:"total_hours,omitempty"`
	OvertimeHours    *float64          `json:"overtime_hours,omitempty"`
	RequiresApproval bool              `json:"requires_approval"`
	EarlyEnd         bool              `json:"early_end"`
	ScheduledHours   *float64          `json:"scheduled_hours,omitempty"`
	ActualHours      *float64          `json:"actual_hours,omitempty"`
	Summary          *string           `json:"summary,omitempty"`
	Issues           []string          `json:"issues,omitempty"`
	NextShiftNotes   *string           `json:"next_shift_notes,omitempty"`
	RequiresReview   bool              `json:"requires_review"`
	ReviewNotes      []string          `json:"review_notes,omitempty"`
	Version          int               `json:"version"`
	UpdatedAt        string            `json:"updated_at"`
}

// timePtrToString safely converts a *time.Time to a string.
func timePtrToString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	format := t.Format(time.RFC3339)
	return &format
}

func ToResponse(s Shift) ShiftResponse {
	breaks := s.BreakHistory
	if breaks == nil {
		breaks = []Break{}
	}
	history := s.StateHistory
	if history == nil {
		history = []StateTransition{}
	}
	return ShiftResponse{
		ID:               s.ID,
		StaffID:          s.StaffID,
		SiteID:           s.SiteID,
		ScheduledStart:   s.ScheduledStart.Format(time.RFC3339),
		ScheduledEnd:     s.ScheduledEnd.Format(time.RFC3339),
		ActualStart:      timePtrToString(s.ActualStart),
		ActualEnd:        timePtrToString(s.ActualEnd),
		CurrentState:     s.CurrentState,
		GeofenceRequired: s.GeofenceRequired,
		GeofenceID:       s.GeofenceID,
		CurrentBreak:     s.CurrentBreak,
		BreakHistory:     breaks,
		StateHistory:     history,
		TotalHours:       s.TotalHours,
		OvertimeHours:    s.OvertimeHours,
		RequiresApproval: s.RequiresApproval,
		EarlyEnd:         s.EarlyEnd,
		ScheduledHours:   s.ScheduledHours,
		ActualHours:      s.ActualHours,
		Summary:          s.Summary,
		Issues:           s.Issues,
		NextShiftNotes:   s.NextShiftNotes,
		RequiresReview:   s.RequiresReview,
		ReviewNotes:      s.ReviewNotes,
		Version:          s.Version,
		UpdatedAt:        s.UpdatedAt.Format(time.RFC3339),
	}
}
