package tracking

import (
	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
	"github.com/cmlabs-hris/fieldshift/internal/domain/shift"
)

// IngestResult is what one location sample caused.
type IngestResult struct {
	Events []geofence.Event
	Shifts []shift.AutomaticResult
}

type ShiftCommandResponse struct {
	ShiftID string `json:"shift_id,omitempty"`
	Applied bool   `json:"applied"`
	Skipped string `json:"skipped,omitempty"`
}

type IngestResponse struct {
	Events []geofence.EventResponse `json:"events"`
	Shifts []ShiftCommandResponse   `json:"shift_commands"`
}

func ToIngestResponse(r IngestResult) IngestResponse {
	resp := IngestResponse{
		Events: make([]geofence.EventResponse, 0, len(r.Events)),
		Shifts: make([]ShiftCommandResponse, 0, len(r.Shifts)),
	}
	for _, e := range r.Events {
		resp.Events = append(resp.Events, geofence.ToEventResponse(e))
	}
	for _, s := range r.Shifts {
		resp.Shifts = append(resp.Shifts, ShiftCommandResponse{ShiftID: s.ShiftID, Applied: s.Applied, Skipped: s.Skipped})
	}
	return resp
}
