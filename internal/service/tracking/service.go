package tracking

import (
	"context"
	"log/slog"

	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
	"github.com/cmlabs-hris/fieldshift/internal/domain/notification"
	"github.com/cmlabs-hris/fieldshift/internal/domain/shift"
	"github.com/cmlabs-hris/fieldshift/internal/domain/tracking"
	"golang.org/x/sync/errgroup"
)

type TrackingServiceImpl struct {
	engine        geofence.Engine
	shifts        shift.ShiftService
	activeShifts  shift.ActiveShiftRegistry
	notifications notification.Service
}

func NewTrackingService(
	engine geofence.Engine,
	shifts shift.ShiftService,
	activeShifts shift.ActiveShiftRegistry,
	notifications notification.Service,
) tracking.Service {
	return &TrackingServiceImpl{
		engine:        engine,
		shifts:        shifts,
		activeShifts:  activeShifts,
		notifications: notifications,
	}
}

// Ingest implements tracking.Service.
func (s *TrackingServiceImpl) Ingest(ctx context.Context, req geofence.EvaluateRequest) (tracking.IngestResult, error) {
	if err := req.Validate(); err != nil {
		return tracking.IngestResult{}, err
	}

	if req.ShiftID == nil {
		active, err := s.activeShifts.ActiveShift(ctx, req.UserID)
		if err != nil {
			slog.Warn("active shift lookup failed", "user_id", req.UserID, "error", err)
		} else if active != "" {
			req.ShiftID = &active
		}
	}

	// events returned with an error are already logged and must still be acted on
	events, err := s.engine.Evaluate(ctx, req)
	if err != nil && len(events) == 0 {
		return tracking.IngestResult{}, err
	}

	result := tracking.IngestResult{Events: events}

	// shift commands run in event order so an exit is applied before a re-entry
	for _, ev := range events {
		cmd := shift.AutomaticCommand{
			StaffID:    ev.UserID,
			GeofenceID: ev.GeofenceID,
			EventType:  string(ev.EventType),
			Location:   ev.Location,
			At:         ev.Timestamp,
		}
		switch {
		case ev.Action.StartsShift():
			result.Shifts = append(result.Shifts, s.shifts.HandleGeofenceEntry(ctx, cmd))
		case ev.Action.EndsShift():
			if ev.ShiftID != nil {
				cmd.ShiftID = *ev.ShiftID
			}
			result.Shifts = append(result.Shifts, s.shifts.HandleGeofenceExit(ctx, cmd))
		}
	}

	s.dispatch(ctx, events)
	return result, err
}

// dispatch fans the events out to the notification collaborators. Delivery
// failures are logged and never fail the sample.
func (s *TrackingServiceImpl) dispatch(ctx context.Context, events []geofence.Event) {
	var g errgroup.Group
	for _, ev := range events {
		ev := ev // per-iteration copy (go directive is below 1.22)
		if ev.Action.Notifies() {
			g.Go(func() error {
				if err := s.notifications.Notify(ctx, ev); err != nil {
					slog.Error("failed to notify geofence event", "event_id", ev.ID, "error", err)
				}
				return nil
			})
		}
		if ev.Action.IsAlert() || ev.EventType == geofence.EventBreach {
			g.Go(func() error {
				if err := s.notifications.Alert(ctx, ev); err != nil {
					slog.Error("failed to raise geofence alert", "event_id", ev.ID, "error", err)
				}
				return nil
			})
		}
	}
	_ = g.Wait()
}
