package shift

import (
	"context"
)

// ShiftService is the shift state machine. Every mutating call is
// serialized per shift and commits its state change, history entry and
// audit record together.
type ShiftService interface {
	// ScheduleShift creates an idle shift
	ScheduleShift(ctx context.Context, req ScheduleShiftRequest) (Shift, error)

	// StartShift moves an idle shift to in-shift
	StartShift(ctx context.Context, req StartShiftRequest) (Shift, error)

	// StartBreak opens a break on an in-shift shift
	StartBreak(ctx context.Context, req StartBreakRequest) (Shift, error)

	// EndBreak closes the open break and returns to in-shift
	EndBreak(ctx context.Context, shiftID string) (Shift, error)

	// EndShift moves an in-shift shift to post-shift
	EndShift(ctx context.Context, req EndShiftRequest) (Shift, error)

	// CompleteShift closes a post-shift shift with its summary
	CompleteShift(ctx context.Context, req CompleteShiftRequest) (Shift, error)

	// HandleGeofenceEntry is the automatic StartShift. It never returns a
	// state, policy or infrastructure error; those are logged and reported
	// in the result.
	HandleGeofenceEntry(ctx context.Context, cmd AutomaticCommand) AutomaticResult

	// HandleGeofenceExit is the automatic EndShift, with the same error contract as HandleGeofenceEntry
	HandleGeofenceExit(ctx context.Context, cmd AutomaticCommand) AutomaticResult

	// RecoverShiftState repairs a shift whose current state is not a known state
	RecoverShiftState(ctx context.Context, shiftID string) (Shift, error)

	GetShift(ctx context.Context, shiftID string) (Shift, error)
}
