package shift

import "github.com/cmlabs-hris/fieldshift/internal/pkg/apperror"

// Shift domain errors
var (
	// Lookup
	ErrShiftNotFound = apperror.New(apperror.KindNotFound, "SHIFT_NOT_FOUND", "shift not found")

	// State errors
	ErrInvalidStateTransition = apperror.New(apperror.KindState, "INVALID_STATE_TRANSITION", "transition not allowed from the current shift state")
	ErrAlreadyActive          = apperror.New(apperror.KindState, "ALREADY_ACTIVE", "staff member already has an active shift")
	ErrCannotEndWhileOnBreak  = apperror.New(apperror.KindState, "CANNOT_END_WHILE_ON_BREAK", "end the current break before ending the shift")
	ErrNoHistoryToRecoverFrom = apperror.New(apperror.KindState, "NO_HISTORY_TO_RECOVER_FROM", "shift has no valid state history to recover from")
	ErrVersionConflict        = apperror.New(apperror.KindState, "SHIFT_VERSION_CONFLICT", "shift was modified concurrently")

	// Policy errors
	ErrOutsideGeofence       = apperror.New(apperror.KindPolicy, "OUTSIDE_GEOFENCE", "you are outside the shift geofence")
	ErrPoorGPSAccuracy       = apperror.New(apperror.KindPolicy, "POOR_GPS_ACCURACY", "gps accuracy is too low")
	ErrTooEarly              = apperror.New(apperror.KindPolicy, "TOO_EARLY", "too early to start this shift")
	ErrShiftTooShort         = apperror.New(apperror.KindPolicy, "SHIFT_TOO_SHORT", "shift is shorter than the minimum duration")
	ErrBreakDurationExceeded = apperror.New(apperror.KindPolicy, "BREAK_DURATION_EXCEEDED", "planned break is longer than allowed for its type")
	ErrBreakBudgetExceeded   = apperror.New(apperror.KindPolicy, "BREAK_BUDGET_EXCEEDED", "daily break allowance exceeded")

	// Validation errors
	ErrSummaryRequired = apperror.New(apperror.KindValidation, "SUMMARY_REQUIRED", "shift summary is required")
	ErrInvalidLocation = apperror.New(apperror.KindValidation, "INVALID_LOCATION", "invalid location")

	// Infrastructure errors
	ErrUnavailable = apperror.New(apperror.KindInfrastructure, "UNAVAILABLE", "shift service temporarily unavailable")
)
