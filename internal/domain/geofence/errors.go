package geofence

import "github.com/cmlabs-hris/fieldshift/internal/pkg/apperror"

// Geofence domain errors
var (
	ErrGeofenceNotFound = apperror.New(apperror.KindNotFound, "GEOFENCE_NOT_FOUND", "geofence not found")
	ErrInvalidLocation  = apperror.New(apperror.KindValidation, "INVALID_LOCATION", "invalid location")
	ErrInvalidGeometry  = apperror.New(apperror.KindValidation, "INVALID_GEOMETRY", "invalid geofence geometry")
	ErrVersionConflict  = apperror.New(apperror.KindState, "GEOFENCE_VERSION_CONFLICT", "geofence was modified concurrently")
	ErrStoreUnavailable = apperror.New(apperror.KindInfrastructure, "PRESENCE_STORE_UNAVAILABLE", "presence store unavailable")

	ErrEventLogUnavailable = apperror.New(apperror.KindInfrastructure, "EVENT_LOG_UNAVAILABLE", "geofence event log unavailable")
)
