package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
	"github.com/cmlabs-hris/fieldshift/internal/domain/shift"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation errors", validator.ValidationErrors{{Field: "type", Message: "bad"}}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"invalid location", fmt.Errorf("%w: latitude", geofence.ErrInvalidLocation), http.StatusUnprocessableEntity, "INVALID_LOCATION"},
		{"not found", shift.ErrShiftNotFound, http.StatusNotFound, "SHIFT_NOT_FOUND"},
		{"state", shift.ErrAlreadyActive, http.StatusConflict, "ALREADY_ACTIVE"},
		{"policy", fmt.Errorf("%w: 80m", shift.ErrPoorGPSAccuracy), http.StatusForbidden, "POOR_GPS_ACCURACY"},
		{"infrastructure", fmt.Errorf("%w: dial tcp", shift.ErrUnavailable), http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandleError(rec, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var body Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestHandleError_HidesInfrastructureCause(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleError(rec, fmt.Errorf("%w: password=secret", shift.ErrUnavailable))

	assert.NotContains(t, rec.Body.String(), "secret")
}
