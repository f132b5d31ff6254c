package response

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cmlabs-hris/fieldshift/internal/pkg/apperror"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/validator"
)

// HandleError maps domain errors to HTTP responses by their kind.
func HandleError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		ValidationError(w, "VALIDATION_ERROR", "Validation failed", validationErrs.ToMap())
		return
	}

	var domainErr *apperror.Error
	if !errors.As(err, &domainErr) {
		slog.Error("unhandled error", "error", err)
		InternalServerError(w, "An unexpected error occurred")
		return
	}

	code := domainErr.Code()
	switch domainErr.Kind() {
	case apperror.KindValidation:
		ValidationError(w, code, err.Error(), nil)
	case apperror.KindNotFound:
		NotFound(w, code, domainErr.Error())
	case apperror.KindState:
		Conflict(w, code, err.Error())
	case apperror.KindPolicy:
		Forbidden(w, code, err.Error())
	case apperror.KindInfrastructure:
		// the wrapped cause stays in the log
		slog.Error("service unavailable", "code", code, "error", err)
		ServiceUnavailable(w, code, domainErr.Error())
	default:
		slog.Error("unhandled error", "error", err)
		InternalServerError(w, "An unexpected error occurred")
	}
}
