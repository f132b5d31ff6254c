package http

import (
	"net/http"

	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
	"github.com/cmlabs-hris/fieldshift/internal/domain/tracking"
	"github.com/cmlabs-hris/fieldshift/internal/handler/http/response"
)

type TrackingHandler interface {
	Ingest(w http.ResponseWriter, r *http.Request)
}

type trackingHandlerImpl struct {
	trackingService tracking.Service
}

func NewTrackingHandler(trackingService tracking.Service) TrackingHandler {
	return &trackingHandlerImpl{
		trackingService: trackingService,
	}
}

// Ingest implements TrackingHandler.
func (h *trackingHandlerImpl) Ingest(w http.ResponseWriter, r *http.Request) {
	var req geofence.EvaluateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.trackingService.Ingest(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}
	response.Success(w, tracking.ToIngestResponse(result))
}
