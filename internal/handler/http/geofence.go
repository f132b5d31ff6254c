package http

import (
	"net/http"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
	"github.com/cmlabs-hris/fieldshift/internal/handler/http/response"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/validator"
	"github.com/go-chi/chi/v5"
)

type GeofenceHandler interface {
	Create(w http.ResponseWriter, r *http.Request)
	List(w http.ResponseWriter, r *http.Request)
	Get(w http.ResponseWriter, r *http.Request)
	Update(w http.ResponseWriter, r *http.Request)
	Deactivate(w http.ResponseWriter, r *http.Request)
	ListEvents(w http.ResponseWriter, r *http.Request)
}

type geofenceHandlerImpl struct {
	registry geofence.Registry
	engine   geofence.Engine
}

func NewGeofenceHandler(registry geofence.Registry, engine geofence.Engine) GeofenceHandler {
	return &geofenceHandlerImpl{
		registry: registry,
		engine:   engine,
	}
}

// Create implements GeofenceHandler.
func (h *geofenceHandlerImpl) Create(w http.ResponseWriter, r *http.Request) {
	var req geofence.CreateGeofenceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	g, err := h.registry.Create(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}
	response.Created(w, "Geofence created", geofence.ToResponse(g))
}

// List implements GeofenceHandler. Only active geofences are listed.
func (h *geofenceHandlerImpl) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.registry.ListActive(r.Context())
	if err != nil {
		response.HandleError(w, err)
		return
	}

	out := make([]geofence.GeofenceResponse, 0, len(list))
	for _, g := range list {
		out = append(out, geofence.ToResponse(g))
	}
	response.Success(w, out)
}

// Get implements GeofenceHandler.
func (h *geofenceHandlerImpl) Get(w http.ResponseWriter, r *http.Request) {
	g, err := h.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err)
		return
	}
	response.Success(w, geofence.ToResponse(g))
}

// Update implements GeofenceHandler.
func (h *geofenceHandlerImpl) Update(w http.ResponseWriter, r *http.Request) {
	var req geofence.UpdateGeofenceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "id")

	g, err := h.registry.Update(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}
	response.SuccessWithMessage(w, "Geofence updated", geofence.ToResponse(g))
}

type deactivateRequest struct {
	Version int `json:"version"`
}

// Deactivate implements GeofenceHandler.
func (h *geofenceHandlerImpl) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req deactivateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	g, err := h.registry.Deactivate(r.Context(), chi.URLParam(r, "id"), req.Version)
	if err != nil {
		response.HandleError(w, err)
		return
	}
	response.SuccessWithMessage(w, "Geofence deactivated", geofence.ToResponse(g))
}

// ListEvents implements GeofenceHandler. from and to are optional RFC 3339
// bounds of the half-open window [from, to).
func (h *geofenceHandlerImpl) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter := geofence.ListEventsFilter{GeofenceID: chi.URLParam(r, "id")}

	details := map[string]string{}
	for key, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		raw := r.URL.Query().Get(key)
		if raw == "" {
			continue
		}
		t, ok := validator.IsValidDateTime(raw)
		if !ok {
			details[key] = key + " must be an RFC 3339 timestamp"
			continue
		}
		*dst = t
	}
	if len(details) > 0 {
		response.BadRequest(w, "Invalid query parameters", details)
		return
	}

	events, err := h.engine.ListEvents(r.Context(), filter)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	out := make([]geofence.EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, geofence.ToEventResponse(e))
	}
	response.Success(w, out)
}
