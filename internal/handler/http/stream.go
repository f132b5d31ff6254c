package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/notification"
	"github.com/go-chi/chi/v5"
)

const keepaliveInterval = 30 * time.Second

type StreamHandler interface {
	User(w http.ResponseWriter, r *http.Request)
	Alerts(w http.ResponseWriter, r *http.Request)
}

type streamHandlerImpl struct {
	notifService notification.Service
}

func NewStreamHandler(notifService notification.Service) StreamHandler {
	return &streamHandlerImpl{
		notifService: notifService,
	}
}

// User streams the geofence events of one user.
func (h *streamHandlerImpl) User(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" || userID == notification.AlertChannel {
		http.Error(w, "Invalid user", http.StatusBadRequest)
		return
	}
	h.stream(w, r, userID)
}

// Alerts streams breach and emergency alerts.
func (h *streamHandlerImpl) Alerts(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, notification.AlertChannel)
}

func (h *streamHandlerImpl) stream(w http.ResponseWriter, r *http.Request, topic string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	events, cleanup := h.notifService.Subscribe(r.Context(), topic)
	defer cleanup()

	connected, _ := json.Marshal(map[string]string{"status": "connected", "topic": topic})
	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", connected)
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Event, data)
			flusher.Flush()

		case <-keepalive.C:
			fmt.Fprintf(w, "event: ping\ndata: {\"timestamp\":%d}\n\n", time.Now().Unix())
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
