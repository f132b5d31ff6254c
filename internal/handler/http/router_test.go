package http_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
	handler "github.com/cmlabs-hris/fieldshift/internal/handler/http"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/lock"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/sse"
	"github.com/cmlabs-hris/fieldshift/internal/repository/memory"
	geofencesvc "github.com/cmlabs-hris/fieldshift/internal/service/geofence"
	notificationsvc "github.com/cmlabs-hris/fieldshift/internal/service/notification"
	shiftsvc "github.com/cmlabs-hris/fieldshift/internal/service/shift"
	trackingsvc "github.com/cmlabs-hris/fieldshift/internal/service/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	siteLat = -6.2000
	siteLon = 106.8166
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

type testServer struct {
	now    time.Time
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return ts.now }

	store := memory.NewStore().WithClock(clock)
	shiftRepo := memory.NewShiftRepository(store)
	active := memory.NewActiveShiftRegistry(store)
	registry := geofencesvc.NewRegistry(memory.NewGeofenceRepository(store), 0).WithClock(clock)
	engine := geofencesvc.NewEngine(registry, geofencesvc.NewMemoryPresenceStore(), memory.NewEventRepository(store), geofencesvc.EngineConfig{})
	shifts := shiftsvc.NewShiftService(shiftRepo, active, store, memory.NewAuditSink(store), registry,
		lock.NewKeyedMutex(), shiftsvc.DefaultPolicy(), shiftsvc.WithClock(clock))

	hub := sse.NewHub()
	notifications := notificationsvc.NewNotificationService(hub, notificationsvc.Config{FlushInterval: 10 * time.Millisecond})
	t.Cleanup(func() {
		notifications.Stop()
		hub.Close()
	})
	tracking := trackingsvc.NewTrackingService(engine, shifts, active, notifications)

	ts.router = handler.NewRouter(handler.RouterConfig{
		AppName:        "fieldshift-test",
		AllowedOrigins: []string{"*"},
	}, handler.Handlers{
		Shift:    handler.NewShiftHandler(shifts),
		Geofence: handler.NewGeofenceHandler(registry, engine),
		Tracking: handler.NewTrackingHandler(tracking),
		Stream:   handler.NewStreamHandler(notifications),
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func location(northMeters float64) map[string]interface{} {
	return map[string]interface{}{
		"latitude":  siteLat + northMeters/111_320,
		"longitude": siteLon,
		"accuracy":  8,
	}
}

func (ts *testServer) createGeofence(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	body["name"] = "Site"
	body["shape"] = map[string]interface{}{
		"kind":          "circle",
		"center":        map[string]float64{"latitude": siteLat, "longitude": siteLon},
		"radius_meters": 100,
	}
	code, env := ts.do(t, http.MethodPost, "/api/v1/geofences", body)
	require.Equal(t, http.StatusCreated, code, env.Error)

	var g struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &g))
	return g.ID
}

func TestShiftLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	gfID := ts.createGeofence(t, map[string]interface{}{})

	code, env := ts.do(t, http.MethodPost, "/api/v1/shifts", map[string]interface{}{
		"staff_id":          "staff-1",
		"site_id":           "site-1",
		"scheduled_start":   ts.now,
		"scheduled_end":     ts.now.Add(8 * time.Hour),
		"geofence_required": true,
		"geofence_id":       gfID,
	})
	require.Equal(t, http.StatusCreated, code)
	var sh struct {
		ID           string `json:"id"`
		CurrentState string `json:"current_state"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sh))
	assert.Equal(t, "idle", sh.CurrentState)
	base := "/api/v1/shifts/" + sh.ID

	code, env = ts.do(t, http.MethodPost, base+"/start", map[string]interface{}{"location": location(500)})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "OUTSIDE_GEOFENCE", env.Error.Code)

	code, _ = ts.do(t, http.MethodPost, base+"/start", map[string]interface{}{"location": location(10)})
	require.Equal(t, http.StatusOK, code)

	code, env = ts.do(t, http.MethodPost, base+"/start", map[string]interface{}{"location": location(10)})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_STATE_TRANSITION", env.Error.Code)

	code, env = ts.do(t, http.MethodPost, base+"/breaks", map[string]interface{}{"type": "nap", "planned_duration_minutes": 10})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, env.Error.Details, "type")

	code, _ = ts.do(t, http.MethodPost, base+"/breaks", map[string]interface{}{"type": "short", "planned_duration_minutes": 15})
	require.Equal(t, http.StatusOK, code)
	code, _ = ts.do(t, http.MethodPost, base+"/breaks/end", nil)
	require.Equal(t, http.StatusOK, code)

	code, env = ts.do(t, http.MethodPost, base+"/end", map[string]interface{}{"location": location(10)})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "SHIFT_TOO_SHORT", env.Error.Code)

	ts.now = ts.now.Add(9 * time.Hour)
	code, _ = ts.do(t, http.MethodPost, base+"/end", map[string]interface{}{"location": location(10)})
	require.Equal(t, http.StatusOK, code)

	code, env = ts.do(t, http.MethodPost, base+"/complete", map[string]interface{}{"summary": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "SUMMARY_REQUIRED", env.Error.Code)

	code, env = ts.do(t, http.MethodPost, base+"/complete", map[string]interface{}{"summary": "all good"})
	require.Equal(t, http.StatusOK, code)

	var done struct {
		CurrentState     string   `json:"current_state"`
		OvertimeHours    *float64 `json:"overtime_hours"`
		RequiresApproval bool     `json:"requires_approval"`
		StateHistory     []struct {
			ToState string `json:"to_state"`
		} `json:"state_history"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &done))
	assert.Equal(t, "completed", done.CurrentState)
	require.NotNil(t, done.OvertimeHours)
	assert.Equal(t, 1.0, *done.OvertimeHours)
	assert.True(t, done.RequiresApproval)
	assert.Len(t, done.StateHistory, 5)
}

func TestRequestErrors(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodGet, "/api/v1/shifts/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "SHIFT_NOT_FOUND", env.Error.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/geofences", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/geofences/missing/events?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = ts.do(t, http.MethodPost, "/api/v1/locations", map[string]interface{}{
		"user_id":   "u1",
		"role":      "field-worker",
		"location":  map[string]interface{}{"latitude": 95, "longitude": 0, "accuracy": 5},
		"timestamp": ts.now,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "INVALID_LOCATION", env.Error.Code)
}

func TestLocationIngestionAndEventLog(t *testing.T) {
	ts := newTestServer(t)
	gfID := ts.createGeofence(t, map[string]interface{}{
		"triggers": []map[string]interface{}{
			{"event_type": "enter", "action": "site-visit-start", "enabled": true},
		},
	})

	code, env := ts.do(t, http.MethodPost, "/api/v1/locations", map[string]interface{}{
		"user_id":   "u1",
		"role":      "supervisor",
		"location":  location(5),
		"timestamp": ts.now,
	})
	require.Equal(t, http.StatusOK, code, env.Error)

	var ingest struct {
		Events []struct {
			EventType string `json:"event_type"`
			Action    string `json:"action"`
		} `json:"events"`
		Shifts []struct {
			Applied bool `json:"applied"`
		} `json:"shift_commands"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &ingest))
	require.Len(t, ingest.Events, 1)
	assert.Equal(t, "enter", ingest.Events[0].EventType)
	require.Len(t, ingest.Shifts, 1)
	assert.False(t, ingest.Shifts[0].Applied)

	from := ts.now.Add(-time.Minute).Format(time.RFC3339)
	code, env = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/geofences/%s/events?from=%s", gfID, from), nil)
	require.Equal(t, http.StatusOK, code)
	var events []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &events))
	assert.Len(t, events, 1)
}

func TestAlertStream(t *testing.T) {
	ts := newTestServer(t)
	ts.createGeofence(t, map[string]interface{}{
		"restricted_roles": []string{"visitor"},
		"triggers": []map[string]interface{}{
			{"event_type": "breach", "action": "restricted-area-alert", "enabled": true},
		},
	})

	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/stream/alerts", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event: connected", lines.Text())

	code, _ := ts.do(t, http.MethodPost, "/api/v1/locations", map[string]interface{}{
		"user_id":   "visitor-1",
		"role":      "visitor",
		"location":  location(5),
		"timestamp": ts.now,
	})
	require.Equal(t, http.StatusOK, code)

	for lines.Scan() {
		if lines.Text() == "event: geofence_alert" {
			require.True(t, lines.Scan())
			assert.Contains(t, lines.Text(), "visitor-1")
			return
		}
	}
	t.Fatal("alert not received")
}

func TestGeofenceAdmin(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createGeofence(t, map[string]interface{}{"allowed_roles": []string{string(geofence.RoleFieldWorker)}})

	code, env := ts.do(t, http.MethodPut, "/api/v1/geofences/"+id, map[string]interface{}{"version": 1, "name": "Renamed"})
	require.Equal(t, http.StatusOK, code)
	var g struct {
		Name    string `json:"name"`
		Version int    `json:"version"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &g))
	assert.Equal(t, "Renamed", g.Name)
	assert.Equal(t, 2, g.Version)

	code, env = ts.do(t, http.MethodPut, "/api/v1/geofences/"+id, map[string]interface{}{"version": 1, "name": "Stale"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "GEOFENCE_VERSION_CONFLICT", env.Error.Code)

	code, _ = ts.do(t, http.MethodPost, "/api/v1/geofences/"+id+"/deactivate", map[string]interface{}{"version": 2})
	require.Equal(t, http.StatusOK, code)

	code, env = ts.do(t, http.MethodGet, "/api/v1/geofences", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, "[]", string(env.Data))
}
