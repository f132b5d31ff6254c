package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
	"github.com/cmlabs-hris/fieldshift/internal/domain/notification"
	"github.com/cmlabs-hris/fieldshift/internal/domain/shift"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/geo"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/lock"
	"github.com/cmlabs-hris/fieldshift/internal/repository/memory"
	geofencesvc "github.com/cmlabs-hris/fieldshift/internal/service/geofence"
	shiftsvc "github.com/cmlabs-hris/fieldshift/internal/service/shift"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	depot = geo.Point{Latitude: -6.2000, Longitude: 106.8166}
	start = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
)

type recorder struct {
	mu       sync.Mutex
	notified []geofence.Event
	alerted  []geofence.Event
}

func (r *recorder) QueueNotification(ctx context.Context, req notification.CreateNotificationRequest) error {
	return nil
}

func (r *recorder) Notify(ctx context.Context, ev geofence.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, ev)
	return nil
}

func (r *recorder) Alert(ctx context.Context, ev geofence.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerted = append(r.alerted, ev)
	return nil
}

func (r *recorder) Subscribe(ctx context.Context, userID string) (<-chan notification.SSEEvent, func()) {
	ch := make(chan notification.SSEEvent)
	close(ch)
	return ch, func() {}
}

func (r *recorder) Stop() {}

// eventLog fails appends for one geofence.
type eventLog struct {
	geofence.EventRepository
	failFor string
}

func (l *eventLog) Append(ctx context.Context, events ...geofence.Event) error {
	for _, ev := range events {
		if ev.GeofenceID == l.failFor {
			return errors.New("event log down")
		}
	}
	return l.EventRepository.Append(ctx, events...)
}

type fixture struct {
	now       time.Time
	shifts    shift.ShiftRepository
	geofences *geofencesvc.RegistryImpl
	events    *eventLog
	notifier  *recorder
	service   *TrackingServiceImpl
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: start, notifier: &recorder{}}
	clock := func() time.Time { return f.now }

	store := memory.NewStore().WithClock(clock)
	f.shifts = memory.NewShiftRepository(store)
	active := memory.NewActiveShiftRegistry(store)
	f.geofences = geofencesvc.NewRegistry(memory.NewGeofenceRepository(store), 0)
	f.events = &eventLog{EventRepository: memory.NewEventRepository(store)}
	engine := geofencesvc.NewEngine(f.geofences, geofencesvc.NewMemoryPresenceStore(), f.events, geofencesvc.EngineConfig{})
	shifts := shiftsvc.NewShiftService(f.shifts, active, store, memory.NewAuditSink(store), f.geofences,
		lock.NewKeyedMutex(), shiftsvc.DefaultPolicy(), shiftsvc.WithClock(clock))

	f.service = NewTrackingService(engine, shifts, active, f.notifier).(*TrackingServiceImpl)
	return f
}

func (f *fixture) geofence(t *testing.T, req geofence.CreateGeofenceRequest) geofence.Geofence {
	t.Helper()
	center := depot
	req.Name = "Depot"
	req.Shape = geofence.Shape{Kind: geofence.ShapeCircle, Center: &center, RadiusMeters: 100}
	g, err := f.geofences.Create(context.Background(), req)
	require.NoError(t, err)
	return g
}

func sample(user string, role geofence.Role, meters float64, ts time.Time) geofence.EvaluateRequest {
	acc := 8.0
	return geofence.EvaluateRequest{
		UserID: user,
		Role:   role,
		Location: geo.Coordinate{
			Latitude:  depot.Latitude + meters/111_320,
			Longitude: depot.Longitude,
			Accuracy:  &acc,
			Timestamp: ts,
		},
		Timestamp: ts,
	}
}

func TestIngest_ClocksInAndOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g := f.geofence(t, geofence.CreateGeofenceRequest{
		Triggers: []geofence.Trigger{
			{EventType: geofence.EventEnter, Action: geofence.ActionAutoClockIn, Enabled: true},
			{EventType: geofence.EventExit, Action: geofence.ActionAutoClockOut, Enabled: true},
		},
	})
	sh, err := f.shifts.Create(ctx, shift.Shift{
		StaffID:          "staff-1",
		ScheduledStart:   start,
		ScheduledEnd:     start.Add(8 * time.Hour),
		GeofenceRequired: true,
		GeofenceID:       &g.ID,
	})
	require.NoError(t, err)

	res, err := f.service.Ingest(ctx, sample("staff-1", geofence.RoleFieldWorker, 400, start.Add(-time.Minute)))
	require.NoError(t, err)
	assert.Empty(t, res.Events)

	res, err = f.service.Ingest(ctx, sample("staff-1", geofence.RoleFieldWorker, 20, start))
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	require.Len(t, res.Shifts, 1)
	assert.True(t, res.Shifts[0].Applied, res.Shifts[0].Skipped)
	assert.Equal(t, sh.ID, res.Shifts[0].ShiftID)

	f.now = start.Add(8 * time.Hour)
	res, err = f.service.Ingest(ctx, sample("staff-1", geofence.RoleFieldWorker, 400, f.now))
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	require.NotNil(t, res.Events[0].ShiftID)
	assert.Equal(t, sh.ID, *res.Events[0].ShiftID)
	require.Len(t, res.Shifts, 1)
	assert.True(t, res.Shifts[0].Applied, res.Shifts[0].Skipped)

	stored, err := f.shifts.GetByID(ctx, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, shift.StatePostShift, stored.CurrentState)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	assert.Len(t, f.notifier.notified, 2)
	assert.Empty(t, f.notifier.alerted)
}

func TestIngest_BreachRaisesAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.geofence(t, geofence.CreateGeofenceRequest{
		RestrictedRoles: []geofence.Role{geofence.RoleVisitor},
		Triggers: []geofence.Trigger{
			{EventType: geofence.EventBreach, Action: geofence.ActionRestrictedAreaAlert, Enabled: true},
		},
	})

	res, err := f.service.Ingest(ctx, sample("visitor-1", geofence.RoleVisitor, 10, start))
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, geofence.EventBreach, res.Events[0].EventType)
	assert.Empty(t, res.Shifts)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	assert.Len(t, f.notifier.alerted, 1)
	assert.Len(t, f.notifier.notified, 1)
}

func TestIngest_NotifyOnlyIsSilent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.geofence(t, geofence.CreateGeofenceRequest{
		Triggers: []geofence.Trigger{
			{EventType: geofence.EventEnter, Action: geofence.ActionNotifyOnly, Enabled: true},
		},
	})

	res, err := f.service.Ingest(ctx, sample("staff-2", geofence.RoleSupervisor, 10, start))
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Empty(t, res.Shifts)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	assert.Empty(t, f.notifier.notified)
	assert.Empty(t, f.notifier.alerted)
}

func TestIngest_RejectsInvalidLocation(t *testing.T) {
	f := newFixture(t)

	req := sample("staff-1", geofence.RoleFieldWorker, 0, start)
	req.Location.Latitude = 120
	_, err := f.service.Ingest(context.Background(), req)
	assert.ErrorIs(t, err, geofence.ErrInvalidLocation)
}

func TestIngest_PartialFailureStillClocksIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	site := f.geofence(t, geofence.CreateGeofenceRequest{
		Triggers: []geofence.Trigger{
			{EventType: geofence.EventEnter, Action: geofence.ActionAutoClockIn, Enabled: true},
		},
	})
	audited := f.geofence(t, geofence.CreateGeofenceRequest{
		Triggers: []geofence.Trigger{
			{EventType: geofence.EventEnter, Action: geofence.ActionSiteVisitStart, Enabled: true},
		},
	})
	f.events.failFor = audited.ID

	sh, err := f.shifts.Create(ctx, shift.Shift{
		StaffID:          "staff-1",
		ScheduledStart:   start,
		ScheduledEnd:     start.Add(8 * time.Hour),
		GeofenceRequired: true,
		GeofenceID:       &site.ID,
	})
	require.NoError(t, err)

	res, err := f.service.Ingest(ctx, sample("staff-1", geofence.RoleFieldWorker, 10, start))
	assert.ErrorIs(t, err, geofence.ErrEventLogUnavailable)
	require.Len(t, res.Events, 1)
	assert.Equal(t, site.ID, res.Events[0].GeofenceID)
	require.Len(t, res.Shifts, 1)
	assert.True(t, res.Shifts[0].Applied, res.Shifts[0].Skipped)

	stored, err := f.shifts.GetByID(ctx, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, shift.StateInShift, stored.CurrentState)

	// the retried sample only produces the entry that was not logged
	f.events.failFor = ""
	res, err = f.service.Ingest(ctx, sample("staff-1", geofence.RoleFieldWorker, 10, start.Add(time.Second)))
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, audited.ID, res.Events[0].GeofenceID)
}
