package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/audit"
	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
	"github.com/cmlabs-hris/fieldshift/internal/domain/shift"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newTestStore() *Store {
	return NewStore().WithClock(func() time.Time { return fixedNow })
}

func TestTransaction_RollsBackEveryWrite(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	shifts := NewShiftRepository(store)
	registry := NewActiveShiftRegistry(store)
	sink := NewAuditSink(store)

	s, err := shifts.Create(ctx, shift.Shift{StaffID: "staff-1", ScheduledStart: fixedNow, ScheduledEnd: fixedNow.Add(8 * time.Hour)})
	require.NoError(t, err)

	boom := errors.New("audit sink down")
	err = store.WithinTransaction(ctx, func(ctx context.Context) error {
		updated := s.Clone()
		updated.CurrentState = shift.StateInShift
		updated.Version = s.Version + 1
		require.NoError(t, shifts.Save(ctx, updated, s.Version))
		require.NoError(t, registry.Claim(ctx, "staff-1", s.ID))
		_, err := sink.Append(ctx, audit.Entry{EntityType: audit.EntityShift, EntityID: s.ID, Action: "transition"})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := shifts.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, shift.StateIdle, got.CurrentState)
	assert.Equal(t, s.Version, got.Version)

	active, err := registry.ActiveShift(ctx, "staff-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	entries, err := sink.ListByEntity(ctx, audit.EntityShift, s.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTransaction_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	registry := NewActiveShiftRegistry(store)
	sink := NewAuditSink(store)

	err := store.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := registry.Claim(ctx, "staff-1", "shift-1"); err != nil {
			return err
		}
		_, err := sink.Append(ctx, audit.Entry{EntityType: audit.EntityShift, EntityID: "shift-1", Action: "transition"})
		return err
	})
	require.NoError(t, err)

	active, _ := registry.ActiveShift(ctx, "staff-1")
	assert.Equal(t, "shift-1", active)
	entries, _ := sink.ListByEntity(ctx, audit.EntityShift, "shift-1")
	assert.Len(t, entries, 1)
}

func TestShiftRepository_SaveChecksVersion(t *testing.T) {
	ctx := context.Background()
	shifts := NewShiftRepository(newTestStore())

	s, err := shifts.Create(ctx, shift.Shift{StaffID: "staff-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Version)

	s.Version = 2
	require.NoError(t, shifts.Save(ctx, s, 1))
	assert.ErrorIs(t, shifts.Save(ctx, s, 1), shift.ErrVersionConflict)

	_, err = shifts.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, shift.ErrShiftNotFound)
}

func TestShiftRepository_Lists(t *testing.T) {
	ctx := context.Background()
	shifts := NewShiftRepository(newTestStore())

	later, _ := shifts.Create(ctx, shift.Shift{StaffID: "staff-1", ScheduledStart: fixedNow.Add(24 * time.Hour), ScheduledEnd: fixedNow.Add(32 * time.Hour)})
	first, _ := shifts.Create(ctx, shift.Shift{StaffID: "staff-1", ScheduledStart: fixedNow, ScheduledEnd: fixedNow.Add(8 * time.Hour)})
	_, _ = shifts.Create(ctx, shift.Shift{StaffID: "staff-1", ScheduledStart: fixedNow.Add(-48 * time.Hour), ScheduledEnd: fixedNow.Add(-40 * time.Hour)})
	broken, _ := shifts.Create(ctx, shift.Shift{StaffID: "staff-2", CurrentState: "paused"})

	startable, err := shifts.ListStartable(ctx, "staff-1", fixedNow)
	require.NoError(t, err)
	require.Len(t, startable, 2)
	assert.Equal(t, first.ID, startable[0].ID)
	assert.Equal(t, later.ID, startable[1].ID)

	unknown, err := shifts.ListWithUnknownState(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unknown, 1)
	assert.Equal(t, broken.ID, unknown[0].ID)
}

func TestActiveShiftRegistry_SingleSlot(t *testing.T) {
	ctx := context.Background()
	registry := NewActiveShiftRegistry(newTestStore())

	require.NoError(t, registry.Claim(ctx, "staff-1", "shift-1"))
	require.NoError(t, registry.Claim(ctx, "staff-1", "shift-1"))
	assert.ErrorIs(t, registry.Claim(ctx, "staff-1", "shift-2"), shift.ErrAlreadyActive)

	require.NoError(t, registry.Release(ctx, "staff-1", "shift-2"))
	active, _ := registry.ActiveShift(ctx, "staff-1")
	assert.Equal(t, "shift-1", active)

	require.NoError(t, registry.Release(ctx, "staff-1", "shift-1"))
	require.NoError(t, registry.Claim(ctx, "staff-1", "shift-2"))
}

func TestAuditSink_BuildsVerifiableChain(t *testing.T) {
	ctx := context.Background()
	sink := NewAuditSink(newTestStore())

	for _, to := range []string{"in-shift", "on-break", "in-shift"} {
		_, err := sink.Append(ctx, audit.Entry{EntityType: audit.EntityShift, EntityID: "shift-1", Action: "transition", ToState: to})
		require.NoError(t, err)
	}
	entries, err := sink.ListByEntity(ctx, audit.EntityShift, "shift-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.NoError(t, audit.Verify(entries))
}

func TestEventRepository_ListByGeofenceWindow(t *testing.T) {
	ctx := context.Background()
	events := NewEventRepository(newTestStore())

	require.NoError(t, events.Append(ctx,
		geofence.Event{ID: "2", GeofenceID: "gf-1", Timestamp: fixedNow.Add(time.Minute)},
		geofence.Event{ID: "1", GeofenceID: "gf-1", Timestamp: fixedNow},
		geofence.Event{ID: "3", GeofenceID: "gf-1", Timestamp: fixedNow.Add(time.Hour)},
		geofence.Event{ID: "4", GeofenceID: "gf-2", Timestamp: fixedNow},
	))

	got, err := events.ListByGeofence(ctx, "gf-1", fixedNow, fixedNow.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "2", got[1].ID)
}

func TestGeofenceRepository_UpdateChecksVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewGeofenceRepository(newTestStore())

	g, err := repo.Create(ctx, geofence.Geofence{Name: "Depot", Active: true, Version: 1})
	require.NoError(t, err)

	g.Version = 2
	require.NoError(t, repo.Update(ctx, g, 1))
	assert.ErrorIs(t, repo.Update(ctx, g, 1), geofence.ErrVersionConflict)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}
