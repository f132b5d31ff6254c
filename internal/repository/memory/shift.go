package memory

import (
	"context"
	"sort"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/shift"
	"github.com/google/uuid"
)

type shiftRepository struct {
	store *Store
}

func NewShiftRepository(store *Store) shift.ShiftRepository {
	return &shiftRepository{store: store}
}

// Create implements shift.ShiftRepository.
func (r *shiftRepository) Create(ctx context.Context, s shift.Shift) (shift.Shift, error) {
	if s.ID == "" {
		s.ID = uuid.Must(uuid.NewV7()).String()
	}
	if s.CurrentState == "" {
		s.CurrentState = shift.StateIdle
	}
	now := r.store.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.Version == 0 {
		s.Version = 1
	}

	err := r.store.write(ctx, func() (func(), error) {
		id := s.ID
		r.store.shifts[id] = s.Clone()
		return func() { delete(r.store.shifts, id) }, nil
	})
	if err != nil {
		return shift.Shift{}, err
	}
	return s.Clone(), nil
}

// GetByID implements shift.ShiftRepository.
func (r *shiftRepository) GetByID(ctx context.Context, id string) (shift.Shift, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	s, ok := r.store.shifts[id]
	if !ok {
		return shift.Shift{}, shift.ErrShiftNotFound
	}
	return s.Clone(), nil
}

// GetForUpdate implements shift.ShiftRepository. Row locking is the
// caller's shift lock here.
func (r *shiftRepository) GetForUpdate(ctx context.Context, id string) (shift.Shift, error) {
	return r.GetByID(ctx, id)
}

// Save implements shift.ShiftRepository.
func (r *shiftRepository) Save(ctx context.Context, s shift.Shift, expectedVersion int) error {
	return r.store.write(ctx, func() (func(), error) {
		prev, ok := r.store.shifts[s.ID]
		if !ok {
			return nil, shift.ErrShiftNotFound
		}
		if prev.Version != expectedVersion {
			return nil, shift.ErrVersionConflict
		}
		r.store.shifts[s.ID] = s.Clone()
		return func() { r.store.shifts[prev.ID] = prev }, nil
	})
}

// ListStartable implements shift.ShiftRepository.
func (r *shiftRepository) ListStartable(ctx context.Context, staffID string, at time.Time) ([]shift.Shift, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []shift.Shift
	for _, s := range r.store.shifts {
		if s.StaffID == staffID && s.CurrentState == shift.StateIdle && s.ScheduledEnd.After(at) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledStart.Before(out[j].ScheduledStart)
	})
	return out, nil
}

// ListWithUnknownState implements shift.ShiftRepository.
func (r *shiftRepository) ListWithUnknownState(ctx context.Context, limit int) ([]shift.Shift, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []shift.Shift
	for _, s := range r.store.shifts {
		if !s.CurrentState.Valid() {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type activeShiftRegistry struct {
	store *Store
}

func NewActiveShiftRegistry(store *Store) shift.ActiveShiftRegistry {
	return &activeShiftRegistry{store: store}
}

// Claim implements shift.ActiveShiftRegistry.
func (r *activeShiftRegistry) Claim(ctx context.Context, staffID, shiftID string) error {
	return r.store.write(ctx, func() (func(), error) {
		if current, ok := r.store.active[staffID]; ok {
			if current == shiftID {
				return nil, nil
			}
			return nil, shift.ErrAlreadyActive
		}
		r.store.active[staffID] = shiftID
		return func() { delete(r.store.active, staffID) }, nil
	})
}

// Release implements shift.ActiveShiftRegistry.
func (r *activeShiftRegistry) Release(ctx context.Context, staffID, shiftID string) error {
	return r.store.write(ctx, func() (func(), error) {
		if r.store.active[staffID] != shiftID {
			return nil, nil
		}
		delete(r.store.active, staffID)
		return func() { r.store.active[staffID] = shiftID }, nil
	})
}

// ActiveShift implements shift.ActiveShiftRegistry.
func (r *activeShiftRegistry) ActiveShift(ctx context.Context, staffID string) (string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.active[staffID], nil
}
