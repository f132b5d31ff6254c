package shift

import (
	"context"
	"time"
)

// ShiftRepository stores shift documents with embedded break and state history.
type ShiftRepository interface {
	// Create inserts a new idle shift (used by the scheduling collaborator and tests)
	Create(ctx context.Context, s Shift) (Shift, error)

	// GetByID returns ErrShiftNotFound when no document matches
	GetByID(ctx context.Context, id string) (Shift, error)

	// GetForUpdate is GetByID that also row-locks the document when called inside a transaction
	GetForUpdate(ctx context.Context, id string) (Shift, error)

	// Save writes the document when its stored version equals expectedVersion
	Save(ctx context.Context, s Shift, expectedVersion int) error

	// ListStartable returns idle shifts for the staff member whose scheduled
	// end is after `at`, ordered by scheduled start
	ListStartable(ctx context.Context, staffID string, at time.Time) ([]Shift, error)

	// ListWithUnknownState returns shifts whose current state is not one of the five states
	ListWithUnknownState(ctx context.Context, limit int) ([]Shift, error)
}

// ActiveShiftRegistry maps a staff member to their single active shift.
type ActiveShiftRegistry interface {
	// Claim records shiftID as the staff member's active shift. It returns
	// ErrAlreadyActive when another shift already holds the slot.
	Claim(ctx context.Context, staffID, shiftID string) error

	// Release removes the claim if it is held by shiftID
	Release(ctx context.Context, staffID, shiftID string) error

	// ActiveShift returns the active shift id, or "" when there is none
	ActiveShift(ctx context.Context, staffID string) (string, error)
}

// Transactor runs fn so that every repository write made with the ctx it
// receives commits together or not at all.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
