package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/shift"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const shiftColumns = `
	id, staff_id, site_id, scheduled_start, scheduled_end, actual_start, actual_end,
	current_state, geofence_required, geofence_id,
	current_break, break_history, state_history,
	total_hours, overtime_hours, requires_approval, early_end, scheduled_hours, actual_hours,
	summary, issues, next_shift_notes, requires_review, review_notes,
	version, created_at, updated_at`

type shiftRepository struct {
	db *database.DB
}

func NewShiftRepository(db *database.DB) shift.ShiftRepository {
	return &shiftRepository{db: db}
}

// shiftDocs holds the JSONB columns of a shift row.
type shiftDocs struct {
	currentBreak []byte
	breaks       []byte
	history      []byte
	issues       []byte
	reviewNotes  []byte
}

func marshalShiftDocs(s shift.Shift) (shiftDocs, error) {
	var d shiftDocs
	var err error
	if s.CurrentBreak != nil {
		if d.currentBreak, err = json.Marshal(s.CurrentBreak); err != nil {
			return d, fmt.Errorf("marshal current break: %w", err)
		}
	}
	if d.breaks, err = json.Marshal(nonNil(s.BreakHistory)); err != nil {
		return d, fmt.Errorf("marshal break history: %w", err)
	}
	if d.history, err = json.Marshal(nonNil(s.StateHistory)); err != nil {
		return d, fmt.Errorf("marshal state history: %w", err)
	}
	if d.issues, err = json.Marshal(nonNil(s.Issues)); err != nil {
		return d, fmt.Errorf("marshal issues: %w", err)
	}
	if d.reviewNotes, err = json.Marshal(nonNil(s.ReviewNotes)); err != nil {
		return d, fmt.Errorf("marshal review notes: %w", err)
	}
	return d, nil
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func scanShift(row pgx.Row) (shift.Shift, error) {
	var s shift.Shift
	var d shiftDocs
	err := row.Scan(
		&s.ID, &s.StaffID, &s.SiteID, &s.ScheduledStart, &s.ScheduledEnd, &s.ActualStart, &s.ActualEnd,
		&s.CurrentState, &s.GeofenceRequired, &s.GeofenceID,
		&d.currentBreak, &d.breaks, &d.history,
		&s.TotalHours, &s.OvertimeHours, &s.RequiresApproval, &s.EarlyEnd, &s.ScheduledHours, &s.ActualHours,
		&s.Summary, &d.issues, &s.NextShiftNotes, &s.RequiresReview, &d.reviewNotes,
		&s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return shift.Shift{}, err
	}

	if len(d.currentBreak) > 0 && string(d.currentBreak) != "null" {
		var b shift.Break
		if err := json.Unmarshal(d.currentBreak, &b); err != nil {
			return shift.Shift{}, fmt.Errorf("unmarshal current break: %w", err)
		}
		s.CurrentBreak = &b
	}
	if err := json.Unmarshal(d.breaks, &s.BreakHistory); err != nil {
		return shift.Shift{}, fmt.Errorf("unmarshal break history: %w", err)
	}
	if err := json.Unmarshal(d.history, &s.StateHistory); err != nil {
		return shift.Shift{}, fmt.Errorf("unmarshal state history: %w", err)
	}
	if err := json.Unmarshal(d.issues, &s.Issues); err != nil {
		return shift.Shift{}, fmt.Errorf("unmarshal issues: %w", err)
	}
	if err := json.Unmarshal(d.reviewNotes, &s.ReviewNotes); err != nil {
		return shift.Shift{}, fmt.Errorf("unmarshal review notes: %w", err)
	}
	return s, nil
}

// Create implements shift.ShiftRepository.
func (r *shiftRepository) Create(ctx context.Context, s shift.Shift) (shift.Shift, error) {
	q := GetQuerier(ctx, r.db)

	if s.ID == "" {
		s.ID = uuid.Must(uuid.NewV7()).String()
	}
	if s.CurrentState == "" {
		s.CurrentState = shift.StateIdle
	}
	if s.Version == 0 {
		s.Version = 1
	}
	d, err := marshalShiftDocs(s)
	if err != nil {
		return shift.Shift{}, err
	}

	query := `
		INSERT INTO shifts (
			id, staff_id, site_id, scheduled_start, scheduled_end,
			current_state, geofence_required, geofence_id,
			current_break, break_history, state_history, issues, review_notes, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		) RETURNING created_at, updated_at
	`

	err = q.QueryRow(ctx, query,
		s.ID, s.StaffID, s.SiteID, s.ScheduledStart, s.ScheduledEnd,
		s.CurrentState, s.GeofenceRequired, s.GeofenceID,
		d.currentBreak, d.breaks, d.history, d.issues, d.reviewNotes, s.Version,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return shift.Shift{}, fmt.Errorf("failed to create shift: %w", err)
	}

	return s, nil
}

// GetByID implements shift.ShiftRepository.
func (r *shiftRepository) GetByID(ctx context.Context, id string) (shift.Shift, error) {
	q := GetQuerier(ctx, r.db)

	s, err := scanShift(q.QueryRow(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shift.Shift{}, shift.ErrShiftNotFound
		}
		return shift.Shift{}, fmt.Errorf("failed to get shift: %w", err)
	}
	return s, nil
}

// GetForUpdate implements shift.ShiftRepository.
func (r *shiftRepository) GetForUpdate(ctx context.Context, id string) (shift.Shift, error) {
	if !inTransaction(ctx) {
		return r.GetByID(ctx, id)
	}
	q := GetQuerier(ctx, r.db)

	s, err := scanShift(q.QueryRow(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shift.Shift{}, shift.ErrShiftNotFound
		}
		return shift.Shift{}, fmt.Errorf("failed to lock shift: %w", err)
	}
	return s, nil
}

// Save implements shift.ShiftRepository.
func (r *shiftRepository) Save(ctx context.Context, s shift.Shift, expectedVersion int) error {
	q := GetQuerier(ctx, r.db)

	d, err := marshalShiftDocs(s)
	if err != nil {
		return err
	}

	query := `
		UPDATE shifts SET
			actual_start = $3, actual_end = $4, current_state = $5,
			current_break = $6, break_history = $7, state_history = $8,
			total_hours = $9, overtime_hours = $10, requires_approval = $11, early_end = $12,
			scheduled_hours = $13, actual_hours = $14,
			summary = $15, issues = $16, next_shift_notes = $17,
			requires_review = $18, review_notes = $19,
			version = $20, updated_at = $21
		WHERE id = $1 AND version = $2
	`

	tag, err := q.Exec(ctx, query,
		s.ID, expectedVersion,
		s.ActualStart, s.ActualEnd, s.CurrentState,
		d.currentBreak, d.breaks, d.history,
		s.TotalHours, s.OvertimeHours, s.RequiresApproval, s.EarlyEnd,
		s.ScheduledHours, s.ActualHours,
		s.Summary, d.issues, s.NextShiftNotes,
		s.RequiresReview, d.reviewNotes,
		s.Version, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save shift: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, s.ID); err != nil {
			return err
		}
		return shift.ErrVersionConflict
	}
	return nil
}

// ListStartable implements shift.ShiftRepository.
func (r *shiftRepository) ListStartable(ctx context.Context, staffID string, at time.Time) ([]shift.Shift, error) {
	q := GetQuerier(ctx, r.db)

	query := `SELECT ` + shiftColumns + `
		FROM shifts
		WHERE staff_id = $1
		  AND current_state = 'idle'
		  AND scheduled_end > $2
		ORDER BY scheduled_start ASC
	`
	return r.list(ctx, q, query, staffID, at)
}

// ListWithUnknownState implements shift.ShiftRepository.
func (r *shiftRepository) ListWithUnknownState(ctx context.Context, limit int) ([]shift.Shift, error) {
	q := GetQuerier(ctx, r.db)

	query := `SELECT ` + shiftColumns + `
		FROM shifts
		WHERE current_state <> ALL($1)
		ORDER BY id
		LIMIT $2
	`
	return r.list(ctx, q, query, shift.StateValues, limit)
}

func (r *shiftRepository) list(ctx context.Context, q database.Querier, query string, args ...interface{}) ([]shift.Shift, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list shifts: %w", err)
	}
	defer rows.Close()

	var out []shift.Shift
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shift: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shifts: %w", err)
	}
	return out, nil
}

type activeShiftRegistry struct {
	db *database.DB
}

func NewActiveShiftRegistry(db *database.DB) shift.ActiveShiftRegistry {
	return &activeShiftRegistry{db: db}
}

// Claim implements shift.ActiveShiftRegistry.
func (r *activeShiftRegistry) Claim(ctx context.Context, staffID, shiftID string) error {
	q := GetQuerier(ctx, r.db)

	var holder string
	err := q.QueryRow(ctx, `
		INSERT INTO active_shifts (staff_id, shift_id) VALUES ($1, $2)
		ON CONFLICT (staff_id) DO UPDATE SET staff_id = EXCLUDED.staff_id
		RETURNING shift_id
	`, staffID, shiftID).Scan(&holder)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return shift.ErrAlreadyActive
		}
		return fmt.Errorf("failed to claim active shift: %w", err)
	}
	if holder != shiftID {
		return shift.ErrAlreadyActive
	}
	return nil
}

// Release implements shift.ActiveShiftRegistry.
func (r *activeShiftRegistry) Release(ctx context.Context, staffID, shiftID string) error {
	q := GetQuerier(ctx, r.db)

	if _, err := q.Exec(ctx, `DELETE FROM active_shifts WHERE staff_id = $1 AND shift_id = $2`, staffID, shiftID); err != nil {
		return fmt.Errorf("failed to release active shift: %w", err)
	}
	return nil
}

// ActiveShift implements shift.ActiveShiftRegistry.
func (r *activeShiftRegistry) ActiveShift(ctx context.Context, staffID string) (string, error) {
	q := GetQuerier(ctx, r.db)

	var shiftID string
	err := q.QueryRow(ctx, `SELECT shift_id FROM active_shifts WHERE staff_id = $1`, staffID).Scan(&shiftID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get active shift: %w", err)
	}
	return shiftID, nil
}
