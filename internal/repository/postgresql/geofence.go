package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const geofenceColumns = `
	id, name, site_id, shape, allowed_roles, restricted_roles, timezone, active, triggers,
	version, created_at, updated_at`

type geofenceRepository struct {
	db *database.DB
}

func NewGeofenceRepository(db *database.DB) geofence.GeofenceRepository {
	return &geofenceRepository{db: db}
}

type geofenceDocs struct {
	shape      []byte
	allowed    []byte
	restricted []byte
	triggers   []byte
}

func marshalGeofenceDocs(g geofence.Geofence) (geofenceDocs, error) {
	var d geofenceDocs
	var err error
	if d.shape, err = json.Marshal(g.Shape); err != nil {
		return d, fmt.Errorf("marshal shape: %w", err)
	}
	if d.allowed, err = json.Marshal(nonNil(g.AllowedRoles)); err != nil {
		return d, fmt.Errorf("marshal allowed roles: %w", err)
	}
	if d.restricted, err = json.Marshal(nonNil(g.RestrictedRoles)); err != nil {
		return d, fmt.Errorf("marshal restricted roles: %w", err)
	}
	if d.triggers, err = json.Marshal(nonNil(g.Triggers)); err != nil {
		return d, fmt.Errorf("marshal triggers: %w", err)
	}
	return d, nil
}

func scanGeofence(row pgx.Row) (geofence.Geofence, error) {
	var g geofence.Geofence
	var d geofenceDocs
	err := row.Scan(
		&g.ID, &g.Name, &g.SiteID, &d.shape, &d.allowed, &d.restricted, &g.Timezone, &g.Active, &d.triggers,
		&g.Version, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return geofence.Geofence{}, err
	}
	if err := json.Unmarshal(d.shape, &g.Shape); err != nil {
		return geofence.Geofence{}, fmt.Errorf("unmarshal shape: %w", err)
	}
	if err := json.Unmarshal(d.allowed, &g.AllowedRoles); err != nil {
		return geofence.Geofence{}, fmt.Errorf("unmarshal allowed roles: %w", err)
	}
	if err := json.Unmarshal(d.restricted, &g.RestrictedRoles); err != nil {
		return geofence.Geofence{}, fmt.Errorf("unmarshal restricted roles: %w", err)
	}
	if err := json.Unmarshal(d.triggers, &g.Triggers); err != nil {
		return geofence.Geofence{}, fmt.Errorf("unmarshal triggers: %w", err)
	}
	return g, nil
}

// Create implements geofence.GeofenceRepository.
func (r *geofenceRepository) Create(ctx context.Context, g geofence.Geofence) (geofence.Geofence, error) {
	q := GetQuerier(ctx, r.db)

	if g.ID == "" {
		g.ID = uuid.Must(uuid.NewV7()).String()
	}
	d, err := marshalGeofenceDocs(g)
	if err != nil {
		return geofence.Geofence{}, err
	}

	query := `
		INSERT INTO geofences (
			id, name, site_id, shape, allowed_roles, restricted_roles, timezone, active, triggers,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = q.Exec(ctx, query,
		g.ID, g.Name, g.SiteID, d.shape, d.allowed, d.restricted, g.Timezone, g.Active, d.triggers,
		g.Version, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return geofence.Geofence{}, fmt.Errorf("failed to create geofence: %w", err)
	}
	return g, nil
}

// Update implements geofence.GeofenceRepository.
func (r *geofenceRepository) Update(ctx context.Context, g geofence.Geofence, expectedVersion int) error {
	q := GetQuerier(ctx, r.db)

	d, err := marshalGeofenceDocs(g)
	if err != nil {
		return err
	}

	query := `
		UPDATE geofences SET
			name = $3, site_id = $4, shape = $5, allowed_roles = $6, restricted_roles = $7,
			timezone = $8, active = $9, triggers = $10, version = $11, updated_at = $12
		WHERE id = $1 AND version = $2
	`
	tag, err := q.Exec(ctx, query,
		g.ID, expectedVersion,
		g.Name, g.SiteID, d.shape, d.allowed, d.restricted,
		g.Timezone, g.Active, d.triggers, g.Version, g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update geofence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, g.ID); err != nil {
			return err
		}
		return geofence.ErrVersionConflict
	}
	return nil
}

// GetByID implements geofence.GeofenceRepository.
func (r *geofenceRepository) GetByID(ctx context.Context, id string) (geofence.Geofence, error) {
	q := GetQuerier(ctx, r.db)

	g, err := scanGeofence(q.QueryRow(ctx, `SELECT `+geofenceColumns+` FROM geofences WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return geofence.Geofence{}, geofence.ErrGeofenceNotFound
		}
		return geofence.Geofence{}, fmt.Errorf("failed to get geofence: %w", err)
	}
	return g, nil
}

// ListActive implements geofence.GeofenceRepository.
func (r *geofenceRepository) ListActive(ctx context.Context) ([]geofence.Geofence, error) {
	q := GetQuerier(ctx, r.db)

	rows, err := q.Query(ctx, `SELECT `+geofenceColumns+` FROM geofences WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list geofences: %w", err)
	}
	defer rows.Close()

	var out []geofence.Geofence
	for rows.Next() {
		g, err := scanGeofence(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan geofence: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type eventRepository struct {
	db *database.DB
}

func NewEventRepository(db *database.DB) geofence.EventRepository {
	return &eventRepository{db: db}
}

// Append implements geofence.EventRepository. Events of one call are
// written in a single batch.
func (r *eventRepository) Append(ctx context.Context, events ...geofence.Event) error {
	if len(events) == 0 {
		return nil
	}
	q := GetQuerier(ctx, r.db)

	query := `
		INSERT INTO geofence_events (
			id, geofence_id, user_id, role, event_type, location, action, occurred_at, shift_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	batch := &pgx.Batch{}
	for _, e := range events {
		loc, err := json.Marshal(e.Location)
		if err != nil {
			return fmt.Errorf("marshal event location: %w", err)
		}
		batch.Queue(query, e.ID, e.GeofenceID, e.UserID, e.Role, e.EventType, loc, e.Action, e.Timestamp, e.ShiftID)
	}

	sender, ok := q.(interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	})
	if !ok {
		return fmt.Errorf("querier does not support batches")
	}
	br := sender.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to append geofence event: %w", err)
		}
	}
	return nil
}

// ListByGeofence implements geofence.EventRepository. from is inclusive,
// to exclusive; a zero bound is open.
func (r *eventRepository) ListByGeofence(ctx context.Context, geofenceID string, from, to time.Time) ([]geofence.Event, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		SELECT id, geofence_id, user_id, role, event_type, location, action, occurred_at, shift_id
		FROM geofence_events
		WHERE geofence_id = $1
		  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
		  AND ($3::timestamptz IS NULL OR occurred_at < $3)
		ORDER BY occurred_at ASC
	`
	rows, err := q.Query(ctx, query, geofenceID, optionalTime(from), optionalTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list geofence events: %w", err)
	}
	defer rows.Close()

	var out []geofence.Event
	for rows.Next() {
		var e geofence.Event
		var loc []byte
		if err := rows.Scan(&e.ID, &e.GeofenceID, &e.UserID, &e.Role, &e.EventType, &loc, &e.Action, &e.Timestamp, &e.ShiftID); err != nil {
			return nil, fmt.Errorf("failed to scan geofence event: %w", err)
		}
		if err := json.Unmarshal(loc, &e.Location); err != nil {
			return nil, fmt.Errorf("unmarshal event location: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
