package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/audit"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type auditSink struct {
	db  *database.DB
	now func() time.Time
}

func NewAuditSink(db *database.DB) audit.Sink {
	return &auditSink{db: db, now: time.Now}
}

// Append implements audit.Sink. The chain head is read under a
// transaction-scoped advisory lock on the entity, so concurrent appends
// for one entity link in order.
func (a *auditSink) Append(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.Must(uuid.NewV7()).String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = a.now()
	}
	// timestamptz keeps microseconds; the hash must survive a round trip
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Microsecond)

	var sealed audit.Entry
	appendFn := func(ctx context.Context) error {
		q := GetQuerier(ctx, a.db)

		if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, e.EntityType+"/"+e.EntityID); err != nil {
			return fmt.Errorf("failed to lock audit chain: %w", err)
		}

		prev := ""
		err := q.QueryRow(ctx, `
			SELECT hash FROM audit_trail
			WHERE entity_type = $1 AND entity_id = $2
			ORDER BY seq DESC
			LIMIT 1
		`, e.EntityType, e.EntityID).Scan(&prev)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to read audit chain head: %w", err)
		}

		sealed, err = audit.Seal(prev, e)
		if err != nil {
			return err
		}

		_, err = q.Exec(ctx, `
			INSERT INTO audit_trail (
				id, entity_type, entity_id, action, actor_id, trigger, from_state, to_state,
				payload, prev_hash, hash, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			sealed.ID, sealed.EntityType, sealed.EntityID, sealed.Action, sealed.ActorID, sealed.Trigger,
			sealed.FromState, sealed.ToState, string(sealed.Payload), sealed.PrevHash, sealed.Hash, sealed.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to append audit entry: %w", err)
		}
		return nil
	}

	if inTransaction(ctx) {
		if err := appendFn(ctx); err != nil {
			return audit.Entry{}, err
		}
		return sealed, nil
	}
	if err := NewTransactor(a.db).WithinTransaction(ctx, appendFn); err != nil {
		return audit.Entry{}, err
	}
	return sealed, nil
}

// ListByEntity implements audit.Sink.
func (a *auditSink) ListByEntity(ctx context.Context, entityType, entityID string) ([]audit.Entry, error) {
	q := GetQuerier(ctx, a.db)

	rows, err := q.Query(ctx, `
		SELECT id, entity_type, entity_id, action, actor_id, trigger, from_state, to_state,
		       payload, prev_hash, hash, created_at
		FROM audit_trail
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY seq ASC
	`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var payload string
		if err := rows.Scan(
			&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.ActorID, &e.Trigger, &e.FromState, &e.ToState,
			&payload, &e.PrevHash, &e.Hash, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if payload != "" {
			e.Payload = json.RawMessage(payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
