package memory

import (
	"context"

	"github.com/cmlabs-hris/fieldshift/internal/domain/audit"
	"github.com/google/uuid"
)

type auditSink struct {
	store *Store
}

func NewAuditSink(store *Store) audit.Sink {
	return &auditSink{store: store}
}

func auditKey(entityType, entityID string) string {
	return entityType + "/" + entityID
}

// Append implements audit.Sink.
func (a *auditSink) Append(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.Must(uuid.NewV7()).String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = a.store.now()
	}

	var sealed audit.Entry
	err := a.store.write(ctx, func() (func(), error) {
		key := auditKey(e.EntityType, e.EntityID)
		chain := a.store.audit[key]
		prev := ""
		if len(chain) > 0 {
			prev = chain[len(chain)-1].Hash
		}
		var err error
		sealed, err = audit.Seal(prev, e)
		if err != nil {
			return nil, err
		}
		n := len(chain)
		a.store.audit[key] = append(chain, sealed)
		return func() { a.store.audit[key] = a.store.audit[key][:n] }, nil
	})
	if err != nil {
		return audit.Entry{}, err
	}
	return sealed, nil
}

// ListByEntity implements audit.Sink.
func (a *auditSink) ListByEntity(ctx context.Context, entityType, entityID string) ([]audit.Entry, error) {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()
	return append([]audit.Entry(nil), a.store.audit[auditKey(entityType, entityID)]...), nil
}
