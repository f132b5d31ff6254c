package audit

import "context"

// Sink is the durable append-only audit store. Append seals the entry onto
// the entity's chain; inside a transaction it commits with the caller.
type Sink interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	ListByEntity(ctx context.Context, entityType, entityID string) ([]Entry, error)
}
