// Package memory holds in-process repositories used by tests and by the
// single-instance deployment (STORAGE_DRIVER=memory).
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/audit"
	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
	"github.com/cmlabs-hris/fieldshift/internal/domain/shift"
)

type txKey struct{}

// journal collects undo steps of the writes made inside one transaction.
type journal struct {
	undo []func()
}

// Store is the shared backing state of every memory repository. Writes are
// serialized; a transaction holds the write lock until it returns and
// replays its journal backwards on failure. Transactions are store-wide, so
// shifts of different staff never commit in parallel and the store serves a
// single process only.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	now  func() time.Time

	shifts    map[string]shift.Shift
	active    map[string]string
	geofences map[string]geofence.Geofence
	events    map[string][]geofence.Event
	audit     map[string][]audit.Entry
}

func NewStore() *Store {
	return &Store{
		now:       time.Now,
		shifts:    make(map[string]shift.Shift),
		active:    make(map[string]string),
		geofences: make(map[string]geofence.Geofence),
		events:    make(map[string][]geofence.Event),
		audit:     make(map[string][]audit.Entry),
	}
}

// WithClock replaces the time source used for generated timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// WithinTransaction implements shift.Transactor. Nested calls join the
// outer transaction.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*journal); ok {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	j := &journal{}
	defer func() {
		if p := recover(); p != nil {
			s.rollback(j)
			panic(p)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, j)); err != nil {
		s.rollback(j)
		return err
	}
	return nil
}

func (s *Store) rollback(j *journal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
}

// write runs fn under the write lock. Outside a transaction it also takes
// the transaction lock so it cannot interleave with a rollback. undo, if
// returned, is journaled when ctx carries a transaction.
func (s *Store) write(ctx context.Context, fn func() (undo func(), err error)) error {
	j, inTx := ctx.Value(txKey{}).(*journal)
	if !inTx {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	undo, err := fn()
	if err != nil {
		return err
	}
	if inTx && undo != nil {
		j.undo = append(j.undo, undo)
	}
	return nil
}
