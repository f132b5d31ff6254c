package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const EntityShift = "Shift"

var ErrChainBroken = errors.New("audit chain broken")

// Entry is one append-only audit record. Entries of the same entity form a
// hash chain: Hash covers PrevHash and the entry content.
type Entry struct {
	ID         string
	EntityType string
	EntityID   string
	Action     string
	ActorID    string
	Trigger    string
	FromState  string
	ToState    string
	Payload    json.RawMessage
	PrevHash   string
	Hash       string
	CreatedAt  time.Time
}

type hashedFields struct {
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Action     string          `json:"action"`
	ActorID    string          `json:"actor_id"`
	Trigger    string          `json:"trigger"`
	FromState  string          `json:"from_state"`
	ToState    string          `json:"to_state"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	PrevHash   string          `json:"prev_hash"`
	CreatedAt  string          `json:"created_at"`
}

// ComputeHash returns the chain hash of e given its predecessor's hash.
func ComputeHash(prevHash string, e Entry) (string, error) {
	b, err := json.Marshal(hashedFields{
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Action:     e.Action,
		ActorID:    e.ActorID,
		Trigger:    e.Trigger,
		FromState:  e.FromState,
		ToState:    e.ToState,
		Payload:    e.Payload,
		PrevHash:   prevHash,
		CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("marshal audit entry: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Seal sets PrevHash and Hash on e.
func Seal(prevHash string, e Entry) (Entry, error) {
	h, err := ComputeHash(prevHash, e)
	if err != nil {
		return Entry{}, err
	}
	e.PrevHash = prevHash
	e.Hash = h
	return e, nil
}

// Verify checks that entries, oldest first, form an unbroken chain.
func Verify(entries []Entry) error {
	prev := ""
	for i, e := range entries {
		if e.PrevHash != prev {
			return fmt.Errorf("%w at entry %d: prev hash mismatch", ErrChainBroken, i)
		}
		h, err := ComputeHash(prev, e)
		if err != nil {
			return err
		}
		if h != e.Hash {
			return fmt.Errorf("%w at entry %d: content hash mismatch", ErrChainBroken, i)
		}
		prev = e.Hash
	}
	return nil
}
