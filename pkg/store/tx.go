package store

import (
	"fmt"

	"forgedash/pkg/protocol"
)

type entityKey struct {
	kind protocol.Kind
	id   string
}

type stagedOp struct {
	key    entityKey
	entity protocol.Entity
	remove bool
}

// Tx stages mutations against a read view of the store. Reads through a Tx
// see its own staged writes. A Tx is only valid inside the Apply callback
// that created it.
type Tx struct {
	s    *Store
	ops  []stagedOp
	view map[entityKey]stagedOp
}

func newTx(s *Store) *Tx {
	return &Tx{s: s, view: make(map[entityKey]stagedOp)}
}

// Upsert stages an insert-or-replace of e.
func (tx *Tx) Upsert(e protocol.Entity) error {
	if e == nil {
		return fmt.Errorf("%w: nil entity", protocol.ErrInvalidInput)
	}
	switch e.(type) {
	case protocol.Job, protocol.Worker, protocol.Workflow, protocol.DLQEntry:
	default:
		return fmt.Errorf("%w: unsupported entity type %T", protocol.ErrInvalidInput, e)
	}
	if e.EntityID() == "" {
		return fmt.Errorf("%w: %s without id", protocol.ErrInvalidInput, e.EntityKind())
	}
	op := stagedOp{key: entityKey{kind: e.EntityKind(), id: e.EntityID()}, entity: e}
	tx.ops = append(tx.ops, op)
	tx.view[op.key] = op
	return nil
}

// Remove stages a delete. It returns a *protocol.NotFoundError when the
// entity is absent from the transaction's view.
func (tx *Tx) Remove(kind protocol.Kind, id string) error {
	if _, ok := tx.Get(kind, id); !ok {
		return &protocol.NotFoundError{Kind: kind, ID: id}
	}
	op := stagedOp{key: entityKey{kind: kind, id: id}, remove: true}
	tx.ops = append(tx.ops, op)
	tx.view[op.key] = op
	return nil
}

// Get returns the entity as the transaction currently sees it.
func (tx *Tx) Get(kind protocol.Kind, id string) (protocol.Entity, bool) {
	if op, ok := tx.view[entityKey{kind: kind, id: id}]; ok {
		if op.remove {
			return nil, false
		}
		return op.entity, true
	}
	return tx.s.getLocked(kind, id)
}

// List returns the transaction's view of kind: committed entities in store
// order with staged replacements applied, then newly staged ones.
func (tx *Tx) List(kind protocol.Kind) []protocol.Entity {
	committed := tx.s.orderLocked(kind)
	out := make([]protocol.Entity, 0, len(committed))
	seen := make(map[string]bool, len(committed))
	for _, id := range committed {
		seen[id] = true
		if e, ok := tx.Get(kind, id); ok {
			out = append(out, e)
		}
	}
	for _, op := range tx.ops {
		if op.key.kind != kind || seen[op.key.id] {
			continue
		}
		seen[op.key.id] = true
		if e, ok := tx.Get(kind, op.key.id); ok {
			out = append(out, e)
		}
	}
	return out
}

// Job returns the job with id as seen by the transaction.
func (tx *Tx) Job(id string) (protocol.Job, bool) {
	e, ok := tx.Get(protocol.KindJob, id)
	if !ok {
		return protocol.Job{}, false
	}
	return e.(protocol.Job).Clone(), true
}

// Worker returns the worker with id as seen by the transaction.
func (tx *Tx) Worker(id string) (protocol.Worker, bool) {
	e, ok := tx.Get(protocol.KindWorker, id)
	if !ok {
		return protocol.Worker{}, false
	}
	return e.(protocol.Worker), true
}

// Workflow returns the workflow with id as seen by the transaction.
func (tx *Tx) Workflow(id string) (protocol.Workflow, bool) {
	e, ok := tx.Get(protocol.KindWorkflow, id)
	if !ok {
		return protocol.Workflow{}, false
	}
	return e.(protocol.Workflow), true
}

// DLQEntry returns the dead-letter entry with id as seen by the transaction.
func (tx *Tx) DLQEntry(id string) (protocol.DLQEntry, bool) {
	e, ok := tx.Get(protocol.KindDLQ, id)
	if !ok {
		return protocol.DLQEntry{}, false
	}
	return e.(protocol.DLQEntry).Clone(), true
}

// DLQ returns every dead-letter entry as seen by the transaction.
func (tx *Tx) DLQ() []protocol.DLQEntry {
	entities := tx.List(protocol.KindDLQ)
	out := make([]protocol.DLQEntry, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.(protocol.DLQEntry).Clone())
	}
	return out
}
