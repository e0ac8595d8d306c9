// Package store holds the canonical in-memory collections of jobs, workers,
// workflows and dead-letter entries that every forgedash view renders.
//
// All mutations go through a transaction (Apply). A transaction commits
// all-or-nothing, the store normalises the committed state (workflow progress,
// completed-job durations, worker assignment counts), and subscribers are
// notified with a consistent snapshot before Apply returns. Notifications are
// delivered one at a time in commit order.
package store

import (
	"fmt"
	"sync"
	"time"

	"forgedash/pkg/protocol"
)

// Op is the kind of change applied to one entity.
type Op string

// Change operations.
const (
	OpUpsert Op = "upsert"
	OpRemove Op = "remove"
)

// Change describes one entity touched by a commit.
type Change struct {
	Kind protocol.Kind
	ID   string
	Op   Op
}

// Snapshot is a deep-enough copy of the store that callers may keep or
// mutate freely. Each slice is in store iteration order.
type Snapshot struct {
	Jobs      []protocol.Job      `json:"jobs"`
	Workers   []protocol.Worker   `json:"workers"`
	Workflows []protocol.Workflow `json:"workflows"`
	DLQ       []protocol.DLQEntry `json:"dlq"`
}

// Event is delivered to subscribers after every commit.
type Event struct {
	Seq      uint64
	Changes  []Change
	Snapshot Snapshot
}

// Subscriber receives commit events. It runs synchronously inside Apply and
// must not mutate the store; reading through Get/List is fine.
type Subscriber func(Event)

// Store is the entity store. The zero value is not usable; call New.
type Store struct {
	// pubMu serialises commit+notify so subscribers observe events in order.
	pubMu sync.Mutex

	mu        sync.RWMutex
	jobs      collection[protocol.Job]
	workers   collection[protocol.Worker]
	workflows collection[protocol.Workflow]
	dlq       collection[protocol.DLQEntry]
	seq       uint64

	subMu   sync.Mutex
	subs    map[int]Subscriber
	nextSub int

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		jobs:      newCollection[protocol.Job](),
		workers:   newCollection[protocol.Worker](),
		workflows: newCollection[protocol.Workflow](),
		dlq:       newCollection[protocol.DLQEntry](),
		subs:      make(map[int]Subscriber),
		nowFunc:   time.Now,
	}
}

// Subscribe registers fn for commit events and returns a function that
// removes the subscription.
func (s *Store) Subscribe(fn Subscriber) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// Apply runs fn inside a transaction. If fn returns an error nothing is
// committed and no notification is sent. fn must only use tx; calling Store
// methods from inside fn deadlocks.
func (s *Store) Apply(fn func(tx *Tx) error) error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	tx := newTx(s)
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}
	if len(tx.ops) == 0 {
		s.mu.Unlock()
		return nil
	}
	changes := s.commitLocked(tx.ops)
	s.seq++
	ev := Event{Seq: s.seq, Changes: changes, Snapshot: s.snapshotLocked()}
	s.mu.Unlock()

	s.notify(ev)
	return nil
}

// notify delivers ev to every subscriber. Caller must hold pubMu.
func (s *Store) notify(ev Event) {
	s.subMu.Lock()
	subs := make([]Subscriber, 0, len(s.subs))
	// Deliver in registration order.
	for id := 0; id < s.nextSub; id++ {
		if fn, ok := s.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// Upsert inserts or replaces e by ID.
func (s *Store) Upsert(e protocol.Entity) error {
	return s.Apply(func(tx *Tx) error {
		return tx.Upsert(e)
	})
}

// Remove deletes the entity. It returns a *protocol.NotFoundError when the
// ID is absent and leaves the store untouched.
func (s *Store) Remove(kind protocol.Kind, id string) error {
	return s.Apply(func(tx *Tx) error {
		return tx.Remove(kind, id)
	})
}

// Get returns a copy of the entity, or ok=false if it is absent.
func (s *Store) Get(kind protocol.Kind, id string) (protocol.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(kind, id)
}

// List returns copies of every entity of kind in iteration order.
func (s *Store) List(kind protocol.Kind) []protocol.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(kind)
}

// Len returns the number of entities of kind.
func (s *Store) Len(kind protocol.Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case protocol.KindJob:
		return s.jobs.len()
	case protocol.KindWorker:
		return s.workers.len()
	case protocol.KindWorkflow:
		return s.workflows.len()
	case protocol.KindDLQ:
		return s.dlq.len()
	}
	return 0
}

// Snapshot returns a consistent copy of every collection.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Latest returns the current snapshot together with the sequence number of
// the commit that produced it. Changes is empty.
func (s *Store) Latest() Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Event{Seq: s.seq, Snapshot: s.snapshotLocked()}
}

// Seq returns the number of commits so far.
func (s *Store) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Job returns a copy of the job with id.
func (s *Store) Job(id string) (protocol.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs.get(id)
	return j.Clone(), ok
}

// Worker returns a copy of the worker with id.
func (s *Store) Worker(id string) (protocol.Worker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workers.get(id)
}

// Workflow returns a copy of the workflow with id.
func (s *Store) Workflow(id string) (protocol.Workflow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workflows.get(id)
}

// DLQEntry returns a copy of the dead-letter entry with id.
func (s *Store) DLQEntry(id string) (protocol.DLQEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.dlq.get(id)
	return e.Clone(), ok
}

// Jobs returns every job in iteration order.
func (s *Store) Jobs() []protocol.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs.list(cloneJob)
}

// Workers returns every worker in iteration order.
func (s *Store) Workers() []protocol.Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workers.list(identity[protocol.Worker])
}

// Workflows returns every workflow in iteration order.
func (s *Store) Workflows() []protocol.Workflow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workflows.list(identity[protocol.Workflow])
}

// DLQ returns every dead-letter entry in iteration order.
func (s *Store) DLQ() []protocol.DLQEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dlq.list(cloneDLQ)
}

// --- locked helpers ---

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Jobs:      s.jobs.list(cloneJob),
		Workers:   s.workers.list(identity[protocol.Worker]),
		Workflows: s.workflows.list(identity[protocol.Workflow]),
		DLQ:       s.dlq.list(cloneDLQ),
	}
}

func (s *Store) getLocked(kind protocol.Kind, id string) (protocol.Entity, bool) {
	switch kind {
	case protocol.KindJob:
		if j, ok := s.jobs.get(id); ok {
			return j.Clone(), true
		}
	case protocol.KindWorker:
		if w, ok := s.workers.get(id); ok {
			return w, true
		}
	case protocol.KindWorkflow:
		if w, ok := s.workflows.get(id); ok {
			return w, true
		}
	case protocol.KindDLQ:
		if e, ok := s.dlq.get(id); ok {
			return e.Clone(), true
		}
	}
	return nil, false
}

func (s *Store) orderLocked(kind protocol.Kind) []string {
	switch kind {
	case protocol.KindJob:
		return s.jobs.order
	case protocol.KindWorker:
		return s.workers.order
	case protocol.KindWorkflow:
		return s.workflows.order
	case protocol.KindDLQ:
		return s.dlq.order
	}
	return nil
}

func (s *Store) listLocked(kind protocol.Kind) []protocol.Entity {
	order := s.orderLocked(kind)
	out := make([]protocol.Entity, 0, len(order))
	for _, id := range order {
		e, _ := s.getLocked(kind, id)
		out = append(out, e)
	}
	return out
}

// commitLocked applies staged operations in order, then restores the
// derived invariants. It returns every change, including workers whose
// counters moved as a consequence.
func (s *Store) commitLocked(ops []stagedOp) []Change {
	now := s.nowFunc()
	changes := make([]Change, 0, len(ops))
	reconcile := false

	for _, op := range ops {
		if op.key.kind == protocol.KindJob || op.key.kind == protocol.KindWorker {
			reconcile = true
		}
		if op.remove {
			s.deleteLocked(op.key.kind, op.key.id)
			changes = append(changes, Change{Kind: op.key.kind, ID: op.key.id, Op: OpRemove})
			continue
		}
		s.putLocked(op.entity, now)
		changes = append(changes, Change{Kind: op.key.kind, ID: op.key.id, Op: OpUpsert})
	}

	if reconcile {
		changes = append(changes, s.reconcileWorkersLocked()...)
	}
	return changes
}

func (s *Store) putLocked(e protocol.Entity, now time.Time) {
	switch v := e.(type) {
	case protocol.Job:
		s.jobs.put(v.Normalize(now).Clone())
	case protocol.Worker:
		s.workers.put(v)
	case protocol.Workflow:
		s.workflows.put(v.Normalize())
	case protocol.DLQEntry:
		s.dlq.put(v.Clone())
	default:
		// Tx.Upsert rejects unknown types before they are staged.
		panic(fmt.Sprintf("store: unsupported entity %T", e))
	}
}

func (s *Store) deleteLocked(kind protocol.Kind, id string) {
	switch kind {
	case protocol.KindJob:
		s.jobs.del(id)
	case protocol.KindWorker:
		s.workers.del(id)
	case protocol.KindWorkflow:
		s.workflows.del(id)
	case protocol.KindDLQ:
		s.dlq.del(id)
	}
}

// reconcileWorkersLocked recounts each worker's active jobs from the job
// collection and moves online/busy to match. Offline workers keep their
// status; their count still reflects jobs that reference them.
func (s *Store) reconcileWorkersLocked() []Change {
	counts := make(map[string]int)
	for _, id := range s.jobs.order {
		j := s.jobs.items[id]
		if j.Active() {
			counts[j.Assignee.WorkerID]++
		}
	}

	var changes []Change
	for _, id := range s.workers.order {
		w := s.workers.items[id]
		assigned := counts[id]
		status := w.Status
		switch {
		case status == protocol.WorkerOffline:
		case assigned > 0:
			status = protocol.WorkerBusy
		case status == protocol.WorkerBusy:
			status = protocol.WorkerOnline
		}
		if w.AssignedJobs == assigned && w.Status == status {
			continue
		}
		w.AssignedJobs = assigned
		w.Status = status
		s.workers.items[id] = w
		changes = append(changes, Change{Kind: protocol.KindWorker, ID: id, Op: OpUpsert})
	}
	return changes
}
