// Package stats derives the dashboard's aggregate numbers from a store
// snapshot. Compute is a pure function; Engine keeps the latest result
// current as the store changes.
package stats

import (
	"sort"
	"sync"
	"time"

	"forgedash/pkg/protocol"
	"forgedash/pkg/store"
)

// WorkflowProgress is one row of the workflow progress table.
type WorkflowProgress struct {
	ID             string                  `json:"id"`
	Name           string                  `json:"name"`
	Status         protocol.WorkflowStatus `json:"status"`
	Progress       int                     `json:"progress"`
	NodesTotal     int                     `json:"nodes_total"`
	NodesCompleted int                     `json:"nodes_completed"`
}

// ThroughputWindow is how many hourly buckets Compute keeps, counted back
// from the newest one.
const ThroughputWindow = 24

// HourBucket counts job activity within one clock hour. Queued counts jobs
// created in the hour; Completed and Failed count jobs that finished in it.
type HourBucket struct {
	Hour      time.Time `json:"hour"`
	Queued    int       `json:"queued"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
}

// Summary is the read-only aggregate view of a snapshot. Every status and
// priority key is present, zero or not.
type Summary struct {
	TotalJobs      int                             `json:"total_jobs"`
	Jobs           map[protocol.JobStatus]int      `json:"jobs"`
	JobsByPriority map[protocol.Priority]int       `json:"jobs_by_priority"`
	TotalWorkers   int                             `json:"total_workers"`
	Workers        map[protocol.WorkerStatus]int   `json:"workers"`
	AssignedJobs   int                             `json:"assigned_jobs"`
	DLQDepth       int                             `json:"dlq_depth"`
	Workflows      []WorkflowProgress              `json:"workflows"`
	WorkflowStates map[protocol.WorkflowStatus]int `json:"workflow_states"`
	// SuccessRate is completed/(completed+failed) in percent, 100 when no
	// job has finished yet.
	SuccessRate float64 `json:"success_rate"`
	// Throughput holds hourly activity, oldest first. Hours without any
	// timestamped activity are omitted.
	Throughput []HourBucket `json:"throughput"`
}

// Compute summarises snap.
func Compute(snap store.Snapshot) Summary {
	sum := Summary{
		TotalJobs: len(snap.Jobs),
		Jobs: map[protocol.JobStatus]int{
			protocol.JobQueued:     0,
			protocol.JobProcessing: 0,
			protocol.JobCompleted:  0,
			protocol.JobFailed:     0,
			protocol.JobRetrying:   0,
		},
		JobsByPriority: make(map[protocol.Priority]int, len(protocol.Priorities)),
		TotalWorkers:   len(snap.Workers),
		Workers: map[protocol.WorkerStatus]int{
			protocol.WorkerOnline:  0,
			protocol.WorkerBusy:    0,
			protocol.WorkerOffline: 0,
		},
		DLQDepth:  len(snap.DLQ),
		Workflows: make([]WorkflowProgress, 0, len(snap.Workflows)),
		WorkflowStates: map[protocol.WorkflowStatus]int{
			protocol.WorkflowPending:   0,
			protocol.WorkflowRunning:   0,
			protocol.WorkflowCompleted: 0,
			protocol.WorkflowFailed:    0,
		},
	}
	for _, p := range protocol.Priorities {
		sum.JobsByPriority[p] = 0
	}

	for _, j := range snap.Jobs {
		sum.Jobs[j.Status]++
		sum.JobsByPriority[j.Priority]++
		if j.Active() {
			sum.AssignedJobs++
		}
	}
	for _, w := range snap.Workers {
		sum.Workers[w.Status]++
	}
	for _, wf := range snap.Workflows {
		sum.WorkflowStates[wf.Status]++
		sum.Workflows = append(sum.Workflows, WorkflowProgress{
			ID:             wf.ID,
			Name:           wf.Name,
			Status:         wf.Status,
			Progress:       wf.Progress,
			NodesTotal:     wf.NodesTotal,
			NodesCompleted: wf.NodesCompleted,
		})
	}

	sum.Throughput = throughput(snap)

	done, failed := sum.Jobs[protocol.JobCompleted], sum.Jobs[protocol.JobFailed]
	sum.SuccessRate = 100
	if done+failed > 0 {
		sum.SuccessRate = 100 * float64(done) / float64(done+failed)
	}
	return sum
}

// throughput buckets job arrivals and finishes by UTC hour. A completed job
// without a finish time is placed at start plus duration. Dead-letter
// entries count as failures at FailedAt unless a failed job with the same ID
// already accounted for it.
func throughput(snap store.Snapshot) []HourBucket {
	buckets := make(map[time.Time]*HourBucket)
	at := func(t time.Time) *HourBucket {
		h := t.UTC().Truncate(time.Hour)
		b, ok := buckets[h]
		if !ok {
			b = &HourBucket{Hour: h}
			buckets[h] = b
		}
		return b
	}

	failedJobs := make(map[string]bool)
	for _, j := range snap.Jobs {
		if !j.CreatedAt.IsZero() {
			at(j.CreatedAt).Queued++
		}
		switch j.Status {
		case protocol.JobCompleted:
			finished := j.FinishedAt
			if finished.IsZero() && !j.StartedAt.IsZero() && j.Duration != nil {
				finished = j.StartedAt.Add(*j.Duration)
			}
			if !finished.IsZero() {
				at(finished).Completed++
			}
		case protocol.JobFailed:
			if !j.FinishedAt.IsZero() {
				at(j.FinishedAt).Failed++
				failedJobs[j.ID] = true
			}
		}
	}
	for _, e := range snap.DLQ {
		if !e.FailedAt.IsZero() && !failedJobs[e.ID] {
			at(e.FailedAt).Failed++
		}
	}

	out := make([]HourBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Hour.Before(out[k].Hour) })
	if len(out) > 0 {
		cutoff := out[len(out)-1].Hour.Add(-(ThroughputWindow - 1) * time.Hour)
		first := sort.Search(len(out), func(i int) bool { return !out[i].Hour.Before(cutoff) })
		out = out[first:]
	}
	return out
}

// Engine recomputes the summary after every store commit and memoises it.
type Engine struct {
	mu      sync.RWMutex
	seq     uint64
	summary Summary

	cancel func()
}

// NewEngine starts tracking s. Call Close to stop.
func NewEngine(s *store.Store) *Engine {
	e := &Engine{}
	e.cancel = s.Subscribe(func(ev store.Event) { e.update(ev) })
	e.update(s.Latest())
	return e
}

// update keeps the newest summary; an event racing with construction may
// arrive before or after the initial snapshot.
func (e *Engine) update(ev store.Event) {
	sum := Compute(ev.Snapshot)
	e.mu.Lock()
	defer e.mu.Unlock()
	if ev.Seq < e.seq {
		return
	}
	e.seq = ev.Seq
	e.summary = sum
}

// Summary returns the latest summary. Callers must not modify its maps.
func (e *Engine) Summary() Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.summary
}

// Seq returns the store commit the summary reflects.
func (e *Engine) Seq() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.seq
}

// Close detaches the engine from the store.
func (e *Engine) Close() {
	e.cancel()
}
