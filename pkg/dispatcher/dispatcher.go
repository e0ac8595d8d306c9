// Package dispatcher is the only path that mutates the forgedash store on
// behalf of an operator. It encodes the job lifecycle state machine:
//
//	queued -> processing -> completed
//	processing -> failed
//	failed -> queued        (retry)
//	queued|failed -> gone   (delete/purge)
//
// Every intent checks its preconditions and applies its effect inside one
// store transaction, so a rejected intent leaves the store untouched and a
// successful one is observed by subscribers as a single consistent change.
// Intents on the same job are additionally serialised on a per-job lock; the
// loser evaluates its precondition against the winner's result.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"forgedash/internal/log"
	"forgedash/pkg/protocol"
	"forgedash/pkg/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Intent names, reported to Config.OnIntent and used as metric labels.
const (
	IntentCreateJob      = "create_job"
	IntentAssign         = "assign"
	IntentStart          = "start"
	IntentComplete       = "complete"
	IntentFail           = "fail"
	IntentRetry          = "retry"
	IntentRetryAll       = "retry_all"
	IntentDelete         = "delete"
	IntentPurge          = "purge"
	IntentPurgeAll       = "purge_all"
	IntentCreateWorkflow = "create_workflow"
)

// Submitter sends a workflow definition to the external backend.
type Submitter interface {
	Submit(ctx context.Context, def protocol.DAGDefinition) (protocol.SubmitResponse, error)
}

// Config holds Dispatcher configuration.
type Config struct {
	SubmitTimeout time.Duration // Upper bound on one workflow submission (default 10s).

	// OnIntent, when set, is called once per intent with its outcome. It runs
	// on the caller's goroutine, or on the submission goroutine for workflows.
	OnIntent func(intent string, err error)

	Logger logrus.FieldLogger // default: log.GetLogger()
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.SubmitTimeout == 0 {
		out.SubmitTimeout = 10 * time.Second
	}
	if out.Logger == nil {
		out.Logger = log.GetLogger()
	}
	return out
}

// Dispatcher validates and applies operator intents.
type Dispatcher struct {
	cfg       Config
	store     *store.Store
	submitter Submitter
	logger    logrus.FieldLogger

	mu    sync.Mutex
	locks map[string]*jobLock

	// inflight tracks workflow submissions that have not resolved yet.
	inflight sync.WaitGroup

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
	// newID mints the random part of job and workflow IDs.
	newID func() string

	// testUnlockHook, if set, runs after an intent has taken its job lock and
	// before it reads the job. Tests use it to hold the lock open.
	testUnlockHook func()
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a Dispatcher over s. submitter may be nil, in which case
// CreateWorkflow reports the backend as unavailable.
func New(cfg Config, s *store.Store, submitter Submitter) *Dispatcher {
	resolved := cfg.withDefaults()
	return &Dispatcher{
		cfg:       resolved,
		store:     s,
		submitter: submitter,
		logger:    resolved.Logger,
		locks:     make(map[string]*jobLock),
		nowFunc:   time.Now,
		newID:     uuid.NewString,
	}
}

// Store returns the store the dispatcher mutates.
func (d *Dispatcher) Store() *store.Store {
	return d.store
}

// Wait blocks until every workflow submission started so far has resolved.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// lockJob takes the logical lock for id and returns its release function.
// Locks are reference counted so the map does not grow with every job ever
// touched.
func (d *Dispatcher) lockJob(id string) func() {
	d.mu.Lock()
	l, ok := d.locks[id]
	if !ok {
		l = &jobLock{}
		d.locks[id] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	if d.testUnlockHook != nil {
		d.testUnlockHook()
	}
	return func() {
		l.mu.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, id)
		}
		d.mu.Unlock()
	}
}

// report logs an intent outcome and forwards it to the OnIntent hook.
func (d *Dispatcher) report(intent, id string, err error) {
	entry := d.logger.WithFields(logrus.Fields{"intent": intent, "id": id})
	if err != nil {
		entry.WithError(err).Info("intent rejected")
	} else {
		entry.Debug("intent applied")
	}
	if d.cfg.OnIntent != nil {
		d.cfg.OnIntent(intent, err)
	}
}
