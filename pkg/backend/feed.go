package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"forgedash/internal/log"
	"forgedash/pkg/protocol"
	"forgedash/pkg/store"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Notification types carried in Message.Type.
const (
	MsgJob             = "job"
	MsgWorker          = "worker"
	MsgWorkflow        = "workflow"
	MsgDLQ             = "dlq"
	MsgJobRemoved      = "job.removed"
	MsgWorkflowRemoved = "workflow.removed"
	MsgDLQRemoved      = "dlq.removed"
)

// Message is one notification on the feed. Data holds the entity for
// upserts and {"id": ...} for removals.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type removal struct {
	ID string `json:"id"`
}

// FeedConfig configures a Feed.
type FeedConfig struct {
	URL          string        // ws:// or wss:// endpoint.
	ReconnectMax time.Duration // Longest wait between reconnects (default 30s).
	Dialer       *websocket.Dialer
	Logger       logrus.FieldLogger
}

// Feed follows the backend's notification stream and mirrors it into a
// store.
type Feed struct {
	cfg    FeedConfig
	store  *store.Store
	logger logrus.FieldLogger

	// newBackOff allows tests to shorten reconnect delays.
	newBackOff func() backoff.BackOff
}

// NewFeed returns a feed that applies notifications to s.
func NewFeed(cfg FeedConfig, s *store.Store) *Feed {
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.GetLogger()
	}
	f := &Feed{cfg: cfg, store: s, logger: cfg.Logger.WithField("feed", cfg.URL)}
	f.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = cfg.ReconnectMax
		b.MaxElapsedTime = 0
		return b
	}
	return f
}

// Run connects and applies notifications until ctx is done, reconnecting
// with exponential backoff whenever the connection drops. It returns nil
// on cancellation.
func (f *Feed) Run(ctx context.Context) error {
	b := f.newBackOff()
	err := backoff.RetryNotify(func() error {
		return f.session(ctx, b)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		f.logger.WithError(err).WithField("retry_in", wait).Warn("feed disconnected")
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// session runs one connection. A clean read error ends the session so Run
// can reconnect.
func (f *Feed) session(ctx context.Context, b backoff.BackOff) error {
	conn, _, err := f.cfg.Dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return errors.Wrap(err, "dial feed")
	}
	defer conn.Close() //nolint:errcheck // closing a dead connection

	b.Reset()
	f.logger.Info("feed connected")

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return errors.Wrap(err, "read feed")
		}
		if err := Apply(f.store, msg); err != nil {
			f.logger.WithError(err).WithField("type", msg.Type).Warn("notification dropped")
		}
	}
}

// Apply applies one notification to s. Upserts overwrite by ID in arrival
// order; removals of IDs the store does not hold are ignored, so duplicate
// and late notifications are harmless. Unknown types are ignored.
func Apply(s *store.Store, msg Message) error {
	switch msg.Type {
	case MsgJob:
		var j protocol.Job
		if err := decode(msg, &j); err != nil {
			return err
		}
		if j.Status == protocol.JobProcessing && j.Assignee == nil {
			log.GetLogger().WithField("job", j.ID).Warn("backend reports processing job without assignee, storing it as queued")
		}
		return s.Upsert(j)
	case MsgWorker:
		var w protocol.Worker
		if err := decode(msg, &w); err != nil {
			return err
		}
		return s.Upsert(w)
	case MsgWorkflow:
		var wf protocol.Workflow
		if err := decode(msg, &wf); err != nil {
			return err
		}
		return s.Upsert(wf)
	case MsgDLQ:
		var e protocol.DLQEntry
		if err := decode(msg, &e); err != nil {
			return err
		}
		return s.Upsert(e)
	case MsgJobRemoved:
		return remove(s, protocol.KindJob, msg)
	case MsgWorkflowRemoved:
		return remove(s, protocol.KindWorkflow, msg)
	case MsgDLQRemoved:
		return remove(s, protocol.KindDLQ, msg)
	}
	return nil
}

func decode(msg Message, v any) error {
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("%w: %s notification: %v", protocol.ErrInvalidInput, msg.Type, err)
	}
	return nil
}

func remove(s *store.Store, kind protocol.Kind, msg Message) error {
	var r removal
	if err := decode(msg, &r); err != nil {
		return err
	}
	err := s.Remove(kind, r.ID)
	if errors.Is(err, protocol.ErrNotFound) {
		return nil
	}
	return err
}
