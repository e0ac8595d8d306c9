package main

import (
	"context"
	"fmt"
	"sync"

	"forgedash/internal/config"
	"forgedash/internal/log"
	"forgedash/pkg/backend"
	"forgedash/pkg/dispatcher"
	"forgedash/pkg/protocol"
	"forgedash/pkg/source"
	"forgedash/pkg/stats"
	"forgedash/pkg/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

// app wires the store, its feeders and its consumers for one process.
type app struct {
	cfg       config.Config
	store     *store.Store
	disp      *dispatcher.Dispatcher
	engine    *stats.Engine
	collector *stats.Collector
	registry  *prometheus.Registry
	logger    logrus.FieldLogger

	wg sync.WaitGroup
}

// newApp builds the pipeline: seed and roster are loaded before anything
// subscribes, so the first snapshot every consumer sees is complete.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{
		cfg:    cfg,
		store:  store.New(),
		logger: log.GetLogger(),
	}

	if cfg.SeedPath != "" {
		seed, err := source.LoadSeed(cfg.SeedPath)
		if err != nil {
			return nil, err
		}
		if err := seed.Apply(a.store); err != nil {
			return nil, fmt.Errorf("apply seed: %w", err)
		}
		a.logger.WithFields(logrus.Fields{
			"path": cfg.SeedPath, "jobs": len(seed.Jobs), "workflows": len(seed.Workflows), "dlq": len(seed.DLQ),
		}).Info("seed loaded")
	}
	if err := a.reloadRoster(ctx); err != nil {
		return nil, err
	}

	a.engine = stats.NewEngine(a.store)
	a.collector = stats.NewCollector(a.engine)
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		a.collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var submitter dispatcher.Submitter
	if cfg.Backend.URL != "" {
		submitter = backend.NewClient(cfg.Backend.URL, cfg.Backend.Timeout.Std())
	}
	a.disp = dispatcher.New(dispatcher.Config{
		SubmitTimeout: cfg.Backend.Timeout.Std(),
		OnIntent:      a.collector.ObserveIntent,
	}, a.store, submitter)
	return a, nil
}

// reloadRoster merges the roster database and file, the file winning on
// conflicting IDs, and syncs the result into the store.
func (a *app) reloadRoster(ctx context.Context) error {
	var workers []protocol.Worker
	if a.cfg.Roster.DBPath != "" {
		fromDB, err := source.LoadRosterDB(ctx, a.cfg.Roster.DBPath)
		if err != nil {
			return err
		}
		workers = fromDB
	}
	if a.cfg.Roster.Path != "" {
		fromFile, err := source.LoadRoster(a.cfg.Roster.Path)
		if err != nil {
			return err
		}
		workers = mergeWorkers(workers, fromFile)
	}
	if len(workers) == 0 {
		return nil
	}
	if err := source.SyncRoster(a.store, workers); err != nil {
		return fmt.Errorf("sync roster: %w", err)
	}
	a.logger.WithField("workers", len(workers)).Info("roster loaded")
	return nil
}

func mergeWorkers(base, override []protocol.Worker) []protocol.Worker {
	pos := make(map[string]int, len(base))
	out := append([]protocol.Worker(nil), base...)
	for i, w := range out {
		pos[w.ID] = i
	}
	for _, w := range override {
		if i, ok := pos[w.ID]; ok {
			out[i] = w
			continue
		}
		pos[w.ID] = len(out)
		out = append(out, w)
	}
	return out
}

// start launches the backend feed and the roster watcher, when configured.
// They stop when ctx is done; wait blocks until they have.
func (a *app) start(ctx context.Context) {
	if url := a.cfg.Backend.FeedURL; url != "" {
		feed := backend.NewFeed(backend.FeedConfig{
			URL:          url,
			ReconnectMax: a.cfg.Backend.ReconnectMax.Std(),
		}, a.store)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := feed.Run(ctx); err != nil {
				a.logger.WithError(err).Error("backend feed stopped")
			}
		}()
	}

	if a.cfg.Roster.Watch && (a.cfg.Roster.Path != "" || a.cfg.Roster.DBPath != "") {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			err := source.Watch(ctx, func() {
				if err := a.reloadRoster(ctx); err != nil {
					a.logger.WithError(err).Warn("roster reload failed, keeping previous roster")
				}
			}, a.cfg.Roster.Path, a.cfg.Roster.DBPath)
			if err != nil {
				a.logger.WithError(err).Error("roster watch stopped")
			}
		}()
	}
}

// close waits for background work and in-flight submissions.
func (a *app) close() {
	a.wg.Wait()
	a.disp.Wait()
	a.engine.Close()
}
