// Package backlog implements the scheduled retry worker: it drains
// unprocessed backlog rows stream by stream, replays them through the Chain
// Engine, and applies exponential backoff and dead-letter classification on
// repeated failure. Rows are claimed with SELECT ... FOR UPDATE SKIP LOCKED
// so concurrent worker replicas partition streams between them, and a
// bounded-concurrency pool processes distinct streams in parallel while
// preserving per-stream replay order.
package backlog

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ILLUVRSE/auditchain/internal/chain"
	"github.com/ILLUVRSE/auditchain/internal/store"
)

const (
	defaultMaxAttempts  = 10
	defaultBaseBackoff  = 1 * time.Second
	defaultCapBackoff   = 5 * time.Minute
	defaultBatchSize    = 100
	defaultPollInterval = 3 * time.Second
	defaultConcurrency  = 5
)

// Config tunes the worker's batch size, polling cadence and retry policy.
type Config struct {
	BatchSize      int
	PollInterval   time.Duration
	MaxConcurrency int
	MaxAttempts    int
	BaseBackoff    time.Duration
	CapBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = defaultConcurrency
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
	if c.CapBackoff <= 0 {
		c.CapBackoff = defaultCapBackoff
	}
	return c
}

// Worker drains the backlog table on a schedule.
type Worker struct {
	store  store.Store
	engine *chain.Engine
	cfg    Config
	wg     sync.WaitGroup
}

// NewWorker constructs a backlog worker.
func NewWorker(st store.Store, engine *chain.Engine, cfg Config) *Worker {
	return &Worker{store: st, engine: engine, cfg: cfg.withDefaults()}
}

// Run starts the poll loop and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	log.Printf("[backlog] starting (batch=%d concurrency=%d)", w.cfg.BatchSize, w.cfg.MaxConcurrency)
	defer log.Printf("[backlog] stopped")

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return ctx.Err()
		default:
		}

		if err := w.Tick(ctx); err != nil {
			log.Printf("[backlog] tick error: %v", err)
		}

		select {
		case <-ctx.Done():
			w.wg.Wait()
			return ctx.Err()
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// Tick runs a single fetch-and-process pass; exported so callers (and tests)
// can drive the worker deterministically instead of through Run's loop.
func (w *Worker) Tick(ctx context.Context) error {
	rows, err := w.store.FetchBacklogBatch(ctx, w.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	groups := groupByStream(rows)
	sem := make(chan struct{}, w.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	for _, group := range groups {
		sem <- struct{}{}
		wg.Add(1)
		go func(group []*store.BacklogRow) {
			defer func() { <-sem; wg.Done() }()
			w.processStreamGroup(ctx, group)
		}(group)
	}
	wg.Wait()
	return nil
}

// groupByStream partitions rows by (project_id, environment_id), preserving
// each group's ascending id order.
func groupByStream(rows []*store.BacklogRow) [][]*store.BacklogRow {
	order := make([]string, 0)
	byKey := make(map[string][]*store.BacklogRow)
	for _, r := range rows {
		key := r.ProjectID + "/" + r.EnvironmentID
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], r)
	}
	groups := make([][]*store.BacklogRow, 0, len(order))
	for _, key := range order {
		groups = append(groups, byKey[key])
	}
	return groups
}

// processStreamGroup replays one stream's due rows in order, holding that
// stream's lock implicitly through the Chain Engine for the duration of
// each append.
func (w *Worker) processStreamGroup(ctx context.Context, rows []*store.BacklogRow) {
	for _, row := range rows {
		if !dueForRetry(row, w.cfg.BaseBackoff, w.cfg.CapBackoff) {
			continue
		}
		w.processRow(ctx, row)
	}
}

func (w *Worker) processRow(ctx context.Context, row *store.BacklogRow) {
	ev := *row.OriginalEvent
	ev.ID = row.NewEventID
	// Replayed events receive a fresh received_at (chain order is by
	// server-observed time); created_at is left untouched to preserve
	// original intent.
	ev.ReceivedAt = time.Time{}
	ev.Hash = ""
	ev.PreviousHash = ""
	ev.Signature = ""

	_, err := w.engine.Append(ctx, &ev)
	if err == nil {
		if markErr := w.store.MarkBacklogProcessed(ctx, row.ID); markErr != nil {
			log.Printf("[backlog] mark processed id=%d: %v", row.ID, markErr)
		}
		return
	}

	log.Printf("[backlog] replay failed id=%d stream=%s/%s attempt=%d: %v", row.ID, row.ProjectID, row.EnvironmentID, row.Attempts+1, err)
	if bumpErr := w.store.BumpAttempts(ctx, row.ID, err.Error()); bumpErr != nil {
		log.Printf("[backlog] bump attempts id=%d: %v", row.ID, bumpErr)
		return
	}
	if row.Attempts+1 >= w.cfg.MaxAttempts {
		if dlErr := w.store.MarkDeadLetter(ctx, row.ID); dlErr != nil {
			log.Printf("[backlog] mark dead_letter id=%d: %v", row.ID, dlErr)
		} else {
			log.Printf("[backlog] id=%d dead-lettered after %d attempts", row.ID, row.Attempts+1)
		}
	}
}

// dueForRetry applies exponential backoff keyed off last_attempt (base 1s,
// cap 5 min by default). Rows that have never been attempted are always due.
func dueForRetry(row *store.BacklogRow, base, capDuration time.Duration) bool {
	if row.LastAttempt == nil {
		return true
	}
	backoff := base << uint(row.Attempts)
	if backoff <= 0 || backoff > capDuration {
		backoff = capDuration
	}
	return time.Since(*row.LastAttempt) >= backoff
}
