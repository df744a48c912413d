// Package ingest implements the two-phase accept/commit pipeline in front of
// the Chain Engine: accept validates and durably records the raw submission
// before any chain work happens, commit performs the chain append and falls
// back to the backlog queue on failure.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ILLUVRSE/auditchain/internal/auditerr"
	"github.com/ILLUVRSE/auditchain/internal/chain"
	"github.com/ILLUVRSE/auditchain/internal/model"
	"github.com/ILLUVRSE/auditchain/internal/notify"
	"github.com/ILLUVRSE/auditchain/internal/store"
)

const (
	maxActorTargetFieldLen = 1024
	maxDescriptionLen      = 8192
	maxActionLen           = 256
)

// Config tunes the pipeline's per-call limits.
type Config struct {
	MaxBulkEvents       int
	CreateEventTimeout  time.Duration
	MaxBacklogPerStream int // 0 disables the cap
}

// DefaultConfig returns the documented default limits.
func DefaultConfig() Config {
	return Config{MaxBulkEvents: 1000, CreateEventTimeout: 5000 * time.Millisecond, MaxBacklogPerStream: 10000}
}

// Pipeline is the accept/commit ingest surface used by auditclient.Client.
type Pipeline struct {
	store  store.Store
	engine *chain.Engine
	notify notify.Notifier
	cfg    Config
	clock  func() time.Time
}

// NewPipeline constructs a pipeline. notifier may be nil (no-op).
func NewPipeline(st store.Store, engine *chain.Engine, notifier notify.Notifier, cfg Config, clock func() time.Time) *Pipeline {
	if cfg.MaxBulkEvents <= 0 {
		cfg.MaxBulkEvents = 1000
	}
	if cfg.CreateEventTimeout <= 0 {
		cfg.CreateEventTimeout = 5000 * time.Millisecond
	}
	if notifier == nil {
		notifier = notify.NoOp{}
	}
	if clock == nil {
		clock = time.Now
	}
	return &Pipeline{store: st, engine: engine, notify: notifier, cfg: cfg, clock: clock}
}

// validateShape checks the required-field and length constraints an
// accepted event must satisfy before it can enter the chain.
func validateShape(ev *model.Event) error {
	if ev.ProjectID == "" || ev.EnvironmentID == "" {
		return auditerr.New(auditerr.ContextMissing, "project_id and environment_id are required")
	}
	if ev.Action == "" {
		return auditerr.New(auditerr.ValidationError, "action is required")
	}
	if len(ev.Action) > maxActionLen {
		return auditerr.New(auditerr.ValidationError, fmt.Sprintf("action exceeds %d characters", maxActionLen))
	}
	if ev.ActorID == "" && ev.ActorName == "" && ev.TargetID == "" && ev.TargetName == "" {
		return auditerr.New(auditerr.ValidationError, "at least one of actor or target is required")
	}
	if !model.ValidCRUD(ev.CRUD) {
		return auditerr.New(auditerr.ValidationError, fmt.Sprintf("crud %q is not one of create/read/update/delete", ev.CRUD))
	}
	if len(ev.Description) > maxDescriptionLen {
		return auditerr.New(auditerr.ValidationError, "description exceeds allowed length")
	}
	for _, s := range []string{ev.ActorID, ev.ActorName, ev.ActorHref, ev.TargetID, ev.TargetName, ev.TargetHref, ev.TargetType, ev.GroupID, ev.GroupName} {
		if len(s) > maxActorTargetFieldLen {
			return auditerr.New(auditerr.ValidationError, "identity field exceeds allowed length")
		}
	}
	return nil
}

// Accept validates ev, assigns its id, and durably records the raw
// submission with its receive time as an ingest_task before any chain work
// happens. The ingest_task is keyed by the assigned event id, so the
// returned new_event_id is also the task's id and is stable across
// retries/replays.
func (p *Pipeline) Accept(ctx context.Context, ev *model.Event) (newEventID string, err error) {
	if err := validateShape(ev); err != nil {
		return "", err
	}
	if ev.ID == "" {
		ev.ID = model.NewEventID()
	}
	received := p.clock().UTC()

	task := &store.IngestTask{
		ID:            ev.ID,
		OriginalEvent: ev,
		ProjectID:     ev.ProjectID,
		EnvironmentID: ev.EnvironmentID,
		NewEventID:    ev.ID,
		Received:      received,
	}
	if err := p.store.InsertIngestTask(ctx, task); err != nil {
		return "", err
	}
	return task.ID, nil
}

// Commit performs the chain append for a previously accepted task, bounded
// by create_event_timeout. On success the ingest_task is marked processed
// and a best-effort commit notification is fired. On failure (including
// timeout) the task moves to the backlog, unless the stream's backlog is
// already at max_backlog_per_stream, in which case it returns backlog_full
// instead; the ingest_task row is then left unprocessed and is not queued
// for replay.
func (p *Pipeline) Commit(ctx context.Context, task *store.IngestTask) (*model.Event, error) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.CreateEventTimeout)
	defer cancel()

	committed, err := p.engine.Append(cctx, task.OriginalEvent)
	if err == nil {
		if markErr := p.store.MarkIngestProcessed(ctx, task.ID); markErr != nil {
			return committed, markErr
		}
		p.notify.NotifyCommit(ctx, committed)
		return committed, nil
	}

	if p.cfg.MaxBacklogPerStream > 0 {
		n, countErr := p.store.CountBacklogForStream(ctx, task.ProjectID, task.EnvironmentID)
		if countErr != nil {
			return nil, countErr
		}
		if n >= p.cfg.MaxBacklogPerStream {
			return nil, auditerr.New(auditerr.BacklogFull, fmt.Sprintf("backlog for stream %s/%s is at max_backlog_per_stream (%d)", task.ProjectID, task.EnvironmentID, p.cfg.MaxBacklogPerStream))
		}
	}

	lastError := err.Error()
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		lastError = "timeout: " + lastError
	}
	if _, backlogErr := p.store.MoveToBacklog(ctx, task, lastError); backlogErr != nil {
		return nil, backlogErr
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return nil, auditerr.Wrap(auditerr.Timeout, "create_event_timeout exceeded, queued for retry", err)
	}
	return nil, err
}

// CreateEvent runs accept+commit back to back for a single caller-facing
// create_event call.
func (p *Pipeline) CreateEvent(ctx context.Context, ev *model.Event) (*model.Event, error) {
	taskID, err := p.Accept(ctx, ev)
	if err != nil {
		return nil, err
	}
	task := &store.IngestTask{ID: taskID, OriginalEvent: ev, ProjectID: ev.ProjectID, EnvironmentID: ev.EnvironmentID, NewEventID: ev.ID}
	return p.Commit(ctx, task)
}

// CreateEvents runs the bulk submission path: one stream lock acquisition,
// one transaction, all-or-nothing. Unlike CreateEvent this does not route
// through the backlog on failure; a bulk caller is expected
// to resubmit the whole batch.
func (p *Pipeline) CreateEvents(ctx context.Context, evs []*model.Event) ([]*model.Event, error) {
	if len(evs) == 0 {
		return nil, nil
	}
	if len(evs) > p.cfg.MaxBulkEvents {
		return nil, auditerr.New(auditerr.BulkTooLarge, fmt.Sprintf("batch of %d exceeds max_bulk_events (%d)", len(evs), p.cfg.MaxBulkEvents))
	}
	for _, ev := range evs {
		if err := validateShape(ev); err != nil {
			return nil, err
		}
	}
	cctx, cancel := context.WithTimeout(ctx, p.cfg.CreateEventTimeout)
	defer cancel()

	committed, err := p.engine.AppendBatch(cctx, evs)
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, auditerr.Wrap(auditerr.Timeout, "create_event_timeout exceeded on bulk append", err)
		}
		return nil, err
	}
	for _, ev := range committed {
		p.notify.NotifyCommit(ctx, ev)
	}
	return committed, nil
}
