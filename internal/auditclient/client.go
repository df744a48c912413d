// Package auditclient exposes the audit-chain library surface: a Client
// wiring the store, chain engine, ingest pipeline, backlog worker, verifier
// and sealer into the handful of operations an embedding application calls.
// Every operation takes project_id/environment_id explicitly rather than
// reading them off a hidden client-bound context; ScopedClient/WithContext
// below are the only convenience layer that applies a default.
package auditclient

import (
	"context"
	"time"

	"github.com/ILLUVRSE/auditchain/internal/backlog"
	"github.com/ILLUVRSE/auditchain/internal/chain"
	"github.com/ILLUVRSE/auditchain/internal/config"
	"github.com/ILLUVRSE/auditchain/internal/crypto"
	"github.com/ILLUVRSE/auditchain/internal/ingest"
	"github.com/ILLUVRSE/auditchain/internal/model"
	"github.com/ILLUVRSE/auditchain/internal/notify"
	"github.com/ILLUVRSE/auditchain/internal/seal"
	"github.com/ILLUVRSE/auditchain/internal/store"
	"github.com/ILLUVRSE/auditchain/internal/verify"
)

// Client is the full audit-chain library surface.
type Client struct {
	store    store.Store
	engine   *chain.Engine
	pipeline *ingest.Pipeline
	worker   *backlog.Worker
	verifier *verify.Verifier
	sealer   *seal.Sealer
	notifier notify.Notifier
}

// New wires a Client from an already-opened Store, signer and configuration.
// notifier may be nil (no commit fan-out).
func New(st store.Store, signer *crypto.Service, cfg config.Config, notifier notify.Notifier) *Client {
	if notifier == nil {
		notifier = notify.NoOp{}
	}
	engine := chain.NewEngine(st, signer, nil)
	pipeline := ingest.NewPipeline(st, engine, notifier, ingest.Config{
		MaxBulkEvents:       cfg.Application.MaxBulkEvents,
		CreateEventTimeout:  cfg.Application.CreateEventTimeout,
		MaxBacklogPerStream: cfg.Application.MaxBacklogPerStream,
	}, nil)
	worker := backlog.NewWorker(st, engine, backlog.Config{})
	verifier := verify.NewVerifier(st, signer)
	sealer := seal.NewSealer(st, verifier)

	return &Client{
		store:    st,
		engine:   engine,
		pipeline: pipeline,
		worker:   worker,
		verifier: verifier,
		sealer:   sealer,
		notifier: notifier,
	}
}

// CreateEvent submits a single event through the two-phase ingest pipeline
// and returns the fully chained, committed event.
func (c *Client) CreateEvent(ctx context.Context, ev *model.Event) (*model.Event, error) {
	return c.pipeline.CreateEvent(ctx, ev)
}

// CreateEvents submits a batch atomically through a single stream-lock
// acquisition.
func (c *Client) CreateEvents(ctx context.Context, evs []*model.Event) ([]*model.Event, error) {
	return c.pipeline.CreateEvents(ctx, evs)
}

// QueryEvents runs a scoped, paginated query over a stream.
func (c *Client) QueryEvents(ctx context.Context, filter model.QueryFilter, page model.Pagination) (*model.QueryResult, error) {
	return c.store.QueryEvents(ctx, filter, page)
}

// GetEvent fetches a single event by id within a stream.
func (c *Client) GetEvent(ctx context.Context, projectID, environmentID, id string) (*model.Event, error) {
	return c.store.GetEvent(ctx, projectID, environmentID, id)
}

// ValidateEvents re-derives and checks every event in [start, end] of a
// stream, returning a report of every failure found.
func (c *Client) ValidateEvents(ctx context.Context, projectID, environmentID string, start, end time.Time) (*model.ValidationResult, error) {
	return c.verifier.ValidateRange(ctx, projectID, environmentID, start, end)
}

// SealEvents verifies [genesis, upTo] and, if clean, records a seal marker
// making that prefix of the stream immutable at the store layer.
func (c *Client) SealEvents(ctx context.Context, projectID, environmentID string, upTo time.Time) (*model.SealMarker, error) {
	return c.sealer.Seal(ctx, projectID, environmentID, upTo)
}

// ExportToWORM writes [start, end] of a stream to sink as a single
// {event, sealed_under} envelope array, in chain order.
func (c *Client) ExportToWORM(ctx context.Context, projectID, environmentID string, start, end time.Time, sink seal.Sink) (int, error) {
	exporter := seal.NewExporter(c.store, sink)
	return exporter.ExportRange(ctx, projectID, environmentID, start, end)
}

// RunBacklogWorker blocks draining the backlog queue until ctx is cancelled.
// Callers typically run this in its own goroutine.
func (c *Client) RunBacklogWorker(ctx context.Context) error {
	return c.worker.Run(ctx)
}

// Close releases the notifier and the underlying store.
func (c *Client) Close() error {
	notifyErr := c.notifier.Close()
	storeErr := c.store.Close()
	if storeErr != nil {
		return storeErr
	}
	return notifyErr
}

// ScopedClient binds a default (project_id, environment_id) so callers in a
// single-tenant context don't have to repeat it; the underlying Client
// methods remain available with explicit scope for callers that need it.
type ScopedClient struct {
	*Client
	ProjectID     string
	EnvironmentID string
}

// WithContext returns a ScopedClient defaulting to projectID/environmentID.
func (c *Client) WithContext(projectID, environmentID string) *ScopedClient {
	return &ScopedClient{Client: c, ProjectID: projectID, EnvironmentID: environmentID}
}

// CreateEvent fills in the scoped project/environment before delegating.
func (s *ScopedClient) CreateEvent(ctx context.Context, ev *model.Event) (*model.Event, error) {
	ev.ProjectID = s.ProjectID
	ev.EnvironmentID = s.EnvironmentID
	return s.Client.CreateEvent(ctx, ev)
}

// CreateEvents fills in the scoped project/environment on every event before delegating.
func (s *ScopedClient) CreateEvents(ctx context.Context, evs []*model.Event) ([]*model.Event, error) {
	for _, ev := range evs {
		ev.ProjectID = s.ProjectID
		ev.EnvironmentID = s.EnvironmentID
	}
	return s.Client.CreateEvents(ctx, evs)
}

// QueryEvents fills in the scoped project/environment before delegating.
func (s *ScopedClient) QueryEvents(ctx context.Context, filter model.QueryFilter, page model.Pagination) (*model.QueryResult, error) {
	filter.ProjectID = s.ProjectID
	filter.EnvironmentID = s.EnvironmentID
	return s.Client.QueryEvents(ctx, filter, page)
}

// GetEvent fills in the scoped project/environment before delegating.
func (s *ScopedClient) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return s.Client.GetEvent(ctx, s.ProjectID, s.EnvironmentID, id)
}

// ValidateEvents fills in the scoped project/environment before delegating.
func (s *ScopedClient) ValidateEvents(ctx context.Context, start, end time.Time) (*model.ValidationResult, error) {
	return s.Client.ValidateEvents(ctx, s.ProjectID, s.EnvironmentID, start, end)
}

// SealEvents fills in the scoped project/environment before delegating.
func (s *ScopedClient) SealEvents(ctx context.Context, upTo time.Time) (*model.SealMarker, error) {
	return s.Client.SealEvents(ctx, s.ProjectID, s.EnvironmentID, upTo)
}

// ExportToWORM fills in the scoped project/environment before delegating.
func (s *ScopedClient) ExportToWORM(ctx context.Context, start, end time.Time, sink seal.Sink) (int, error) {
	return s.Client.ExportToWORM(ctx, s.ProjectID, s.EnvironmentID, start, end, sink)
}
