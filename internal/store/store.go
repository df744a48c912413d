// Package store is the thin repository over the relational database backing
// the audit-chain core.
package store

import (
	"context"
	"time"

	"github.com/ILLUVRSE/auditchain/internal/model"
)

// ChainTip is the latest committed event's hash/timestamp for a stream.
type ChainTip struct {
	Hash       string
	ReceivedAt time.Time
}

// BacklogRow is a persisted retry-queue entry.
type BacklogRow struct {
	ID            int64
	ProjectID     string
	EnvironmentID string
	NewEventID    string
	Received      time.Time
	OriginalEvent *model.Event
	Processed     bool
	Attempts      int
	LastAttempt   *time.Time
	LastError     string
}

// IngestTask is a transient accept-time record.
type IngestTask struct {
	ID            string
	OriginalEvent *model.Event
	ProjectID     string
	EnvironmentID string
	NewEventID    string
	Received      time.Time
	Processed     bool
}

// Store is the full persistence surface the core uses. Every scoped
// operation requires project_id and environment_id.
type Store interface {
	// InsertEvent inserts a single fully-chained event within tx.
	InsertEvent(ctx context.Context, tx Tx, ev *model.Event) error

	// InsertEvents inserts a batch of fully-chained events within tx, atomically.
	InsertEvents(ctx context.Context, tx Tx, evs []*model.Event) error

	// GetEvent returns the event or auditerr.NotFound.
	GetEvent(ctx context.Context, projectID, environmentID, id string) (*model.Event, error)

	// QueryEvents runs a scoped, paginated query.
	QueryEvents(ctx context.Context, filter model.QueryFilter, page model.Pagination) (*model.QueryResult, error)

	// IterateRange streams events in a stream's [start,end] range, in chain
	// order, invoking fn for each. fn returning an error stops iteration.
	IterateRange(ctx context.Context, projectID, environmentID string, start, end time.Time, fn func(*model.Event) error) error

	// GetChainTip returns the latest event's (hash, received_at) for a
	// stream, or (nil, nil) for an empty stream. Must be called within a
	// transaction that holds the stream lock (see chain.Engine).
	GetChainTip(ctx context.Context, tx Tx, projectID, environmentID string) (*ChainTip, error)

	// LockStream acquires the stream's advisory transaction lock, serializing
	// concurrent appends to the same stream while leaving other streams free
	// to commit in parallel. Released automatically on commit/rollback.
	LockStream(ctx context.Context, tx Tx, projectID, environmentID string) error

	// ExternalIDExists reports whether externalID is already used in the stream.
	ExternalIDExists(ctx context.Context, tx Tx, projectID, environmentID, externalID string) (bool, error)

	// InsertIngestTask persists an accept-time record.
	InsertIngestTask(ctx context.Context, task *IngestTask) error

	// MarkIngestProcessed marks an ingest_task row committed.
	MarkIngestProcessed(ctx context.Context, id string) error

	// MoveToBacklog deletes the ingest_task row (if present) and inserts a backlog row.
	MoveToBacklog(ctx context.Context, task *IngestTask, lastError string) (int64, error)

	// FetchBacklogBatch returns up to limit unprocessed, non-dead-letter
	// backlog rows, oldest first, claimed via SKIP LOCKED so concurrent
	// workers partition work across streams.
	FetchBacklogBatch(ctx context.Context, limit int) ([]*BacklogRow, error)

	// MarkBacklogProcessed marks a backlog row processed=true.
	MarkBacklogProcessed(ctx context.Context, id int64) error

	// BumpAttempts increments a backlog row's attempt count and records lastError.
	BumpAttempts(ctx context.Context, id int64, lastError string) error

	// MarkDeadLetter flags a backlog row as permanently excluded from future ticks.
	MarkDeadLetter(ctx context.Context, id int64) error

	// CountBacklogForStream returns the number of unprocessed backlog rows for a stream.
	CountBacklogForStream(ctx context.Context, projectID, environmentID string) (int, error)

	// InsertSealMarker persists a seal marker.
	InsertSealMarker(ctx context.Context, marker *model.SealMarker) error

	// ListSealMarkers returns all seal markers for a stream, oldest first.
	ListSealMarkers(ctx context.Context, projectID, environmentID string) ([]*model.SealMarker, error)

	// LatestSealUpTo returns the most recent seal marker's UpToTime, or nil if unsealed.
	LatestSealUpTo(ctx context.Context, projectID, environmentID string) (*time.Time, error)

	// BeginTx starts a new transaction at (at least) read-committed isolation.
	BeginTx(ctx context.Context) (Tx, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close() error
}

// Tx is the minimal transaction handle the core needs; it is satisfied by
// *sql.Tx and lets callers commit/rollback explicitly around the chain lock.
type Tx interface {
	Commit() error
	Rollback() error
}
