// Package chain implements the per-stream hash chain engine: each
// (project_id, environment_id) stream is an independent append-only chain,
// and two events in different streams commit fully in parallel.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ILLUVRSE/auditchain/internal/auditerr"
	"github.com/ILLUVRSE/auditchain/internal/canonical"
	"github.com/ILLUVRSE/auditchain/internal/crypto"
	"github.com/ILLUVRSE/auditchain/internal/model"
	"github.com/ILLUVRSE/auditchain/internal/store"
)

// Engine appends events to per-stream chains under a Postgres advisory
// transaction lock, so concurrent appends to the same stream serialize while
// appends to distinct streams never block each other.
type Engine struct {
	store  store.Store
	signer *crypto.Service
	clock  func() time.Time
}

// NewEngine constructs a chain engine over store and signer. clock defaults
// to time.Now and exists only to let tests inject a fixed time.
func NewEngine(st store.Store, signer *crypto.Service, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{store: st, signer: signer, clock: clock}
}

// Append commits one new event onto the tail of its stream's chain. The
// caller supplies a fully populated, not-yet-hashed event (CreatedAt set,
// Hash/PreviousHash/Signature empty); Append fills in the chain fields,
// persists the event, and returns the committed copy.
func (e *Engine) Append(ctx context.Context, ev *model.Event) (*model.Event, error) {
	committed, err := e.AppendBatch(ctx, []*model.Event{ev})
	if err != nil {
		return nil, err
	}
	return committed[0], nil
}

// AppendBatch commits a batch of new events onto the same stream's chain as
// a single transaction, chaining them to each other in slice order. All
// events in the batch must share the same (project_id, environment_id).
func (e *Engine) AppendBatch(ctx context.Context, evs []*model.Event) ([]*model.Event, error) {
	if len(evs) == 0 {
		return nil, nil
	}
	projectID := evs[0].ProjectID
	environmentID := evs[0].EnvironmentID
	for _, ev := range evs {
		if ev.ProjectID != projectID || ev.EnvironmentID != environmentID {
			return nil, auditerr.New(auditerr.ValidationError, "batch must target a single stream")
		}
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	committed, err := e.appendLocked(ctx, tx, projectID, environmentID, evs)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, auditerr.Wrap(auditerr.StorageError, "commit chain append", err)
	}
	return committed, nil
}

func (e *Engine) appendLocked(ctx context.Context, tx store.Tx, projectID, environmentID string, evs []*model.Event) ([]*model.Event, error) {
	if err := e.store.LockStream(ctx, tx, projectID, environmentID); err != nil {
		return nil, err
	}

	tip, err := e.store.GetChainTip(ctx, tx, projectID, environmentID)
	if err != nil {
		return nil, err
	}
	previousHash := ""
	if tip != nil {
		previousHash = tip.Hash
	}

	now := e.clock().UTC()
	committed := make([]*model.Event, 0, len(evs))
	for _, src := range evs {
		ev := *src
		if ev.ID == "" {
			ev.ID = model.NewEventID()
		}
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = now
		}
		ev.ReceivedAt = now
		ev.PreviousHash = previousHash

		if ev.ExternalID != "" {
			exists, err := e.store.ExternalIDExists(ctx, tx, projectID, environmentID, ev.ExternalID)
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, auditerr.New(auditerr.DuplicateExternalID, fmt.Sprintf("external_id %q already recorded in this stream", ev.ExternalID))
			}
		}

		canonicalBytes, err := canonical.Event(&ev)
		if err != nil {
			return nil, auditerr.Wrap(auditerr.ValidationError, "canonicalize event", err)
		}
		ev.Hash = e.signer.Digest(canonicalBytes)
		sig, err := e.signer.Sign(canonicalBytes)
		if err != nil {
			return nil, auditerr.Wrap(auditerr.StorageError, "sign event", err)
		}
		ev.Signature = sig

		previousHash = ev.Hash
		committed = append(committed, &ev)
	}

	if err := e.store.InsertEvents(ctx, tx, committed); err != nil {
		return nil, err
	}
	return committed, nil
}
