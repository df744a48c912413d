// Package seal implements the Sealer and WORM export sinks. Sealing records
// an immutability boundary for a stream prefix; export writes a
// deterministic, idempotent-per-range copy of a stream range's events, each
// paired with the seal marker covering it (if any), to a write-once
// destination, per stream and per range.
package seal

import (
	"context"
	"fmt"
	"time"

	"github.com/ILLUVRSE/auditchain/internal/auditerr"
	"github.com/ILLUVRSE/auditchain/internal/model"
	"github.com/ILLUVRSE/auditchain/internal/store"
	"github.com/ILLUVRSE/auditchain/internal/verify"
)

// Sealer writes seal markers after confirming a range verifies cleanly.
type Sealer struct {
	store    store.Store
	verifier *verify.Verifier
}

// NewSealer constructs a Sealer.
func NewSealer(st store.Store, verifier *verify.Verifier) *Sealer {
	return &Sealer{store: st, verifier: verifier}
}

// Seal verifies [genesis, upTo] for a stream and, if it verifies cleanly,
// writes a seal marker recording the range as immutable below upTo. It
// refuses to seal a range with integrity failures.
func (s *Sealer) Seal(ctx context.Context, projectID, environmentID string, upTo time.Time) (*model.SealMarker, error) {
	result, err := s.verifier.ValidateRange(ctx, projectID, environmentID, time.Time{}, upTo)
	if err != nil {
		return nil, err
	}
	if len(result.Failed) > 0 {
		return nil, auditerr.New(auditerr.IntegrityFailure, fmt.Sprintf("refusing to seal: %d of %d events failed verification", len(result.Failed), result.Total))
	}

	var tipHash string
	if err := s.store.IterateRange(ctx, projectID, environmentID, time.Time{}, upTo, func(ev *model.Event) error {
		tipHash = ev.Hash
		return nil
	}); err != nil {
		return nil, err
	}

	marker := &model.SealMarker{
		ProjectID:     projectID,
		EnvironmentID: environmentID,
		UpToTime:      upTo,
		EventCount:    int64(result.Total),
		TipHash:       tipHash,
		SealedAt:      time.Now().UTC(),
	}
	if err := s.store.InsertSealMarker(ctx, marker); err != nil {
		return nil, err
	}
	return marker, nil
}

// ExportEnvelope pairs an exported event (including its hash and signature)
// with the seal marker that covers it, or nil if the event isn't sealed yet.
type ExportEnvelope struct {
	Event       *model.Event      `json:"event"`
	SealedUnder *model.SealMarker `json:"sealedUnder"`
}

// Sink is a write-once destination for an exported range. Implementations
// must write deterministically (same inputs, same bytes) so a re-export of
// the same range overwrites the same file/object safely.
type Sink interface {
	WriteRange(ctx context.Context, projectID, environmentID string, start, end time.Time, envelopes []ExportEnvelope) error
}

// Exporter writes a stream's range to a Sink as a single deterministic
// envelope array, in chain order.
type Exporter struct {
	store store.Store
	sink  Sink
}

// NewExporter constructs an Exporter over sink.
func NewExporter(st store.Store, sink Sink) *Exporter {
	return &Exporter{store: st, sink: sink}
}

// ExportRange writes every event in [start, end] of a stream to the sink as
// one JSON array of {event, sealed_under} envelopes, the full event
// (including hash and signature) paired with whichever seal marker already
// covers it.
func (x *Exporter) ExportRange(ctx context.Context, projectID, environmentID string, start, end time.Time) (int, error) {
	markers, err := x.store.ListSealMarkers(ctx, projectID, environmentID)
	if err != nil {
		return 0, err
	}

	var envelopes []ExportEnvelope
	err = x.store.IterateRange(ctx, projectID, environmentID, start, end, func(ev *model.Event) error {
		envelopes = append(envelopes, ExportEnvelope{Event: ev, SealedUnder: coveringSeal(markers, ev)})
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := x.sink.WriteRange(ctx, projectID, environmentID, start, end, envelopes); err != nil {
		return 0, err
	}
	return len(envelopes), nil
}

// coveringSeal returns the earliest seal marker whose up_to_time is at or
// after ev's received_at, or nil if no marker covers it yet. markers must be
// ordered oldest first (as ListSealMarkers guarantees).
func coveringSeal(markers []*model.SealMarker, ev *model.Event) *model.SealMarker {
	for _, m := range markers {
		if !ev.ReceivedAt.After(m.UpToTime) {
			return m
		}
	}
	return nil
}
