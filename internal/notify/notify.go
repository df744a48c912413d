// Package notify provides a best-effort commit fan-out for newly chained
// events. It is a supplemental, optional component: nothing in the core
// waits on it, and its failures never surface to a caller of
// create_event/create_events.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ILLUVRSE/auditchain/internal/model"
)

// Notifier fans out committed events. Implementations must never block the
// commit path for more than a bounded, short interval and must never return
// an error the caller would see.
type Notifier interface {
	NotifyCommit(ctx context.Context, ev *model.Event)
	Close() error
}

// NoOp is a Notifier that does nothing; it is the default when no broker is configured.
type NoOp struct{}

func (NoOp) NotifyCommit(ctx context.Context, ev *model.Event) {}
func (NoOp) Close() error                                      { return nil }

// KafkaConfig configures the Kafka commit notifier.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration // per-publish deadline, default 2s
}

// KafkaNotifier publishes a canonical envelope for every committed event to
// a Kafka topic, best-effort. It never retries past its write deadline and
// never returns an error to the commit path; a dropped notification is
// acceptable, a blocked commit is not.
type KafkaNotifier struct {
	writer       *kafka.Writer
	writeTimeout time.Duration
}

// NewKafkaNotifier constructs a notifier. Brokers and Topic are not
// validated; a zero WriteTimeout defaults to 2s. Use NoOp when notifications
// are disabled.
func NewKafkaNotifier(cfg KafkaConfig) *KafkaNotifier {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        true,
	}
	return &KafkaNotifier{writer: w, writeTimeout: cfg.WriteTimeout}
}

type commitEnvelope struct {
	ProjectID     string `json:"projectId"`
	EnvironmentID string `json:"environmentId"`
	ID            string `json:"id"`
	Action        string `json:"action"`
	Hash          string `json:"hash"`
	PreviousHash  string `json:"previousHash"`
	ReceivedAt    string `json:"receivedAt"`
}

// NotifyCommit publishes ev, bounded by writeTimeout. Errors are logged, not returned.
func (n *KafkaNotifier) NotifyCommit(ctx context.Context, ev *model.Event) {
	if n == nil || n.writer == nil {
		return
	}
	envelope := commitEnvelope{
		ProjectID:     ev.ProjectID,
		EnvironmentID: ev.EnvironmentID,
		ID:            ev.ID,
		Action:        ev.Action,
		Hash:          ev.Hash,
		PreviousHash:  ev.PreviousHash,
		ReceivedAt:    ev.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
	b, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("notify: marshal commit envelope for %s: %v", ev.ID, err)
		return
	}

	wctx, cancel := context.WithTimeout(ctx, n.writeTimeout)
	defer cancel()
	key := []byte(ev.ProjectID + "/" + ev.EnvironmentID)
	if err := n.writer.WriteMessages(wctx, kafka.Message{Key: key, Value: b, Time: time.Now().UTC()}); err != nil {
		log.Printf("notify: commit fan-out for %s dropped: %v", ev.ID, err)
	}
}

// Close shuts down the underlying writer.
func (n *KafkaNotifier) Close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	return n.writer.Close()
}
