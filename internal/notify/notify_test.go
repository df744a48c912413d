package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/ILLUVRSE/auditchain/internal/model"
	"github.com/ILLUVRSE/auditchain/internal/notify"
)

func TestNoOpNeverBlocksOrErrors(t *testing.T) {
	var n notify.Notifier = notify.NoOp{}
	n.NotifyCommit(context.Background(), &model.Event{ID: "evt-1"})
	if err := n.Close(); err != nil {
		t.Fatalf("NoOp.Close returned %v, want nil", err)
	}
}

func TestKafkaNotifierConstructsWithoutWriteTimeout(t *testing.T) {
	n := notify.NewKafkaNotifier(notify.KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "audit-commits"})
	if n == nil {
		t.Fatalf("expected a non-nil notifier")
	}
	defer n.Close()
}

func TestKafkaNotifierHonorsConfiguredWriteTimeout(t *testing.T) {
	n := notify.NewKafkaNotifier(notify.KafkaConfig{
		Brokers:      []string{"127.0.0.1:9092"},
		Topic:        "audit-commits",
		WriteTimeout: 50 * time.Millisecond,
	})
	defer n.Close()

	// No broker is listening; NotifyCommit must still return within a short
	// bound rather than blocking the caller indefinitely.
	done := make(chan struct{})
	go func() {
		n.NotifyCommit(context.Background(), &model.Event{
			ID: "evt-1", ProjectID: "proj-a", EnvironmentID: "prod", Action: "user.login",
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("NotifyCommit did not return within the bounded write timeout")
	}
}

func TestKafkaNotifierNilSafe(t *testing.T) {
	var n *notify.KafkaNotifier
	n.NotifyCommit(context.Background(), &model.Event{ID: "evt-1"})
	if err := n.Close(); err != nil {
		t.Fatalf("nil *KafkaNotifier Close should be a no-op, got %v", err)
	}
}
