package ingest_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"
	"time"

	"github.com/ILLUVRSE/auditchain/internal/auditerr"
	"github.com/ILLUVRSE/auditchain/internal/chain"
	"github.com/ILLUVRSE/auditchain/internal/crypto"
	"github.com/ILLUVRSE/auditchain/internal/ingest"
	"github.com/ILLUVRSE/auditchain/internal/model"
	"github.com/ILLUVRSE/auditchain/internal/store"
)

type fakeStore struct {
	mu           sync.Mutex
	events       map[string][]*model.Event
	tasks        []*store.IngestTask
	backlogged   []*store.IngestTask
	failAppend   bool
	backlogCount int
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: make(map[string][]*model.Event)}
}

func key(p, e string) string { return p + "/" + e }

type noopTx struct{}

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }

func (f *fakeStore) LockStream(ctx context.Context, tx store.Tx, p, e string) error { return nil }
func (f *fakeStore) BeginTx(ctx context.Context) (store.Tx, error)                  { return noopTx{}, nil }
func (f *fakeStore) Ping(ctx context.Context) error                                 { return nil }
func (f *fakeStore) Close() error                                                   { return nil }

func (f *fakeStore) GetChainTip(ctx context.Context, tx store.Tx, p, e string) (*store.ChainTip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	evs := f.events[key(p, e)]
	if len(evs) == 0 {
		return nil, nil
	}
	last := evs[len(evs)-1]
	return &store.ChainTip{Hash: last.Hash, ReceivedAt: last.ReceivedAt}, nil
}
func (f *fakeStore) ExternalIDExists(ctx context.Context, tx store.Tx, p, e, id string) (bool, error) {
	return false, nil
}
func (f *fakeStore) InsertEvents(ctx context.Context, tx store.Tx, evs []*model.Event) error {
	if f.failAppend {
		return auditerr.New(auditerr.StorageError, "simulated append failure")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range evs {
		f.events[key(ev.ProjectID, ev.EnvironmentID)] = append(f.events[key(ev.ProjectID, ev.EnvironmentID)], ev)
	}
	return nil
}
func (f *fakeStore) InsertEvent(ctx context.Context, tx store.Tx, ev *model.Event) error {
	return f.InsertEvents(ctx, tx, []*model.Event{ev})
}
func (f *fakeStore) GetEvent(ctx context.Context, p, e, id string) (*model.Event, error) {
	return nil, auditerr.New(auditerr.NotFound, "not found")
}
func (f *fakeStore) QueryEvents(ctx context.Context, filter model.QueryFilter, page model.Pagination) (*model.QueryResult, error) {
	return &model.QueryResult{}, nil
}
func (f *fakeStore) IterateRange(ctx context.Context, p, e string, start, end time.Time, fn func(*model.Event) error) error {
	return nil
}
func (f *fakeStore) InsertIngestTask(ctx context.Context, task *store.IngestTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return nil
}
func (f *fakeStore) MarkIngestProcessed(ctx context.Context, id string) error { return nil }
func (f *fakeStore) MoveToBacklog(ctx context.Context, task *store.IngestTask, lastError string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backlogged = append(f.backlogged, task)
	return int64(len(f.backlogged)), nil
}
func (f *fakeStore) FetchBacklogBatch(ctx context.Context, limit int) ([]*store.BacklogRow, error) {
	return nil, nil
}
func (f *fakeStore) MarkBacklogProcessed(ctx context.Context, id int64) error        { return nil }
func (f *fakeStore) BumpAttempts(ctx context.Context, id int64, lastError string) error { return nil }
func (f *fakeStore) MarkDeadLetter(ctx context.Context, id int64) error              { return nil }
func (f *fakeStore) CountBacklogForStream(ctx context.Context, p, e string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backlogCount, nil
}
func (f *fakeStore) InsertSealMarker(ctx context.Context, marker *model.SealMarker) error { return nil }
func (f *fakeStore) ListSealMarkers(ctx context.Context, p, e string) ([]*model.SealMarker, error) {
	return nil, nil
}
func (f *fakeStore) LatestSealUpTo(ctx context.Context, p, e string) (*time.Time, error) {
	return nil, nil
}

func testSigner(t *testing.T) *crypto.Service {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(k)})
	pubBytes, err := x509.MarshalPKIXPublicKey(&k.PublicKey)
	if err != nil {
		t.Fatalf("marshal pub: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	svc, err := crypto.NewService(crypto.Config{PrivateKeyPEM: privPEM, PublicKeyPEM: pubPEM})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return svc
}

func TestCreateEventRejectsMissingAction(t *testing.T) {
	st := newFakeStore()
	eng := chain.NewEngine(st, testSigner(t), nil)
	p := ingest.NewPipeline(st, eng, nil, ingest.DefaultConfig(), nil)

	ev := &model.Event{ProjectID: "proj-a", EnvironmentID: "prod", CRUD: model.CRUDCreate, ActorID: "u1"}
	_, err := p.CreateEvent(context.Background(), ev)
	if !auditerr.Is(err, auditerr.ValidationError) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCreateEventRejectsMissingActorAndTarget(t *testing.T) {
	st := newFakeStore()
	eng := chain.NewEngine(st, testSigner(t), nil)
	p := ingest.NewPipeline(st, eng, nil, ingest.DefaultConfig(), nil)

	ev := &model.Event{ProjectID: "proj-a", EnvironmentID: "prod", Action: "user.login", CRUD: model.CRUDCreate}
	_, err := p.CreateEvent(context.Background(), ev)
	if !auditerr.Is(err, auditerr.ValidationError) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCreateEventSucceeds(t *testing.T) {
	st := newFakeStore()
	eng := chain.NewEngine(st, testSigner(t), nil)
	p := ingest.NewPipeline(st, eng, nil, ingest.DefaultConfig(), nil)

	ev := &model.Event{ProjectID: "proj-a", EnvironmentID: "prod", Action: "user.login", CRUD: model.CRUDCreate, ActorID: "u1"}
	committed, err := p.CreateEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("CreateEvent error: %v", err)
	}
	if committed.Hash == "" {
		t.Fatalf("expected committed event to have a hash")
	}
	if len(st.tasks) != 1 {
		t.Fatalf("expected one ingest_task to be recorded")
	}
}

func TestCreateEventMovesToBacklogOnCommitFailure(t *testing.T) {
	st := newFakeStore()
	st.failAppend = true
	eng := chain.NewEngine(st, testSigner(t), nil)
	p := ingest.NewPipeline(st, eng, nil, ingest.DefaultConfig(), nil)

	ev := &model.Event{ProjectID: "proj-a", EnvironmentID: "prod", Action: "user.login", CRUD: model.CRUDCreate, ActorID: "u1"}
	_, err := p.CreateEvent(context.Background(), ev)
	if err == nil {
		t.Fatalf("expected an error when chain append fails")
	}
	if len(st.backlogged) != 1 {
		t.Fatalf("expected the task to be moved to backlog, got %d", len(st.backlogged))
	}
}

func TestCreateEventReturnsBacklogFullWhenStreamCapReached(t *testing.T) {
	st := newFakeStore()
	st.failAppend = true
	st.backlogCount = 10000
	eng := chain.NewEngine(st, testSigner(t), nil)
	p := ingest.NewPipeline(st, eng, nil, ingest.Config{MaxBulkEvents: 1000, CreateEventTimeout: time.Second, MaxBacklogPerStream: 10000}, nil)

	ev := &model.Event{ProjectID: "proj-a", EnvironmentID: "prod", Action: "user.login", CRUD: model.CRUDCreate, ActorID: "u1"}
	_, err := p.CreateEvent(context.Background(), ev)
	if !auditerr.Is(err, auditerr.BacklogFull) {
		t.Fatalf("expected BacklogFull, got %v", err)
	}
	if len(st.backlogged) != 0 {
		t.Fatalf("expected the task to NOT be moved to backlog once the stream cap is reached, got %d", len(st.backlogged))
	}
}

func TestCreateEventsRejectsOversizedBatch(t *testing.T) {
	st := newFakeStore()
	eng := chain.NewEngine(st, testSigner(t), nil)
	p := ingest.NewPipeline(st, eng, nil, ingest.Config{MaxBulkEvents: 2, CreateEventTimeout: time.Second}, nil)

	evs := []*model.Event{
		{ProjectID: "proj-a", EnvironmentID: "prod", Action: "a", CRUD: model.CRUDCreate, ActorID: "u1"},
		{ProjectID: "proj-a", EnvironmentID: "prod", Action: "b", CRUD: model.CRUDCreate, ActorID: "u1"},
		{ProjectID: "proj-a", EnvironmentID: "prod", Action: "c", CRUD: model.CRUDCreate, ActorID: "u1"},
	}
	_, err := p.CreateEvents(context.Background(), evs)
	if !auditerr.Is(err, auditerr.BulkTooLarge) {
		t.Fatalf("expected BulkTooLarge, got %v", err)
	}
}
