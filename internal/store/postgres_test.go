package store_test

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/auditchain/internal/auditerr"
	"github.com/ILLUVRSE/auditchain/internal/model"
	"github.com/ILLUVRSE/auditchain/internal/store"
)

func newMockStore(t *testing.T) (*store.PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store.NewPGStore(db), mock
}

func eventRowValues(ev *model.Event) []driver.Value {
	return []driver.Value{
		ev.ID, ev.ExternalID, ev.ProjectID, ev.EnvironmentID, ev.Action, string(ev.CRUD),
		ev.ActorID, ev.ActorName, ev.ActorHref, []byte("null"),
		ev.TargetID, ev.TargetName, ev.TargetHref, ev.TargetType, []byte("null"),
		ev.GroupID, ev.GroupName,
		ev.Description, ev.Component, ev.Version, ev.SourceIP, ev.IsAnonymous, ev.IsFailure,
		[]byte("null"), []byte("null"),
		ev.CreatedAt, ev.ReceivedAt, ev.PreviousHash, ev.Hash, ev.Signature,
	}
}

func eventColumnNames() []string {
	return []string{
		"id", "external_id", "project_id", "environment_id", "action", "crud",
		"actor_id", "actor_name", "actor_href", "actor_fields",
		"target_id", "target_name", "target_href", "target_type", "target_fields",
		"group_id", "group_name",
		"description", "component", "version", "source_ip", "is_anonymous", "is_failure",
		"fields", "metadata",
		"created_at", "received_at", "previous_hash", "hash", "signature",
	}
}

func TestGetEventFound(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()
	ev := &model.Event{
		ID: "evt-1", ProjectID: "proj-a", EnvironmentID: "prod", Action: "user.login",
		CRUD: model.CRUDCreate, ActorID: "u1", CreatedAt: now, ReceivedAt: now,
		Hash: "abc123", Signature: "sig",
	}

	rows := sqlmock.NewRows(eventColumnNames()).AddRow(eventRowValues(ev)...)
	mock.ExpectQuery(`SELECT .* FROM audit_events WHERE project_id=\$1 AND environment_id=\$2 AND id=\$3`).
		WithArgs("proj-a", "prod", "evt-1").
		WillReturnRows(rows)

	got, err := st.GetEvent(context.Background(), "proj-a", "prod", "evt-1")
	require.NoError(t, err)
	require.Equal(t, "evt-1", got.ID)
	require.Equal(t, "abc123", got.Hash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEventNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .* FROM audit_events WHERE project_id=\$1 AND environment_id=\$2 AND id=\$3`).
		WithArgs("proj-a", "prod", "missing").
		WillReturnRows(sqlmock.NewRows(eventColumnNames()))

	_, err := st.GetEvent(context.Background(), "proj-a", "prod", "missing")
	require.Error(t, err)
	require.True(t, auditerr.Is(err, auditerr.NotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSealMarker(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()
	marker := &model.SealMarker{ProjectID: "proj-a", EnvironmentID: "prod", UpToTime: now, EventCount: 5, TipHash: "deadbeef", SealedAt: now}

	mock.ExpectExec(`INSERT INTO seal_markers`).
		WithArgs(marker.ProjectID, marker.EnvironmentID, marker.UpToTime, marker.EventCount, marker.TipHash, marker.SealedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := st.InsertSealMarker(context.Background(), marker)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountBacklogForStream(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT count\(\*\) FROM backlog WHERE project_id=\$1 AND environment_id=\$2 AND processed=false`).
		WithArgs("proj-a", "prod").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := st.CountBacklogForStream(context.Background(), "proj-a", "prod")
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
