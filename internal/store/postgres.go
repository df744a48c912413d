package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/ILLUVRSE/auditchain/internal/auditerr"
	"github.com/ILLUVRSE/auditchain/internal/model"

	_ "github.com/lib/pq"
)

// PGStore persists audit events, the ingest/backlog queues and seal markers
// into Postgres, keyed throughout by the (project_id, environment_id)
// stream.
type PGStore struct {
	db *sql.DB
}

// NewPGStore constructs a Postgres-backed store over an already-opened pool.
// The pool's lifetime is owned by the caller, not held as a package-level
// singleton.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (p *PGStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
func (p *PGStore) Close() error                   { return p.db.Close() }

type pgTx struct{ tx *sql.Tx }

func (t *pgTx) Commit() error   { return t.tx.Commit() }
func (t *pgTx) Rollback() error { return t.tx.Rollback() }

func (p *PGStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, auditerr.Wrap(auditerr.StorageError, "begin tx", err)
	}
	return &pgTx{tx: tx}, nil
}

func rawTx(tx Tx) (*sql.Tx, error) {
	t, ok := tx.(*pgTx)
	if !ok {
		return nil, fmt.Errorf("store: tx is not a *PGStore transaction")
	}
	return t.tx, nil
}

func marshalOrNull(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// InsertEvent inserts a single fully-chained event within tx.
func (p *PGStore) InsertEvent(ctx context.Context, tx Tx, ev *model.Event) error {
	sqlTx, err := rawTx(tx)
	if err != nil {
		return err
	}
	return insertEventTx(ctx, sqlTx, ev)
}

func insertEventTx(ctx context.Context, tx *sql.Tx, ev *model.Event) error {
	actorFields, err := marshalOrNull(toInterfaceMap(ev.ActorFields))
	if err != nil {
		return fmt.Errorf("marshal actor_fields: %w", err)
	}
	targetFields, err := marshalOrNull(toInterfaceMap(ev.TargetFields))
	if err != nil {
		return fmt.Errorf("marshal target_fields: %w", err)
	}
	fields, err := marshalOrNull(ev.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	metadata, err := marshalOrNull(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	const q = `
		INSERT INTO audit_events (
			id, external_id, project_id, environment_id, action, crud,
			actor_id, actor_name, actor_href, actor_fields,
			target_id, target_name, target_href, target_type, target_fields,
			group_id, group_name,
			description, component, version, source_ip, is_anonymous, is_failure,
			fields, metadata,
			created_at, received_at, previous_hash, hash, signature
		) VALUES (
			$1,$2,$3,$4,$5,$6,
			$7,$8,$9,$10,
			$11,$12,$13,$14,$15,
			$16,$17,
			$18,$19,$20,$21,$22,$23,
			$24,$25,
			$26,$27,$28,$29,$30
		)`
	_, err = tx.ExecContext(ctx, q,
		ev.ID, nullString(ev.ExternalID), ev.ProjectID, ev.EnvironmentID, ev.Action, string(ev.CRUD),
		nullString(ev.ActorID), nullString(ev.ActorName), nullString(ev.ActorHref), actorFields,
		nullString(ev.TargetID), nullString(ev.TargetName), nullString(ev.TargetHref), nullString(ev.TargetType), targetFields,
		nullString(ev.GroupID), nullString(ev.GroupName),
		nullString(ev.Description), nullString(ev.Component), nullString(ev.Version), nullString(ev.SourceIP), ev.IsAnonymous, ev.IsFailure,
		fields, metadata,
		ev.CreatedAt, ev.ReceivedAt, nullString(ev.PreviousHash), ev.Hash, ev.Signature,
	)
	if err != nil {
		if isUniqueViolation(err, "audit_events_external_id_uniq") {
			return auditerr.Wrap(auditerr.DuplicateExternalID, "external_id already used in stream", err)
		}
		return auditerr.Wrap(auditerr.StorageError, "insert audit_event", err)
	}
	return nil
}

// InsertEvents inserts a batch of fully-chained events within tx, atomically.
func (p *PGStore) InsertEvents(ctx context.Context, tx Tx, evs []*model.Event) error {
	sqlTx, err := rawTx(tx)
	if err != nil {
		return err
	}
	for _, ev := range evs {
		if err := insertEventTx(ctx, sqlTx, ev); err != nil {
			return err
		}
	}
	return nil
}

func toInterfaceMap(m map[string]string) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error, constraint string) bool {
	return err != nil && strings.Contains(err.Error(), constraint)
}

const eventColumns = `id, external_id, project_id, environment_id, action, crud,
	actor_id, actor_name, actor_href, actor_fields,
	target_id, target_name, target_href, target_type, target_fields,
	group_id, group_name,
	description, component, version, source_ip, is_anonymous, is_failure,
	fields, metadata,
	created_at, received_at, previous_hash, hash, signature`

func scanEvent(scan func(dest ...interface{}) error) (*model.Event, error) {
	var (
		ev                                                      model.Event
		externalID, actorID, actorName, actorHref                sql.NullString
		targetID, targetName, targetHref, targetType              sql.NullString
		groupID, groupName, description, component, version, srcIP sql.NullString
		previousHash                                               sql.NullString
		actorFieldsB, targetFieldsB, fieldsB, metadataB            []byte
		crud                                                       string
	)
	if err := scan(
		&ev.ID, &externalID, &ev.ProjectID, &ev.EnvironmentID, &ev.Action, &crud,
		&actorID, &actorName, &actorHref, &actorFieldsB,
		&targetID, &targetName, &targetHref, &targetType, &targetFieldsB,
		&groupID, &groupName,
		&description, &component, &version, &srcIP, &ev.IsAnonymous, &ev.IsFailure,
		&fieldsB, &metadataB,
		&ev.CreatedAt, &ev.ReceivedAt, &previousHash, &ev.Hash, &ev.Signature,
	); err != nil {
		return nil, err
	}

	ev.CRUD = model.CRUD(crud)
	ev.ExternalID = externalID.String
	ev.ActorID = actorID.String
	ev.ActorName = actorName.String
	ev.ActorHref = actorHref.String
	ev.TargetID = targetID.String
	ev.TargetName = targetName.String
	ev.TargetHref = targetHref.String
	ev.TargetType = targetType.String
	ev.GroupID = groupID.String
	ev.GroupName = groupName.String
	ev.Description = description.String
	ev.Component = component.String
	ev.Version = version.String
	ev.SourceIP = srcIP.String
	ev.PreviousHash = previousHash.String

	if m, err := unmarshalStringMap(actorFieldsB); err == nil {
		ev.ActorFields = m
	}
	if m, err := unmarshalStringMap(targetFieldsB); err == nil {
		ev.TargetFields = m
	}
	if len(fieldsB) > 0 && string(fieldsB) != "null" {
		var m map[string]interface{}
		if err := json.Unmarshal(fieldsB, &m); err == nil {
			ev.Fields = m
		}
	}
	if len(metadataB) > 0 && string(metadataB) != "null" {
		var m map[string]interface{}
		if err := json.Unmarshal(metadataB, &m); err == nil {
			ev.Metadata = m
		}
	}
	return &ev, nil
}

func unmarshalStringMap(b []byte) (map[string]string, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			b, _ := json.Marshal(v)
			out[k] = string(b)
		}
	}
	return out, nil
}

// GetEvent returns the event or auditerr.NotFound.
func (p *PGStore) GetEvent(ctx context.Context, projectID, environmentID, id string) (*model.Event, error) {
	q := fmt.Sprintf(`SELECT %s FROM audit_events WHERE project_id=$1 AND environment_id=$2 AND id=$3`, eventColumns)
	row := p.db.QueryRowContext(ctx, q, projectID, environmentID, id)
	ev, err := scanEvent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, auditerr.New(auditerr.NotFound, "event not found")
	}
	if err != nil {
		return nil, auditerr.Wrap(auditerr.StorageError, "get event", err)
	}
	return ev, nil
}

// QueryEvents runs a scoped, paginated query using keyset pagination over
// (received_at, id) to avoid deep OFFSET scans on large streams.
func (p *PGStore) QueryEvents(ctx context.Context, filter model.QueryFilter, page model.Pagination) (*model.QueryResult, error) {
	if filter.ProjectID == "" || filter.EnvironmentID == "" {
		return nil, auditerr.New(auditerr.ValidationError, "project_id and environment_id are required")
	}
	limit := page.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var (
		conds []string
		args  []interface{}
	)
	args = append(args, filter.ProjectID, filter.EnvironmentID)
	conds = append(conds, "project_id=$1", "environment_id=$2")

	addCond := func(col string, val interface{}) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if filter.Action != "" {
		addCond("action", filter.Action)
	}
	if filter.ActorID != "" {
		addCond("actor_id", filter.ActorID)
	}
	if filter.TargetID != "" {
		addCond("target_id", filter.TargetID)
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		conds = append(conds, fmt.Sprintf("received_at >= $%d", len(args)))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		conds = append(conds, fmt.Sprintf("received_at <= $%d", len(args)))
	}
	if filter.DescriptionQ != "" {
		args = append(args, "%"+filter.DescriptionQ+"%")
		conds = append(conds, fmt.Sprintf("description ILIKE $%d", len(args)))
	}

	cursorRecv, cursorID, hasCursor := decodeCursor(page.Cursor)
	if hasCursor {
		args = append(args, cursorRecv, cursorID)
		conds = append(conds, fmt.Sprintf("(received_at, id) > ($%d, $%d)", len(args)-1, len(args)))
	}

	args = append(args, limit+1)
	q := fmt.Sprintf(`SELECT %s FROM audit_events WHERE %s ORDER BY received_at ASC, id ASC LIMIT $%d`,
		eventColumns, strings.Join(conds, " AND "), len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, auditerr.Wrap(auditerr.StorageError, "query_events", err)
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, auditerr.Wrap(auditerr.StorageError, "scan query_events row", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, auditerr.Wrap(auditerr.StorageError, "iterate query_events", err)
	}

	result := &model.QueryResult{}
	if len(events) > limit {
		last := events[limit-1]
		result.NextCursor = encodeCursor(last.ReceivedAt, last.ID)
		events = events[:limit]
	}
	result.Events = events
	return result, nil
}

func encodeCursor(t time.Time, id string) string {
	return t.UTC().Format(time.RFC3339Nano) + "|" + id
}

func decodeCursor(c string) (time.Time, string, bool) {
	if c == "" {
		return time.Time{}, "", false
	}
	parts := strings.SplitN(c, "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", false
	}
	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", false
	}
	return t, parts[1], true
}

// IterateRange streams events in a stream's [start,end] range, in chain order.
func (p *PGStore) IterateRange(ctx context.Context, projectID, environmentID string, start, end time.Time, fn func(*model.Event) error) error {
	q := fmt.Sprintf(`SELECT %s FROM audit_events
		WHERE project_id=$1 AND environment_id=$2 AND received_at >= $3 AND received_at <= $4
		ORDER BY received_at ASC, id ASC`, eventColumns)
	rows, err := p.db.QueryContext(ctx, q, projectID, environmentID, start, end)
	if err != nil {
		return auditerr.Wrap(auditerr.StorageError, "iterate range", err)
	}
	defer rows.Close()

	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return auditerr.Wrap(auditerr.StorageError, "scan range row", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LockStream acquires the stream's FNV-1a-derived advisory transaction lock.
func (p *PGStore) LockStream(ctx context.Context, tx Tx, projectID, environmentID string) error {
	sqlTx, err := rawTx(tx)
	if err != nil {
		return err
	}
	lockID := streamLockID(projectID, environmentID)
	if _, err := sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lockID); err != nil {
		return auditerr.Wrap(auditerr.StorageError, "acquire stream lock", err)
	}
	return nil
}

// streamLockID derives a deterministic int64 advisory-lock key from a
// stream's (project_id, environment_id) pair via FNV-1a, following the
// tenant-lock-id pattern used for per-tenant chain serialization elsewhere
// in the audit-log ecosystem. No pack dependency offers a ready-made
// string-to-lock-id hash, so this stays on hash/fnv.
func streamLockID(projectID, environmentID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(projectID))
	h.Write([]byte{0})
	h.Write([]byte(environmentID))
	sum := h.Sum(nil)
	return int64(binary.BigEndian.Uint64(sum))
}

// GetChainTip returns the latest event's (hash, received_at) for a stream.
// Must be called within the transaction holding the stream's advisory lock.
func (p *PGStore) GetChainTip(ctx context.Context, tx Tx, projectID, environmentID string) (*ChainTip, error) {
	sqlTx, err := rawTx(tx)
	if err != nil {
		return nil, err
	}
	const q = `SELECT hash, received_at FROM audit_events
		WHERE project_id=$1 AND environment_id=$2
		ORDER BY received_at DESC, id DESC LIMIT 1`
	var tip ChainTip
	err = sqlTx.QueryRowContext(ctx, q, projectID, environmentID).Scan(&tip.Hash, &tip.ReceivedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, auditerr.Wrap(auditerr.StorageError, "get chain tip", err)
	}
	return &tip, nil
}

// ExternalIDExists reports whether externalID is already used in the stream.
func (p *PGStore) ExternalIDExists(ctx context.Context, tx Tx, projectID, environmentID, externalID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}
	sqlTx, err := rawTx(tx)
	if err != nil {
		return false, err
	}
	const q = `SELECT 1 FROM audit_events WHERE project_id=$1 AND environment_id=$2 AND external_id=$3 LIMIT 1`
	var one int
	err = sqlTx.QueryRowContext(ctx, q, projectID, environmentID, externalID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, auditerr.Wrap(auditerr.StorageError, "check external_id", err)
	}
	return true, nil
}

// InsertIngestTask persists an accept-time record.
func (p *PGStore) InsertIngestTask(ctx context.Context, task *IngestTask) error {
	orig, err := json.Marshal(task.OriginalEvent)
	if err != nil {
		return fmt.Errorf("marshal original_event: %w", err)
	}
	const q = `INSERT INTO ingest_task (id, project_id, environment_id, new_event_id, received, original_event, processed)
		VALUES ($1,$2,$3,$4,$5,$6,false)`
	_, err = p.db.ExecContext(ctx, q, task.ID, task.ProjectID, task.EnvironmentID, task.NewEventID, task.Received, orig)
	if err != nil {
		return auditerr.Wrap(auditerr.StorageError, "insert ingest_task", err)
	}
	return nil
}

// MarkIngestProcessed marks an ingest_task row committed (and removes it;
// it has no further purpose once the event is durably chained).
func (p *PGStore) MarkIngestProcessed(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM ingest_task WHERE id=$1`, id)
	if err != nil {
		return auditerr.Wrap(auditerr.StorageError, "mark ingest processed", err)
	}
	return nil
}

// MoveToBacklog deletes the ingest_task row (if present) and inserts a backlog row.
func (p *PGStore) MoveToBacklog(ctx context.Context, task *IngestTask, lastError string) (int64, error) {
	orig, err := json.Marshal(task.OriginalEvent)
	if err != nil {
		return 0, fmt.Errorf("marshal original_event: %w", err)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, auditerr.Wrap(auditerr.StorageError, "begin move_to_backlog tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ingest_task WHERE id=$1`, task.ID); err != nil {
		return 0, auditerr.Wrap(auditerr.StorageError, "delete ingest_task", err)
	}

	var backlogID int64
	const q = `INSERT INTO backlog (project_id, environment_id, new_event_id, received, original_event, processed, attempts, last_error)
		VALUES ($1,$2,$3,$4,$5,false,0,$6) RETURNING id`
	if err := tx.QueryRowContext(ctx, q, task.ProjectID, task.EnvironmentID, task.NewEventID, task.Received, orig, nullString(lastError)).Scan(&backlogID); err != nil {
		return 0, auditerr.Wrap(auditerr.StorageError, "insert backlog", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, auditerr.Wrap(auditerr.StorageError, "commit move_to_backlog", err)
	}
	return backlogID, nil
}

// FetchBacklogBatch returns up to limit unprocessed, non-dead-letter,
// not-already-claimed backlog rows ordered by (project_id, environment_id,
// id). The select and the claim (in_progress=true, claimed_at=now()) happen
// inside one transaction: FOR UPDATE SKIP LOCKED partitions rows between
// concurrent worker replicas at select time, and writing the claim before
// committing is what makes that partition durable past the select. Without
// the claim column, the row lock would release as soon as the select's
// implicit transaction ended, well before the caller finishes replaying the
// batch, and a second replica could fetch and replay the same rows.
func (p *PGStore) FetchBacklogBatch(ctx context.Context, limit int) ([]*BacklogRow, error) {
	if limit <= 0 {
		limit = 100
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, auditerr.Wrap(auditerr.StorageError, "begin fetch backlog batch tx", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	const selectQ = `SELECT id, project_id, environment_id, new_event_id, received, original_event,
			processed, attempts, last_attempt, last_error
		FROM backlog
		WHERE processed = false AND dead_letter = false AND in_progress = false
		ORDER BY project_id, environment_id, id
		FOR UPDATE SKIP LOCKED
		LIMIT $1`
	rows, err := tx.QueryContext(ctx, selectQ, limit)
	if err != nil {
		return nil, auditerr.Wrap(auditerr.StorageError, "fetch backlog batch", err)
	}

	var out []*BacklogRow
	for rows.Next() {
		var (
			row         BacklogRow
			origB       []byte
			lastAttempt sql.NullTime
			lastError   sql.NullString
		)
		if err := rows.Scan(&row.ID, &row.ProjectID, &row.EnvironmentID, &row.NewEventID, &row.Received, &origB,
			&row.Processed, &row.Attempts, &lastAttempt, &lastError); err != nil {
			rows.Close()
			return nil, auditerr.Wrap(auditerr.StorageError, "scan backlog row", err)
		}
		var ev model.Event
		if err := json.Unmarshal(origB, &ev); err != nil {
			rows.Close()
			return nil, auditerr.Wrap(auditerr.StorageError, "unmarshal backlog original_event", err)
		}
		row.OriginalEvent = &ev
		if lastAttempt.Valid {
			t := lastAttempt.Time
			row.LastAttempt = &t
		}
		row.LastError = lastError.String
		out = append(out, &row)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, auditerr.Wrap(auditerr.StorageError, "iterate backlog batch", err)
	}
	rows.Close()

	for _, row := range out {
		if _, err := tx.ExecContext(ctx, `UPDATE backlog SET in_progress = true, claimed_at = now() WHERE id = $1`, row.ID); err != nil {
			return nil, auditerr.Wrap(auditerr.StorageError, "claim backlog row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, auditerr.Wrap(auditerr.StorageError, "commit backlog claim", err)
	}
	tx = nil
	return out, nil
}

// MarkBacklogProcessed marks a backlog row processed=true.
func (p *PGStore) MarkBacklogProcessed(ctx context.Context, id int64) error {
	_, err := p.db.ExecContext(ctx, `UPDATE backlog SET processed=true WHERE id=$1`, id)
	if err != nil {
		return auditerr.Wrap(auditerr.StorageError, "mark backlog processed", err)
	}
	return nil
}

// BumpAttempts increments a backlog row's attempt count, records lastError,
// and releases its claim (in_progress=false) so it becomes eligible for
// FetchBacklogBatch again once its backoff window elapses (checked by the
// caller; see internal/backlog).
func (p *PGStore) BumpAttempts(ctx context.Context, id int64, lastError string) error {
	const q = `UPDATE backlog SET attempts = attempts + 1, last_attempt = now(), last_error = $2, in_progress = false WHERE id = $1`
	_, err := p.db.ExecContext(ctx, q, id, lastError)
	if err != nil {
		return auditerr.Wrap(auditerr.StorageError, "bump attempts", err)
	}
	return nil
}

// MarkDeadLetter flags a backlog row as permanently excluded from future ticks.
func (p *PGStore) MarkDeadLetter(ctx context.Context, id int64) error {
	_, err := p.db.ExecContext(ctx, `UPDATE backlog SET dead_letter = true WHERE id=$1`, id)
	if err != nil {
		return auditerr.Wrap(auditerr.StorageError, "mark dead letter", err)
	}
	return nil
}

// CountBacklogForStream returns the number of unprocessed (including
// dead-letter) backlog rows for a stream, used to enforce the per-stream cap.
func (p *PGStore) CountBacklogForStream(ctx context.Context, projectID, environmentID string) (int, error) {
	const q = `SELECT count(*) FROM backlog WHERE project_id=$1 AND environment_id=$2 AND processed=false`
	var n int
	err := p.db.QueryRowContext(ctx, q, projectID, environmentID).Scan(&n)
	if err != nil {
		return 0, auditerr.Wrap(auditerr.StorageError, "count backlog", err)
	}
	return n, nil
}

// InsertSealMarker persists a seal marker.
func (p *PGStore) InsertSealMarker(ctx context.Context, marker *model.SealMarker) error {
	const q = `INSERT INTO seal_markers (project_id, environment_id, up_to_time, event_count, tip_hash, sealed_at)
		VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := p.db.ExecContext(ctx, q, marker.ProjectID, marker.EnvironmentID, marker.UpToTime, marker.EventCount, marker.TipHash, marker.SealedAt)
	if err != nil {
		return auditerr.Wrap(auditerr.StorageError, "insert seal marker", err)
	}
	return nil
}

// ListSealMarkers returns all seal markers for a stream, oldest first.
func (p *PGStore) ListSealMarkers(ctx context.Context, projectID, environmentID string) ([]*model.SealMarker, error) {
	const q = `SELECT project_id, environment_id, up_to_time, event_count, tip_hash, sealed_at
		FROM seal_markers WHERE project_id=$1 AND environment_id=$2 ORDER BY up_to_time ASC`
	rows, err := p.db.QueryContext(ctx, q, projectID, environmentID)
	if err != nil {
		return nil, auditerr.Wrap(auditerr.StorageError, "list seal markers", err)
	}
	defer rows.Close()
	var out []*model.SealMarker
	for rows.Next() {
		var m model.SealMarker
		if err := rows.Scan(&m.ProjectID, &m.EnvironmentID, &m.UpToTime, &m.EventCount, &m.TipHash, &m.SealedAt); err != nil {
			return nil, auditerr.Wrap(auditerr.StorageError, "scan seal marker", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// LatestSealUpTo returns the most recent seal marker's UpToTime, or nil if unsealed.
func (p *PGStore) LatestSealUpTo(ctx context.Context, projectID, environmentID string) (*time.Time, error) {
	const q = `SELECT up_to_time FROM seal_markers WHERE project_id=$1 AND environment_id=$2 ORDER BY up_to_time DESC LIMIT 1`
	var t time.Time
	err := p.db.QueryRowContext(ctx, q, projectID, environmentID).Scan(&t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, auditerr.Wrap(auditerr.StorageError, "latest seal", err)
	}
	return &t, nil
}
