package store

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/research-worker/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. All writes are
// serialized behind mu for the duration of their transaction; reads run
// without the lock.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	args       TEXT NOT NULL DEFAULT '{}',
	status     TEXT NOT NULL DEFAULT 'pending',
	result     TEXT,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS companies (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	details    TEXT NOT NULL DEFAULT '{}',
	status     TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	deleted_at DATETIME
);

CREATE TABLE IF NOT EXISTS aliases (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id TEXT NOT NULL REFERENCES companies(id),
	text       TEXT NOT NULL,
	normalized TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT 'manual',
	active     INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id TEXT NOT NULL,
	type       TEXT NOT NULL,
	details    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id  TEXT NOT NULL,
	direction   TEXT NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	received_at DATETIME NOT NULL,
	archived_at DATETIME
);

CREATE TABLE IF NOT EXISTS research_cache (
	key        TEXT PRIMARY KEY,
	step       INTEGER NOT NULL DEFAULT 0,
	value      TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status_created ON tasks(status, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_aliases_active ON aliases(company_id, normalized) WHERE active = 1;
CREATE INDEX IF NOT EXISTS idx_events_company ON events(company_id);
CREATE INDEX IF NOT EXISTS idx_messages_company ON messages(company_id);
CREATE INDEX IF NOT EXISTS idx_messages_external ON messages(external_id);
`

// sqliteMigrations are forward-only column additions applied after the base
// schema. Each must be safe to re-run: "duplicate column" errors are treated
// as already-applied.
var sqliteMigrations = []string{
	`ALTER TABLE messages ADD COLUMN reply TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE research_cache ADD COLUMN step INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE companies ADD COLUMN deleted_at DATETIME`,
}

// Migrate applies the schema and all forward migrations. Idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return eris.Wrap(err, "sqlite: migrate schema")
	}
	for _, stmt := range sqliteMigrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if isDuplicateColumn(err) {
				continue
			}
			return eris.Wrapf(err, "sqlite: migrate %q", stmt)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ---- Task queue ----

// statusOrder positions each status in the forward-only lifecycle.
var statusOrder = map[model.TaskStatus]int{
	model.TaskPending:   0,
	model.TaskRunning:   1,
	model.TaskCompleted: 2,
	model.TaskFailed:    2,
}

func validateTransition(from, to model.TaskStatus) error {
	if from == to {
		return nil
	}
	if from == model.TaskCompleted || from == model.TaskFailed {
		return eris.Errorf("task: illegal transition %s -> %s", from, to)
	}
	if statusOrder[to] < statusOrder[from] {
		return eris.Errorf("task: illegal transition %s -> %s", from, to)
	}
	return nil
}

func (s *SQLiteStore) CreateTask(ctx context.Context, taskType model.TaskType, args map[string]any) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	now := time.Now().UTC()
	argsJSON, err := model.EncodeResult(model.Result(args))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: encode task args")
	}
	if argsJSON == nil {
		argsJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, type, args, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(taskType), string(argsJSON), string(model.TaskPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert task")
	}

	return &model.Task{
		ID:        id,
		Type:      taskType,
		Args:      args,
		Status:    model.TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, args, status, result, error, created_at, updated_at FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == errNoRows {
		return nil, nil
	}
	return t, err
}

// NextPendingTask returns the oldest pending task without changing its
// status; marking it running is the worker's job so a crash between dequeue
// and update leaves the task retryable.
func (s *SQLiteStore) NextPendingTask(ctx context.Context) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, args, status, result, error, created_at, updated_at
		 FROM tasks WHERE status = ? ORDER BY created_at ASC LIMIT 1`,
		string(model.TaskPending))
	t, err := scanTask(row)
	if err == errNoRows {
		return nil, nil
	}
	return t, err
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, id string, status model.TaskStatus, result model.Result, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin update task")
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return eris.Errorf("task not found: %s", id)
		}
		return eris.Wrapf(err, "sqlite: read task status %s", id)
	}
	if err := validateTransition(model.TaskStatus(current), status); err != nil {
		return err
	}

	resultJSON, err := model.EncodeResult(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode task result")
	}
	var resultArg any
	if resultJSON != nil {
		resultArg = string(resultJSON)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, result = COALESCE(?, result), error = ?, updated_at = ? WHERE id = ?`,
		string(status), resultArg, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update task %s", id)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit update task")
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	query := `SELECT id, type, args, status, result, error, created_at, updated_at FROM tasks WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tasks")
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, eris.Wrap(rows.Err(), "sqlite: list tasks iterate")
}

// ---- Messages ----

func (s *SQLiteStore) CreateMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (company_id, direction, external_id, subject, body, reply, received_at, archived_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.CompanyID, m.Direction, m.ExternalID, m.Subject, m.Body, m.Reply, m.ReceivedAt, m.ArchivedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert message")
	}
	m.ID, err = res.LastInsertId()
	return eris.Wrap(err, "sqlite: message id")
}

func (s *SQLiteStore) LatestInboundMessage(ctx context.Context, companyID string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, company_id, direction, external_id, subject, body, reply, received_at, archived_at
		 FROM messages WHERE company_id = ? AND direction = 'inbound'
		 ORDER BY received_at DESC LIMIT 1`, companyID)

	var m model.Message
	err := row.Scan(&m.ID, &m.CompanyID, &m.Direction, &m.ExternalID, &m.Subject, &m.Body, &m.Reply, &m.ReceivedAt, &m.ArchivedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest inbound message")
	}
	return &m, nil
}

func (s *SQLiteStore) SetMessageReply(ctx context.Context, id int64, reply string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE messages SET reply = ? WHERE id = ?`, reply, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set reply on message %d", id)
	}
	return checkRowsAffected(res, "message", id)
}

func (s *SQLiteStore) ArchiveMessages(ctx context.Context, companyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET archived_at = ? WHERE company_id = ? AND archived_at IS NULL`,
		time.Now().UTC(), companyID)
	return eris.Wrapf(err, "sqlite: archive messages for %s", companyID)
}

func (s *SQLiteStore) HasMessage(ctx context.Context, externalID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM messages WHERE external_id = ?`, externalID).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: has message")
	}
	return n > 0, nil
}

// ---- Research cache ----

func (s *SQLiteStore) CacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM research_cache WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: cache get")
	}
	return []byte(value), true, nil
}

func (s *SQLiteStore) CachePut(ctx context.Context, key string, step int, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO research_cache (key, step, value, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET step = excluded.step, value = excluded.value, created_at = excluded.created_at`,
		key, step, string(value), time.Now().UTC())
	return eris.Wrap(err, "sqlite: cache put")
}

func (s *SQLiteStore) CacheDelete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM research_cache WHERE key = ?`, key)
	return eris.Wrap(err, "sqlite: cache delete")
}

func (s *SQLiteStore) CacheClearStep(ctx context.Context, step int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM research_cache WHERE step = ?`, step)
	if err != nil {
		return eris.Wrap(err, "sqlite: cache clear step")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		zap.L().Debug("cache: cleared step entries", zap.Int("step", step), zap.Int64("count", n))
	}
	return nil
}

func (s *SQLiteStore) CacheClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM research_cache`)
	return eris.Wrap(err, "sqlite: cache clear all")
}

// ---- scan helpers ----

var errNoRows = eris.New("no rows")

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (*model.Task, error) {
	var t model.Task
	var typ, status, argsJSON string
	var resultJSON sql.NullString

	err := row.Scan(&t.ID, &typ, &argsJSON, &status, &resultJSON, &t.Error, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errNoRows
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan task")
	}
	t.Type = model.TaskType(typ)
	t.Status = model.TaskStatus(status)

	args, err := model.DecodeResult([]byte(argsJSON))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: decode task args")
	}
	t.Args = map[string]any(args)

	if resultJSON.Valid {
		t.Result, err = model.DecodeResult([]byte(resultJSON.String))
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: decode task result")
		}
	}
	return &t, nil
}

func checkRowsAffected(res sql.Result, entity string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %v", entity, id)
	}
	return nil
}
