package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-worker/internal/company"
	"github.com/sells-group/research-worker/internal/db"
	"github.com/sells-group/research-worker/internal/model"
)

// PostgresStore implements Store using pgx. Like the SQLite backend, writes
// are serialized behind mu; reads go straight to the pool.
type PostgresStore struct {
	pool db.Pool
	mu   sync.Mutex
}

// NewPostgres connects a pgx pool to the given database URL.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool (tests inject pgxmock here).
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	args       JSONB NOT NULL DEFAULT '{}',
	status     TEXT NOT NULL DEFAULT 'pending',
	result     JSONB,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS companies (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	details    JSONB NOT NULL DEFAULT '{}',
	status     JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS aliases (
	id         BIGSERIAL PRIMARY KEY,
	company_id TEXT NOT NULL REFERENCES companies(id),
	text       TEXT NOT NULL,
	normalized TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT 'manual',
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id         BIGSERIAL PRIMARY KEY,
	company_id TEXT NOT NULL,
	type       TEXT NOT NULL,
	details    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id          BIGSERIAL PRIMARY KEY,
	company_id  TEXT NOT NULL,
	direction   TEXT NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	received_at TIMESTAMPTZ NOT NULL,
	archived_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS research_cache (
	key        TEXT PRIMARY KEY,
	step       INTEGER NOT NULL DEFAULT 0,
	value      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status_created ON tasks(status, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_aliases_active ON aliases(company_id, normalized) WHERE active;
CREATE INDEX IF NOT EXISTS idx_events_company ON events(company_id);
CREATE INDEX IF NOT EXISTS idx_messages_company ON messages(company_id);
CREATE INDEX IF NOT EXISTS idx_messages_external ON messages(external_id);
`

// postgresMigrations are forward-only column additions. A re-run hitting an
// existing column (SQLSTATE 42701) is treated as already applied.
var postgresMigrations = []string{
	`ALTER TABLE messages ADD COLUMN reply TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE research_cache ADD COLUMN step INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE companies ADD COLUMN deleted_at TIMESTAMPTZ`,
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return eris.Wrap(err, "postgres: migrate schema")
	}
	for _, stmt := range postgresMigrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			if isPgDuplicateColumn(err) {
				continue
			}
			return eris.Wrapf(err, "postgres: migrate %q", stmt)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isPgDuplicateColumn(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42701"
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ---- Task queue ----

func (s *PostgresStore) CreateTask(ctx context.Context, taskType model.TaskType, args map[string]any) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	now := time.Now().UTC()
	argsJSON, err := model.EncodeResult(model.Result(args))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: encode task args")
	}
	if argsJSON == nil {
		argsJSON = []byte("{}")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO tasks (id, type, args, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, string(taskType), string(argsJSON), string(model.TaskPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert task")
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

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, type, args, status, result, error, created_at, updated_at FROM tasks WHERE id = $1`, id)
	t, err := scanPgTask(row)
	if err == errNoRows {
		return nil, nil
	}
	return t, err
}

func (s *PostgresStore) NextPendingTask(ctx context.Context) (*model.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, type, args, status, result, error, created_at, updated_at
		 FROM tasks WHERE status = $1 ORDER BY created_at ASC LIMIT 1`,
		string(model.TaskPending))
	t, err := scanPgTask(row)
	if err == errNoRows {
		return nil, nil
	}
	return t, err
}

func (s *PostgresStore) UpdateTask(ctx context.Context, id string, status model.TaskStatus, result model.Result, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin update task")
	}
	defer tx.Rollback(ctx)

	var current string
	if err := tx.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&current); err != nil {
		if err == pgx.ErrNoRows {
			return eris.Errorf("task not found: %s", id)
		}
		return eris.Wrapf(err, "postgres: read task status %s", id)
	}
	if err := validateTransition(model.TaskStatus(current), status); err != nil {
		return err
	}

	resultJSON, err := model.EncodeResult(result)
	if err != nil {
		return eris.Wrap(err, "postgres: encode task result")
	}
	var resultArg any
	if resultJSON != nil {
		resultArg = string(resultJSON)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET status = $1, result = COALESCE($2, result), error = $3, updated_at = $4 WHERE id = $5`,
		string(status), resultArg, errMsg, time.Now().UTC(), id); err != nil {
		return eris.Wrapf(err, "postgres: update task %s", id)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit update task")
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	query := `SELECT id, type, args, status, result, error, created_at, updated_at FROM tasks WHERE 1=1`
	var args []any
	idx := 1
	if filter.Status != "" {
		query += ` AND status = $` + strconv.Itoa(idx)
		args = append(args, string(filter.Status))
		idx++
	}
	if filter.Type != "" {
		query += ` AND type = $` + strconv.Itoa(idx)
		args = append(args, string(filter.Type))
		idx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT $` + strconv.Itoa(idx)
	args = append(args, limit)
	idx++
	if filter.Offset > 0 {
		query += ` OFFSET $` + strconv.Itoa(idx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tasks")
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanPgTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, eris.Wrap(rows.Err(), "postgres: list tasks iterate")
}

// ---- Companies ----

func (s *PostgresStore) CreateCompany(ctx context.Context, c *model.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Details.Version == 0 {
		c.Details.Version = model.DetailsSchemaVersion
	}
	detailsJSON, statusJSON, err := marshalCompanyBlobs(c)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO companies (id, name, details, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Name, detailsJSON, statusJSON, now, now,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return company.ErrAlreadyExists
		}
		return eris.Wrap(err, "postgres: insert company")
	}
	return nil
}

func (s *PostgresStore) UpdateCompany(ctx context.Context, c *model.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.UpdatedAt = time.Now().UTC()
	detailsJSON, statusJSON, err := marshalCompanyBlobs(c)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE companies SET name = $1, details = $2, status = $3, updated_at = $4, deleted_at = $5 WHERE id = $6`,
		c.Name, detailsJSON, statusJSON, c.UpdatedAt, c.DeletedAt, c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update company %s", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("company not found: %s", c.ID)
	}
	return nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, details, status, created_at, updated_at, deleted_at FROM companies WHERE id = $1`, id)
	c, err := scanPgCompany(row)
	if err == errNoRows {
		return nil, nil
	}
	return c, err
}

func (s *PostgresStore) ListCompanies(ctx context.Context, includeDeleted bool) ([]model.Company, error) {
	query := `SELECT id, name, details, status, created_at, updated_at, deleted_at FROM companies`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		c, err := scanPgCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list companies iterate")
}

func (s *PostgresStore) SoftDeleteCompany(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.pool.Exec(ctx,
		`UPDATE companies SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	return eris.Wrapf(err, "postgres: soft delete company %s", id)
}

func (s *PostgresStore) MergeCompanies(ctx context.Context, canonicalID, duplicateID string) (bool, error) {
	if canonicalID == duplicateID {
		return false, eris.Errorf("postgres: merge ids must differ: %s", canonicalID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "postgres: begin merge")
	}
	defer tx.Rollback(ctx)

	canonical, err := getPgCompanyTx(ctx, tx, canonicalID)
	if err != nil {
		return false, err
	}
	duplicate, err := getPgCompanyTx(ctx, tx, duplicateID)
	if err != nil {
		return false, err
	}
	if canonical == nil || duplicate == nil {
		return false, nil
	}

	// Deactivate duplicate aliases whose normalized text already has an
	// active row on the canonical, then re-point everything in bulk.
	if _, err := tx.Exec(ctx, `
		UPDATE aliases SET active = FALSE
		WHERE company_id = $2 AND active
		  AND normalized IN (SELECT normalized FROM aliases WHERE company_id = $1 AND active)`,
		canonicalID, duplicateID); err != nil {
		return false, eris.Wrap(err, "postgres: merge drop conflicting aliases")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE aliases SET company_id = $1 WHERE company_id = $2`, canonicalID, duplicateID); err != nil {
		return false, eris.Wrap(err, "postgres: merge re-point aliases")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE messages SET company_id = $1 WHERE company_id = $2`, canonicalID, duplicateID); err != nil {
		return false, eris.Wrap(err, "postgres: merge re-point messages")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE events SET company_id = $1 WHERE company_id = $2`, canonicalID, duplicateID); err != nil {
		return false, eris.Wrap(err, "postgres: merge re-point events")
	}

	company.MergeDetails(&canonical.Details, &duplicate.Details)
	company.MergeStatus(&canonical.Status, &duplicate.Status)
	detailsJSON, statusJSON, err := marshalCompanyBlobs(canonical)
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE companies SET details = $1, status = $2, updated_at = now() WHERE id = $3`,
		detailsJSON, statusJSON, canonicalID); err != nil {
		return false, eris.Wrap(err, "postgres: merge update canonical")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE companies SET deleted_at = COALESCE(deleted_at, now()), updated_at = now() WHERE id = $1`,
		duplicateID); err != nil {
		return false, eris.Wrap(err, "postgres: merge tombstone duplicate")
	}

	if err := tx.Commit(ctx); err != nil {
		return false, eris.Wrap(err, "postgres: commit merge")
	}
	return true, nil
}

// ---- Aliases ----

func (s *PostgresStore) CreateAlias(ctx context.Context, companyID, text string, source model.AliasSource) (*model.Alias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := &model.Alias{
		CompanyID:  companyID,
		Text:       text,
		Normalized: company.NormalizeName(text),
		Source:     source,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO aliases (company_id, text, normalized, source, active, created_at)
		 VALUES ($1, $2, $3, $4, TRUE, $5) RETURNING id`,
		a.CompanyID, a.Text, a.Normalized, string(a.Source), a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, company.ErrDuplicateAlias
		}
		return nil, eris.Wrap(err, "postgres: insert alias")
	}
	return a, nil
}

func (s *PostgresStore) ListAliases(ctx context.Context, companyID string, activeOnly bool) ([]model.Alias, error) {
	query := `SELECT id, company_id, text, normalized, source, active, created_at FROM aliases WHERE company_id = $1`
	if activeOnly {
		query += ` AND active`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list aliases")
	}
	defer rows.Close()

	var out []model.Alias
	for rows.Next() {
		var a model.Alias
		var source string
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.Text, &a.Normalized, &source, &a.Active, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alias")
		}
		a.Source = model.AliasSource(source)
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list aliases iterate")
}

func (s *PostgresStore) GetAlias(ctx context.Context, id int64) (*model.Alias, error) {
	var a model.Alias
	var source string
	err := s.pool.QueryRow(ctx,
		`SELECT id, company_id, text, normalized, source, active, created_at FROM aliases WHERE id = $1`, id).
		Scan(&a.ID, &a.CompanyID, &a.Text, &a.Normalized, &source, &a.Active, &a.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get alias")
	}
	a.Source = model.AliasSource(source)
	return &a, nil
}

func (s *PostgresStore) SetAliasAsCanonical(ctx context.Context, companyID string, aliasID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, err := s.pool.Exec(ctx, `
		UPDATE companies SET name = a.text, updated_at = now()
		FROM aliases a
		WHERE companies.id = $1 AND a.id = $2 AND a.company_id = $1`,
		companyID, aliasID)
	if err != nil {
		return eris.Wrapf(err, "postgres: promote alias for %s", companyID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("alias %d does not belong to company %s", aliasID, companyID)
	}
	return nil
}

// ---- Events ----

func (s *PostgresStore) AppendEvent(ctx context.Context, companyID, eventType, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (company_id, type, details, created_at) VALUES ($1, $2, $3, $4)`,
		companyID, eventType, details, time.Now().UTC())
	return eris.Wrap(err, "postgres: append event")
}

func (s *PostgresStore) ListEvents(ctx context.Context, companyID string) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_id, type, details, created_at FROM events WHERE company_id = $1 ORDER BY id ASC`,
		companyID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.Type, &e.Details, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list events iterate")
}

// ---- Messages ----

func (s *PostgresStore) CreateMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (company_id, direction, external_id, subject, body, reply, received_at, archived_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		m.CompanyID, m.Direction, m.ExternalID, m.Subject, m.Body, m.Reply, m.ReceivedAt, m.ArchivedAt,
	).Scan(&m.ID)
	return eris.Wrap(err, "postgres: insert message")
}

func (s *PostgresStore) LatestInboundMessage(ctx context.Context, companyID string) (*model.Message, error) {
	var m model.Message
	err := s.pool.QueryRow(ctx,
		`SELECT id, company_id, direction, external_id, subject, body, reply, received_at, archived_at
		 FROM messages WHERE company_id = $1 AND direction = 'inbound'
		 ORDER BY received_at DESC LIMIT 1`, companyID).
		Scan(&m.ID, &m.CompanyID, &m.Direction, &m.ExternalID, &m.Subject, &m.Body, &m.Reply, &m.ReceivedAt, &m.ArchivedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest inbound message")
	}
	return &m, nil
}

func (s *PostgresStore) SetMessageReply(ctx context.Context, id int64, reply string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, err := s.pool.Exec(ctx, `UPDATE messages SET reply = $1 WHERE id = $2`, reply, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: set reply on message %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("message not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) ArchiveMessages(ctx context.Context, companyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.pool.Exec(ctx,
		`UPDATE messages SET archived_at = now() WHERE company_id = $1 AND archived_at IS NULL`, companyID)
	return eris.Wrapf(err, "postgres: archive messages for %s", companyID)
}

func (s *PostgresStore) HasMessage(ctx context.Context, externalID string) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(1) FROM messages WHERE external_id = $1`, externalID).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "postgres: has message")
	}
	return n > 0, nil
}

// ---- Research cache ----

func (s *PostgresStore) CacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM research_cache WHERE key = $1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: cache get")
	}
	return []byte(value), true, nil
}

func (s *PostgresStore) CachePut(ctx context.Context, key string, step int, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO research_cache (key, step, value, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET step = EXCLUDED.step, value = EXCLUDED.value, created_at = EXCLUDED.created_at`,
		key, step, string(value), time.Now().UTC())
	return eris.Wrap(err, "postgres: cache put")
}

func (s *PostgresStore) CacheDelete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.pool.Exec(ctx, `DELETE FROM research_cache WHERE key = $1`, key)
	return eris.Wrap(err, "postgres: cache delete")
}

func (s *PostgresStore) CacheClearStep(ctx context.Context, step int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, err := s.pool.Exec(ctx, `DELETE FROM research_cache WHERE step = $1`, step)
	if err != nil {
		return eris.Wrap(err, "postgres: cache clear step")
	}
	if tag.RowsAffected() > 0 {
		zap.L().Debug("cache: cleared step entries",
			zap.Int("step", step), zap.Int64("count", tag.RowsAffected()))
	}
	return nil
}

func (s *PostgresStore) CacheClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.pool.Exec(ctx, `DELETE FROM research_cache`)
	return eris.Wrap(err, "postgres: cache clear all")
}

// ---- scan helpers ----

type pgScannable interface {
	Scan(dest ...any) error
}

func scanPgTask(row pgScannable) (*model.Task, error) {
	var t model.Task
	var typ, status, argsJSON string
	var resultJSON *string

	err := row.Scan(&t.ID, &typ, &argsJSON, &status, &resultJSON, &t.Error, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, errNoRows
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan task")
	}
	t.Type = model.TaskType(typ)
	t.Status = model.TaskStatus(status)

	args, err := model.DecodeResult([]byte(argsJSON))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: decode task args")
	}
	t.Args = map[string]any(args)

	if resultJSON != nil {
		t.Result, err = model.DecodeResult([]byte(*resultJSON))
		if err != nil {
			return nil, eris.Wrap(err, "postgres: decode task result")
		}
	}
	return &t, nil
}

func scanPgCompany(row pgScannable) (*model.Company, error) {
	var c model.Company
	var detailsJSON, statusJSON string

	err := row.Scan(&c.ID, &c.Name, &detailsJSON, &statusJSON, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
	if err == pgx.ErrNoRows {
		return nil, errNoRows
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan company")
	}
	if err := json.Unmarshal([]byte(detailsJSON), &c.Details); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal details")
	}
	if err := json.Unmarshal([]byte(statusJSON), &c.Status); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal status")
	}
	c.Details.ApplySchemaVersion()
	return &c, nil
}

func getPgCompanyTx(ctx context.Context, tx pgx.Tx, id string) (*model.Company, error) {
	row := tx.QueryRow(ctx,
		`SELECT id, name, details, status, created_at, updated_at, deleted_at FROM companies WHERE id = $1`, id)
	c, err := scanPgCompany(row)
	if err == errNoRows {
		return nil, nil
	}
	return c, err
}
