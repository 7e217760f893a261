package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-worker/internal/company"
	"github.com/sells-group/research-worker/internal/model"
)

// ---- Companies ----

func (s *SQLiteStore) CreateCompany(ctx context.Context, c *model.Company) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO companies (id, name, details, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, detailsJSON, statusJSON, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return company.ErrAlreadyExists
		}
		return eris.Wrap(err, "sqlite: insert company")
	}
	return nil
}

func (s *SQLiteStore) UpdateCompany(ctx context.Context, c *model.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.UpdatedAt = time.Now().UTC()
	detailsJSON, statusJSON, err := marshalCompanyBlobs(c)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE companies SET name = ?, details = ?, status = ?, updated_at = ?, deleted_at = ? WHERE id = ?`,
		c.Name, detailsJSON, statusJSON, c.UpdatedAt, c.DeletedAt, c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update company %s", c.ID)
	}
	return checkRowsAffected(res, "company", c.ID)
}

// GetCompany returns the row whether or not it has been soft-deleted;
// callers check DeletedAt when tombstones matter.
func (s *SQLiteStore) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, details, status, created_at, updated_at, deleted_at FROM companies WHERE id = ?`, id)
	c, err := scanCompany(row)
	if err == errNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) ListCompanies(ctx context.Context, includeDeleted bool) ([]model.Company, error) {
	query := `SELECT id, name, details, status, created_at, updated_at, deleted_at FROM companies`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list companies iterate")
}

// SoftDeleteCompany tombstones a row. Idempotent: deleting an already
// deleted company is a no-op.
func (s *SQLiteStore) SoftDeleteCompany(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE companies SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), time.Now().UTC(), id)
	return eris.Wrapf(err, "sqlite: soft delete company %s", id)
}

// MergeCompanies re-points every alias, message, and event from duplicateID
// to canonicalID, folds the duplicate's details into the canonical where the
// canonical fields are empty, and tombstones the duplicate, all in one
// transaction. Returns false when either id does not resolve to a row
// (deleted rows still resolve, so re-merging a tombstone succeeds).
func (s *SQLiteStore) MergeCompanies(ctx context.Context, canonicalID, duplicateID string) (bool, error) {
	if canonicalID == duplicateID {
		return false, eris.Errorf("sqlite: merge ids must differ: %s", canonicalID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin merge")
	}
	defer tx.Rollback()

	canonical, err := getCompanyTx(ctx, tx, canonicalID)
	if err != nil {
		return false, err
	}
	duplicate, err := getCompanyTx(ctx, tx, duplicateID)
	if err != nil {
		return false, err
	}
	if canonical == nil || duplicate == nil {
		return false, nil
	}

	// Re-point aliases one at a time so a unique conflict on the canonical's
	// active set can deactivate just that row instead of aborting the merge.
	rows, err := tx.QueryContext(ctx,
		`SELECT id, normalized, active FROM aliases WHERE company_id = ?`, duplicateID)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: merge list aliases")
	}
	type aliasRow struct {
		id         int64
		normalized string
		active     bool
	}
	var dupAliases []aliasRow
	for rows.Next() {
		var a aliasRow
		if err := rows.Scan(&a.id, &a.normalized, &a.active); err != nil {
			rows.Close()
			return false, eris.Wrap(err, "sqlite: merge scan alias")
		}
		dupAliases = append(dupAliases, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, eris.Wrap(err, "sqlite: merge iterate aliases")
	}

	for _, a := range dupAliases {
		active := a.active
		if active {
			var n int
			err := tx.QueryRowContext(ctx,
				`SELECT COUNT(1) FROM aliases WHERE company_id = ? AND normalized = ? AND active = 1`,
				canonicalID, a.normalized).Scan(&n)
			if err != nil {
				return false, eris.Wrap(err, "sqlite: merge alias conflict check")
			}
			if n > 0 {
				active = false
				zap.L().Debug("merge: dropping conflicting alias",
					zap.Int64("alias_id", a.id),
					zap.String("canonical_id", canonicalID),
				)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE aliases SET company_id = ?, active = ? WHERE id = ?`,
			canonicalID, active, a.id); err != nil {
			return false, eris.Wrap(err, "sqlite: merge re-point alias")
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET company_id = ? WHERE company_id = ?`, canonicalID, duplicateID); err != nil {
		return false, eris.Wrap(err, "sqlite: merge re-point messages")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE events SET company_id = ? WHERE company_id = ?`, canonicalID, duplicateID); err != nil {
		return false, eris.Wrap(err, "sqlite: merge re-point events")
	}

	company.MergeDetails(&canonical.Details, &duplicate.Details)
	company.MergeStatus(&canonical.Status, &duplicate.Status)
	detailsJSON, statusJSON, err := marshalCompanyBlobs(canonical)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE companies SET details = ?, status = ?, updated_at = ? WHERE id = ?`,
		detailsJSON, statusJSON, time.Now().UTC(), canonicalID); err != nil {
		return false, eris.Wrap(err, "sqlite: merge update canonical")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE companies SET deleted_at = COALESCE(deleted_at, ?), updated_at = ? WHERE id = ?`,
		time.Now().UTC(), time.Now().UTC(), duplicateID); err != nil {
		return false, eris.Wrap(err, "sqlite: merge tombstone duplicate")
	}

	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit merge")
	}
	return true, nil
}

// ---- Aliases ----

func (s *SQLiteStore) CreateAlias(ctx context.Context, companyID, text string, source model.AliasSource) (*model.Alias, error) {
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
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO aliases (company_id, text, normalized, source, active, created_at) VALUES (?, ?, ?, ?, 1, ?)`,
		a.CompanyID, a.Text, a.Normalized, string(a.Source), a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, company.ErrDuplicateAlias
		}
		return nil, eris.Wrap(err, "sqlite: insert alias")
	}
	a.ID, err = res.LastInsertId()
	return a, eris.Wrap(err, "sqlite: alias id")
}

func (s *SQLiteStore) ListAliases(ctx context.Context, companyID string, activeOnly bool) ([]model.Alias, error) {
	query := `SELECT id, company_id, text, normalized, source, active, created_at FROM aliases WHERE company_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list aliases")
	}
	defer rows.Close()

	var out []model.Alias
	for rows.Next() {
		var a model.Alias
		var source string
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.Text, &a.Normalized, &source, &a.Active, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alias")
		}
		a.Source = model.AliasSource(source)
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list aliases iterate")
}

func (s *SQLiteStore) GetAlias(ctx context.Context, id int64) (*model.Alias, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, company_id, text, normalized, source, active, created_at FROM aliases WHERE id = ?`, id)

	var a model.Alias
	var source string
	err := row.Scan(&a.ID, &a.CompanyID, &a.Text, &a.Normalized, &source, &a.Active, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get alias")
	}
	a.Source = model.AliasSource(source)
	return &a, nil
}

// SetAliasAsCanonical promotes the alias text to the company's display name.
// The company id is untouched; slugs are immutable once assigned.
func (s *SQLiteStore) SetAliasAsCanonical(ctx context.Context, companyID string, aliasID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin promote alias")
	}
	defer tx.Rollback()

	var text string
	var owner string
	err = tx.QueryRowContext(ctx,
		`SELECT text, company_id FROM aliases WHERE id = ?`, aliasID).Scan(&text, &owner)
	if err == sql.ErrNoRows {
		return eris.Errorf("alias not found: %d", aliasID)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: read alias for promotion")
	}
	if owner != companyID {
		return eris.Errorf("alias %d does not belong to company %s", aliasID, companyID)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE companies SET name = ?, updated_at = ? WHERE id = ?`,
		text, time.Now().UTC(), companyID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: promote alias for %s", companyID)
	}
	if err := checkRowsAffected(res, "company", companyID); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit promote alias")
}

// ---- Events ----

func (s *SQLiteStore) AppendEvent(ctx context.Context, companyID, eventType, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (company_id, type, details, created_at) VALUES (?, ?, ?, ?)`,
		companyID, eventType, details, time.Now().UTC())
	return eris.Wrap(err, "sqlite: append event")
}

func (s *SQLiteStore) ListEvents(ctx context.Context, companyID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_id, type, details, created_at FROM events WHERE company_id = ? ORDER BY id ASC`,
		companyID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.Type, &e.Details, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

// ---- helpers ----

func marshalCompanyBlobs(c *model.Company) (string, string, error) {
	detailsJSON, err := json.Marshal(c.Details)
	if err != nil {
		return "", "", eris.Wrap(err, "sqlite: marshal details")
	}
	statusJSON, err := json.Marshal(c.Status)
	if err != nil {
		return "", "", eris.Wrap(err, "sqlite: marshal status")
	}
	return string(detailsJSON), string(statusJSON), nil
}

func scanCompany(row scannable) (*model.Company, error) {
	var c model.Company
	var detailsJSON, statusJSON string

	err := row.Scan(&c.ID, &c.Name, &detailsJSON, &statusJSON, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, errNoRows
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan company")
	}
	if err := json.Unmarshal([]byte(detailsJSON), &c.Details); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal details")
	}
	if err := json.Unmarshal([]byte(statusJSON), &c.Status); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal status")
	}
	c.Details.ApplySchemaVersion()
	return &c, nil
}

// getCompanyTx mirrors GetCompany inside a transaction.
func getCompanyTx(ctx context.Context, tx *sql.Tx, id string) (*model.Company, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT id, name, details, status, created_at, updated_at, deleted_at FROM companies WHERE id = ?`, id)
	c, err := scanCompany(row)
	if err == errNoRows {
		return nil, nil
	}
	return c, err
}
