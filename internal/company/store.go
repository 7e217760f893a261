package company

import (
	"context"

	"github.com/sells-group/research-worker/internal/model"
)

// Store defines the persistence operations identity resolution depends on.
// Implemented by internal/store.
type Store interface {
	// Companies
	CreateCompany(ctx context.Context, c *model.Company) error
	UpdateCompany(ctx context.Context, c *model.Company) error
	GetCompany(ctx context.Context, id string) (*model.Company, error)
	ListCompanies(ctx context.Context, includeDeleted bool) ([]model.Company, error)
	SoftDeleteCompany(ctx context.Context, id string) error
	MergeCompanies(ctx context.Context, canonicalID, duplicateID string) (bool, error)

	// Aliases
	CreateAlias(ctx context.Context, companyID, text string, source model.AliasSource) (*model.Alias, error)
	ListAliases(ctx context.Context, companyID string, activeOnly bool) ([]model.Alias, error)
	GetAlias(ctx context.Context, id int64) (*model.Alias, error)
	SetAliasAsCanonical(ctx context.Context, companyID string, aliasID int64) error

	// Audit log
	AppendEvent(ctx context.Context, companyID, eventType, details string) error
}
