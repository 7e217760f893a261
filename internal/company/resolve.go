package company

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-worker/internal/model"
)

// ErrAlreadyExists is returned by stores when a company id collides with a
// non-deleted row.
var ErrAlreadyExists = errors.New("company already exists")

// ErrDuplicateAlias is returned by stores when an active alias with the same
// normalized text already exists for the company. Bulk seeders skip it.
var ErrDuplicateAlias = errors.New("alias already exists")

// Resolver locates or creates the canonical record for a company name,
// guaranteeing that two names which normalize identically never produce two
// rows.
type Resolver struct {
	store Store
}

// NewResolver creates a Resolver backed by the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// FindOrCreate resolves a name to its canonical company. Cascade:
//  1. Exact id match on the derived slug
//  2. Normalized-name match over all non-deleted rows
//  3. No match: insert a new row with the slug id
//
// Returns the company and whether it was newly created.
func (r *Resolver) FindOrCreate(ctx context.Context, name string) (*model.Company, bool, error) {
	id := Slug(name)
	if id == "" {
		return nil, false, eris.New("company: name produces an empty slug")
	}

	existing, err := r.store.GetCompany(ctx, id)
	if err != nil {
		return nil, false, eris.Wrap(err, "company: resolve by id")
	}
	var tombstone *model.Company
	if existing != nil {
		if !existing.Deleted() {
			return existing, false, nil
		}
		tombstone = existing
	}

	existing, err = r.FindByNormalizedName(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		zap.L().Debug("resolve: matched by normalized name",
			zap.String("name", name),
			zap.String("company_id", existing.ID),
		)
		return existing, false, nil
	}

	if tombstone != nil {
		// The slug belongs to a soft-deleted row and no live row matches
		// the name. Revive the tombstone so the id and its audit history
		// carry forward instead of colliding on insert.
		tombstone.DeletedAt = nil
		tombstone.Name = name
		if err := r.store.UpdateCompany(ctx, tombstone); err != nil {
			return nil, false, eris.Wrap(err, "company: revive tombstone")
		}
		zap.L().Info("resolve: revived soft-deleted company",
			zap.String("company_id", tombstone.ID),
			zap.String("name", name),
		)
		return tombstone, false, nil
	}

	c := &model.Company{
		ID:      id,
		Name:    name,
		Details: model.CompanyDetails{Version: model.DetailsSchemaVersion},
	}
	if err := r.store.CreateCompany(ctx, c); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// Lost a race with another insert of the same slug; re-read.
			existing, getErr := r.store.GetCompany(ctx, id)
			if getErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, eris.Wrap(err, "company: create")
	}

	zap.L().Info("resolve: created company",
		zap.String("company_id", c.ID),
		zap.String("name", name),
	)
	return c, true, nil
}

// FindByNormalizedName linearly compares the normalized form of name against
// every non-deleted company. Linear scan is deliberate: the corpus is
// hundreds of rows, not millions.
func (r *Resolver) FindByNormalizedName(ctx context.Context, name string) (*model.Company, error) {
	want := NormalizeName(name)
	if want == "" {
		return nil, nil
	}
	all, err := r.store.ListCompanies(ctx, false)
	if err != nil {
		return nil, eris.Wrap(err, "company: list for normalized match")
	}
	for i := range all {
		if NormalizeName(all[i].Name) == want {
			return &all[i], nil
		}
	}
	return nil, nil
}
