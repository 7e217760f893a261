package company

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/research-worker/internal/model"
)

// ErrNoWorkingName is returned when neither the canonical name nor any
// active alias was recognized by the external lookup.
var ErrNoWorkingName = errors.New("no working name for external lookup")

// LookupFunc queries an external system by company name. ok is false when
// the system does not recognize the name; err is reserved for transport or
// provider failures.
type LookupFunc[T any] func(ctx context.Context, name string) (result T, ok bool, err error)

// ResolveWithFallback tries the canonical display name first, then every
// active alias ordered by source trust (manual > auto > seed), deduplicated.
// When an alias wins, it is promoted to the canonical display name so future
// lookups start with it. c may be nil for names the store has never seen; in
// that case only the literal name is tried and no promotion happens.
//
// Returns the zero T and ErrNoWorkingName when nothing succeeds.
func ResolveWithFallback[T any](ctx context.Context, st Store, c *model.Company, literal string, lookup LookupFunc[T]) (T, error) {
	var zero T

	if c == nil {
		result, ok, err := lookup(ctx, literal)
		if err != nil {
			zap.L().Warn("fallback: literal lookup failed",
				zap.String("name", literal), zap.Error(err))
		}
		if ok {
			return result, nil
		}
		return zero, ErrNoWorkingName
	}

	aliases, err := st.ListAliases(ctx, c.ID, true)
	if err != nil {
		zap.L().Warn("fallback: list aliases failed",
			zap.String("company_id", c.ID), zap.Error(err))
	}
	sortAliasesByTrust(aliases)

	type candidate struct {
		name    string
		aliasID int64
	}
	// Dedup on the literal spelling: aliases that normalize the same as the
	// canonical name are still distinct strings the lookup may recognize.
	seen := map[string]bool{}
	candidates := []candidate{{name: c.Name}}
	seen[c.Name] = true
	for _, a := range aliases {
		if seen[a.Text] {
			continue
		}
		seen[a.Text] = true
		candidates = append(candidates, candidate{name: a.Text, aliasID: a.ID})
	}

	for _, cand := range candidates {
		result, ok, err := lookup(ctx, cand.name)
		if err != nil {
			zap.L().Warn("fallback: lookup failed, trying next candidate",
				zap.String("company_id", c.ID),
				zap.String("name", cand.name),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			continue
		}
		if cand.aliasID != 0 {
			if promoteErr := st.SetAliasAsCanonical(ctx, c.ID, cand.aliasID); promoteErr != nil {
				zap.L().Warn("fallback: alias promotion failed",
					zap.String("company_id", c.ID),
					zap.Int64("alias_id", cand.aliasID),
					zap.Error(promoteErr),
				)
			} else {
				c.Name = cand.name
				zap.L().Info("fallback: promoted alias to canonical name",
					zap.String("company_id", c.ID),
					zap.String("name", cand.name),
				)
			}
		}
		return result, nil
	}

	return zero, ErrNoWorkingName
}

// sortAliasesByTrust orders aliases manual first, then auto, then seed,
// stable within a rank by insertion order.
func sortAliasesByTrust(aliases []model.Alias) {
	// Insertion sort keeps the original order within equal ranks and the
	// slices involved are tiny.
	for i := 1; i < len(aliases); i++ {
		for j := i; j > 0 && model.SourceRank(aliases[j].Source) < model.SourceRank(aliases[j-1].Source); j-- {
			aliases[j], aliases[j-1] = aliases[j-1], aliases[j]
		}
	}
}
