package company

import (
	"github.com/sells-group/research-worker/internal/model"
)

// MergeDetails copies fields from src into dst wherever dst is empty and src
// is not. This is the single merge precedence used everywhere a duplicate's
// research is folded into a canonical record; pipeline steps that just
// produced a field write it directly instead and therefore always win.
func MergeDetails(dst, src *model.CompanyDetails) {
	if src == nil || dst == nil {
		return
	}
	mergeString(&dst.Website, src.Website)
	mergeString(&dst.Description, src.Description)
	mergeString(&dst.Industry, src.Industry)
	mergeString(&dst.Headcount, src.Headcount)
	mergeString(&dst.HQLocation, src.HQLocation)
	mergeString(&dst.Remote, src.Remote)
	mergeString(&dst.Funding, src.Funding)
	mergeString(&dst.LevelsURL, src.LevelsURL)
	mergeString(&dst.ComparableRole, src.ComparableRole)
	mergeString(&dst.CompCurrency, src.CompCurrency)
	mergeString(&dst.CompAsOf, src.CompAsOf)

	if len(dst.TechStack) == 0 && len(src.TechStack) > 0 {
		dst.TechStack = append([]string(nil), src.TechStack...)
	}
	if len(dst.KnownLevels) == 0 && len(src.KnownLevels) > 0 {
		dst.KnownLevels = append([]string(nil), src.KnownLevels...)
	}
	if len(dst.Contacts) == 0 && len(src.Contacts) > 0 {
		dst.Contacts = append([]model.ContactInfo(nil), src.Contacts...)
	}
	if dst.CompSamples == 0 && src.CompSamples > 0 {
		dst.CompBaseAvg = src.CompBaseAvg
		dst.CompTotalAvg = src.CompTotalAvg
		dst.CompSamples = src.CompSamples
	}
	if dst.Version < src.Version {
		dst.Version = src.Version
	}
}

// MergeStatus folds a duplicate's status into the canonical's: timestamps
// fill empty slots, step errors are concatenated, and a fit decision is kept
// only when the canonical has none.
func MergeStatus(dst, src *model.CompanyStatus) {
	if src == nil || dst == nil {
		return
	}
	dst.ResearchErrors = append(dst.ResearchErrors, src.ResearchErrors...)
	if dst.ResearchFailedAt == nil {
		dst.ResearchFailedAt = src.ResearchFailedAt
	}
	if dst.ResearchCompletedAt == nil {
		dst.ResearchCompletedAt = src.ResearchCompletedAt
	}
	if dst.ArchivedAt == nil {
		dst.ArchivedAt = src.ArchivedAt
	}
	if dst.ReplySentAt == nil {
		dst.ReplySentAt = src.ReplySentAt
	}
	if dst.FitCategory == "" {
		dst.FitCategory = src.FitCategory
		dst.FitConfidence = src.FitConfidence
		dst.FitDecisionAt = src.FitDecisionAt
	}
}

func mergeString(dst *string, src string) {
	if *dst == "" && src != "" {
		*dst = src
	}
}
