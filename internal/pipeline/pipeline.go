// Package pipeline runs the multi-step company research flow for one task.
// Step one resolves identity and is fatal on failure; every later step
// records its error on the company and lets the run continue.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/research-worker/internal/cache"
	"github.com/sells-group/research-worker/internal/company"
	"github.com/sells-group/research-worker/internal/isolate"
	"github.com/sells-group/research-worker/internal/model"
	"github.com/sells-group/research-worker/internal/resilience"
	"github.com/sells-group/research-worker/pkg/contacts"
	"github.com/sells-group/research-worker/pkg/levels"
)

// Step names recorded in research_errors entries.
const (
	StepResearchCompany = "research_company"
	StepResearchLevels  = "research_levels"
	StepResearchComp    = "research_compensation"
	StepFindContacts    = "find_contacts"
)

// Config bounds the orchestrator's external calls.
type Config struct {
	LevelsTimeout   time.Duration
	ContactsTimeout time.Duration
	Retry           resilience.RetryConfig
}

// DefaultConfig returns the timeouts used in production.
func DefaultConfig() Config {
	return Config{
		LevelsTimeout:   30 * time.Second,
		ContactsTimeout: 120 * time.Second,
		Retry:           resilience.DefaultRetryConfig(),
	}
}

// Orchestrator wires the research steps to the store, the cache, and the
// external collaborators.
type Orchestrator struct {
	store    company.Store
	resolver *company.Resolver
	cache    *cache.Cache
	facts    FactsExtractor
	fit      FitEvaluator
	levels   levels.Client
	contacts contacts.Scraper
	cfg      Config
}

// New creates an Orchestrator.
func New(store company.Store, c *cache.Cache, facts FactsExtractor, fit FitEvaluator, lv levels.Client, scraper contacts.Scraper, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:    store,
		resolver: company.NewResolver(store),
		cache:    c,
		facts:    facts,
		fit:      fit,
		levels:   lv,
		contacts: scraper,
		cfg:      cfg,
	}
}

// Research runs the full pipeline for one research task. The returned
// error, when non-nil, means the task must be marked failed; non-fatal
// step failures are recorded on the company instead.
func (o *Orchestrator) Research(ctx context.Context, args model.ResearchArgs) (*model.Company, error) {
	if err := o.cache.Prepare(ctx); err != nil {
		return nil, err
	}

	c, facts, err := o.resolveIdentity(ctx, args)
	if err != nil {
		// Fatal. A record with the error still gets persisted before the
		// failure propagates to the status guard.
		o.persistFatal(ctx, args, err)
		return nil, err
	}

	var stepErrs int
	if o.shouldRunLevels(c, args) {
		if err := o.levelsStep(ctx, c); err != nil {
			o.recordStepError(c, StepResearchLevels, err)
			stepErrs++
		}
		if err := o.compensationStep(ctx, c); err != nil {
			o.recordStepError(c, StepResearchComp, err)
			stepErrs++
		}
	} else {
		zap.L().Info("pipeline: skipping levels and compensation for placeholder name",
			zap.String("company_id", c.ID))
	}

	if run, ferr := o.shouldRunContacts(ctx, c, args); ferr != nil {
		o.recordStepError(c, StepFindContacts, ferr)
		stepErrs++
	} else if run {
		if err := o.contactsStep(ctx, c); err != nil {
			o.recordStepError(c, StepFindContacts, err)
			stepErrs++
		}
	}

	o.finalize(ctx, c, facts, stepErrs == 0)

	if err := o.store.UpdateCompany(ctx, c); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist company")
	}
	return c, nil
}

// resolveIdentity is the basic-facts step. It extracts facts from the task
// input, resolves or creates the canonical company, and writes the facts
// onto it. A name that cannot be determined gets a placeholder so a record
// still exists to carry the error trail.
func (o *Orchestrator) resolveIdentity(ctx context.Context, args model.ResearchArgs) (*model.Company, *Facts, error) {
	var pre *model.Company
	if args.CompanyID != "" {
		var err error
		pre, err = o.store.GetCompany(ctx, args.CompanyID)
		if err != nil {
			return nil, nil, eris.Wrap(err, "pipeline: load company")
		}
		if pre == nil {
			return nil, nil, eris.Errorf("pipeline: company not found: %s", args.CompanyID)
		}
	}

	in := FactsInput{Name: args.Name, SourceURL: args.SourceURL, Content: args.Content}
	if pre != nil && in.Name == "" {
		in.Name = pre.Name
	}

	facts, err := cache.Cached(ctx, o.cache, cache.StepBasicFacts, "basic-facts", in,
		func(ctx context.Context, in FactsInput) (*Facts, error) {
			return resilience.DoVal(ctx, o.cfg.Retry, func(ctx context.Context) (*Facts, error) {
				return o.facts.ExtractFacts(ctx, in)
			})
		})
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: basic facts")
	}

	c := pre
	if c == nil {
		name := facts.Name
		if name == "" {
			name = in.Name
		}
		if name == "" {
			name = company.PlaceholderName(time.Now())
			zap.L().Warn("pipeline: no usable name extracted, using placeholder",
				zap.String("name", name))
		}
		var created bool
		c, created, err = o.resolver.FindOrCreate(ctx, name)
		if err != nil {
			return nil, nil, err
		}
		if !created && facts.Name != "" && company.IsPlaceholder(c.Name) {
			c.Name = facts.Name
		}
	}

	applyFacts(&c.Details, facts)
	if err := o.store.UpdateCompany(ctx, c); err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: write basic facts")
	}
	return c, facts, nil
}

// persistFatal writes a minimal record carrying the fatal error so the
// failure is visible outside the task row. Best-effort.
func (o *Orchestrator) persistFatal(ctx context.Context, args model.ResearchArgs, cause error) {
	var c *model.Company
	if args.CompanyID != "" {
		c, _ = o.store.GetCompany(ctx, args.CompanyID)
	}
	if c == nil {
		name := args.Name
		if name == "" {
			name = company.PlaceholderName(time.Now())
		}
		var err error
		c, _, err = o.resolver.FindOrCreate(ctx, name)
		if err != nil {
			zap.L().Error("pipeline: could not persist fatal error record", zap.Error(err))
			return
		}
	}

	now := time.Now().UTC()
	c.Status.ResearchErrors = append(c.Status.ResearchErrors, model.ResearchStepError{
		Step:      StepResearchCompany,
		Error:     cause.Error(),
		Timestamp: now,
	})
	c.Status.ResearchFailedAt = &now
	if err := o.store.UpdateCompany(ctx, c); err != nil {
		zap.L().Error("pipeline: could not persist fatal error record",
			zap.String("company_id", c.ID), zap.Error(err))
	}
}

func (o *Orchestrator) shouldRunLevels(c *model.Company, args model.ResearchArgs) bool {
	if args.ForceLevels {
		return true
	}
	return !company.IsPlaceholder(c.Name)
}

// levelsStep resolves the company on the compensation provider, trying
// aliases when the canonical name is not recognized.
func (o *Orchestrator) levelsStep(ctx context.Context, c *model.Company) error {
	page, err := cache.Cached(ctx, o.cache, cache.StepComparableRole, "comparable-role-data", c.ID,
		func(ctx context.Context, _ string) (*levels.CompanyPage, error) {
			return company.ResolveWithFallback(ctx, o.store, c, c.Name,
				func(ctx context.Context, name string) (*levels.CompanyPage, bool, error) {
					type pageResult struct {
						page  *levels.CompanyPage
						found bool
					}
					res, err := isolate.Call(ctx, "levels-company-page", o.cfg.LevelsTimeout,
						func(ctx context.Context) (pageResult, error) {
							p, found, err := o.levels.CompanyPage(ctx, name)
							return pageResult{page: p, found: found}, err
						})
					return res.page, res.found, err
				})
		})
	if err != nil {
		return err
	}

	c.Details.LevelsURL = page.URL
	c.Details.KnownLevels = page.KnownLevels
	if c.Details.ComparableRole == "" && len(page.KnownLevels) > 0 {
		c.Details.ComparableRole = page.KnownLevels[0]
	}
	return nil
}

// compensationStep aggregates compensation observations for the comparable
// role into summary averages.
func (o *Orchestrator) compensationStep(ctx context.Context, c *model.Company) error {
	if c.Details.LevelsURL == "" {
		return eris.New("pipeline: no provider page resolved")
	}
	role := c.Details.ComparableRole
	if role == "" {
		return eris.New("pipeline: no comparable role identified")
	}

	slug := company.Slug(c.Name)
	roles := rolesToSample(role, c.Details.KnownLevels)
	type compInput struct {
		Slug  string   `json:"slug"`
		Roles []string `json:"roles"`
	}
	comp, err := cache.Cached(ctx, o.cache, cache.StepCompensation, "compensation-data",
		compInput{Slug: slug, Roles: roles},
		func(ctx context.Context, in compInput) (*levels.RoleComp, error) {
			return o.fetchRoleComp(ctx, in.Slug, in.Roles)
		})
	if err != nil {
		return err
	}
	if len(comp.Samples) == 0 {
		return eris.Errorf("pipeline: no compensation samples for role %s", role)
	}

	base, total := comp.Averages()
	c.Details.CompBaseAvg = base
	c.Details.CompTotalAvg = total
	c.Details.CompSamples = len(comp.Samples)
	c.Details.CompCurrency = comp.Currency
	if !comp.AsOf.IsZero() {
		c.Details.CompAsOf = comp.AsOf.UTC().Format(time.RFC3339)
	}
	return nil
}

// fetchRoleComp queries each role in parallel and pools their samples
// into one observation set, so the averages draw on more than one level.
func (o *Orchestrator) fetchRoleComp(ctx context.Context, slug string, roles []string) (*levels.RoleComp, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)

	results := make([]*levels.RoleComp, len(roles))
	for i, r := range roles {
		g.Go(func() error {
			rc, err := isolate.Call(gctx, fmt.Sprintf("levels-role-comp-%s", r), o.cfg.LevelsTimeout,
				func(ctx context.Context) (*levels.RoleComp, error) {
					comp, found, err := o.levels.RoleComp(ctx, slug, r)
					if err != nil {
						return nil, err
					}
					if !found {
						return nil, nil
					}
					return comp, nil
				})
			if err != nil {
				return err
			}
			results[i] = rc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &levels.RoleComp{Role: roles[0]}
	for _, rc := range results {
		if rc == nil {
			continue
		}
		merged.Samples = append(merged.Samples, rc.Samples...)
		if merged.Currency == "" {
			merged.Currency = rc.Currency
		}
		if rc.AsOf.After(merged.AsOf) {
			merged.AsOf = rc.AsOf
		}
	}
	return merged, nil
}

// shouldRunContacts gates the relationship step on the fit verdict, or on
// the force flag.
func (o *Orchestrator) shouldRunContacts(ctx context.Context, c *model.Company, args model.ResearchArgs) (bool, error) {
	if args.ForceContacts {
		return true, nil
	}
	if company.IsPlaceholder(c.Name) {
		return false, nil
	}

	if c.Status.FitCategory == "" {
		category, confidence, err := o.fit.Evaluate(ctx, c)
		if err != nil {
			return false, eris.Wrap(err, "pipeline: fit evaluation")
		}
		now := time.Now().UTC()
		c.Status.FitCategory = category
		c.Status.FitConfidence = confidence
		c.Status.FitDecisionAt = &now
		zap.L().Info("pipeline: fit decision",
			zap.String("company_id", c.ID),
			zap.String("category", string(category)),
			zap.Float64("confidence", confidence),
		)
	}
	return c.Status.FitCategory == model.FitGood, nil
}

// contactsStep discovers decision-maker contacts through the isolated
// scraper subprocess.
func (o *Orchestrator) contactsStep(ctx context.Context, c *model.Company) error {
	type contactsInput struct {
		Name    string `json:"name"`
		Website string `json:"website,omitempty"`
	}
	found, err := cache.Cached(ctx, o.cache, cache.StepRelationship, "relationship-data",
		contactsInput{Name: c.Name, Website: c.Details.Website},
		func(ctx context.Context, in contactsInput) ([]contacts.Contact, error) {
			return o.contacts.FindContacts(ctx, in.Name, in.Website)
		})
	if err != nil {
		return err
	}

	c.Details.Contacts = c.Details.Contacts[:0]
	for _, ct := range found {
		c.Details.Contacts = append(c.Details.Contacts, model.ContactInfo{
			Name:    ct.Name,
			Title:   ct.Title,
			Profile: ct.Profile,
		})
	}
	return nil
}

// finalize stamps completion state and seeds auto aliases for alternate
// names discovered during fact extraction. Alias failures are logged and
// swallowed.
func (o *Orchestrator) finalize(ctx context.Context, c *model.Company, facts *Facts, clean bool) {
	if clean {
		now := time.Now().UTC()
		c.Status.ResearchCompletedAt = &now
		if err := o.store.AppendEvent(ctx, c.ID, model.EventResearchCompleted, ""); err != nil {
			zap.L().Warn("pipeline: append completion event failed",
				zap.String("company_id", c.ID), zap.Error(err))
		}
	}

	for _, alt := range facts.AlternateNames {
		if company.NormalizeName(alt) == company.NormalizeName(c.Name) {
			continue
		}
		if _, err := o.store.CreateAlias(ctx, c.ID, alt, model.AliasAuto); err != nil {
			if errors.Is(err, company.ErrDuplicateAlias) {
				continue
			}
			zap.L().Warn("pipeline: create alias failed",
				zap.String("company_id", c.ID),
				zap.String("alias", alt),
				zap.Error(err),
			)
		}
	}
}

// recordStepError appends a non-fatal step failure to the company status.
func (o *Orchestrator) recordStepError(c *model.Company, step string, err error) {
	zap.L().Warn("pipeline: step failed",
		zap.String("company_id", c.ID),
		zap.String("step", step),
		zap.Error(err),
	)
	c.Status.ResearchErrors = append(c.Status.ResearchErrors, model.ResearchStepError{
		Step:      step,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
}

// rolesToSample picks the comparable role plus up to two adjacent known
// levels, deduplicated, primary role first.
func rolesToSample(role string, known []string) []string {
	roles := []string{role}
	for _, k := range known {
		if len(roles) >= 3 {
			break
		}
		if k != role {
			roles = append(roles, k)
		}
	}
	return roles
}

// applyFacts writes extracted facts onto the details record. The step owns
// these fields, so fresh research overwrites prior values.
func applyFacts(d *model.CompanyDetails, f *Facts) {
	if f.Website != "" {
		d.Website = f.Website
	}
	if f.Description != "" {
		d.Description = f.Description
	}
	if f.Industry != "" {
		d.Industry = f.Industry
	}
	if f.Headcount != "" {
		d.Headcount = f.Headcount
	}
	if f.HQLocation != "" {
		d.HQLocation = f.HQLocation
	}
	if f.Remote != "" {
		d.Remote = f.Remote
	}
	if len(f.TechStack) > 0 {
		d.TechStack = f.TechStack
	}
	if f.Funding != "" {
		d.Funding = f.Funding
	}
	if f.ComparableRole != "" {
		d.ComparableRole = f.ComparableRole
	}
}
