package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/research-worker/internal/company"
	"github.com/sells-group/research-worker/internal/model"
	"github.com/sells-group/research-worker/pkg/notion"
	"github.com/sells-group/research-worker/pkg/sheet"
)

// Lead is one importable company row, whatever source it came from.
type Lead struct {
	CompanyName string
	Website     string
	SourceURL   string
}

// LeadSource supplies rows for bulk import.
type LeadSource interface {
	Name() string
	Leads(ctx context.Context) ([]Lead, error)
}

// SheetSource reads leads from an XLSX workbook.
type SheetSource struct {
	Path string
}

func (s SheetSource) Name() string { return "sheet:" + s.Path }

func (s SheetSource) Leads(_ context.Context) ([]Lead, error) {
	rows, err := sheet.ReadLeads(s.Path)
	if err != nil {
		return nil, err
	}
	leads := make([]Lead, len(rows))
	for i, r := range rows {
		leads[i] = Lead{CompanyName: r.CompanyName, Website: r.Website, SourceURL: r.SourceURL}
	}
	return leads, nil
}

// NotionSource reads leads from the Notion lead database.
type NotionSource struct {
	Client notion.Client
	DBID   string
}

func (s NotionSource) Name() string { return "notion:" + s.DBID }

func (s NotionSource) Leads(ctx context.Context) ([]Lead, error) {
	rows, err := notion.QueryLeads(ctx, s.Client, s.DBID)
	if err != nil {
		return nil, err
	}
	leads := make([]Lead, len(rows))
	for i, r := range rows {
		leads[i] = Lead{CompanyName: r.CompanyName, Website: r.Website, SourceURL: r.SourceURL}
	}
	return leads, nil
}

// handleBulkImport pulls every configured source and upserts a company per
// row. The counters are flushed onto the task row as the import proceeds
// so a polling client can render progress.
func (w *Worker) handleBulkImport(ctx context.Context, task *model.Task) (model.Result, error) {
	var counters model.ImportCounters

	for _, source := range w.sources {
		leads, err := source.Leads(ctx)
		if err != nil {
			// A broken source fails the import; partial counters stay on
			// the task row for diagnosis.
			return counters.Result(), err
		}
		counters.Found += len(leads)
		w.flushCounters(ctx, task.ID, counters)

		for i, lead := range leads {
			counters.Processed++
			if err := w.importLead(ctx, lead, &counters); err != nil {
				counters.Errors++
				zap.L().Warn("worker: lead import failed",
					zap.String("source", source.Name()),
					zap.String("company", lead.CompanyName),
					zap.Error(err),
				)
			}
			if (i+1)%10 == 0 {
				w.flushCounters(ctx, task.ID, counters)
			}
		}
		w.flushCounters(ctx, task.ID, counters)
	}

	return counters.Result(), nil
}

// importLead upserts a single company. Rows matching an existing company
// only fill fields that are still empty.
func (w *Worker) importLead(ctx context.Context, lead Lead, counters *model.ImportCounters) error {
	c, created, err := w.resolver.FindOrCreate(ctx, lead.CompanyName)
	if err != nil {
		return err
	}

	changed := false
	if lead.Website != "" && c.Details.Website == "" {
		c.Details.Website = lead.Website
		changed = true
	}
	if changed {
		if err := w.store.UpdateCompany(ctx, c); err != nil {
			return err
		}
	}

	switch {
	case created:
		counters.Created++
	case changed:
		counters.Updated++
	default:
		counters.Skipped++
	}

	if created || changed {
		if err := w.store.AppendEvent(ctx, c.ID, model.EventImported, ""); err != nil {
			zap.L().Warn("worker: append import event failed",
				zap.String("company_id", c.ID), zap.Error(err))
		}
	}

	// Seed the original spelling as an alias when it differs from the
	// canonical name. Duplicate inserts are expected and skipped.
	if company.NormalizeName(lead.CompanyName) != company.NormalizeName(c.Name) {
		if _, err := w.store.CreateAlias(ctx, c.ID, lead.CompanyName, model.AliasSeed); err != nil &&
			!errors.Is(err, company.ErrDuplicateAlias) {
			zap.L().Warn("worker: seed alias failed",
				zap.String("company_id", c.ID), zap.Error(err))
		}
	}
	return nil
}

// flushCounters best-effort writes the running counters to the task row.
func (w *Worker) flushCounters(ctx context.Context, taskID string, counters model.ImportCounters) {
	if err := w.store.UpdateTask(ctx, taskID, model.TaskRunning, counters.Result(), ""); err != nil {
		zap.L().Warn("worker: counter flush failed", zap.String("task_id", taskID), zap.Error(err))
	}
}
