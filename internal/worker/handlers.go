package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-worker/internal/model"
)

// decodeArgs rebuilds a typed argument struct from the task's stored map.
func decodeArgs[T interface{ Validate() error }](task *model.Task) (T, error) {
	var args T
	raw, err := json.Marshal(task.Args)
	if err != nil {
		return args, eris.Wrapf(err, "worker: encode args for %s", task.ID)
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, eris.Wrapf(err, "worker: decode args for %s", task.ID)
	}
	if err := args.Validate(); err != nil {
		return args, err
	}
	return args, nil
}

func (w *Worker) handleResearch(ctx context.Context, task *model.Task) (model.Result, error) {
	args, err := decodeArgs[model.ResearchArgs](task)
	if err != nil {
		return nil, err
	}

	c, err := w.orchestrator.Research(ctx, args)
	if err != nil {
		return nil, err
	}
	return model.Result{
		"company_id":  c.ID,
		"name":        c.Name,
		"step_errors": len(c.Status.ResearchErrors),
	}, nil
}

func (w *Worker) handleGenerateReply(ctx context.Context, task *model.Task) (model.Result, error) {
	args, err := decodeArgs[model.CompanyIDArgs](task)
	if err != nil {
		return nil, err
	}
	c, err := w.mustGetCompany(ctx, args.CompanyID)
	if err != nil {
		return nil, err
	}

	msg, reply, err := w.replies.Generate(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := w.store.SetMessageReply(ctx, msg.ID, reply); err != nil {
		return nil, err
	}
	return model.Result{"company_id": c.ID, "message_id": msg.ID}, nil
}

func (w *Worker) handleSendAndArchive(ctx context.Context, task *model.Task) (model.Result, error) {
	args, err := decodeArgs[model.CompanyIDArgs](task)
	if err != nil {
		return nil, err
	}
	c, err := w.mustGetCompany(ctx, args.CompanyID)
	if err != nil {
		return nil, err
	}

	msg, err := w.store.LatestInboundMessage(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if msg == nil || msg.Reply == "" {
		return nil, eris.Errorf("worker: no drafted reply to send for %s", c.ID)
	}

	if w.mailbox == nil {
		return nil, eris.New("worker: no mailbox configured")
	}
	if err := w.mailbox.Send(ctx, msg.ExternalID, msg.Reply); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c.Status.ReplySentAt = &now
	if err := w.archiveCompany(ctx, c); err != nil {
		return nil, err
	}
	if err := w.store.AppendEvent(ctx, c.ID, model.EventReplySent, ""); err != nil {
		zap.L().Warn("worker: append reply event failed",
			zap.String("company_id", c.ID), zap.Error(err))
	}
	return model.Result{"company_id": c.ID, "message_id": msg.ID}, nil
}

func (w *Worker) handleIgnoreAndArchive(ctx context.Context, task *model.Task) (model.Result, error) {
	args, err := decodeArgs[model.CompanyIDArgs](task)
	if err != nil {
		return nil, err
	}
	c, err := w.mustGetCompany(ctx, args.CompanyID)
	if err != nil {
		return nil, err
	}
	if err := w.archiveCompany(ctx, c); err != nil {
		return nil, err
	}
	return model.Result{"company_id": c.ID}, nil
}

func (w *Worker) handleMerge(ctx context.Context, task *model.Task) (model.Result, error) {
	args, err := decodeArgs[model.MergeArgs](task)
	if err != nil {
		return nil, err
	}

	merged, err := w.store.MergeCompanies(ctx, args.CanonicalID, args.DuplicateID)
	if err != nil {
		return nil, err
	}
	if !merged {
		return nil, eris.Errorf("worker: merge aborted, %s or %s does not exist",
			args.CanonicalID, args.DuplicateID)
	}

	if err := w.store.AppendEvent(ctx, args.CanonicalID, model.EventMerged,
		"absorbed "+args.DuplicateID); err != nil {
		zap.L().Warn("worker: append merge event failed",
			zap.String("company_id", args.CanonicalID), zap.Error(err))
	}
	return model.Result{
		"canonical_id": args.CanonicalID,
		"duplicate_id": args.DuplicateID,
	}, nil
}

// archiveCompany stamps ArchivedAt, archives the mail thread, and writes
// the audit event.
func (w *Worker) archiveCompany(ctx context.Context, c *model.Company) error {
	now := time.Now().UTC()
	c.Status.ArchivedAt = &now
	if err := w.store.UpdateCompany(ctx, c); err != nil {
		return err
	}
	if err := w.store.ArchiveMessages(ctx, c.ID); err != nil {
		return err
	}
	if err := w.store.AppendEvent(ctx, c.ID, model.EventArchived, ""); err != nil {
		zap.L().Warn("worker: append archive event failed",
			zap.String("company_id", c.ID), zap.Error(err))
	}
	return nil
}

func (w *Worker) mustGetCompany(ctx context.Context, id string) (*model.Company, error) {
	c, err := w.store.GetCompany(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil || c.Deleted() {
		return nil, eris.Errorf("worker: company not found: %s", id)
	}
	return c, nil
}
