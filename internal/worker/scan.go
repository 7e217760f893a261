package worker

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-worker/internal/model"
)

// InboundMail is one item fetched from the mailbox boundary. Company names
// the sender's organization when the mailbox adapter could determine it.
type InboundMail struct {
	ExternalID string
	From       string
	Company    string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// Mailbox is the mail transport boundary. The worker never talks to a mail
// provider directly.
type Mailbox interface {
	// Fetch returns the inbox items the provider currently holds.
	Fetch(ctx context.Context) ([]InboundMail, error)
	// Send delivers a reply on the thread identified by inReplyTo.
	Send(ctx context.Context, inReplyTo, body string) error
}

// handleScanMailbox pulls new inbound mail, stores each unseen message
// under its resolved company, and enqueues a research task for it.
func (w *Worker) handleScanMailbox(ctx context.Context, task *model.Task) (model.Result, error) {
	if w.mailbox == nil {
		return nil, eris.New("worker: no mailbox configured")
	}

	items, err := w.mailbox.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	var stored, enqueued, skipped int
	for _, item := range items {
		seen, err := w.store.HasMessage(ctx, item.ExternalID)
		if err != nil {
			return nil, err
		}
		if seen {
			skipped++
			continue
		}

		name := item.Company
		if name == "" {
			name = item.From
		}
		c, created, err := w.resolver.FindOrCreate(ctx, name)
		if err != nil {
			zap.L().Warn("worker: could not resolve sender, skipping mail",
				zap.String("external_id", item.ExternalID),
				zap.String("from", item.From),
				zap.Error(err),
			)
			skipped++
			continue
		}

		msg := &model.Message{
			CompanyID:  c.ID,
			Direction:  "inbound",
			ExternalID: item.ExternalID,
			Subject:    item.Subject,
			Body:       item.Body,
			ReceivedAt: item.ReceivedAt,
		}
		if err := w.store.CreateMessage(ctx, msg); err != nil {
			return nil, err
		}
		stored++

		// Fresh companies get researched off the back of their first mail.
		if created || c.Status.ResearchCompletedAt == nil {
			if _, err := w.store.CreateTask(ctx, model.TaskResearch, map[string]any{
				"company_id": c.ID,
				"content":    item.Subject + "\n\n" + item.Body,
			}); err != nil {
				return nil, err
			}
			enqueued++
		}
	}

	return model.Result{
		"fetched":  len(items),
		"stored":   stored,
		"enqueued": enqueued,
		"skipped":  skipped,
	}, nil
}
