package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/research-worker/internal/cache"
	"github.com/sells-group/research-worker/internal/model"
	"github.com/sells-group/research-worker/pkg/claude"
)

// MessageReader is the slice of the store the reply generator needs.
type MessageReader interface {
	LatestInboundMessage(ctx context.Context, companyID string) (*model.Message, error)
}

const replySystemPrompt = `You draft a short, professional reply to an
inbound recruiting message, on behalf of a senior software engineer. Use the
research context to ask one informed question. Plain text only.`

// ReplyGenerator drafts replies to inbound messages using the accumulated
// research context.
type ReplyGenerator struct {
	messages  MessageReader
	cache     *cache.Cache
	client    claude.Client
	model     string
	maxTokens int64
}

// NewReplyGenerator creates a ReplyGenerator.
func NewReplyGenerator(messages MessageReader, c *cache.Cache, client claude.Client, model string, maxTokens int64) *ReplyGenerator {
	return &ReplyGenerator{
		messages:  messages,
		cache:     c,
		client:    client,
		model:     model,
		maxTokens: maxTokens,
	}
}

// Generate drafts a reply to the company's latest inbound message. The
// retrieval context and the draft are cached as separate steps so a prompt
// tweak only recomputes the draft.
func (g *ReplyGenerator) Generate(ctx context.Context, c *model.Company) (*model.Message, string, error) {
	msg, err := g.messages.LatestInboundMessage(ctx, c.ID)
	if err != nil {
		return nil, "", err
	}
	if msg == nil {
		return nil, "", eris.Errorf("pipeline: no inbound message for %s", c.ID)
	}

	type contextInput struct {
		CompanyID string               `json:"company_id"`
		Details   model.CompanyDetails `json:"details"`
	}
	retrieval, err := cache.Cached(ctx, g.cache, cache.StepRetrievalContext, "build-retrieval-context",
		contextInput{CompanyID: c.ID, Details: c.Details},
		func(ctx context.Context, in contextInput) (string, error) {
			return buildRetrievalContext(c), nil
		})
	if err != nil {
		return nil, "", err
	}

	type replyInput struct {
		MessageID int64  `json:"message_id"`
		Context   string `json:"context"`
	}
	reply, err := cache.Cached(ctx, g.cache, cache.StepReplyGeneration, "reply-generation",
		replyInput{MessageID: msg.ID, Context: retrieval},
		func(ctx context.Context, in replyInput) (string, error) {
			resp, err := g.client.CreateMessage(ctx, claude.MessageRequest{
				Model:     g.model,
				MaxTokens: g.maxTokens,
				System:    replySystemPrompt,
				Messages: []claude.Message{{
					Role: "user",
					Content: "Research context:\n" + in.Context +
						"\n\nInbound message:\nSubject: " + msg.Subject + "\n\n" + msg.Body,
				}},
			})
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(resp.Text), nil
		})
	if err != nil {
		return nil, "", err
	}
	return msg, reply, nil
}

// buildRetrievalContext flattens the research facts into prompt text.
func buildRetrievalContext(c *model.Company) string {
	var b strings.Builder
	b.WriteString("Company: " + c.Name + "\n")
	d := c.Details
	writeIf(&b, "Website", d.Website)
	writeIf(&b, "Industry", d.Industry)
	writeIf(&b, "Headcount", d.Headcount)
	writeIf(&b, "HQ", d.HQLocation)
	writeIf(&b, "Remote", d.Remote)
	writeIf(&b, "Funding", d.Funding)
	writeIf(&b, "Description", d.Description)
	if len(d.TechStack) > 0 {
		b.WriteString("Tech stack: " + strings.Join(d.TechStack, ", ") + "\n")
	}
	writeIf(&b, "Comparable role", d.ComparableRole)
	if d.CompSamples > 0 {
		writeIf(&b, "Compensation", compSummary(d))
	}
	return b.String()
}

func compSummary(d model.CompanyDetails) string {
	return fmt.Sprintf("%s %.0f base / %.0f total (avg of %d samples)",
		d.CompCurrency, d.CompBaseAvg, d.CompTotalAvg, d.CompSamples)
}

func writeIf(b *strings.Builder, label, value string) {
	if value != "" {
		b.WriteString(label + ": " + value + "\n")
	}
}
