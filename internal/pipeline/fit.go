package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/research-worker/internal/model"
	"github.com/sells-group/research-worker/pkg/claude"
)

// FitEvaluator decides whether a company is worth the expensive contact
// discovery step.
type FitEvaluator interface {
	Evaluate(ctx context.Context, c *model.Company) (model.FitCategory, float64, error)
}

const fitSystemPrompt = `You judge whether a company is a good match for
senior software engineering outreach. Given the company's research facts,
return JSON: {"category": "good"|"neutral"|"poor", "confidence": 0.0-1.0}.
Respond with JSON only.`

// ClaudeFitEvaluator scores fit with a language model call.
type ClaudeFitEvaluator struct {
	client    claude.Client
	model     string
	maxTokens int64
}

// NewClaudeFitEvaluator creates the production evaluator.
func NewClaudeFitEvaluator(client claude.Client, model string, maxTokens int64) *ClaudeFitEvaluator {
	return &ClaudeFitEvaluator{client: client, model: model, maxTokens: maxTokens}
}

type fitVerdict struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

func (e *ClaudeFitEvaluator) Evaluate(ctx context.Context, c *model.Company) (model.FitCategory, float64, error) {
	details, err := json.Marshal(c.Details)
	if err != nil {
		return "", 0, eris.Wrap(err, "pipeline: encode details for fit prompt")
	}

	verdict, err := claude.ExtractJSON[fitVerdict](ctx, e.client, claude.MessageRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System:    fitSystemPrompt,
		Messages: []claude.Message{{
			Role:    "user",
			Content: "Company: " + c.Name + "\nFacts: " + string(details),
		}},
	})
	if err != nil {
		return "", 0, err
	}

	switch model.FitCategory(verdict.Category) {
	case model.FitGood, model.FitNeutral, model.FitPoor:
		return model.FitCategory(verdict.Category), verdict.Confidence, nil
	default:
		return "", 0, eris.Errorf("pipeline: model returned unknown fit category %q", verdict.Category)
	}
}
