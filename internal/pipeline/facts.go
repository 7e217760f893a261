package pipeline

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/research-worker/pkg/claude"
)

// FactsInput is what the basic-facts step has to work with. At least one
// field must carry searchable text.
type FactsInput struct {
	Name      string `json:"name,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Facts is the structured output of the basic-facts step.
type Facts struct {
	Name           string   `json:"name"`
	AlternateNames []string `json:"alternate_names,omitempty"`
	Website        string   `json:"website,omitempty"`
	Description    string   `json:"description,omitempty"`
	Industry       string   `json:"industry,omitempty"`
	Headcount      string   `json:"headcount,omitempty"`
	HQLocation     string   `json:"hq_location,omitempty"`
	Remote         string   `json:"remote,omitempty"`
	TechStack      []string `json:"tech_stack,omitempty"`
	Funding        string   `json:"funding,omitempty"`
	ComparableRole string   `json:"comparable_role,omitempty"`
}

// FactsExtractor turns free-text input into structured company facts.
type FactsExtractor interface {
	ExtractFacts(ctx context.Context, in FactsInput) (*Facts, error)
}

const factsSystemPrompt = `You are a research assistant extracting company facts.
Given a company name, URL, or free text about a company, return a JSON object
with these fields (omit any you cannot determine): name, alternate_names,
website, description, industry, headcount, hq_location, remote, tech_stack,
funding, comparable_role. "comparable_role" is the job title at this company
most comparable to a senior software engineer. Respond with JSON only.`

// ClaudeFactsExtractor extracts facts with a language model call.
type ClaudeFactsExtractor struct {
	client    claude.Client
	model     string
	maxTokens int64
}

// NewClaudeFactsExtractor creates the production extractor.
func NewClaudeFactsExtractor(client claude.Client, model string, maxTokens int64) *ClaudeFactsExtractor {
	return &ClaudeFactsExtractor{client: client, model: model, maxTokens: maxTokens}
}

func (e *ClaudeFactsExtractor) ExtractFacts(ctx context.Context, in FactsInput) (*Facts, error) {
	prompt := buildFactsPrompt(in)
	if prompt == "" {
		return nil, eris.New("pipeline: no searchable text in task input")
	}

	facts, err := claude.ExtractJSON[Facts](ctx, e.client, claude.MessageRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System:    factsSystemPrompt,
		Messages:  []claude.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, err
	}
	facts.Name = strings.TrimSpace(facts.Name)
	return &facts, nil
}

func buildFactsPrompt(in FactsInput) string {
	var b strings.Builder
	if in.Name != "" {
		b.WriteString("Company name: " + in.Name + "\n")
	}
	if in.SourceURL != "" {
		b.WriteString("Source URL: " + in.SourceURL + "\n")
	}
	if in.Content != "" {
		b.WriteString("\n" + in.Content + "\n")
	}
	return strings.TrimSpace(b.String())
}
