package claude

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// StripCodeFence removes a surrounding markdown code fence from model
// output, if present.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}

// ExtractJSON sends a prompt expecting a JSON object back and decodes it
// into T. Model output wrapped in a code fence is unwrapped first.
func ExtractJSON[T any](ctx context.Context, c Client, req MessageRequest) (T, error) {
	var zero T

	resp, err := c.CreateMessage(ctx, req)
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal([]byte(StripCodeFence(resp.Text)), &out); err != nil {
		return zero, eris.Wrap(err, "claude: decode model output")
	}
	return out, nil
}
