package claude

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	text string
	err  error
}

func (s stubClient) CreateMessage(context.Context, MessageRequest) (*MessageResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &MessageResponse{Text: s.text}, nil
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  \n```json\n{\"a\":1}\n```\n ", `{"a":1}`},
		{"unterminated fence", "```json\n{\"a\":1}", `{"a":1}`},
		{"backticks inside are kept", "{\"note\":\"use `go test`\"}", "{\"note\":\"use `go test`\"}"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFence(tt.in))
		})
	}
}

func TestExtractJSON(t *testing.T) {
	ctx := context.Background()

	type verdict struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}

	t.Run("decodes fenced output", func(t *testing.T) {
		c := stubClient{text: "```json\n{\"category\":\"good\",\"confidence\":0.9}\n```"}
		got, err := ExtractJSON[verdict](ctx, c, MessageRequest{})
		require.NoError(t, err)
		assert.Equal(t, "good", got.Category)
		assert.InDelta(t, 0.9, got.Confidence, 0.001)
	})

	t.Run("non-JSON output is an error", func(t *testing.T) {
		c := stubClient{text: "Sure! Here is the analysis you asked for."}
		_, err := ExtractJSON[verdict](ctx, c, MessageRequest{})
		assert.ErrorContains(t, err, "decode model output")
	})

	t.Run("transport error propagates", func(t *testing.T) {
		c := stubClient{err: errors.New("overloaded")}
		_, err := ExtractJSON[verdict](ctx, c, MessageRequest{})
		assert.ErrorContains(t, err, "overloaded")
	})
}
