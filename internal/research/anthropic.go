package research

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/auctionintel/leadfinder/internal/resilience"
	"github.com/auctionintel/leadfinder/pkg/anthropic"
)

// AnthropicCaller runs research requests against the Anthropic Messages API
// with the server-side web search tool enabled.
type AnthropicCaller struct {
	client anthropic.Client
	model  string

	// CacheSystemPrompt marks the system block for server-side prompt
	// caching. Worth it when many identifiers share a job.
	CacheSystemPrompt bool
}

// NewAnthropicCaller wires a pkg/anthropic client as the research capability.
func NewAnthropicCaller(client anthropic.Client, model string) *AnthropicCaller {
	return &AnthropicCaller{client: client, model: model, CacheSystemPrompt: true}
}

// Invoke sends one research prompt and returns the concatenated text output.
// Provider failures are classified: 429 becomes RateLimitedError, 5xx and
// 408 become transient, everything else is returned as-is (fatal upstream).
func (a *AnthropicCaller) Invoke(ctx context.Context, req Request) (string, error) {
	msgReq := anthropic.MessageRequest{
		Model:            a.model,
		MaxTokens:        req.MaxTokens,
		WebSearchMaxUses: req.MaxSearches,
		Messages: []anthropic.Message{
			{Role: "user", Content: req.Prompt},
		},
	}
	if req.System != "" {
		if a.CacheSystemPrompt {
			msgReq.System = anthropic.BuildCachedSystemBlocks(req.System)
		} else {
			msgReq.System = []anthropic.SystemBlock{{Text: req.System}}
		}
	}

	resp, err := a.client.CreateMessage(ctx, msgReq)
	if err != nil {
		return "", classifyAPIError(err)
	}

	resp.Usage.LogCost(a.model, req.Phase)
	return resp.Text(), nil
}

func classifyAPIError(err error) error {
	status, ok := anthropic.APIStatusCode(err)
	if !ok {
		// Network-level failures (no HTTP response) are worth retrying.
		return resilience.NewTransientError(eris.Wrap(err, "research: anthropic call"), 0)
	}
	switch {
	case status == http.StatusTooManyRequests:
		return &RateLimitedError{Err: err}
	case resilience.IsTransientHTTPStatus(status):
		return resilience.NewTransientError(err, status)
	default:
		return eris.Wrap(err, "research: anthropic call")
	}
}
