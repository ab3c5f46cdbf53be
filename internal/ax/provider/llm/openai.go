package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/axrun/ax/common/retry"
	"github.com/axrun/ax/internal/ax/axerr"
)

const defaultOpenAIBase = "https://api.openai.com/v1"

// OpenAIConfig configures an OpenAI-chat-completions-compatible backend.
// Grounded on Ruriko's internal/gitai/llm.OpenAIConfig; AX points
// BaseURL at the credential-injecting proxy rather than the real API
// directly, so APIKey here is the dummy value the proxy expects and swaps
// for the real upstream credential.
type OpenAIConfig struct {
	APIKeyEnvValue string // dummy credential the proxy recognizes and swaps out
	BaseURL        string // defaults to the real OpenAI API if empty
	Model          string
	Timeout        time.Duration
}

// openAIProvider implements Provider over the OpenAI chat completions
// wire format, translating its single JSON response into the router's
// Chunk stream (one "text" chunk, one "tool_use" chunk per call, then a
// terminal "done" chunk).
type openAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI returns a Provider backed by an OpenAI-compatible endpoint.
func NewOpenAI(cfg OpenAIConfig) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBase
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &openAIProvider{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (p *openAIProvider) Name() string { return "openai:" + p.cfg.Model }

type oaiRequest struct {
	Model     string       `json:"model"`
	Messages  []oaiMessage `json:"messages"`
	Tools     []byte       `json:"-"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaiResponseMessage struct {
	Content   string        `json:"content"`
	ToolCalls []oaiToolCall `json:"tool_calls,omitempty"`
}

type oaiResponse struct {
	Choices []struct {
		Message      oaiResponseMessage `json:"message"`
		FinishReason string             `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// wireRequest marshals the request including the raw tools array passed
// through verbatim, since AX's IPC layer already validated its shape
// against the llm.call schema and there is nothing to gain by
// unmarshal-then-remarshal here.
func (p *openAIProvider) wireRequest(messages []Message, tools []byte) ([]byte, error) {
	oaiMessages := make([]oaiMessage, 0, len(messages))
	for _, m := range messages {
		oaiMessages = append(oaiMessages, oaiMessage{Role: m.Role, Content: m.Content})
	}

	fields := map[string]interface{}{
		"model":    p.cfg.Model,
		"messages": oaiMessages,
	}
	if len(tools) > 0 {
		var raw interface{}
		if err := json.Unmarshal(tools, &raw); err != nil {
			return nil, fmt.Errorf("openai: decode tools: %w", err)
		}
		fields["tools"] = raw
	}
	return json.Marshal(fields)
}

// isRetryableOpenAIError drives retry.Config.ShouldRetry: only a
// transient Upstream classification (5xx, 429) earns a retry, matching
// axerr.Kind.IsRetryable; UpstreamPermanent (401/404/400) and decode
// failures are not retried.
func isRetryableOpenAIError(err error) bool {
	var axErr *axerr.Error
	if !errors.As(err, &axErr) {
		return false
	}
	return axErr.Kind.IsRetryable()
}

func (p *openAIProvider) Complete(ctx context.Context, messages []Message, tools []byte) (<-chan Chunk, error) {
	body, err := p.wireRequest(messages, tools)
	if err != nil {
		return nil, axerr.Wrap(axerr.Internal, "openai: build request", err)
	}

	var respBody []byte
	var statusCode int
	sendErr := retry.Do(ctx, retry.Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		ShouldRetry:  isRetryableOpenAIError,
	}, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return axerr.Wrap(axerr.Internal, "openai: build http request", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKeyEnvValue)

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return axerr.Wrap(axerr.Upstream, "openai: request failed", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return axerr.Wrap(axerr.Upstream, "openai: read response", err)
		}
		respBody, statusCode = data, resp.StatusCode

		if statusCode == http.StatusUnauthorized || statusCode == http.StatusNotFound || statusCode == http.StatusBadRequest {
			return axerr.Wrap(axerr.UpstreamPermanent, fmt.Sprintf("openai: status %d", statusCode), fmt.Errorf("%s", data))
		}
		if statusCode >= 500 || statusCode == http.StatusTooManyRequests {
			return axerr.Wrap(axerr.Upstream, fmt.Sprintf("openai: status %d", statusCode), fmt.Errorf("%s", data))
		}
		return nil
	})
	if sendErr != nil {
		return nil, sendErr
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, axerr.Wrap(axerr.Upstream, "openai: decode response", err)
	}
	if oaiResp.Error != nil {
		return nil, axerr.Wrap(axerr.UpstreamPermanent, "openai: api error", fmt.Errorf("%s: %s", oaiResp.Error.Type, oaiResp.Error.Message))
	}
	if len(oaiResp.Choices) == 0 {
		return nil, axerr.Wrap(axerr.Upstream, "openai: no choices in response", fmt.Errorf("status %d", statusCode))
	}

	choice := oaiResp.Choices[0]
	out := make(chan Chunk, 4+len(choice.Message.ToolCalls))
	if choice.Message.Content != "" {
		out <- Chunk{Kind: "text", Text: choice.Message.Content}
	}
	for _, tc := range choice.Message.ToolCalls {
		out <- Chunk{Kind: "tool_use", ToolUseID: tc.ID, ToolName: tc.Function.Name, ToolArgsRaw: json.RawMessage(tc.Function.Arguments)}
	}
	out <- Chunk{Kind: "done", InputTokens: oaiResp.Usage.PromptTokens, OutputTokens: oaiResp.Usage.CompletionTokens}
	close(out)
	return out, nil
}
