package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/axrun/ax/internal/ax/ipc/server"
	"github.com/axrun/ax/internal/ax/provider/llm"
)

func registerLLM(reg *server.Registry, d Deps) {
	if d.LLM == nil || len(d.Providers) == 0 {
		return
	}

	reg.Register("llm.call", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			Tools       []json.RawMessage `json:"tools"`
			MaxTokens   int                `json:"max_tokens"`
			Temperature float64            `json:"temperature"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("llm.call: %w", err)
		}

		messages := make([]llm.Message, 0, len(req.Messages))
		for _, m := range req.Messages {
			messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
		}

		var toolsRaw []byte
		if len(req.Tools) > 0 {
			raw, err := json.Marshal(req.Tools)
			if err != nil {
				return nil, fmt.Errorf("llm.call: marshal tools: %w", err)
			}
			toolsRaw = raw
		}

		chunks, err := d.LLM.Complete(ctx, d.Providers, messages, toolsRaw)
		if err != nil {
			return nil, err
		}

		type toolCall struct {
			ID   string          `json:"id"`
			Name string          `json:"name"`
			Args json.RawMessage `json:"args"`
		}

		var text string
		var toolCalls []toolCall
		var inputTokens, outputTokens int
		for chunk := range chunks {
			switch chunk.Kind {
			case "text":
				text += chunk.Text
			case "tool_use":
				toolCalls = append(toolCalls, toolCall{ID: chunk.ToolUseID, Name: chunk.ToolName, Args: chunk.ToolArgsRaw})
			case "done":
				inputTokens = chunk.InputTokens
				outputTokens = chunk.OutputTokens
			}
		}

		return map[string]interface{}{
			"text":          text,
			"tool_calls":    toolCalls,
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
		}, nil
	})
}
