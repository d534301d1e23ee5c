// Package llm provides the minimal Ollama chat client used by the CLI. The
// core depends only on the runner.LLM contract; any other provider can be
// substituted behind it.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/if001/trikernel/internal/runner"
)

const defaultTimeout = 5 * time.Minute

// Ollama speaks the Ollama /api/chat endpoint with native tool calling.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama builds a client for the given base URL and model.
func NewOllama(baseURL, model string) *Ollama {
	return &Ollama{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

type chatMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
}

type chatToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error,omitempty"`
}

// Generate implements runner.LLM.
func (o *Ollama) Generate(ctx context.Context, req runner.Request) (*runner.Response, error) {
	payload := chatRequest{Model: o.model, Stream: false}
	if req.System != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: msg.Role, Content: msg.Content})
	}
	for _, spec := range req.Tools {
		var tool chatTool
		tool.Type = "function"
		tool.Function.Name = spec.Name
		tool.Function.Description = spec.Description
		tool.Function.Parameters = spec.Schema
		payload.Tools = append(payload.Tools, tool)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	defer httpResp.Body.Close()
	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: status %d: %s", httpResp.StatusCode, raw)
	}
	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("ollama: %s", decoded.Error)
	}

	response := &runner.Response{Text: decoded.Message.Content}
	for _, call := range decoded.Message.ToolCalls {
		response.ToolCalls = append(response.ToolCalls, runner.ToolCall{
			Name:    call.Function.Name,
			Args:    decodeArguments(call.Function.Arguments),
			RawArgs: string(call.Function.Arguments),
		})
	}
	return response, nil
}

// decodeArguments tolerates the argument shapes models actually emit:
// an object, a JSON-encoded string, or near-JSON needing repair. Returns
// nil when undecodable so the runner's repair path takes over via RawArgs.
func decodeArguments(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	args := map[string]any{}
	if err := json.Unmarshal(raw, &args); err == nil {
		return args
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if repaired, err := jsonrepair.JSONRepair(text); err == nil {
			if err := json.Unmarshal([]byte(repaired), &args); err == nil {
				return args
			}
		}
	}
	return nil
}
