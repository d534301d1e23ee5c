package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/if001/trikernel/internal/runner"
)

func newChatServer(t *testing.T, handler func(req chatRequest) any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NoError(t, json.NewEncoder(w).Encode(handler(req)))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOllamaGenerateText(t *testing.T) {
	server := newChatServer(t, func(req chatRequest) any {
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "be brief", req.Messages[0].Content)
		assert.Equal(t, "hello", req.Messages[1].Content)
		return chatResponse{Message: chatMessage{Role: "assistant", Content: "hi there"}}
	})

	client := NewOllama(server.URL, "test-model")
	resp, err := client.Generate(context.Background(), runner.Request{
		System:   "be brief",
		Messages: []runner.Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Text)
	assert.Empty(t, resp.ToolCalls)
}

func TestOllamaGenerateToolCalls(t *testing.T) {
	server := newChatServer(t, func(req chatRequest) any {
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "echo", req.Tools[0].Function.Name)
		var call chatToolCall
		call.Function.Name = "echo"
		call.Function.Arguments = json.RawMessage(`{"text": "hi"}`)
		return chatResponse{Message: chatMessage{Role: "assistant", ToolCalls: []chatToolCall{call}}}
	})

	client := NewOllama(server.URL, "test-model")
	resp, err := client.Generate(context.Background(), runner.Request{
		Messages: []runner.Message{{Role: "user", Content: "use the tool"}},
		Tools:    []runner.ToolSpec{{Name: "echo", Description: "echoes"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "echo", resp.ToolCalls[0].Name)
	assert.Equal(t, "hi", resp.ToolCalls[0].Args["text"])
	assert.JSONEq(t, `{"text": "hi"}`, resp.ToolCalls[0].RawArgs)
}

func TestOllamaErrorResponse(t *testing.T) {
	server := newChatServer(t, func(chatRequest) any {
		return chatResponse{Error: "model not found"}
	})

	client := NewOllama(server.URL, "missing")
	_, err := client.Generate(context.Background(), runner.Request{
		Messages: []runner.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestOllamaHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	client := NewOllama(server.URL, "test-model")
	_, err := client.Generate(context.Background(), runner.Request{
		Messages: []runner.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestDecodeArguments(t *testing.T) {
	t.Run("object", func(t *testing.T) {
		args := decodeArguments(json.RawMessage(`{"a": 1}`))
		require.NotNil(t, args)
		assert.EqualValues(t, 1, args["a"])
	})

	t.Run("json-encoded string", func(t *testing.T) {
		args := decodeArguments(json.RawMessage(`"{\"a\": 1}"`))
		require.NotNil(t, args)
		assert.EqualValues(t, 1, args["a"])
	})

	t.Run("empty", func(t *testing.T) {
		args := decodeArguments(nil)
		require.NotNil(t, args)
		assert.Empty(t, args)
	})

	t.Run("undecodable falls back to raw", func(t *testing.T) {
		assert.Nil(t, decodeArguments(json.RawMessage(`[1, 2]`)))
	})
}
