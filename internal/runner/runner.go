// Package runner defines the execution strategy contract: a Runner turns a
// claimed task into one RunResult. The scheduler treats every strategy as an
// opaque black box; strategies differ only in how many model and tool round
// trips they spend before producing the result.
package runner

import (
	"context"

	"github.com/if001/trikernel/internal/domain/task"
	"github.com/if001/trikernel/internal/logging"
	"github.com/if001/trikernel/internal/state"
)

// Runner executes one task to completion.
type Runner interface {
	Run(ctx context.Context, t *task.Task, rc Context) RunResult
}

// Func adapts a plain function to the Runner interface.
type Func func(ctx context.Context, t *task.Task, rc Context) RunResult

// Run implements Runner.
func (f Func) Run(ctx context.Context, t *task.Task, rc Context) RunResult {
	return f(ctx, t, rc)
}

// Context carries the shared kernel handles into a runner invocation.
type Context struct {
	// RunnerID is "main" on the synchronous path, "worker" on the work path.
	RunnerID string
	// ConversationID scopes the history the main path injects (default
	// "default").
	ConversationID string
	State          *state.Kernel
	Tools          ToolAPI
	LLM            LLM
	// ToolLLM, when set, is a cheaper model handed to tools that need
	// generation of their own.
	ToolLLM LLM
	Stream  bool
	Logger  logging.Logger
}

// RunResult is the single outcome of a runner invocation.
type RunResult struct {
	UserOutput   string
	TaskState    task.State // done or failed
	ArtifactRefs []string
	Error        map[string]any
	StreamChunks []string
}

// Done builds a successful result.
func Done(output string, refs ...string) RunResult {
	return RunResult{UserOutput: output, TaskState: task.StateDone, ArtifactRefs: refs}
}

// Failed builds a failed result carrying a coded error payload.
func Failed(info map[string]any) RunResult {
	return RunResult{TaskState: task.StateFailed, Error: info}
}

// Message is one chat message exchanged with the model.
type Message struct {
	Role    string `json:"role"` // system | user | assistant | tool
	Content string `json:"content"`
}

// Request is a model generation request.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolSpec
}

// ToolCall is a model-requested tool invocation. Args holds the decoded
// arguments when the model produced valid JSON; RawArgs keeps the original
// text so malformed output can still be repaired downstream.
type ToolCall struct {
	Name    string
	Args    map[string]any
	RawArgs string
}

// Response is a model generation outcome.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// LLM is the language-model port. Implementations live outside the core;
// the fabric only depends on this contract.
type LLM interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ToolSpec describes an invokable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolAPI is the tool registry port.
type ToolAPI interface {
	List(ctx context.Context) []ToolSpec
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
}
