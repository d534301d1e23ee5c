package runner

import (
	"context"

	"github.com/if001/trikernel/internal/domain/task"
	kerrors "github.com/if001/trikernel/internal/errors"
	"github.com/if001/trikernel/internal/logging"
)

const defaultToolLoopSteps = 8

// ToolLoop iterates model and tool round trips until the model answers
// without requesting tools, bounded by a step budget.
type ToolLoop struct {
	// MaxSteps bounds the number of model round trips (default 8).
	MaxSteps int
}

// NewToolLoop returns the tool-loop strategy with the given budget.
func NewToolLoop(maxSteps int) *ToolLoop {
	if maxSteps <= 0 {
		maxSteps = defaultToolLoopSteps
	}
	return &ToolLoop{MaxSteps: maxSteps}
}

func (r *ToolLoop) Run(ctx context.Context, t *task.Task, rc Context) RunResult {
	message := taskMessage(t)
	if message == "" {
		return missingMessage()
	}
	logger := logging.OrNop(rc.Logger)
	messages := append(historyMessages(ctx, rc), Message{Role: "user", Content: message})
	var tools []ToolSpec
	if rc.Tools != nil {
		tools = rc.Tools.List(ctx)
	}
	for step := 0; step < r.MaxSteps; step++ {
		response, err := rc.LLM.Generate(ctx, Request{Messages: messages, Tools: tools})
		if err != nil {
			return Failed(kerrors.Payload(kerrors.CodeRunnerException, err.Error()))
		}
		if len(response.ToolCalls) == 0 || rc.Tools == nil {
			return Done(response.Text)
		}
		logger.Debug("tool loop step %d: %d tool call(s)", step+1, len(response.ToolCalls))
		if response.Text != "" {
			messages = append(messages, Message{Role: "assistant", Content: response.Text})
		}
		messages = append(messages, Message{Role: "tool", Content: invokeTools(ctx, rc, response.ToolCalls)})
	}
	return Failed(kerrors.Payload(kerrors.CodeBudgetExceeded, "tool loop step budget exhausted"))
}
