package runner

import (
	"context"
	"fmt"

	"github.com/if001/trikernel/internal/domain/task"
	kerrors "github.com/if001/trikernel/internal/errors"
)

// SingleTurn answers in one model round trip, executing whatever tool calls
// the model requested and folding their output into the reply.
type SingleTurn struct{}

// NewSingleTurn returns the single-turn strategy.
func NewSingleTurn() *SingleTurn { return &SingleTurn{} }

func (r *SingleTurn) Run(ctx context.Context, t *task.Task, rc Context) RunResult {
	message := taskMessage(t)
	if message == "" {
		return missingMessage()
	}
	messages := append(historyMessages(ctx, rc), Message{Role: "user", Content: message})
	var tools []ToolSpec
	if rc.Tools != nil {
		tools = rc.Tools.List(ctx)
	}
	response, err := rc.LLM.Generate(ctx, Request{Messages: messages, Tools: tools})
	if err != nil {
		return Failed(kerrors.Payload(kerrors.CodeRunnerException, err.Error()))
	}
	output := response.Text
	if len(response.ToolCalls) > 0 && rc.Tools != nil {
		toolOutput := invokeTools(ctx, rc, response.ToolCalls)
		if output == "" {
			output = fmt.Sprintf("Tool results: %s", toolOutput)
		}
	}
	return Done(output)
}
