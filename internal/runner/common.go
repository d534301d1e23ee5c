package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/if001/trikernel/internal/domain/task"
	kerrors "github.com/if001/trikernel/internal/errors"
	"github.com/if001/trikernel/internal/logging"
)

const historyDepth = 5

// taskMessage extracts the instruction text from a task payload. Main-path
// tasks carry user_message, work tasks carry message.
func taskMessage(t *task.Task) string {
	if msg := t.Payload.UserMessage(); msg != "" {
		return msg
	}
	return t.Payload.Message()
}

// missingMessage is the shared guard for runners handed an empty task.
func missingMessage() RunResult {
	return Failed(kerrors.Payload(kerrors.CodeMissingMessage, "task has no message"))
}

// historyMessages loads the recent conversation as chat messages. Only the
// main path sees history; workers run standalone.
func historyMessages(ctx context.Context, rc Context) []Message {
	if rc.RunnerID != "main" || rc.State == nil || rc.State.Turns == nil {
		return nil
	}
	conversationID := rc.ConversationID
	if conversationID == "" {
		conversationID = "default"
	}
	turns, err := rc.State.Turns.ListRecent(ctx, conversationID, historyDepth)
	if err != nil {
		logging.OrNop(rc.Logger).Warn("history load failed: %v", err)
		return nil
	}
	var messages []Message
	for _, turn := range turns {
		messages = append(messages, Message{Role: "user", Content: turn.UserMessage})
		if turn.AssistantMessage != "" {
			messages = append(messages, Message{Role: "assistant", Content: turn.AssistantMessage})
		}
	}
	return messages
}

// decodeToolArgs returns the decoded arguments of a tool call, repairing
// near-JSON model output before giving up.
func decodeToolArgs(call ToolCall) (map[string]any, error) {
	if call.Args != nil {
		return call.Args, nil
	}
	raw := strings.TrimSpace(call.RawArgs)
	if raw == "" {
		return map[string]any{}, nil
	}
	args := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("tool args unparseable: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, fmt.Errorf("tool args unparseable after repair: %w", err)
	}
	return args, nil
}

// invokeTools runs every tool call and renders the results as a tool-role
// message body. Tool errors are reported back to the model, not raised.
func invokeTools(ctx context.Context, rc Context, calls []ToolCall) string {
	logger := logging.OrNop(rc.Logger)
	var results []map[string]any
	for _, call := range calls {
		args, err := decodeToolArgs(call)
		if err != nil {
			results = append(results, map[string]any{
				"tool": call.Name, "error_type": "invalid_args", "message": err.Error(),
			})
			continue
		}
		output, err := rc.Tools.Invoke(ctx, call.Name, args)
		if err != nil {
			logger.Warn("tool %s failed: %v", call.Name, err)
			results = append(results, map[string]any{
				"tool": call.Name, "error_type": "tool_error", "message": err.Error(),
			})
			continue
		}
		results = append(results, map[string]any{"tool": call.Name, "result": output})
	}
	rendered, err := json.Marshal(results)
	if err != nil {
		return fmt.Sprintf("%v", results)
	}
	return string(rendered)
}
