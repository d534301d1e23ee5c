package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/if001/trikernel/internal/domain/task"
	kerrors "github.com/if001/trikernel/internal/errors"
	"github.com/if001/trikernel/internal/logging"
)

const defaultPDCACycles = 4

// PDCA runs plan/do/check/act cycles: plan the next step, execute it with
// tools, check whether the goal is met, and either finish or continue. Each
// cycle spends three model round trips; the cycle budget bounds the task.
type PDCA struct {
	MaxCycles int
	// StepBudget bounds tool round trips inside one do-step.
	StepBudget int
}

// NewPDCA returns the plan/do/check/act strategy.
func NewPDCA(maxCycles int) *PDCA {
	if maxCycles <= 0 {
		maxCycles = defaultPDCACycles
	}
	return &PDCA{MaxCycles: maxCycles, StepBudget: defaultToolLoopSteps}
}

func (r *PDCA) Run(ctx context.Context, t *task.Task, rc Context) RunResult {
	goal := taskMessage(t)
	if goal == "" {
		return missingMessage()
	}
	logger := logging.OrNop(rc.Logger)
	var tools []ToolSpec
	if rc.Tools != nil {
		tools = rc.Tools.List(ctx)
	}
	history := historyMessages(ctx, rc)
	var notes []string

	for cycle := 0; cycle < r.MaxCycles; cycle++ {
		stepGoal, err := r.plan(ctx, rc, goal, notes, history)
		if err != nil {
			return Failed(kerrors.Payload(kerrors.CodeRunnerException, err.Error()))
		}
		logger.Debug("pdca cycle %d plan: %s", cycle+1, stepGoal)

		outcome, err := r.do(ctx, rc, stepGoal, tools)
		if err != nil {
			return Failed(kerrors.Payload(kerrors.CodeRunnerException, err.Error()))
		}
		notes = append(notes, fmt.Sprintf("step: %s\noutcome: %s", stepGoal, outcome))

		done, summary, err := r.check(ctx, rc, goal, notes)
		if err != nil {
			return Failed(kerrors.Payload(kerrors.CodeRunnerException, err.Error()))
		}
		if done {
			return Done(summary)
		}
	}
	return Failed(kerrors.Payload(kerrors.CodeBudgetExceeded, "pdca cycle budget exhausted"))
}

func (r *PDCA) plan(ctx context.Context, rc Context, goal string, notes []string, history []Message) (string, error) {
	prompt := fmt.Sprintf(
		"Goal: %s\n\nProgress so far:\n%s\n\nState the single next step that moves the goal forward. Reply with the step only.",
		goal, notesBlock(notes))
	messages := append(append([]Message(nil), history...), Message{Role: "user", Content: prompt})
	response, err := rc.LLM.Generate(ctx, Request{Messages: messages})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Text), nil
}

func (r *PDCA) do(ctx context.Context, rc Context, stepGoal string, tools []ToolSpec) (string, error) {
	messages := []Message{{Role: "user", Content: "Execute this step and report the outcome: " + stepGoal}}
	for step := 0; step < r.StepBudget; step++ {
		response, err := rc.LLM.Generate(ctx, Request{Messages: messages, Tools: tools})
		if err != nil {
			return "", err
		}
		if len(response.ToolCalls) == 0 || rc.Tools == nil {
			return response.Text, nil
		}
		if response.Text != "" {
			messages = append(messages, Message{Role: "assistant", Content: response.Text})
		}
		messages = append(messages, Message{Role: "tool", Content: invokeTools(ctx, rc, response.ToolCalls)})
	}
	return "", fmt.Errorf("do-step budget exhausted for %q", stepGoal)
}

func (r *PDCA) check(ctx context.Context, rc Context, goal string, notes []string) (bool, string, error) {
	prompt := fmt.Sprintf(
		"Goal: %s\n\nProgress:\n%s\n\nIf the goal is met, reply DONE followed by a summary for the user. Otherwise reply CONTINUE.",
		goal, notesBlock(notes))
	response, err := rc.LLM.Generate(ctx, Request{Messages: []Message{{Role: "user", Content: prompt}}})
	if err != nil {
		return false, "", err
	}
	text := strings.TrimSpace(response.Text)
	if rest, ok := strings.CutPrefix(text, "DONE"); ok {
		return true, strings.TrimSpace(rest), nil
	}
	return false, "", nil
}

func notesBlock(notes []string) string {
	if len(notes) == 0 {
		return "(none)"
	}
	return strings.Join(notes, "\n---\n")
}
