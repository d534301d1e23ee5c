package execution

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/if001/trikernel/internal/async"
	"github.com/if001/trikernel/internal/domain/task"
	kerrors "github.com/if001/trikernel/internal/errors"
	"github.com/if001/trikernel/internal/logging"
	"github.com/if001/trikernel/internal/metrics"
	"github.com/if001/trikernel/internal/runner"
	"github.com/if001/trikernel/internal/state"
)

const stopWorkersJoin = 5 * time.Second

// MessageResult is the outcome of one main-path request.
type MessageResult struct {
	Message      string
	TaskState    task.State
	ArtifactRefs []string
	Error        map[string]any
	StreamChunks []string
}

// Session is the synchronous main-path API. It owns the worker lifecycle:
// StartWorkers spins up the dispatcher, pool, and loop on a background
// goroutine; StopWorkers cancels them and joins with a bounded wait.
type Session struct {
	kernel  *state.Kernel
	run     runner.Runner
	llm     runner.LLM
	toolLLM runner.LLM
	tools   runner.ToolAPI
	cfg     Config
	logger  logging.Logger
	metrics *metrics.Set

	runnerID string

	mu         sync.Mutex
	cancel     context.CancelFunc
	workerDone chan struct{}
}

// NewSession builds the main-path session over the shared kernel.
func NewSession(kernel *state.Kernel, run runner.Runner, llm runner.LLM, toolLLM runner.LLM, tools runner.ToolAPI, cfg Config, logger logging.Logger, set *metrics.Set) *Session {
	return &Session{
		kernel:   kernel,
		run:      run,
		llm:      llm,
		toolLLM:  toolLLM,
		tools:    tools,
		cfg:      cfg.withDefaults(),
		logger:   logging.OrNop(logger),
		metrics:  set,
		runnerID: "main",
	}
}

// SendMessage drives one synchronous request through the task store and the
// runner, bounded by the main runner timeout.
func (s *Session) SendMessage(ctx context.Context, message string, stream bool) MessageResult {
	created, err := s.kernel.Tasks.Create(ctx, task.TypeUserRequest, task.Payload{task.KeyUserMessage: message})
	if err != nil {
		s.logger.Error("create user_request: %v", err)
		return s.failedResult(kerrors.Payload(kerrors.CodeClaimFailed, "failed to create task"))
	}
	turn, err := s.kernel.Turns.AppendUser(ctx, s.cfg.ConversationID, message, created.TaskID)
	if err != nil {
		s.logger.Warn("append user turn: %v", err)
	}

	claimed, err := s.kernel.Tasks.Claim(ctx, task.Filter{TaskID: created.TaskID}, s.runnerID, s.cfg.ClaimTTL)
	if err != nil || claimed == nil {
		s.logger.Error("failed to claim task %s: %v", created.TaskID, err)
		s.failTask(ctx, created.TaskID, kerrors.CodeClaimFailed, "failed to claim task")
		return s.failedResult(kerrors.Payload(kerrors.CodeClaimFailed, "failed to claim task"))
	}
	loaded, err := s.kernel.Tasks.Get(ctx, claimed.TaskID)
	if err != nil || loaded == nil {
		s.logger.Error("failed to load task %s: %v", claimed.TaskID, err)
		s.failTask(ctx, claimed.TaskID, kerrors.CodeTaskNotFound, "failed to load task")
		return s.failedResult(kerrors.Payload(kerrors.CodeTaskNotFound, "failed to load task"))
	}

	result := s.runWithDeadline(ctx, loaded, stream)

	assistantMessage := result.UserOutput
	if len(result.StreamChunks) > 0 {
		if joined := strings.Join(result.StreamChunks, ""); joined != "" {
			assistantMessage = joined
		}
	}

	if result.TaskState == task.StateDone {
		if _, err := s.kernel.Tasks.Complete(ctx, loaded.TaskID); err != nil {
			s.logger.Error("complete %s: %v", loaded.TaskID, err)
		}
	} else {
		info := result.Error
		if info == nil {
			info = map[string]any{"message": "failed"}
		}
		if _, err := s.kernel.Tasks.Fail(ctx, loaded.TaskID, info); err != nil {
			s.logger.Error("fail %s: %v", loaded.TaskID, err)
		}
	}
	if turn != nil {
		meta := map[string]any{"task_state": string(result.TaskState)}
		if _, err := s.kernel.Turns.SetAssistant(ctx, turn.TurnID, assistantMessage, result.ArtifactRefs, meta); err != nil {
			s.logger.Warn("set assistant turn: %v", err)
		}
	}
	s.metrics.ObserveMainRequest(string(result.TaskState))
	return MessageResult{
		Message:      assistantMessage,
		TaskState:    result.TaskState,
		ArtifactRefs: result.ArtifactRefs,
		Error:        result.Error,
		StreamChunks: result.StreamChunks,
	}
}

// runWithDeadline executes the runner on its own goroutine so the main path
// can enforce a wall-clock deadline without cooperation from the runner.
// The context handed to the runner is cancelled on timeout, so
// context-aware runners stop early; opaque ones are simply abandoned.
func (s *Session) runWithDeadline(ctx context.Context, t *task.Task, stream bool) runner.RunResult {
	if s.cfg.MainRunnerTimeout <= 0 {
		return s.runTask(ctx, t, stream)
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	resultCh := make(chan runner.RunResult, 1)
	async.Go(s.logger, "main-runner", func() {
		resultCh <- s.runTask(runCtx, t, stream)
	})
	timer := time.NewTimer(s.cfg.MainRunnerTimeout)
	defer timer.Stop()
	select {
	case result := <-resultCh:
		return result
	case <-timer.C:
		s.logger.Error("main runner timeout: %s", t.TaskID)
		return runner.Failed(kerrors.Payload(kerrors.CodeMainTimeout, "main runner timeout"))
	}
}

func (s *Session) runTask(ctx context.Context, t *task.Task, stream bool) (result runner.RunResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("main runner panic [%s]: %v, stack: %s", t.TaskID, r, debug.Stack())
			result = runner.Failed(kerrors.Payload(kerrors.CodeRunnerException, fmt.Sprintf("runner panic: %v", r)))
		}
	}()
	rc := runner.Context{
		RunnerID:       s.runnerID,
		ConversationID: s.cfg.ConversationID,
		State:          s.kernel,
		Tools:          s.tools,
		LLM:            s.llm,
		ToolLLM:        s.toolLLM,
		Stream:         stream,
		Logger:         s.logger,
	}
	return s.run.Run(ctx, t, rc)
}

// DrainNotifications claims and completes queued notification tasks,
// returning their messages in claim order.
func (s *Session) DrainNotifications(ctx context.Context) []string {
	var messages []string
	for {
		claimed, err := s.kernel.Tasks.Claim(ctx, task.Filter{Type: task.TypeNotification}, s.runnerID, s.cfg.ClaimTTL)
		if err != nil {
			s.logger.Error("claim notification: %v", err)
			return messages
		}
		if claimed == nil {
			return messages
		}
		if message := claimed.Payload.Message(); message != "" {
			messages = append(messages, message)
		}
		if _, err := s.kernel.Tasks.Complete(ctx, claimed.TaskID); err != nil {
			s.logger.Error("complete notification %s: %v", claimed.TaskID, err)
		}
	}
}

// WorkOption customises CreateWorkTask.
type WorkOption func(*workParams)

type workParams struct {
	runAt         string
	repeatSeconds int64
	repeatSet     bool
	repeatEnabled bool
}

// WithRunAt schedules the task for a future ISO-8601 time.
func WithRunAt(runAt string) WorkOption {
	return func(p *workParams) { p.runAt = runAt }
}

// WithRepeatEvery makes the task recurring with the given interval in
// seconds, clamped to one hour.
func WithRepeatEvery(seconds int64, enabled bool) WorkOption {
	return func(p *workParams) {
		p.repeatSeconds = seconds
		p.repeatSet = true
		p.repeatEnabled = enabled
	}
}

// CreateWorkTask validates scheduling options and enqueues a work task.
func (s *Session) CreateWorkTask(ctx context.Context, payload task.Payload, opts ...WorkOption) (string, error) {
	var params workParams
	for _, opt := range opts {
		opt(&params)
	}
	merged := payload.Clone()
	if merged == nil {
		merged = task.Payload{}
	}
	if params.runAt != "" {
		if err := validateRunAt(params.runAt, time.Now().UTC()); err != nil {
			return "", err
		}
		merged[task.KeyRunAt] = params.runAt
	}
	if params.repeatSet {
		interval := task.ClampRepeatInterval(time.Duration(params.repeatSeconds) * time.Second)
		merged[task.KeyRepeatInterval] = int64(interval / time.Second)
		merged[task.KeyRepeatEnabled] = params.repeatEnabled
	}
	created, err := s.kernel.Tasks.Create(ctx, task.TypeWork, merged)
	if err != nil {
		return "", err
	}
	s.logger.Info("work task created: %s", created.TaskID)
	return created.TaskID, nil
}

func validateRunAt(runAt string, now time.Time) error {
	parsed, err := task.ParseTime(runAt)
	if err != nil {
		return fmt.Errorf("run_at must be ISO-8601: %w", err)
	}
	if parsed.Before(now) {
		return fmt.Errorf("run_at must be in the future")
	}
	if parsed.After(now.AddDate(1, 0, 0)) {
		return fmt.Errorf("run_at must be within 1 year")
	}
	return nil
}

// StartWorkers launches the background execution loop. Idempotent: a second
// start while running is a no-op.
func (s *Session) StartWorkers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.logger.Info("workers already running")
		return
	}
	work := NewQueue[Dispatch]()
	results := NewQueue[Envelope]()
	dispatcher := NewDispatcher(s.kernel, s.cfg, work, results, s.logger, s.metrics)
	pool := NewPool(s.cfg.WorkerCount, s.kernel, s.run, s.llm, s.toolLLM, s.tools, work, results, s.cfg.PollInterval, s.logger)
	loop := NewLoop(dispatcher, pool, s.cfg.PollInterval, s.logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.workerDone = done
	async.Go(s.logger, "execution-loop", func() {
		defer close(done)
		if err := loop.Run(ctx); err != nil {
			s.logger.Error("execution loop exited: %v", err)
		}
	})
	s.logger.Info("workers started: count=%d poll=%s", s.cfg.WorkerCount, s.cfg.PollInterval)
}

// StopWorkers cancels the background loop and waits up to five seconds for
// it to drain. Safe to call when not running.
func (s *Session) StopWorkers() {
	s.mu.Lock()
	cancel, done := s.cancel, s.workerDone
	s.cancel, s.workerDone = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(stopWorkersJoin):
		s.logger.Warn("workers did not stop within %s", stopWorkersJoin)
	}
	s.logger.Info("workers stopped")
}

// WorkersRunning reports whether the background loop is live.
func (s *Session) WorkersRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Session) failTask(ctx context.Context, taskID string, code kerrors.Code, message string) {
	if _, err := s.kernel.Tasks.Fail(ctx, taskID, kerrors.Payload(code, message)); err != nil {
		s.logger.Error("fail %s: %v", taskID, err)
	}
}

func (s *Session) failedResult(info map[string]any) MessageResult {
	s.metrics.ObserveMainRequest(string(task.StateFailed))
	return MessageResult{TaskState: task.StateFailed, Error: info}
}
