package execution

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/if001/trikernel/internal/async"
	"github.com/if001/trikernel/internal/domain/task"
	kerrors "github.com/if001/trikernel/internal/errors"
	"github.com/if001/trikernel/internal/logging"
	"github.com/if001/trikernel/internal/runner"
	"github.com/if001/trikernel/internal/state"
)

// Worker pulls dispatch messages, executes the runner, and publishes one
// result envelope per task. Workers never finalize tasks directly; the
// dispatcher is the only coordinator of terminal transitions.
type Worker struct {
	kernel  *state.Kernel
	run     runner.Runner
	llm     runner.LLM
	toolLLM runner.LLM
	tools   runner.ToolAPI
	work    WorkReceiver
	results ResultSender
	logger  logging.Logger
}

// NewWorker wires one worker unit onto the shared channels.
func NewWorker(kernel *state.Kernel, run runner.Runner, llm runner.LLM, toolLLM runner.LLM, tools runner.ToolAPI, work WorkReceiver, results ResultSender, logger logging.Logger) *Worker {
	return &Worker{
		kernel:  kernel,
		run:     run,
		llm:     llm,
		toolLLM: toolLLM,
		tools:   tools,
		work:    work,
		results: results,
		logger:  logging.OrNop(logger),
	}
}

// RunOnce processes at most one dispatch message. It reports whether a
// message was consumed so pollers can back off when the channel is empty.
func (w *Worker) RunOnce(ctx context.Context) bool {
	msg, ok := w.work.TryRecv()
	if !ok {
		return false
	}
	t, err := w.kernel.Tasks.Get(ctx, msg.TaskID)
	if err != nil {
		w.logger.Error("load task %s: %v", msg.TaskID, err)
		return true
	}
	if t == nil {
		// Dispatch raced a deletion; nothing to report.
		w.logger.Warn("dispatched task %s not found, dropped", msg.TaskID)
		return true
	}

	result := w.runTask(ctx, t)
	env := Envelope{
		TaskID:       t.TaskID,
		TaskState:    result.TaskState,
		UserOutput:   result.UserOutput,
		ArtifactRefs: result.ArtifactRefs,
		Error:        result.Error,
		Meta:         t.Payload.Meta(),
	}
	if err := w.results.Send(ctx, env); err != nil {
		w.logger.Error("result send failed for %s: %v", t.TaskID, err)
		if _, failErr := w.kernel.Tasks.Fail(ctx, t.TaskID,
			kerrors.Payload(kerrors.CodeWorkerSendFailed, "result channel send failed")); failErr != nil {
			w.logger.Error("fail %s: %v", t.TaskID, failErr)
		}
	}
	return true
}

// runTask invokes the runner with panic containment: a crashing runner
// becomes a WORKER_EXCEPTION envelope, never a dead worker.
func (w *Worker) runTask(ctx context.Context, t *task.Task) (result runner.RunResult) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker runner panic [%s]: %v, stack: %s", t.TaskID, r, debug.Stack())
			result = runner.Failed(kerrors.Payload(kerrors.CodeWorkerException, fmt.Sprintf("runner panic: %v", r)))
		}
	}()
	rc := runner.Context{
		RunnerID: "worker",
		State:    w.kernel,
		Tools:    w.tools,
		LLM:      w.llm,
		ToolLLM:  w.toolLLM,
		Logger:   w.logger,
	}
	return w.run.Run(ctx, t, rc)
}

// Pool runs a fixed set of workers, each polling the work channel until the
// context is cancelled. The dispatcher's inflight budget, not the pool
// size, is what bounds admitted work; the sizes match by construction.
type Pool struct {
	workers []*Worker
	poll    time.Duration
	logger  logging.Logger
}

// NewPool builds count workers sharing the given channels.
func NewPool(count int, kernel *state.Kernel, run runner.Runner, llm runner.LLM, toolLLM runner.LLM, tools runner.ToolAPI, work WorkReceiver, results ResultSender, poll time.Duration, logger logging.Logger) *Pool {
	if count <= 0 {
		count = 1
	}
	if poll <= 0 {
		poll = DefaultConfig().PollInterval
	}
	logger = logging.OrNop(logger)
	workers := make([]*Worker, count)
	for i := range workers {
		workers[i] = NewWorker(kernel, run, llm, toolLLM, tools, work, results, logger)
	}
	return &Pool{workers: workers, poll: poll, logger: logger}
}

// Run blocks until ctx is cancelled, with every worker polling the work
// channel cooperatively.
func (p *Pool) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for i, worker := range p.workers {
		i, worker := i, worker
		group.Go(func() error {
			defer async.Recover(p.logger, fmt.Sprintf("worker-%d", i))
			timer := time.NewTimer(p.poll)
			defer timer.Stop()
			for {
				if ctx.Err() != nil {
					return nil
				}
				if worker.RunOnce(ctx) {
					continue
				}
				timer.Reset(p.poll)
				select {
				case <-ctx.Done():
					return nil
				case <-timer.C:
				}
			}
		})
	}
	return group.Wait()
}

// Size reports the worker count.
func (p *Pool) Size() int { return len(p.workers) }
