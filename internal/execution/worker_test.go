package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/if001/trikernel/internal/domain/task"
	kerrors "github.com/if001/trikernel/internal/errors"
	"github.com/if001/trikernel/internal/logging"
	"github.com/if001/trikernel/internal/runner"
)

type failingResultSender struct{}

func (failingResultSender) Send(context.Context, Envelope) error {
	return errors.New("channel closed")
}

func TestWorkerPublishesResultEnvelope(t *testing.T) {
	kernel := newTestKernel(t)
	ctx := context.Background()
	work := NewQueue[Dispatch]()
	results := NewQueue[Envelope]()

	created, err := kernel.Tasks.Create(ctx, task.TypeWork, task.Payload{
		task.KeyMessage: "summarize",
		task.KeyMeta:    map[string]any{"channel_id": "c-1"},
	})
	require.NoError(t, err)
	require.NoError(t, work.Send(ctx, Dispatch{TaskID: created.TaskID}))

	run := runner.Func(func(_ context.Context, got *task.Task, rc runner.Context) runner.RunResult {
		assert.Equal(t, created.TaskID, got.TaskID)
		assert.Equal(t, "worker", rc.RunnerID)
		return runner.Done("summary text", "artifact-1")
	})
	w := NewWorker(kernel, run, nil, nil, nil, work, results, logging.Nop())

	require.True(t, w.RunOnce(ctx))

	env, ok := results.TryRecv()
	require.True(t, ok)
	assert.Equal(t, created.TaskID, env.TaskID)
	assert.Equal(t, task.StateDone, env.TaskState)
	assert.Equal(t, "summary text", env.UserOutput)
	assert.Equal(t, []string{"artifact-1"}, env.ArtifactRefs)
	assert.Equal(t, "c-1", env.Meta["channel_id"])
}

func TestWorkerIdleWhenQueueEmpty(t *testing.T) {
	kernel := newTestKernel(t)
	work := NewQueue[Dispatch]()
	results := NewQueue[Envelope]()
	w := NewWorker(kernel, runner.Func(func(context.Context, *task.Task, runner.Context) runner.RunResult {
		t.Fatal("runner must not run")
		return runner.RunResult{}
	}), nil, nil, nil, work, results, logging.Nop())

	assert.False(t, w.RunOnce(context.Background()))
}

func TestWorkerDropsMissingTask(t *testing.T) {
	kernel := newTestKernel(t)
	ctx := context.Background()
	work := NewQueue[Dispatch]()
	results := NewQueue[Envelope]()
	require.NoError(t, work.Send(ctx, Dispatch{TaskID: "ghost"}))

	w := NewWorker(kernel, runner.Func(func(context.Context, *task.Task, runner.Context) runner.RunResult {
		t.Fatal("runner must not run")
		return runner.RunResult{}
	}), nil, nil, nil, work, results, logging.Nop())

	require.True(t, w.RunOnce(ctx))
	_, ok := results.TryRecv()
	assert.False(t, ok)
}

func TestWorkerPanicBecomesFailedEnvelope(t *testing.T) {
	kernel := newTestKernel(t)
	ctx := context.Background()
	work := NewQueue[Dispatch]()
	results := NewQueue[Envelope]()

	created, err := kernel.Tasks.Create(ctx, task.TypeWork, nil)
	require.NoError(t, err)
	require.NoError(t, work.Send(ctx, Dispatch{TaskID: created.TaskID}))

	w := NewWorker(kernel, runner.Func(func(context.Context, *task.Task, runner.Context) runner.RunResult {
		panic("runner blew up")
	}), nil, nil, nil, work, results, logging.Nop())

	require.True(t, w.RunOnce(ctx))

	env, ok := results.TryRecv()
	require.True(t, ok)
	assert.Equal(t, task.StateFailed, env.TaskState)
	assert.Equal(t, string(kerrors.CodeWorkerException), env.Error["code"])
	// The worker reports; only the dispatcher finalizes.
	got, err := kernel.Tasks.Get(ctx, created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StateQueued, got.State)
}

func TestWorkerSendFailureFailsTask(t *testing.T) {
	kernel := newTestKernel(t)
	ctx := context.Background()
	work := NewQueue[Dispatch]()

	created, err := kernel.Tasks.Create(ctx, task.TypeWork, nil)
	require.NoError(t, err)
	require.NoError(t, work.Send(ctx, Dispatch{TaskID: created.TaskID}))

	w := NewWorker(kernel, runner.Func(func(context.Context, *task.Task, runner.Context) runner.RunResult {
		return runner.Done("output")
	}), nil, nil, nil, work, failingResultSender{}, logging.Nop())

	require.True(t, w.RunOnce(ctx))

	got, err := kernel.Tasks.Get(ctx, created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StateFailed, got.State)
	assert.Equal(t, string(kerrors.CodeWorkerSendFailed), got.Payload.ErrorInfo()["code"])
}

func TestQueueFIFOAndTryRecv(t *testing.T) {
	q := NewQueue[Dispatch]()
	ctx := context.Background()

	_, ok := q.TryRecv()
	assert.False(t, ok)

	require.NoError(t, q.Send(ctx, Dispatch{TaskID: "a"}))
	require.NoError(t, q.Send(ctx, Dispatch{TaskID: "b"}))
	assert.Equal(t, 2, q.Len())

	first, ok := q.TryRecv()
	require.True(t, ok)
	assert.Equal(t, "a", first.TaskID)
	second, ok := q.TryRecv()
	require.True(t, ok)
	assert.Equal(t, "b", second.TaskID)
}

func TestQueueSendFailsOnCancelledContext(t *testing.T) {
	q := NewQueue[Envelope]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, q.Send(ctx, Envelope{TaskID: "x"}))
	assert.Equal(t, 0, q.Len())
}
