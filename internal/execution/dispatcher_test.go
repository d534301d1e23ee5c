package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/if001/trikernel/internal/domain/task"
	kerrors "github.com/if001/trikernel/internal/errors"
	"github.com/if001/trikernel/internal/logging"
	"github.com/if001/trikernel/internal/state"
	"github.com/if001/trikernel/internal/state/filestore"
)

func newTestKernel(t *testing.T) *state.Kernel {
	t.Helper()
	kernel, err := filestore.Open(t.TempDir(), filestore.Options{Logger: logging.Nop()})
	require.NoError(t, err)
	return kernel
}

type dispatcherFixture struct {
	kernel  *state.Kernel
	work    *WorkQueue
	results *ResultQueue
	d       *Dispatcher
}

func newDispatcherFixture(t *testing.T, cfg Config) *dispatcherFixture {
	t.Helper()
	kernel := newTestKernel(t)
	work := NewQueue[Dispatch]()
	results := NewQueue[Envelope]()
	return &dispatcherFixture{
		kernel:  kernel,
		work:    work,
		results: results,
		d:       NewDispatcher(kernel, cfg, work, results, logging.Nop(), nil),
	}
}

func (f *dispatcherFixture) createWork(t *testing.T, payload task.Payload) *task.Task {
	t.Helper()
	created, err := f.kernel.Tasks.Create(context.Background(), task.TypeWork, payload)
	require.NoError(t, err)
	// Creation timestamps break claim ties; keep them distinct.
	time.Sleep(2 * time.Millisecond)
	return created
}

func (f *dispatcherFixture) taskState(t *testing.T, taskID string) *task.Task {
	t.Helper()
	got, err := f.kernel.Tasks.Get(context.Background(), taskID)
	require.NoError(t, err)
	require.NotNil(t, got)
	return got
}

func (f *dispatcherFixture) notifications(t *testing.T) []*task.Task {
	t.Helper()
	listed, err := f.kernel.Tasks.List(context.Background(), task.Filter{Type: task.TypeNotification})
	require.NoError(t, err)
	return listed
}

func TestDispatchHonorsWorkerBudget(t *testing.T) {
	f := newDispatcherFixture(t, Config{WorkerCount: 2})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.createWork(t, task.Payload{task.KeyMessage: "job"})
	}

	require.NoError(t, f.d.RunOnce(ctx))

	assert.Equal(t, 2, f.d.InflightCount())
	assert.Equal(t, 1, f.d.PendingCount())
	assert.Equal(t, 2, f.work.Len())
}

func TestDispatchPendingFIFO(t *testing.T) {
	f := newDispatcherFixture(t, Config{WorkerCount: 1})
	ctx := context.Background()

	first := f.createWork(t, nil)
	f.createWork(t, nil)

	require.NoError(t, f.d.RunOnce(ctx))

	msg, ok := f.work.TryRecv()
	require.True(t, ok)
	assert.Equal(t, first.TaskID, msg.TaskID)
	assert.Equal(t, 1, f.d.PendingCount())
}

func TestInvalidRunAtFailsTask(t *testing.T) {
	f := newDispatcherFixture(t, Config{})
	ctx := context.Background()

	created := f.createWork(t, task.Payload{task.KeyRunAt: "not a timestamp"})

	require.NoError(t, f.d.RunOnce(ctx))

	got := f.taskState(t, created.TaskID)
	assert.Equal(t, task.StateFailed, got.State)
	assert.Equal(t, string(kerrors.CodeInvalidRunAt), got.Payload.ErrorInfo()["code"])
	assert.Equal(t, 0, f.d.InflightCount())
	assert.Equal(t, 0, f.work.Len())
}

func TestFutureRunAtNotAdmitted(t *testing.T) {
	f := newDispatcherFixture(t, Config{})
	ctx := context.Background()

	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	created := f.createWork(t, task.Payload{task.KeyRunAt: future})

	require.NoError(t, f.d.RunOnce(ctx))
	assert.Equal(t, 0, f.d.InflightCount())
	assert.Equal(t, task.StateQueued, f.taskState(t, created.TaskID).State)

	past := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339)
	_, err := f.kernel.Tasks.Update(ctx, created.TaskID, task.Patch{
		Payload: task.Payload{task.KeyRunAt: past},
	})
	require.NoError(t, err)

	require.NoError(t, f.d.RunOnce(ctx))
	assert.Equal(t, 1, f.d.InflightCount())
	assert.Equal(t, task.StateRunning, f.taskState(t, created.TaskID).State)
}

func TestReadyTasksAdmittedInScheduleOrder(t *testing.T) {
	f := newDispatcherFixture(t, Config{WorkerCount: 2})
	ctx := context.Background()

	now := time.Now().UTC()
	later := f.createWork(t, task.Payload{task.KeyRunAt: now.Add(-time.Minute).Format(time.RFC3339)})
	earlier := f.createWork(t, task.Payload{task.KeyRunAt: now.Add(-2 * time.Hour).Format(time.RFC3339)})

	require.NoError(t, f.d.RunOnce(ctx))

	msg, ok := f.work.TryRecv()
	require.True(t, ok)
	assert.Equal(t, earlier.TaskID, msg.TaskID)
	msg, ok = f.work.TryRecv()
	require.True(t, ok)
	assert.Equal(t, later.TaskID, msg.TaskID)
}

func TestWorkerTimeoutFailsTask(t *testing.T) {
	f := newDispatcherFixture(t, Config{WorkerCount: 1, WorkerTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	created := f.createWork(t, nil)

	require.NoError(t, f.d.RunOnce(ctx))
	require.Equal(t, 1, f.d.InflightCount())

	time.Sleep(40 * time.Millisecond)
	require.NoError(t, f.d.RunOnce(ctx))

	got := f.taskState(t, created.TaskID)
	assert.Equal(t, task.StateFailed, got.State)
	assert.Equal(t, string(kerrors.CodeWorkerTimeout), got.Payload.ErrorInfo()["code"])
	assert.Equal(t, 0, f.d.InflightCount())
}

func TestWorkQueueTimeoutFailsWaitingTask(t *testing.T) {
	f := newDispatcherFixture(t, Config{WorkerCount: 1, WorkQueueTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	running := f.createWork(t, nil)
	waiting := f.createWork(t, nil)

	require.NoError(t, f.d.RunOnce(ctx))
	require.Equal(t, 1, f.d.InflightCount())
	require.Equal(t, 1, f.d.PendingCount())

	time.Sleep(40 * time.Millisecond)
	require.NoError(t, f.d.RunOnce(ctx))

	got := f.taskState(t, waiting.TaskID)
	assert.Equal(t, task.StateFailed, got.State)
	assert.Equal(t, string(kerrors.CodeWorkQueueTimeout), got.Payload.ErrorInfo()["code"])
	assert.Equal(t, 0, f.d.PendingCount())
	// The dispatched task is untouched by the queue timeout.
	assert.Equal(t, task.StateRunning, f.taskState(t, running.TaskID).State)
}

func TestLateResultAfterTimeoutDiscarded(t *testing.T) {
	f := newDispatcherFixture(t, Config{WorkerCount: 1, WorkerTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	created := f.createWork(t, nil)

	require.NoError(t, f.d.RunOnce(ctx))
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, f.d.RunOnce(ctx))
	require.Equal(t, task.StateFailed, f.taskState(t, created.TaskID).State)

	// The abandoned worker finishes anyway; its envelope must change nothing.
	require.NoError(t, f.results.Send(ctx, Envelope{
		TaskID:     created.TaskID,
		TaskState:  task.StateDone,
		UserOutput: "too late",
	}))
	require.NoError(t, f.d.RunOnce(ctx))

	got := f.taskState(t, created.TaskID)
	assert.Equal(t, task.StateFailed, got.State)
	assert.Equal(t, string(kerrors.CodeWorkerTimeout), got.Payload.ErrorInfo()["code"])
	assert.Empty(t, f.notifications(t))
}

func TestDoneEnvelopeCompletesTask(t *testing.T) {
	f := newDispatcherFixture(t, Config{WorkerCount: 1})
	ctx := context.Background()

	created := f.createWork(t, task.Payload{task.KeyMessage: "job"})
	require.NoError(t, f.d.RunOnce(ctx))

	require.NoError(t, f.results.Send(ctx, Envelope{TaskID: created.TaskID, TaskState: task.StateDone}))
	require.NoError(t, f.d.RunOnce(ctx))

	got := f.taskState(t, created.TaskID)
	assert.Equal(t, task.StateDone, got.State)
	assert.Equal(t, 0, f.d.InflightCount())
	// No user output means no notification.
	assert.Empty(t, f.notifications(t))
}

func TestFailedEnvelopeRecordsError(t *testing.T) {
	f := newDispatcherFixture(t, Config{WorkerCount: 1})
	ctx := context.Background()

	created := f.createWork(t, nil)
	require.NoError(t, f.d.RunOnce(ctx))

	require.NoError(t, f.results.Send(ctx, Envelope{
		TaskID:    created.TaskID,
		TaskState: task.StateFailed,
		Error:     kerrors.Payload(kerrors.CodeWorkerException, "boom"),
	}))
	require.NoError(t, f.d.RunOnce(ctx))

	got := f.taskState(t, created.TaskID)
	assert.Equal(t, task.StateFailed, got.State)
	assert.Equal(t, string(kerrors.CodeWorkerException), got.Payload.ErrorInfo()["code"])
	assert.Empty(t, f.notifications(t))
}

func TestNotificationCarriesOutputAndMeta(t *testing.T) {
	f := newDispatcherFixture(t, Config{WorkerCount: 1})
	ctx := context.Background()

	created := f.createWork(t, task.Payload{
		task.KeyMessage: "job",
		task.KeyMeta:    map[string]any{"channel_id": "c-42"},
	})
	require.NoError(t, f.d.RunOnce(ctx))

	require.NoError(t, f.results.Send(ctx, Envelope{
		TaskID:       created.TaskID,
		TaskState:    task.StateDone,
		UserOutput:   "all done",
		ArtifactRefs: []string{"a1"},
		Meta:         map[string]any{"channel_id": "c-42"},
	}))
	require.NoError(t, f.d.RunOnce(ctx))

	notes := f.notifications(t)
	require.Len(t, notes, 1)
	note := notes[0]
	assert.Equal(t, "all done", note.Payload.Message())
	assert.Equal(t, "info", note.Payload[task.KeySeverity])
	assert.Equal(t, created.TaskID, note.Payload[task.KeyRelatedTaskID])
	require.NotNil(t, note.Payload.Meta())
	assert.Equal(t, "c-42", note.Payload.Meta()["channel_id"])
}

func TestRecurringTaskRescheduledOnSameRow(t *testing.T) {
	f := newDispatcherFixture(t, Config{WorkerCount: 1})
	ctx := context.Background()

	created := f.createWork(t, task.Payload{
		task.KeyMessage:        "hourly job",
		task.KeyRepeatEnabled:  true,
		task.KeyRepeatInterval: 10, // below the floor, must clamp to 3600
	})
	require.NoError(t, f.d.RunOnce(ctx))

	before := time.Now().UTC()
	require.NoError(t, f.results.Send(ctx, Envelope{TaskID: created.TaskID, TaskState: task.StateDone}))
	require.NoError(t, f.d.RunOnce(ctx))

	got := f.taskState(t, created.TaskID)
	assert.Equal(t, task.StateQueued, got.State)
	assert.Empty(t, got.ClaimedBy)
	assert.Nil(t, got.ClaimExpiresAt)
	assert.EqualValues(t, 3600, got.Payload[task.KeyRepeatInterval])

	runAt, scheduled, err := got.Payload.RunAt()
	require.NoError(t, err)
	require.True(t, scheduled)
	assert.False(t, runAt.Before(before.Add(time.Hour)))

	// The future run_at keeps it out of the next scan.
	require.NoError(t, f.d.RunOnce(ctx))
	assert.Equal(t, 0, f.d.InflightCount())

	all, err := f.kernel.Tasks.List(ctx, task.Filter{Type: task.TypeWork})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRunningTaskNotReadmitted(t *testing.T) {
	f := newDispatcherFixture(t, Config{WorkerCount: 2})
	ctx := context.Background()

	f.createWork(t, nil)

	require.NoError(t, f.d.RunOnce(ctx))
	require.NoError(t, f.d.RunOnce(ctx))

	assert.Equal(t, 1, f.d.InflightCount())
	assert.Equal(t, 1, f.work.Len())
}

func TestResultForUnknownTaskDropped(t *testing.T) {
	f := newDispatcherFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.results.Send(ctx, Envelope{TaskID: "ghost", TaskState: task.StateDone, UserOutput: "?"}))
	require.NoError(t, f.d.RunOnce(ctx))

	assert.Empty(t, f.notifications(t))
}
