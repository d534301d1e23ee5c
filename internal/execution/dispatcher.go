package execution

import (
	"context"
	"sort"
	"time"

	"github.com/if001/trikernel/internal/domain/task"
	kerrors "github.com/if001/trikernel/internal/errors"
	"github.com/if001/trikernel/internal/logging"
	"github.com/if001/trikernel/internal/metrics"
	"github.com/if001/trikernel/internal/state"
)

// dispatcherClaimer is the claimer id the dispatcher uses for work claims.
const dispatcherClaimer = "main"

type pendingWork struct {
	taskID     string
	enqueuedAt time.Time
	timeout    time.Duration
}

// Dispatcher bridges queued work tasks into the worker pool and reaps their
// outcomes. Its pending/inflight bookkeeping is owned by the single loop
// goroutine; the store and the channels are the only shared state it
// touches.
type Dispatcher struct {
	kernel  *state.Kernel
	cfg     Config
	work    WorkSender
	results ResultReceiver
	logger  logging.Logger
	metrics *metrics.Set

	pending  []pendingWork
	inflight map[string]time.Time
}

// NewDispatcher wires a dispatcher onto the shared kernel and channels.
func NewDispatcher(kernel *state.Kernel, cfg Config, work WorkSender, results ResultReceiver, logger logging.Logger, set *metrics.Set) *Dispatcher {
	return &Dispatcher{
		kernel:   kernel,
		cfg:      cfg.withDefaults(),
		work:     work,
		results:  results,
		logger:   logging.OrNop(logger),
		metrics:  set,
		inflight: map[string]time.Time{},
	}
}

// RunOnce executes one tick: scan-and-claim, dispatch, reap results, reap
// timeouts, strictly in that order.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	started := time.Now()
	defer func() {
		d.metrics.ObserveTick(time.Since(started).Seconds())
		d.metrics.SetQueueDepths(len(d.pending), len(d.inflight))
	}()

	if err := d.scanAndClaim(ctx); err != nil {
		return err
	}
	if err := d.dispatchPending(ctx); err != nil {
		return err
	}
	d.reapResults(ctx)
	d.reapPendingTimeouts(ctx)
	d.reapInflightTimeouts(ctx)
	return nil
}

// scanAndClaim admits queued work tasks whose scheduled time has arrived.
// Tasks are visited in run_at order so an earlier schedule is never admitted
// after a later one seen in the same scan.
func (d *Dispatcher) scanAndClaim(ctx context.Context) error {
	queued, err := d.kernel.Tasks.List(ctx, task.Filter{Type: task.TypeWork, State: task.StateQueued})
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	type candidate struct {
		t     *task.Task
		runAt time.Time
	}
	ready := make([]candidate, 0, len(queued))
	for _, t := range queued {
		if d.tracked(t.TaskID) {
			continue
		}
		runAt, scheduled, err := t.Payload.RunAt()
		if err != nil {
			d.logger.Warn("work task %s has invalid run_at: %v", t.TaskID, err)
			if _, failErr := d.kernel.Tasks.Fail(ctx, t.TaskID, kerrors.Payload(kerrors.CodeInvalidRunAt, err.Error())); failErr != nil {
				d.logger.Error("fail %s: %v", t.TaskID, failErr)
			}
			d.metrics.ObserveFailed(string(kerrors.CodeInvalidRunAt))
			continue
		}
		if scheduled && runAt.After(now) {
			continue
		}
		ready = append(ready, candidate{t: t, runAt: runAt})
	}
	sort.SliceStable(ready, func(i, j int) bool { return ready[i].runAt.Before(ready[j].runAt) })

	for _, c := range ready {
		claimed, err := d.kernel.Tasks.Claim(ctx, task.Filter{TaskID: c.t.TaskID}, dispatcherClaimer, d.cfg.ClaimTTL)
		if err != nil {
			return err
		}
		if claimed == nil {
			continue
		}
		d.pending = append(d.pending, pendingWork{
			taskID:     claimed.TaskID,
			enqueuedAt: time.Now(),
			timeout:    d.cfg.WorkQueueTimeout,
		})
		d.logger.Debug("admitted work task %s", claimed.TaskID)
	}
	return nil
}

// dispatchPending moves up to the available worker budget from the pending
// head into inflight, FIFO.
func (d *Dispatcher) dispatchPending(ctx context.Context) error {
	available := d.cfg.WorkerCount - len(d.inflight)
	for available > 0 && len(d.pending) > 0 {
		entry := d.pending[0]
		if err := d.work.Send(ctx, Dispatch{TaskID: entry.taskID}); err != nil {
			return err
		}
		d.pending = d.pending[1:]
		d.inflight[entry.taskID] = time.Now()
		d.metrics.ObserveDispatch()
		available--
		d.logger.Debug("dispatched task %s (inflight=%d)", entry.taskID, len(d.inflight))
	}
	return nil
}

// reapResults drains the result channel and finalizes each task. The store's
// terminal-state guard makes finalization single-shot, so a late envelope
// for a task that already timed out is discarded here.
func (d *Dispatcher) reapResults(ctx context.Context) {
	for {
		env, ok := d.results.TryRecv()
		if !ok {
			return
		}
		if env.TaskID == "" {
			continue
		}
		delete(d.inflight, env.TaskID)
		current, err := d.kernel.Tasks.Get(ctx, env.TaskID)
		if err != nil {
			d.logger.Error("load task %s: %v", env.TaskID, err)
			continue
		}
		if current == nil {
			d.logger.Warn("result for unknown task %s dropped", env.TaskID)
			continue
		}
		if current.State.IsTerminal() {
			d.logger.Info("late result for terminal task %s discarded", env.TaskID)
			continue
		}
		d.finalize(ctx, current, env)
	}
}

func (d *Dispatcher) finalize(ctx context.Context, current *task.Task, env Envelope) {
	if env.TaskState != task.StateDone {
		info := env.Error
		if info == nil {
			info = map[string]any{"message": "failed"}
		}
		if _, err := d.kernel.Tasks.Fail(ctx, current.TaskID, info); err != nil {
			d.logger.Error("fail %s: %v", current.TaskID, err)
		}
		d.metrics.ObserveFailed(string(kerrors.PayloadCode(env.Error)))
		return
	}

	if current.Payload.IsRecurring() {
		patch := task.ReschedulePatch(current.Payload, time.Now().UTC())
		if _, err := d.kernel.Tasks.Update(ctx, current.TaskID, patch); err != nil {
			d.logger.Error("reschedule %s: %v", current.TaskID, err)
		} else {
			d.logger.Info("rescheduled recurring task %s", current.TaskID)
		}
	} else {
		if _, err := d.kernel.Tasks.Complete(ctx, current.TaskID); err != nil {
			d.logger.Error("complete %s: %v", current.TaskID, err)
		}
	}
	d.metrics.ObserveCompleted()

	if env.UserOutput == "" {
		return
	}
	payload := task.Payload{
		task.KeyMessage:       env.UserOutput,
		task.KeySeverity:      "info",
		task.KeyRelatedTaskID: current.TaskID,
		task.KeyArtifactRefs:  append([]string{}, env.ArtifactRefs...),
	}
	if env.Meta != nil {
		payload[task.KeyMeta] = env.Meta
	}
	if _, err := d.kernel.Tasks.Create(ctx, task.TypeNotification, payload); err != nil {
		d.logger.Error("notification for %s: %v", current.TaskID, err)
		return
	}
	d.metrics.ObserveNotification()
}

// reapPendingTimeouts fails entries that waited too long for a worker slot.
func (d *Dispatcher) reapPendingTimeouts(ctx context.Context) {
	if d.cfg.WorkQueueTimeout <= 0 {
		return
	}
	kept := d.pending[:0]
	for _, entry := range d.pending {
		if time.Since(entry.enqueuedAt) <= entry.timeout {
			kept = append(kept, entry)
			continue
		}
		d.logger.Error("work queue timeout exceeded: %s", entry.taskID)
		if _, err := d.kernel.Tasks.Fail(ctx, entry.taskID,
			kerrors.Payload(kerrors.CodeWorkQueueTimeout, "work queue timeout exceeded")); err != nil {
			d.logger.Error("fail %s: %v", entry.taskID, err)
		}
		d.metrics.ObserveFailed(string(kerrors.CodeWorkQueueTimeout))
	}
	d.pending = kept
}

// reapInflightTimeouts fails tasks whose workers ran past the wall-clock
// bound. The worker is not recalled; its eventual envelope is discarded by
// the terminal-state check in reapResults.
func (d *Dispatcher) reapInflightTimeouts(ctx context.Context) {
	if d.cfg.WorkerTimeout <= 0 {
		return
	}
	for taskID, startedAt := range d.inflight {
		if time.Since(startedAt) <= d.cfg.WorkerTimeout {
			continue
		}
		delete(d.inflight, taskID)
		d.logger.Error("worker timeout exceeded: %s", taskID)
		if _, err := d.kernel.Tasks.Fail(ctx, taskID,
			kerrors.Payload(kerrors.CodeWorkerTimeout, "worker timeout exceeded")); err != nil {
			d.logger.Error("fail %s: %v", taskID, err)
		}
		d.metrics.ObserveFailed(string(kerrors.CodeWorkerTimeout))
	}
}

func (d *Dispatcher) tracked(taskID string) bool {
	if _, ok := d.inflight[taskID]; ok {
		return true
	}
	for _, entry := range d.pending {
		if entry.taskID == taskID {
			return true
		}
	}
	return false
}

// InflightCount reports the live parallelism.
func (d *Dispatcher) InflightCount() int { return len(d.inflight) }

// PendingCount reports tasks admitted but not yet dispatched.
func (d *Dispatcher) PendingCount() int { return len(d.pending) }
