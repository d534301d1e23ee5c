package filestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/if001/trikernel/internal/domain/task"
	"github.com/if001/trikernel/internal/logging"
)

// taskStore keeps all tasks in a single JSON file. The mutex covers the full
// read-modify-write cycle, so Claim is atomic with respect to every other
// mutation in the process.
type taskStore struct {
	mu     sync.Mutex
	path   string
	logger logging.Logger
}

func newTaskStore(path string, logger logging.Logger) *taskStore {
	return &taskStore{path: path, logger: logger}
}

func (s *taskStore) readAll() (map[string]*task.Task, error) {
	data := map[string]*task.Task{}
	if err := readJSONFile(s.path, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *taskStore) writeAll(data map[string]*task.Task) error {
	return writeJSONFile(s.path, data)
}

func (s *taskStore) Create(_ context.Context, taskType task.Type, payload task.Payload) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readAll()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	created := &task.Task{
		TaskID:       uuid.NewString(),
		Type:         taskType,
		Payload:      payload.Clone(),
		State:        task.StateQueued,
		ArtifactRefs: []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	data[created.TaskID] = created
	if err := s.writeAll(data); err != nil {
		return nil, err
	}
	s.logger.Debug("task created: %s type=%s", created.TaskID, taskType)
	return created.Clone(), nil
}

func (s *taskStore) Get(_ context.Context, taskID string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readAll()
	if err != nil {
		return nil, err
	}
	return data[taskID].Clone(), nil
}

func (s *taskStore) Update(_ context.Context, taskID string, patch task.Patch) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(taskID, patch)
}

func (s *taskStore) updateLocked(taskID string, patch task.Patch) (*task.Task, error) {
	data, err := s.readAll()
	if err != nil {
		return nil, err
	}
	current := data[taskID]
	if current == nil {
		return nil, nil
	}
	applyPatch(current, patch)
	current.UpdatedAt = time.Now().UTC()
	if err := s.writeAll(data); err != nil {
		return nil, err
	}
	return current.Clone(), nil
}

func applyPatch(t *task.Task, patch task.Patch) {
	if patch.State != nil {
		t.State = *patch.State
	}
	if patch.Payload != nil {
		t.Payload = t.Payload.Merge(patch.Payload)
	}
	if patch.ArtifactRefs != nil {
		t.ArtifactRefs = append([]string(nil), patch.ArtifactRefs...)
	}
	if patch.ClearLease {
		t.ClaimedBy = ""
		t.ClaimExpiresAt = nil
	}
}

func (s *taskStore) List(_ context.Context, filter task.Filter) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readAll()
	if err != nil {
		return nil, err
	}
	tasks := make([]*task.Task, 0, len(data))
	for _, t := range data {
		if filter.Matches(t) {
			tasks = append(tasks, t.Clone())
		}
	}
	sortByCreation(tasks)
	return tasks, nil
}

// sortByCreation orders tasks oldest-first, breaking timestamp ties by id so
// claim order is deterministic.
func sortByCreation(tasks []*task.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].TaskID < tasks[j].TaskID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

func (s *taskStore) Claim(_ context.Context, filter task.Filter, claimerID string, ttl time.Duration) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readAll()
	if err != nil {
		return nil, err
	}
	candidates := make([]*task.Task, 0, len(data))
	for _, t := range data {
		candidates = append(candidates, t)
	}
	sortByCreation(candidates)

	now := time.Now().UTC()
	for _, t := range candidates {
		if t.State != task.StateQueued && t.State != task.StateRunning {
			continue
		}
		if !filter.Matches(t) {
			continue
		}
		if !t.ClaimExpired(now) {
			continue
		}
		expires := now.Add(ttl)
		t.ClaimedBy = claimerID
		t.ClaimExpiresAt = &expires
		t.State = task.StateRunning
		t.UpdatedAt = now
		if err := s.writeAll(data); err != nil {
			return nil, err
		}
		s.logger.Debug("task claimed: %s by %s ttl=%s", t.TaskID, claimerID, ttl)
		return t.Clone(), nil
	}
	return nil, nil
}

func (s *taskStore) Complete(_ context.Context, taskID string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if done, err := s.terminalGuard(taskID); done != nil || err != nil {
		return done, err
	}
	state := task.StateDone
	return s.updateLocked(taskID, task.Patch{State: &state, ClearLease: true})
}

func (s *taskStore) Fail(_ context.Context, taskID string, info map[string]any) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if done, err := s.terminalGuard(taskID); done != nil || err != nil {
		return done, err
	}
	if info == nil {
		info = map[string]any{"message": "failed"}
	}
	state := task.StateFailed
	return s.updateLocked(taskID, task.Patch{
		State:      &state,
		ClearLease: true,
		Payload:    task.Payload{task.KeyError: info},
	})
}

// terminalGuard returns the current row when it is already terminal, keeping
// Complete/Fail single-shot for any task id.
func (s *taskStore) terminalGuard(taskID string) (*task.Task, error) {
	data, err := s.readAll()
	if err != nil {
		return nil, err
	}
	current := data[taskID]
	if current != nil && current.State.IsTerminal() {
		return current.Clone(), nil
	}
	return nil, nil
}
