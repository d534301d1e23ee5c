// Package task defines the task domain model and store port.
//
// A task is the fundamental unit of scheduled work: identity, type, state,
// a JSON-compatible payload, and a claim lease. The store port is the single
// source of truth shared by the session, the dispatcher, the workers, and
// the tools; its Claim operation is the linearization point that prevents
// two executors from running the same task.
package task

import (
	"context"
	"time"
)

// State represents the lifecycle state of a task.
type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// IsTerminal reports whether the state is final. Terminal tasks never
// transition out; Complete and Fail are no-ops on them.
func (s State) IsTerminal() bool {
	switch s {
	case StateDone, StateFailed:
		return true
	default:
		return false
	}
}

// Type classifies a task. Runners introduce internal sub-types (for example
// "pdca.plan"), so the set is open; the three below are the ones the
// execution fabric itself schedules and consumes.
type Type string

const (
	TypeUserRequest  Type = "user_request"
	TypeWork         Type = "work"
	TypeNotification Type = "notification"
)

// Task is the persisted task record.
type Task struct {
	TaskID         string     `json:"task_id"`
	Type           Type       `json:"task_type"`
	Payload        Payload    `json:"payload"`
	State          State      `json:"state"`
	ArtifactRefs   []string   `json:"artifact_refs"`
	ClaimedBy      string     `json:"claimed_by,omitempty"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ClaimExpired reports whether the task's lease is absent or past now.
func (t *Task) ClaimExpired(now time.Time) bool {
	if t.ClaimedBy == "" || t.ClaimExpiresAt == nil {
		return true
	}
	return !t.ClaimExpiresAt.After(now)
}

// Clone returns a deep copy so store callers never alias persisted state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	dup := *t
	dup.Payload = t.Payload.Clone()
	dup.ArtifactRefs = append([]string(nil), t.ArtifactRefs...)
	if t.ClaimExpiresAt != nil {
		expires := *t.ClaimExpiresAt
		dup.ClaimExpiresAt = &expires
	}
	return &dup
}

// Filter selects tasks by equality on task attributes. Zero-valued fields
// match anything.
type Filter struct {
	TaskID string
	Type   Type
	State  State
}

// Matches reports whether t satisfies every set filter field.
func (f Filter) Matches(t *Task) bool {
	if t == nil {
		return false
	}
	if f.TaskID != "" && t.TaskID != f.TaskID {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.State != "" && t.State != f.State {
		return false
	}
	return true
}

// Patch describes a partial task update. Payload entries are deep-merged
// into the existing payload: map-valued keys merge recursively, everything
// else replaces. A nil entry value deletes the key, mirroring a JSON null.
type Patch struct {
	State        *State
	Payload      Payload
	ArtifactRefs []string // non-nil replaces the ref list
	ClearLease   bool
}

// Store is the task persistence port.
//
// All operations are total: lookups on missing rows return (nil, nil).
// Physical storage failures are reported as errors wrapping
// ErrStoreUnavailable. Claim must be atomic with respect to concurrent
// callers and must never expose a torn state.
type Store interface {
	// Create persists a new task in state queued and returns it.
	Create(ctx context.Context, taskType Type, payload Payload) (*Task, error)

	// Get returns the task, or (nil, nil) when absent.
	Get(ctx context.Context, taskID string) (*Task, error)

	// Update applies the patch and refreshes UpdatedAt. Returns (nil, nil)
	// when the task does not exist.
	Update(ctx context.Context, taskID string, patch Patch) (*Task, error)

	// List returns tasks matching the filter in creation order.
	List(ctx context.Context, filter Filter) ([]*Task, error)

	// Claim atomically selects the first task matching filter whose state is
	// queued or running and whose lease is absent or expired, marks it
	// running under claimerID with the given TTL, and returns it. Returns
	// (nil, nil) when no candidate matched.
	Claim(ctx context.Context, filter Filter, claimerID string, ttl time.Duration) (*Task, error)

	// Complete sets state done and clears the lease. No-op on terminal tasks.
	Complete(ctx context.Context, taskID string) (*Task, error)

	// Fail sets state failed, clears the lease, and merges {error: info}
	// into the payload. No-op on terminal tasks.
	Fail(ctx context.Context, taskID string, info map[string]any) (*Task, error)
}
