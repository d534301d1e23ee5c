// Package state assembles the persistence ports into the process-wide state
// kernel handle. There are no ambient globals: the kernel is constructed
// once and injected into the session, the dispatcher, the workers, and the
// tools, so construction order dictates ownership.
package state

import (
	"errors"

	"github.com/if001/trikernel/internal/domain/artifact"
	"github.com/if001/trikernel/internal/domain/conv"
	"github.com/if001/trikernel/internal/domain/task"
)

// ErrStoreUnavailable marks physical storage failures. Logical misses
// (missing rows) are reported as (nil, nil), never as errors.
var ErrStoreUnavailable = errors.New("state store unavailable")

// Kernel bundles the three stores behind one handle.
type Kernel struct {
	Tasks     task.Store
	Turns     conv.Store
	Artifacts artifact.Store
}

// New builds a kernel from explicit store implementations.
func New(tasks task.Store, turns conv.Store, artifacts artifact.Store) *Kernel {
	return &Kernel{Tasks: tasks, Turns: turns, Artifacts: artifacts}
}
