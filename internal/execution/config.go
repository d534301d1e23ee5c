package execution

import "time"

// Config holds the scheduling knobs shared by the dispatcher, the worker
// pool, the loop, and the session.
type Config struct {
	// WorkerCount bounds in-flight parallelism.
	WorkerCount int
	// PollInterval is the loop sleep between ticks.
	PollInterval time.Duration
	// WorkerTimeout bounds in-flight execution wall time.
	WorkerTimeout time.Duration
	// WorkQueueTimeout bounds the time a claimed task may wait for a worker.
	WorkQueueTimeout time.Duration
	// MainRunnerTimeout bounds the synchronous main-path runner.
	MainRunnerTimeout time.Duration
	// ClaimTTL is the lease length for claims taken by the dispatcher and
	// the session.
	ClaimTTL time.Duration
	// ConversationID scopes the session's turn journal.
	ConversationID string
}

// DefaultConfig returns the recognized option defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:       2,
		PollInterval:      200 * time.Millisecond,
		WorkerTimeout:     10 * time.Minute,
		WorkQueueTimeout:  30 * time.Minute,
		MainRunnerTimeout: 10 * time.Minute,
		ClaimTTL:          30 * time.Second,
		ConversationID:    "default",
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.WorkerCount <= 0 {
		c.WorkerCount = defaults.WorkerCount
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.WorkerTimeout == 0 {
		c.WorkerTimeout = defaults.WorkerTimeout
	}
	if c.WorkQueueTimeout == 0 {
		c.WorkQueueTimeout = defaults.WorkQueueTimeout
	}
	if c.MainRunnerTimeout == 0 {
		c.MainRunnerTimeout = defaults.MainRunnerTimeout
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = defaults.ClaimTTL
	}
	if c.ConversationID == "" {
		c.ConversationID = defaults.ConversationID
	}
	return c
}
