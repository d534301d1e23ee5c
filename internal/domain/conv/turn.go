// Package conv defines the conversation journal: one Turn per user message,
// answered in place when the assistant responds.
package conv

import (
	"context"
	"time"
)

// Turn is a conversation journal entry.
type Turn struct {
	TurnID           string         `json:"turn_id"`
	ConversationID   string         `json:"conversation_id"`
	UserMessage      string         `json:"user_message"`
	AssistantMessage string         `json:"assistant_message,omitempty"`
	Artifacts        []string       `json:"artifacts"`
	Metadata         map[string]any `json:"metadata"`
	RelatedTaskID    string         `json:"related_task_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Store is the turn persistence port. Lookups on missing rows return
// (nil, nil); physical failures wrap the store-unavailable sentinel.
type Store interface {
	// AppendUser records a new user turn and returns it.
	AppendUser(ctx context.Context, conversationID, userMessage, relatedTaskID string) (*Turn, error)

	// SetAssistant fills in the assistant half of an existing turn.
	SetAssistant(ctx context.Context, turnID, assistantMessage string, artifacts []string, metadata map[string]any) (*Turn, error)

	// ListRecent returns the last limit turns of a conversation in
	// chronological order, newest last.
	ListRecent(ctx context.Context, conversationID string, limit int) ([]*Turn, error)
}
