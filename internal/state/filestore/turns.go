package filestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/if001/trikernel/internal/domain/conv"
	"github.com/if001/trikernel/internal/logging"
)

type turnStore struct {
	mu     sync.Mutex
	path   string
	logger logging.Logger
}

func newTurnStore(path string, logger logging.Logger) *turnStore {
	return &turnStore{path: path, logger: logger}
}

func (s *turnStore) readAll() (map[string]*conv.Turn, error) {
	data := map[string]*conv.Turn{}
	if err := readJSONFile(s.path, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *turnStore) AppendUser(_ context.Context, conversationID, userMessage, relatedTaskID string) (*conv.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readAll()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	turn := &conv.Turn{
		TurnID:         uuid.NewString(),
		ConversationID: conversationID,
		UserMessage:    userMessage,
		Artifacts:      []string{},
		Metadata:       map[string]any{},
		RelatedTaskID:  relatedTaskID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	data[turn.TurnID] = turn
	if err := writeJSONFile(s.path, data); err != nil {
		return nil, err
	}
	return cloneTurn(turn), nil
}

func (s *turnStore) SetAssistant(_ context.Context, turnID, assistantMessage string, artifacts []string, metadata map[string]any) (*conv.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readAll()
	if err != nil {
		return nil, err
	}
	turn := data[turnID]
	if turn == nil {
		return nil, nil
	}
	turn.AssistantMessage = assistantMessage
	turn.Artifacts = append([]string(nil), artifacts...)
	if metadata == nil {
		metadata = map[string]any{}
	}
	turn.Metadata = metadata
	turn.UpdatedAt = time.Now().UTC()
	if err := writeJSONFile(s.path, data); err != nil {
		return nil, err
	}
	return cloneTurn(turn), nil
}

func (s *turnStore) ListRecent(_ context.Context, conversationID string, limit int) ([]*conv.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readAll()
	if err != nil {
		return nil, err
	}
	turns := make([]*conv.Turn, 0, len(data))
	for _, turn := range data {
		if turn.ConversationID == conversationID {
			turns = append(turns, cloneTurn(turn))
		}
	}
	// Newest first, take limit, then flip to chronological order.
	sort.Slice(turns, func(i, j int) bool {
		if turns[i].CreatedAt.Equal(turns[j].CreatedAt) {
			return turns[i].TurnID > turns[j].TurnID
		}
		return turns[i].CreatedAt.After(turns[j].CreatedAt)
	})
	if limit > 0 && len(turns) > limit {
		turns = turns[:limit]
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func cloneTurn(t *conv.Turn) *conv.Turn {
	if t == nil {
		return nil
	}
	dup := *t
	dup.Artifacts = append([]string(nil), t.Artifacts...)
	if t.Metadata != nil {
		dup.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			dup.Metadata[k] = v
		}
	}
	return &dup
}
