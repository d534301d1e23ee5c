// Package artifact defines durable artifact records and the search index
// port used for content recall.
package artifact

import (
	"context"
	"time"
)

// Artifact is a stored artifact record.
type Artifact struct {
	ArtifactID string         `json:"artifact_id"`
	MediaType  string         `json:"media_type"`
	Body       string         `json:"body"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Query selects artifacts. Text queries rank through the search index;
// the remaining fields filter by equality.
type Query struct {
	Text      string
	Limit     int
	MediaType string
	Metadata  map[string]any
}

// Store is the artifact persistence port.
type Store interface {
	// Write stores a new artifact under a generated id.
	Write(ctx context.Context, mediaType, body string, metadata map[string]any) (*Artifact, error)

	// Read returns the artifact, or (nil, nil) when absent.
	Read(ctx context.Context, artifactID string) (*Artifact, error)

	// WriteNamed stores an artifact under a caller-chosen id, replacing any
	// previous content. Idempotent.
	WriteNamed(ctx context.Context, artifactID, mediaType, body string, metadata map[string]any) (*Artifact, error)

	// Search returns artifacts matching the query, ranked when a text query
	// is present.
	Search(ctx context.Context, query Query) ([]*Artifact, error)
}

// SearchIndex is the external ranking contract: given a query, return
// ranked artifact ids. The reference implementations live in
// internal/index.
type SearchIndex interface {
	Upsert(ctx context.Context, artifactID, body string, metadata map[string]string) error
	Search(ctx context.Context, text string, limit int) ([]string, error)
}
