package index

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
)

// Chromem is a vector artifact index persisted through chromem-go. The
// embedding function is injected so the index stays decoupled from any one
// model provider.
type Chromem struct {
	collection *chromem.Collection
}

// NewChromem opens (or creates) a persistent vector index under dir. An
// empty dir keeps the index in memory.
func NewChromem(dir string, embed chromem.EmbeddingFunc) (*Chromem, error) {
	if embed == nil {
		return nil, fmt.Errorf("chromem index: embedding function required")
	}
	var (
		db  *chromem.DB
		err error
	)
	if dir == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("chromem index: open %s: %w", dir, err)
		}
	}
	collection, err := db.GetOrCreateCollection("artifacts", nil, embed)
	if err != nil {
		return nil, fmt.Errorf("chromem index: collection: %w", err)
	}
	return &Chromem{collection: collection}, nil
}

// Upsert embeds and stores the artifact body under its id.
func (c *Chromem) Upsert(ctx context.Context, artifactID, body string, metadata map[string]string) error {
	if body == "" {
		// chromem rejects empty documents; an empty body has nothing to rank.
		return nil
	}
	doc := chromem.Document{ID: artifactID, Content: body, Metadata: metadata}
	if err := c.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("chromem index: upsert %s: %w", artifactID, err)
	}
	return nil
}

// Search returns up to limit artifact ids ranked by vector similarity.
func (c *Chromem) Search(ctx context.Context, text string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	if count := c.collection.Count(); count < limit {
		if count == 0 {
			return nil, nil
		}
		limit = count
	}
	results, err := c.collection.Query(ctx, text, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem index: query: %w", err)
	}
	ids := make([]string, len(results))
	for i, result := range results {
		ids[i] = result.ID
	}
	return ids, nil
}
