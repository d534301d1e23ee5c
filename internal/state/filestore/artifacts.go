package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/if001/trikernel/internal/domain/artifact"
	"github.com/if001/trikernel/internal/index"
	"github.com/if001/trikernel/internal/logging"
	"github.com/if001/trikernel/internal/state"
)

const defaultArtifactCacheSize = 256

// artifactStore keeps one JSON file per artifact and mirrors every write
// into the search index. Reads go through an LRU cache keyed by id.
type artifactStore struct {
	mu     sync.Mutex
	dir    string
	index  artifact.SearchIndex
	cache  *lru.Cache[string, *artifact.Artifact]
	logger logging.Logger
}

func newArtifactStore(dir string, searchIndex artifact.SearchIndex, cacheSize int, logger logging.Logger) (*artifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", state.ErrStoreUnavailable, dir, err)
	}
	if searchIndex == nil {
		searchIndex = index.NewKeyword()
	}
	if cacheSize <= 0 {
		cacheSize = defaultArtifactCacheSize
	}
	cache, err := lru.New[string, *artifact.Artifact](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("%w: artifact cache: %v", state.ErrStoreUnavailable, err)
	}
	s := &artifactStore{dir: dir, index: searchIndex, cache: cache, logger: logger}
	if err := s.rebuildIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *artifactStore) path(artifactID string) string {
	return filepath.Join(s.dir, artifactID+".json")
}

func (s *artifactStore) Write(ctx context.Context, mediaType, body string, metadata map[string]any) (*artifact.Artifact, error) {
	return s.WriteNamed(ctx, uuid.NewString(), mediaType, body, metadata)
}

func (s *artifactStore) WriteNamed(ctx context.Context, artifactID, mediaType, body string, metadata map[string]any) (*artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if metadata == nil {
		metadata = map[string]any{}
	}
	record := &artifact.Artifact{
		ArtifactID: artifactID,
		MediaType:  mediaType,
		Body:       body,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}
	if err := writeJSONFile(s.path(artifactID), record); err != nil {
		return nil, err
	}
	s.cache.Add(artifactID, record)
	if err := s.index.Upsert(ctx, artifactID, body, indexMetadata(record)); err != nil {
		s.logger.Warn("artifact index upsert failed: %s: %v", artifactID, err)
	}
	return cloneArtifact(record), nil
}

func (s *artifactStore) Read(_ context.Context, artifactID string) (*artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(artifactID)
}

func (s *artifactStore) readLocked(artifactID string) (*artifact.Artifact, error) {
	if cached, ok := s.cache.Get(artifactID); ok {
		return cloneArtifact(cached), nil
	}
	path := s.path(artifactID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	var record artifact.Artifact
	if err := readJSONFile(path, &record); err != nil {
		return nil, err
	}
	s.cache.Add(artifactID, &record)
	return cloneArtifact(&record), nil
}

func (s *artifactStore) Search(ctx context.Context, query artifact.Query) ([]*artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := query.Limit
	if limit <= 0 {
		limit = 5
	}
	if query.Text != "" {
		ids, err := s.index.Search(ctx, query.Text, limit)
		if err != nil {
			return nil, fmt.Errorf("artifact search: %w", err)
		}
		results := make([]*artifact.Artifact, 0, len(ids))
		for _, id := range ids {
			record, err := s.readLocked(id)
			if err != nil {
				return nil, err
			}
			if record != nil && matchesQuery(record, query) {
				results = append(results, record)
			}
		}
		return results, nil
	}
	all, err := s.listLocked()
	if err != nil {
		return nil, err
	}
	results := make([]*artifact.Artifact, 0, len(all))
	for _, record := range all {
		if matchesQuery(record, query) {
			results = append(results, record)
		}
	}
	return results, nil
}

func (s *artifactStore) listLocked() ([]*artifact.Artifact, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", state.ErrStoreUnavailable, s.dir, err)
	}
	var all []*artifact.Artifact
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		record, err := s.readLocked(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		if record != nil {
			all = append(all, record)
		}
	}
	return all, nil
}

// rebuildIndex replays every stored artifact into the search index so text
// queries survive process restarts even with a volatile index.
func (s *artifactStore) rebuildIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.listLocked()
	if err != nil {
		return err
	}
	ctx := context.Background()
	for _, record := range all {
		if err := s.index.Upsert(ctx, record.ArtifactID, record.Body, indexMetadata(record)); err != nil {
			s.logger.Warn("artifact index rebuild: %s: %v", record.ArtifactID, err)
		}
	}
	return nil
}

func matchesQuery(record *artifact.Artifact, query artifact.Query) bool {
	if query.MediaType != "" && record.MediaType != query.MediaType {
		return false
	}
	for key, want := range query.Metadata {
		if record.Metadata[key] != want {
			return false
		}
	}
	return true
}

func indexMetadata(record *artifact.Artifact) map[string]string {
	meta := map[string]string{"media_type": record.MediaType}
	for key, value := range record.Metadata {
		if text, ok := value.(string); ok {
			meta[key] = text
		}
	}
	return meta
}

func cloneArtifact(a *artifact.Artifact) *artifact.Artifact {
	if a == nil {
		return nil
	}
	dup := *a
	if a.Metadata != nil {
		dup.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			dup.Metadata[k] = v
		}
	}
	return &dup
}
