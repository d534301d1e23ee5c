// Package filestore is the reference persistence backend: one JSON file per
// kind serialized under a per-store mutex, with atomic temp-file renames so
// a crash never leaves a torn file. A compliant replacement may substitute a
// database, provided the atomic claim contract holds.
package filestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/if001/trikernel/internal/domain/artifact"
	"github.com/if001/trikernel/internal/logging"
	"github.com/if001/trikernel/internal/state"
)

// Options configures Open.
type Options struct {
	// Index ranks artifact text queries. Defaults to the in-memory keyword
	// index when nil; production wires the chromem index.
	Index artifact.SearchIndex
	// ArtifactCacheSize bounds the artifact read cache (default 256).
	ArtifactCacheSize int
	Logger            logging.Logger
}

// Open builds a state kernel rooted at dataDir.
func Open(dataDir string, opts Options) (*state.Kernel, error) {
	if strings.HasPrefix(dataDir, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			dataDir = filepath.Join(home, dataDir[2:])
		}
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", state.ErrStoreUnavailable, dataDir, err)
	}
	logger := logging.OrNop(opts.Logger)

	tasks := newTaskStore(filepath.Join(dataDir, "tasks.json"), logger)
	turns := newTurnStore(filepath.Join(dataDir, "turns.json"), logger)
	artifacts, err := newArtifactStore(filepath.Join(dataDir, "artifacts"), opts.Index, opts.ArtifactCacheSize, logger)
	if err != nil {
		return nil, err
	}
	return state.New(tasks, turns, artifacts), nil
}

// readJSONFile loads path into out, treating a missing file as empty.
func readJSONFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: read %s: %v", state.ErrStoreUnavailable, path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", state.ErrStoreUnavailable, path, err)
	}
	return nil
}

// writeJSONFile persists v at path atomically via temp file and rename.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", state.ErrStoreUnavailable, path, err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: temp file in %s: %v", state.ErrStoreUnavailable, dir, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: write %s: %v", state.ErrStoreUnavailable, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close %s: %v", state.ErrStoreUnavailable, tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename %s: %v", state.ErrStoreUnavailable, path, err)
	}
	return nil
}
