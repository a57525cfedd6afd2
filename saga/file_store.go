package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore provides a file-based implementation of Store that persists
// saga state as JSON files on disk.
type FileStore[T any] struct {
	basePath string
	mu       sync.Mutex // Protects file operations
}

// NewFileStore creates a new file-based store that saves saga state
// to the specified directory.
func NewFileStore[T any](basePath string) (*FileStore[T], error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileStore[T]{
		basePath: basePath,
	}, nil
}

// Save persists the saga state to a JSON file.
func (f *FileStore[T]) Save(ctx context.Context, sagaID string, state State[T]) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	state.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write to a temp file first so a crash never leaves a truncated state.
	filename := f.filename(sagaID)
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}

// Load retrieves the saga state from a JSON file.
func (f *FileStore[T]) Load(ctx context.Context, sagaID string) (*State[T], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.load(f.filename(sagaID), sagaID)
}

func (f *FileStore[T]) load(filename, sagaID string) (*State[T], error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("saga %s: %w", sagaID, ErrStateNotFound)
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state State[T]
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, DeserializeFailed(err)
	}

	return &state, nil
}

// Delete removes the saga state file.
func (f *FileStore[T]) Delete(ctx context.Context, sagaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.filename(sagaID)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete state file: %w", err)
	}

	return nil
}

// List reads every state file in the base directory.
func (f *FileStore[T]) List(ctx context.Context) ([]*State[T], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var states []*State[T]
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		sagaID := strings.TrimSuffix(entry.Name(), ".json")
		state, err := f.load(filepath.Join(f.basePath, entry.Name()), sagaID)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", entry.Name(), err)
		}
		states = append(states, state)
	}
	sortStates(states)
	return states, nil
}

// filename returns the full path for a saga's state file.
func (f *FileStore[T]) filename(sagaID string) string {
	return filepath.Join(f.basePath, sagaID+".json")
}
