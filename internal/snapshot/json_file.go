package snapshot

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"tts-batch/internal/batch"
	"tts-batch/internal/domain"
)

var _ batch.SnapshotStore = (*JSONFile)(nil)

// JSONFile persists the batch as one indented JSON array on disk.
type JSONFile struct {
	mu   sync.Mutex
	path string
}

// NewJSONFile creates a file-backed snapshot store.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

// Path returns the snapshot file location.
func (s *JSONFile) Path() string {
	return s.path
}

// Load reads the snapshot or returns no tasks when the file is missing.
func (s *JSONFile) Load() ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.Task{}, nil
		}
		return nil, err
	}

	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, nil
}

// Save overwrites the snapshot and creates parent directories.
func (s *JSONFile) Save(tasks []domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	stripped := make([]domain.Task, 0, len(tasks))
	for _, task := range tasks {
		stripped = append(stripped, task.WithoutAudio())
	}

	data, err := json.MarshalIndent(stripped, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o644)
}

// Clear removes the snapshot file.
func (s *JSONFile) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
