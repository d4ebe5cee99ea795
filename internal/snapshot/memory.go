package snapshot

import (
	"sync"

	"tts-batch/internal/batch"
	"tts-batch/internal/domain"
)

var _ batch.SnapshotStore = (*Memory)(nil)

// Memory keeps the snapshot in process. Nothing survives a restart.
type Memory struct {
	mu    sync.Mutex
	tasks []domain.Task
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{}
}

// Load returns a copy of the saved tasks.
func (m *Memory) Load() ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyTasks(m.tasks), nil
}

// Save replaces the saved tasks.
func (m *Memory) Save(tasks []domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = copyTasks(tasks)
	return nil
}

// Clear drops the saved tasks.
func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = nil
	return nil
}

func copyTasks(tasks []domain.Task) []domain.Task {
	out := make([]domain.Task, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.WithoutAudio())
	}
	return out
}
