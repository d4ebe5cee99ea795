package batch

import (
	"fmt"

	"tts-batch/internal/domain"
)

// SnapshotName is the well-known key the current batch is persisted under.
const SnapshotName = "synthesisTasks"

// SnapshotStore persists the task list of the current batch without audio.
type SnapshotStore interface {
	Load() ([]domain.Task, error)
	Save(tasks []domain.Task) error
	Clear() error
}

// Store holds the ordered tasks of one batch. It is not safe for
// concurrent use; the owning session serialises access.
type Store struct {
	tasks     []domain.Task
	snapshots SnapshotStore
}

// NewStore wraps tasks with an optional snapshot backend.
func NewStore(tasks []domain.Task, snapshots SnapshotStore) *Store {
	return &Store{
		tasks:     append([]domain.Task(nil), tasks...),
		snapshots: snapshots,
	}
}

// Len returns the number of tasks in the batch.
func (s *Store) Len() int {
	return len(s.tasks)
}

// Get returns the task at index including its audio.
func (s *Store) Get(index int) (domain.Task, error) {
	if index < 0 || index >= len(s.tasks) {
		return domain.Task{}, fmt.Errorf("%w: %d", ErrTaskIndex, index)
	}
	return s.tasks[index], nil
}

// All returns copies of every task without audio.
func (s *Store) All() []domain.Task {
	out := make([]domain.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task.WithoutAudio())
	}
	return out
}

// Persist overwrites the stored snapshot with the current batch.
func (s *Store) Persist() error {
	if s.snapshots == nil {
		return nil
	}
	if err := s.snapshots.Save(s.All()); err != nil {
		return fmt.Errorf("persist %s: %w", SnapshotName, err)
	}
	return nil
}

// Restore reloads the last persisted batch. A missing snapshot yields no tasks.
func (s *Store) Restore() ([]domain.Task, error) {
	if s.snapshots == nil {
		return []domain.Task{}, nil
	}
	tasks, err := s.snapshots.Load()
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", SnapshotName, err)
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, nil
}

// Requeue prepares restored tasks for a fresh session: work that was in
// flight or waiting on a backoff timer did not survive and is queued
// again with its retry count kept.
func Requeue(tasks []domain.Task) []domain.Task {
	out := make([]domain.Task, 0, len(tasks))
	for _, task := range tasks {
		switch task.Status {
		case domain.TaskStatusProcessing, domain.TaskStatusFailed:
			task.Status = domain.TaskStatusQueued
			task.RequestID = ""
		}
		if task.MaxRetries < 0 {
			task.MaxRetries = domain.DefaultMaxRetries
		}
		if task.RetryCount > task.MaxRetries {
			task.RetryCount = task.MaxRetries
		}
		out = append(out, task)
	}
	return out
}
