package batch

import (
	"errors"

	"tts-batch/internal/domain"
)

// ErrNoBatch is returned when an operation needs a batch and none exists.
var ErrNoBatch = errors.New("no batch")

// ErrTaskIndex is returned for an index outside the current batch.
var ErrTaskIndex = errors.New("task index out of range")

// ErrNotRetryable is returned when manual retry targets a task that is not permanently failed.
var ErrNotRetryable = errors.New("task is not permanently failed")

// ErrSessionClosed is returned by a session after Close.
var ErrSessionClosed = errors.New("batch session closed")

// isValidTransition enforces the task state machine edges.
func isValidTransition(from, to domain.TaskStatus) bool {
	switch from {
	case domain.TaskStatusQueued:
		return to == domain.TaskStatusProcessing
	case domain.TaskStatusProcessing:
		return to == domain.TaskStatusCompleted || to == domain.TaskStatusFailed || to == domain.TaskStatusPermanentlyFailed
	case domain.TaskStatusFailed:
		return to == domain.TaskStatusProcessing
	case domain.TaskStatusPermanentlyFailed:
		return to == domain.TaskStatusQueued
	default:
		return false
	}
}

// ErrNoAudio is returned when audio is requested for a task that has none.
var ErrNoAudio = errors.New("task has no audio")

// ErrBatchActive is returned for bulk operations while tasks are still queued or processing.
var ErrBatchActive = errors.New("batch still has active tasks")
