package batch

import (
	"github.com/samber/lo"

	"tts-batch/internal/domain"
)

// Aggregate counts tasks by status.
func Aggregate(tasks []domain.Task) domain.Counts {
	count := func(status domain.TaskStatus) int {
		return lo.CountBy(tasks, func(task domain.Task) bool {
			return task.Status == status
		})
	}

	return domain.Counts{
		Total:             len(tasks),
		Queued:            count(domain.TaskStatusQueued),
		Processing:        count(domain.TaskStatusProcessing),
		Completed:         count(domain.TaskStatusCompleted),
		Failed:            count(domain.TaskStatusFailed),
		PermanentlyFailed: count(domain.TaskStatusPermanentlyFailed),
	}
}

// BulkDownloadReady reports whether nothing is active and at least one
// completed task still holds audio. Tasks restored from a snapshot have none.
func BulkDownloadReady(tasks []domain.Task) bool {
	return Aggregate(tasks).Active() == 0 && lo.SomeBy(tasks, func(task domain.Task) bool {
		return task.HasAudio()
	})
}

// Completed returns the completed tasks that hold audio, in batch order.
func Completed(tasks []domain.Task) []domain.Task {
	return lo.Filter(tasks, func(task domain.Task, _ int) bool {
		return task.HasAudio()
	})
}
