package telemetry

import "tts-batch/internal/domain"

// Recorder receives every task transition of a batch.
type Recorder interface {
	RecordTransition(batchID string, index int, task domain.Task)
}

// Nop discards transitions.
type Nop struct{}

// RecordTransition does nothing.
func (Nop) RecordTransition(string, int, domain.Task) {}
