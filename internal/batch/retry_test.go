package batch

import (
	"sync/atomic"
	"testing"
	"time"

	"tts-batch/internal/domain"
)

// TestBackoff verifies the doubling delay sequence.
func TestBackoff(t *testing.T) {
	base := 2000 * time.Millisecond
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, expected := range want {
		if got := Backoff(base, i+1); got != expected {
			t.Fatalf("Backoff(%d) = %v, want %v", i+1, got, expected)
		}
	}
	if got := Backoff(base, 0); got != base {
		t.Fatalf("Backoff(0) = %v, want %v", got, base)
	}
}

// TestIsValidTransition checks state machine edges.
func TestIsValidTransition(t *testing.T) {
	allowed := [][2]domain.TaskStatus{
		{domain.TaskStatusQueued, domain.TaskStatusProcessing},
		{domain.TaskStatusProcessing, domain.TaskStatusCompleted},
		{domain.TaskStatusProcessing, domain.TaskStatusFailed},
		{domain.TaskStatusProcessing, domain.TaskStatusPermanentlyFailed},
		{domain.TaskStatusFailed, domain.TaskStatusProcessing},
		{domain.TaskStatusPermanentlyFailed, domain.TaskStatusQueued},
	}
	for _, edge := range allowed {
		if !isValidTransition(edge[0], edge[1]) {
			t.Fatalf("%s -> %s should be allowed", edge[0], edge[1])
		}
	}

	rejected := [][2]domain.TaskStatus{
		{domain.TaskStatusQueued, domain.TaskStatusCompleted},
		{domain.TaskStatusCompleted, domain.TaskStatusQueued},
		{domain.TaskStatusFailed, domain.TaskStatusQueued},
		{domain.TaskStatusFailed, domain.TaskStatusPermanentlyFailed},
		{domain.TaskStatusPermanentlyFailed, domain.TaskStatusProcessing},
	}
	for _, edge := range rejected {
		if isValidTransition(edge[0], edge[1]) {
			t.Fatalf("%s -> %s should be rejected", edge[0], edge[1])
		}
	}
}

// TestSchedulerStartStopIdempotent verifies one ticker per run and safe repeated calls.
func TestSchedulerStartStopIdempotent(t *testing.T) {
	clock := &fakeClock{}
	var ticks atomic.Int32
	s := newScheduler(clock, time.Second, func() { ticks.Add(1) })

	s.Start()
	s.Start()
	if clock.tickerCount() != 1 {
		t.Fatalf("tickers = %d, want 1", clock.tickerCount())
	}
	if !s.Running() {
		t.Fatal("scheduler should be running")
	}

	clock.tickers[0].ch <- time.Now()
	waitFor(t, "tick", func() bool { return ticks.Load() == 1 })

	s.Stop()
	s.Stop()
	if s.Running() {
		t.Fatal("scheduler should be stopped")
	}
	if !clock.tickers[0].isStopped() {
		t.Fatal("ticker was not stopped")
	}

	s.Start()
	if clock.tickerCount() != 2 {
		t.Fatalf("tickers = %d, want 2 after restart", clock.tickerCount())
	}
	s.Stop()
}

// TestAggregate verifies counts and eligibility flags.
func TestAggregate(t *testing.T) {
	tasks := []domain.Task{
		{Status: domain.TaskStatusCompleted, ResultAudio: []byte("a")},
		{Status: domain.TaskStatusCompleted},
		{Status: domain.TaskStatusFailed},
		{Status: domain.TaskStatusPermanentlyFailed},
		{Status: domain.TaskStatusQueued},
		{Status: domain.TaskStatusProcessing},
	}

	counts := Aggregate(tasks)
	want := domain.Counts{Total: 6, Queued: 1, Processing: 1, Completed: 2, Failed: 1, PermanentlyFailed: 1}
	if counts != want {
		t.Fatalf("counts = %+v, want %+v", counts, want)
	}
	if counts.Settled() || counts.BulkDownloadReady() {
		t.Fatal("batch with active tasks reported settled")
	}
	if got := len(Completed(tasks)); got != 1 {
		t.Fatalf("Completed() = %d tasks, want 1", got)
	}
}

// TestBulkDownloadReadyNeedsAudio verifies readiness depends on held audio,
// not only on completed statuses.
func TestBulkDownloadReadyNeedsAudio(t *testing.T) {
	restored := []domain.Task{
		{Status: domain.TaskStatusCompleted},
		{Status: domain.TaskStatusPermanentlyFailed},
	}
	if !Aggregate(restored).BulkDownloadReady() {
		t.Fatal("counts should report a settled batch with completed tasks")
	}
	if BulkDownloadReady(restored) {
		t.Fatal("restored tasks without audio reported ready")
	}

	withAudio := append([]domain.Task{{Status: domain.TaskStatusCompleted, ResultAudio: []byte("x")}}, restored...)
	if !BulkDownloadReady(withAudio) {
		t.Fatal("settled batch with audio reported not ready")
	}

	withAudio = append(withAudio, domain.Task{Status: domain.TaskStatusFailed})
	if BulkDownloadReady(withAudio) {
		t.Fatal("batch waiting on backoff reported ready")
	}
}
