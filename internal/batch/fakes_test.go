package batch

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"tts-batch/internal/domain"
	"tts-batch/internal/synth"
)

var errBoom = errors.New("boom")

const testRefAudio = "data:audio/wav;base64,UklGRiQAAABXQVZF"

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeTimer struct {
	clock   *fakeClock
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

// fakeClock hands out manual tickers and records every backoff delay.
type fakeClock struct {
	mu      sync.Mutex
	tickers []*fakeTicker
	timers  []*fakeTimer
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	ticker := &fakeTicker{ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, ticker)
	return ticker
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &fakeTimer{clock: c, delay: d, f: f}
	c.timers = append(c.timers, timer)
	return timer
}

// fire runs every pending timer and returns how many ran.
func (c *fakeClock) fire() int {
	c.mu.Lock()
	var due []*fakeTimer
	for _, timer := range c.timers {
		if !timer.stopped && !timer.fired {
			timer.fired = true
			due = append(due, timer)
		}
	}
	c.mu.Unlock()

	for _, timer := range due {
		timer.f()
	}
	return len(due)
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, 0, len(c.timers))
	for _, timer := range c.timers {
		out = append(out, timer.delay)
	}
	return out
}

func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, timer := range c.timers {
		if !timer.stopped && !timer.fired {
			count++
		}
	}
	return count
}

func (c *fakeClock) tickerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

// fakeSubmitter fails each model key with its scripted errors, then succeeds.
type fakeSubmitter struct {
	mu     sync.Mutex
	script map[string][]error
	calls  map[string]int
	submit func(ctx context.Context, req synth.Request) (domain.Audio, error)
}

func newFakeSubmitter(script map[string][]error) *fakeSubmitter {
	if script == nil {
		script = map[string][]error{}
	}
	return &fakeSubmitter{script: script, calls: map[string]int{}}
}

func (f *fakeSubmitter) Submit(ctx context.Context, req synth.Request) (domain.Audio, error) {
	f.mu.Lock()
	key := req.Task.ModelKey
	call := f.calls[key]
	f.calls[key]++
	var err error
	if call < len(f.script[key]) {
		err = f.script[key][call]
	}
	submit := f.submit
	f.mu.Unlock()

	if submit != nil {
		return submit(ctx, req)
	}
	if err != nil {
		return domain.Audio{}, err
	}
	return domain.Audio{Data: []byte("audio-" + key), ContentType: "audio/wav"}, nil
}

func (f *fakeSubmitter) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// memorySnapshots is an in-package SnapshotStore.
type memorySnapshots struct {
	mu      sync.Mutex
	tasks   []domain.Task
	saves   int
	saveErr error
}

func (m *memorySnapshots) Load() ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Task(nil), m.tasks...), nil
}

func (m *memorySnapshots) Save(tasks []domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.tasks = append([]domain.Task(nil), tasks...)
	return nil
}

func (m *memorySnapshots) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = nil
	return nil
}

func (m *memorySnapshots) saved() []domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Task(nil), m.tasks...)
}

func testSubmission(models ...string) Submission {
	sub := Submission{
		RefAudio: testRefAudio,
		RefText:  "reference text",
		GenText:  "hello world",
	}
	for _, model := range models {
		sub.Selections = append(sub.Selections, domain.Selection{GroupName: "F5", ModelName: model})
	}
	return sub
}

func testTasks(t *testing.T, models ...string) []domain.Task {
	t.Helper()
	tasks, err := CreateBatch(testSubmission(models...), 3)
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	return tasks
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func taskStatus(s *Session, index int) domain.TaskStatus {
	task, err := s.Task(index)
	if err != nil {
		return ""
	}
	return task.Status
}

func waitForTask(t *testing.T, s *Session, index int, status domain.TaskStatus, retryCount int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, _ := s.Task(index)
		if task.Status == status && task.RetryCount == retryCount {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := s.Task(index)
	t.Fatalf("task %d = %s/%d, want %s/%d", index, task.Status, task.RetryCount, status, retryCount)
}
