package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tts-batch/internal/domain"
	"tts-batch/internal/synth"
	"tts-batch/internal/telemetry"
)

// DefaultPollInterval is the scheduler tick and the backoff base.
const DefaultPollInterval = 2000 * time.Millisecond

// Submitter performs one synthesis call.
type Submitter interface {
	Submit(ctx context.Context, req synth.Request) (domain.Audio, error)
}

// Options wires a session to its collaborators.
type Options struct {
	ID              string
	Client          Submitter
	Snapshots       SnapshotStore
	Clock           Clock
	PollInterval    time.Duration
	OnStatusChanged func(index int, task domain.Task)
	OnBatchSettled  func(counts domain.Counts)
	OnTaskError     func(index int, task domain.Task, err error)
	Recorder        telemetry.Recorder
	Logger          *log.Logger
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Recorder == nil {
		o.Recorder = telemetry.Nop{}
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// notice is a transition to report once the session lock is released.
type notice struct {
	index int
	task  domain.Task
	err   error
}

// Session drives the tasks of one batch to a settled state.
type Session struct {
	mu        sync.Mutex
	opts      Options
	store     *Store
	scheduler *scheduler
	retries   *retryController
	ctx       context.Context
	cancel    context.CancelFunc
	closed    bool
}

// NewSession creates an idle session over tasks. Call Start to begin.
func NewSession(tasks []domain.Task, opts Options) *Session {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		opts:   opts,
		store:  NewStore(tasks, opts.Snapshots),
		ctx:    ctx,
		cancel: cancel,
	}
	s.scheduler = newScheduler(opts.Clock, opts.PollInterval, s.sweep)
	s.retries = newRetryController(opts.Clock, opts.PollInterval)
	return s
}

// ID returns the batch identifier the session was created with.
func (s *Session) ID() string {
	return s.opts.ID
}

// Start persists the batch and starts the poll scheduler.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.persistLocked()
	total := s.store.Len()
	s.mu.Unlock()

	s.scheduler.Start()
	s.logf("Started batch with %d tasks", total)
	return nil
}

// Tasks returns every task without audio, in batch order.
func (s *Session) Tasks() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.All()
}

// view returns the tasks without audio and whether a bulk download can be
// built, read under one lock.
func (s *Session) view() ([]domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.All(), BulkDownloadReady(s.store.tasks)
}

// Task returns one task including its audio.
func (s *Session) Task(index int) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Get(index)
}

// Completed returns the completed tasks holding audio.
func (s *Session) Completed() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Completed(s.store.tasks)
}

// Counts aggregates the current task statuses.
func (s *Session) Counts() domain.Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Aggregate(s.store.tasks)
}

// Running reports whether the poll scheduler is active.
func (s *Session) Running() bool {
	return s.scheduler.Running()
}

// Retry moves a permanently failed task back to queued and launches it at once.
func (s *Session) Retry(index int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	task, err := s.store.Get(index)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if task.Status != domain.TaskStatusPermanentlyFailed {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotRetryable, task.ModelKey, task.Status)
	}

	task.RetryCount = 0
	task.RequestID = ""
	task.LastError = ""
	task.ResultAudio = nil
	task.ResultType = ""
	s.store.tasks[index] = task

	var notices []notice
	if err := s.transitionLocked(index, domain.TaskStatusQueued, &notices); err != nil {
		s.mu.Unlock()
		return err
	}
	s.persistLocked()
	s.mu.Unlock()

	s.logf("Manually retrying %s", task.ModelKey)
	s.dispatch(notices)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()
	s.scheduler.Start()
	s.sweep()
	return nil
}

// Close stops the scheduler and every backoff timer and abandons in-flight calls.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.retries.stopAll()
	s.mu.Unlock()

	s.scheduler.Close()
	s.cancel()
}

// sweep is one scheduler tick: stop when nothing can move on its own,
// otherwise launch every queued task in store order.
func (s *Session) sweep() {
	s.mu.Lock()
	if s.closed || !s.scheduler.Running() {
		s.mu.Unlock()
		return
	}

	counts := Aggregate(s.store.tasks)
	if counts.Active() == 0 {
		s.scheduler.Stop()
		s.persistLocked()
		s.mu.Unlock()

		s.logf("Polling stopped: %d completed, %d permanently failed", counts.Completed, counts.PermanentlyFailed)
		if s.opts.OnBatchSettled != nil {
			s.opts.OnBatchSettled(counts)
		}
		return
	}

	var notices []notice
	var launches []int
	for index, task := range s.store.tasks {
		if task.Status != domain.TaskStatusQueued {
			continue
		}
		if err := s.transitionLocked(index, domain.TaskStatusProcessing, &notices); err != nil {
			continue
		}
		launches = append(launches, index)
	}
	s.persistLocked()
	launched := s.snapshotLocked(launches)
	s.mu.Unlock()

	s.dispatch(notices)
	for i, index := range launches {
		go s.run(index, launched[i])
	}
}

// relaunch fires from a backoff timer.
func (s *Session) relaunch(index int) {
	s.mu.Lock()
	s.retries.done(index)
	if s.closed || s.store.tasks[index].Status != domain.TaskStatusFailed {
		s.mu.Unlock()
		return
	}

	var notices []notice
	if err := s.transitionLocked(index, domain.TaskStatusProcessing, &notices); err != nil {
		s.mu.Unlock()
		return
	}
	s.persistLocked()
	task := s.store.tasks[index]
	s.mu.Unlock()

	s.logf("Retrying %s (%d/%d)", task.ModelKey, task.RetryCount, task.MaxRetries)
	s.dispatch(notices)
	go s.run(index, task)
}

// run performs the synthesis call for a processing task outside the lock.
func (s *Session) run(index int, task domain.Task) {
	audio, err := s.opts.Client.Submit(s.ctx, synth.Request{
		Task: task,
		OnPending: func(pending synth.Pending) {
			s.recordPending(index, pending)
		},
	})
	if err != nil {
		s.fail(index, err)
		return
	}
	s.complete(index, audio)
}

// recordPending keeps the request id of an asynchronous submission.
func (s *Session) recordPending(index int, pending synth.Pending) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.store.tasks[index].Status != domain.TaskStatusProcessing {
		return
	}
	if s.store.tasks[index].RequestID == pending.RequestID {
		return
	}
	s.store.tasks[index].RequestID = pending.RequestID
	s.persistLocked()
}

func (s *Session) complete(index int, audio domain.Audio) {
	s.mu.Lock()
	if s.closed || s.store.tasks[index].Status != domain.TaskStatusProcessing {
		s.mu.Unlock()
		return
	}

	task := &s.store.tasks[index]
	task.ResultAudio = audio.Data
	task.ResultType = audio.ContentType
	task.LastError = ""

	var notices []notice
	if err := s.transitionLocked(index, domain.TaskStatusCompleted, &notices); err != nil {
		s.mu.Unlock()
		return
	}
	s.persistLocked()
	modelKey := task.ModelKey
	s.mu.Unlock()

	s.logf("Completed %s (%d bytes)", modelKey, len(audio.Data))
	s.dispatch(notices)
}

// fail routes a failed call through the retry policy.
func (s *Session) fail(index int, cause error) {
	s.mu.Lock()
	if s.closed || s.store.tasks[index].Status != domain.TaskStatusProcessing {
		s.mu.Unlock()
		return
	}

	task := &s.store.tasks[index]
	task.LastError = cause.Error()

	var notices []notice
	var delay time.Duration
	switch {
	case errors.Is(cause, synth.ErrRequestExpired):
		_ = s.transitionLocked(index, domain.TaskStatusPermanentlyFailed, &notices)
	case task.RetryCount+1 <= task.MaxRetries:
		task.RetryCount++
		_ = s.transitionLocked(index, domain.TaskStatusFailed, &notices)
		delay = s.retries.schedule(index, task.RetryCount, func() {
			s.relaunch(index)
		})
	default:
		task.RetryCount = task.MaxRetries
		_ = s.transitionLocked(index, domain.TaskStatusPermanentlyFailed, &notices)
	}
	for i := range notices {
		notices[i].err = cause
	}
	s.persistLocked()
	current := *task
	s.mu.Unlock()

	if current.Status == domain.TaskStatusFailed {
		s.logf("Task for %s failed, retrying in %s (%d/%d): %v", current.ModelKey, delay, current.RetryCount, current.MaxRetries, cause)
	} else {
		s.logf("Task for %s permanently failed after %d retries: %v", current.ModelKey, current.RetryCount, cause)
	}
	s.dispatch(notices)
}

// transitionLocked applies a legal status change and queues its notice.
func (s *Session) transitionLocked(index int, to domain.TaskStatus, notices *[]notice) error {
	from := s.store.tasks[index].Status
	if !isValidTransition(from, to) {
		s.logf("Rejected transition for task %d: %s -> %s", index, from, to)
		return fmt.Errorf("invalid transition: %s -> %s", from, to)
	}
	s.store.tasks[index].Status = to
	*notices = append(*notices, notice{index: index, task: s.store.tasks[index].WithoutAudio()})
	return nil
}

// persistLocked writes the snapshot. Failures are logged and never stop the batch.
func (s *Session) persistLocked() {
	if err := s.store.Persist(); err != nil {
		s.logf("Persist failed: %v", err)
	}
}

func (s *Session) snapshotLocked(indices []int) []domain.Task {
	out := make([]domain.Task, 0, len(indices))
	for _, index := range indices {
		out = append(out, s.store.tasks[index])
	}
	return out
}

// dispatch runs telemetry and callbacks outside the session lock.
func (s *Session) dispatch(notices []notice) {
	for _, n := range notices {
		s.opts.Recorder.RecordTransition(s.opts.ID, n.index, n.task)
		if s.opts.OnStatusChanged != nil {
			s.opts.OnStatusChanged(n.index, n.task)
		}
		if n.err != nil && s.opts.OnTaskError != nil {
			s.opts.OnTaskError(n.index, n.task, n.err)
		}
	}
}

func (s *Session) logf(format string, args ...any) {
	s.opts.Logger.Printf("[BATCH] "+format, args...)
}
