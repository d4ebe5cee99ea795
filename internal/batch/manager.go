package batch

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"tts-batch/internal/domain"
	"tts-batch/internal/telemetry"
)

// ManagerOptions configure the sessions a manager creates.
type ManagerOptions struct {
	Client       Submitter
	Snapshots    SnapshotStore
	Clock        Clock
	PollInterval time.Duration
	// MaxRetries is the automatic retry budget of new tasks. Zero disables
	// automatic retries.
	MaxRetries int
	Recorder     telemetry.Recorder
	Logger       *log.Logger
}

// State is a point-in-time view of the current batch.
type State struct {
	ID                string        `json:"id"`
	Tasks             []domain.Task `json:"tasks"`
	Counts            domain.Counts `json:"counts"`
	Running           bool          `json:"running"`
	BulkDownloadReady bool          `json:"bulkDownloadReady"`
}

// Manager owns the single current batch session and publishes its events.
type Manager struct {
	mu      sync.RWMutex
	opts    ManagerOptions
	events  *EventBus
	session *Session
}

// NewManager creates a manager without a batch.
func NewManager(opts ManagerOptions, events *EventBus) *Manager {
	if events == nil {
		events = NewEventBus(0)
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Manager{opts: opts, events: events}
}

// Events returns the bus every batch publishes to.
func (m *Manager) Events() *EventBus {
	return m.events
}

// Configure replaces the options used for the next batch. The running
// batch keeps its own.
func (m *Manager) Configure(opts ManagerOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if opts.Logger == nil {
		opts.Logger = m.opts.Logger
	}
	m.opts = opts
}

// Submit validates a submission and replaces the current batch with it.
func (m *Manager) Submit(sub Submission) (State, error) {
	m.mu.RLock()
	maxRetries := m.opts.MaxRetries
	m.mu.RUnlock()

	tasks, err := CreateBatch(sub, maxRetries)
	if err != nil {
		return State{}, err
	}
	return m.replace(tasks)
}

// Resume restores the persisted batch, if any, and continues it. Tasks that
// were processing or waiting on a retry are queued again.
func (m *Manager) Resume() (State, bool, error) {
	m.mu.RLock()
	snapshots := m.opts.Snapshots
	m.mu.RUnlock()

	tasks, err := NewStore(nil, snapshots).Restore()
	if err != nil {
		return State{}, false, err
	}
	if len(tasks) == 0 {
		return State{}, false, nil
	}

	state, err := m.replace(Requeue(tasks))
	if err != nil {
		return State{}, false, err
	}
	return state, true, nil
}

// Current returns the state of the current batch.
func (m *Manager) Current() (State, error) {
	session, err := m.current()
	if err != nil {
		return State{}, err
	}
	return stateOf(session), nil
}

// Retry manually retries a permanently failed task of the current batch.
func (m *Manager) Retry(index int) error {
	session, err := m.current()
	if err != nil {
		return err
	}
	return session.Retry(index)
}

// Audio returns a completed task with its audio.
func (m *Manager) Audio(index int) (domain.Task, error) {
	session, err := m.current()
	if err != nil {
		return domain.Task{}, err
	}
	task, err := session.Task(index)
	if err != nil {
		return domain.Task{}, err
	}
	if !task.HasAudio() {
		return domain.Task{}, fmt.Errorf("%w: %s is %s", ErrNoAudio, task.ModelKey, task.Status)
	}
	return task, nil
}

// Completed returns every completed task with audio in batch order.
func (m *Manager) Completed() ([]domain.Task, error) {
	session, err := m.current()
	if err != nil {
		return nil, err
	}
	return session.Completed(), nil
}

// Clear discards the current batch and its snapshot.
func (m *Manager) Clear() error {
	m.mu.Lock()
	session := m.session
	snapshots := m.opts.Snapshots
	m.session = nil
	m.mu.Unlock()

	if session == nil {
		return ErrNoBatch
	}
	session.Close()
	if snapshots != nil {
		if err := snapshots.Clear(); err != nil {
			return fmt.Errorf("clear %s: %w", SnapshotName, err)
		}
	}

	m.events.Publish(Event{BatchID: session.ID(), Type: EventTypeBatch, Message: "cleared"})
	return nil
}

// Close stops the current batch without discarding its snapshot.
func (m *Manager) Close() {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if session != nil {
		session.Close()
	}
}

func (m *Manager) current() (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, ErrNoBatch
	}
	return m.session, nil
}

func (m *Manager) isCurrent(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session != nil && m.session.ID() == id
}

// replace closes the previous session before the new one persists.
func (m *Manager) replace(tasks []domain.Task) (State, error) {
	id := uuid.NewString()

	m.mu.Lock()
	session := NewSession(tasks, m.sessionOptions(id))
	previous := m.session
	m.session = session
	m.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	if err := session.Start(); err != nil {
		return State{}, err
	}

	state := stateOf(session)
	m.events.Publish(Event{
		BatchID: id,
		Type:    EventTypeBatch,
		Counts:  &state.Counts,
		Message: fmt.Sprintf("batch of %d tasks", len(tasks)),
	})
	return state, nil
}

// sessionOptions builds session callbacks bound to batch id. Callers hold m.mu.
func (m *Manager) sessionOptions(id string) Options {
	return Options{
		ID:           id,
		Client:       m.opts.Client,
		Snapshots:    m.opts.Snapshots,
		Clock:        m.opts.Clock,
		PollInterval: m.opts.PollInterval,
		Recorder:     m.opts.Recorder,
		Logger:       m.opts.Logger,
		OnStatusChanged: func(index int, task domain.Task) {
			if !m.isCurrent(id) {
				return
			}
			m.publishTask(id, EventTypeStatus, index, task, "")
		},
		OnTaskError: func(index int, task domain.Task, err error) {
			if !m.isCurrent(id) {
				return
			}
			m.publishTask(id, EventTypeError, index, task, err.Error())
		},
		OnBatchSettled: func(counts domain.Counts) {
			if !m.isCurrent(id) {
				return
			}
			m.events.Publish(Event{BatchID: id, Type: EventTypeSettled, Counts: &counts})
		},
	}
}

func (m *Manager) publishTask(id string, eventType EventType, index int, task domain.Task, message string) {
	var counts *domain.Counts
	if session, err := m.current(); err == nil {
		c := session.Counts()
		counts = &c
	}
	m.events.Publish(Event{
		BatchID: id,
		Type:    eventType,
		Index:   &index,
		Task:    &task,
		Counts:  counts,
		Message: message,
	})
}

func stateOf(session *Session) State {
	tasks, ready := session.view()
	return State{
		ID:                session.ID(),
		Tasks:             tasks,
		Counts:            Aggregate(tasks),
		Running:           session.Running(),
		BulkDownloadReady: ready,
	}
}
