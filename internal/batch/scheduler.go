package batch

import (
	"sync"
	"time"
)

// scheduler runs tick on a recurring ticker while started.
type scheduler struct {
	mu       sync.Mutex
	clock    Clock
	interval time.Duration
	tick     func()
	ticker   Ticker
	done     chan struct{}
	closed   bool
}

func newScheduler(clock Clock, interval time.Duration, tick func()) *scheduler {
	return &scheduler{
		clock:    clock,
		interval: interval,
		tick:     tick,
	}
}

// Start begins ticking. Calling it while running does nothing.
func (s *scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.ticker != nil {
		return
	}
	s.ticker = s.clock.NewTicker(s.interval)
	s.done = make(chan struct{})
	go s.loop(s.ticker, s.done)
}

// Stop cancels the ticker. It never waits for an in-progress tick, so a
// tick may call it.
func (s *scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.stopLocked()
}

// Close stops the ticker for good. Later calls to Start do nothing.
func (s *scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.ticker != nil {
		s.stopLocked()
	}
}

func (s *scheduler) stopLocked() {
	s.ticker.Stop()
	close(s.done)
	s.ticker = nil
	s.done = nil
}

// Running reports whether the ticker is active.
func (s *scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticker != nil
}

func (s *scheduler) loop(ticker Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C():
			select {
			case <-done:
				return
			default:
			}
			s.tick()
		}
	}
}
