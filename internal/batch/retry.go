package batch

import "time"

// Backoff returns the delay before automatic retry number attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<(attempt-1))
}

// retryController owns the backoff timers of one session, keyed by task
// index. Callers hold the session lock.
type retryController struct {
	clock  Clock
	base   time.Duration
	timers map[int]Timer
}

func newRetryController(clock Clock, base time.Duration) *retryController {
	return &retryController{
		clock:  clock,
		base:   base,
		timers: make(map[int]Timer),
	}
}

// schedule arms the timer for the given attempt and returns its delay.
func (r *retryController) schedule(index int, attempt int, relaunch func()) time.Duration {
	r.cancel(index)
	delay := Backoff(r.base, attempt)
	r.timers[index] = r.clock.AfterFunc(delay, relaunch)
	return delay
}

// done forgets a timer that has fired.
func (r *retryController) done(index int) {
	delete(r.timers, index)
}

func (r *retryController) cancel(index int) {
	if timer, ok := r.timers[index]; ok {
		timer.Stop()
		delete(r.timers, index)
	}
}

func (r *retryController) stopAll() {
	for index := range r.timers {
		r.cancel(index)
	}
}

func (r *retryController) pending() int {
	return len(r.timers)
}
