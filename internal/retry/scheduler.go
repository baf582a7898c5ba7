package retry

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler owns one delayed-retry timer per item. Timers for different items
// run independently; firing only invokes the callback, which is expected to
// queue behind whatever serializes the actual work.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*entry
	logger *slog.Logger
	now    func() time.Time
}

type entry struct {
	timer *time.Timer
	at    time.Time
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		timers: make(map[string]*entry),
		logger: logger,
		now:    time.Now,
	}
}

// Schedule arms fire to run after delay, replacing any timer already armed
// for id. It returns the time the retry is due and whether a replaced timer
// was stopped before firing, in which case its callback will never run.
func (s *Scheduler) Schedule(id string, delay time.Duration, fire func()) (at time.Time, replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[id]; ok {
		replaced = prev.timer.Stop()
	}
	at = s.now().Add(delay)
	e := &entry{at: at}
	e.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if cur, ok := s.timers[id]; ok && cur == e {
			delete(s.timers, id)
		}
		s.mu.Unlock()
		fire()
	})
	s.timers[id] = e
	s.logger.Debug("retry.scheduled", "item_id", id, "delay_ms", delay.Milliseconds(), "replaced", replaced)
	return at, replaced
}

// Cancel stops the timer for id. It returns true only if a timer was stopped
// before firing, i.e. its callback will never run.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.timers[id]
	if !ok {
		return false
	}
	delete(s.timers, id)
	stopped := e.timer.Stop()
	if stopped {
		s.logger.Debug("retry.canceled", "item_id", id)
	}
	return stopped
}

// CancelAll stops every timer and returns the ids whose callbacks will never run.
func (s *Scheduler) CancelAll() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stopped []string
	for id, e := range s.timers {
		if e.timer.Stop() {
			stopped = append(stopped, id)
		}
		delete(s.timers, id)
	}
	return stopped
}

// Pending reports the due time of the armed timer for id.
func (s *Scheduler) Pending(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[id]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// Len returns the number of armed timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
