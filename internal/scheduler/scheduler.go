package scheduler

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// ErrClosed is returned when a job is scheduled on a closed Scheduler.
var ErrClosed = errors.New("scheduler closed")

// Scheduler drives the periodic jobs of every emitter in the process. Jobs are identified
// by tag; scheduling an existing tag replaces its job. Every job runs in singleton mode so
// a slow run is never overlapped by the next tick.
type Scheduler struct {
	mu        sync.Mutex
	scheduler *gocron.Scheduler
	closed    bool
}

// New creates a Scheduler and starts it.
func New() *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.StartAsync()
	return &Scheduler{scheduler: s}
}

// Every schedules job every interval under tag. With immediate set the first run happens
// now, otherwise after one interval.
func (s *Scheduler) Every(tag string, interval time.Duration, immediate bool, job func()) error {
	if interval <= 0 {
		return errors.New("scheduler: interval must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.removeLocked(tag)

	chain := s.scheduler.Every(interval).Tag(tag).SingletonMode()
	if !immediate {
		chain = chain.WaitForSchedule()
	}
	if _, err := chain.Do(job); err != nil {
		return err
	}

	log.Printf("INFO: scheduler: job %s scheduled every %s", tag, interval)
	return nil
}

// Cancel removes the job with the given tag. Runs already in progress finish.
func (s *Scheduler) Cancel(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(tag)
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduler.Len()
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.scheduler.Clear()
	s.scheduler.Stop()
}

func (s *Scheduler) removeLocked(tag string) {
	if err := s.scheduler.RemoveByTag(tag); err != nil && !errors.Is(err, gocron.ErrJobNotFoundWithTag) {
		log.Printf("ERROR: scheduler: remove job %s: %v", tag, err)
	}
}
