package emitter

import (
	"context"
	"errors"
	"sync"
	"time"
)

type reading struct {
	Marker int64   `json:"marker"`
	Value  float64 `json:"value"`
}

func markerOf(r reading) int64 { return r.Marker }

type fakeJob struct {
	interval  time.Duration
	immediate bool
	fn        func()
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs map[string]fakeJob
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: make(map[string]fakeJob)}
}

func (s *fakeScheduler) Every(tag string, interval time.Duration, immediate bool, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[tag] = fakeJob{interval: interval, immediate: immediate, fn: fn}
	return nil
}

func (s *fakeScheduler) Cancel(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, tag)
}

func (s *fakeScheduler) job(tag string) (fakeJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[tag]
	return j, ok
}

func (s *fakeScheduler) fire(tag string) {
	if j, ok := s.job(tag); ok {
		j.fn()
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// scriptedSource replays queued results; once exhausted it repeats the last one.
type scriptedSource struct {
	mu      sync.Mutex
	results []result
	calls   int
}

type result struct {
	r   reading
	err error
}

func (s *scriptedSource) push(r reading) { s.add(result{r: r}) }
func (s *scriptedSource) fail(err error) { s.add(result{err: err}) }
func (s *scriptedSource) add(res result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
}

func (s *scriptedSource) fetch(ctx context.Context) (reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		return reading{}, errors.New("no scripted result")
	}
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i].r, s.results[i].err
}

type recorder struct {
	mu       sync.Mutex
	data     []DataEvent[reading]
	statuses []StatusEvent
	polls    []PollOutcome
}

func (r *recorder) attach(p *Poller[reading]) {
	p.Subscribe(func(evt DataEvent[reading]) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.data = append(r.data, evt)
	})
	p.OnStatus(func(evt StatusEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.statuses = append(r.statuses, evt)
	})
	p.OnPoll(func(o PollOutcome) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.polls = append(r.polls, o)
	})
}

func (r *recorder) dataCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

func (r *recorder) statusEvents() []StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StatusEvent(nil), r.statuses...)
}

// hookScheduler runs onEvery after registering a job, outside its own lock, so a test can
// interleave lifecycle calls with scheduling.
type hookScheduler struct {
	*fakeScheduler
	onEvery func(tag string)
}

func (s *hookScheduler) Every(tag string, interval time.Duration, immediate bool, fn func()) error {
	if err := s.fakeScheduler.Every(tag, interval, immediate, fn); err != nil {
		return err
	}
	if s.onEvery != nil {
		s.onEvery(tag)
	}
	return nil
}
