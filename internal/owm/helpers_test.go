package owm

import (
	"context"
	"sync"
	"time"

	"github.com/curium-rocks/owm-emitter/internal/emitter"
	"github.com/curium-rocks/owm-emitter/internal/weather"
)

var testDescription = emitter.Description{
	Type:        Type,
	ID:          "test",
	Name:        "test-name",
	Description: "test-desc",
	Properties: map[string]any{
		"appId":         "test-app-id",
		"latitude":      0.5,
		"longitude":     0.6,
		"checkInterval": 30000,
	},
}

type stubSource struct {
	mu       sync.Mutex
	queries  []weather.Query
	next     weather.OneCall
	err      error
	released []string
}

func (s *stubSource) Fetch(ctx context.Context, q weather.Query) (weather.OneCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	return s.next, s.err
}

func (s *stubSource) set(dt int64, temp float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = weather.OneCall{Lat: 0.5, Lon: 0.6, Current: weather.Current{Dt: dt, Temp: temp}}
	s.err = nil
}

func (s *stubSource) Release(emitterID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, emitterID)
}

func (s *stubSource) lastQuery() weather.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[len(s.queries)-1]
}

type nopScheduler struct {
	mu   sync.Mutex
	tags map[string]time.Duration
}

func (s *nopScheduler) Every(tag string, interval time.Duration, immediate bool, job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tags == nil {
		s.tags = make(map[string]time.Duration)
	}
	s.tags[tag] = interval
	return nil
}

func (s *nopScheduler) Cancel(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tags, tag)
}

func newTestFactory() (*Factory, *stubSource) {
	src := &stubSource{}
	return NewFactory(src, &nopScheduler{}), src
}

func buildTestEmitter(f *Factory) (*Emitter, error) {
	em, err := f.Build(testDescription)
	if err != nil {
		return nil, err
	}
	return em.(*Emitter), nil
}
