// Package hub owns the live emitters of the process and routes their events to the
// event store and metrics.
package hub

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/curium-rocks/owm-emitter/internal/emitter"
	"github.com/curium-rocks/owm-emitter/internal/metrics"
	"github.com/curium-rocks/owm-emitter/internal/store"
)

var (
	ErrNotFound = errors.New("emitter not found")
	ErrExists   = errors.New("emitter already exists")
)

// Builder is the registry side the hub needs.
type Builder interface {
	Build(desc emitter.Description) (emitter.Emitter, error)
	Recreate(state string, format emitter.FormatSettings) (emitter.Emitter, error)
}

type entry struct {
	em      emitter.Emitter
	cancels []func()
}

// Hub keeps emitters by id.
type Hub struct {
	builder Builder
	events  *store.MemoryStore
	metrics *metrics.Metrics

	mu       sync.RWMutex
	emitters map[string]*entry
}

func New(builder Builder, events *store.MemoryStore, m *metrics.Metrics) *Hub {
	return &Hub{
		builder:  builder,
		events:   events,
		metrics:  m,
		emitters: make(map[string]*entry),
	}
}

// Build creates an emitter from desc, registers it and starts it when start is set.
func (h *Hub) Build(desc emitter.Description, start bool) (emitter.Emitter, error) {
	em, err := h.builder.Build(desc)
	if err != nil {
		return nil, err
	}
	return h.add(em, start)
}

// Restore recreates an emitter from serialized state.
func (h *Hub) Restore(state string, format emitter.FormatSettings, start bool) (emitter.Emitter, error) {
	em, err := h.builder.Recreate(state, format)
	if err != nil {
		return nil, err
	}
	return h.add(em, start)
}

func (h *Hub) add(em emitter.Emitter, start bool) (emitter.Emitter, error) {
	h.mu.Lock()
	if _, ok := h.emitters[em.ID()]; ok {
		h.mu.Unlock()
		// the duplicate shares the live emitter's source state, so it is only stopped
		em.Stop()
		return nil, fmt.Errorf("%w: %s", ErrExists, em.ID())
	}
	e := &entry{em: em}
	h.emitters[em.ID()] = e
	h.mu.Unlock()

	e.cancels = append(e.cancels,
		em.OnData(h.handleData),
		em.OnStatus(h.handleStatus),
		em.OnPoll(h.handlePoll),
	)
	if h.metrics != nil {
		h.metrics.Emitters.Inc()
		h.metrics.SetConnected(em.ID(), em.ProbeStatus().Connected)
	}
	if current, ok := em.ProbeCurrent(); ok && h.events != nil {
		h.events.Save(current)
	}

	if start {
		if err := em.Start(); err != nil {
			h.Remove(em.ID())
			return nil, err
		}
	}
	log.Printf("INFO: hub: added emitter %s (%s, %s)", em.ID(), em.Type(), em.Name())
	return em, nil
}

// Get returns the emitter with the given id.
func (h *Hub) Get(id string) (emitter.Emitter, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.emitters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.em, nil
}

// List returns every emitter ordered by id.
func (h *Hub) List() []emitter.Emitter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := make([]emitter.Emitter, 0, len(h.emitters))
	for _, e := range h.emitters {
		list = append(list, e.em)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	return list
}

// Remove disposes the emitter and drops its history.
func (h *Hub) Remove(id string) error {
	h.mu.Lock()
	e, ok := h.emitters[id]
	delete(h.emitters, id)
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	for _, cancel := range e.cancels {
		cancel()
	}
	e.em.Dispose()
	if h.events != nil {
		h.events.Delete(id)
	}
	if h.metrics != nil {
		h.metrics.Emitters.Dec()
		h.metrics.Forget(id)
	}
	log.Printf("INFO: hub: removed emitter %s", id)
	return nil
}

// Close disposes every emitter.
func (h *Hub) Close() {
	for _, em := range h.List() {
		_ = h.Remove(em.ID())
	}
}

// Events returns the event history the hub records into.
func (h *Hub) Events() *store.MemoryStore {
	return h.events
}

func (h *Hub) handleData(evt emitter.DataEvent[any]) {
	if h.events != nil {
		h.events.Save(evt)
	}
	if h.metrics != nil {
		h.metrics.ObserveData(evt)
	}
	log.Printf("DEBUG: hub: emitter %s emitted data at %s", evt.EmitterID, evt.Timestamp.Format(time.RFC3339))
}

func (h *Hub) handleStatus(evt emitter.StatusEvent) {
	if h.metrics != nil {
		h.metrics.ObserveStatus(evt)
	}
	state := "connected"
	if !evt.Connected {
		state = "disconnected"
	}
	log.Printf("INFO: hub: emitter %s is %s", evt.EmitterID, state)
}

func (h *Hub) handlePoll(outcome emitter.PollOutcome) {
	if h.metrics != nil {
		h.metrics.ObservePoll(outcome)
	}
}
