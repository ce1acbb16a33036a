package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curium-rocks/owm-emitter/internal/emitter"
	"github.com/curium-rocks/owm-emitter/internal/metrics"
	"github.com/curium-rocks/owm-emitter/internal/owm"
	"github.com/curium-rocks/owm-emitter/internal/registry"
	"github.com/curium-rocks/owm-emitter/internal/store"
	"github.com/curium-rocks/owm-emitter/internal/weather"
)

type counterSource struct {
	mu sync.Mutex
	dt int64
}

func (s *counterSource) Fetch(ctx context.Context, q weather.Query) (weather.OneCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return weather.OneCall{Lat: q.Latitude, Lon: q.Longitude, Current: weather.Current{Dt: s.dt}}, nil
}

func (s *counterSource) advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dt += 60
}

type recordingScheduler struct {
	mu   sync.Mutex
	tags map[string]bool
}

func (s *recordingScheduler) Every(tag string, _ time.Duration, _ bool, _ func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tags == nil {
		s.tags = make(map[string]bool)
	}
	s.tags[tag] = true
	return nil
}

func (s *recordingScheduler) Cancel(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tags, tag)
}

func (s *recordingScheduler) has(tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tags[tag]
}

func description(id string) emitter.Description {
	return emitter.Description{
		Type: owm.Type,
		ID:   id,
		Name: "hub " + id,
		Properties: map[string]any{
			"appId":         "key",
			"latitude":      10,
			"longitude":     20,
			"checkInterval": 1000,
		},
	}
}

func newHub(t *testing.T) (*Hub, *counterSource, *recordingScheduler, *metrics.Metrics) {
	t.Helper()
	src := &counterSource{dt: 1000}
	sched := &recordingScheduler{}
	reg, err := registry.New(owm.NewFactory(src, sched))
	require.NoError(t, err)
	m := metrics.New()
	return New(reg, store.NewMemoryStore(10, 0), m), src, sched, m
}

func TestHubBuildAndStart(t *testing.T) {
	h, _, sched, m := newHub(t)
	defer h.Close()

	em, err := h.Build(description("a"), true)
	require.NoError(t, err)
	assert.True(t, em.Running())
	assert.True(t, sched.has("a:poll"))
	assert.True(t, sched.has("a:monitor"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Emitters))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connected.WithLabelValues("a")))

	got, err := h.Get("a")
	require.NoError(t, err)
	assert.Same(t, em, got)
}

func TestHubRejectsDuplicateID(t *testing.T) {
	h, _, _, _ := newHub(t)
	defer h.Close()

	_, err := h.Build(description("a"), false)
	require.NoError(t, err)
	_, err = h.Build(description("a"), false)
	assert.ErrorIs(t, err, ErrExists)
	assert.Len(t, h.List(), 1)
}

func TestHubRecordsEvents(t *testing.T) {
	h, src, _, m := newHub(t)
	defer h.Close()

	em, err := h.Build(description("a"), false)
	require.NoError(t, err)

	require.NoError(t, em.Poll(context.Background()))
	require.NoError(t, em.Poll(context.Background()))
	src.advance()
	require.NoError(t, em.Poll(context.Background()))

	events, err := h.Events().GetRange("a", time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DataEventsTotal.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollsTotal.WithLabelValues("a", "unchanged")))
}

func TestHubRestoreSeedsHistory(t *testing.T) {
	h, _, _, _ := newHub(t)
	defer h.Close()

	em, err := h.Build(description("a"), false)
	require.NoError(t, err)
	require.NoError(t, em.Poll(context.Background()))
	state, err := em.SerializeState(emitter.FormatSettings{})
	require.NoError(t, err)
	require.NoError(t, h.Remove("a"))

	restored, err := h.Restore(state, emitter.FormatSettings{}, false)
	require.NoError(t, err)
	assert.Equal(t, "a", restored.ID())

	latest, err := h.Events().GetLatest("a")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), latest.Payload.(weather.OneCall).Current.Dt)
}

func TestHubRemove(t *testing.T) {
	h, _, sched, m := newHub(t)

	_, err := h.Build(description("a"), true)
	require.NoError(t, err)
	require.NoError(t, h.Remove("a"))

	assert.False(t, sched.has("a:poll"))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Emitters))
	_, err = h.Get("a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, h.Remove("a"), ErrNotFound)
}

func TestHubListIsOrdered(t *testing.T) {
	h, _, _, _ := newHub(t)
	defer h.Close()

	for _, id := range []string{"c", "a", "b"} {
		_, err := h.Build(description(id), false)
		require.NoError(t, err)
	}

	var ids []string
	for _, em := range h.List() {
		ids = append(ids, em.ID())
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}
