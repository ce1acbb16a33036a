// Package owm implements the OpenWeatherMap One Call emitter and its factory.
package owm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/curium-rocks/owm-emitter/internal/emitter"
	"github.com/curium-rocks/owm-emitter/internal/weather"
)

// Type is the stable type tag of the OWM emitter, used by registries and serialized state.
const Type = "owm-emitter"

// Source fetches One Call payloads.
type Source interface {
	Fetch(ctx context.Context, q weather.Query) (weather.OneCall, error)
}

type releaser interface {
	Release(emitterID string)
}

// Options describe a new Emitter.
type Options struct {
	ID          string
	Name        string
	Description string

	AppID     string
	Latitude  float64
	Longitude float64

	CheckInterval       time.Duration
	DisconnectThreshold time.Duration
	MonitorInterval     time.Duration

	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

// Emitter polls the One Call API for one coordinate and emits when current.dt advances.
type Emitter struct {
	*emitter.Poller[weather.OneCall]

	source Source
	appID  string

	mu        sync.RWMutex
	latitude  float64
	longitude float64
}

// New builds an Emitter. It does not start polling.
func New(opts Options, source Source, sched emitter.Scheduler) (*Emitter, error) {
	if source == nil {
		return nil, fmt.Errorf("owm: source is required")
	}

	e := &Emitter{
		source:    source,
		appID:     opts.AppID,
		latitude:  opts.Latitude,
		longitude: opts.Longitude,
	}

	poller, err := emitter.NewPoller(emitter.Options[weather.OneCall]{
		Type: Type,
		Identity: emitter.Identity{
			ID:          opts.ID,
			Name:        opts.Name,
			Description: opts.Description,
		},
		Config: emitter.Config{
			CheckInterval:       opts.CheckInterval,
			DisconnectThreshold: opts.DisconnectThreshold,
			MonitorInterval:     opts.MonitorInterval,
		},
		Fetch:     e.fetch,
		Detector:  emitter.NewKeyDetector(weather.OneCall.Freshness),
		Scheduler: sched,
		Now:       opts.Now,
	})
	if err != nil {
		return nil, err
	}
	e.Poller = poller
	return e, nil
}

func (e *Emitter) fetch(ctx context.Context) (weather.OneCall, error) {
	return e.source.Fetch(ctx, e.Query())
}

// Query returns the source parameters the next poll will use.
func (e *Emitter) Query() weather.Query {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return weather.Query{
		Latitude:  e.latitude,
		Longitude: e.longitude,
		AppID:     e.appID,
		EmitterID: e.ID(),
	}
}

// Dispose stops the emitter for good and releases what the source keeps for it.
func (e *Emitter) Dispose() {
	e.Poller.Dispose()
	if r, ok := e.source.(releaser); ok {
		r.Release(e.ID())
	}
}

// SetLatitude sets the latitude of the area of interest.
func (e *Emitter) SetLatitude(latitude float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latitude = latitude
}

func (e *Emitter) Latitude() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latitude
}

// SetLongitude sets the longitude of the area of interest.
func (e *Emitter) SetLongitude(longitude float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.longitude = longitude
}

func (e *Emitter) Longitude() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.longitude
}

func (e *Emitter) AppID() string {
	return e.appID
}

// ApplySettings applies the polling settings first; the position override is applied only
// when they succeed. An invalid position rejects the whole settings object up front.
func (e *Emitter) ApplySettings(ctx context.Context, settings emitter.Settings) emitter.ExecutionResult {
	if settings.Position != nil {
		if err := validate.Struct(settings.Position); err != nil {
			return emitter.ExecutionResult{
				ActionID:      settings.ActionID,
				FailureReason: fmt.Sprintf("invalid position: %v", err),
			}
		}
	}

	res := e.Poller.ApplySettings(ctx, settings)
	if !res.Success {
		return res
	}

	if pos := settings.Position; pos != nil {
		e.mu.Lock()
		e.latitude = pos.Lat
		e.longitude = pos.Lon
		e.mu.Unlock()
	}
	return res
}

// SendCommand always fails: a weather source has no actionable commands.
func (e *Emitter) SendCommand(ctx context.Context, cmd emitter.Command) (emitter.ExecutionResult, error) {
	return emitter.ExecutionResult{
		ActionID:      cmd.ActionID,
		FailureReason: emitter.ErrNotImplemented.Error(),
	}, emitter.ErrNotImplemented
}

// MetaData is empty for this emitter.
func (e *Emitter) MetaData() any {
	return nil
}

// SerializeState captures identity, configuration and the last known payload.
func (e *Emitter) SerializeState(format emitter.FormatSettings) (string, error) {
	if format.Type != "" && format.Type != Type {
		return "", emitter.Invalid(fmt.Sprintf("format type %q is not %q", format.Type, Type), "type")
	}

	cfg := e.Config()
	q := e.Query()
	persisted := persistedConfig{
		AppID:               q.AppID,
		Latitude:            q.Latitude,
		Longitude:           q.Longitude,
		CheckInterval:       cfg.CheckInterval,
		DisconnectThreshold: cfg.DisconnectThreshold,
		MonitorInterval:     cfg.MonitorInterval,
	}

	var last *emitter.DataEvent[weather.OneCall]
	if evt, ok := e.Current(); ok {
		last = &evt
	}

	st, err := emitter.NewState(Type, e.Identity(), persisted, last)
	if err != nil {
		return "", err
	}
	return emitter.EncodeState(st, format)
}

// persistedConfig keeps durations in nanoseconds so sub-millisecond settings survive a
// serialize/recreate cycle.
type persistedConfig struct {
	AppID               string        `json:"appId"`
	Latitude            float64       `json:"latitude"`
	Longitude           float64       `json:"longitude"`
	CheckInterval       time.Duration `json:"checkIntervalNs"`
	DisconnectThreshold time.Duration `json:"disconnectThresholdNs"`
	MonitorInterval     time.Duration `json:"monitorIntervalNs"`
}
