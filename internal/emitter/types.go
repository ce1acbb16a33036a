package emitter

import (
	"context"
	"encoding/json"
	"time"
)

// Identity uniquely identifies an emitter across serialize/restore cycles.
type Identity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DataEvent is produced once per detected change of the polled payload.
// Timestamp is the capture time, not the payload's freshness marker.
type DataEvent[T any] struct {
	EmitterID string    `json:"emitterId"`
	Timestamp time.Time `json:"timestamp"`
	Payload   T         `json:"payload"`
}

// Erase drops the payload type so the event can cross the Emitter interface.
func (e DataEvent[T]) Erase() DataEvent[any] {
	return DataEvent[any]{
		EmitterID: e.EmitterID,
		Timestamp: e.Timestamp,
		Payload:   e.Payload,
	}
}

// StatusEvent reports a connection state transition.
// Bit is a latched alarm flag that only an external acknowledgement changes.
type StatusEvent struct {
	EmitterID string    `json:"emitterId"`
	Timestamp time.Time `json:"timestamp"`
	Connected bool      `json:"connected"`
	Bit       bool      `json:"bit"`
}

// PollOutcome describes a finished poll, whether or not it produced an event.
type PollOutcome struct {
	EmitterID string
	Timestamp time.Time
	Duration  time.Duration
	Changed   bool
	Err       error
}

// Position overrides the area of interest of a geo-bound source.
type Position struct {
	Lat float64 `json:"lat" yaml:"lat" validate:"latitude"`
	Lon float64 `json:"lon" yaml:"lon" validate:"longitude"`
}

// Settings is applied at runtime through ApplySettings. Zero durations leave the current
// value untouched; a nil Position means no override.
type Settings struct {
	ActionID            string        `json:"actionId"`
	CheckInterval       time.Duration `json:"checkInterval"`
	DisconnectThreshold time.Duration `json:"disconnectThreshold"`
	Position            *Position     `json:"position,omitempty"`
}

// Command is an instruction sent to an emitter.
type Command struct {
	ActionID string          `json:"actionId"`
	Name     string          `json:"name"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// ExecutionResult reports the outcome of a settings change or command.
type ExecutionResult struct {
	ActionID      string `json:"actionId"`
	Success       bool   `json:"success"`
	FailureReason string `json:"failureReason,omitempty"`
}

// Description is what a factory builds an emitter from.
type Description struct {
	Type        string         `json:"type" yaml:"type"`
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Properties  map[string]any `json:"emitterProperties" yaml:"emitterProperties"`
}

// Emitter is the type-erased view of a polling emitter used by registries and hubs.
type Emitter interface {
	ID() string
	Name() string
	Description() string
	Type() string

	Start() error
	Stop()
	Dispose()
	Running() bool

	Poll(ctx context.Context) error
	ProbeStatus() StatusEvent
	ProbeCurrent() (DataEvent[any], bool)
	MetaData() any

	OnData(fn func(DataEvent[any])) (cancel func())
	OnStatus(fn func(StatusEvent)) (cancel func())
	OnPoll(fn func(PollOutcome)) (cancel func())

	ApplySettings(ctx context.Context, settings Settings) ExecutionResult
	SendCommand(ctx context.Context, cmd Command) (ExecutionResult, error)
	SerializeState(format FormatSettings) (string, error)
}
