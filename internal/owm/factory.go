package owm

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/curium-rocks/owm-emitter/internal/emitter"
	"github.com/curium-rocks/owm-emitter/internal/weather"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// properties are the emitterProperties of a description. Durations are milliseconds.
type properties struct {
	AppID               *string  `json:"appId" validate:"required,min=1"`
	CheckInterval       *float64 `json:"checkInterval" validate:"required,gt=0"`
	Latitude            *float64 `json:"latitude" validate:"required,latitude"`
	Longitude           *float64 `json:"longitude" validate:"required,longitude"`
	DisconnectThreshold *float64 `json:"disconnectThreshold,omitempty" validate:"omitempty,gt=0"`
	MonitorInterval     *float64 `json:"monitorInterval,omitempty" validate:"omitempty,gt=0"`
}

// Factory builds OWM emitters from descriptions and recreates them from serialized state.
type Factory struct {
	source Source
	sched  emitter.Scheduler
	now    func() time.Time
}

// NewFactory returns a Factory whose emitters fetch from source and tick on sched.
func NewFactory(source Source, sched emitter.Scheduler) *Factory {
	return &Factory{source: source, sched: sched}
}

// Type returns the tag this factory is registered under.
func (f *Factory) Type() string {
	return Type
}

// Build validates the description and constructs a stopped emitter. A missing id is
// replaced with a random UUID.
func (f *Factory) Build(desc emitter.Description) (emitter.Emitter, error) {
	if desc.Type != "" && desc.Type != Type {
		return nil, emitter.Invalid(fmt.Sprintf("description type %q is not %q", desc.Type, Type), "type")
	}
	if desc.Properties == nil {
		return nil, emitter.Invalid("missing required emitter properties", "emitterProperties")
	}

	props, err := decodeProperties(desc.Properties)
	if err != nil {
		return nil, err
	}

	id := desc.ID
	if id == "" {
		id = uuid.NewString()
	}

	opts := Options{
		ID:            id,
		Name:          desc.Name,
		Description:   desc.Description,
		AppID:         *props.AppID,
		Latitude:      *props.Latitude,
		Longitude:     *props.Longitude,
		CheckInterval: millis(*props.CheckInterval),
		Now:           f.now,
	}
	if props.DisconnectThreshold != nil {
		opts.DisconnectThreshold = millis(*props.DisconnectThreshold)
	}
	if props.MonitorInterval != nil {
		opts.MonitorInterval = millis(*props.MonitorInterval)
	}

	em, err := New(opts, f.source, f.sched)
	if err != nil {
		return nil, err
	}
	log.Printf("INFO: owm factory: built emitter %s (%s) at %v,%v", em.ID(), em.Name(), opts.Latitude, opts.Longitude)
	return em, nil
}

// Recreate rebuilds an emitter from SerializeState output. Any decoding, authentication
// or consistency failure is emitter.ErrIntegrity; no partial emitter is returned.
func (f *Factory) Recreate(state string, format emitter.FormatSettings) (emitter.Emitter, error) {
	if format.Type == "" {
		format.Type = Type
	}
	if format.Type != Type {
		return nil, emitter.Invalid(fmt.Sprintf("format type %q is not %q", format.Type, Type), "type")
	}

	st, err := emitter.DecodeState(state, format)
	if err != nil {
		return nil, err
	}

	var cfg persistedConfig
	if err := st.DecodeConfig(&cfg); err != nil {
		return nil, err
	}
	last, err := emitter.DecodeLastEvent[weather.OneCall](st)
	if err != nil {
		return nil, err
	}

	em, err := New(Options{
		ID:                  st.Identity.ID,
		Name:                st.Identity.Name,
		Description:         st.Identity.Description,
		AppID:               cfg.AppID,
		Latitude:            cfg.Latitude,
		Longitude:           cfg.Longitude,
		CheckInterval:       cfg.CheckInterval,
		DisconnectThreshold: cfg.DisconnectThreshold,
		MonitorInterval:     cfg.MonitorInterval,
		Now:                 f.now,
	}, f.source, f.sched)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", emitter.ErrIntegrity, err)
	}
	em.Prime(last)

	log.Printf("INFO: owm factory: recreated emitter %s (%s)", em.ID(), em.Name())
	return em, nil
}

func decodeProperties(raw map[string]any) (properties, error) {
	var props properties

	data, err := json.Marshal(raw)
	if err != nil {
		return props, emitter.Invalid(fmt.Sprintf("invalid emitter properties: %v", err), "emitterProperties")
	}
	if err := json.Unmarshal(data, &props); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return props, emitter.Invalid(fmt.Sprintf("invalid type for %s", typeErr.Field), typeErr.Field)
		}
		return props, emitter.Invalid(fmt.Sprintf("invalid emitter properties: %v", err), "emitterProperties")
	}

	if err := validate.Struct(props); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return props, emitter.Invalid(err.Error())
		}
		var missing, invalid []string
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				missing = append(missing, fe.Field())
			} else {
				invalid = append(invalid, fe.Field())
			}
		}
		if len(missing) > 0 {
			return props, emitter.Invalid("missing required properties", append(missing, invalid...)...)
		}
		return props, emitter.Invalid("invalid properties", invalid...)
	}
	return props, nil
}

func millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
