package owm

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curium-rocks/owm-emitter/internal/emitter"
	"github.com/curium-rocks/owm-emitter/internal/weather"
)

func validateEmitterMatch(t *testing.T, em emitter.Emitter) *Emitter {
	t.Helper()
	require.IsType(t, &Emitter{}, em)
	owmEmitter := em.(*Emitter)
	assert.Equal(t, testDescription.Name, owmEmitter.Name())
	assert.Equal(t, testDescription.ID, owmEmitter.ID())
	assert.Equal(t, testDescription.Description, owmEmitter.Description())
	assert.Equal(t, 0.5, owmEmitter.Latitude())
	assert.Equal(t, 0.6, owmEmitter.Longitude())
	return owmEmitter
}

func randomKey(t *testing.T, n int) string {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(b)
}

func TestBuildEmitter(t *testing.T) {
	f, _ := newTestFactory()
	em, err := f.Build(testDescription)
	require.NoError(t, err)
	defer em.Dispose()

	owmEmitter := validateEmitterMatch(t, em)
	assert.Equal(t, Type, owmEmitter.Type())
	assert.Equal(t, "test-app-id", owmEmitter.AppID())
	cfg := owmEmitter.Config()
	assert.Equal(t, int64(30000), cfg.CheckInterval.Milliseconds())
	assert.Equal(t, int64(90000), cfg.DisconnectThreshold.Milliseconds())
}

func TestBuildEmitterValidation(t *testing.T) {
	cases := map[string]struct {
		props  map[string]any
		fields []string
	}{
		"missing appId": {
			props:  map[string]any{"latitude": 0.5, "longitude": 0.6, "checkInterval": 1000},
			fields: []string{"appId"},
		},
		"missing checkInterval": {
			props:  map[string]any{"appId": "x", "latitude": 0.5, "longitude": 0.6},
			fields: []string{"checkInterval"},
		},
		"missing position": {
			props:  map[string]any{"appId": "x", "checkInterval": 1000},
			fields: []string{"latitude", "longitude"},
		},
		"latitude out of range": {
			props:  map[string]any{"appId": "x", "checkInterval": 1000, "latitude": 91.0, "longitude": 0.6},
			fields: []string{"latitude"},
		},
		"wrong type": {
			props:  map[string]any{"appId": "x", "checkInterval": "soon", "latitude": 0.5, "longitude": 0.6},
			fields: []string{"checkInterval"},
		},
		"no properties": {
			props:  nil,
			fields: []string{"emitterProperties"},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f, _ := newTestFactory()
			desc := testDescription
			desc.Properties = tc.props

			em, err := f.Build(desc)
			assert.Nil(t, em)
			require.ErrorIs(t, err, emitter.ErrValidation)

			var verr *emitter.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.fields, verr.Fields)
		})
	}
}

func TestBuildEmitterZeroCoordinatesAreValid(t *testing.T) {
	f, _ := newTestFactory()
	desc := testDescription
	desc.Properties = map[string]any{"appId": "x", "checkInterval": 1000, "latitude": 0, "longitude": 0}

	em, err := f.Build(desc)
	require.NoError(t, err)
	assert.Equal(t, 0.0, em.(*Emitter).Latitude())
}

func TestBuildEmitterGeneratesID(t *testing.T) {
	f, _ := newTestFactory()
	desc := testDescription
	desc.ID = ""

	em, err := f.Build(desc)
	require.NoError(t, err)
	assert.Len(t, em.ID(), 36)
}

func TestBuildEmitterRejectsForeignType(t *testing.T) {
	f, _ := newTestFactory()
	desc := testDescription
	desc.Type = "other"

	_, err := f.Build(desc)
	assert.ErrorIs(t, err, emitter.ErrValidation)
}

func TestRecreateEmitter(t *testing.T) {
	formats := map[string]emitter.FormatSettings{
		"plaintext": {Encrypted: false, Type: Type},
		"aes-256-gcm": {
			Encrypted: true,
			Type:      Type,
			Algorithm: emitter.AlgorithmAES256GCM,
			IV:        randomKey(t, 32),
			Key:       randomKey(t, 32),
		},
	}

	for name, format := range formats {
		t.Run(name, func(t *testing.T) {
			f, src := newTestFactory()
			em, err := buildTestEmitter(f)
			require.NoError(t, err)
			validateEmitterMatch(t, em)

			src.set(1714564800, 291.3)
			require.NoError(t, em.Poll(context.Background()))

			state, err := em.SerializeState(format)
			require.NoError(t, err)

			recreated, err := f.Recreate(state, format)
			require.NoError(t, err)
			owmEmitter := validateEmitterMatch(t, recreated)

			assert.Equal(t, em.Config(), owmEmitter.Config())
			assert.Equal(t, em.AppID(), owmEmitter.AppID())

			last, ok := owmEmitter.Current()
			require.True(t, ok)
			assert.Equal(t, int64(1714564800), last.Payload.Freshness())
			assert.Equal(t, 291.3, last.Payload.Current.Temp)
			assert.Equal(t, "test", last.EmitterID)

			// the restored last state keeps suppressing the same observation
			var events int
			owmEmitter.OnData(func(emitter.DataEvent[any]) { events++ })
			require.NoError(t, owmEmitter.Poll(context.Background()))
			assert.Zero(t, events)
		})
	}
}

func TestRecreateEmitterWithoutLastEvent(t *testing.T) {
	f, _ := newTestFactory()
	em, err := buildTestEmitter(f)
	require.NoError(t, err)

	state, err := em.SerializeState(emitter.FormatSettings{})
	require.NoError(t, err)

	recreated, err := f.Recreate(state, emitter.FormatSettings{})
	require.NoError(t, err)
	_, ok := recreated.ProbeCurrent()
	assert.False(t, ok)
}

func TestRecreateEmitterWrongKey(t *testing.T) {
	f, _ := newTestFactory()
	em, err := buildTestEmitter(f)
	require.NoError(t, err)

	format := emitter.FormatSettings{
		Encrypted: true,
		Type:      Type,
		Algorithm: emitter.AlgorithmAES256GCM,
		IV:        randomKey(t, 32),
		Key:       randomKey(t, 32),
	}
	state, err := em.SerializeState(format)
	require.NoError(t, err)

	format.Key = randomKey(t, 32)
	recreated, err := f.Recreate(state, format)
	assert.Nil(t, recreated)
	assert.ErrorIs(t, err, emitter.ErrIntegrity)
}

func TestRecreateEmitterRejectsIncompleteState(t *testing.T) {
	f, _ := newTestFactory()
	st, err := emitter.NewState[weather.OneCall](Type, emitter.Identity{Name: "no-id"}, persistedConfig{CheckInterval: time.Second}, nil)
	require.NoError(t, err)
	state, err := emitter.EncodeState(st, emitter.FormatSettings{})
	require.NoError(t, err)

	recreated, err := f.Recreate(state, emitter.FormatSettings{})
	assert.Nil(t, recreated)
	assert.ErrorIs(t, err, emitter.ErrIntegrity)
}

func TestRecreateKeepsSubMillisecondDurations(t *testing.T) {
	f, _ := newTestFactory()
	desc := testDescription
	desc.Properties = map[string]any{
		"appId":               "x",
		"latitude":            1,
		"longitude":           2,
		"checkInterval":       1500.5,
		"disconnectThreshold": 0.5,
	}
	em, err := f.Build(desc)
	require.NoError(t, err)
	cfg := em.(*Emitter).Config()
	require.Equal(t, 1500500*time.Microsecond, cfg.CheckInterval)
	require.Equal(t, 500*time.Microsecond, cfg.DisconnectThreshold)

	state, err := em.SerializeState(emitter.FormatSettings{})
	require.NoError(t, err)
	recreated, err := f.Recreate(state, emitter.FormatSettings{})
	require.NoError(t, err)
	assert.Equal(t, cfg, recreated.(*Emitter).Config())
}
