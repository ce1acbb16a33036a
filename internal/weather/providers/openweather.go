package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/curium-rocks/owm-emitter/internal/emitter"
	"github.com/curium-rocks/owm-emitter/internal/weather"
)

// DefaultOneCallURL is the OpenWeatherMap One Call endpoint.
const DefaultOneCallURL = "https://api.openweathermap.org/data/2.5/onecall"

// OneCallProvider fetches the OpenWeatherMap One Call payload for a coordinate. It is
// shared by every emitter of the process, so each emitter gets its own circuit breaker.
type OneCallProvider struct {
	name    string
	baseURL string
	units   string
	httpCfg HTTPClientConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewOneCallProvider creates a provider. An empty baseURL uses DefaultOneCallURL.
func NewOneCallProvider(client *http.Client, baseURL string) *OneCallProvider {
	if baseURL == "" {
		baseURL = DefaultOneCallURL
	}
	cfg := HTTPClientConfig{
		Client: client,
		Breaker: BreakerConfig{
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     2 * time.Minute,
		},
	}

	return &OneCallProvider{
		name:     "openweathermap-onecall",
		baseURL:  baseURL,
		units:    "standard",
		httpCfg:  cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// breaker returns the circuit breaker of the caller behind q.
func (p *OneCallProvider) breaker(q weather.Query) *gobreaker.CircuitBreaker {
	key := q.EmitterID
	if key == "" {
		key = "appid:" + q.AppID
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	cb, ok := p.breakers[key]
	if !ok {
		cb = newCircuitBreaker(p.name+"/"+key, p.httpCfg.Breaker)
		p.breakers[key] = cb
	}
	return cb
}

// Release drops the breaker state of an emitter that no longer exists.
func (p *OneCallProvider) Release(emitterID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.breakers, emitterID)
}

func (p *OneCallProvider) Name() string {
	return p.name
}

// Fetch performs a single One Call request. Transport errors, non-2xx responses and
// malformed bodies are all emitter.ErrSourceUnavailable.
func (p *OneCallProvider) Fetch(ctx context.Context, q weather.Query) (weather.OneCall, error) {
	if q.AppID == "" {
		return weather.OneCall{}, fmt.Errorf("%w: openweather app id is not configured", emitter.ErrSourceUnavailable)
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("lat", strconv.FormatFloat(q.Latitude, 'f', -1, 64))
		values.Set("lon", strconv.FormatFloat(q.Longitude, 'f', -1, 64))
		values.Set("appid", q.AppID)
		values.Set("units", p.units)

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := doRequest(ctx, p.httpCfg, p.breaker(q), buildRequest)
	if err != nil {
		return weather.OneCall{}, err
	}
	defer resp.Body.Close()

	var payload weather.OneCall
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.OneCall{}, fmt.Errorf("%w: decode one call response: %v", emitter.ErrSourceUnavailable, err)
	}
	if payload.Current.Dt == 0 {
		return weather.OneCall{}, fmt.Errorf("%w: one call response has no current observation", emitter.ErrSourceUnavailable)
	}

	return payload, nil
}
