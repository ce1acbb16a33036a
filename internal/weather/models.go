package weather

import (
	"time"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// Query identifies the area of interest and the credentials of a One Call request.
type Query struct {
	Latitude  float64
	Longitude float64
	AppID     string

	// EmitterID scopes per-caller resilience state; empty falls back to AppID.
	EmitterID string
}

// OneCall is the OpenWeatherMap One Call API response.
type OneCall struct {
	Lat            float64    `json:"lat"`
	Lon            float64    `json:"lon"`
	Timezone       string     `json:"timezone"`
	TimezoneOffset int        `json:"timezone_offset"`
	Current        Current    `json:"current"`
	Minutely       []Minutely `json:"minutely,omitempty"`
	Hourly         []Hourly   `json:"hourly,omitempty"`
	Daily          []Daily    `json:"daily,omitempty"`
	Alerts         []Alert    `json:"alerts,omitempty"`
}

// Freshness returns the observation time of the current conditions (unix seconds).
// OpenWeatherMap only advances it when a new observation is published.
func (o OneCall) Freshness() int64 {
	return o.Current.Dt
}

// Current holds the current conditions.
type Current struct {
	Dt         int64          `json:"dt"`
	Sunrise    int64          `json:"sunrise,omitempty"`
	Sunset     int64          `json:"sunset,omitempty"`
	Temp       float64        `json:"temp"`
	FeelsLike  float64        `json:"feels_like"`
	Pressure   int            `json:"pressure"`
	Humidity   int            `json:"humidity"`
	DewPoint   float64        `json:"dew_point"`
	UVI        float64        `json:"uvi"`
	Clouds     int            `json:"clouds"`
	Visibility int            `json:"visibility"`
	WindSpeed  float64        `json:"wind_speed"`
	WindDeg    int            `json:"wind_deg"`
	WindGust   float64        `json:"wind_gust,omitempty"`
	Rain       *Precipitation `json:"rain,omitempty"`
	Snow       *Precipitation `json:"snow,omitempty"`
	Weather    []Descriptor   `json:"weather"`
}

// ObservedAt returns Dt as a UTC time.
func (c Current) ObservedAt() time.Time {
	return time.Unix(c.Dt, 0).UTC()
}

// Condition maps the first weather descriptor to a normalized condition.
func (c Current) Condition() Condition {
	return mapOpenWeatherCondition(c.Weather)
}

// Precipitation volume for the last hour, mm.
type Precipitation struct {
	OneHour float64 `json:"1h"`
}

// Descriptor is an OpenWeatherMap weather condition entry.
type Descriptor struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type Minutely struct {
	Dt            int64   `json:"dt"`
	Precipitation float64 `json:"precipitation"`
}

type Hourly struct {
	Current
	Pop float64 `json:"pop"`
}

type Daily struct {
	Dt        int64         `json:"dt"`
	Sunrise   int64         `json:"sunrise"`
	Sunset    int64         `json:"sunset"`
	Moonrise  int64         `json:"moonrise"`
	Moonset   int64         `json:"moonset"`
	MoonPhase float64       `json:"moon_phase"`
	Summary   string        `json:"summary,omitempty"`
	Temp      DailyTemp     `json:"temp"`
	FeelsLike DailyFeelLike `json:"feels_like"`
	Pressure  int           `json:"pressure"`
	Humidity  int           `json:"humidity"`
	DewPoint  float64       `json:"dew_point"`
	WindSpeed float64       `json:"wind_speed"`
	WindDeg   int           `json:"wind_deg"`
	WindGust  float64       `json:"wind_gust,omitempty"`
	Weather   []Descriptor  `json:"weather"`
	Clouds    int           `json:"clouds"`
	Pop       float64       `json:"pop"`
	Rain      float64       `json:"rain,omitempty"`
	Snow      float64       `json:"snow,omitempty"`
	UVI       float64       `json:"uvi"`
}

type DailyTemp struct {
	Day   float64 `json:"day"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Night float64 `json:"night"`
	Eve   float64 `json:"eve"`
	Morn  float64 `json:"morn"`
}

type DailyFeelLike struct {
	Day   float64 `json:"day"`
	Night float64 `json:"night"`
	Eve   float64 `json:"eve"`
	Morn  float64 `json:"morn"`
}

// Alert is a national weather alert covering the requested location.
type Alert struct {
	SenderName  string   `json:"sender_name"`
	Event       string   `json:"event"`
	Start       int64    `json:"start"`
	End         int64    `json:"end"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

func mapOpenWeatherCondition(items []Descriptor) Condition {
	if len(items) == 0 {
		return ConditionUnknown
	}
	switch items[0].Main {
	case "Clear":
		return ConditionClear
	case "Clouds":
		return ConditionCloudy
	case "Rain", "Drizzle":
		return ConditionRain
	case "Snow":
		return ConditionSnow
	case "Thunderstorm":
		return ConditionStorm
	case "Mist", "Fog", "Haze":
		return ConditionMist
	default:
		return ConditionUnknown
	}
}
