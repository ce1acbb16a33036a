package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/curium-rocks/owm-emitter/internal/emitter"
	"github.com/curium-rocks/owm-emitter/internal/owm"
)

type AppConfig struct {
	Port string

	// HTTPTimeout bounds every outbound One Call request.
	HTTPTimeout time.Duration
	OWMBaseURL  string

	// Emitters are built and started on boot.
	Emitters []emitter.Description

	// In-memory event history retention.
	StoreMaxHistory int           // max number of events per emitter (0 = unlimited)
	StoreMaxAge     time.Duration // max age of events (0 = unlimited)
}

// emittersFile is the layout of EMITTERS_FILE.
type emittersFile struct {
	Emitters []emitter.Description `yaml:"emitters"`
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.OWMBaseURL = os.Getenv("OWM_BASE_URL")

	timeout, err := getenvDuration("HTTP_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	cfg.HTTPTimeout = timeout

	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 288) // a day at 5-minute observations
	maxAge, err := getenvDuration("STORE_MAX_AGE", "24h")
	if err != nil {
		return nil, err
	}
	cfg.StoreMaxAge = maxAge

	if path := os.Getenv("EMITTERS_FILE"); path != "" {
		descs, err := loadEmittersFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Emitters = descs
		return cfg, nil
	}

	desc, ok, err := defaultEmitter()
	if err != nil {
		return nil, err
	}
	if ok {
		cfg.Emitters = []emitter.Description{desc}
	}
	return cfg, nil
}

func loadEmittersFile(path string) ([]emitter.Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read EMITTERS_FILE: %w", err)
	}
	var f emittersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse EMITTERS_FILE %s: %w", path, err)
	}
	for i := range f.Emitters {
		if f.Emitters[i].Type == "" {
			f.Emitters[i].Type = owm.Type
		}
	}
	log.Printf("INFO: loaded %d emitter descriptions from %s", len(f.Emitters), path)
	return f.Emitters, nil
}

// defaultEmitter describes one OWM emitter from OWM_* variables when OWM_APP_ID is set.
func defaultEmitter() (emitter.Description, bool, error) {
	appID := os.Getenv("OWM_APP_ID")
	if appID == "" {
		return emitter.Description{}, false, nil
	}

	lat, err := getenvFloat("OWM_LATITUDE")
	if err != nil {
		return emitter.Description{}, false, err
	}
	lon, err := getenvFloat("OWM_LONGITUDE")
	if err != nil {
		return emitter.Description{}, false, err
	}
	interval, err := getenvDuration("OWM_CHECK_INTERVAL", "5m")
	if err != nil {
		return emitter.Description{}, false, err
	}

	props := map[string]any{
		"appId":         appID,
		"latitude":      lat,
		"longitude":     lon,
		"checkInterval": interval.Milliseconds(),
	}
	if os.Getenv("OWM_DISCONNECT_THRESHOLD") != "" {
		threshold, err := getenvDuration("OWM_DISCONNECT_THRESHOLD", "")
		if err != nil {
			return emitter.Description{}, false, err
		}
		props["disconnectThreshold"] = threshold.Milliseconds()
	}

	return emitter.Description{
		Type:        owm.Type,
		ID:          getenvDefault("OWM_EMITTER_ID", "owm"),
		Name:        getenvDefault("OWM_EMITTER_NAME", "OpenWeatherMap"),
		Description: "OpenWeatherMap One Call emitter",
		Properties:  props,
	}, true, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getenvFloat(key string) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, fmt.Errorf("%s is required when OWM_APP_ID is set", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
