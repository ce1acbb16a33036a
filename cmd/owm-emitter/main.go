package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/curium-rocks/owm-emitter/internal/api/http"
	"github.com/curium-rocks/owm-emitter/internal/config"
	"github.com/curium-rocks/owm-emitter/internal/hub"
	"github.com/curium-rocks/owm-emitter/internal/metrics"
	"github.com/curium-rocks/owm-emitter/internal/owm"
	"github.com/curium-rocks/owm-emitter/internal/registry"
	"github.com/curium-rocks/owm-emitter/internal/scheduler"
	"github.com/curium-rocks/owm-emitter/internal/store"
	"github.com/curium-rocks/owm-emitter/internal/weather/providers"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Shared HTTP client for outbound One Call requests.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}
	source := providers.NewOneCallProvider(httpClient, cfg.OWMBaseURL)

	// One scheduler drives the poll and monitor jobs of every emitter.
	sched := scheduler.New()
	defer sched.Stop()

	reg, err := registry.New(owm.NewFactory(source, sched))
	if err != nil {
		log.Fatalf("failed to build registry: %v", err)
	}

	m := metrics.New()
	events := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)
	emitters := hub.New(reg, events, m)
	defer emitters.Close()

	for _, desc := range cfg.Emitters {
		if _, err := emitters.Build(desc, true); err != nil {
			log.Fatalf("failed to start emitter %q: %v", desc.ID, err)
		}
	}

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "owm-emitter",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"service":  "owm-emitter",
			"emitters": len(emitters.List()),
			"types":    reg.Types(),
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, emitters, m)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("INFO: fiber server stopped: %v", err)
		}
	}()
	log.Printf("INFO: owm-emitter listening on :%s with %d emitters", cfg.Port, len(cfg.Emitters))

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("ERROR: error during shutdown: %v", err)
	}
}
