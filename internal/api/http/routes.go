package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/curium-rocks/owm-emitter/internal/emitter"
	"github.com/curium-rocks/owm-emitter/internal/hub"
	"github.com/curium-rocks/owm-emitter/internal/metrics"
	"github.com/curium-rocks/owm-emitter/internal/store"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app. m may be nil.
func RegisterRoutes(app *fiber.App, h *hub.Hub, m *metrics.Metrics) {
	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	v1 := app.Group("/api/v1/emitters")

	v1.Get("/", func(c *fiber.Ctx) error {
		list := h.List()
		views := make([]emitterView, 0, len(list))
		for _, em := range list {
			views = append(views, viewOf(em))
		}
		return c.JSON(views)
	})

	v1.Post("/", func(c *fiber.Ctx) error {
		var desc emitter.Description
		if err := c.BodyParser(&desc); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid emitter description")
		}
		start, err := parseStart(c)
		if err != nil {
			return err
		}

		em, err := h.Build(desc, start)
		if err != nil {
			return toHTTPError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(viewOf(em))
	})

	v1.Post("/restore", func(c *fiber.Ctx) error {
		var req restoreRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid restore request")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		start, err := parseStart(c)
		if err != nil {
			return err
		}

		em, err := h.Restore(req.State, req.Format, start)
		if err != nil {
			return toHTTPError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(viewOf(em))
	})

	v1.Get("/:id", withEmitter(h, func(c *fiber.Ctx, em emitter.Emitter) error {
		return c.JSON(viewOf(em))
	}))

	v1.Delete("/:id", func(c *fiber.Ctx) error {
		if err := h.Remove(c.Params("id")); err != nil {
			return toHTTPError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	v1.Get("/:id/status", withEmitter(h, func(c *fiber.Ctx, em emitter.Emitter) error {
		return c.JSON(em.ProbeStatus())
	}))

	v1.Get("/:id/current", withEmitter(h, func(c *fiber.Ctx, em emitter.Emitter) error {
		evt, ok := em.ProbeCurrent()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no data captured yet")
		}
		return c.JSON(evt)
	}))

	v1.Get("/:id/events", withEmitter(h, func(c *fiber.Ctx, em emitter.Emitter) error {
		from, to, err := parseRange(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		events, err := h.Events().GetRange(em.ID(), from, to)
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(fiber.Map{
			"emitterId": em.ID(),
			"from":      from,
			"to":        to,
			"events":    events,
		})
	}))

	v1.Post("/:id/settings", withEmitter(h, func(c *fiber.Ctx, em emitter.Emitter) error {
		var req settingsRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid settings")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		res := em.ApplySettings(c.UserContext(), req.toSettings())
		if !res.Success {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(res)
		}
		return c.JSON(res)
	}))

	v1.Post("/:id/commands", withEmitter(h, func(c *fiber.Ctx, em emitter.Emitter) error {
		var cmd emitter.Command
		if err := c.BodyParser(&cmd); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid command")
		}

		res, err := em.SendCommand(c.UserContext(), cmd)
		if err != nil {
			return c.Status(toHTTPError(err).Code).JSON(res)
		}
		return c.JSON(res)
	}))

	v1.Post("/:id/state", withEmitter(h, func(c *fiber.Ctx, em emitter.Emitter) error {
		var format emitter.FormatSettings
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&format); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid format settings")
			}
		}

		state, err := em.SerializeState(format)
		if err != nil {
			return toHTTPError(err)
		}
		if format.Type == "" {
			format.Type = em.Type()
		}
		format.Key = ""
		return c.JSON(fiber.Map{
			"state":  state,
			"format": format,
		})
	}))

	v1.Post("/:id/start", withEmitter(h, func(c *fiber.Ctx, em emitter.Emitter) error {
		if err := em.Start(); err != nil {
			return toHTTPError(err)
		}
		return c.JSON(viewOf(em))
	}))

	v1.Post("/:id/stop", withEmitter(h, func(c *fiber.Ctx, em emitter.Emitter) error {
		em.Stop()
		return c.JSON(viewOf(em))
	}))
}

// ErrorHandler renders every error as {"error": true, "message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

func withEmitter(h *hub.Hub, fn func(c *fiber.Ctx, em emitter.Emitter) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		em, err := h.Get(c.Params("id"))
		if err != nil {
			return toHTTPError(err)
		}
		return fn(c, em)
	}
}

func toHTTPError(err error) *fiber.Error {
	switch {
	case errors.Is(err, emitter.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, hub.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, hub.ErrExists), errors.Is(err, emitter.ErrDisposed):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, emitter.ErrIntegrity):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, emitter.ErrNotImplemented):
		return fiber.NewError(fiber.StatusNotImplemented, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}

type emitterView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Running     bool   `json:"running"`
	Connected   bool   `json:"connected"`
	MetaData    any    `json:"metaData,omitempty"`
}

func viewOf(em emitter.Emitter) emitterView {
	return emitterView{
		ID:          em.ID(),
		Name:        em.Name(),
		Description: em.Description(),
		Type:        em.Type(),
		Running:     em.Running(),
		Connected:   em.ProbeStatus().Connected,
		MetaData:    em.MetaData(),
	}
}

// settingsRequest carries durations in milliseconds.
type settingsRequest struct {
	ActionID            string            `json:"actionId"`
	CheckInterval       int64             `json:"checkInterval" validate:"gte=0"`
	DisconnectThreshold int64             `json:"disconnectThreshold" validate:"gte=0"`
	Position            *emitter.Position `json:"position"`
}

func (r settingsRequest) toSettings() emitter.Settings {
	return emitter.Settings{
		ActionID:            r.ActionID,
		CheckInterval:       time.Duration(r.CheckInterval) * time.Millisecond,
		DisconnectThreshold: time.Duration(r.DisconnectThreshold) * time.Millisecond,
		Position:            r.Position,
	}
}

type restoreRequest struct {
	State  string                 `json:"state" validate:"required"`
	Format emitter.FormatSettings `json:"format"`
}

func parseStart(c *fiber.Ctx) (bool, error) {
	raw := c.Query("start")
	if raw == "" {
		return true, nil
	}
	start, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fiber.NewError(fiber.StatusBadRequest, "start must be a boolean")
	}
	return start, nil
}

// parseRange reads optional from/to bounds; missing bounds are open.
func parseRange(c *fiber.Ctx) (time.Time, time.Time, error) {
	from := time.Time{}
	to := time.Now().UTC()
	if s := c.Query("from"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return from, to, err
		}
		from = t
	}
	if s := c.Query("to"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return from, to, err
		}
		to = t
	}
	if to.Before(from) {
		return from, to, errors.New("to must not be before from")
	}
	return from, to, nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
