// Package server assembles the fiber application from already constructed
// dependencies. cmd/server and the e2e tests share it.
package server

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/innovotech/mediadrop/internal/auth"
	"github.com/innovotech/mediadrop/internal/config"
	"github.com/innovotech/mediadrop/internal/handler"
	"github.com/innovotech/mediadrop/internal/middleware"
	ws "github.com/innovotech/mediadrop/internal/websocket"
	"github.com/innovotech/mediadrop/pkg/response"
)

// Deps are the collaborators the HTTP layer needs. Optional ones may be nil:
// Verifier (no auth), Redis (no rate limits), Hub (no progress socket),
// Gatherer (no /metrics).
type Deps struct {
	Config    *config.Config
	Log       zerolog.Logger
	Generator handler.Generator
	Results   handler.ResultReader
	Verifier  auth.Verifier
	Redis     *redis.Client
	Hub       *ws.Hub
	Gatherer  prometheus.Gatherer
	Validator *validator.Validate
	Probes    map[string]handler.Probe

	// BlobDir is served under /blobs when the filesystem store is active.
	BlobDir string
}

// NewApp builds the fiber app with every route registered.
func NewApp(d Deps) *fiber.App {
	cfg := d.Config
	if d.Validator == nil {
		d.Validator = handler.NewValidator()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path} ${locals:requestId}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${locals:requestId} ${queryParams} ${body}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization," + middleware.HeaderRequestID,
		ExposeHeaders: middleware.HeaderRequestID,
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	app.Get("/health", handler.NewHealthHandler(d.Probes).Check)

	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	if d.BlobDir != "" {
		app.Static("/blobs", d.BlobDir)
	}

	generateHandler := handler.NewGenerateHandler(d.Generator, d.Validator)
	resultHandler := handler.NewResultHandler(d.Results)
	authMiddleware := middleware.NewAuthMiddleware(d.Verifier, d.Log)
	rateLimiter := middleware.NewRateLimiter(d.Redis, d.Log)

	api := app.Group("/api")

	// usage descriptions are public
	api.Get("/generate-and-send-all", generateHandler.AllUsage)
	api.Get("/generate-and-send", generateHandler.MusicUsage)
	api.Get("/generate-and-send-image", generateHandler.ImageUsage)

	generate := []fiber.Handler{
		authMiddleware.Authenticate(),
		rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour),
	}
	api.Post("/generate-and-send-all", append(generate, generateHandler.All)...)
	api.Post("/generate-and-send", append(generate, generateHandler.Music)...)
	api.Post("/generate-and-send-image", append(generate, generateHandler.Image)...)

	results := api.Group("/result", rateLimiter.ResultLimit(cfg.RateLimit.ResultPerMin))
	results.Get("/", resultHandler.Get)
	results.Get("/:id", resultHandler.Get)

	if d.Hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})

		app.Get("/ws/generations/:requestId", websocket.New(func(c *websocket.Conn) {
			d.Hub.HandleConnection(c, c.Params("requestId"))
		}))
	}

	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	errCode := response.CodeServiceError
	switch code {
	case fiber.StatusNotFound:
		errCode = response.CodeNotFound
	case fiber.StatusRequestEntityTooLarge, fiber.StatusBadRequest:
		errCode = response.CodeValidationError
	}
	return response.Error(c, code, errCode, message, nil)
}
