package handler

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qtech-backend/internal/http/middleware"
	"qtech-backend/internal/models"
)

type RouterConfig struct {
	AllowOrigins []string
	RateLimit    int
	EnableSkip   bool
}

// NewApp returns a fiber app with the shared middleware stack.
func NewApp(cfg RouterConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		Prefork:       false,
		CaseSensitive: true,
		StrictRouting: true,
		JSONEncoder:   json.Marshal,
		JSONDecoder:   json.Unmarshal,
		ErrorHandler:  ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.AccessLog())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE",
	}))
	if cfg.RateLimit > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.RateLimit,
			Expiration: time.Minute,
			Next: func(c *fiber.Ctx) bool {
				return websocket.IsWebSocketUpgrade(c)
			},
		}))
	}
	return app
}

// Register mounts every route on app.
func Register(app *fiber.App, h *Handler, auth middleware.TokenValidator, cfg RouterConfig) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"message": "QTech queue API running"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Post("/api/auth/login", h.Login)
	app.Get("/api/display-board", h.DisplayBoard)
	app.Get("/api/services", h.ListServices)

	// Websockets
	ws := app.Group("/ws", UpgradeOnly)
	ws.Get("/display", websocket.New(h.DisplayWS))
	ws.Get("/user", middleware.JWTAuth(auth), websocket.New(h.UserWS))
	ws.Get("/service/:serviceId", middleware.JWTAuth(auth), websocket.New(h.ServiceWS))

	// Base API (login required)
	api := app.Group("/api", middleware.JWTAuth(auth))

	api.Post("/auth/logout", h.Logout)

	// Queue
	api.Post("/queue/request", middleware.RoleAuth(models.RoleStudent), h.RequestQueue)
	api.Get("/queue/history", h.History)
	api.Get("/queue/status/:serviceId", h.ServiceStatus)
	api.Get("/queue/:id", h.GetQueue)
	api.Delete("/queue/:id/cancel", middleware.RoleAuth(models.RoleStudent), h.CancelQueue)

	// Counters
	staff := middleware.RoleAuth(models.RoleCounterStaff, models.RoleAdmin)
	api.Get("/counters/my-counters", staff, h.MyCounters)
	api.Get("/counters/:id", staff, h.CounterDetail)
	api.Put("/counters/:id/status", staff, h.SetCounterStatus)
	api.Post("/counters/:id/call-next", staff, h.CallNext)
	api.Post("/counters/:id/start-serving/:queueId", staff, h.StartServing)
	api.Post("/counters/:id/complete/:queueId", staff, h.Complete)
	if cfg.EnableSkip {
		api.Post("/counters/:id/skip/:queueId", staff, h.Skip)
	}

	// Admin
	admin := middleware.RoleAuth(models.RoleAdmin)
	api.Get("/admin/settings", admin, h.GetSettings)
	api.Put("/admin/settings", admin, h.UpdateSettings)
}
