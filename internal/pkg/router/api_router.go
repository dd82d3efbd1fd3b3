package router

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/HotspotSync/app/controllers"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/cache"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/config"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/engine"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/metrics"
)

const (
	apiRequestsPerMinute = 120
	limiterDatabase      = 1
)

type ApiRouter struct {
	cfg     *config.Config
	engine  *engine.Engine
	storage fiber.Storage
}

// NewApiRouter builds the operator API router. A nil storage keeps the
// rate limiter counters in memory.
func NewApiRouter(cfg *config.Config, e *engine.Engine, storage fiber.Storage) *ApiRouter {
	return &ApiRouter{cfg: cfg, engine: e, storage: storage}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	auth := basicauth.New(basicauth.Config{
		Users:           map[string]string{h.cfg.AdminUser: h.cfg.AdminPassword},
		Realm:           "HotspotSync",
		ContextUsername: controllers.USER_NAME,
	})

	app.Get("/metrics", auth, adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        apiRequestsPerMinute,
		Expiration: time.Minute,
		Storage:    h.storage,
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1", auth)
	controllers.NewOperatorController(h.engine.Operator, h.engine.Runner).RegisterRoutes(v1)
}

// NewLimiterStorage returns Redis storage for the API rate limiter on the
// cache server, or nil when Redis is unreachable.
func NewLimiterStorage() fiber.Storage {
	opts := cache.Options()
	if err := cache.GetClient().Ping(context.Background()).Err(); err != nil {
		log.Warnf("[Router] Redis unavailable, rate limiter falls back to memory: %v", err)
		return nil
	}

	host := "localhost"
	port := 6379
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	// Separate database for limiter counters (cache uses DB 0)
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		Database: limiterDatabase,
		Reset:    false,
	})
}
