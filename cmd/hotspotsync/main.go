package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/HotspotSync/app/repository"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/aaa"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/cache"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/clock"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/config"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/database"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/engine"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/env"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/metrics"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/routeragent"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/router"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/scheduler"
)

func main() {
	app, cfg, manager := NewApplication()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		fiberlog.Info("[Main] Shutting down")
		if manager != nil {
			manager.Stop()
		}
		if err := app.Shutdown(); err != nil {
			fiberlog.Errorf("[Main] Shutdown failed: %v", err)
		}
	}()

	if err := app.Listen(fmt.Sprintf("%s:%s", cfg.AppHost, cfg.AppPort)); err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *config.Config, *scheduler.Manager) {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	database.SetupDatabase(cfg.Database)
	cache.SetupCache()
	metrics.Init()

	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()

	agent := routeragent.NewHTTPClientFromConfig(cfg.RouterAgent)
	e := engine.New(cfg, repos, aaa.NewGormStore(database.GetDB()), agent, clock.Real())

	app := fiber.New(fiber.Config{
		AppName: "HotspotSync",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	basePath := "./"
	if _, err := os.Stat(basePath + "public/docs/v1/openapi.yml"); os.IsNotExist(err) {
		basePath = "../../"
	}
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	// ROUTER
	router.InstallRouter(app, cfg, e)

	var manager *scheduler.Manager
	if cfg.Scheduler.Enabled {
		manager = e.Manager(cfg)
		manager.Start()
	} else {
		fiberlog.Info("[Main] Scheduler disabled, jobs run via cmd/cycle or the API")
	}

	return app, cfg, manager
}
