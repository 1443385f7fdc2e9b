package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/VictorKazakov/NeuroCanvas/app/controllers"
	"github.com/VictorKazakov/NeuroCanvas/app/models"
	"github.com/VictorKazakov/NeuroCanvas/app/repository"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/cache"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/database"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/env"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/generator"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/payment"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/resultstore"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/router"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/scheduler"
)

func main() {
	app, shutdown := NewApplication()

	// Graceful shutdown: drain in-flight generation attempts before exit.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		shutdown()
		_ = app.ShutdownWithTimeout(30 * time.Second)
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

// NewApplication wires storage, the payment pipeline and the scheduler, then
// returns the fiber app plus a shutdown func stopping the background workers.
func NewApplication() (*fiber.App, func()) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repository.InitializeFactory(db)

	// Result store: S3-compatible object storage when configured, local
	// filesystem otherwise (development).
	var store scheduler.ResultStore
	storeCfg, err := resultstore.LoadConfig()
	if err != nil {
		log.Fatalf("result store config: %v", err)
	}
	if storeCfg.IsEnabled() {
		s3store, err := resultstore.NewStore(storeCfg, db)
		if err != nil {
			log.Fatalf("result store setup: %v", err)
		}
		store = s3store
		controllers.SetArtifactURLResolver(s3store.URL)
	} else {
		local := resultstore.NewLocalStore(env.GetEnv("ARTIFACT_LOCAL_DIR", "./artifacts"), db)
		store = local
		controllers.SetArtifactURLResolver(func(_ context.Context, artifact *models.Artifact, _ time.Duration) (string, error) {
			return local.Path(artifact), nil
		})
	}

	manager := scheduler.Initialize(generator.NewPlaceholder(), store)
	manager.Start()

	retrier := payment.NewReceiptRetrier(payment.NewRepository(db), payment.NewEmitterFromEnv(), 30*time.Second)
	retrier.Start()

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName:   "NeuroCanvas",
		BodyLimit: 1 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	shutdown := func() {
		retrier.Stop()
		manager.Stop()
	}
	return app, shutdown
}
