package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4/middleware"

	"wardrobeapi/controllers"
	"wardrobeapi/dbhelper"
	"wardrobeapi/services"
	"wardrobeapi/tasks"
)

func main() {
	if os.Getenv("JWT_SECRET") == "" {
		log.Fatal("JWT_SECRET environment variable is not set!")
	}
	err := sentry.Init(sentry.ClientOptions{
		// Either set your DSN here or set the SENTRY_DSN environment variable.
		Dsn:              os.Getenv("SENTRY_DSN"),
		Environment:      services.GetEnv("ENV", "local"),
		Release:          "wardrobeapi@1.0.0",
		Debug:            false,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}
	defer sentry.Recover()
	defer sentry.Flush(2 * time.Second)

	db := dbhelper.SetupDB()
	ctx := context.Background()

	storage, err := services.NewR2Service(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize object storage: %v", err)
	}
	urlCache, err := services.NewURLCacheService(storage)
	if err != nil {
		log.Fatal("Failed to initialize URL cache service")
	}
	asynqClient := tasks.NewClient()
	defer asynqClient.Close()

	events := services.NewRunEventBus(os.Getenv("ASYNC_BROKER_ADDRESS"))
	defer events.Close()
	if err := events.Ping(ctx); err != nil {
		log.Printf("[Events] redis is not reachable, live updates will fail: %v", err)
	}

	e := controllers.SetupServer(db, storage, urlCache, asynqClient, events)
	e.Debug = services.GetEnvBool("API_DEBUG", false)
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(sentryecho.New(sentryecho.Options{Repanic: true}))
	e.Logger.Fatal(e.Start(":" + services.GetEnv("PORT", "8083")))
}
