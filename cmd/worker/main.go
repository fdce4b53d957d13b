package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"

	"wardrobeapi/dbhelper"
	"wardrobeapi/services"
	"wardrobeapi/tasks"
)

func runScheduler() {

	scheduler := asynq.NewScheduler(asynq.RedisClientOpt{Addr: os.Getenv("ASYNC_BROKER_ADDRESS")}, &asynq.SchedulerOpts{

		LogLevel: asynq.InfoLevel,
	})

	tasksToSchedule := []struct {
		cron string
		task *asynq.Task
		desc string
	}{
		{
			cron: "*/15 * * * *",
			task: tasks.NewStaleRunSweepTask(),
			desc: "Stale outfit run sweep",
		},
	}

	for _, t := range tasksToSchedule {
		entryID, err := scheduler.Register(t.cron, t.task, asynq.Queue(tasks.QueueGenerate))
		if err != nil {
			log.Fatalf("Failed to register task '%s': %v", t.desc, err)
		}
		log.Printf("Registered task '%s' with ID: %s, cron: %s", t.desc, entryID, t.cron)
	}

	log.Println("Starting scheduler...")
	if err := scheduler.Run(); err != nil {
		log.Fatalf("Scheduler failed: %v", err)
	}
}

func main() {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         os.Getenv("SENTRY_DSN"),
		Environment: services.GetEnv("ENV", "local"),
		Release:     "wardrobeapi-worker@1.0.0",
	})
	if err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}
	defer sentry.Flush(2 * time.Second)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: os.Getenv("ASYNC_BROKER_ADDRESS")},
		asynq.Config{Concurrency: services.GetEnvInt("WORKER_CONCURRENCY", 4), Queues: map[string]int{
			tasks.QueueGenerate: 7,
		}},
	)
	ctx := context.Background()
	db := dbhelper.SetupDB()

	storage, err := services.NewR2Service(ctx)
	if err != nil {
		log.Fatalf("[Queue] Failed to initialize object storage: %v", err)
	}
	urlCache, err := services.NewURLCacheService(storage)
	if err != nil {
		log.Fatal("[Queue] Failed to initialize URL cache service")
	}
	loader, err := services.NewImageLoader(urlCache)
	if err != nil {
		log.Fatalf("[Queue] Failed to initialize image loader: %v", err)
	}
	stylist, err := services.NewGeminiStylist(ctx, os.Getenv("GOOGLE_API_KEY"), loader)
	if err != nil {
		log.Fatalf("[Queue] Failed to initialize stylist: %v", err)
	}
	notifier, err := services.NewFirebaseNotifier(ctx, db)
	if err != nil {
		log.Fatalf("error initializing firebase app: %v\n", err)
	}
	events := services.NewRunEventBus(os.Getenv("ASYNC_BROKER_ADDRESS"))
	defer events.Close()
	staleAfter := time.Duration(services.GetEnvInt("OUTFIT_STALE_AFTER_MINUTES", int(tasks.MinStaleAfter/time.Minute))) * time.Minute

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeOutfitRun, func(ctx context.Context, t *asynq.Task) error {
		return tasks.HandleOutfitRunTask(ctx, t, db, stylist, storage, events, notifier)
	})
	mux.HandleFunc(tasks.TypeProfileDetect, func(ctx context.Context, t *asynq.Task) error {
		return tasks.HandleProfileDetectTask(ctx, t, db, stylist)
	})
	mux.HandleFunc(tasks.TypeStaleRunSweep, func(ctx context.Context, t *asynq.Task) error {
		return tasks.HandleStaleRunSweepTask(ctx, t, db, staleAfter)
	})

	go runScheduler()
	if err := srv.Run(mux); err != nil {
		log.Fatal(err)
	}
}
