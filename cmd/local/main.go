package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"absa-backend/cmd"
	"absa-backend/internal/api"
	"absa-backend/internal/database"
	"absa-backend/internal/messaging"
	"absa-backend/internal/notify"
	"absa-backend/internal/storage"
	"absa-backend/internal/t5"
	"absa-backend/internal/worker"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"
)

// Config for single-process mode: sqlite, in-memory queue, and filesystem
// storage under Root. Requires only a Python environment with the harness.
type Config struct {
	Root        string `env:"ROOT" envDefault:"./absa-local"`
	Port        int    `env:"PORT" envDefault:"3001"`
	PythonPath  string `env:"PYTHON_PATH" envDefault:"python3"`
	HarnessDir  string `env:"HARNESS_DIR,notEmpty,required"`
	Concurrency int    `env:"CONCURRENCY" envDefault:"1"`
	WebhookURL  string `env:"WEBHOOK_URL"`

	Buckets cmd.BucketConfig
}

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "absa.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := database.NewDatabase(path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	return db
}

// requeuePendingJobs republishes jobs that were queued or interrupted before
// the last shutdown, since the in-memory queue does not survive restarts.
func requeuePendingJobs(db *gorm.DB, queue *messaging.InMemoryQueue) {
	ctx := context.Background()

	var finetuneJobs []database.FinetuneJob
	if err := db.Where("status IN ?", []string{database.JobQueued, database.JobRunning}).Find(&finetuneJobs).Error; err != nil {
		log.Fatalf("Failed to fetch pending finetune jobs: %v", err)
	}
	for _, job := range finetuneJobs {
		if err := queue.PublishFinetuneTask(ctx, messaging.FinetuneTaskPayload{JobId: job.Id}); err != nil {
			log.Fatalf("Failed to requeue finetune job %s: %v", job.Id, err)
		}
	}

	var inferenceJobs []database.InferenceJob
	if err := db.Where("status IN ?", []string{database.JobQueued, database.JobRunning}).Find(&inferenceJobs).Error; err != nil {
		log.Fatalf("Failed to fetch pending inference jobs: %v", err)
	}
	for _, job := range inferenceJobs {
		if err := queue.PublishInferenceTask(ctx, messaging.InferenceTaskPayload{JobId: job.Id}); err != nil {
			log.Fatalf("Failed to requeue inference job %s: %v", job.Id, err)
		}
	}

	if n := len(finetuneJobs) + len(inferenceJobs); n > 0 {
		slog.Info("requeued pending jobs", "count", n)
	}
}

func main() {
	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating root directory: %v", err)
	}

	slog.Info("starting local backend", "root", cfg.Root, "port", cfg.Port, "harness_dir", cfg.HarnessDir)

	db := createDatabase(cfg.Root)

	provider := storage.NewLocalProvider(filepath.Join(cfg.Root, "storage"))
	if err := cmd.EnsureBuckets(context.Background(), provider, cfg.Buckets); err != nil {
		log.Fatalf("Failed to create buckets: %v", err)
	}

	queue := messaging.NewInMemoryQueue()
	requeuePendingJobs(db, queue)

	runner := &t5.Runner{Python: cfg.PythonPath, HarnessDir: cfg.HarnessDir}
	executor := worker.NewExecutor(db, provider, runner, cfg.Buckets.Buckets(), notify.NewNotifier(cfg.WebhookURL))

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	api.NewBackendService(db, queue, provider, cfg.Buckets.DatasetsBucket).AddRoutes(r)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerDone := make(chan struct{})
	go func() {
		executor.Run(ctx, queue, cfg.Concurrency)
		close(workerDone)
	}()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		cancel()
		queue.Close()
		<-workerDone
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v", cfg.Port, err)
	}

	slog.Info("server stopped")
}
