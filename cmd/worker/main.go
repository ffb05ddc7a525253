package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"absa-backend/cmd"
	"absa-backend/internal/database"
	"absa-backend/internal/messaging"
	"absa-backend/internal/notify"
	"absa-backend/internal/t5"
	"absa-backend/internal/worker"

	"github.com/caarlos0/env/v11"
)

type WorkerConfig struct {
	DatabaseURL string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL string `env:"RABBITMQ_URL,notEmpty,required"`

	PythonPath  string `env:"PYTHON_PATH" envDefault:"python3"`
	HarnessDir  string `env:"HARNESS_DIR,notEmpty,required"`
	Concurrency int    `env:"CONCURRENCY" envDefault:"1"`

	WebhookURL string `env:"WEBHOOK_URL"`

	S3      cmd.S3Config
	Buckets cmd.BucketConfig
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	provider, err := cmd.NewS3Provider(cfg.S3)
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer receiver.Close()

	runner := &t5.Runner{Python: cfg.PythonPath, HarnessDir: cfg.HarnessDir}
	executor := worker.NewExecutor(db, provider, runner, cfg.Buckets.Buckets(), notify.NewNotifier(cfg.WebhookURL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutdown signal received, stopping worker...")
		cancel()
		receiver.Close()
	}()

	log.Println("Worker started. Waiting for tasks.")
	executor.Run(ctx, receiver, cfg.Concurrency)

	log.Println("Worker process stopped.")
}
