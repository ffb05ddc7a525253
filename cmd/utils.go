package cmd

import (
	"context"
	"flag"
	"log"

	"absa-backend/internal/storage"
	"absa-backend/internal/worker"

	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	if err := godotenv.Load(configPath); err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// S3Config is the subset of environment config shared by the api and worker
// binaries to reach the object store.
type S3Config struct {
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID,notEmpty,required"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY,notEmpty,required"`
	S3Region          string `env:"AWS_REGION,notEmpty,required"`
}

func NewS3Provider(cfg S3Config) (*storage.S3Provider, error) {
	return storage.NewS3Provider(&storage.S3ProviderConfig{
		S3EndpointURL:     cfg.S3EndpointURL,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
		S3Region:          cfg.S3Region,
	})
}

// BucketConfig names the buckets holding datasets, checkpoints, and inference
// results.
type BucketConfig struct {
	DatasetsBucket    string `env:"DATASETS_BUCKET" envDefault:"absa-datasets"`
	CheckpointsBucket string `env:"CHECKPOINTS_BUCKET" envDefault:"absa-checkpoints"`
	ResultsBucket     string `env:"RESULTS_BUCKET" envDefault:"absa-results"`
}

func (c BucketConfig) Buckets() worker.Buckets {
	return worker.Buckets{
		Datasets:    c.DatasetsBucket,
		Checkpoints: c.CheckpointsBucket,
		Results:     c.ResultsBucket,
	}
}

func EnsureBuckets(ctx context.Context, provider storage.Provider, cfg BucketConfig) error {
	for _, bucket := range []string{cfg.DatasetsBucket, cfg.CheckpointsBucket, cfg.ResultsBucket} {
		if err := provider.CreateBucket(ctx, bucket); err != nil {
			return err
		}
	}
	return nil
}
