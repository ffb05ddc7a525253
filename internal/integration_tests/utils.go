//go:build integration

package integrationtests

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"absa-backend/internal/api"
	"absa-backend/internal/database"
	"absa-backend/internal/messaging"
	"absa-backend/internal/storage"
	"absa-backend/internal/t5"
	"absa-backend/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

var buckets = worker.Buckets{
	Datasets:    "absa-datasets",
	Checkpoints: "absa-checkpoints",
	Results:     "absa-results",
}

func startPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("absa"),
		postgres.WithUsername("absa"),
		postgres.WithPassword("absa"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.NewDatabase(url)
	require.NoError(t, err)
	return db
}

func startMinio(t *testing.T) storage.Provider {
	t.Helper()
	ctx := context.Background()

	container, err := minio.Run(ctx, "minio/minio:RELEASE.2024-01-16T16-07-38Z")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	provider, err := storage.NewS3Provider(&storage.S3ProviderConfig{
		S3EndpointURL:     "http://" + endpoint,
		S3AccessKeyID:     container.Username,
		S3SecretAccessKey: container.Password,
		S3Region:          "us-east-1",
	})
	require.NoError(t, err)

	for _, bucket := range []string{buckets.Datasets, buckets.Checkpoints, buckets.Results} {
		require.NoError(t, provider.CreateBucket(ctx, bucket))
	}
	return provider
}

// fakeHarnessDir writes shell scripts standing in for main.py and
// inference.py. The train script mimics the harness layout: a checkpoint and
// test_results.txt under outputs/<task>/<dataset>/<paradigm>/.
func fakeHarnessDir(t *testing.T, task, dataset, paradigm string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake harness requires a POSIX shell")
	}

	dir := t.TempDir()
	outputDir := fmt.Sprintf("outputs/%s/%s/%s", task, dataset, paradigm)

	train := fmt.Sprintf(`mkdir -p %[1]s
echo weights > '%[1]s/cktepoch=20.ckpt'
printf 'precision = 0.6421\nrecall = 0.5873\nf1 = 0.6135\n' > %[1]s/test_results.txt
`, outputDir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, t5.TrainScript), []byte(train), 0755))

	infer := `printf '(food, quality, positive); (service, general, negative)\n(battery life, operation performance, positive)\n' > inference_results.txt
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, t5.InferenceScript), []byte(infer), 0755))

	return dir
}

type stack struct {
	db       *gorm.DB
	provider storage.Provider
	queue    *messaging.InMemoryQueue
	server   *httptest.Server
}

// startStack brings up the whole pipeline: HTTP API, in-memory queue, and an
// executor running the fake harness against real postgres and minio.
func startStack(t *testing.T, harnessDir string) *stack {
	t.Helper()

	db := startPostgres(t)
	provider := startMinio(t)

	queue := messaging.NewInMemoryQueue()

	router := chi.NewRouter()
	api.NewBackendService(db, queue, provider, buckets.Datasets).AddRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	runner := t5.NewRunner("/bin/sh", harnessDir)
	executor := worker.NewExecutor(db, provider, runner, buckets, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		executor.Run(ctx, queue, 1)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		queue.Close()
		<-done
	})

	return &stack{db: db, provider: provider, queue: queue, server: server}
}
