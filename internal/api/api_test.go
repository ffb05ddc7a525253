package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	backend "absa-backend/internal/api"
	"absa-backend/internal/database"
	"absa-backend/internal/messaging"
	"absa-backend/internal/storage"
	"absa-backend/internal/t5"
	"absa-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const datasetsBucket = "datasets"

type testServer struct {
	db     *gorm.DB
	queue  *messaging.InMemoryQueue
	store  storage.Provider
	server *httptest.Server
}

func setupServer(t *testing.T) *testServer {
	t.Helper()

	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	queue := messaging.NewInMemoryQueue()
	t.Cleanup(queue.Close)

	store := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, store.CreateBucket(context.Background(), datasetsBucket))

	router := chi.NewRouter()
	backend.NewBackendService(db, queue, store, datasetsBucket).AddRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{db: db, queue: queue, store: store, server: server}
}

func (ts *testServer) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(ts.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()

	resp, err := http.Get(ts.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSubmitFinetuneJob(t *testing.T) {
	ts := setupServer(t)

	req := api.FinetuneRequest{
		Name:     "tasd-rest15",
		Task:     "tasd",
		Dataset:  "rest15",
		Paradigm: "extraction",
		Hyperparameters: api.Hyperparameters{
			NumTrainEpochs: 30,
			Seed:           42,
		},
	}

	resp := ts.post(t, "/finetune", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	submitted := decodeBody[api.FinetuneSubmitResponse](t, resp)
	assert.NotEqual(t, uuid.Nil, submitted.JobId)

	var job database.FinetuneJob
	require.NoError(t, ts.db.First(&job, "id = ?", submitted.JobId).Error)
	assert.Equal(t, database.JobQueued, job.Status)
	assert.Equal(t, "tasd", job.Task)
	assert.Equal(t, "extraction", job.Paradigm)

	var params t5.TrainParams
	require.NoError(t, json.Unmarshal(job.Hyperparameters, &params))
	assert.Equal(t, 30, params.NumTrainEpochs)
	assert.Equal(t, 42, params.Seed)
	assert.Equal(t, "t5-base", params.ModelNameOrPath, "unset fields should take harness defaults")
	assert.Equal(t, 16, params.TrainBatchSize)

	select {
	case task := <-ts.queue.Tasks():
		assert.Equal(t, messaging.FinetuneQueue, task.Type())
		var payload messaging.FinetuneTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		assert.Equal(t, submitted.JobId, payload.JobId)
	case <-time.After(time.Second):
		t.Fatal("expected a finetune task to be published")
	}
}

func TestSubmitFinetuneJobValidation(t *testing.T) {
	ts := setupServer(t)

	tests := []struct {
		name string
		req  api.FinetuneRequest
		code int
	}{
		{"missing name", api.FinetuneRequest{Task: "tasd", Dataset: "rest15"}, http.StatusBadRequest},
		{"bad name", api.FinetuneRequest{Name: "no spaces allowed", Task: "tasd", Dataset: "rest15"}, http.StatusBadRequest},
		{"bad task", api.FinetuneRequest{Name: "run", Task: "absa", Dataset: "rest15"}, http.StatusUnprocessableEntity},
		{"bad dataset", api.FinetuneRequest{Name: "run", Task: "tasd", Dataset: "rest17"}, http.StatusUnprocessableEntity},
		{"bad paradigm", api.FinetuneRequest{Name: "run", Task: "tasd", Dataset: "rest15", Paradigm: "generation"}, http.StatusUnprocessableEntity},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			resp := ts.post(t, "/finetune", test.req)
			defer resp.Body.Close()
			assert.Equal(t, test.code, resp.StatusCode)
		})
	}
}

func TestGetFinetuneJob(t *testing.T) {
	ts := setupServer(t)

	resp := ts.get(t, "/finetune/"+uuid.NewString())
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.get(t, "/finetune/not-a-uuid")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	jobId := seedCompletedFinetuneJob(t, ts.db)

	resp = ts.get(t, "/finetune/"+jobId.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	job := decodeBody[api.FinetuneJob](t, resp)

	assert.Equal(t, jobId, job.Id)
	assert.Equal(t, database.JobCompleted, job.Status)
	require.NotNil(t, job.Checkpoint)
	assert.Equal(t, 7, job.Checkpoint.Epoch)
	assert.InDelta(t, 0.61, job.Metrics["f1"], 1e-9)
	require.NotNil(t, job.CompletionTime)
}

func TestListFinetuneJobs(t *testing.T) {
	ts := setupServer(t)

	seedCompletedFinetuneJob(t, ts.db)
	queued := database.FinetuneJob{
		Id:           uuid.New(),
		Name:         "queued-run",
		Task:         "aste",
		Dataset:      "laptop14",
		Paradigm:     "annotation",
		Status:       database.JobQueued,
		CreationTime: time.Now().UTC(),
	}
	require.NoError(t, ts.db.Create(&queued).Error)

	resp := ts.get(t, "/finetune")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := decodeBody[api.ListFinetuneJobsResponse](t, resp)
	assert.Len(t, all.Jobs, 2)

	resp = ts.get(t, "/finetune?status=queued")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	filtered := decodeBody[api.ListFinetuneJobsResponse](t, resp)
	require.Len(t, filtered.Jobs, 1)
	assert.Equal(t, queued.Id, filtered.Jobs[0].Id)
}

func TestSubmitInferenceJob(t *testing.T) {
	ts := setupServer(t)
	finetuneId := seedCompletedFinetuneJob(t, ts.db)

	resp := ts.post(t, "/inference", api.InferenceRequest{
		FinetuneJobId: finetuneId,
		InputBucket:   datasetsBucket,
		InputKey:      "uploads/sentences.txt",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	submitted := decodeBody[api.InferenceSubmitResponse](t, resp)

	var job database.InferenceJob
	require.NoError(t, ts.db.First(&job, "id = ?", submitted.JobId).Error)
	assert.Equal(t, database.JobQueued, job.Status)
	assert.Equal(t, "tasd", job.Task)
	assert.Equal(t, "extraction", job.Paradigm)

	select {
	case task := <-ts.queue.Tasks():
		assert.Equal(t, messaging.InferenceQueue, task.Type())
	case <-time.After(time.Second):
		t.Fatal("expected an inference task to be published")
	}
}

func TestSubmitInferenceJobRejectsUnfinishedModel(t *testing.T) {
	ts := setupServer(t)

	queued := database.FinetuneJob{
		Id:           uuid.New(),
		Name:         "still-training",
		Task:         "tasd",
		Dataset:      "rest15",
		Paradigm:     "extraction",
		Status:       database.JobRunning,
		CreationTime: time.Now().UTC(),
	}
	require.NoError(t, ts.db.Create(&queued).Error)

	resp := ts.post(t, "/inference", api.InferenceRequest{
		FinetuneJobId: queued.Id,
		InputBucket:   datasetsBucket,
		InputKey:      "uploads/sentences.txt",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = ts.post(t, "/inference", api.InferenceRequest{
		FinetuneJobId: uuid.New(),
		InputBucket:   datasetsBucket,
		InputKey:      "uploads/sentences.txt",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.post(t, "/inference", api.InferenceRequest{FinetuneJobId: queued.Id})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestGetInferenceResults(t *testing.T) {
	ts := setupServer(t)
	finetuneId := seedCompletedFinetuneJob(t, ts.db)

	var checkpoint database.Checkpoint
	require.NoError(t, ts.db.First(&checkpoint, "finetune_job_id = ?", finetuneId).Error)

	job := database.InferenceJob{
		Id:            uuid.New(),
		CheckpointId:  checkpoint.Id,
		Task:          "tasd",
		Paradigm:      "extraction",
		InputBucket:   datasetsBucket,
		InputKey:      "uploads/sentences.txt",
		ResultsBucket: "results",
		ResultsKey:    sql.NullString{String: "key", Valid: true},
		Status:        database.JobRunning,
		LineCount:     1,
		TripletCount:  2,
		CreationTime:  time.Now().UTC(),
	}
	require.NoError(t, ts.db.Create(&job).Error)

	// Results are not available until the job completes.
	resp := ts.get(t, fmt.Sprintf("/inference/%s/results", job.Id))
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	require.NoError(t, database.UpdateInferenceJobStatus(context.Background(), ts.db, job.Id, database.JobCompleted))
	predictions := []database.Prediction{
		{JobId: job.Id, Line: 1, Seq: 0, Sentence: "raw line", Target: "food", Aspect: "quality", Sentiment: "positive"},
		{JobId: job.Id, Line: 1, Seq: 1, Sentence: "raw line", Target: "service", Aspect: "general", Sentiment: "negative"},
	}
	require.NoError(t, ts.db.Create(&predictions).Error)

	resp = ts.get(t, fmt.Sprintf("/inference/%s/results", job.Id))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := decodeBody[api.InferenceResultsResponse](t, resp)

	assert.Equal(t, job.Id, results.JobId)
	assert.Equal(t, 2, results.TripletCount)
	require.Len(t, results.Predictions, 2)
	assert.Equal(t, "food", results.Predictions[0].Target)
	assert.Equal(t, "negative", results.Predictions[1].Sentiment)

	resp = ts.get(t, "/inference/"+job.Id.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fetched := decodeBody[api.InferenceJob](t, resp)
	assert.Equal(t, finetuneId, fetched.FinetuneJobId)
	assert.Equal(t, database.JobCompleted, fetched.Status)
}

func TestDownloadInferenceResults(t *testing.T) {
	ts := setupServer(t)
	finetuneId := seedCompletedFinetuneJob(t, ts.db)

	var checkpoint database.Checkpoint
	require.NoError(t, ts.db.First(&checkpoint, "finetune_job_id = ?", finetuneId).Error)

	ctx := context.Background()
	const resultsBucket = "results"
	require.NoError(t, ts.store.CreateBucket(ctx, resultsBucket))

	job := database.InferenceJob{
		Id:            uuid.New(),
		CheckpointId:  checkpoint.Id,
		Task:          "tasd",
		Paradigm:      "extraction",
		InputBucket:   datasetsBucket,
		InputKey:      "uploads/sentences.txt",
		ResultsBucket: resultsBucket,
		Status:        database.JobRunning,
		CreationTime:  time.Now().UTC(),
	}
	require.NoError(t, ts.db.Create(&job).Error)

	rawURL := fmt.Sprintf("/inference/%s/results/raw", job.Id)

	// Not downloadable until the job completes.
	resp := ts.get(t, rawURL)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	raw := "(food, quality, positive); (service, general, negative)\n"
	resultsKey := fmt.Sprintf("%s/inference_results.txt", job.Id)
	require.NoError(t, ts.store.PutObject(ctx, resultsBucket, resultsKey, strings.NewReader(raw)))
	require.NoError(t, ts.db.Model(&database.InferenceJob{Id: job.Id}).
		Update("results_key", resultsKey).Error)
	require.NoError(t, database.UpdateInferenceJobStatus(ctx, ts.db, job.Id, database.JobCompleted))

	resp = ts.get(t, rawURL)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, raw, string(body))
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	resp = ts.get(t, "/inference/"+uuid.NewString()+"/results/raw")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListDatasets(t *testing.T) {
	ts := setupServer(t)

	ctx := context.Background()
	for _, key := range []string{"rest15/train.txt", "rest15/dev.txt", "rest15/test.txt", "laptop14/train.txt"} {
		require.NoError(t, ts.store.PutObject(ctx, datasetsBucket, key, strings.NewReader("data")))
	}

	resp := ts.get(t, "/datasets")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decodeBody[api.ListDatasetsResponse](t, resp)

	require.Len(t, listed.Datasets, 2)
	assert.Equal(t, "laptop14", listed.Datasets[0].Name)
	assert.Equal(t, "rest15", listed.Datasets[1].Name)
	assert.Equal(t, []string{"dev.txt", "test.txt", "train.txt"}, listed.Datasets[1].Files)
}

func TestHealth(t *testing.T) {
	ts := setupServer(t)

	resp := ts.get(t, "/health")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func seedCompletedFinetuneJob(t *testing.T, db *gorm.DB) uuid.UUID {
	t.Helper()

	params := t5.DefaultTrainParams("tasd", "rest15")
	params.Paradigm = "extraction"
	hyperparams, err := json.Marshal(params)
	require.NoError(t, err)

	metrics, err := json.Marshal(map[string]float64{"precision": 0.64, "recall": 0.58, "f1": 0.61})
	require.NoError(t, err)

	job := database.FinetuneJob{
		Id:              uuid.New(),
		Name:            "seeded-run",
		Task:            params.Task,
		Dataset:         params.Dataset,
		Paradigm:        params.Paradigm,
		Status:          database.JobCompleted,
		Hyperparameters: hyperparams,
		Metrics:         metrics,
		CreationTime:    time.Now().UTC(),
		CompletionTime:  sql.NullTime{Time: time.Now().UTC(), Valid: true},
	}
	require.NoError(t, db.Create(&job).Error)

	checkpoint := database.Checkpoint{
		Id:            uuid.New(),
		FinetuneJobId: job.Id,
		Epoch:         7,
		Bucket:        "checkpoints",
		Key:           fmt.Sprintf("%s/cktepoch=7.ckpt", job.Id),
		Size:          9,
		CreationTime:  time.Now().UTC(),
	}
	require.NoError(t, db.Create(&checkpoint).Error)

	return job.Id
}
