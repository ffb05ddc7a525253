package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"absa-backend/internal/database"
	"absa-backend/internal/messaging"
	"absa-backend/internal/storage"
	"absa-backend/internal/t5"
	"absa-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BackendService struct {
	db             *gorm.DB
	publisher      messaging.Publisher
	storage        storage.Provider
	datasetsBucket string
}

func NewBackendService(db *gorm.DB, publisher messaging.Publisher, provider storage.Provider, datasetsBucket string) *BackendService {
	return &BackendService{
		db:             db,
		publisher:      publisher,
		storage:        provider,
		datasetsBucket: datasetsBucket,
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/finetune", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitFinetuneJob))
		r.Get("/", RestHandler(s.ListFinetuneJobs))
		r.Get("/{job_id}", RestHandler(s.GetFinetuneJob))
	})
	r.Route("/inference", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitInferenceJob))
		r.Get("/", RestHandler(s.ListInferenceJobs))
		r.Get("/{job_id}", RestHandler(s.GetInferenceJob))
		r.Get("/{job_id}/results", RestHandler(s.GetInferenceResults))
		r.Get("/{job_id}/results/raw", s.DownloadInferenceResults)
	})
	r.Get("/datasets", RestHandler(s.ListDatasets))
}

func (s *BackendService) SubmitFinetuneJob(r *http.Request) (any, error) {
	req, err := ParseRequest[api.FinetuneRequest](r)
	if err != nil {
		return nil, err
	}

	if req.Name == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "missing required field: name")
	}
	if err := validateName(req.Name); err != nil {
		return nil, err
	}

	params := buildTrainParams(req)
	if err := params.Validate(); err != nil {
		return nil, CodedError(http.StatusUnprocessableEntity, err)
	}

	hyperparams, err := json.Marshal(params)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to serialize hyperparameters")
	}

	ctx := r.Context()

	job := database.FinetuneJob{
		Id:              uuid.New(),
		Name:            req.Name,
		Task:            params.Task,
		Dataset:         params.Dataset,
		Paradigm:        params.Paradigm,
		Status:          database.JobQueued,
		Hyperparameters: hyperparams,
		CreationTime:    time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		slog.Error("error creating finetune job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create finetune job entry")
	}

	if err := s.publisher.PublishFinetuneTask(ctx, messaging.FinetuneTaskPayload{JobId: job.Id}); err != nil {
		slog.Error("error publishing finetune task", "job_id", job.Id, "error", err)
		database.SaveJobError(ctx, s.db, job.Id, "failed to queue finetune task")
		if err := database.UpdateFinetuneJobStatus(ctx, s.db, job.Id, database.JobFailed); err != nil {
			slog.Error("error marking finetune job as failed", "job_id", job.Id, "error", err)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue finetune task")
	}

	slog.Info("submitted finetune job", "job_id", job.Id, "task", job.Task, "dataset", job.Dataset, "paradigm", job.Paradigm)
	return api.FinetuneSubmitResponse{JobId: job.Id}, nil
}

// buildTrainParams overlays the request's optional hyperparameters onto the
// harness defaults.
func buildTrainParams(req api.FinetuneRequest) t5.TrainParams {
	params := t5.DefaultTrainParams(req.Task, req.Dataset)
	if req.Paradigm != "" {
		params.Paradigm = req.Paradigm
	}

	h := req.Hyperparameters
	if h.ModelNameOrPath != "" {
		params.ModelNameOrPath = h.ModelNameOrPath
	}
	if h.NGPU > 0 {
		params.NGPU = h.NGPU
	}
	if h.TrainBatchSize > 0 {
		params.TrainBatchSize = h.TrainBatchSize
	}
	if h.GradientAccumulationSteps > 0 {
		params.GradientAccumulationSteps = h.GradientAccumulationSteps
	}
	if h.EvalBatchSize > 0 {
		params.EvalBatchSize = h.EvalBatchSize
	}
	if h.LearningRate > 0 {
		params.LearningRate = h.LearningRate
	}
	if h.NumTrainEpochs > 0 {
		params.NumTrainEpochs = h.NumTrainEpochs
	}
	params.MaxSeqLength = h.MaxSeqLength
	params.Seed = h.Seed
	params.WeightDecay = h.WeightDecay
	params.AdamEpsilon = h.AdamEpsilon
	params.WarmupSteps = h.WarmupSteps

	return params
}

type listJobsQuery struct {
	Status string `schema:"status"`
}

func (s *BackendService) ListFinetuneJobs(r *http.Request) (any, error) {
	query, err := ParseRequestQueryParams[listJobsQuery](r)
	if err != nil {
		return nil, err
	}

	txn := s.db.WithContext(r.Context()).Preload("Checkpoint").Order("creation_time desc")
	if query.Status != "" {
		txn = txn.Where("status = ?", strings.ToUpper(query.Status))
	}

	var jobs []database.FinetuneJob
	if err := txn.Find(&jobs).Error; err != nil {
		slog.Error("error listing finetune jobs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving finetune jobs")
	}

	out := make([]api.FinetuneJob, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, convertFinetuneJob(job))
	}
	return api.ListFinetuneJobsResponse{Jobs: out}, nil
}

func (s *BackendService) GetFinetuneJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	var job database.FinetuneJob
	err = s.db.WithContext(r.Context()).Preload("Checkpoint").Preload("Errors").First(&job, "id = ?", jobId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "finetune job not found")
		}
		slog.Error("error getting finetune job", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving finetune job record")
	}

	return convertFinetuneJob(job), nil
}

func (s *BackendService) SubmitInferenceJob(r *http.Request) (any, error) {
	req, err := ParseRequest[api.InferenceRequest](r)
	if err != nil {
		return nil, err
	}

	if req.FinetuneJobId == uuid.Nil || req.InputBucket == "" || req.InputKey == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "missing required fields: finetune_job_id, input_bucket, input_key")
	}

	ctx := r.Context()

	var finetune database.FinetuneJob
	err = s.db.WithContext(ctx).Preload("Checkpoint").First(&finetune, "id = ?", req.FinetuneJobId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "finetune job not found")
		}
		slog.Error("error getting finetune job", "job_id", req.FinetuneJobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving finetune job record")
	}

	if finetune.Status != database.JobCompleted {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "finetune job is not ready: job has status %s", finetune.Status)
	}
	if finetune.Checkpoint == nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "finetune job has no checkpoint")
	}

	job := database.InferenceJob{
		Id:           uuid.New(),
		CheckpointId: finetune.Checkpoint.Id,
		Task:         finetune.Task,
		Paradigm:     finetune.Paradigm,
		InputBucket:  req.InputBucket,
		InputKey:     req.InputKey,
		Status:       database.JobQueued,
		CreationTime: time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		slog.Error("error creating inference job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create inference job entry")
	}

	if err := s.publisher.PublishInferenceTask(ctx, messaging.InferenceTaskPayload{JobId: job.Id}); err != nil {
		slog.Error("error publishing inference task", "job_id", job.Id, "error", err)
		database.SaveJobError(ctx, s.db, job.Id, "failed to queue inference task")
		if err := database.UpdateInferenceJobStatus(ctx, s.db, job.Id, database.JobFailed); err != nil {
			slog.Error("error marking inference job as failed", "job_id", job.Id, "error", err)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue inference task")
	}

	slog.Info("submitted inference job", "job_id", job.Id, "checkpoint_id", job.CheckpointId)
	return api.InferenceSubmitResponse{JobId: job.Id}, nil
}

func (s *BackendService) ListInferenceJobs(r *http.Request) (any, error) {
	query, err := ParseRequestQueryParams[listJobsQuery](r)
	if err != nil {
		return nil, err
	}

	txn := s.db.WithContext(r.Context()).Preload("Checkpoint").Order("creation_time desc")
	if query.Status != "" {
		txn = txn.Where("status = ?", strings.ToUpper(query.Status))
	}

	var jobs []database.InferenceJob
	if err := txn.Find(&jobs).Error; err != nil {
		slog.Error("error listing inference jobs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving inference jobs")
	}

	out := make([]api.InferenceJob, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, convertInferenceJob(job))
	}
	return api.ListInferenceJobsResponse{Jobs: out}, nil
}

func (s *BackendService) GetInferenceJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	var job database.InferenceJob
	err = s.db.WithContext(r.Context()).Preload("Checkpoint").Preload("Errors").First(&job, "id = ?", jobId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "inference job not found")
		}
		slog.Error("error getting inference job", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving inference job record")
	}

	return convertInferenceJob(job), nil
}

func (s *BackendService) GetInferenceResults(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var job database.InferenceJob
	err = s.db.WithContext(ctx).First(&job, "id = ?", jobId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "inference job not found")
		}
		slog.Error("error getting inference job", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving inference job record")
	}

	if job.Status != database.JobCompleted {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "inference job is not complete: job has status %s", job.Status)
	}

	var predictions []database.Prediction
	err = s.db.WithContext(ctx).Where("job_id = ?", jobId).Order("line, seq").Find(&predictions).Error
	if err != nil {
		slog.Error("error getting predictions", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving predictions")
	}

	return api.InferenceResultsResponse{
		JobId:        job.Id,
		Status:       job.Status,
		LineCount:    job.LineCount,
		TripletCount: job.TripletCount,
		Predictions:  convertPredictions(predictions),
	}, nil
}

// DownloadInferenceResults streams the harness's raw inference_results.txt
// for a completed job. Served outside RestHandler since the body is the file
// itself, not JSON.
func (s *BackendService) DownloadInferenceResults(w http.ResponseWriter, r *http.Request) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var job database.InferenceJob
	err = s.db.WithContext(r.Context()).First(&job, "id = ?", jobId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "inference job not found", http.StatusNotFound)
			return
		}
		slog.Error("error getting inference job", "job_id", jobId, "error", err)
		http.Error(w, "error retrieving inference job record", http.StatusInternalServerError)
		return
	}

	if job.Status != database.JobCompleted || !job.ResultsKey.Valid {
		http.Error(w, fmt.Sprintf("inference job is not complete: job has status %s", job.Status), http.StatusUnprocessableEntity)
		return
	}

	stream, err := s.storage.GetObjectStream(job.ResultsBucket, job.ResultsKey.String)
	if err != nil {
		slog.Error("error opening results stream", "job_id", jobId, "key", job.ResultsKey.String, "error", err)
		http.Error(w, "error retrieving results file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", t5.InferenceResultsFile))
	if _, err := io.Copy(w, stream); err != nil {
		slog.Error("error streaming results file", "job_id", jobId, "error", err)
	}
}

func (s *BackendService) ListDatasets(r *http.Request) (any, error) {
	objects, err := s.storage.ListObjects(r.Context(), s.datasetsBucket, "")
	if err != nil {
		slog.Error("error listing dataset bucket", "bucket", s.datasetsBucket, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing datasets")
	}

	grouped := make(map[string][]string)
	for _, obj := range objects {
		dataset, file, found := strings.Cut(obj.Name, "/")
		if !found {
			continue
		}
		grouped[dataset] = append(grouped[dataset], file)
	}

	datasets := make([]api.Dataset, 0, len(grouped))
	for name, files := range grouped {
		sort.Strings(files)
		datasets = append(datasets, api.Dataset{Name: name, Files: files})
	}
	sort.Slice(datasets, func(i, j int) bool { return datasets[i].Name < datasets[j].Name })

	return api.ListDatasetsResponse{Datasets: datasets}, nil
}
