package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"absa-backend/internal/database"
	"absa-backend/internal/messaging"
	"absa-backend/internal/notify"
	"absa-backend/internal/storage"
	"absa-backend/internal/t5"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HarnessRunner is implemented by t5.Runner. Tests substitute a fake so the
// executor can be exercised without a Python installation.
type HarnessRunner interface {
	Train(ctx context.Context, params t5.TrainParams, dir string) error
	Infer(ctx context.Context, params t5.InferenceParams, dir string) error
}

// Buckets names the object store locations the executor reads and writes.
type Buckets struct {
	Datasets    string
	Checkpoints string
	Results     string
}

type Executor struct {
	db       *gorm.DB
	storage  storage.Provider
	runner   HarnessRunner
	buckets  Buckets
	notifier *notify.Notifier
}

func NewExecutor(db *gorm.DB, provider storage.Provider, runner HarnessRunner, buckets Buckets, notifier *notify.Notifier) *Executor {
	return &Executor{
		db:       db,
		storage:  provider,
		runner:   runner,
		buckets:  buckets,
		notifier: notifier,
	}
}

// Run consumes tasks until the receiver's channel is closed. concurrency
// controls how many harness processes may run at once.
func (e *Executor) Run(ctx context.Context, receiver messaging.Receiver, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for task := range receiver.Tasks() {
				e.processTask(ctx, task)
			}
		}()
	}
	wg.Wait()
}

func (e *Executor) processTask(ctx context.Context, task messaging.Task) {
	var err error
	switch task.Type() {
	case messaging.FinetuneQueue:
		var payload messaging.FinetuneTaskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling finetune task, discarding", "error", err)
			if rejectErr := task.Reject(); rejectErr != nil {
				slog.Error("error rejecting task", "error", rejectErr)
			}
			return
		}
		err = e.HandleFinetuneTask(ctx, payload)

	case messaging.InferenceQueue:
		var payload messaging.InferenceTaskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling inference task, discarding", "error", err)
			if rejectErr := task.Reject(); rejectErr != nil {
				slog.Error("error rejecting task", "error", rejectErr)
			}
			return
		}
		err = e.HandleInferenceTask(ctx, payload)

	default:
		slog.Error("received task from unknown queue, discarding", "queue", task.Type())
		if rejectErr := task.Reject(); rejectErr != nil {
			slog.Error("error rejecting task", "error", rejectErr)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if nackErr := task.Nack(); nackErr != nil {
			slog.Error("error nacking task", "error", nackErr)
		}
		return
	}

	if ackErr := task.Ack(); ackErr != nil {
		slog.Error("error acking task", "error", ackErr)
	}
}

func (e *Executor) HandleFinetuneTask(ctx context.Context, payload messaging.FinetuneTaskPayload) error {
	slog.Info("handling finetune task", "job_id", payload.JobId)

	var job database.FinetuneJob
	if err := e.db.WithContext(ctx).First(&job, "id = ?", payload.JobId).Error; err != nil {
		return fmt.Errorf("error loading finetune job %s: %w", payload.JobId, err)
	}

	var params t5.TrainParams
	if err := json.Unmarshal(job.Hyperparameters, &params); err != nil {
		e.failFinetune(ctx, job.Id, fmt.Sprintf("invalid hyperparameters: %v", err))
		return fmt.Errorf("error unmarshalling hyperparameters for job %s: %w", job.Id, err)
	}

	if err := database.UpdateFinetuneJobStatus(ctx, e.db, job.Id, database.JobRunning); err != nil {
		slog.Warn("failed to mark finetune job as running", "job_id", job.Id, "error", err)
	}

	scratch, err := os.MkdirTemp("", fmt.Sprintf("finetune-%s-*", job.Id))
	if err != nil {
		e.failFinetune(ctx, job.Id, err.Error())
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	dataDir := filepath.Join(scratch, "data", job.Dataset)
	if err := e.storage.DownloadDir(ctx, e.buckets.Datasets, job.Dataset+"/", dataDir); err != nil {
		e.failFinetune(ctx, job.Id, err.Error())
		return fmt.Errorf("failed to download dataset %s: %w", job.Dataset, err)
	}

	if err := e.runner.Train(ctx, params, scratch); err != nil {
		e.failFinetune(ctx, job.Id, err.Error())
		return fmt.Errorf("training failed for job %s: %w", job.Id, err)
	}

	outputDir := filepath.Join(scratch, params.OutputDir())

	ckptPath, epoch, err := t5.FindLatestCheckpoint(outputDir)
	if err != nil {
		e.failFinetune(ctx, job.Id, err.Error())
		return fmt.Errorf("no checkpoint produced for job %s: %w", job.Id, err)
	}

	metrics, err := e.readMetrics(outputDir)
	if err != nil {
		// Metrics are informational; a missing test_results.txt should not
		// discard a finished checkpoint.
		slog.Warn("failed to read eval results", "job_id", job.Id, "error", err)
	}

	checkpoint, err := e.uploadCheckpoint(ctx, job.Id, ckptPath, epoch)
	if err != nil {
		e.failFinetune(ctx, job.Id, err.Error())
		return fmt.Errorf("failed to upload checkpoint for job %s: %w", job.Id, err)
	}

	err = e.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := txn.Create(checkpoint).Error; err != nil {
			return err
		}
		if metrics != nil {
			if err := txn.Model(&database.FinetuneJob{Id: job.Id}).Update("metrics", metrics).Error; err != nil {
				return err
			}
		}
		return database.UpdateFinetuneJobStatus(ctx, txn, job.Id, database.JobCompleted)
	})
	if err != nil {
		return fmt.Errorf("error recording results for job %s: %w", job.Id, err)
	}

	e.notifier.JobFinished(ctx, notify.JobEvent{JobId: job.Id, Kind: notify.KindFinetune, Status: database.JobCompleted})
	slog.Info("finetune task completed", "job_id", job.Id, "epoch", epoch)
	return nil
}

func (e *Executor) readMetrics(outputDir string) ([]byte, error) {
	f, err := os.Open(filepath.Join(outputDir, t5.EvalResultsFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	metrics, err := t5.ParseEvalResults(f)
	if err != nil {
		return nil, err
	}

	return json.Marshal(metrics)
}

func (e *Executor) uploadCheckpoint(ctx context.Context, jobId uuid.UUID, path string, epoch int) (*database.Checkpoint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	key := fmt.Sprintf("%s/%s", jobId, t5.CheckpointName(epoch))
	if err := e.storage.PutObject(ctx, e.buckets.Checkpoints, key, f); err != nil {
		return nil, err
	}

	return &database.Checkpoint{
		Id:            uuid.New(),
		FinetuneJobId: jobId,
		Epoch:         epoch,
		Bucket:        e.buckets.Checkpoints,
		Key:           key,
		Size:          info.Size(),
		CreationTime:  time.Now().UTC(),
	}, nil
}

func (e *Executor) HandleInferenceTask(ctx context.Context, payload messaging.InferenceTaskPayload) error {
	slog.Info("handling inference task", "job_id", payload.JobId)

	var job database.InferenceJob
	if err := e.db.WithContext(ctx).Preload("Checkpoint").First(&job, "id = ?", payload.JobId).Error; err != nil {
		return fmt.Errorf("error loading inference job %s: %w", payload.JobId, err)
	}
	if job.Checkpoint == nil {
		e.failInference(ctx, job.Id, "inference job has no checkpoint")
		return fmt.Errorf("inference job %s has no checkpoint", job.Id)
	}

	var finetune database.FinetuneJob
	if err := e.db.WithContext(ctx).First(&finetune, "id = ?", job.Checkpoint.FinetuneJobId).Error; err != nil {
		return fmt.Errorf("error loading finetune job for checkpoint %s: %w", job.CheckpointId, err)
	}

	var trainParams t5.TrainParams
	if err := json.Unmarshal(finetune.Hyperparameters, &trainParams); err != nil {
		e.failInference(ctx, job.Id, fmt.Sprintf("invalid hyperparameters on source job: %v", err))
		return fmt.Errorf("error unmarshalling hyperparameters for job %s: %w", finetune.Id, err)
	}

	if err := database.UpdateInferenceJobStatus(ctx, e.db, job.Id, database.JobRunning); err != nil {
		slog.Warn("failed to mark inference job as running", "job_id", job.Id, "error", err)
	}

	scratch, err := os.MkdirTemp("", fmt.Sprintf("inference-%s-*", job.Id))
	if err != nil {
		e.failInference(ctx, job.Id, err.Error())
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	inputPath := filepath.Join(scratch, "input.txt")
	if err := e.storage.DownloadObject(ctx, job.InputBucket, job.InputKey, inputPath); err != nil {
		e.failInference(ctx, job.Id, err.Error())
		return fmt.Errorf("failed to download input %s/%s: %w", job.InputBucket, job.InputKey, err)
	}

	ckptPath := filepath.Join(scratch, filepath.Base(job.Checkpoint.Key))
	if err := e.storage.DownloadObject(ctx, job.Checkpoint.Bucket, job.Checkpoint.Key, ckptPath); err != nil {
		e.failInference(ctx, job.Id, err.Error())
		return fmt.Errorf("failed to download checkpoint %s: %w", job.Checkpoint.Key, err)
	}

	params := t5.InferenceParams{
		Task:                      job.Task,
		FilePath:                  inputPath,
		ModelNameOrPath:           trainParams.ModelNameOrPath,
		Paradigm:                  job.Paradigm,
		NGPU:                      trainParams.NGPU,
		TrainBatchSize:            trainParams.TrainBatchSize,
		GradientAccumulationSteps: trainParams.GradientAccumulationSteps,
		EvalBatchSize:             trainParams.EvalBatchSize,
		LearningRate:              trainParams.LearningRate,
		Ckpt:                      ckptPath,
		MaxSeqLength:              trainParams.MaxSeqLength,
	}

	if err := e.runner.Infer(ctx, params, scratch); err != nil {
		e.failInference(ctx, job.Id, err.Error())
		return fmt.Errorf("inference failed for job %s: %w", job.Id, err)
	}

	resultsPath := filepath.Join(scratch, t5.InferenceResultsFile)
	raw, err := os.ReadFile(resultsPath)
	if err != nil {
		e.failInference(ctx, job.Id, err.Error())
		return fmt.Errorf("harness produced no results file for job %s: %w", job.Id, err)
	}

	results, err := t5.ParseResults(bytes.NewReader(raw), job.Paradigm)
	if err != nil {
		e.failInference(ctx, job.Id, err.Error())
		return fmt.Errorf("failed to parse results for job %s: %w", job.Id, err)
	}

	resultsKey := fmt.Sprintf("%s/%s", job.Id, t5.InferenceResultsFile)
	if err := e.storage.PutObject(ctx, e.buckets.Results, resultsKey, bytes.NewReader(raw)); err != nil {
		e.failInference(ctx, job.Id, err.Error())
		return fmt.Errorf("failed to upload results for job %s: %w", job.Id, err)
	}

	predictions, tripletCount := predictionsFromResults(job.Id, results)

	err = e.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if len(predictions) > 0 {
			if err := txn.Create(&predictions).Error; err != nil {
				return err
			}
		}
		updates := map[string]any{
			"results_bucket": e.buckets.Results,
			"results_key":    resultsKey,
			"line_count":     len(results),
			"triplet_count":  tripletCount,
		}
		if err := txn.Model(&database.InferenceJob{Id: job.Id}).Updates(updates).Error; err != nil {
			return err
		}
		return database.UpdateInferenceJobStatus(ctx, txn, job.Id, database.JobCompleted)
	})
	if err != nil {
		return fmt.Errorf("error recording predictions for job %s: %w", job.Id, err)
	}

	e.notifier.JobFinished(ctx, notify.JobEvent{JobId: job.Id, Kind: notify.KindInference, Status: database.JobCompleted})
	slog.Info("inference task completed", "job_id", job.Id, "lines", len(results), "triplets", tripletCount)
	return nil
}

func predictionsFromResults(jobId uuid.UUID, results []t5.LineResult) ([]database.Prediction, int) {
	var predictions []database.Prediction
	total := 0
	for _, line := range results {
		for i, triplet := range line.Triplets {
			predictions = append(predictions, database.Prediction{
				JobId:     jobId,
				Line:      line.Line,
				Seq:       i,
				Sentence:  line.Raw,
				Target:    triplet.Target,
				Aspect:    triplet.Aspect,
				Sentiment: triplet.Sentiment,
			})
			total++
		}
	}
	return predictions, total
}

func (e *Executor) failFinetune(ctx context.Context, jobId uuid.UUID, message string) {
	database.SaveJobError(ctx, e.db, jobId, message)
	if err := database.UpdateFinetuneJobStatus(ctx, e.db, jobId, database.JobFailed); err != nil {
		slog.Error("failed to mark finetune job as failed", "job_id", jobId, "error", err)
	}
	e.notifier.JobFinished(ctx, notify.JobEvent{JobId: jobId, Kind: notify.KindFinetune, Status: database.JobFailed, Error: message})
}

func (e *Executor) failInference(ctx context.Context, jobId uuid.UUID, message string) {
	database.SaveJobError(ctx, e.db, jobId, message)
	if err := database.UpdateInferenceJobStatus(ctx, e.db, jobId, database.JobFailed); err != nil {
		slog.Error("failed to mark inference job as failed", "job_id", jobId, "error", err)
	}
	e.notifier.JobFinished(ctx, notify.JobEvent{JobId: jobId, Kind: notify.KindInference, Status: database.JobFailed, Error: message})
}
