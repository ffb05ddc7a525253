package api

import (
	"encoding/json"
	"log/slog"

	"absa-backend/internal/database"
	"absa-backend/pkg/api"
)

func convertFinetuneJob(job database.FinetuneJob) api.FinetuneJob {
	out := api.FinetuneJob{
		Id:           job.Id,
		Name:         job.Name,
		Task:         job.Task,
		Dataset:      job.Dataset,
		Paradigm:     job.Paradigm,
		Status:       job.Status,
		CreationTime: job.CreationTime,
		Errors:       convertJobErrors(job.Errors),
	}

	if job.CompletionTime.Valid {
		t := job.CompletionTime.Time
		out.CompletionTime = &t
	}

	if len(job.Hyperparameters) > 0 {
		if err := json.Unmarshal(job.Hyperparameters, &out.Hyperparameters); err != nil {
			slog.Error("error unmarshalling stored hyperparameters", "job_id", job.Id, "error", err)
		}
	}

	if len(job.Metrics) > 0 {
		if err := json.Unmarshal(job.Metrics, &out.Metrics); err != nil {
			slog.Error("error unmarshalling stored metrics", "job_id", job.Id, "error", err)
		}
	}

	if job.Checkpoint != nil {
		out.Checkpoint = &api.Checkpoint{
			Id:    job.Checkpoint.Id,
			Epoch: job.Checkpoint.Epoch,
			Key:   job.Checkpoint.Key,
			Size:  job.Checkpoint.Size,
		}
	}

	return out
}

func convertInferenceJob(job database.InferenceJob) api.InferenceJob {
	out := api.InferenceJob{
		Id:            job.Id,
		Task:          job.Task,
		Paradigm:      job.Paradigm,
		Status:        job.Status,
		InputBucket:   job.InputBucket,
		InputKey:      job.InputKey,
		ResultsBucket: job.ResultsBucket,
		LineCount:     job.LineCount,
		TripletCount:  job.TripletCount,
		CreationTime:  job.CreationTime,
		Errors:        convertJobErrors(job.Errors),
	}

	if job.Checkpoint != nil {
		out.FinetuneJobId = job.Checkpoint.FinetuneJobId
	}
	if job.ResultsKey.Valid {
		out.ResultsKey = job.ResultsKey.String
	}
	if job.CompletionTime.Valid {
		t := job.CompletionTime.Time
		out.CompletionTime = &t
	}

	return out
}

func convertPredictions(predictions []database.Prediction) []api.Prediction {
	out := make([]api.Prediction, 0, len(predictions))
	for _, p := range predictions {
		out = append(out, api.Prediction{
			Line:      p.Line,
			Sentence:  p.Sentence,
			Target:    p.Target,
			Aspect:    p.Aspect,
			Sentiment: p.Sentiment,
		})
	}
	return out
}

func convertJobErrors(errs []database.JobError) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error)
	}
	return out
}
