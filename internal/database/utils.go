package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func UpdateFinetuneJobStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&FinetuneJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating finetune job status", "job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}

func UpdateInferenceJobStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&InferenceJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating inference job status", "job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}

func SaveJobError(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, errorMessage string) {
	jobError := JobError{
		JobId:     jobId,
		ErrorId:   uuid.New(),
		Error:     errorMessage,
		Timestamp: time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&jobError).Error; err != nil {
		slog.Error("error saving job error", "job_id", jobId, "error", err)
	}
}
