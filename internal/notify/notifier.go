package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const (
	KindFinetune  = "finetune"
	KindInference = "inference"
)

// JobEvent is posted to the configured webhook when a job reaches a terminal
// status.
type JobEvent struct {
	JobId  uuid.UUID `json:"job_id"`
	Kind   string    `json:"kind"`
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// Notifier delivers job completion events to an external webhook. A nil
// Notifier is valid and does nothing, so callers don't need to branch on
// whether a webhook is configured.
type Notifier struct {
	client *resty.Client
	url    string
}

func NewNotifier(webhookURL string) *Notifier {
	if webhookURL == "" {
		return nil
	}

	client := resty.New().
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second).
		SetTimeout(10 * time.Second)

	return &Notifier{client: client, url: webhookURL}
}

// JobFinished posts the event. Delivery failures are logged, not returned:
// the job outcome is already durable in the database and a flaky webhook must
// not fail the task.
func (n *Notifier) JobFinished(ctx context.Context, event JobEvent) {
	if n == nil {
		return
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(event).
		Post(n.url)
	if err != nil {
		slog.Error("error delivering job webhook", "job_id", event.JobId, "url", n.url, "error", err)
		return
	}
	if resp.IsError() {
		slog.Error("job webhook returned error status", "job_id", event.JobId, "url", n.url, "status", resp.StatusCode())
		return
	}

	slog.Info("job webhook delivered", "job_id", event.JobId, "status", event.Status)
}
