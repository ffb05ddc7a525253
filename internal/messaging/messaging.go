package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	FinetuneQueue   = "finetune_queue"
	InferenceQueue  = "inference_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type FinetuneTaskPayload struct {
	JobId uuid.UUID
}

type InferenceTaskPayload struct {
	JobId uuid.UUID
}

type Publisher interface {
	PublishFinetuneTask(ctx context.Context, payload FinetuneTaskPayload) error

	PublishInferenceTask(ctx context.Context, payload InferenceTaskPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
