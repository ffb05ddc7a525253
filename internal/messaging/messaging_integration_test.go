//go:build integration

// Run unit tests with: go test ./...
// Run integration tests with: go test -tags=integration ./...

package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

func TestRabbitMQPublishConsume(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := rabbitmq.Run(ctx, "rabbitmq:3.12-management")
	require.NoError(t, err, "failed to start rabbitmq container")
	defer func() {
		require.NoError(t, testcontainers.TerminateContainer(container))
	}()

	url, err := container.AmqpURL(ctx)
	require.NoError(t, err)

	publisher, err := NewRabbitMQPublisher(url)
	require.NoError(t, err)
	defer publisher.Close()

	receiver, err := NewRabbitMQReceiver(url)
	require.NoError(t, err)
	defer receiver.Close()

	jobId := uuid.New()
	require.NoError(t, publisher.PublishFinetuneTask(ctx, FinetuneTaskPayload{JobId: jobId}))

	select {
	case task := <-receiver.Tasks():
		assert.Equal(t, FinetuneQueue, task.Type())

		var payload FinetuneTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		assert.Equal(t, jobId, payload.JobId)
		assert.NoError(t, task.Ack())
	case <-ctx.Done():
		t.Fatal("timed out waiting for task delivery")
	}
}
