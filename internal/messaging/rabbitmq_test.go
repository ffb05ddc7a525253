package messaging

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReceiver() *RabbitMQReceiver {
	return &RabbitMQReceiver{
		tasks: make(chan Task),
		stop:  make(chan struct{}),
	}
}

// Close must drain the consumer goroutines and close the task channel, so a
// worker ranging over Tasks() terminates instead of blocking forever.
func TestReceiverCloseClosesTaskChannel(t *testing.T) {
	c := newTestReceiver()

	msgs := make(chan amqp.Delivery)
	c.consumers.Add(1)
	go c.consume(msgs)

	msgs <- amqp.Delivery{RoutingKey: FinetuneQueue, Body: []byte(`{}`)}

	task, ok := <-c.Tasks()
	require.True(t, ok)
	assert.Equal(t, FinetuneQueue, task.Type())

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()

	// The delivery channel closes when the connection does; simulate that so
	// the consumer exits and Close can finish.
	close(msgs)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after the consumer exited")
	}

	_, ok = <-c.Tasks()
	assert.False(t, ok, "task channel should be closed after Close")

	// Close is idempotent.
	c.Close()
}

// A consumer blocked on an unread delivery must still exit when the receiver
// is stopped, even if nothing drains Tasks() anymore.
func TestReceiverCloseUnblocksPendingSend(t *testing.T) {
	c := newTestReceiver()

	msgs := make(chan amqp.Delivery, 1)
	msgs <- amqp.Delivery{RoutingKey: InferenceQueue}
	c.consumers.Add(1)
	go c.consume(msgs)

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not unblock the pending consumer send")
	}
}
