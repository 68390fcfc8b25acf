package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: TypeFraudScan, Body: []byte("now")}))

	messages, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-messages:
		assert.Equal(t, TypeFraudScan, msg.Type)
		assert.Equal(t, "now", string(msg.Body))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

func TestInMemoryPublishCancelled(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: TypeFraudScan}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Queue full, context done: Publish must not block.
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: TypeFraudScan}), context.Canceled)
}

func TestConsumeClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewInMemory(1)
	messages, err := q.Consume(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, open := <-messages:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	msg := Message{Type: TypeFraudScan, Body: []byte("a|b|c")}
	got := deserialize(serialize(msg))
	assert.Equal(t, msg, got)

	// Legacy payload without a type prefix.
	got = deserialize("rawbody")
	assert.Empty(t, got.Type)
	assert.Equal(t, "rawbody", string(got.Body))
}
