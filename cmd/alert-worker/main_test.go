package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwaitConsumer_ReturnsConsumerFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumed := make(chan struct{})
	broken := errors.New("channel closed by broker")

	errCh := consume(ctx, consumed, func(context.Context) error { return broken })

	err := awaitConsumer(ctx, make(chan struct{}), errCh)
	assert.ErrorIs(t, err, broken, "the failure reaches main instead of exiting from the goroutine")
	<-consumed
}

func TestAwaitConsumer_ConsumerStoppingIsAFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := consume(ctx, make(chan struct{}), func(context.Context) error { return nil })

	err := awaitConsumer(ctx, make(chan struct{}), errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consumer stopped")
}

func TestAwaitConsumer_ShutdownIsClean(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumed := make(chan struct{})

	errCh := consume(ctx, consumed, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	done := make(chan struct{})
	go func() {
		cancel()
		<-consumed
		close(done)
	}()

	result := make(chan error, 1)
	go func() { result <- awaitConsumer(ctx, done, errCh) }()

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("awaitConsumer did not return after shutdown")
	}
}
