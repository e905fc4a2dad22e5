package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedJobs(t *testing.T) {
	p := New(4)
	defer p.Close()

	var done atomic.Int64
	ctx := context.Background()

	for range 20 {
		err := p.Submit(ctx, func() { done.Add(1) })
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return done.Load() == 20
	}, time.Second, time.Millisecond)
}

func TestPoolSubmitRespectsContextCancellation(t *testing.T) {
	p := New(1)
	defer p.Close()

	block := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() { <-block }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Submit(ctx, func() {})
	assert.ErrorIs(t, err, context.Canceled)

	close(block)
}

func TestPoolSubmitAfterCloseFails(t *testing.T) {
	p := New(2)
	p.Close()

	err := p.Submit(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPoolTrySubmit(t *testing.T) {
	p := New(1)
	defer p.Close()

	block := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() { <-block }))

	// The single worker is busy, so a non-blocking submit should fail.
	assert.False(t, p.TrySubmit(func() {}))
	close(block)

	require.Eventually(t, func() bool {
		return p.TrySubmit(func() {})
	}, time.Second, time.Millisecond)
}

func TestNewClampsNonPositiveSize(t *testing.T) {
	p := New(0)
	defer p.Close()

	require.NoError(t, p.Submit(context.Background(), func() {}))
}
