// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/evsync/internal/event"
)

func sig(node string, idx int) event.ReadySignal {
	return event.ReadySignal{SessionID: "s1", Node: node, Index: idx, At: time.Now()}
}

func TestReadySignalsPublishedBeforeSubscribeAreReplayed(t *testing.T) {
	b := New(Options{})
	defer func() { _ = b.Close() }()

	require.NoError(t, b.PublishReady(context.Background(), "/sensors/p/ready", sig("s0", 0)))
	require.NoError(t, b.PublishReady(context.Background(), "/sensors/p/ready", sig("s1", 1)))

	sub, err := b.SubscribeReady("/sensors/p/ready")
	require.NoError(t, err)

	assert.Equal(t, "s0", (<-sub.C()).Node)
	assert.Equal(t, "s1", (<-sub.C()).Node)
}

func TestReadyLatchKeepsLatestPerNode(t *testing.T) {
	b := New(Options{})
	defer func() { _ = b.Close() }()

	old := sig("s0", 0)
	old.SessionID = "old"
	require.NoError(t, b.PublishReady(context.Background(), "r", old))
	require.NoError(t, b.PublishReady(context.Background(), "r", sig("s1", 1)))
	require.NoError(t, b.PublishReady(context.Background(), "r", sig("s0", 0)))

	sub, err := b.SubscribeReady("r")
	require.NoError(t, err)
	first, second := <-sub.C(), <-sub.C()
	assert.Equal(t, "s1", first.Node)
	assert.Equal(t, "s0", second.Node)
	assert.Equal(t, "s1", second.SessionID)
	assert.Empty(t, sub.C())
}

func TestResetReadyForgetsLatch(t *testing.T) {
	b := New(Options{})
	defer func() { _ = b.Close() }()
	require.NoError(t, b.PublishReady(context.Background(), "r", sig("s0", 0)))
	b.ResetReady("r")

	sub, err := b.SubscribeReady("r")
	require.NoError(t, err)
	assert.Empty(t, sub.C())
}

func TestReadyDeliveryBlocksInsteadOfDropping(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := New(Options{})
	sub, err := b.SubscribeReady("r")
	require.NoError(t, err)

	// Fill the live queue, then publish one more from a goroutine.
	for i := 0; i < cap(sub.C()); i++ {
		require.NoError(t, b.PublishReady(context.Background(), "r", sig("n", i)))
	}
	published := make(chan error, 1)
	go func() { published <- b.PublishReady(context.Background(), "r", sig("last", 99)) }()

	select {
	case <-published:
		t.Fatal("ready publish returned while subscriber queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	var last event.ReadySignal
	for i := 0; i <= cap(sub.C()); i++ {
		last = <-sub.C()
	}
	require.NoError(t, <-published)
	assert.Equal(t, "last", last.Node)
	require.NoError(t, b.Close())
}

func TestReadyPublishHonoursContext(t *testing.T) {
	b := New(Options{})
	defer func() { _ = b.Close() }()
	sub, err := b.SubscribeReady("r")
	require.NoError(t, err)
	for i := 0; i < cap(sub.C()); i++ {
		require.NoError(t, b.PublishReady(context.Background(), "r", sig("n", i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, b.PublishReady(ctx, "r", sig("n", 1)), context.DeadlineExceeded)
}

func TestReadyUnsubscribe(t *testing.T) {
	b := New(Options{})
	defer func() { _ = b.Close() }()
	sub, err := b.SubscribeReady("r")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	require.NoError(t, b.PublishReady(context.Background(), "r", sig("s0", 0)))
	_, ok := <-sub.C()
	assert.False(t, ok)
}
