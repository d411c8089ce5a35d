package connector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halia/pkg/errors"
	"halia/pkg/message"
)

func batchOf(name string, vals ...int64) *message.Batch {
	b := message.NewBatch()
	b.SetName(name)
	for _, v := range vals {
		m := message.NewMessage()
		m.Set("v", message.Int(v))
		b.Append(m)
	}
	return b
}

func recv(t *testing.T, ch <-chan *message.Batch) *message.Batch {
	t.Helper()
	select {
	case b, ok := <-ch:
		require.True(t, ok, "channel closed")
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
		return nil
	}
}

func TestBroadcaster_CopiesPerSubscriber(t *testing.T) {
	bc := newBroadcaster(4, nil)
	a, releaseA, err := bc.subscribe()
	require.NoError(t, err)
	defer releaseA()
	b, releaseB, err := bc.subscribe()
	require.NoError(t, err)
	defer releaseB()

	in := batchOf("src", 1, 2)
	assert.Equal(t, 2, bc.publish(context.Background(), in))

	gotA := recv(t, a)
	gotB := recv(t, b)
	assert.NotSame(t, gotA, gotB)
	assert.True(t, gotA.Equal(gotB))
	assert.True(t, in == gotA || in == gotB, "one subscriber should get the original")
}

func TestBroadcaster_ActivationHook(t *testing.T) {
	var calls []bool
	bc := newBroadcaster(1, func(active bool) { calls = append(calls, active) })

	_, r1, err := bc.subscribe()
	require.NoError(t, err)
	_, r2, err := bc.subscribe()
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, calls)

	r1()
	r1()
	assert.Equal(t, []bool{true}, calls)
	r2()
	assert.Equal(t, []bool{true, false}, calls)
	assert.Equal(t, 0, bc.subscribers())
}

func TestBroadcaster_BlocksWhenFull(t *testing.T) {
	bc := newBroadcaster(1, nil)
	ch, release, err := bc.subscribe()
	require.NoError(t, err)
	defer release()

	require.Equal(t, 1, bc.publish(context.Background(), batchOf("a", 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Equal(t, 0, bc.publish(ctx, batchOf("b", 2)))

	assert.Equal(t, "a", recv(t, ch).Name())
}

func TestBroadcaster_ReleaseUnblocksPublisher(t *testing.T) {
	bc := newBroadcaster(1, nil)
	_, release, err := bc.subscribe()
	require.NoError(t, err)
	require.Equal(t, 1, bc.publish(context.Background(), batchOf("a", 1)))

	done := make(chan int, 1)
	go func() { done <- bc.publish(context.Background(), batchOf("b", 2)) }()

	release()
	select {
	case n := <-done:
		assert.Equal(t, 0, n)
	case <-time.After(2 * time.Second):
		t.Fatal("publish stayed blocked after release")
	}
}

func TestBroadcaster_Close(t *testing.T) {
	bc := newBroadcaster(1, nil)
	ch, release, err := bc.subscribe()
	require.NoError(t, err)
	defer release()

	bc.close()
	_, ok := <-ch
	assert.False(t, ok)

	_, _, err = bc.subscribe()
	assert.ErrorIs(t, err, errors.ErrChannelClosed)
	assert.Equal(t, 0, bc.publish(context.Background(), batchOf("late", 1)))

	// A second close is a no-op.
	bc.close()
}
