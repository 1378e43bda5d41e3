package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlGate_CheckpointPassesWhenIdle(t *testing.T) {
	g := newControlGate()

	require.NoError(t, g.checkpoint(context.Background()))
	assert.False(t, g.Paused())
	assert.False(t, g.Cancelled())
}

func TestControlGate_PauseBlocksUntilResume(t *testing.T) {
	g := newControlGate()
	g.Pause()

	done := make(chan error, 1)

	go func() {
		done <- g.checkpoint(context.Background())
	}()

	select {
	case err := <-done:
		t.Fatalf("checkpoint returned while paused: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	g.Resume()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("checkpoint did not wake on resume")
	}
}

func TestControlGate_CancelWakesPausedCheckpoint(t *testing.T) {
	g := newControlGate()
	g.Pause()

	done := make(chan error, 1)

	go func() {
		done <- g.checkpoint(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	g.Cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("checkpoint did not wake on cancel")
	}

	assert.False(t, g.Paused(), "cancel clears the pause flag")
}

func TestControlGate_CancelledCheckpointReturnsImmediately(t *testing.T) {
	g := newControlGate()
	g.Cancel()

	require.ErrorIs(t, g.checkpoint(context.Background()), ErrCancelled)
	assert.True(t, g.Cancelled())
}

func TestControlGate_ContextDeathUnblocksPause(t *testing.T) {
	g := newControlGate()
	g.Pause()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		done <- g.checkpoint(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("checkpoint did not wake on context cancellation")
	}
}

func TestControlGate_RedundantSignalsAreNoOps(t *testing.T) {
	g := newControlGate()

	g.Resume() // resume without pause
	g.Pause()
	g.Pause() // double pause
	g.Resume()
	g.Resume() // double resume

	require.NoError(t, g.checkpoint(context.Background()))

	g.Cancel()
	g.Cancel() // double cancel must not close cancelCh twice

	require.ErrorIs(t, g.checkpoint(context.Background()), ErrCancelled)

	// Pause after cancel is ignored.
	g.Pause()
	assert.False(t, g.Paused())
}
