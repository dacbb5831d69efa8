package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackend_SubmitWaitSuccess(t *testing.T) {
	b := New()
	jobID, err := b.Submit(context.Background(), "exit 0", nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	gotID, info, ok, err := b.Wait(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, jobID, gotID)
	assert.True(t, info.ExitedNormally)
	assert.Equal(t, 0, info.ExitCode)
}

func TestBackend_SubmitWaitNonZeroExit(t *testing.T) {
	b := New()
	jobID, err := b.Submit(context.Background(), "exit 7", nil, nil)
	require.NoError(t, err)

	gotID, info, ok, err := b.Wait(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, jobID, gotID)
	assert.True(t, info.ExitedNormally)
	assert.Equal(t, 7, info.ExitCode)
}

func TestBackend_WaitTimesOutWithNoSubmission(t *testing.T) {
	b := New()
	_, _, ok, err := b.Wait(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackend_RemoveCancelsRunningJob(t *testing.T) {
	b := New()
	jobID, err := b.Submit(context.Background(), "sleep 5", nil, nil)
	require.NoError(t, err)

	require.NoError(t, b.Remove(context.Background(), jobID))

	_, info, ok, err := b.Wait(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, info.ExitedNormally)
}

func TestDefaultMax_ReturnsPositive(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultMax(), 1)
}
