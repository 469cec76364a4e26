package jobqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderCancelJobPayloadRoundTrip(t *testing.T) {
	payload := ProviderCancelJobPayload{
		UserID:         7,
		Source:         "stripe",
		SubscriptionID: "sub_1",
		Reason:         "team_join",
	}

	restored, err := ProviderCancelJobPayloadFromMap(payload.ToMap())
	require.NoError(t, err)
	assert.Equal(t, payload, *restored)
}

func TestSourceResyncJobPayloadRoundTrip(t *testing.T) {
	payload := SourceResyncJobPayload{UserID: 7, Source: "apple_iap"}

	restored, err := SourceResyncJobPayloadFromMap(payload.ToMap())
	require.NoError(t, err)
	assert.Equal(t, payload, *restored)
}

func TestJobIsRetryable(t *testing.T) {
	job := &Job{Status: JobStatusFailed, RetryCount: 1, MaxRetries: 3}
	assert.True(t, job.IsRetryable())

	job.RetryCount = 3
	assert.False(t, job.IsRetryable())

	job = &Job{Status: JobStatusCompleted, RetryCount: 0, MaxRetries: 3}
	assert.False(t, job.IsRetryable())
}

func TestJobStatusTransitions(t *testing.T) {
	job := &Job{ID: "job_1", Type: JobTypeProviderCancel, Status: JobStatusPending, MaxRetries: 3}

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	assert.NotNil(t, job.ProcessedAt)

	job.MarkAsFailed("provider down")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "provider down", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.ErrorMsg)
}
