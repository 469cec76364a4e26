package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeProviderCancel JobType = "provider_cancel"
	JobTypeSourceResync   JobType = "source_resync"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// ProviderCancelJobPayload contains the payload for deferred provider-side
// cancellations, used when the synchronous call during a coupled flow failed.
type ProviderCancelJobPayload struct {
	UserID         uint   `json:"user_id"`
	Source         string `json:"source"`
	SubscriptionID string `json:"subscription_id"`
	Reason         string `json:"reason"`
}

// ToMap converts the payload to a map for storage
func (p ProviderCancelJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id":         p.UserID,
		"source":          p.Source,
		"subscription_id": p.SubscriptionID,
		"reason":          p.Reason,
	}
}

// FromMap creates a payload from a map
func ProviderCancelJobPayloadFromMap(data map[string]interface{}) (*ProviderCancelJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload ProviderCancelJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// SourceResyncJobPayload contains the payload for re-pulling one user's
// provider state and re-deriving the entitlement.
type SourceResyncJobPayload struct {
	UserID uint   `json:"user_id"`
	Source string `json:"source"`
}

// ToMap converts the payload to a map for storage
func (p SourceResyncJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id": p.UserID,
		"source":  p.Source,
	}
}

// FromMap creates a payload from a map
func SourceResyncJobPayloadFromMap(data map[string]interface{}) (*SourceResyncJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload SourceResyncJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
