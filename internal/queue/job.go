// Package queue is a generic asynchronous job queue backed by BoltDB.
// Campaign dispatch and entry-import retries both run through it.
package queue

import (
	"encoding/json"
	"time"
)

// JobType identifies the kind of work a job carries
type JobType string

const (
	TypeCampaignDispatch JobType = "campaign-dispatch"
	TypeImportRetry      JobType = "import-retry"
)

// JobStatus represents the state of a job in the queue
type JobStatus string

const (
	StatusDelayed   JobStatus = "delayed" // scheduled in the future, not yet claimable
	StatusWaiting   JobStatus = "waiting"
	StatusActive    JobStatus = "active"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status allows no further transitions
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is one queued unit of work. A job owns exactly one campaign dispatch
// or one import retry; the owning record references the job id.
type Job struct {
	ID         string          `json:"id"`
	Type       JobType         `json:"type"`
	Status     JobStatus       `json:"status"`
	Progress   int             `json:"progress"` // 0-100
	Payload    json.RawMessage `json:"payload"`
	Result     string          `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	RunAt      time.Time       `json:"run_at"`                // when a delayed job becomes claimable
	Cancelling bool            `json:"cancelling,omitempty"` // cooperative flag for active jobs
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// CampaignDispatchPayload is the payload of a campaign-dispatch job
type CampaignDispatchPayload struct {
	CampaignID string `json:"campaign_id"`
}

// ImportRetryPayload is the payload of an import-retry job
type ImportRetryPayload struct {
	ImportID   string `json:"import_id"`
	OnlyFailed bool   `json:"only_failed"`
}

// Stats holds queue counts by state
type Stats struct {
	Delayed   int64 `json:"delayed"`
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Total     int64 `json:"total"`
}
