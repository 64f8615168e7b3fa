package models

import "time"

// SendLogStatus is the delivery outcome of one recipient
type SendLogStatus string

const (
	SendLogPending   SendLogStatus = "pending"
	SendLogSent      SendLogStatus = "sent"
	SendLogDelivered SendLogStatus = "delivered"
	SendLogFailed    SendLogStatus = "failed"
	SendLogBounced   SendLogStatus = "bounced"
)

// SendLog is the durable per-recipient delivery record. Exactly one row
// exists per (campaign, member); re-dispatch updates in place.
type SendLog struct {
	ID           string        `json:"id"`
	CampaignID   string        `json:"campaign_id"`
	MemberID     string        `json:"member_id"`
	Email        string        `json:"email"`
	Status       SendLogStatus `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	SentAt       *time.Time    `json:"sent_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// SendLogFilter for paginating a campaign's delivery log
type SendLogFilter struct {
	CampaignID string
	Status     SendLogStatus
	Limit      int
	Offset     int
}

// SendLogStats are counts aggregated by scanning log rows
type SendLogStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}
