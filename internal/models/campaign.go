package models

import "time"

// CampaignStatus is the lifecycle state of an email campaign
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed out of the status
func (s CampaignStatus) Terminal() bool {
	return s == CampaignSent || s == CampaignFailed || s == CampaignCancelled
}

// Campaign represents one bulk email send unit. Subject and HTML content are
// snapshots taken from the template at creation time, so later template edits
// never change sent history.
type Campaign struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	TemplateID  string          `json:"template_id,omitempty"`
	Subject     string          `json:"subject"`
	HTMLContent string          `json:"html_content"`
	Filter      RecipientFilter `json:"recipient_filter"`
	Status      CampaignStatus  `json:"status"`
	JobID       string          `json:"job_id,omitempty"` // current/last dispatch job
	Error       string          `json:"error,omitempty"`
	Stats       CampaignStats   `json:"stats"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	SentAt      *time.Time      `json:"sent_at,omitempty"`
	Version     int             `json:"version"` // optimistic concurrency token
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CampaignStats holds aggregated delivery counts for a campaign.
// Invariant: Sent + Failed <= TotalRecipients, with equality once terminal.
type CampaignStats struct {
	TotalRecipients int `json:"total_recipients"`
	Sent            int `json:"sent"`
	Delivered       int `json:"delivered"`
	Failed          int `json:"failed"`
}

// CampaignListFilter for filtering campaigns
type CampaignListFilter struct {
	Status CampaignStatus
	Search string
	Limit  int
	Offset int
}
