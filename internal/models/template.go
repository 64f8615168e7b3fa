package models

import "time"

// EmailTemplate is a reusable campaign template. Campaigns copy the subject
// and HTML at creation time, so a template stays editable without touching
// sent history.
type EmailTemplate struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Subject     string    `json:"subject"`
	HTMLContent string    `json:"html_content"`
	Category    string    `json:"category,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
