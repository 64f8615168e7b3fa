package models

import "time"

// ImportRowStatus is the processing outcome of one CSV row
type ImportRowStatus string

const (
	ImportRowPending   ImportRowStatus = "pending"
	ImportRowCompleted ImportRowStatus = "completed"
	ImportRowFailed    ImportRowStatus = "failed"
)

// EntryImport is one CSV member-import batch processed through the job queue
type EntryImport struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	JobID     string    `json:"job_id,omitempty"` // current/last processing job
	TotalRows int       `json:"total_rows"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ImportRow is a single CSV line with its processing result
type ImportRow struct {
	ID       string          `json:"id"`
	ImportID string          `json:"import_id"`
	LineNo   int             `json:"line_no"`
	Fields   []string        `json:"fields"`
	Status   ImportRowStatus `json:"status"`
	Error    string          `json:"error,omitempty"`
}

// ImportStats are per-import row counts
type ImportStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
