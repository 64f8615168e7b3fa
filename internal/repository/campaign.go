package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/faithflow/mailroom/internal/models"
)

// ErrStatusConflict is returned when a guarded status transition finds the
// campaign no longer in the expected state (lost race).
var ErrStatusConflict = errors.New("campaign status conflict")

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create creates a new campaign in draft status
func (r *CampaignRepository) Create(c *models.Campaign) error {
	c.ID = uuid.New().String()
	c.Status = models.CampaignDraft
	c.Version = 1
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	filterJSON, err := json.Marshal(c.Filter)
	if err != nil {
		return fmt.Errorf("failed to marshal recipient filter: %w", err)
	}
	statsJSON, _ := json.Marshal(c.Stats)

	_, err = r.db.Exec(`
		INSERT INTO email_campaigns (id, name, template_id, subject, html_content, recipient_filter, status, stats, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, nullString(c.TemplateID), c.Subject, c.HTMLContent, string(filterJSON), c.Status, string(statsJSON), c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by ID, or nil if it does not exist
func (r *CampaignRepository) GetByID(id string) (*models.Campaign, error) {
	row := r.db.QueryRow(`
		SELECT id, name, template_id, subject, html_content, recipient_filter, status, job_id, error,
			COALESCE(stats, '{}'), scheduled_at, sent_at, version, created_at, updated_at
		FROM email_campaigns WHERE id = ?`, id)

	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns campaigns with optional filtering
func (r *CampaignRepository) List(filter models.CampaignListFilter) ([]models.Campaign, int, error) {
	countQuery := "SELECT COUNT(*) FROM email_campaigns WHERE 1=1"
	args := []any{}

	if filter.Status != "" {
		countQuery += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		countQuery += " AND name LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, name, template_id, subject, html_content, recipient_filter, status, job_id, error,
			COALESCE(stats, '{}'), scheduled_at, sent_at, version, created_at, updated_at
		FROM email_campaigns WHERE 1=1`

	args = []any{}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		query += " AND name LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, *c)
	}

	return campaigns, total, nil
}

// Transition moves a campaign from one status to another. The expected
// current status is part of the WHERE clause, so two racing transitions
// cannot both succeed; the loser gets ErrStatusConflict.
func (r *CampaignRepository) Transition(id string, from, to models.CampaignStatus) error {
	res, err := r.db.Exec(`
		UPDATE email_campaigns SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, time.Now(), id, from,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Schedule moves a draft campaign to scheduled and records the schedule time
func (r *CampaignRepository) Schedule(id string, at time.Time) error {
	res, err := r.db.Exec(`
		UPDATE email_campaigns SET status = ?, scheduled_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.CampaignScheduled, at, time.Now(), id, models.CampaignDraft,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetJob records the dispatch job owning the campaign
func (r *CampaignRepository) SetJob(id, jobID string) error {
	_, err := r.db.Exec("UPDATE email_campaigns SET job_id = ?, updated_at = ? WHERE id = ?",
		jobID, time.Now(), id)
	return err
}

// UpdateStats updates the aggregate counters while a dispatch is running
func (r *CampaignRepository) UpdateStats(id string, stats models.CampaignStats) error {
	statsJSON, _ := json.Marshal(stats)
	_, err := r.db.Exec("UPDATE email_campaigns SET stats = ?, updated_at = ? WHERE id = ?",
		string(statsJSON), time.Now(), id)
	return err
}

// Finalize moves a sending campaign to its terminal status with final stats.
// Only one finalize can win; a second call gets ErrStatusConflict.
func (r *CampaignRepository) Finalize(id string, to models.CampaignStatus, stats models.CampaignStats, errMsg string) error {
	now := time.Now()
	var sentAt *time.Time
	if to == models.CampaignSent {
		sentAt = &now
	}

	statsJSON, _ := json.Marshal(stats)
	res, err := r.db.Exec(`
		UPDATE email_campaigns SET status = ?, stats = ?, error = ?, sent_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, string(statsJSON), errMsg, sentAt, now, id, models.CampaignSending,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStatusConflict
	}
	return nil
}

func scanCampaign(row interface{ Scan(...any) error }) (*models.Campaign, error) {
	c := &models.Campaign{}
	var templateID, jobID, errMsg sql.NullString
	var filterJSON, statsJSON string
	var scheduledAt, sentAt sql.NullTime

	err := row.Scan(&c.ID, &c.Name, &templateID, &c.Subject, &c.HTMLContent, &filterJSON, &c.Status,
		&jobID, &errMsg, &statsJSON, &scheduledAt, &sentAt, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(filterJSON), &c.Filter); err != nil {
		return nil, fmt.Errorf("failed to parse recipient filter: %w", err)
	}
	if err := json.Unmarshal([]byte(statsJSON), &c.Stats); err != nil {
		return nil, fmt.Errorf("failed to parse stats: %w", err)
	}

	if templateID.Valid {
		c.TemplateID = templateID.String
	}
	if jobID.Valid {
		c.JobID = jobID.String
	}
	if errMsg.Valid {
		c.Error = errMsg.String
	}
	if scheduledAt.Valid {
		c.ScheduledAt = &scheduledAt.Time
	}
	if sentAt.Valid {
		c.SentAt = &sentAt.Time
	}

	return c, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
