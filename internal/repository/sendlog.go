package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/faithflow/mailroom/internal/models"
)

// SendLogRepository is the durable per-recipient delivery log. Campaign
// statistics are always computed by aggregating these rows, never from
// separately tracked counters.
type SendLogRepository struct {
	db *sql.DB
}

func NewSendLogRepository(db *sql.DB) *SendLogRepository {
	return &SendLogRepository{db: db}
}

// RecordOutcome upserts the delivery outcome for one recipient. The row is
// keyed by (campaign_id, member_id): re-invoking with the same key updates
// the existing row instead of creating a duplicate, so concurrent writers
// and re-dispatches never race on row identity.
func (r *SendLogRepository) RecordOutcome(campaignID, memberID, email string, status models.SendLogStatus, errMsg string) error {
	now := time.Now()
	var sentAt *time.Time
	if status == models.SendLogSent || status == models.SendLogDelivered {
		sentAt = &now
	}

	_, err := r.db.Exec(`
		INSERT INTO email_send_logs (id, campaign_id, member_id, email, status, error_message, sent_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(campaign_id, member_id) DO UPDATE SET
			status = excluded.status,
			error_message = excluded.error_message,
			sent_at = excluded.sent_at,
			updated_at = excluded.updated_at`,
		uuid.New().String(), campaignID, memberID, email, status, errMsg, sentAt, now, now,
	)
	return err
}

// List returns send log rows for a campaign, ordered by creation so pages
// match recipient resolution order
func (r *SendLogRepository) List(filter models.SendLogFilter) ([]models.SendLog, int, error) {
	countQuery := "SELECT COUNT(*) FROM email_send_logs WHERE campaign_id = ?"
	args := []any{filter.CampaignID}

	if filter.Status != "" {
		countQuery += " AND status = ?"
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, campaign_id, member_id, email, status, COALESCE(error_message, ''), sent_at, created_at, updated_at
		FROM email_send_logs WHERE campaign_id = ?`

	args = []any{filter.CampaignID}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY created_at, member_id"

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

	logs := []models.SendLog{}
	for rows.Next() {
		var log models.SendLog
		var sentAt sql.NullTime

		err := rows.Scan(&log.ID, &log.CampaignID, &log.MemberID, &log.Email, &log.Status,
			&log.ErrorMessage, &sentAt, &log.CreatedAt, &log.UpdatedAt)
		if err != nil {
			return nil, 0, err
		}
		if sentAt.Valid {
			log.SentAt = &sentAt.Time
		}
		logs = append(logs, log)
	}

	return logs, total, nil
}

// Stats returns aggregated counts for a campaign by scanning log rows
func (r *SendLogRepository) Stats(campaignID string) (models.SendLogStats, error) {
	var stats models.SendLogStats

	err := r.db.QueryRow(`
		SELECT
			COUNT(*) as total,
			SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END) as pending,
			SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END) as sent,
			SUM(CASE WHEN status = 'delivered' THEN 1 ELSE 0 END) as delivered,
			SUM(CASE WHEN status IN ('failed', 'bounced') THEN 1 ELSE 0 END) as failed
		FROM email_send_logs WHERE campaign_id = ?`, campaignID,
	).Scan(&stats.Total, &nullInt{&stats.Pending}, &nullInt{&stats.Sent}, &nullInt{&stats.Delivered}, &nullInt{&stats.Failed})

	return stats, err
}

// CountForCampaign returns the number of log rows for a campaign
func (r *SendLogRepository) CountForCampaign(campaignID string) (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM email_send_logs WHERE campaign_id = ?", campaignID).Scan(&n)
	return n, err
}

// nullInt scans a nullable SUM() into an int, treating NULL as zero
type nullInt struct {
	v *int
}

func (n *nullInt) Scan(src any) error {
	if src == nil {
		*n.v = 0
		return nil
	}
	switch t := src.(type) {
	case int64:
		*n.v = int(t)
	case int:
		*n.v = t
	}
	return nil
}
