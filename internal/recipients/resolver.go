// Package recipients expands declarative recipient filters into send targets.
package recipients

import (
	"database/sql"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/faithflow/mailroom/internal/models"
)

// Resolver expands a RecipientFilter into a deduplicated, ordered list of
// send targets. Resolution runs at dispatch time, so membership and branch
// changes made after scheduling are reflected in who actually receives mail.
type Resolver struct {
	db *sql.DB
}

func NewResolver(db *sql.DB) *Resolver {
	return &Resolver{db: db}
}

// Preview holds a bounded sample of resolved recipients plus the total count
type Preview struct {
	TotalCount int                `json:"total_count"`
	Sample     []models.Recipient `json:"sample"`
}

// Resolve returns the send targets for a filter as of the given time.
// The output is deduplicated by email (case-insensitive, first member id
// wins), excludes members without a usable email address, and is ordered by
// member id so retried resolutions and paginated log views are reproducible.
func (r *Resolver) Resolve(filter models.RecipientFilter, asOf time.Time) ([]models.Recipient, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	query := `
		SELECT m.id, m.email, m.first_name, COALESCE(m.last_name, ''), COALESCE(m.phone, ''),
			COALESCE(b.name, ''), COALESCE(g.name, ''), COALESCE(u.name, ''), COALESCE(d.name, ''),
			m.membership_status, m.join_date
		FROM members m
		LEFT JOIN branches b ON m.branch_id = b.id
		LEFT JOIN groups g ON m.group_id = g.id
		LEFT JOIN units u ON m.unit_id = u.id
		LEFT JOIN districts d ON m.district_id = d.id
		WHERE m.email IS NOT NULL AND m.email != '' AND m.created_at <= ?`
	args := []any{asOf}

	switch filter.Type {
	case models.FilterAllMembers:
		// no extra predicate
	case models.FilterByBranch:
		query += " AND m.branch_id = ?"
		args = append(args, filter.BranchID)
	case models.FilterByGroup:
		query += " AND m.group_id = ?"
		args = append(args, filter.GroupID)
	case models.FilterByUnit:
		query += " AND m.unit_id = ?"
		args = append(args, filter.UnitID)
	case models.FilterByDistrict:
		query += " AND m.district_id = ?"
		args = append(args, filter.DistrictID)
	case models.FilterByMembershipStatus:
		query += " AND m.membership_status IN (?" + strings.Repeat(",?", len(filter.Statuses)-1) + ")"
		for _, s := range filter.Statuses {
			args = append(args, s)
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", models.ErrInvalidFilter, filter.Type)
	}

	query += " ORDER BY m.id"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	recipients := []models.Recipient{}
	for rows.Next() {
		var rec models.Recipient
		var joinDate sql.NullTime

		err := rows.Scan(&rec.ID, &rec.Email, &rec.FirstName, &rec.LastName, &rec.Phone,
			&rec.BranchName, &rec.GroupName, &rec.UnitName, &rec.DistrictName,
			&rec.MembershipStatus, &joinDate)
		if err != nil {
			return nil, err
		}

		if !usableEmail(rec.Email) {
			continue
		}
		key := strings.ToLower(rec.Email)
		if seen[key] {
			continue
		}
		seen[key] = true

		if joinDate.Valid {
			rec.JoinDate = joinDate.Time.Format("2006-01-02")
		}
		recipients = append(recipients, rec)
	}

	return recipients, rows.Err()
}

// PreviewFilter returns a bounded sample and the total recipient count for a
// filter. It writes nothing; the admin UI calls it before committing a send.
func (r *Resolver) PreviewFilter(filter models.RecipientFilter, limit int) (*Preview, error) {
	recipients, err := r.Resolve(filter, time.Now())
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > len(recipients) {
		limit = len(recipients)
	}

	return &Preview{
		TotalCount: len(recipients),
		Sample:     recipients[:limit],
	}, nil
}

func usableEmail(addr string) bool {
	if addr == "" {
		return false
	}
	_, err := mail.ParseAddress(addr)
	return err == nil
}
