package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/faithflow/mailroom/internal/models"
)

type MemberRepository struct {
	db *sql.DB
}

func NewMemberRepository(db *sql.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// Create inserts a new member
func (r *MemberRepository) Create(m *models.Member) error {
	m.ID = uuid.New().String()
	m.CreatedAt = time.Now()
	if m.MembershipStatus == "" {
		m.MembershipStatus = "active"
	}

	_, err := r.db.Exec(`
		INSERT INTO members (id, first_name, last_name, email, phone, branch_id, group_id, unit_id, district_id, membership_status, join_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.FirstName, m.LastName, m.Email, m.Phone,
		nullString(m.BranchID), nullString(m.GroupID), nullString(m.UnitID), nullString(m.DistrictID),
		m.MembershipStatus, m.JoinDate, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

// UpsertByEmail creates a member or, when a member with the same email
// address already exists (case-insensitive), updates that record. Used by
// the CSV entry import so re-running a row stays idempotent.
func (r *MemberRepository) UpsertByEmail(m *models.Member) error {
	if m.Email == "" {
		return fmt.Errorf("member email is required")
	}

	var existingID string
	err := r.db.QueryRow("SELECT id FROM members WHERE lower(email) = lower(?)", m.Email).Scan(&existingID)
	if err == sql.ErrNoRows {
		return r.Create(m)
	}
	if err != nil {
		return err
	}

	m.ID = existingID
	_, err = r.db.Exec(`
		UPDATE members SET first_name = ?, last_name = ?, phone = ?, branch_id = ?, group_id = ?, unit_id = ?, district_id = ?, membership_status = ?, join_date = COALESCE(?, join_date)
		WHERE id = ?`,
		m.FirstName, m.LastName, m.Phone,
		nullString(m.BranchID), nullString(m.GroupID), nullString(m.UnitID), nullString(m.DistrictID),
		m.MembershipStatus, m.JoinDate, existingID,
	)
	return err
}

// GetByID returns a member by ID, or nil if it does not exist
func (r *MemberRepository) GetByID(id string) (*models.Member, error) {
	m := &models.Member{}
	var lastName, email, phone, branchID, groupID, unitID, districtID sql.NullString
	var joinDate sql.NullTime

	err := r.db.QueryRow(`
		SELECT id, first_name, last_name, email, phone, branch_id, group_id, unit_id, district_id, membership_status, join_date, created_at
		FROM members WHERE id = ?`, id,
	).Scan(&m.ID, &m.FirstName, &lastName, &email, &phone, &branchID, &groupID, &unitID, &districtID, &m.MembershipStatus, &joinDate, &m.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	m.LastName = lastName.String
	m.Email = email.String
	m.Phone = phone.String
	m.BranchID = branchID.String
	m.GroupID = groupID.String
	m.UnitID = unitID.String
	m.DistrictID = districtID.String
	if joinDate.Valid {
		m.JoinDate = &joinDate.Time
	}
	return m, nil
}

// Count returns the total number of members
func (r *MemberRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM members").Scan(&n)
	return n, err
}
