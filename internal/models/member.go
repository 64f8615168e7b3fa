package models

import "time"

// Member is a church member record as the console stores it
type Member struct {
	ID               string     `json:"id"`
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	Email            string     `json:"email"`
	Phone            string     `json:"phone,omitempty"`
	BranchID         string     `json:"branch_id,omitempty"`
	GroupID          string     `json:"group_id,omitempty"`
	UnitID           string     `json:"unit_id,omitempty"`
	DistrictID       string     `json:"district_id,omitempty"`
	MembershipStatus string     `json:"membership_status"`
	JoinDate         *time.Time `json:"join_date,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Recipient is a resolved send target: the member data a dispatch needs,
// with organisational names joined in for template substitution
type Recipient struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Phone            string `json:"phone,omitempty"`
	BranchName       string `json:"branch_name,omitempty"`
	GroupName        string `json:"group_name,omitempty"`
	UnitName         string `json:"unit_name,omitempty"`
	DistrictName     string `json:"district_name,omitempty"`
	MembershipStatus string `json:"membership_status,omitempty"`
	JoinDate         string `json:"join_date,omitempty"`
}

// Vars returns the substitution variables for this recipient. Only the fixed
// vocabulary is ever produced; the renderer never invents keys.
func (r Recipient) Vars() map[string]string {
	return map[string]string{
		"firstName":        r.FirstName,
		"lastName":         r.LastName,
		"email":            r.Email,
		"phone":            r.Phone,
		"branchName":       r.BranchName,
		"groupName":        r.GroupName,
		"unitName":         r.UnitName,
		"districtName":     r.DistrictName,
		"membershipStatus": r.MembershipStatus,
		"joinDate":         r.JoinDate,
	}
}
