package models

import (
	"errors"
	"fmt"
)

// FilterType discriminates the recipient filter union
type FilterType string

const (
	FilterAllMembers         FilterType = "all_members"
	FilterByBranch           FilterType = "by_branch"
	FilterByGroup            FilterType = "by_group"
	FilterByUnit             FilterType = "by_unit"
	FilterByDistrict         FilterType = "by_district"
	FilterByMembershipStatus FilterType = "by_membership_status"
)

var ErrInvalidFilter = errors.New("invalid recipient filter")

// RecipientFilter is a declarative, re-evaluable description of who should
// receive a campaign. It stores no recipient list; resolution happens at
// dispatch time.
type RecipientFilter struct {
	Type       FilterType `json:"type"`
	BranchID   string     `json:"branch_id,omitempty"`
	GroupID    string     `json:"group_id,omitempty"`
	UnitID     string     `json:"unit_id,omitempty"`
	DistrictID string     `json:"district_id,omitempty"`
	Statuses   []string   `json:"statuses,omitempty"`
}

// Validate checks that the filter is well-formed for its type
func (f RecipientFilter) Validate() error {
	switch f.Type {
	case FilterAllMembers:
		return nil
	case FilterByBranch:
		if f.BranchID == "" {
			return fmt.Errorf("%w: branch_id is required", ErrInvalidFilter)
		}
	case FilterByGroup:
		if f.GroupID == "" {
			return fmt.Errorf("%w: group_id is required", ErrInvalidFilter)
		}
	case FilterByUnit:
		if f.UnitID == "" {
			return fmt.Errorf("%w: unit_id is required", ErrInvalidFilter)
		}
	case FilterByDistrict:
		if f.DistrictID == "" {
			return fmt.Errorf("%w: district_id is required", ErrInvalidFilter)
		}
	case FilterByMembershipStatus:
		if len(f.Statuses) == 0 {
			return fmt.Errorf("%w: statuses is required", ErrInvalidFilter)
		}
	case "":
		return fmt.Errorf("%w: type is required", ErrInvalidFilter)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidFilter, f.Type)
	}
	return nil
}
