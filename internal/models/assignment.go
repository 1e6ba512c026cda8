package models

import "time"

// Assignment binds a victim profile to an organization within a scenario
// and carries the issued sequential number and button code.
//
// A row with a nil organization is a queued placeholder: sequential number
// and button number are nil too, and get set exactly once on promotion.
// Once set they are never mutated; deleting a row never frees its number.
type Assignment struct {
	ID               string    `db:"id" json:"id"`
	ScenarioID       string    `db:"scenario_id" json:"scenario_id"`
	OrganizationID   *string   `db:"organization_id" json:"organization_id,omitempty"`
	VictimProfileID  string    `db:"victim_profile_id" json:"victim_profile_id"`
	SequentialNumber *int      `db:"sequential_number" json:"sequential_number,omitempty"`
	ButtonNumber     *string   `db:"button_number" json:"button_number,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// Assigned reports whether the allocator has issued a number for this row.
func (a *Assignment) Assigned() bool {
	return a.SequentialNumber != nil
}

// AssignmentDetail enriches an assignment with descriptive fields for listings.
type AssignmentDetail struct {
	Assignment
	OrganizationName *string `db:"organization_name" json:"organization_name,omitempty"`
	ShortCode        *string `db:"short_code" json:"short_code,omitempty"`
	ProfileNumber    *string `db:"profile_number" json:"profile_number,omitempty"`
	ProfileCategory  *string `db:"profile_category" json:"profile_category,omitempty"`
}

// AssignmentFilter narrows roster listings. Search matches button numbers
// and profile numbers, the two identifiers observers read off badges.
type AssignmentFilter struct {
	OrganizationID string
	Search         string
}

// AssignmentSnapshot is an immutable copy of an assigned row handed to
// reporting collaborators. It aliases no live entity and carries plain
// values only.
type AssignmentSnapshot struct {
	ButtonNumber     string `json:"button_number"`
	SequentialNumber int    `json:"sequential_number"`
	OrganizationName string `json:"organization_name"`
	ShortCode        string `json:"short_code"`
	ProfileNumber    string `json:"profile_number"`
	ProfileCategory  string `json:"profile_category"`
}
