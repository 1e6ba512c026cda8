package models

import "time"

// Organization is a unit participating in the exercise (e.g. a hospital).
// Its short code prefixes every button code it receives, so the code is
// frozen once any assignment references the organization.
type Organization struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	ShortCode string    `db:"short_code" json:"short_code"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// OrganizationFilter narrows organization listings.
type OrganizationFilter struct {
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
