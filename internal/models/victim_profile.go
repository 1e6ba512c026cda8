package models

import "time"

// VictimProfile is a simulated-patient record from the exercise catalog.
// Profiles are referenced by assignments, never owned by them.
type VictimProfile struct {
	ID                string    `db:"id" json:"id"`
	ProfileNumber     *string   `db:"profile_number" json:"profile_number,omitempty"`
	Category          *string   `db:"category" json:"category,omitempty"`
	Diagnosis         *string   `db:"diagnosis" json:"diagnosis,omitempty"`
	ExpectedMedAction *string   `db:"expected_med_action" json:"expected_med_action,omitempty"`
	Comment           *string   `db:"comment" json:"comment,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// VictimProfileFilter narrows catalog listings.
type VictimProfileFilter struct {
	Search   string
	Category string
	Page     int
	PageSize int
}
