package models

import "time"

// Scenario is one drill instance. The application allows at most one
// scenario system-wide; the store's creation path enforces that.
// Deleting a scenario cascades to its assignments.
type Scenario struct {
	ID          string     `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Date        *time.Time `db:"date" json:"date,omitempty"`
	Description *string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// CategoryStat counts assignments per victim-profile category within a scenario.
type CategoryStat struct {
	Category string `db:"category" json:"category"`
	Count    int    `db:"count" json:"count"`
}
