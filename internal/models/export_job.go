package models

import "time"

// Export job states.
const (
	ExportStatusPending   = "PENDING"
	ExportStatusRunning   = "RUNNING"
	ExportStatusCompleted = "COMPLETED"
	ExportStatusFailed    = "FAILED"
)

// ExportJob tracks an asynchronous roster export.
type ExportJob struct {
	ID          string     `json:"id"`
	ScenarioID  string     `json:"scenario_id"`
	Status      string     `json:"status"`
	FilePath    string     `json:"-"`
	DownloadURL string     `json:"download_url,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
