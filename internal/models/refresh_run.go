package models

import "time"

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RefreshRun records the outcome of one refresh cycle.
type RefreshRun struct {
	ID            uint       `json:"id" gorm:"primaryKey"`
	Status        RunStatus  `json:"status" gorm:"size:16;index"`
	StartedAt     time.Time  `json:"started_at" gorm:"index"`
	FinishedAt    *time.Time `json:"finished_at"`
	SourcesTotal  int        `json:"sources_total"`
	SourcesFailed int        `json:"sources_failed"`
	ItemsScraped  int        `json:"items_scraped"`
	ItemsFailed   int        `json:"items_failed"`
	Upserted      int        `json:"upserted"`
	Deactivated   int        `json:"deactivated"`
	Purged        int        `json:"purged"`
	Error         string     `json:"error,omitempty" gorm:"type:text"`
}

func (RefreshRun) TableName() string { return "refresh_runs" }

// Duration is zero while the run is still in progress.
func (r *RefreshRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
