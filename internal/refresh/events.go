package refresh

import (
	"time"

	"bank-products/internal/models"
)

type EventType string

const (
	EventStarted  EventType = "started"
	EventProgress EventType = "progress"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// Event is one refresh lifecycle notification. Progress events carry the
// persisted records of a single source right after they were upserted.
type Event struct {
	Type      EventType            `json:"type"`
	Source    string               `json:"source,omitempty"`
	Partition *models.Partition    `json:"partition,omitempty"`
	Records   []models.BankProduct `json:"records,omitempty"`
	Run       *models.RefreshRun   `json:"run,omitempty"`
	Error     string               `json:"error,omitempty"`
	At        time.Time            `json:"at"`
}

// Sink receives refresh events. Publish runs on the refresh goroutine, so the
// next source is not scraped until it returns.
type Sink interface {
	Publish(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }
