// Package journal
package journal

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	TypeRunStarted   = "run_started"
	TypeRunCompleted = "run_completed"
	TypeRunFailed    = "run_failed"
	TypeDataFetched  = "data_fetched"
	TypeCacheHit     = "cache_hit"
)

// Event represents a journaled event.
type Event struct {
	Time        time.Time      `json:"time"`
	Type        string         `json:"type"` // e.g., "run_started", "data_fetched"
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}

// Journaler interface for journaling events.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}

// Record writes an event and only logs a failure; journaling must never
// abort the caller. A nil Journaler is a no-op.
func Record(ctx context.Context, j Journaler, eventType, description string, data map[string]any) {
	if j == nil {
		return
	}
	ev := Event{
		Time:        time.Now().UTC(),
		Type:        eventType,
		Description: description,
		Data:        data,
	}
	if err := j.LogEvent(ctx, ev); err != nil {
		log.WithError(err).WithField("event", eventType).Warn("failed to journal event")
	}
}
