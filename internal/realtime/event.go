package realtime

import (
	"context"
	"time"
)

// EventName is the SSE event name used for report updates.
const EventName = "informe"

// Event announces that an entrepreneur's report changed state. Subscribers
// re-read the record to render it.
type Event struct {
	EmprendedorID string    `json:"emprendedorId"`
	State         string    `json:"estado"`
	At            time.Time `json:"at"`
}

// Publisher delivers events to subscribers, locally or across processes.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
