package events

import "encoding/json"

const (
	// RefreshStarted is published when a fleet fetch begins.
	RefreshStarted = "fleet.refresh.started"
	// RefreshCompleted is published when a fleet fetch committed new rows.
	RefreshCompleted = "fleet.refresh.completed"
	// RefreshFailed is published when a fleet fetch failed or was superseded.
	RefreshFailed = "fleet.refresh.failed"
	// Enriched is published when directory data was merged into rows.
	Enriched = "fleet.enriched"
)

// Event is a server-sent event.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// RefreshEvent is the payload of the refresh events.
type RefreshEvent struct {
	Generation uint64 `json:"generation"`
	Attribute  string `json:"attribute,omitempty"`
	Rows       int    `json:"rows"`
	Error      string `json:"error,omitempty"`
	Ts         int64  `json:"ts"`
}

// EnrichedEvent is the payload of Enriched.
type EnrichedEvent struct {
	Generation uint64 `json:"generation"`
	User       string `json:"user"`
	Rows       int    `json:"rows"`
}

// DecodeAs unmarshals the payload of e into T. An empty payload gives the
// zero value of T.
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
