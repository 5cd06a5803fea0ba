package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mailherd/mailherd/pkg/batch"
)

// DefaultTopic carries one event per finished batch item.
const DefaultTopic = "mailherd.outcomes"

// OutcomeEvent is the wire form of one finished item, published so other
// systems (dashboards, billing, the events tail command) can follow runs
// without reading the audit database. It never carries credentials.
type OutcomeEvent struct {
	RunID      string       `json:"run_id"`
	Command    string       `json:"command"`
	ItemKey    string       `json:"item_key"`
	Status     batch.Status `json:"status"`
	Error      string       `json:"error,omitempty"`
	DurationMs int64        `json:"duration_ms"`
	FinishedAt time.Time    `json:"finished_at"`
}

// DecodeOutcome parses an event from a consumed message value.
func DecodeOutcome(value []byte) (*OutcomeEvent, error) {
	var ev OutcomeEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return nil, fmt.Errorf("decode outcome event: %w", err)
	}
	return &ev, nil
}
