package batch

import "time"

// Status classifies how a single item finished.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
)

// Outcome records how one item of a batch finished. Every run produces
// exactly one Outcome per input item, placed at the item's input index.
type Outcome[T any] struct {
	Index      int       `json:"index"`
	Status     Status    `json:"status"`
	Value      T         `json:"value,omitempty"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
}

// Summary aggregates the outcomes of one run.
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Summarize classifies outcomes into a Summary. Each outcome lands in
// exactly one bucket: an explicit status tag wins, and an outcome with no
// recognizable tag counts as successful when it carries no error and failed
// when it does. Skipped is derived as the remainder, so
// Successful+Failed+Skipped always equals Total.
func Summarize[T any](outcomes []Outcome[T]) Summary {
	s := Summary{Total: len(outcomes)}
	for _, oc := range outcomes {
		switch {
		case oc.Status == StatusSuccess,
			oc.Status == "" && oc.Error == "":
			s.Successful++
		case oc.Status == StatusFailed,
			oc.Status != StatusSkipped && oc.Error != "":
			s.Failed++
		}
	}
	s.Skipped = s.Total - s.Successful - s.Failed
	return s
}
