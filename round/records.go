package round

import (
	"time"
)

// Status is the lifecycle of a search or synthesis record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
)

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusStreaming:
		return 1
	case StatusComplete, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool { return s.rank() >= 0 }

// IsTerminal reports whether s is complete or failed.
func (s Status) IsTerminal() bool { return s == StatusComplete || s == StatusFailed }

// CanTransition reports whether a record in status from may be replaced by
// one in status to. Progression is monotonic: pending, streaming, then one
// of complete or failed. Same-status updates refresh the record's data;
// terminal statuses never change into each other.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	return to.rank() > from.rank()
}

// SearchHit is one ranked search result.
type SearchHit struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// SearchResult is the structured output of the search collaborator.
type SearchResult struct {
	Queries []string    `json:"queries"`
	Results []SearchHit `json:"results"`
	Summary string      `json:"summary,omitempty"`
}

// SearchRecord tracks the enrichment phase of one round.
type SearchRecord struct {
	RoundNumber    int           `json:"round_number"`
	Status         Status        `json:"status"`
	Query          string        `json:"query"`
	Result         *SearchResult `json:"result,omitempty"`
	Error          string        `json:"error,omitempty"`
	TimedOut       bool          `json:"timed_out,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
}

// SynthesisRecord tracks the synthesis artifact of one round.
type SynthesisRecord struct {
	RoundNumber  int               `json:"round_number"`
	Status       Status            `json:"status"`
	Payload      *SynthesisPayload `json:"payload,omitempty"`
	Coercions    []Coercion        `json:"coercions,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func findSearch(records []SearchRecord, round int) (int, bool) {
	for i := range records {
		if records[i].RoundNumber == round {
			return i, true
		}
	}
	return -1, false
}

func findSynthesis(records []SynthesisRecord, round int) (int, bool) {
	for i := range records {
		if records[i].RoundNumber == round {
			return i, true
		}
	}
	return -1, false
}

// upsertSearch inserts rec or replaces the record for the same round when the
// status transition is allowed. It reports whether rec was applied.
func upsertSearch(records []SearchRecord, rec SearchRecord) ([]SearchRecord, bool) {
	if !rec.Status.Valid() {
		return records, false
	}
	i, ok := findSearch(records, rec.RoundNumber)
	if !ok {
		return append(records, rec), true
	}
	if !CanTransition(records[i].Status, rec.Status) {
		return records, false
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = records[i].CreatedAt
	}
	if rec.Query == "" {
		rec.Query = records[i].Query
	}
	if rec.Result == nil {
		rec.Result = records[i].Result
	}
	records[i] = rec
	return records, true
}
