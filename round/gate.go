package round

import (
	"github.com/BaSui01/roundflow/types"
)

// ShouldWaitForSearch reports whether participants must hold off for the
// search phase of round.
//
// A missing record counts as "wait": the record that would block
// participants may simply not have been observed yet. Failed searches
// release the gate so the round continues without enrichment.
func ShouldWaitForSearch(searchEnabled bool, records []SearchRecord, round int) bool {
	if !searchEnabled {
		return false
	}
	i, ok := findSearch(records, round)
	if !ok {
		return true
	}
	switch records[i].Status {
	case StatusComplete, StatusFailed:
		return false
	default:
		return true
	}
}

// IsMessageComplete reports whether a participant message counts as a
// finished response.
//
// An "unknown" terminal reason without content is an interrupted stream and
// is not complete; with content it is usable partial output. Any other
// terminal reason, error included, is complete. Without a terminal reason
// the message is complete only once it has content and is no longer
// streaming, so empty placeholders never count.
func IsMessageComplete(m *types.ParticipantMessage) bool {
	if m == nil {
		return false
	}
	if m.FinishReason == types.FinishUnknown {
		return m.HasContent()
	}
	if m.FinishReason.IsTerminal() {
		return true
	}
	return m.HasContent() && !m.Streaming
}

// IsMessageInterrupted reports whether m looks like a dropped stream that
// needs resumption rather than a finished answer.
func IsMessageInterrupted(m *types.ParticipantMessage) bool {
	return m != nil && m.FinishReason == types.FinishUnknown && !m.HasContent()
}

// Participant states reported in CompletionStatus.Debug.
const (
	ParticipantStateCompleted   = "completed"
	ParticipantStateStreaming   = "streaming"
	ParticipantStateInterrupted = "interrupted"
	ParticipantStateMissing     = "missing"
)

// ParticipantDebug describes how one expected participant was classified.
type ParticipantDebug struct {
	ParticipantID string             `json:"participant_id"`
	State         string             `json:"state"`
	Messages      int                `json:"messages"`
	FinishReason  types.FinishReason `json:"finish_reason,omitempty"`
	HasContent    bool               `json:"has_content"`
	Streaming     bool               `json:"streaming"`
}

// CompletionStatus is the participant-phase gate for one round.
type CompletionStatus struct {
	RoundNumber    int                `json:"round_number"`
	ExpectedCount  int                `json:"expected_count"`
	CompletedCount int                `json:"completed_count"`
	StreamingCount int                `json:"streaming_count"`
	CompletedIDs   []string           `json:"completed_ids"`
	StreamingIDs   []string           `json:"streaming_ids"`
	AllComplete    bool               `json:"all_complete"`
	Debug          []ParticipantDebug `json:"debug,omitempty"`
}

// GetParticipantCompletionStatus evaluates the participant phase of round.
//
// Only enabled participants are expected, so disabling one mid-round shrinks
// the expectation immediately. Messages are matched by participant ID; a
// message without an ID is matched by its index into the priority-sorted
// enabled list. Zero expected participants never counts as complete.
func GetParticipantCompletionStatus(messages []types.Message, participants []types.Participant, round int) CompletionStatus {
	enabled := types.SortByPriority(participants)

	byID := make(map[string][]*types.ParticipantMessage, len(enabled))
	for _, msg := range messages {
		pm, ok := msg.(*types.ParticipantMessage)
		if !ok || pm.RoundNumber != round {
			continue
		}
		id := pm.ParticipantID
		if id == "" {
			if pm.ParticipantIndex < 0 || pm.ParticipantIndex >= len(enabled) {
				continue
			}
			id = enabled[pm.ParticipantIndex].ID
		}
		byID[id] = append(byID[id], pm)
	}

	status := CompletionStatus{
		RoundNumber:   round,
		ExpectedCount: len(enabled),
		CompletedIDs:  []string{},
		StreamingIDs:  []string{},
	}

	for _, p := range enabled {
		dbg := ParticipantDebug{ParticipantID: p.ID, State: ParticipantStateMissing}
		msgs := byID[p.ID]
		dbg.Messages = len(msgs)

		completed := false
		interrupted := false
		for _, m := range msgs {
			dbg.FinishReason = m.FinishReason
			dbg.HasContent = dbg.HasContent || m.HasContent()
			dbg.Streaming = dbg.Streaming || m.Streaming
			if IsMessageComplete(m) {
				completed = true
			}
			if IsMessageInterrupted(m) {
				interrupted = true
			}
		}

		switch {
		case completed:
			dbg.State = ParticipantStateCompleted
			status.CompletedCount++
			status.CompletedIDs = append(status.CompletedIDs, p.ID)
		case len(msgs) > 0:
			dbg.State = ParticipantStateStreaming
			if interrupted {
				dbg.State = ParticipantStateInterrupted
			}
			status.StreamingCount++
			status.StreamingIDs = append(status.StreamingIDs, p.ID)
		}
		status.Debug = append(status.Debug, dbg)
	}

	status.AllComplete = status.ExpectedCount > 0 &&
		status.CompletedCount == status.ExpectedCount &&
		status.StreamingCount == 0
	return status
}
