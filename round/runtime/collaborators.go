package runtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BaSui01/roundflow/round"
	"github.com/BaSui01/roundflow/types"
)

// StreamEvent is one event of a participant stream. A terminal event carries
// a non-empty FinishReason; Err reports a transport failure and ends the
// stream as an error.
type StreamEvent struct {
	Delta        string             `json:"delta,omitempty"`
	FinishReason types.FinishReason `json:"finish_reason,omitempty"`
	Usage        types.Usage        `json:"usage"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Err          error              `json:"-"`
}

// StreamRequest asks the streamer to produce one participant's response.
type StreamRequest struct {
	ConversationID   string            `json:"conversation_id"`
	RoundNumber      int               `json:"round_number"`
	ParticipantIndex int               `json:"participant_index"`
	Participant      types.Participant `json:"participant"`
	MessageID        string            `json:"message_id"`
	Messages         []types.Message   `json:"messages"`
}

// ParticipantStreamer produces participant responses. The returned channel
// is closed by the streamer when the stream ends.
type ParticipantStreamer interface {
	Stream(ctx context.Context, req StreamRequest) (<-chan StreamEvent, error)
	Resume(ctx context.Context, desc round.StreamDescriptor) (<-chan StreamEvent, error)
}

// SearchRequest asks for web-search enrichment of a round.
type SearchRequest struct {
	ConversationID string `json:"conversation_id"`
	RoundNumber    int    `json:"round_number"`
	Query          string `json:"query"`
}

// SearchService performs the search phase.
type SearchService interface {
	Search(ctx context.Context, req SearchRequest) (*round.SearchResult, error)
}

// SynthesisRequest carries the round messages to synthesize.
type SynthesisRequest struct {
	ConversationID string          `json:"conversation_id"`
	RoundNumber    int             `json:"round_number"`
	Messages       []types.Message `json:"messages"`
}

// SynthesisService produces the raw synthesis payload. The payload is
// validated and coerced by the orchestrator.
type SynthesisService interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (json.RawMessage, error)
}

// MessageStore persists final participant messages and phase records.
type MessageStore interface {
	SaveParticipantMessage(ctx context.Context, conversationID string, msg *types.ParticipantMessage) error
	FetchParticipantMessage(ctx context.Context, conversationID string, roundNumber, idx int) (*types.ParticipantMessage, bool, error)
	SaveSearchRecord(ctx context.Context, conversationID string, rec round.SearchRecord) error
	SaveSynthesisRecord(ctx context.Context, conversationID string, rec round.SynthesisRecord) error
}

// DescriptorStore keeps the resumable-stream descriptor of each conversation.
type DescriptorStore interface {
	Put(ctx context.Context, desc round.StreamDescriptor) error
	Get(ctx context.Context, conversationID string) (round.StreamDescriptor, bool, error)
	Clear(ctx context.Context, conversationID string) error
}

// UsageEstimator fills in token usage a terminal signal did not report.
type UsageEstimator interface {
	Backfill(u types.Usage, prompt []types.Message, output string) types.Usage
}

// Metrics records collaborator-level measurements.
type Metrics interface {
	RecordCollaboratorCall(collaborator string, err error, d time.Duration)
	RecordTokens(model string, usage types.Usage)
	SetActiveSessions(n int)
}

type nopMetrics struct{}

func (nopMetrics) RecordCollaboratorCall(string, error, time.Duration) {}
func (nopMetrics) RecordTokens(string, types.Usage)                    {}
func (nopMetrics) SetActiveSessions(int)                               {}
