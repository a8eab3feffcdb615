package api

import (
	"github.com/BaSui01/roundflow/round"
	"github.com/BaSui01/roundflow/types"
)

// =============================================================================
// 轮次请求类型
// =============================================================================

// SubmitMessageRequest opens a new round with a user message.
type SubmitMessageRequest struct {
	// 用户消息文本
	Text string `json:"text" example:"Should we rewrite the billing service?"`
	// 是否启用联网搜索增强
	SearchEnabled bool `json:"search_enabled,omitempty"`
}

// SubmitMessageResponse reports the round the message opened.
type SubmitMessageResponse struct {
	ConversationID string `json:"conversation_id"`
	RoundNumber    int    `json:"round_number"`
}

// SetParticipantsRequest replaces the participant roster.
type SetParticipantsRequest struct {
	Participants []types.Participant `json:"participants"`
}

// StreamDescriptor is the client-reported state of a participant stream.
type StreamDescriptor struct {
	RoundNumber      int    `json:"round_number"`
	ParticipantIndex int    `json:"participant_index"`
	State            string `json:"state" example:"active"`
}

// ResumeRequest reconciles a returning client. Without a descriptor the
// server uses the one it stored.
type ResumeRequest struct {
	Descriptor *StreamDescriptor `json:"descriptor,omitempty"`
}

// ResumeResponse reports the recovery action taken.
type ResumeResponse struct {
	Action string `json:"action" example:"resume"`
}

// =============================================================================
// 视图类型
// =============================================================================

// MessageEnvelope tags a round message with its role.
type MessageEnvelope struct {
	Role    types.Role    `json:"role"`
	Message types.Message `json:"message"`
}

// StateResponse is the conversation view with role-tagged messages.
type StateResponse struct {
	round.View
	Messages []MessageEnvelope `json:"messages"`
}

// NewStateResponse wraps a view for the wire.
func NewStateResponse(v round.View) StateResponse {
	out := StateResponse{View: v, Messages: make([]MessageEnvelope, 0, len(v.Messages))}
	for _, m := range v.Messages {
		out.Messages = append(out.Messages, MessageEnvelope{Role: m.Role(), Message: m})
	}
	out.View.Messages = nil
	return out
}

// Event types pushed on the events socket.
const (
	EventView  = "view"
	EventError = "error"
)

// Event is one frame pushed to an events subscriber.
type Event struct {
	Type  string         `json:"type"`
	State *StateResponse `json:"state,omitempty"`
	Error string         `json:"error,omitempty"`
}
