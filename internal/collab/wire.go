package collab

import (
	"github.com/BaSui01/roundflow/types"
)

// wireMessage is the flattened form of a round message sent to collaborators.
type wireMessage struct {
	ID               string             `json:"id"`
	Role             types.Role         `json:"role"`
	RoundNumber      int                `json:"round_number"`
	ParticipantIndex *int               `json:"participant_index,omitempty"`
	ParticipantID    string             `json:"participant_id,omitempty"`
	Model            string             `json:"model,omitempty"`
	Text             string             `json:"text"`
	FinishReason     types.FinishReason `json:"finish_reason,omitempty"`
}

func toWire(messages []types.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		w := wireMessage{ID: m.MessageID(), Role: m.Role(), RoundNumber: m.Round()}
		switch v := m.(type) {
		case *types.UserMessage:
			w.Text = v.Text
		case *types.ParticipantMessage:
			idx := v.ParticipantIndex
			w.ParticipantIndex = &idx
			w.ParticipantID = v.ParticipantID
			w.Model = v.Model
			w.Text = v.Text()
			w.FinishReason = v.FinishReason
		case *types.SynthesisMessage:
			w.Text = v.Summary
		}
		out = append(out, w)
	}
	return out
}
