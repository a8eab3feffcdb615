package types

import (
	"strings"
	"time"
)

// Role identifies who authored a round message.
type Role string

const (
	RoleUser        Role = "user"
	RoleParticipant Role = "participant"
	RoleSynthesis   Role = "synthesis"
)

// FinishReason is the terminal reason reported by a participant stream.
// The zero value means the stream has not reported a terminal signal.
type FinishReason string

const (
	FinishNone    FinishReason = ""
	FinishStop    FinishReason = "stop"
	FinishLength  FinishReason = "length"
	FinishError   FinishReason = "error"
	FinishUnknown FinishReason = "unknown"
)

// ParseFinishReason maps transport-specific terminal reasons onto the four
// canonical reasons. Unrecognised non-empty values become FinishUnknown.
func ParseFinishReason(s string) FinishReason {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return FinishNone
	case "stop", "end_turn", "stop_sequence", "eos":
		return FinishStop
	case "length", "max_tokens":
		return FinishLength
	case "error", "failed", "content-filter", "content_filter":
		return FinishError
	default:
		return FinishUnknown
	}
}

// IsTerminal reports whether the reason marks the end of a stream.
func (r FinishReason) IsTerminal() bool {
	return r != FinishNone
}

// Usage is the token-usage metadata attached to a terminal signal.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// IsZero reports whether no usage was recorded.
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// PartType classifies a content part.
type PartType string

const (
	PartText      PartType = "text"
	PartReasoning PartType = "reasoning"
)

// Part is one piece of message content.
type Part struct {
	Type PartType `json:"type"`
	Text string   `json:"text"`
}

// Message is the tagged union of round messages. It is implemented by
// *UserMessage, *ParticipantMessage and *SynthesisMessage only.
type Message interface {
	MessageID() string
	Round() int
	Role() Role
	isMessage()
}

// UserMessage opens a round.
type UserMessage struct {
	ID          string    `json:"id"`
	RoundNumber int       `json:"round_number"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}

func (m *UserMessage) MessageID() string { return m.ID }
func (m *UserMessage) Round() int        { return m.RoundNumber }
func (m *UserMessage) Role() Role        { return RoleUser }
func (m *UserMessage) isMessage()        {}

// ParticipantMessage is one participant's response for a round. RoundNumber
// and ParticipantIndex never change after creation.
type ParticipantMessage struct {
	ID               string       `json:"id"`
	RoundNumber      int          `json:"round_number"`
	ParticipantIndex int          `json:"participant_index"`
	ParticipantID    string       `json:"participant_id"`
	Model            string       `json:"model,omitempty"`
	Parts            []Part       `json:"parts,omitempty"`
	FinishReason     FinishReason `json:"finish_reason,omitempty"`
	Streaming        bool         `json:"streaming"`
	Usage            Usage        `json:"usage"`
	ErrorMessage     string       `json:"error_message,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func (m *ParticipantMessage) MessageID() string { return m.ID }
func (m *ParticipantMessage) Round() int        { return m.RoundNumber }
func (m *ParticipantMessage) Role() Role        { return RoleParticipant }
func (m *ParticipantMessage) isMessage()        {}

// HasContent reports whether at least one text part carries non-blank text.
// Whitespace-only output is treated as no content.
func (m *ParticipantMessage) HasContent() bool {
	for _, p := range m.Parts {
		if p.Type == PartText && strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

// Text concatenates the text parts.
func (m *ParticipantMessage) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// AppendText appends a streamed delta, extending the trailing text part.
func (m *ParticipantMessage) AppendText(delta string) {
	if delta == "" {
		return
	}
	if n := len(m.Parts); n > 0 && m.Parts[n-1].Type == PartText {
		m.Parts[n-1].Text += delta
		return
	}
	m.Parts = append(m.Parts, Part{Type: PartText, Text: delta})
}

// Clone returns a deep copy.
func (m *ParticipantMessage) Clone() *ParticipantMessage {
	c := *m
	c.Parts = append([]Part(nil), m.Parts...)
	return &c
}

// SynthesisMessage is the synthesis author's rendered summary for a round.
type SynthesisMessage struct {
	ID          string    `json:"id"`
	RoundNumber int       `json:"round_number"`
	Summary     string    `json:"summary"`
	CreatedAt   time.Time `json:"created_at"`
}

func (m *SynthesisMessage) MessageID() string { return m.ID }
func (m *SynthesisMessage) Round() int        { return m.RoundNumber }
func (m *SynthesisMessage) Role() Role        { return RoleSynthesis }
func (m *SynthesisMessage) isMessage()        {}

// CloneMessage returns a copy that shares no mutable state with msg.
func CloneMessage(msg Message) Message {
	switch m := msg.(type) {
	case *UserMessage:
		c := *m
		return &c
	case *ParticipantMessage:
		return m.Clone()
	case *SynthesisMessage:
		c := *m
		return &c
	default:
		return msg
	}
}

// CurrentRound returns the highest round referenced by any message, or -1.
func CurrentRound(messages []Message) int {
	current := -1
	for _, m := range messages {
		if m.Round() > current {
			current = m.Round()
		}
	}
	return current
}
