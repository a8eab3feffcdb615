package types

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// RawMessage is the loosely typed message payload accepted at the boundary
// (HTTP API, persisted legacy rows). Metadata keys are matched in both
// camelCase and snake_case.
type RawMessage struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Content   string         `json:"content,omitempty"`
	Parts     []Part         `json:"parts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// DecodeMessage converts a raw payload into its canonical variant. It is the
// only place that interprets metadata fallbacks; read sites use the typed
// fields.
func DecodeMessage(raw RawMessage) (Message, error) {
	round, ok := metaInt(raw.Metadata, "roundNumber", "round_number", "round")
	if !ok || round < 0 {
		return nil, NewError(ErrInvalidMessage, "message is missing a round number")
	}

	switch classifyRole(raw) {
	case RoleUser:
		return &UserMessage{
			ID:          raw.ID,
			RoundNumber: round,
			Text:        rawText(raw),
			CreatedAt:   raw.CreatedAt,
		}, nil

	case RoleParticipant:
		idx, ok := metaInt(raw.Metadata, "participantIndex", "participant_index")
		if !ok || idx < 0 {
			return nil, NewError(ErrInvalidMessage, "participant message is missing a participant index")
		}
		parts := append([]Part(nil), raw.Parts...)
		if len(parts) == 0 && raw.Content != "" {
			parts = []Part{{Type: PartText, Text: raw.Content}}
		}
		for i := range parts {
			if parts[i].Type == "" {
				parts[i].Type = PartText
			}
		}
		msg := &ParticipantMessage{
			ID:               raw.ID,
			RoundNumber:      round,
			ParticipantIndex: idx,
			ParticipantID:    metaString(raw.Metadata, "participantId", "participant_id"),
			Model:            metaString(raw.Metadata, "model", "modelId", "model_id"),
			Parts:            parts,
			FinishReason:     ParseFinishReason(metaString(raw.Metadata, "finishReason", "finish_reason")),
			Streaming:        metaBool(raw.Metadata, "isStreaming", "is_streaming", "streaming"),
			ErrorMessage:     metaString(raw.Metadata, "errorMessage", "error_message"),
			CreatedAt:        raw.CreatedAt,
			UpdatedAt:        raw.CreatedAt,
		}
		if metaBool(raw.Metadata, "hasError", "has_error") && msg.FinishReason == FinishNone {
			msg.FinishReason = FinishError
		}
		if u, ok := raw.Metadata["usage"].(map[string]any); ok {
			msg.Usage.PromptTokens, _ = metaInt(u, "promptTokens", "prompt_tokens", "inputTokens")
			msg.Usage.CompletionTokens, _ = metaInt(u, "completionTokens", "completion_tokens", "outputTokens")
			msg.Usage.TotalTokens, _ = metaInt(u, "totalTokens", "total_tokens")
		}
		return msg, nil

	case RoleSynthesis:
		return &SynthesisMessage{
			ID:          raw.ID,
			RoundNumber: round,
			Summary:     rawText(raw),
			CreatedAt:   raw.CreatedAt,
		}, nil

	default:
		return nil, Errorf(ErrInvalidMessage, "unsupported message role %q", raw.Role)
	}
}

// EncodeParticipantMessage renders a participant message in the boundary
// format read back by DecodeMessage.
func EncodeParticipantMessage(m *ParticipantMessage) RawMessage {
	meta := map[string]any{
		"round_number":      m.RoundNumber,
		"participant_index": m.ParticipantIndex,
	}
	if m.ParticipantID != "" {
		meta["participant_id"] = m.ParticipantID
	}
	if m.Model != "" {
		meta["model"] = m.Model
	}
	if m.FinishReason != FinishNone {
		meta["finish_reason"] = string(m.FinishReason)
	}
	if m.Streaming {
		meta["is_streaming"] = true
	}
	if m.ErrorMessage != "" {
		meta["error_message"] = m.ErrorMessage
	}
	if !m.Usage.IsZero() {
		meta["usage"] = map[string]any{
			"prompt_tokens":     m.Usage.PromptTokens,
			"completion_tokens": m.Usage.CompletionTokens,
			"total_tokens":      m.Usage.TotalTokens,
		}
	}
	return RawMessage{
		ID:        m.ID,
		Role:      string(RoleParticipant),
		Parts:     append([]Part(nil), m.Parts...),
		Metadata:  meta,
		CreatedAt: m.CreatedAt,
	}
}

func classifyRole(raw RawMessage) Role {
	if metaBool(raw.Metadata, "isSynthesis", "is_synthesis", "isModerator", "is_moderator") {
		return RoleSynthesis
	}
	switch strings.ToLower(raw.Role) {
	case "user":
		return RoleUser
	case "participant", "assistant":
		return RoleParticipant
	case "synthesis", "moderator":
		return RoleSynthesis
	}
	return Role("")
}

func rawText(raw RawMessage) string {
	if raw.Content != "" {
		return raw.Content
	}
	var b strings.Builder
	for _, p := range raw.Parts {
		if p.Type == "" || p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func metaInt(meta map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		v, ok := meta[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case int:
			return n, true
		case int64:
			return int(n), true
		case float64:
			if n == math.Trunc(n) {
				return int(n), true
			}
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return int(i), true
			}
		case string:
			if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
				return i, true
			}
		}
	}
	return 0, false
}

func metaString(meta map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := meta[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func metaBool(meta map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch b := meta[k].(type) {
		case bool:
			if b {
				return true
			}
		case string:
			if v, err := strconv.ParseBool(b); err == nil && v {
				return true
			}
		}
	}
	return false
}
