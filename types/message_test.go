package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFinishReason(t *testing.T) {
	tests := []struct {
		in   string
		want FinishReason
	}{
		{"", FinishNone},
		{"stop", FinishStop},
		{"END_TURN", FinishStop},
		{"max_tokens", FinishLength},
		{"length", FinishLength},
		{"error", FinishError},
		{"content-filter", FinishError},
		{"other", FinishUnknown},
		{"unknown", FinishUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFinishReason(tt.in))
		})
	}
}

func TestParticipantMessage_HasContent(t *testing.T) {
	tests := []struct {
		name  string
		parts []Part
		want  bool
	}{
		{"no parts", nil, false},
		{"empty text", []Part{{Type: PartText, Text: ""}}, false},
		{"whitespace only", []Part{{Type: PartText, Text: " \n\t"}}, false},
		{"reasoning only", []Part{{Type: PartReasoning, Text: "thinking"}}, false},
		{"text", []Part{{Type: PartText, Text: "hi"}}, true},
		{"second part has text", []Part{{Type: PartText, Text: ""}, {Type: PartText, Text: "ok"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &ParticipantMessage{Parts: tt.parts}
			assert.Equal(t, tt.want, m.HasContent())
		})
	}
}

func TestParticipantMessage_AppendTextAndClone(t *testing.T) {
	m := &ParticipantMessage{}
	m.AppendText("")
	assert.Empty(t, m.Parts)

	m.AppendText("Hello")
	m.AppendText(", world")
	require.Len(t, m.Parts, 1)
	assert.Equal(t, "Hello, world", m.Text())

	c := m.Clone()
	c.AppendText("!")
	assert.Equal(t, "Hello, world", m.Text())
	assert.Equal(t, "Hello, world!", c.Text())
}

func TestCurrentRound(t *testing.T) {
	assert.Equal(t, -1, CurrentRound(nil))
	msgs := []Message{
		&UserMessage{RoundNumber: 0},
		&ParticipantMessage{RoundNumber: 2},
		&UserMessage{RoundNumber: 1},
	}
	assert.Equal(t, 2, CurrentRound(msgs))
}

func TestDecodeMessage_Variants(t *testing.T) {
	payload := `[
		{"id":"u1","role":"user","content":"what is go?","metadata":{"roundNumber":0}},
		{"id":"p1","role":"assistant","parts":[{"type":"text","text":"A language"}],
		 "metadata":{"round_number":0,"participantIndex":1,"participantId":"gpt","finishReason":"end_turn",
		             "usage":{"promptTokens":10,"completionTokens":3}}},
		{"id":"s1","role":"assistant","content":"summary","metadata":{"roundNumber":"0","isModerator":true}}
	]`
	var raws []RawMessage
	require.NoError(t, json.Unmarshal([]byte(payload), &raws))

	user, err := DecodeMessage(raws[0])
	require.NoError(t, err)
	require.IsType(t, &UserMessage{}, user)
	assert.Equal(t, "what is go?", user.(*UserMessage).Text)

	msg, err := DecodeMessage(raws[1])
	require.NoError(t, err)
	p, ok := msg.(*ParticipantMessage)
	require.True(t, ok)
	assert.Equal(t, 0, p.RoundNumber)
	assert.Equal(t, 1, p.ParticipantIndex)
	assert.Equal(t, "gpt", p.ParticipantID)
	assert.Equal(t, FinishStop, p.FinishReason)
	assert.Equal(t, 10, p.Usage.PromptTokens)
	assert.Equal(t, 3, p.Usage.CompletionTokens)
	assert.Equal(t, "A language", p.Text())

	synth, err := DecodeMessage(raws[2])
	require.NoError(t, err)
	require.IsType(t, &SynthesisMessage{}, synth)
	assert.Equal(t, RoleSynthesis, synth.Role())
}

func TestDecodeMessage_LegacyErrorFlag(t *testing.T) {
	msg, err := DecodeMessage(RawMessage{
		ID:       "p2",
		Role:     "assistant",
		Metadata: map[string]any{"roundNumber": 3.0, "participantIndex": 0.0, "hasError": true},
	})
	require.NoError(t, err)
	assert.Equal(t, FinishError, msg.(*ParticipantMessage).FinishReason)
}

func TestDecodeMessage_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  RawMessage
	}{
		{"missing round", RawMessage{Role: "user"}},
		{"negative round", RawMessage{Role: "user", Metadata: map[string]any{"roundNumber": -1}}},
		{"fractional round", RawMessage{Role: "user", Metadata: map[string]any{"roundNumber": 1.5}}},
		{"participant without index", RawMessage{Role: "assistant", Metadata: map[string]any{"roundNumber": 0}}},
		{"unknown role", RawMessage{Role: "system", Metadata: map[string]any{"roundNumber": 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage(tt.raw)
			require.Error(t, err)
			assert.Equal(t, ErrInvalidMessage, GetErrorCode(err))
		})
	}
}

func TestSortByPriority(t *testing.T) {
	in := []Participant{
		{ID: "c", Priority: 2, Enabled: true},
		{ID: "a", Priority: 0, Enabled: true},
		{ID: "off", Priority: -1, Enabled: false},
		{ID: "b1", Priority: 1, Enabled: true},
		{ID: "b2", Priority: 1, Enabled: true},
	}
	got := SortByPriority(in)
	ids := make([]string, len(got))
	for i, p := range got {
		ids[i] = p.ID
	}
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, ids)
}

func TestEncodeParticipantMessage_DecodesBack(t *testing.T) {
	in := &ParticipantMessage{
		ID: "m1", RoundNumber: 2, ParticipantIndex: 1, ParticipantID: "critic", Model: "m-critic",
		Parts:        []Part{{Type: PartText, Text: "done"}},
		FinishReason: FinishLength,
		Usage:        Usage{PromptTokens: 4, CompletionTokens: 6, TotalTokens: 10},
	}

	body, err := json.Marshal(EncodeParticipantMessage(in))
	require.NoError(t, err)
	var raw RawMessage
	require.NoError(t, json.Unmarshal(body, &raw))

	decoded, err := DecodeMessage(raw)
	require.NoError(t, err)
	out, ok := decoded.(*ParticipantMessage)
	require.True(t, ok)
	assert.Equal(t, in.RoundNumber, out.RoundNumber)
	assert.Equal(t, in.ParticipantIndex, out.ParticipantIndex)
	assert.Equal(t, in.ParticipantID, out.ParticipantID)
	assert.Equal(t, in.Model, out.Model)
	assert.Equal(t, in.Parts, out.Parts)
	assert.Equal(t, in.FinishReason, out.FinishReason)
	assert.Equal(t, in.Usage, out.Usage)
	assert.False(t, out.Streaming)
}
