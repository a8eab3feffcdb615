package collab

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/BaSui01/roundflow/round"
	"github.com/BaSui01/roundflow/round/runtime"
	"github.com/BaSui01/roundflow/types"
)

// MessageClient persists and fetches round artifacts through an HTTP
// message service laid out as
//
//	{base}/{conversation}/rounds/{round}/participants/{index}
//	{base}/{conversation}/rounds/{round}/search
//	{base}/{conversation}/rounds/{round}/synthesis
type MessageClient struct {
	base string
	http *httpClient
}

var _ runtime.MessageStore = (*MessageClient)(nil)

// NewMessageClient creates a client rooted at base.
func NewMessageClient(base, apiKey string, opts ...Option) *MessageClient {
	return &MessageClient{base: strings.TrimRight(base, "/"), http: newHTTPClient("messages", apiKey, opts)}
}

func (c *MessageClient) roundURL(conversationID string, roundNumber int) string {
	return fmt.Sprintf("%s/%s/rounds/%d", c.base, url.PathEscape(conversationID), roundNumber)
}

func (c *MessageClient) participantURL(conversationID string, roundNumber, idx int) string {
	return fmt.Sprintf("%s/participants/%d", c.roundURL(conversationID, roundNumber), idx)
}

// SaveParticipantMessage stores a final participant message.
func (c *MessageClient) SaveParticipantMessage(ctx context.Context, conversationID string, msg *types.ParticipantMessage) error {
	if msg == nil {
		return types.NewError(types.ErrInvalidMessage, "participant message is nil")
	}
	raw := types.EncodeParticipantMessage(msg)
	_, err := c.http.do(ctx, http.MethodPut, c.participantURL(conversationID, msg.RoundNumber, msg.ParticipantIndex), raw, nil)
	return err
}

// FetchParticipantMessage loads the final message of a participant. A 404
// reports not found. The body is a loose boundary payload; the slot from the
// URL fills in a missing round number or participant index.
func (c *MessageClient) FetchParticipantMessage(ctx context.Context, conversationID string, roundNumber, idx int) (*types.ParticipantMessage, bool, error) {
	var raw types.RawMessage
	status, err := c.http.do(ctx, http.MethodGet, c.participantURL(conversationID, roundNumber, idx), nil, &raw)
	if err != nil {
		return nil, false, err
	}
	if status == http.StatusNotFound {
		return nil, false, nil
	}
	if raw.Metadata == nil {
		raw.Metadata = make(map[string]any)
	}
	setDefault(raw.Metadata, roundNumber, "round_number", "roundNumber", "round")
	setDefault(raw.Metadata, idx, "participant_index", "participantIndex")
	if raw.Role == "" {
		raw.Role = string(types.RoleParticipant)
	}

	decoded, err := types.DecodeMessage(raw)
	if err != nil {
		return nil, false, err
	}
	msg, ok := decoded.(*types.ParticipantMessage)
	if !ok {
		return nil, false, types.Errorf(types.ErrInvalidMessage, "message service returned a %s message for participant %d", decoded.Role(), idx)
	}
	if msg.RoundNumber != roundNumber || msg.ParticipantIndex != idx {
		return nil, false, types.Errorf(types.ErrInvalidMessage,
			"message service returned round %d participant %d, want round %d participant %d",
			msg.RoundNumber, msg.ParticipantIndex, roundNumber, idx)
	}
	return msg, true, nil
}

func setDefault(meta map[string]any, v int, keys ...string) {
	for _, k := range keys {
		if _, ok := meta[k]; ok {
			return
		}
	}
	meta[keys[0]] = v
}

// SaveSearchRecord stores a search record.
func (c *MessageClient) SaveSearchRecord(ctx context.Context, conversationID string, rec round.SearchRecord) error {
	_, err := c.http.do(ctx, http.MethodPut, c.roundURL(conversationID, rec.RoundNumber)+"/search", rec, nil)
	return err
}

// SaveSynthesisRecord stores a synthesis record.
func (c *MessageClient) SaveSynthesisRecord(ctx context.Context, conversationID string, rec round.SynthesisRecord) error {
	_, err := c.http.do(ctx, http.MethodPut, c.roundURL(conversationID, rec.RoundNumber)+"/synthesis", rec, nil)
	return err
}
