package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/BaSui01/roundflow/round/runtime"
	"github.com/BaSui01/roundflow/types"
)

// SynthesisClient calls an HTTP synthesis service. The response body is the
// synthesis payload itself, or an object wrapping it under "payload".
type SynthesisClient struct {
	url  string
	http *httpClient
}

var _ runtime.SynthesisService = (*SynthesisClient)(nil)

// NewSynthesisClient creates a client posting to url.
func NewSynthesisClient(url, apiKey string, opts ...Option) *SynthesisClient {
	return &SynthesisClient{url: strings.TrimRight(url, "/"), http: newHTTPClient("synthesis", apiKey, opts)}
}

type synthesisRequest struct {
	ConversationID string        `json:"conversation_id"`
	RoundNumber    int           `json:"round_number"`
	Messages       []wireMessage `json:"messages"`
}

// Synthesize posts the round messages and returns the raw payload.
func (c *SynthesisClient) Synthesize(ctx context.Context, req runtime.SynthesisRequest) (json.RawMessage, error) {
	var raw json.RawMessage
	_, err := c.http.do(ctx, http.MethodPost, c.url, synthesisRequest{
		ConversationID: req.ConversationID,
		RoundNumber:    req.RoundNumber,
		Messages:       toWire(req.Messages),
	}, &raw)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if !json.Valid(raw) {
		return nil, types.NewError(types.ErrUpstreamError, "synthesis: response is not valid JSON")
	}

	var wrapped struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Payload) > 0 {
		return wrapped.Payload, nil
	}
	return raw, nil
}
