package collab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/roundflow/round"
	"github.com/BaSui01/roundflow/round/runtime"
	"github.com/BaSui01/roundflow/types"
)

// Frame types exchanged with the participant stream service.
const (
	FrameStart  = "start"
	FrameResume = "resume"
	FrameDelta  = "delta"
	FrameFinish = "finish"
	FrameError  = "error"
)

// Frame is one JSON message on the participant stream socket.
type Frame struct {
	Type             string             `json:"type"`
	ConversationID   string             `json:"conversation_id,omitempty"`
	RoundNumber      int                `json:"round_number"`
	ParticipantIndex int                `json:"participant_index"`
	MessageID        string             `json:"message_id,omitempty"`
	Participant      *types.Participant `json:"participant,omitempty"`
	Messages         []wireMessage      `json:"messages,omitempty"`
	Delta            string             `json:"delta,omitempty"`
	FinishReason     string             `json:"finish_reason,omitempty"`
	Usage            *types.Usage       `json:"usage,omitempty"`
	Error            string             `json:"error,omitempty"`
}

// StreamClient streams participant responses over WebSocket. Each stream
// uses its own connection; a connection that drops before a finish frame
// ends the event channel without a terminal event, which the runtime treats
// as an interrupted stream.
type StreamClient struct {
	url    string
	apiKey string
	retry  RetryConfig
	logger *zap.Logger

	readLimit int64
}

var _ runtime.ParticipantStreamer = (*StreamClient)(nil)

// NewStreamClient creates a client dialing url.
func NewStreamClient(url, apiKey string, logger *zap.Logger) *StreamClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamClient{
		url:       url,
		apiKey:    apiKey,
		retry:     DefaultRetryConfig(),
		logger:    logger.With(zap.String("component", "collab"), zap.String("collaborator", "stream")),
		readLimit: 1 << 20,
	}
}

// WithRetry replaces the dial retry policy.
func (c *StreamClient) WithRetry(cfg RetryConfig) *StreamClient {
	c.retry = cfg
	return c
}

// Stream starts a participant turn.
func (c *StreamClient) Stream(ctx context.Context, req runtime.StreamRequest) (<-chan runtime.StreamEvent, error) {
	p := req.Participant
	return c.open(ctx, Frame{
		Type:             FrameStart,
		ConversationID:   req.ConversationID,
		RoundNumber:      req.RoundNumber,
		ParticipantIndex: req.ParticipantIndex,
		MessageID:        req.MessageID,
		Participant:      &p,
		Messages:         toWire(req.Messages),
	})
}

// Resume reattaches to a stream that is still producing.
func (c *StreamClient) Resume(ctx context.Context, desc round.StreamDescriptor) (<-chan runtime.StreamEvent, error) {
	return c.open(ctx, Frame{
		Type:             FrameResume,
		ConversationID:   desc.ConversationID,
		RoundNumber:      desc.RoundNumber,
		ParticipantIndex: desc.ParticipantIndex,
	})
}

func (c *StreamClient) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := retry(ctx, c.retry, c.logger, "dial", func() error {
		header := http.Header{}
		if c.apiKey != "" {
			header.Set("Authorization", "Bearer "+c.apiKey)
		}
		if id, ok := types.RequestID(ctx); ok {
			header.Set("X-Request-ID", id)
		}
		ws, resp, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPHeader: header})
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 {
				return mapHTTPError(resp.StatusCode, http.StatusText(resp.StatusCode), "stream")
			}
			return transportError(ctx, "stream", err)
		}
		conn = ws
		return nil
	})
	return conn, err
}

func (c *StreamClient) open(ctx context.Context, first Frame) (<-chan runtime.StreamEvent, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(c.readLimit)

	data, err := json.Marshal(first)
	if err != nil {
		conn.CloseNow()
		return nil, types.NewError(types.ErrInvalidRequest, "encode stream frame").WithCause(err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		conn.CloseNow()
		return nil, transportError(ctx, "stream", err)
	}

	ch := make(chan runtime.StreamEvent, 16)
	r := &streamReader{conn: conn, ch: ch, logger: c.logger.With(
		zap.String("conversation_id", first.ConversationID),
		zap.Int("round", first.RoundNumber),
		zap.Int("participant_index", first.ParticipantIndex),
	)}
	go r.run(ctx)
	return ch, nil
}

type streamReader struct {
	conn   *websocket.Conn
	ch     chan runtime.StreamEvent
	logger *zap.Logger
	once   sync.Once
}

func (r *streamReader) close(status websocket.StatusCode, reason string) {
	r.once.Do(func() {
		_ = r.conn.Close(status, reason)
	})
}

func (r *streamReader) send(ctx context.Context, ev runtime.StreamEvent) bool {
	select {
	case r.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *streamReader) run(ctx context.Context) {
	defer close(r.ch)
	defer r.close(websocket.StatusNormalClosure, "done")

	for {
		_, data, err := r.conn.Read(ctx)
		if err != nil {
			// The producer may still be running; ending without a terminal
			// event leaves recovery to the resume path.
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				r.logger.Debug("participant stream dropped", zap.Error(err))
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			r.send(ctx, runtime.StreamEvent{Err: types.NewError(types.ErrUpstreamError, "stream: malformed frame").WithCause(err)})
			return
		}

		switch f.Type {
		case FrameDelta:
			if f.Delta == "" {
				continue
			}
			if !r.send(ctx, runtime.StreamEvent{Delta: f.Delta}) {
				return
			}
		case FrameFinish:
			reason := types.ParseFinishReason(f.FinishReason)
			if reason == types.FinishNone {
				reason = types.FinishStop
			}
			ev := runtime.StreamEvent{FinishReason: reason, ErrorMessage: f.Error}
			if f.Usage != nil {
				ev.Usage = *f.Usage
			}
			r.send(ctx, ev)
			return
		case FrameError:
			msg := f.Error
			if msg == "" {
				msg = "participant stream failed"
			}
			r.send(ctx, runtime.StreamEvent{Err: errors.New(msg)})
			return
		default:
			r.logger.Debug("ignoring stream frame", zap.String("type", f.Type))
		}
	}
}
