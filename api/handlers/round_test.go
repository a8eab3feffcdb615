package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/roundflow/round"
	"github.com/BaSui01/roundflow/types"
)

// =============================================================================
// 🧪 测试辅助类型
// =============================================================================

type fakeRoundService struct {
	mu sync.Mutex

	submitErr    error
	submitted    []string
	searchFlags  []bool
	participants []types.Participant
	reconnected  []*round.StreamDescriptor
	action       round.Action
	detached     int
	retried      []int
	retryErr     error
	view         round.View
	viewErr      error
	views        chan round.View
	unsubscribed bool
}

func newFakeRoundService() *fakeRoundService {
	return &fakeRoundService{views: make(chan round.View, 4)}
}

func (f *fakeRoundService) Submit(conversationID, text string, opts round.RoundOptions) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return 0, f.submitErr
	}
	f.submitted = append(f.submitted, text)
	f.searchFlags = append(f.searchFlags, opts.SearchEnabled)
	return len(f.submitted) - 1, nil
}

func (f *fakeRoundService) SetParticipants(conversationID string, participants []types.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants = participants
	return nil
}

func (f *fakeRoundService) Reconnect(ctx context.Context, conversationID string, desc *round.StreamDescriptor) (round.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnected = append(f.reconnected, desc)
	return f.action, nil
}

func (f *fakeRoundService) Detach(conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached++
	return nil
}

func (f *fakeRoundService) RetrySynthesis(conversationID string, roundNumber int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retryErr != nil {
		return f.retryErr
	}
	f.retried = append(f.retried, roundNumber)
	return nil
}

func (f *fakeRoundService) View(conversationID string) (round.View, error) {
	return f.view, f.viewErr
}

func (f *fakeRoundService) Subscribe(conversationID string) (<-chan round.View, func(), error) {
	if f.viewErr != nil {
		return nil, nil, f.viewErr
	}
	return f.views, func() {
		f.mu.Lock()
		f.unsubscribed = true
		f.mu.Unlock()
	}, nil
}

func (f *fakeRoundService) detachCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detached
}

func newRoundMux(svc RoundService) *http.ServeMux {
	mux := http.NewServeMux()
	NewRoundHandler(svc, nil, zap.NewNop()).Register(mux)
	return mux
}

func serve(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
		Error   *ErrorInfo     `json:"error"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp.Data
}

// =============================================================================
// 🧪 RoundHandler 测试
// =============================================================================

func TestRoundHandler_Submit(t *testing.T) {
	svc := newFakeRoundService()
	mux := newRoundMux(svc)

	w := serve(mux, http.MethodPost, "/api/v1/conversations/c1/messages", `{"text":"hello","search_enabled":true}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "c1", data["conversation_id"])
	assert.Equal(t, float64(0), data["round_number"])
	assert.Equal(t, []string{"hello"}, svc.submitted)
	assert.Equal(t, []bool{true}, svc.searchFlags)
}

func TestRoundHandler_SubmitErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{name: "malformed body", body: `{"text":`, wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"text":"hi","extra":1}`, wantStatus: http.StatusBadRequest},
		{
			name:       "round still running",
			body:       `{"text":"hi"}`,
			err:        types.NewError(types.ErrInvalidTransition, "round 0 is still running"),
			wantStatus: http.StatusConflict,
		},
		{
			name:       "engine closed",
			body:       `{"text":"hi"}`,
			err:        types.NewError(types.ErrEngineClosed, "engine closed"),
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeRoundService()
			svc.submitErr = tt.err
			w := serve(newRoundMux(svc), http.MethodPost, "/api/v1/conversations/c1/messages", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestRoundHandler_State(t *testing.T) {
	svc := newFakeRoundService()
	svc.view = round.View{
		ConversationID: "c1",
		CurrentRound:   0,
		Messages: []types.Message{
			&types.UserMessage{ID: "u0", RoundNumber: 0, Text: "hello"},
		},
	}

	w := serve(newRoundMux(svc), http.MethodGet, "/api/v1/conversations/c1/state", "")

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "c1", data["conversation_id"])
	messages, ok := data["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	envelope := messages[0].(map[string]any)
	assert.Equal(t, "user", envelope["role"])
	assert.Equal(t, "hello", envelope["message"].(map[string]any)["text"])
}

func TestRoundHandler_StateNotFound(t *testing.T) {
	svc := newFakeRoundService()
	svc.viewErr = types.NewError(types.ErrConversationNotFound, "conversation not found")

	w := serve(newRoundMux(svc), http.MethodGet, "/api/v1/conversations/missing/state", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoundHandler_SetParticipants(t *testing.T) {
	svc := newFakeRoundService()
	body := `{"participants":[{"id":"analyst","priority":0,"enabled":true},{"id":"critic","priority":1,"enabled":false}]}`

	w := serve(newRoundMux(svc), http.MethodPut, "/api/v1/conversations/c1/participants", body)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, svc.participants, 2)
	assert.Equal(t, "analyst", svc.participants[0].ID)
	assert.False(t, svc.participants[1].Enabled)
}

func TestRoundHandler_Resume(t *testing.T) {
	t.Run("with descriptor", func(t *testing.T) {
		svc := newFakeRoundService()
		svc.action = round.ActionResume
		body := `{"descriptor":{"round_number":2,"participant_index":1,"state":"timedOut"}}`

		w := serve(newRoundMux(svc), http.MethodPost, "/api/v1/conversations/c1/resume", body)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "resume", decodeData(t, w)["action"])
		require.Len(t, svc.reconnected, 1)
		desc := svc.reconnected[0]
		require.NotNil(t, desc)
		assert.Equal(t, "c1", desc.ConversationID)
		assert.Equal(t, 2, desc.RoundNumber)
		assert.Equal(t, 1, desc.ParticipantIndex)
		assert.Equal(t, round.StreamTimedOut, desc.State)
	})

	t.Run("without body uses stored descriptor", func(t *testing.T) {
		svc := newFakeRoundService()

		w := serve(newRoundMux(svc), http.MethodPost, "/api/v1/conversations/c1/resume", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "none", decodeData(t, w)["action"])
		require.Len(t, svc.reconnected, 1)
		assert.Nil(t, svc.reconnected[0])
	})

	t.Run("unknown state", func(t *testing.T) {
		svc := newFakeRoundService()
		body := `{"descriptor":{"round_number":0,"participant_index":0,"state":"paused"}}`

		w := serve(newRoundMux(svc), http.MethodPost, "/api/v1/conversations/c1/resume", body)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, svc.reconnected)
	})
}

func TestRoundHandler_Detach(t *testing.T) {
	svc := newFakeRoundService()

	w := serve(newRoundMux(svc), http.MethodPost, "/api/v1/conversations/c1/detach", "")

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, svc.detachCount())
}

func TestRoundHandler_RetrySynthesis(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		svc := newFakeRoundService()
		w := serve(newRoundMux(svc), http.MethodPost, "/api/v1/conversations/c1/rounds/3/synthesis/retry", "")

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, []int{3}, svc.retried)
	})

	t.Run("bad round", func(t *testing.T) {
		svc := newFakeRoundService()
		w := serve(newRoundMux(svc), http.MethodPost, "/api/v1/conversations/c1/rounds/-1/synthesis/retry", "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, svc.retried)
	})

	t.Run("not retryable", func(t *testing.T) {
		svc := newFakeRoundService()
		svc.retryErr = types.NewError(types.ErrSynthesisNotRetryable, "synthesis is not failed")
		w := serve(newRoundMux(svc), http.MethodPost, "/api/v1/conversations/c1/rounds/0/synthesis/retry", "")

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestRoundHandler_WrongMethod(t *testing.T) {
	w := serve(newRoundMux(newFakeRoundService()), http.MethodDelete, "/api/v1/conversations/c1/messages", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

// =============================================================================
// 🧪 事件推送测试
// =============================================================================

func dialEvents(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/conversations/" + id + "/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	return conn
}

func TestRoundHandler_EventsPushesViews(t *testing.T) {
	svc := newFakeRoundService()
	srv := httptest.NewServer(newRoundMux(svc))
	defer srv.Close()

	conn := dialEvents(t, srv, "c1")
	defer conn.CloseNow()

	svc.views <- round.View{ConversationID: "c1", CurrentRound: 0, AllComplete: true}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	var ev map[string]any
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "view", ev["type"])
	state := ev["state"].(map[string]any)
	assert.Equal(t, "c1", state["conversation_id"])
	assert.Equal(t, true, state["all_complete"])

	close(svc.views)
	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))

	assert.Eventually(t, func() bool { return svc.detachCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRoundHandler_EventsClientCloseDetaches(t *testing.T) {
	svc := newFakeRoundService()
	srv := httptest.NewServer(newRoundMux(svc))
	defer srv.Close()

	conn := dialEvents(t, srv, "c1")
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))

	assert.Eventually(t, func() bool { return svc.detachCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return svc.unsubscribed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRoundHandler_EventsUnknownConversation(t *testing.T) {
	svc := newFakeRoundService()
	svc.viewErr = types.NewError(types.ErrConversationNotFound, "conversation not found")

	w := serve(newRoundMux(svc), http.MethodGet, "/api/v1/conversations/missing/events", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}
