package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/roundflow/api"
	"github.com/BaSui01/roundflow/round"
	"github.com/BaSui01/roundflow/types"
)

// =============================================================================
// 🔁 轮次 Handler
// =============================================================================

// RoundService 是 handler 依赖的轮次引擎能力，由 *runtime.Engine 实现
type RoundService interface {
	Submit(conversationID, text string, opts round.RoundOptions) (int, error)
	SetParticipants(conversationID string, participants []types.Participant) error
	Reconnect(ctx context.Context, conversationID string, desc *round.StreamDescriptor) (round.Action, error)
	Detach(conversationID string) error
	RetrySynthesis(conversationID string, roundNumber int) error
	View(conversationID string) (round.View, error)
	Subscribe(conversationID string) (<-chan round.View, func(), error)
}

// RoundHandler 对话轮次处理器
type RoundHandler struct {
	svc    RoundService
	logger *zap.Logger

	// 事件推送的写超时
	writeTimeout time.Duration
	// 允许的 WebSocket Origin 模式，空表示仅同源
	originPatterns []string
}

// NewRoundHandler 创建轮次处理器
func NewRoundHandler(svc RoundService, originPatterns []string, logger *zap.Logger) *RoundHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoundHandler{
		svc:            svc,
		logger:         logger.With(zap.String("component", "round_handler")),
		writeTimeout:   10 * time.Second,
		originPatterns: originPatterns,
	}
}

// Register 注册路由
func (h *RoundHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/conversations/{id}/messages", h.HandleSubmit)
	mux.HandleFunc("GET /api/v1/conversations/{id}/state", h.HandleState)
	mux.HandleFunc("PUT /api/v1/conversations/{id}/participants", h.HandleSetParticipants)
	mux.HandleFunc("POST /api/v1/conversations/{id}/resume", h.HandleResume)
	mux.HandleFunc("POST /api/v1/conversations/{id}/detach", h.HandleDetach)
	mux.HandleFunc("POST /api/v1/conversations/{id}/rounds/{round}/synthesis/retry", h.HandleRetrySynthesis)
	mux.HandleFunc("GET /api/v1/conversations/{id}/events", h.HandleEvents)
}

// HandleSubmit 处理用户消息，开启新一轮
func (h *RoundHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitMessageRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	id := r.PathValue("id")

	n, err := h.svc.Submit(id, req.Text, round.RoundOptions{SearchEnabled: req.SearchEnabled})
	if err != nil {
		WriteAPIError(w, err, h.logger)
		return
	}
	WriteStatus(w, http.StatusAccepted, api.SubmitMessageResponse{ConversationID: id, RoundNumber: n})
}

// HandleState 返回对话视图
func (h *RoundHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.View(r.PathValue("id"))
	if err != nil {
		WriteAPIError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.NewStateResponse(v))
}

// HandleSetParticipants 替换参与者配置
func (h *RoundHandler) HandleSetParticipants(w http.ResponseWriter, r *http.Request) {
	var req api.SetParticipantsRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := h.svc.SetParticipants(r.PathValue("id"), req.Participants); err != nil {
		WriteAPIError(w, err, h.logger)
		return
	}
	WriteSuccess(w, req)
}

// HandleResume 处理客户端重连：请求体可为空，此时使用服务端保存的流描述符
func (h *RoundHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	var req api.ResumeRequest
	if r.ContentLength != 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	var desc *round.StreamDescriptor
	if req.Descriptor != nil {
		state, ok := round.ParseLifecycleState(req.Descriptor.State)
		if !ok {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
				"unknown stream state "+strconv.Quote(req.Descriptor.State), h.logger)
			return
		}
		desc = &round.StreamDescriptor{
			ConversationID:   r.PathValue("id"),
			RoundNumber:      req.Descriptor.RoundNumber,
			ParticipantIndex: req.Descriptor.ParticipantIndex,
			State:            state,
		}
	}

	action, err := h.svc.Reconnect(r.Context(), r.PathValue("id"), desc)
	if err != nil {
		WriteAPIError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.ResumeResponse{Action: action.String()})
}

// HandleDetach 记录客户端离开，进行中的流不会被取消
func (h *RoundHandler) HandleDetach(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Detach(r.PathValue("id")); err != nil {
		WriteAPIError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRetrySynthesis 显式重试失败的综合
func (h *RoundHandler) HandleRetrySynthesis(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("round"))
	if err != nil || n < 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "round must be a non-negative integer", h.logger)
		return
	}
	if err := h.svc.RetrySynthesis(r.PathValue("id"), n); err != nil {
		WriteAPIError(w, err, h.logger)
		return
	}
	WriteStatus(w, http.StatusAccepted, map[string]int{"round_number": n})
}

// HandleEvents 通过 WebSocket 推送视图。连接关闭视为客户端离开。
func (h *RoundHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	views, unsubscribe, err := h.svc.Subscribe(id)
	if err != nil {
		WriteAPIError(w, err, h.logger)
		return
	}
	defer unsubscribe()

	// 推送连接是长连接，解除 http.Server 的读写超时
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("conversation_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// 客户端只接收，不发送；CloseRead 在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())
	logger := h.logger.With(zap.String("conversation_id", id))
	logger.Debug("events subscriber attached")

	defer func() {
		if err := h.svc.Detach(id); err != nil {
			logger.Debug("detach after events close", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			state := api.NewStateResponse(v)
			if err := h.writeEvent(ctx, conn, api.Event{Type: api.EventView, State: &state}); err != nil {
				logger.Debug("events subscriber gone", zap.Error(err))
				return
			}
		}
	}
}

func (h *RoundHandler) writeEvent(ctx context.Context, conn *websocket.Conn, ev api.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
