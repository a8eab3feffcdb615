// Package store persists final participant messages and per-round search and
// synthesis records with GORM.
// This package is internal and should not be imported by external projects.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/roundflow/internal/database"
	"github.com/BaSui01/roundflow/round"
	"github.com/BaSui01/roundflow/types"
)

// QueryObserver 接收每次查询的耗时，通常接到 metrics.Collector.RecordDBQuery
type QueryObserver func(operation string, d time.Duration)

// DefaultWriteRetries 写入遇到死锁、序列化失败或 sqlite 锁时的最大尝试次数
const DefaultWriteRetries = 3

// Transactor 在事务中执行写入并重试可重试错误，由 database.PoolManager 实现
type Transactor interface {
	WithTransactionRetry(ctx context.Context, maxRetries int, fn database.TransactionFunc) error
}

var _ Transactor = (*database.PoolManager)(nil)

// Store 基于 GORM 的轮次持久化存储
type Store struct {
	db      *gorm.DB
	logger  *zap.Logger
	observe QueryObserver
	tx      Transactor
	retries int
}

// New 创建存储
func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:      db,
		logger:  logger.With(zap.String("component", "round_store")),
		observe: func(string, time.Duration) {},
	}
}

// WithQueryObserver 设置查询耗时观察者
func (s *Store) WithQueryObserver(fn QueryObserver) *Store {
	if fn != nil {
		s.observe = fn
	}
	return s
}

// WithTransactions 让 upsert 经由 tx 在事务中执行并按 maxRetries 重试
func (s *Store) WithTransactions(tx Transactor, maxRetries int) *Store {
	if maxRetries < 1 {
		maxRetries = DefaultWriteRetries
	}
	s.tx = tx
	s.retries = maxRetries
	return s
}

// write 执行一次 upsert；未配置 Transactor 时直接在连接上执行
func (s *Store) write(ctx context.Context, fn database.TransactionFunc) error {
	if s.tx == nil {
		return fn(s.db.WithContext(ctx))
	}
	return s.tx.WithTransactionRetry(ctx, s.retries, fn)
}

// Migrate 自动迁移表结构
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("migrate round store: %w", err)
	}
	return nil
}

func (s *Store) timed(op string) func() {
	start := time.Now()
	return func() { s.observe(op, time.Since(start)) }
}

func storeError(op string, err error) error {
	return types.NewError(types.ErrStoreUnavailable, op+" failed").WithCause(err).WithRetryable(true)
}

// =============================================================================
// 💬 参与者消息
// =============================================================================

// SaveParticipantMessage 保存（覆盖）参与者消息
func (s *Store) SaveParticipantMessage(ctx context.Context, conversationID string, msg *types.ParticipantMessage) error {
	defer s.timed("upsert")()

	parts, err := json.Marshal(msg.Parts)
	if err != nil {
		return fmt.Errorf("marshal parts: %w", err)
	}
	row := ParticipantMessageRow{
		ID:               msg.ID,
		ConversationID:   conversationID,
		RoundNumber:      msg.RoundNumber,
		ParticipantIndex: msg.ParticipantIndex,
		ParticipantID:    msg.ParticipantID,
		Model:            msg.Model,
		Parts:            string(parts),
		FinishReason:     string(msg.FinishReason),
		PromptTokens:     msg.Usage.PromptTokens,
		CompletionTokens: msg.Usage.CompletionTokens,
		TotalTokens:      msg.Usage.TotalTokens,
		ErrorMessage:     msg.ErrorMessage,
		CreatedAt:        msg.CreatedAt,
		UpdatedAt:        msg.UpdatedAt,
	}
	err = s.write(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "conversation_id"}, {Name: "round_number"}, {Name: "participant_index"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"participant_id", "model", "parts", "finish_reason",
				"prompt_tokens", "completion_tokens", "total_tokens",
				"error_message", "updated_at",
			}),
		}).Create(&row).Error
	})
	if err != nil {
		return storeError("save participant message", err)
	}
	return nil
}

// FetchParticipantMessage 读取参与者最终消息，不存在时 ok 为 false
func (s *Store) FetchParticipantMessage(ctx context.Context, conversationID string, roundNumber, idx int) (*types.ParticipantMessage, bool, error) {
	defer s.timed("select")()

	var row ParticipantMessageRow
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND round_number = ? AND participant_index = ?", conversationID, roundNumber, idx).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeError("fetch participant message", err)
	}
	msg, err := row.toMessage()
	if err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

// ListParticipantMessages 按轮次与序号返回会话的全部参与者消息
func (s *Store) ListParticipantMessages(ctx context.Context, conversationID string) ([]*types.ParticipantMessage, error) {
	defer s.timed("select")()

	var rows []ParticipantMessageRow
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("round_number ASC, participant_index ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storeError("list participant messages", err)
	}
	out := make([]*types.ParticipantMessage, 0, len(rows))
	for i := range rows {
		msg, err := rows[i].toMessage()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (r *ParticipantMessageRow) toMessage() (*types.ParticipantMessage, error) {
	var parts []types.Part
	if r.Parts != "" {
		if err := json.Unmarshal([]byte(r.Parts), &parts); err != nil {
			return nil, fmt.Errorf("decode parts of message %s: %w", r.ID, err)
		}
	}
	return &types.ParticipantMessage{
		ID:               r.ID,
		RoundNumber:      r.RoundNumber,
		ParticipantIndex: r.ParticipantIndex,
		ParticipantID:    r.ParticipantID,
		Model:            r.Model,
		Parts:            parts,
		FinishReason:     types.FinishReason(r.FinishReason),
		Usage: types.Usage{
			PromptTokens:     r.PromptTokens,
			CompletionTokens: r.CompletionTokens,
			TotalTokens:      r.TotalTokens,
		},
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

// =============================================================================
// 🔍 搜索与综合记录
// =============================================================================

// SaveSearchRecord 保存（覆盖）搜索记录
func (s *Store) SaveSearchRecord(ctx context.Context, conversationID string, rec round.SearchRecord) error {
	defer s.timed("upsert")()

	row := SearchRecordRow{
		ConversationID: conversationID,
		RoundNumber:    rec.RoundNumber,
		Status:         string(rec.Status),
		Query:          rec.Query,
		Error:          rec.Error,
		TimedOut:       rec.TimedOut,
		CreatedAt:      rec.CreatedAt,
		LastActivityAt: rec.LastActivityAt,
	}
	if rec.Result != nil {
		data, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("marshal search result: %w", err)
		}
		row.Result = string(data)
	}
	err := s.write(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	})
	if err != nil {
		return storeError("save search record", err)
	}
	return nil
}

// ListSearchRecords 返回会话的搜索记录
func (s *Store) ListSearchRecords(ctx context.Context, conversationID string) ([]round.SearchRecord, error) {
	defer s.timed("select")()

	var rows []SearchRecordRow
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).
		Order("round_number ASC").Find(&rows).Error; err != nil {
		return nil, storeError("list search records", err)
	}
	out := make([]round.SearchRecord, 0, len(rows))
	for _, r := range rows {
		rec := round.SearchRecord{
			RoundNumber:    r.RoundNumber,
			Status:         round.Status(r.Status),
			Query:          r.Query,
			Error:          r.Error,
			TimedOut:       r.TimedOut,
			CreatedAt:      r.CreatedAt,
			LastActivityAt: r.LastActivityAt,
		}
		if r.Result != "" {
			rec.Result = &round.SearchResult{}
			if err := json.Unmarshal([]byte(r.Result), rec.Result); err != nil {
				return nil, fmt.Errorf("decode search result of round %d: %w", r.RoundNumber, err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// SaveSynthesisRecord 保存（覆盖）综合记录
func (s *Store) SaveSynthesisRecord(ctx context.Context, conversationID string, rec round.SynthesisRecord) error {
	defer s.timed("upsert")()

	row := SynthesisRecordRow{
		ConversationID: conversationID,
		RoundNumber:    rec.RoundNumber,
		Status:         string(rec.Status),
		ErrorMessage:   rec.ErrorMessage,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
	if rec.Payload != nil {
		data, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("marshal synthesis payload: %w", err)
		}
		row.Payload = string(data)
	}
	if len(rec.Coercions) > 0 {
		data, err := json.Marshal(rec.Coercions)
		if err != nil {
			return fmt.Errorf("marshal coercions: %w", err)
		}
		row.Coercions = string(data)
	}
	err := s.write(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	})
	if err != nil {
		return storeError("save synthesis record", err)
	}
	return nil
}

// ListSynthesisRecords 返回会话的综合记录
func (s *Store) ListSynthesisRecords(ctx context.Context, conversationID string) ([]round.SynthesisRecord, error) {
	defer s.timed("select")()

	var rows []SynthesisRecordRow
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).
		Order("round_number ASC").Find(&rows).Error; err != nil {
		return nil, storeError("list synthesis records", err)
	}
	out := make([]round.SynthesisRecord, 0, len(rows))
	for _, r := range rows {
		rec := round.SynthesisRecord{
			RoundNumber:  r.RoundNumber,
			Status:       round.Status(r.Status),
			ErrorMessage: r.ErrorMessage,
			CreatedAt:    r.CreatedAt,
			UpdatedAt:    r.UpdatedAt,
		}
		if r.Payload != "" {
			rec.Payload = &round.SynthesisPayload{}
			if err := json.Unmarshal([]byte(r.Payload), rec.Payload); err != nil {
				return nil, fmt.Errorf("decode synthesis payload of round %d: %w", r.RoundNumber, err)
			}
		}
		if r.Coercions != "" {
			if err := json.Unmarshal([]byte(r.Coercions), &rec.Coercions); err != nil {
				return nil, fmt.Errorf("decode coercions of round %d: %w", r.RoundNumber, err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
