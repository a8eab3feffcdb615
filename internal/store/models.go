package store

import (
	"time"
)

// ParticipantMessageRow 参与者最终消息
// (conversation_id, round_number, participant_index) 唯一，重复保存即覆盖
type ParticipantMessageRow struct {
	ID               string    `gorm:"primaryKey;size:64" json:"id"`
	ConversationID   string    `gorm:"size:128;not null;uniqueIndex:idx_pm_slot,priority:1" json:"conversation_id"`
	RoundNumber      int       `gorm:"not null;uniqueIndex:idx_pm_slot,priority:2" json:"round_number"`
	ParticipantIndex int       `gorm:"not null;uniqueIndex:idx_pm_slot,priority:3" json:"participant_index"`
	ParticipantID    string    `gorm:"size:128" json:"participant_id"`
	Model            string    `gorm:"size:100" json:"model"`
	Parts            string    `gorm:"type:text" json:"parts"` // JSON 编码的 []types.Part
	FinishReason     string    `gorm:"size:16" json:"finish_reason"`
	PromptTokens     int       `gorm:"default:0" json:"prompt_tokens"`
	CompletionTokens int       `gorm:"default:0" json:"completion_tokens"`
	TotalTokens      int       `gorm:"default:0" json:"total_tokens"`
	ErrorMessage     string    `gorm:"type:text" json:"error_message"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName 指定表名
func (ParticipantMessageRow) TableName() string { return "round_participant_messages" }

// SearchRecordRow 搜索阶段记录
type SearchRecordRow struct {
	ConversationID string    `gorm:"primaryKey;size:128" json:"conversation_id"`
	RoundNumber    int       `gorm:"primaryKey;autoIncrement:false" json:"round_number"`
	Status         string    `gorm:"size:16;not null" json:"status"`
	Query          string    `gorm:"type:text" json:"query"`
	Result         string    `gorm:"type:text" json:"result"` // JSON 编码的 round.SearchResult
	Error          string    `gorm:"type:text" json:"error"`
	TimedOut       bool      `gorm:"default:false" json:"timed_out"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// TableName 指定表名
func (SearchRecordRow) TableName() string { return "round_search_records" }

// SynthesisRecordRow 综合阶段记录
type SynthesisRecordRow struct {
	ConversationID string    `gorm:"primaryKey;size:128" json:"conversation_id"`
	RoundNumber    int       `gorm:"primaryKey;autoIncrement:false" json:"round_number"`
	Status         string    `gorm:"size:16;not null" json:"status"`
	Payload        string    `gorm:"type:text" json:"payload"`   // JSON 编码的 round.SynthesisPayload
	Coercions      string    `gorm:"type:text" json:"coercions"` // JSON 编码的 []round.Coercion
	ErrorMessage   string    `gorm:"type:text" json:"error_message"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName 指定表名
func (SynthesisRecordRow) TableName() string { return "round_synthesis_records" }

// Models 返回需要迁移的全部模型
func Models() []any {
	return []any{&ParticipantMessageRow{}, &SearchRecordRow{}, &SynthesisRecordRow{}}
}
