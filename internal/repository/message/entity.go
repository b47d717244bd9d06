package message

import (
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/relay/internal/domains/stream"
	"github.com/xpanvictor/relay/internal/types"
	"gorm.io/gorm"
)

type AssistantMessageEntity struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	SessionID uuid.UUID `gorm:"column:session_id;type:char(36);index;not null"`
	ClientID  string    `gorm:"column:client_id;type:varchar(64);uniqueIndex;not null"`

	Content   string `gorm:"type:longtext"`
	Reasoning string `gorm:"type:longtext"`
	Status    string `gorm:"type:varchar(16);index"`
	LastError string `gorm:"type:text"`

	CreatedAt time.Time      `gorm:"autoCreateTime(3)"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime(3)"`
	DeletedAt gorm.DeletedAt `gorm:"index"` // For soft delete
}

// MessageUsageEntity holds the reconciled usage and timing numbers for one
// terminal assistant message. One row per message.
type MessageUsageEntity struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	MessageID uint `gorm:"column:message_id;uniqueIndex;not null"`

	PromptTokens     int    `gorm:"column:prompt_tokens"`
	CompletionTokens int    `gorm:"column:completion_tokens"`
	TotalTokens      int    `gorm:"column:total_tokens"`
	Source           string `gorm:"type:varchar(16)"`

	ResponseTimeMs      int64   `gorm:"column:response_time_ms"`
	FirstTokenLatencyMs int64   `gorm:"column:first_token_latency_ms"`
	TokensPerSecond     float64 `gorm:"column:tokens_per_second"`

	CreatedAt time.Time `gorm:"autoCreateTime(3)"`
	UpdatedAt time.Time `gorm:"autoUpdateTime(3)"`
}

func (e *AssistantMessageEntity) FromDomain(m stream.AssistantMessage) {
	e.ID = m.ID
	e.SessionID = m.SessionID
	e.ClientID = m.ClientID
	e.Content = m.Content
	e.Reasoning = m.Reasoning
	e.Status = string(m.Status)
	e.LastError = m.LastError
}

func (e *AssistantMessageEntity) ToDomain() *stream.AssistantMessage {
	return &stream.AssistantMessage{
		ID:        e.ID,
		SessionID: e.SessionID,
		ClientID:  e.ClientID,
		Content:   e.Content,
		Reasoning: e.Reasoning,
		Status:    types.MessageStatus(e.Status),
		LastError: e.LastError,
	}
}

func (u *MessageUsageEntity) FromFinal(rec stream.FinalRecord) {
	u.MessageID = rec.MessageID
	if rec.Usage != nil {
		u.PromptTokens = rec.Usage.PromptTokens
		u.CompletionTokens = rec.Usage.CompletionTokens
		u.TotalTokens = rec.Usage.TotalTokens
		u.Source = string(rec.Usage.Source)
	}
	if rec.Metrics != nil {
		u.ResponseTimeMs = rec.Metrics.ResponseTimeMs
		u.FirstTokenLatencyMs = rec.Metrics.FirstTokenLatencyMs
		u.TokensPerSecond = rec.Metrics.TokensPerSecond
	}
}
