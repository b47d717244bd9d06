package types

import (
	"time"

	"github.com/google/uuid"
)

type MsgRole string

const (
	USER      MsgRole = "user"
	ASSISTANT MsgRole = "assistant"
	SYSTEM    MsgRole = "system"
)

// ChatMessage is one turn of the session history handed to a provider call.
type ChatMessage struct {
	Role      MsgRole   `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

type ActorType string

const (
	ActorUser      ActorType = "user"
	ActorAnonymous ActorType = "anonymous"
	ActorService   ActorType = "service"
)

// Actor is the resolved caller identity. Resolution itself is an external
// collaborator concern; the core only keys state off it.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Type ActorType `json:"type"`
}

// Session is the slice of a chat session the streaming core reads.
type Session struct {
	ID           uuid.UUID     `json:"id"`
	ConnectionID string        `json:"connectionId"`
	Provider     string        `json:"provider"`
	ModelID      string        `json:"modelId"`
	History      []ChatMessage `json:"history"`
}

type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusStreaming MessageStatus = "streaming"
	StatusDone      MessageStatus = "done"
	StatusError     MessageStatus = "error"
	StatusCancelled MessageStatus = "cancelled"
)

func (s MessageStatus) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCancelled
}

// EventType enumerates the SSE event vocabulary the broker emits.
type EventType string

const (
	EventStart                EventType = "start"
	EventQuota                EventType = "quota"
	EventUsage                EventType = "usage"
	EventContent              EventType = "content"
	EventReasoning            EventType = "reasoning"
	EventStop                 EventType = "stop"
	EventEnd                  EventType = "end"
	EventComplete             EventType = "complete"
	EventError                EventType = "error"
	EventReasoningUnavailable EventType = "reasoning_unavailable"
	EventKeepalive            EventType = "keepalive"
)

// StreamEvent is one `data:` line on the outbound SSE channel.
type StreamEvent struct {
	Type      EventType `json:"type"`
	MessageID *uint     `json:"messageId,omitempty"`
	Delta     string    `json:"delta,omitempty"`
	Content   string    `json:"content,omitempty"`
	Reasoning string    `json:"reasoning,omitempty"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	Usage     *Usage    `json:"usage,omitempty"`
	Metrics   *Metrics  `json:"metrics,omitempty"`
}

type UsageSource string

const (
	UsageFromProvider UsageSource = "provider"
	UsageEstimated    UsageSource = "estimated"
)

// Usage is the reconciled token accounting for one response.
type Usage struct {
	PromptTokens     int         `json:"promptTokens"`
	CompletionTokens int         `json:"completionTokens"`
	TotalTokens      int         `json:"totalTokens"`
	Source           UsageSource `json:"source,omitempty"`
}

func (u *Usage) Empty() bool {
	return u == nil || (u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0)
}

// Metrics is the latency/throughput record persisted with the final message.
type Metrics struct {
	ResponseTimeMs      int64   `json:"responseTimeMs"`
	FirstTokenLatencyMs int64   `json:"firstTokenLatencyMs"`
	TokensPerSecond     float64 `json:"tokensPerSecond"`
}
