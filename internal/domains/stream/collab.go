package stream

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/xpanvictor/relay/internal/types"
)

// ErrRecordMissing is the store-level signal that a progress write targeted a
// row that no longer exists; the persister recovers with an upsert.
var ErrRecordMissing = errors.New("assistant message record missing")

// AssistantMessage is the broker's view of the assistant message row.
type AssistantMessage struct {
	ID        uint
	SessionID uuid.UUID
	ClientID  string
	Content   string
	Reasoning string
	Status    types.MessageStatus
	LastError string
}

// FinalRecord is what Finalize persists in one logical unit.
type FinalRecord struct {
	MessageID uint
	SessionID uuid.UUID
	Content   string
	Reasoning string
	Status    types.MessageStatus
	LastError string
	Usage     *types.Usage
	Metrics   *types.Metrics
	// HistoryLimit trims older reply variants beyond this count.
	HistoryLimit int
}

// MessageStore is the durable message collaborator. Implementations live in
// internal/repository/message.
type MessageStore interface {
	// UpsertByClientID creates or refreshes the assistant row keyed by the
	// client-supplied identifier and returns its identity.
	UpsertByClientID(ctx context.Context, msg AssistantMessage) (*AssistantMessage, error)
	// UpdateProgress writes partial content/reasoning/status; returns
	// ErrRecordMissing when the target row is gone.
	UpdateProgress(ctx context.Context, msg AssistantMessage) error
	// PersistFinal writes terminal content, usage and metrics transactionally
	// and trims reply variants beyond the history limit. Blank content never
	// overwrites what is already stored.
	PersistFinal(ctx context.Context, rec FinalRecord) error
}

// Tokenizer is the fallback token estimator collaborator.
type Tokenizer interface {
	CountTokens(text string) int
}

// HeuristicTokenizer approximates BPE token counts from byte length. Used
// only when the provider reports no usage.
type HeuristicTokenizer struct{}

func (HeuristicTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	// ~4 bytes per token holds across the model families we broker
	n := (len(text) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}
