package stream

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/relay/internal/config"
	"github.com/xpanvictor/relay/internal/types"
	"github.com/xpanvictor/relay/pkg/Logger"
)

// Progress snapshots partial content/reasoning to the message store at a
// throttled cadence. A missing target row is recovered by re-upserting on
// the client id and retargeting later writes to the new identity.
type Progress struct {
	store     MessageStore
	cfg       config.StreamConfig
	logger    *Logger.Logger
	sessionID uuid.UUID
	clientID  string

	messageID        uint
	lastContentLen   int
	lastReasoningLen int
	lastWrite        time.Time
}

func NewProgress(store MessageStore, cfg config.StreamConfig, sessionID uuid.UUID, clientID string, messageID uint, logger *Logger.Logger) *Progress {
	return &Progress{
		store:     store,
		cfg:       cfg,
		logger:    logger,
		sessionID: sessionID,
		clientID:  clientID,
		messageID: messageID,
		lastWrite: time.Now(),
	}
}

// MessageID reports the current target row; it can move after recovery.
func (p *Progress) MessageID() uint {
	return p.messageID
}

// Persist writes the snapshot when it clears the throttle, or always when
// forced. Terminal statuses force regardless of delta size. Returns the
// (possibly retargeted) message id.
func (p *Progress) Persist(ctx context.Context, content, reasoning string, status types.MessageStatus, lastError string) (uint, error) {
	return p.persist(ctx, content, reasoning, status, lastError, status.Terminal())
}

// PersistForced bypasses the throttle for non-terminal snapshots, such as a
// heartbeat-driven flush.
func (p *Progress) PersistForced(ctx context.Context, content, reasoning string, status types.MessageStatus, lastError string) (uint, error) {
	return p.persist(ctx, content, reasoning, status, lastError, true)
}

func (p *Progress) persist(ctx context.Context, content, reasoning string, status types.MessageStatus, lastError string, force bool) (uint, error) {
	if !force && !p.shouldWrite(content, reasoning) {
		return p.messageID, nil
	}

	msg := AssistantMessage{
		ID:        p.messageID,
		SessionID: p.sessionID,
		ClientID:  p.clientID,
		Content:   content,
		Reasoning: reasoning,
		Status:    status,
		LastError: lastError,
	}
	if !p.cfg.SaveReasoning {
		msg.Reasoning = ""
	}

	err := p.store.UpdateProgress(ctx, msg)
	if errors.Is(err, ErrRecordMissing) {
		recovered, uerr := p.store.UpsertByClientID(ctx, msg)
		if uerr != nil {
			return p.messageID, uerr
		}
		p.logger.Warnf("progress target vanished, recovered as %d (was %d)", recovered.ID, p.messageID)
		p.messageID = recovered.ID
		err = nil
	}
	if err != nil {
		return p.messageID, err
	}

	p.lastContentLen = len(content)
	p.lastReasoningLen = len(reasoning)
	p.lastWrite = time.Now()
	return p.messageID, nil
}

// shouldWrite applies the throttle: minimum content delta, minimum reasoning
// delta (only when reasoning is saved), or elapsed interval.
func (p *Progress) shouldWrite(content, reasoning string) bool {
	min := p.cfg.MinPersistDelta()
	if len(content)-p.lastContentLen >= min {
		return true
	}
	if p.cfg.SaveReasoning && len(reasoning)-p.lastReasoningLen >= min {
		return true
	}
	return time.Since(p.lastWrite) >= p.cfg.PersistInterval()
}
