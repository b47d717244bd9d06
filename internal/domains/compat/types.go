package compat

import (
	"fmt"
	"time"
)

// Protocol is one of the two upstream streaming wire formats.
type Protocol string

const (
	// ProtocolChat is the conventional chat-completion delta stream.
	ProtocolChat Protocol = "chat_completions"
	// ProtocolResponses is the structured response event stream.
	ProtocolResponses Protocol = "responses"
)

// Signal names one kind of observed reasoning evidence during a live call.
type Signal string

const (
	SignalReasoningDelta   Signal = "reasoning_delta"
	SignalReasoningSummary Signal = "reasoning_summary"
	SignalTaggedThinking   Signal = "tagged_thinking"
	SignalReasoningField   Signal = "reasoning_field"
)

// Decision reasons, stable strings surfaced in profiles and logs.
const (
	ReasonReasoningDisabled     = "reasoning_disabled"
	ReasonProviderResponsesOnly = "provider_responses_only"
	ReasonProviderPinned        = "provider_protocol_pinned"
	ReasonResponsesUnsupported  = "responses_marked_unsupported"
	ReasonResponsesHasHistory   = "responses_has_reasoning_history"
	ReasonExploreResponses      = "chat_missed_reasoning_try_responses"
	ReasonDefaultChat           = "default_chat"
)

// Notice codes for the reasoning-unavailable advisory.
const (
	NoticeResponsesUnsupported = "responses_unsupported"
	NoticeResponsesNoReasoning = "responses_no_reasoning"
	NoticeChatAfterFallback    = "chat_after_responses_fallback"
	NoticeChatNoReasoning      = "chat_no_reasoning"
)

// ProfileKey identifies one learned profile.
type ProfileKey struct {
	Provider     string `json:"provider"`
	ConnectionID string `json:"connectionId"`
	ModelID      string `json:"modelId"`
}

func (k ProfileKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Provider, k.ConnectionID, k.ModelID)
}

// ProtocolStats is the per-protocol counter block of a profile.
// Counters only grow for the lifetime of the profile.
type ProtocolStats struct {
	Attempts          int      `json:"attempts"`
	ReasoningHits     int      `json:"reasoningHits"`
	UnsupportedErrors int      `json:"unsupportedErrors"`
	TotalErrors       int      `json:"totalErrors"`
	LastStatus        int      `json:"lastStatus,omitempty"`
	LastError         string   `json:"lastError,omitempty"`
	LastSignals       []string `json:"lastSignals,omitempty"`
}

// UnavailableNotice is the user-facing advisory built when a call that asked
// for reasoning never observed any.
type UnavailableNotice struct {
	Code       string `json:"code"`
	Reason     string `json:"reason"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Profile is the learned record for one (provider, connection, model) triple.
type Profile struct {
	Key                ProfileKey         `json:"key"`
	Chat               ProtocolStats      `json:"chatCompletions"`
	Responses          ProtocolStats      `json:"responses"`
	LastDecisionReason string             `json:"lastDecisionReason,omitempty"`
	LastNotice         *UnavailableNotice `json:"lastNotice,omitempty"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

func (p *Profile) stats(proto Protocol) *ProtocolStats {
	if proto == ProtocolResponses {
		return &p.Responses
	}
	return &p.Chat
}

// Clone returns a snapshot safe to hand outside the engine.
func (p *Profile) Clone() *Profile {
	cp := *p
	if p.LastNotice != nil {
		n := *p.LastNotice
		cp.LastNotice = &n
	}
	cp.Chat.LastSignals = append([]string(nil), p.Chat.LastSignals...)
	cp.Responses.LastSignals = append([]string(nil), p.Responses.LastSignals...)
	return &cp
}

// ProviderTraits describes fixed capabilities of a provider family.
type ProviderTraits struct {
	// ResponsesOnly providers speak the structured protocol exclusively.
	ResponsesOnly bool
	// Pinned providers cannot switch protocols and always take chat.
	Pinned bool
}

// Decision is the outcome of one DecideProtocol call.
type Decision struct {
	Protocol Protocol
	Reason   string
}

// Attempt is the observation window of one live provider call. It is created
// at call start and consumed exactly once by FinalizeAttempt.
type Attempt struct {
	Key              ProfileKey
	Protocol         Protocol
	ReasoningEnabled bool
	StartedAt        time.Time
	Signals          map[Signal]struct{}
	SawReasoning     bool
	Reason           string
	// ForcedFallback marks an attempt created by the mid-request B→A retry.
	ForcedFallback bool

	finalized bool
}

// MarkSignal records one piece of reasoning evidence.
func (a *Attempt) MarkSignal(s Signal) {
	if a.Signals == nil {
		a.Signals = make(map[Signal]struct{})
	}
	a.Signals[s] = struct{}{}
}

// MarkReasoningObserved flags that actual reasoning text arrived.
func (a *Attempt) MarkReasoningObserved(s Signal) {
	a.SawReasoning = true
	a.MarkSignal(s)
}

func (a *Attempt) signalNames() []string {
	if len(a.Signals) == 0 {
		return nil
	}
	out := make([]string, 0, len(a.Signals))
	for s := range a.Signals {
		out = append(out, string(s))
	}
	return out
}
