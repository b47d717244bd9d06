// Package compat learns, per (provider, connection, model) triple, which
// upstream wire protocol actually yields reasoning content, and falls back
// when the chosen protocol errors.
package compat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xpanvictor/relay/pkg/Logger"
)

var (
	ErrAttemptFinalized = errors.New("attempt already finalized")
)

type CompatService interface {
	DecideProtocol(key ProfileKey, reasoningEnabled bool, traits ProviderTraits) Decision
	CreateAttempt(key ProfileKey, d Decision, reasoningEnabled bool) *Attempt
	FinalizeAttempt(ctx context.Context, a *Attempt, status int, callErr error) (*Profile, error)
	BuildUnavailableNotice(a *Attempt) *UnavailableNotice
	Snapshot(key ProfileKey) *Profile
	Flush(ctx context.Context)
	Close()
}

type compatService struct {
	mu       sync.Mutex
	profiles map[string]*Profile
	capacity int
	store    ProfileStore
	flusher  *flusher
	logger   *Logger.Logger
}

func New(store ProfileStore, capacity int, debounce time.Duration, logger *Logger.Logger) CompatService {
	s := &compatService{
		profiles: make(map[string]*Profile),
		capacity: capacity,
		store:    store,
		logger:   logger,
	}
	s.flusher = newFlusher(s.collectDirty, debounce, logger)
	return s
}

// profile returns the cached profile for key, loading or creating it lazily.
// Caller must hold mu.
func (s *compatService) profile(ctx context.Context, key ProfileKey) *Profile {
	if p, ok := s.profiles[key.String()]; ok {
		return p
	}
	p := &Profile{Key: key}
	if s.store != nil {
		if stored, err := s.store.Load(ctx, key); err == nil && stored != nil {
			p = stored
		}
	}
	s.profiles[key.String()] = p
	s.evictOverCap()
	return p
}

// evictOverCap drops the least recently updated profiles beyond capacity.
// Caller must hold mu.
func (s *compatService) evictOverCap() {
	if s.capacity <= 0 || len(s.profiles) <= s.capacity {
		return
	}
	keys := make([]string, 0, len(s.profiles))
	for k := range s.profiles {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return s.profiles[keys[i]].UpdatedAt.Before(s.profiles[keys[j]].UpdatedAt)
	})
	for _, k := range keys[:len(s.profiles)-s.capacity] {
		delete(s.profiles, k)
	}
}

// DecideProtocol applies the policy rules in order; first match wins.
func (s *compatService) DecideProtocol(key ProfileKey, reasoningEnabled bool, traits ProviderTraits) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profile(context.Background(), key)

	d := decide(p, reasoningEnabled, traits)
	p.LastDecisionReason = d.Reason
	return d
}

func decide(p *Profile, reasoningEnabled bool, traits ProviderTraits) Decision {
	switch {
	case !reasoningEnabled:
		return Decision{ProtocolChat, ReasonReasoningDisabled}
	case traits.ResponsesOnly:
		return Decision{ProtocolResponses, ReasonProviderResponsesOnly}
	case traits.Pinned:
		return Decision{ProtocolChat, ReasonProviderPinned}
	case p.Responses.UnsupportedErrors > 0:
		return Decision{ProtocolChat, ReasonResponsesUnsupported}
	case p.Responses.ReasoningHits > 0:
		return Decision{ProtocolResponses, ReasonResponsesHasHistory}
	case p.Chat.Attempts >= 2 && p.Chat.ReasoningHits == 0 && p.Responses.Attempts == 0:
		// One exploration per profile lifetime: once responses has been
		// attempted the Attempts counter stays non-zero, so this rule
		// cannot re-fire until the profile is externally reset.
		return Decision{ProtocolResponses, ReasonExploreResponses}
	default:
		return Decision{ProtocolChat, ReasonDefaultChat}
	}
}

func (s *compatService) CreateAttempt(key ProfileKey, d Decision, reasoningEnabled bool) *Attempt {
	return &Attempt{
		Key:              key,
		Protocol:         d.Protocol,
		ReasoningEnabled: reasoningEnabled,
		StartedAt:        time.Now(),
		Reason:           d.Reason,
		ForcedFallback:   d.Reason == ReasonResponsesUnsupported && d.Protocol == ProtocolChat,
	}
}

// FinalizeAttempt folds the attempt into its profile and schedules a
// debounced persist. It returns a snapshot of the updated profile.
func (s *compatService) FinalizeAttempt(ctx context.Context, a *Attempt, status int, callErr error) (*Profile, error) {
	if a == nil {
		return nil, nil
	}
	if a.finalized {
		return nil, ErrAttemptFinalized
	}
	a.finalized = true

	s.mu.Lock()
	p := s.profile(ctx, a.Key)
	st := p.stats(a.Protocol)
	st.Attempts++
	if a.SawReasoning {
		st.ReasoningHits++
	}
	if callErr != nil {
		st.TotalErrors++
		st.LastError = callErr.Error()
	}
	if status != 0 {
		st.LastStatus = status
	}
	if a.Protocol == ProtocolResponses && IsUnsupportedResponses(status, errText(callErr)) {
		st.UnsupportedErrors++
	}
	if names := a.signalNames(); names != nil {
		st.LastSignals = names
	}
	p.UpdatedAt = time.Now()
	snap := p.Clone()
	s.mu.Unlock()

	s.flusher.MarkDirty(a.Key.String())
	return snap, nil
}

// BuildUnavailableNotice classifies why an attempt that requested reasoning
// produced none. Returns nil when reasoning was observed or never wanted.
func (s *compatService) BuildUnavailableNotice(a *Attempt) *UnavailableNotice {
	if a == nil || !a.ReasoningEnabled || a.SawReasoning {
		return nil
	}

	s.mu.Lock()
	p := s.profile(context.Background(), a.Key)
	unsupported := p.Responses.UnsupportedErrors > 0
	s.mu.Unlock()

	var n *UnavailableNotice
	switch {
	case a.Protocol == ProtocolResponses && unsupported:
		n = &UnavailableNotice{
			Code:       NoticeResponsesUnsupported,
			Reason:     "the provider does not expose the structured response endpoint for this model",
			Suggestion: "check the provider base URL, or pick a model that supports the responses endpoint",
		}
	case a.Protocol == ProtocolResponses:
		n = &UnavailableNotice{
			Code:       NoticeResponsesNoReasoning,
			Reason:     "the structured response endpoint answered but emitted no reasoning events",
			Suggestion: "the model may not produce reasoning; try a reasoning-capable model",
		}
	case a.ForcedFallback:
		n = &UnavailableNotice{
			Code:       NoticeChatAfterFallback,
			Reason:     "fell back to the chat endpoint after the responses endpoint was rejected",
			Suggestion: "reasoning may still appear as tagged text on the chat endpoint",
		}
	default:
		n = &UnavailableNotice{
			Code:       NoticeChatNoReasoning,
			Reason:     "the chat endpoint returned no reasoning content for this model",
			Suggestion: "the model may hide its reasoning, or a provider update may be required",
		}
	}

	s.mu.Lock()
	p.LastNotice = n
	s.mu.Unlock()
	return n
}

func (s *compatService) Snapshot(key ProfileKey) *Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[key.String()]; ok {
		return p.Clone()
	}
	return nil
}

func (s *compatService) collectDirty(ctx context.Context, keys []string) {
	if s.store == nil {
		return
	}
	for _, k := range keys {
		s.mu.Lock()
		p, ok := s.profiles[k]
		var snap *Profile
		if ok {
			snap = p.Clone()
		}
		s.mu.Unlock()
		if snap == nil {
			continue
		}
		if err := s.store.Save(ctx, snap); err != nil {
			s.logger.Errorf("persist profile %v: %v", k, err)
		}
	}
	if err := s.store.Trim(ctx, s.capacity); err != nil {
		s.logger.Errorf("trim profile store: %v", err)
	}
}

// Flush forces an immediate drain of pending profile writes.
func (s *compatService) Flush(ctx context.Context) {
	s.flusher.Flush(ctx)
}

func (s *compatService) Close() {
	s.flusher.Close()
}

// IsUnsupportedResponses reports whether a status/body pair marks the
// structured response endpoint as not implemented by the upstream.
func IsUnsupportedResponses(status int, body string) bool {
	switch status {
	case 404, 405, 501:
		return true
	case 400:
		b := strings.ToLower(body)
		return strings.Contains(b, "unknown endpoint") ||
			strings.Contains(b, "/responses not found") ||
			strings.Contains(b, "unsupported endpoint")
	}
	return false
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
