package stream

import (
	"context"
	"time"

	"github.com/xpanvictor/relay/internal/types"
	"github.com/xpanvictor/relay/pkg/Logger"
)

// ResolveCompletionTokens reconciles the provider-reported usage with the
// local estimate: the provider wins when any of its fields is non-zero,
// preferring the completion field, then total-prompt; an all-zero usage
// object is treated as absent.
func ResolveCompletionTokens(provider *types.Usage, localFallback int) int {
	if provider.Empty() {
		return localFallback
	}
	if provider.CompletionTokens > 0 {
		return provider.CompletionTokens
	}
	if derived := provider.TotalTokens - provider.PromptTokens; derived > 0 {
		return derived
	}
	return localFallback
}

// ComputeStreamMetrics derives latency/throughput numbers, clamping
// out-of-order timestamps so nothing ever goes negative.
func ComputeStreamMetrics(requestStartedAt, firstChunkAt, completedAt time.Time, completionTokens int) types.Metrics {
	if completedAt.Before(requestStartedAt) {
		completedAt = requestStartedAt
	}
	if !firstChunkAt.IsZero() && firstChunkAt.After(completedAt) {
		firstChunkAt = completedAt
	}
	if !firstChunkAt.IsZero() && firstChunkAt.Before(requestStartedAt) {
		firstChunkAt = requestStartedAt
	}

	m := types.Metrics{
		ResponseTimeMs: completedAt.Sub(requestStartedAt).Milliseconds(),
	}

	genWindow := completedAt.Sub(requestStartedAt)
	if !firstChunkAt.IsZero() {
		m.FirstTokenLatencyMs = firstChunkAt.Sub(requestStartedAt).Milliseconds()
		genWindow = completedAt.Sub(firstChunkAt)
	}

	secs := genWindow.Seconds()
	if secs < 1 {
		secs = 1
	}
	m.TokensPerSecond = float64(completionTokens) / secs
	return m
}

// Finalizer reconciles usage, computes metrics and issues the terminal
// persist for one response.
type Finalizer struct {
	store     MessageStore
	tokenizer Tokenizer
	logger    *Logger.Logger
}

func NewFinalizer(store MessageStore, tokenizer Tokenizer, logger *Logger.Logger) *Finalizer {
	return &Finalizer{store: store, tokenizer: tokenizer, logger: logger}
}

// FinalizeInput carries everything the terminal persist needs.
type FinalizeInput struct {
	Progress         *Progress
	Content          string
	Reasoning        string
	Status           types.MessageStatus
	LastError        string
	ProviderUsage    *types.Usage
	PromptText       string
	RequestStartedAt time.Time
	FirstChunkAt     time.Time
	CompletedAt      time.Time
	HistoryLimit     int
}

// Finalize persists the terminal state plus usage and metrics in one logical
// unit, and returns what it resolved for the caller to emit.
func (f *Finalizer) Finalize(ctx context.Context, in FinalizeInput) (*types.Usage, *types.Metrics, error) {
	localEstimate := f.tokenizer.CountTokens(in.Content + in.Reasoning)
	completion := ResolveCompletionTokens(in.ProviderUsage, localEstimate)

	usage := &types.Usage{Source: types.UsageFromProvider}
	if in.ProviderUsage.Empty() {
		usage.Source = types.UsageEstimated
		usage.PromptTokens = f.tokenizer.CountTokens(in.PromptText)
	} else {
		usage.PromptTokens = in.ProviderUsage.PromptTokens
	}
	usage.CompletionTokens = completion
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	completedAt := in.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	metrics := ComputeStreamMetrics(in.RequestStartedAt, in.FirstChunkAt, completedAt, completion)

	rec := FinalRecord{
		MessageID:    in.Progress.MessageID(),
		SessionID:    in.Progress.sessionID,
		Content:      in.Content,
		Reasoning:    in.Reasoning,
		Status:       in.Status,
		LastError:    in.LastError,
		Usage:        usage,
		Metrics:      &metrics,
		HistoryLimit: in.HistoryLimit,
	}
	if err := f.store.PersistFinal(ctx, rec); err != nil {
		return usage, &metrics, err
	}
	return usage, &metrics, nil
}
