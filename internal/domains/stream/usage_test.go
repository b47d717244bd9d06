package stream

import (
	"testing"
	"time"

	"github.com/xpanvictor/relay/internal/types"
)

func TestResolveCompletionTokens(t *testing.T) {
	cases := []struct {
		name     string
		provider *types.Usage
		fallback int
		want     int
	}{
		{"nil provider", nil, 7, 7},
		{"all zero provider", &types.Usage{}, 7, 7},
		{"completion field wins", &types.Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8}, 7, 5},
		{"derived from total minus prompt", &types.Usage{PromptTokens: 3, TotalTokens: 10}, 99, 7},
		{"only total", &types.Usage{TotalTokens: 9}, 7, 9},
	}

	for _, c := range cases {
		if got := ResolveCompletionTokens(c.provider, c.fallback); got != c.want {
			t.Errorf("%s: got %d, want %d", c.name, got, c.want)
		}
	}
}

func TestComputeStreamMetricsNeverNegative(t *testing.T) {
	start := time.Now()
	// completed before start, first chunk after completed: fully inverted
	m := ComputeStreamMetrics(start, start.Add(2*time.Second), start.Add(-time.Second), 10)
	if m.ResponseTimeMs < 0 || m.FirstTokenLatencyMs < 0 {
		t.Errorf("negative metrics: %+v", m)
	}
}

func TestComputeStreamMetrics(t *testing.T) {
	start := time.Now()
	first := start.Add(500 * time.Millisecond)
	done := start.Add(2500 * time.Millisecond)

	m := ComputeStreamMetrics(start, first, done, 100)
	if m.ResponseTimeMs != 2500 {
		t.Errorf("responseTimeMs = %d", m.ResponseTimeMs)
	}
	if m.FirstTokenLatencyMs != 500 {
		t.Errorf("firstTokenLatencyMs = %d", m.FirstTokenLatencyMs)
	}
	// 100 tokens over 2s of generation
	if m.TokensPerSecond < 49 || m.TokensPerSecond > 51 {
		t.Errorf("tokensPerSecond = %f", m.TokensPerSecond)
	}
}

func TestComputeStreamMetricsNoFirstChunk(t *testing.T) {
	start := time.Now()
	done := start.Add(4 * time.Second)
	m := ComputeStreamMetrics(start, time.Time{}, done, 8)
	if m.FirstTokenLatencyMs != 0 {
		t.Errorf("firstTokenLatencyMs = %d, want 0 without a first chunk", m.FirstTokenLatencyMs)
	}
	// full response window is the fallback divisor
	if m.TokensPerSecond < 1.9 || m.TokensPerSecond > 2.1 {
		t.Errorf("tokensPerSecond = %f", m.TokensPerSecond)
	}
}

func TestComputeStreamMetricsSubSecondClampsToOne(t *testing.T) {
	start := time.Now()
	m := ComputeStreamMetrics(start, start.Add(10*time.Millisecond), start.Add(200*time.Millisecond), 50)
	// divisor clamps to one second
	if m.TokensPerSecond != 50 {
		t.Errorf("tokensPerSecond = %f, want 50", m.TokensPerSecond)
	}
}

func TestHeuristicTokenizer(t *testing.T) {
	tok := HeuristicTokenizer{}
	if got := tok.CountTokens(""); got != 0 {
		t.Errorf("empty text = %d tokens", got)
	}
	if got := tok.CountTokens("abcd"); got != 1 {
		t.Errorf("4 bytes = %d tokens", got)
	}
	if got := tok.CountTokens("abcdefgh"); got != 2 {
		t.Errorf("8 bytes = %d tokens", got)
	}
}
