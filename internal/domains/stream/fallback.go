package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/xpanvictor/relay/pkg/Logger"
	"github.com/xpanvictor/relay/pkg/provider"
)

var (
	// ErrFallbackEmpty is returned when the non-stream reissue produced no
	// usable text; the caller surfaces the original stream error instead.
	ErrFallbackEmpty = errors.New("non-stream fallback returned no content")
)

// Fallback reissues the logical request without streaming when the stream
// produced nothing usable, and normalizes the reply so downstream consumers
// cannot tell fallback output from a genuinely short stream.
type Fallback struct {
	caller provider.Caller
	logger *Logger.Logger
}

func NewFallback(caller provider.Caller, logger *Logger.Logger) *Fallback {
	return &Fallback{caller: caller, logger: logger}
}

// Run issues the single non-streaming request. A non-2xx status or an empty
// body is a fallback failure, never retried.
func (f *Fallback) Run(ctx context.Context, conn provider.Connection, req provider.CallRequest) (*provider.Normalized, error) {
	req.Stream = false
	desc, err := provider.BuildDescriptor(conn, req)
	if err != nil {
		return nil, err
	}

	resp, err := f.caller.Do(ctx, desc)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fallback status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if len(body) == 0 {
		return nil, ErrFallbackEmpty
	}

	n, err := provider.NormalizeCompletion(body)
	if err != nil {
		return nil, fmt.Errorf("fallback normalize: %w", err)
	}
	if n.Content == "" && n.Reasoning == "" {
		return nil, ErrFallbackEmpty
	}
	f.logger.Infof("non-stream fallback recovered %d bytes of content", len(n.Content))
	return n, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
