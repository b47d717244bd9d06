package stream

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/xpanvictor/relay/internal/domains/compat"
	"github.com/xpanvictor/relay/internal/types"
	"github.com/xpanvictor/relay/pkg/provider"
)

func fallbackRequest() provider.CallRequest {
	return provider.CallRequest{
		Protocol: compat.ProtocolChat,
		Model:    "gpt-test",
		Messages: []types.ChatMessage{{Role: types.USER, Content: "hi"}},
	}
}

func TestFallbackRecoversContent(t *testing.T) {
	caller := &fakeCaller{handler: func(_ context.Context, _ int, d *provider.Descriptor) (*http.Response, error) {
		if strings.Contains(string(d.Body), `"stream":true`) {
			t.Error("fallback must not request streaming")
		}
		return sseResponse(200, `{"choices":[{"message":{"content":"answer","reasoning_content":"why"}}]}`), nil
	}}
	fb := NewFallback(caller, testLogger())

	n, err := fb.Run(context.Background(), provider.Connection{BaseURL: "https://up.example/v1"}, fallbackRequest())
	if err != nil {
		t.Fatal(err)
	}
	if n.Content != "answer" || n.Reasoning != "why" {
		t.Errorf("normalized = %+v", n)
	}
}

func TestFallbackNonOKStatus(t *testing.T) {
	caller := &fakeCaller{handler: func(_ context.Context, _ int, _ *provider.Descriptor) (*http.Response, error) {
		return sseResponse(503, "overloaded"), nil
	}}
	fb := NewFallback(caller, testLogger())

	_, err := fb.Run(context.Background(), provider.Connection{BaseURL: "https://up.example/v1"}, fallbackRequest())
	if err == nil || !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "overloaded") {
		t.Errorf("err = %v", err)
	}
}

func TestFallbackEmptyBodyAndEmptyContent(t *testing.T) {
	bodies := []string{"", `{"choices":[{"message":{"content":""}}]}`}
	for _, body := range bodies {
		b := body
		caller := &fakeCaller{handler: func(_ context.Context, _ int, _ *provider.Descriptor) (*http.Response, error) {
			return sseResponse(200, b), nil
		}}
		fb := NewFallback(caller, testLogger())

		_, err := fb.Run(context.Background(), provider.Connection{BaseURL: "https://up.example/v1"}, fallbackRequest())
		if !errors.Is(err, ErrFallbackEmpty) {
			t.Errorf("body %q: err = %v, want ErrFallbackEmpty", b, err)
		}
	}
}

func TestFallbackCallerError(t *testing.T) {
	boom := errors.New("dial refused")
	caller := &fakeCaller{handler: func(_ context.Context, _ int, _ *provider.Descriptor) (*http.Response, error) {
		return nil, boom
	}}
	fb := NewFallback(caller, testLogger())

	if _, err := fb.Run(context.Background(), provider.Connection{BaseURL: "https://up.example/v1"}, fallbackRequest()); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}
